package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/robertodauria/speedcheck/pkg/speedtest/spec"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServer           = "http://localhost:8080"
	DefaultRequestTimeout   = 0
	DefaultProgressInterval = spec.MinProgressInterval
)

var ErrInvalidConfig = errors.New("invalid configuration")

// PhaseConfig configures a download or upload phase.
type PhaseConfig struct {
	// The wall-clock Duration of the phase.
	Duration time.Duration `yaml:"duration"`

	// The number of concurrent Streams.
	Streams int `yaml:"streams"`

	// The Size in bytes of a single request (download) or payload (upload).
	Size int64 `yaml:"size"`
}

type ClientConfig struct {
	// The base URL of the Server.
	Server string `yaml:"server"`

	// The number of LatencySamples averaged by the latency probe.
	LatencySamples int `yaml:"latency_samples"`

	// The minimum interval between progress samples.
	ProgressInterval time.Duration `yaml:"progress_interval"`

	// RequestTimeout bounds a single transfer. Zero disables it, so that a
	// request can last up to the phase deadline.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Download PhaseConfig `yaml:"download"`
	Upload   PhaseConfig `yaml:"upload"`
}

func New(server string, download, upload PhaseConfig) *ClientConfig {
	return &ClientConfig{
		Server:           server,
		LatencySamples:   spec.DefaultLatencySamples,
		ProgressInterval: DefaultProgressInterval,
		RequestTimeout:   DefaultRequestTimeout,
		Download:         download,
		Upload:           upload,
	}
}

func NewDefault() *ClientConfig {
	return New(DefaultServer,
		PhaseConfig{
			Duration: spec.DefaultDownloadDuration,
			Streams:  spec.DefaultDownloadStreams,
			Size:     spec.DefaultDownloadSizeMiB * spec.MiB,
		},
		PhaseConfig{
			Duration: spec.DefaultUploadDuration,
			Streams:  spec.DefaultUploadStreams,
			Size:     spec.DefaultUploadSize,
		})
}

// Load reads a YAML configuration file. Fields missing from the file keep
// their default value.
func Load(path string) (*ClientConfig, error) {
	cfg := NewDefault()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can drive a run.
func (c *ClientConfig) Validate() error {
	if c.Server == "" {
		return errors.Wrap(ErrInvalidConfig, "server must not be empty")
	}
	if c.LatencySamples <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "latency_samples must be positive, got %d", c.LatencySamples)
	}
	if c.ProgressInterval < 0 || c.RequestTimeout < 0 {
		return errors.Wrap(ErrInvalidConfig, "intervals must not be negative")
	}
	if err := c.Download.validate("download"); err != nil {
		return err
	}
	if c.Download.Size%spec.MiB != 0 || c.Download.Size/spec.MiB > spec.MaxDownloadSizeMiB {
		return errors.Wrapf(ErrInvalidConfig,
			"download.size must be a multiple of %d up to %d MiB", spec.MiB, spec.MaxDownloadSizeMiB)
	}
	return c.Upload.validate("upload")
}

func (p PhaseConfig) validate(name string) error {
	if p.Duration <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "%s.duration must be positive", name)
	}
	if p.Streams < 0 {
		return errors.Wrapf(ErrInvalidConfig, "%s.streams must not be negative", name)
	}
	if p.Size <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "%s.size must be positive", name)
	}
	return nil
}
