package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robertodauria/speedcheck/client/config"
	"github.com/robertodauria/speedcheck/client/emitter"
	"github.com/robertodauria/speedcheck/pkg/speedtest"
	"github.com/robertodauria/speedcheck/pkg/speedtest/results"
	"github.com/robertodauria/speedcheck/pkg/speedtest/spec"
)

// State is the state of a Client's run.
type State int

const (
	StateIdle State = iota
	StateTesting
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTesting:
		return "testing"
	case StateComplete:
		return "complete"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Step labels.
const (
	StepLatency  = "Measuring latency..."
	StepDownload = "Measuring download speed..."
	StepUpload   = "Measuring upload speed..."
	StepComplete = "Measurement complete"
	StepFailed   = "Measurement failed"
)

var ErrRunInProgress = errors.New("a run is already in progress")

// Snapshot is the observable state of a Client. Speeds are updated live
// while the corresponding phase runs and overwritten by its final value.
type Snapshot struct {
	State        State   `json:"state"`
	Step         string  `json:"step"`
	LatencyMs    float64 `json:"latency_ms"`
	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`
}

type Client struct {
	httpClient *http.Client
	config     *config.ClientConfig
	emitter    emitter.Emitter

	mu       sync.Mutex
	snapshot Snapshot
}

func New(server string) *Client {
	cfg := config.NewDefault()
	cfg.Server = server
	return NewWithConfig(cfg, nil)
}

// NewWithConfig returns a Client running the measurement described by cfg
// and reporting to e. A nil e logs events.
func NewWithConfig(cfg *config.ClientConfig, e emitter.Emitter) *Client {
	if e == nil {
		e = &emitter.LogEmitter{}
	}
	return &Client{
		httpClient: newHTTPClient(cfg),
		config:     cfg,
		emitter:    e,
	}
}

func newHTTPClient(cfg *config.ClientConfig) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	// Keep every stream's connection around between requests.
	t.MaxIdleConnsPerHost = cfg.Download.Streams
	if cfg.Upload.Streams > t.MaxIdleConnsPerHost {
		t.MaxIdleConnsPerHost = cfg.Upload.Streams
	}
	// Count bytes as they travel on the wire.
	t.DisableCompression = true
	return &http.Client{Transport: t}
}

// Snapshot returns the current observable state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Run measures latency, then download, then upload. Run must not be called
// again while a run is in progress: ErrRunInProgress is returned in that case.
// On failure the Client goes back to StateIdle and no Summary is returned.
func (c *Client) Run(ctx context.Context) (*results.Summary, error) {
	if err := c.config.Validate(); err != nil {
		return nil, err
	}
	if err := c.begin(); err != nil {
		return nil, err
	}
	summary := &results.Summary{
		ID:        uuid.NewString(),
		Server:    c.config.Server,
		StartTime: time.Now().UTC(),
	}

	c.update(func(s *Snapshot) { s.Step = StepLatency })
	c.emitter.OnStart(spec.SubtestLatency)
	prober := speedtest.NewProber(c.httpClient, c.config.Server, c.config.LatencySamples)
	latency, err := prober.Probe(ctx)
	if err != nil {
		return nil, c.fail(spec.SubtestLatency, err)
	}
	summary.Latency = latency
	c.update(func(s *Snapshot) { s.LatencyMs = latency.Milliseconds() })
	c.emitter.OnLatency(latency)

	c.update(func(s *Snapshot) { s.Step = StepDownload })
	if summary.Download, err = c.runPhase(ctx, spec.SubtestDownload, c.config.Download); err != nil {
		return nil, c.fail(spec.SubtestDownload, err)
	}

	c.update(func(s *Snapshot) { s.Step = StepUpload })
	if summary.Upload, err = c.runPhase(ctx, spec.SubtestUpload, c.config.Upload); err != nil {
		return nil, c.fail(spec.SubtestUpload, err)
	}

	summary.EndTime = time.Now().UTC()
	c.update(func(s *Snapshot) {
		s.State = StateComplete
		s.Step = StepComplete
	})
	c.emitter.OnSummary(summary)
	return summary, nil
}

// begin moves the Client to StateTesting and resets all the results.
func (c *Client) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot.State == StateTesting {
		return ErrRunInProgress
	}
	c.snapshot = Snapshot{State: StateTesting}
	return nil
}

func (c *Client) fail(kind spec.SubtestKind, err error) error {
	err = errors.Wrapf(err, "%s failed", kind)
	c.update(func(s *Snapshot) {
		s.State = StateIdle
		s.Step = StepFailed
	})
	c.emitter.OnError(kind, err)
	return err
}

func (c *Client) update(f func(*Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(&c.snapshot)
}

func (c *Client) setSpeed(kind spec.SubtestKind, mbps float64) {
	c.update(func(s *Snapshot) {
		if kind == spec.SubtestDownload {
			s.DownloadMbps = mbps
		} else {
			s.UploadMbps = mbps
		}
	})
}

func (c *Client) runPhase(ctx context.Context, kind spec.SubtestKind,
	pc config.PhaseConfig) (results.PhaseResult, error) {
	c.emitter.OnStart(kind)
	phase := &speedtest.Phase{
		Kind:             kind,
		Server:           c.config.Server,
		Client:           c.httpClient,
		Duration:         pc.Duration,
		Streams:          pc.Streams,
		Size:             pc.Size,
		RequestTimeout:   c.config.RequestTimeout,
		ProgressInterval: c.config.ProgressInterval,
	}

	// Drain the progress channel until Measure closes it.
	progress := make(chan results.Progress, 64)
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for m := range progress {
			c.setSpeed(kind, m.Mbps)
			c.emitter.OnProgress(m)
		}
	}()
	result, err := phase.Measure(ctx, progress)
	wg.Wait()
	if err != nil {
		return result, err
	}
	c.setSpeed(kind, result.Mbps)
	c.emitter.OnComplete(result)
	return result, nil
}
