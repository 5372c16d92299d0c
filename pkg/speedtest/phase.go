// Package speedtest implements the measurement engine: transfer workers, the
// phase coordinator that runs them against a deadline, and the latency prober.
package speedtest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/robertodauria/speedcheck/pkg/speedtest/results"
	"github.com/robertodauria/speedcheck/pkg/speedtest/spec"
	"go.uber.org/zap"
)

var (
	ErrInvalidKind     = errors.New("invalid phase kind")
	ErrInvalidDuration = errors.New("phase duration must be positive")
	ErrInvalidStreams  = errors.New("number of streams must not be negative")
	ErrInvalidSize     = errors.New("invalid transfer size")
	ErrInvalidServer   = errors.New("invalid server URL")
)

// Phase is a timed download or upload measurement.
type Phase struct {
	Kind spec.SubtestKind

	// Server is the base URL of the server, e.g. http://localhost:8080.
	Server string
	Client *http.Client

	Duration time.Duration
	Streams  int

	// Size is the size of a single transfer in bytes. Download sizes must
	// be a multiple of spec.MiB.
	Size int64

	RequestTimeout time.Duration

	// ProgressInterval is the minimum interval between progress samples.
	// Zero means spec.MinProgressInterval.
	ProgressInterval time.Duration
}

// accumulator is the byte counter shared by all the workers of a phase.
type accumulator struct {
	kind     spec.SubtestKind
	start    time.Time
	interval time.Duration
	total    atomic.Int64

	// mu serializes progress emission. Workers that cannot take it skip
	// emission instead of waiting.
	mu       sync.Mutex
	last     time.Time
	progress chan<- results.Progress
}

func (a *accumulator) add(n int64) {
	a.total.Add(n)
	if a.progress == nil || !a.mu.TryLock() {
		return
	}
	defer a.mu.Unlock()
	now := time.Now()
	if now.Sub(a.last) < a.interval {
		return
	}
	elapsed := now.Sub(a.start)
	numBytes := a.total.Load()
	select {
	case a.progress <- results.Progress{
		Kind:     a.kind,
		Elapsed:  elapsed,
		NumBytes: numBytes,
		Mbps:     results.Mbps(numBytes, elapsed),
	}:
		a.last = now
	default:
		// The consumer is lagging behind; drop this sample.
	}
}

// Measure runs the phase: it starts p.Streams workers, stops them at the
// deadline and returns the average throughput over the whole phase.
//
// Progress samples are sent over progress without blocking, no closer than
// p.ProgressInterval to each other. The progress channel (if not nil) is
// closed when Measure returns.
//
// If ctx is canceled before the deadline the phase is aborted and an error
// is returned.
func (p *Phase) Measure(ctx context.Context, progress chan<- results.Progress) (results.PhaseResult, error) {
	if progress != nil {
		defer close(progress)
	}
	target, err := p.endpoint()
	if err != nil {
		return results.PhaseResult{}, err
	}

	start := time.Now()
	phaseCtx, cancel := context.WithDeadline(ctx, start.Add(p.Duration))
	defer cancel()

	acc := &accumulator{
		kind:     p.Kind,
		start:    start,
		last:     start,
		interval: p.progressInterval(),
		progress: progress,
	}
	wg := &sync.WaitGroup{}
	for i := 0; i < p.Streams; i++ {
		w := &Worker{
			ID:             i,
			Kind:           p.Kind,
			Client:         p.Client,
			URL:            target,
			Size:           p.Size,
			RequestTimeout: p.RequestTimeout,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(phaseCtx, acc.add)
		}()
	}
	zap.L().Sugar().Debugw("Phase started",
		"kind", p.Kind, "streams", p.Streams, "duration", p.Duration)

	// Returns at the deadline, or earlier if every worker gave up.
	wg.Wait()
	elapsed := time.Since(start)

	if err := ctx.Err(); err != nil {
		return results.PhaseResult{}, errors.Wrapf(err, "%s phase aborted", p.Kind)
	}

	numBytes := acc.total.Load()
	result := results.PhaseResult{
		Kind:     p.Kind,
		Streams:  p.Streams,
		NumBytes: numBytes,
		Elapsed:  elapsed,
		Mbps:     results.Mbps(numBytes, elapsed),
	}
	zap.L().Sugar().Debugw("Phase completed",
		"kind", p.Kind, "bytes", numBytes, "elapsed", elapsed, "mbps", result.Mbps)
	return result, nil
}

func (p *Phase) progressInterval() time.Duration {
	if p.ProgressInterval > 0 {
		return p.ProgressInterval
	}
	return spec.MinProgressInterval
}

// endpoint validates the phase and returns the URL its workers target.
func (p *Phase) endpoint() (string, error) {
	if p.Duration <= 0 {
		return "", ErrInvalidDuration
	}
	if p.Streams < 0 {
		return "", ErrInvalidStreams
	}
	switch p.Kind {
	case spec.SubtestDownload:
		if p.Size < spec.MiB || p.Size%spec.MiB != 0 {
			return "", errors.Wrapf(ErrInvalidSize, "download size %d is not a whole number of MiB", p.Size)
		}
		q := url.Values{}
		q.Set(spec.SizeParameterName, strconv.FormatInt(p.Size/spec.MiB, 10))
		return buildURL(p.Server, spec.DownloadPath, q)
	case spec.SubtestUpload:
		if p.Size <= 0 {
			return "", errors.Wrapf(ErrInvalidSize, "upload size %d", p.Size)
		}
		return buildURL(p.Server, spec.UploadPath, nil)
	default:
		return "", errors.Wrapf(ErrInvalidKind, "%q", p.Kind)
	}
}

// buildURL joins the server base URL with path and query.
func buildURL(server, path string, query url.Values) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", errors.Wrap(ErrInvalidServer, err.Error())
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errors.Wrapf(ErrInvalidServer, "%q", server)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String(), nil
}
