package speedtest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/m-lab/go/warnonerror"
	"github.com/pkg/errors"
	"github.com/robertodauria/speedcheck/pkg/speedtest/results"
	"github.com/robertodauria/speedcheck/pkg/speedtest/spec"
	"go.uber.org/zap"
)

// ProbeError is returned when a latency round-trip fails.
type ProbeError struct {
	// Sample is the zero-based index of the failed round-trip.
	Sample int
	Err    error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("latency probe #%d failed: %v", e.Sample, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Prober measures round-trip latency against the liveness endpoint.
type Prober struct {
	Server  string
	Client  *http.Client
	Samples int

	now func() time.Time
}

// NewProber returns a Prober issuing samples round-trips to server.
func NewProber(client *http.Client, server string, samples int) *Prober {
	return &Prober{
		Server:  server,
		Client:  client,
		Samples: samples,
		now:     time.Now,
	}
}

// Probe issues the configured number of round-trips one after the other
// and returns their mean. The first failure aborts the probe.
func (p *Prober) Probe(ctx context.Context) (results.LatencyResult, error) {
	target, err := buildURL(p.Server, spec.PingPath, nil)
	if err != nil {
		return results.LatencyResult{}, err
	}
	n := p.Samples
	if n <= 0 {
		n = spec.DefaultLatencySamples
	}
	var total time.Duration
	for i := 0; i < n; i++ {
		rtt, err := p.roundTrip(ctx, target)
		if err != nil {
			return results.LatencyResult{}, &ProbeError{Sample: i, Err: err}
		}
		zap.L().Sugar().Debugw("Latency sample", "n", i, "rtt", rtt)
		total += rtt
	}
	return results.LatencyResult{
		Samples: n,
		Mean:    total / time.Duration(n),
	}, nil
}

// roundTrip times a single request, from issue to full receipt of the body.
func (p *Prober) roundTrip(ctx context.Context, target string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, errors.Wrap(err, "cannot create ping request")
	}
	setNoStore(req.Header)

	now := p.now
	if now == nil {
		now = time.Now
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	start := now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "ping request failed")
	}
	defer warnonerror.Close(resp.Body, "cannot close ping response body")
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return 0, errors.Wrap(err, "cannot read ping response")
	}
	rtt := now().Sub(start)
	if resp.StatusCode/100 != 2 {
		return 0, errors.Errorf("ping: unexpected status %d", resp.StatusCode)
	}
	return rtt, nil
}
