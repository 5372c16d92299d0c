package metrics

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robertodauria/speedcheck/pkg/speedtest/results"
	"github.com/robertodauria/speedcheck/pkg/speedtest/spec"
	"github.com/stretchr/testify/assert"
)

func TestEmitter(t *testing.T) {
	success := testutil.ToFloat64(Runs.WithLabelValues("success"))
	failure := testutil.ToFloat64(Runs.WithLabelValues("failure"))

	e := Emitter{}
	e.OnProgress(results.Progress{Kind: spec.SubtestDownload, Mbps: 999})
	assert.NotEqual(t, 999.0, testutil.ToFloat64(DownloadMbps))

	e.OnSummary(&results.Summary{
		Latency:  results.LatencyResult{Samples: 5, Mean: 12500 * time.Microsecond},
		Download: results.PhaseResult{Kind: spec.SubtestDownload, Mbps: 95.5},
		Upload:   results.PhaseResult{Kind: spec.SubtestUpload, Mbps: 20.25},
	})
	assert.Equal(t, 12.5, testutil.ToFloat64(LatencyMs))
	assert.Equal(t, 95.5, testutil.ToFloat64(DownloadMbps))
	assert.Equal(t, 20.25, testutil.ToFloat64(UploadMbps))
	assert.Equal(t, success+1, testutil.ToFloat64(Runs.WithLabelValues("success")))

	// A failed run keeps the last good values.
	e.OnError(spec.SubtestUpload, errors.New("reset"))
	assert.Equal(t, 95.5, testutil.ToFloat64(DownloadMbps))
	assert.Equal(t, failure+1, testutil.ToFloat64(Runs.WithLabelValues("failure")))
}
