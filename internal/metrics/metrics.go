// Package metrics defines the Prometheus metrics exported by speedcheck.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robertodauria/speedcheck/pkg/speedtest/results"
	"github.com/robertodauria/speedcheck/pkg/speedtest/spec"
)

// Server metrics.
var (
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speedcheck_server_requests_total",
		Help: "Number of requests served, by endpoint and status code",
	}, []string{"endpoint", "status"})
	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speedcheck_server_sent_bytes_total",
		Help: "Payload bytes written by the download endpoint",
	})
	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speedcheck_server_received_bytes_total",
		Help: "Payload bytes drained by the upload endpoint",
	})
)

// Client metrics.
var (
	LatencyMs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speedcheck_latency_ms",
		Help: "Mean round-trip time of the last successful run, in milliseconds",
	})
	DownloadMbps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speedcheck_download_mbps",
		Help: "Download throughput of the last successful run, in Mb/s",
	})
	UploadMbps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speedcheck_upload_mbps",
		Help: "Upload throughput of the last successful run, in Mb/s",
	})
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speedcheck_runs_total",
		Help: "Number of runs, by result",
	}, []string{"result"})
)

// Emitter exports the outcome of every run. Progress events are ignored.
type Emitter struct{}

func (Emitter) OnStart(spec.SubtestKind) {}
func (Emitter) OnProgress(results.Progress) {}
func (Emitter) OnLatency(results.LatencyResult) {}
func (Emitter) OnComplete(results.PhaseResult) {}

func (Emitter) OnError(spec.SubtestKind, error) {
	Runs.WithLabelValues("failure").Inc()
}

func (Emitter) OnSummary(s *results.Summary) {
	LatencyMs.Set(s.Latency.Milliseconds())
	DownloadMbps.Set(s.Download.Mbps)
	UploadMbps.Set(s.Upload.Mbps)
	Runs.WithLabelValues("success").Inc()
}
