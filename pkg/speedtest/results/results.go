// Package results contains the records produced by a speedcheck run.
package results

import (
	"time"

	"github.com/robertodauria/speedcheck/pkg/speedtest/spec"
)

// Progress is an instantaneous throughput estimate taken while a phase is
// still running. It is only valid for the duration of its delivery.
type Progress struct {
	Kind spec.SubtestKind `json:"kind"`
	// Elapsed is the time since the phase started.
	Elapsed time.Duration `json:"elapsed"`
	// NumBytes is the total number of bytes transferred so far by all the
	// workers of the phase.
	NumBytes int64   `json:"num_bytes"`
	Mbps     float64 `json:"mbps"`
}

// PhaseResult is the final throughput of a download or upload phase.
type PhaseResult struct {
	Kind     spec.SubtestKind `json:"kind"`
	Streams  int              `json:"streams"`
	NumBytes int64            `json:"num_bytes"`
	Elapsed  time.Duration    `json:"elapsed"`
	Mbps     float64          `json:"mbps"`
}

// LatencyResult is the mean of a fixed number of round-trip samples.
type LatencyResult struct {
	Samples int           `json:"samples"`
	Mean    time.Duration `json:"mean"`
}

// Milliseconds returns the mean round-trip time in milliseconds.
func (l LatencyResult) Milliseconds() float64 {
	return float64(l.Mean) / float64(time.Millisecond)
}

// Summary is the report of a completed run.
type Summary struct {
	// ID uniquely identifies the run.
	ID        string        `json:"id"`
	Server    string        `json:"server"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Latency   LatencyResult `json:"latency"`
	Download  PhaseResult   `json:"download"`
	Upload    PhaseResult   `json:"upload"`
}

// Mbps converts numBytes transferred over elapsed into megabits per second.
// It returns 0 when elapsed is not positive.
func Mbps(numBytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(numBytes) * 8 / (elapsed.Seconds() * 1e6)
}
