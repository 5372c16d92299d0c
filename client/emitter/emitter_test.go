package emitter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/robertodauria/speedcheck/pkg/speedtest/results"
	"github.com/robertodauria/speedcheck/pkg/speedtest/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSON(&buf)
	e.OnStart(spec.SubtestDownload)
	e.OnProgress(results.Progress{Kind: spec.SubtestDownload, Elapsed: time.Second, NumBytes: 125000, Mbps: 1})
	e.OnLatency(results.LatencyResult{Samples: 5, Mean: 20 * time.Millisecond})
	e.OnComplete(results.PhaseResult{Kind: spec.SubtestDownload, Streams: 6, Mbps: 1})
	e.OnError(spec.SubtestUpload, errors.New("connection reset"))
	e.OnSummary(&results.Summary{ID: "abc"})

	var events []Event
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 6)

	types := []string{}
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{EventStart, EventProgress, EventLatency,
		EventComplete, EventError, EventSummary}, types)

	assert.Equal(t, spec.SubtestDownload, events[0].Kind)
	require.NotNil(t, events[1].Progress)
	assert.Equal(t, int64(125000), events[1].Progress.NumBytes)
	assert.Equal(t, spec.SubtestLatency, events[2].Kind)
	require.NotNil(t, events[2].Latency)
	assert.Equal(t, 5, events[2].Latency.Samples)
	require.NotNil(t, events[3].Result)
	assert.Equal(t, 6, events[3].Result.Streams)
	assert.Equal(t, spec.SubtestUpload, events[4].Kind)
	assert.Equal(t, "connection reset", events[4].Error)
	require.NotNil(t, events[5].Summary)
	assert.Equal(t, "abc", events[5].Summary.ID)
}

type counter struct {
	starts, progress, latency, complete, errs, summaries int
}

func (c *counter) OnStart(spec.SubtestKind) { c.starts++ }
func (c *counter) OnProgress(results.Progress) { c.progress++ }
func (c *counter) OnLatency(results.LatencyResult) { c.latency++ }
func (c *counter) OnComplete(results.PhaseResult) { c.complete++ }
func (c *counter) OnError(spec.SubtestKind, error) { c.errs++ }
func (c *counter) OnSummary(*results.Summary) { c.summaries++ }

func TestMulti(t *testing.T) {
	a, b := &counter{}, &counter{}
	m := Multi{a, b, &LogEmitter{}}
	m.OnStart(spec.SubtestUpload)
	m.OnProgress(results.Progress{})
	m.OnProgress(results.Progress{})
	m.OnLatency(results.LatencyResult{})
	m.OnComplete(results.PhaseResult{})
	m.OnError(spec.SubtestUpload, errors.New("x"))
	m.OnSummary(&results.Summary{})

	want := &counter{starts: 1, progress: 2, latency: 1, complete: 1, errs: 1, summaries: 1}
	assert.Equal(t, want, a)
	assert.Equal(t, want, b)
}
