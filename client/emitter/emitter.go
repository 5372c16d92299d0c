package emitter

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/robertodauria/speedcheck/pkg/speedtest/results"
	"github.com/robertodauria/speedcheck/pkg/speedtest/spec"
	"go.uber.org/zap"
)

// Emitter receives the events of a run. Events of a single run are emitted
// sequentially, from one goroutine at a time.
type Emitter interface {
	OnStart(spec.SubtestKind)
	OnProgress(results.Progress)
	OnLatency(results.LatencyResult)
	OnComplete(results.PhaseResult)
	OnError(spec.SubtestKind, error)
	OnSummary(*results.Summary)
}

type LogEmitter struct{}

func (e *LogEmitter) OnStart(kind spec.SubtestKind) {
	zap.L().Sugar().Infof("%s: starting", kind)
}

func (e *LogEmitter) OnProgress(p results.Progress) {
	zap.L().Sugar().Debugf("%s: %.2f Mb/s after %v", p.Kind, p.Mbps, p.Elapsed.Round(time.Millisecond))
}

func (e *LogEmitter) OnLatency(l results.LatencyResult) {
	zap.L().Sugar().Infof("latency: %.2f ms (%d samples)", l.Milliseconds(), l.Samples)
}

func (e *LogEmitter) OnComplete(r results.PhaseResult) {
	zap.L().Sugar().Infof("%s: %.2f Mb/s (%d bytes, %d streams, %v)",
		r.Kind, r.Mbps, r.NumBytes, r.Streams, r.Elapsed.Round(time.Millisecond))
}

func (e *LogEmitter) OnError(kind spec.SubtestKind, err error) {
	zap.L().Sugar().Errorf("%s: error (%v)", kind, err)
}

func (e *LogEmitter) OnSummary(s *results.Summary) {
	zap.L().Sugar().Infow("Run completed",
		"id", s.ID,
		"latency_ms", s.Latency.Milliseconds(),
		"download_mbps", s.Download.Mbps,
		"upload_mbps", s.Upload.Mbps)
}

// Event is the JSON representation of an emitted event.
type Event struct {
	Type     string                 `json:"type"`
	Kind     spec.SubtestKind       `json:"kind,omitempty"`
	Progress *results.Progress      `json:"progress,omitempty"`
	Latency  *results.LatencyResult `json:"latency,omitempty"`
	Result   *results.PhaseResult   `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Summary  *results.Summary       `json:"summary,omitempty"`
}

// Event types.
const (
	EventStart    = "start"
	EventProgress = "progress"
	EventLatency  = "latency"
	EventComplete = "complete"
	EventError    = "error"
	EventSummary  = "summary"
)

// NewStartEvent and friends build the Event for each Emitter method.
func NewStartEvent(kind spec.SubtestKind) Event {
	return Event{Type: EventStart, Kind: kind}
}

func NewProgressEvent(p results.Progress) Event {
	return Event{Type: EventProgress, Kind: p.Kind, Progress: &p}
}

func NewLatencyEvent(l results.LatencyResult) Event {
	return Event{Type: EventLatency, Kind: spec.SubtestLatency, Latency: &l}
}

func NewCompleteEvent(r results.PhaseResult) Event {
	return Event{Type: EventComplete, Kind: r.Kind, Result: &r}
}

func NewErrorEvent(kind spec.SubtestKind, err error) Event {
	return Event{Type: EventError, Kind: kind, Error: err.Error()}
}

func NewSummaryEvent(s *results.Summary) Event {
	return Event{Type: EventSummary, Summary: s}
}

// JSONEmitter writes every event as a JSON object on its own line.
type JSONEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSON(w io.Writer) *JSONEmitter {
	return &JSONEmitter{enc: json.NewEncoder(w)}
}

func (e *JSONEmitter) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(ev); err != nil {
		zap.L().Sugar().Warnw("Cannot write event", "type", ev.Type, "error", err)
	}
}

func (e *JSONEmitter) OnStart(kind spec.SubtestKind) { e.emit(NewStartEvent(kind)) }
func (e *JSONEmitter) OnProgress(p results.Progress) { e.emit(NewProgressEvent(p)) }
func (e *JSONEmitter) OnLatency(l results.LatencyResult) { e.emit(NewLatencyEvent(l)) }
func (e *JSONEmitter) OnComplete(r results.PhaseResult) { e.emit(NewCompleteEvent(r)) }
func (e *JSONEmitter) OnError(k spec.SubtestKind, err error) { e.emit(NewErrorEvent(k, err)) }
func (e *JSONEmitter) OnSummary(s *results.Summary) { e.emit(NewSummaryEvent(s)) }

// Multi forwards every event to all the given emitters, in order.
type Multi []Emitter

func (m Multi) OnStart(kind spec.SubtestKind) {
	for _, e := range m {
		e.OnStart(kind)
	}
}

func (m Multi) OnProgress(p results.Progress) {
	for _, e := range m {
		e.OnProgress(p)
	}
}

func (m Multi) OnLatency(l results.LatencyResult) {
	for _, e := range m {
		e.OnLatency(l)
	}
}

func (m Multi) OnComplete(r results.PhaseResult) {
	for _, e := range m {
		e.OnComplete(r)
	}
}

func (m Multi) OnError(kind spec.SubtestKind, err error) {
	for _, e := range m {
		e.OnError(kind, err)
	}
}

func (m Multi) OnSummary(s *results.Summary) {
	for _, e := range m {
		e.OnSummary(s)
	}
}
