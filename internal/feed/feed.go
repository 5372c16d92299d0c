// Package feed streams run events to websocket subscribers.
package feed

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robertodauria/speedcheck/client/emitter"
	"github.com/robertodauria/speedcheck/pkg/speedtest/results"
	"github.com/robertodauria/speedcheck/pkg/speedtest/spec"
	"go.uber.org/zap"
)

const (
	// queueSize is the number of events buffered for each subscriber.
	// Events for a subscriber whose queue is full are dropped.
	queueSize    = 64
	writeTimeout = 5 * time.Second
)

type subscriber struct {
	events chan emitter.Event
}

// Feed is an emitter.Emitter publishing every event as JSON to all the
// connected websocket subscribers. Publishing never blocks.
type Feed struct {
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

func New() *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			// Allow cross-origin resource sharing.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		subscribers: make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the connection to websocket and streams events to it
// until the peer goes away.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Sugar().Warnw("Websocket upgrade failed", "client", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	s := f.subscribe()
	defer f.unsubscribe(s)
	zap.L().Sugar().Debugw("Feed subscriber connected", "client", r.RemoteAddr)

	// Subscribers are not expected to send anything: reading only serves
	// to notice when they disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-s.events:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				zap.L().Sugar().Debugw("Cannot write to feed subscriber", "client", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

func (f *Feed) subscribe() *subscriber {
	s := &subscriber{events: make(chan emitter.Event, queueSize)}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers[s] = struct{}{}
	return s
}

func (f *Feed) unsubscribe(s *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribers, s)
}

// Subscribers returns the number of connected subscribers.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

func (f *Feed) publish(ev emitter.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subscribers {
		select {
		case s.events <- ev:
		default:
			// discard event for this subscriber
		}
	}
}

func (f *Feed) OnStart(kind spec.SubtestKind) {
	f.publish(emitter.NewStartEvent(kind))
}

func (f *Feed) OnProgress(p results.Progress) {
	f.publish(emitter.NewProgressEvent(p))
}

func (f *Feed) OnLatency(l results.LatencyResult) {
	f.publish(emitter.NewLatencyEvent(l))
}

func (f *Feed) OnComplete(r results.PhaseResult) {
	f.publish(emitter.NewCompleteEvent(r))
}

func (f *Feed) OnError(kind spec.SubtestKind, err error) {
	f.publish(emitter.NewErrorEvent(kind, err))
}

func (f *Feed) OnSummary(s *results.Summary) {
	f.publish(emitter.NewSummaryEvent(s))
}
