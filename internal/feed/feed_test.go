package feed

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/robertodauria/speedcheck/client/emitter"
	"github.com/robertodauria/speedcheck/pkg/speedtest/results"
	"github.com/robertodauria/speedcheck/pkg/speedtest/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, f *Feed) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestFeed_Events(t *testing.T) {
	f := New()
	conn := dial(t, f)
	require.Eventually(t, func() bool { return f.Subscribers() == 1 },
		time.Second, 10*time.Millisecond)

	f.OnStart(spec.SubtestDownload)
	f.OnProgress(results.Progress{Kind: spec.SubtestDownload, NumBytes: 1000, Mbps: 12.5})
	f.OnComplete(results.PhaseResult{Kind: spec.SubtestDownload, Streams: 6, Mbps: 42})
	f.OnError(spec.SubtestUpload, errors.New("boom"))
	f.OnSummary(&results.Summary{ID: "run"})

	var ev emitter.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, emitter.EventStart, ev.Type)
	assert.Equal(t, spec.SubtestDownload, ev.Kind)

	ev = emitter.Event{}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, emitter.EventProgress, ev.Type)
	require.NotNil(t, ev.Progress)
	assert.Equal(t, int64(1000), ev.Progress.NumBytes)
	assert.Equal(t, 12.5, ev.Progress.Mbps)

	ev = emitter.Event{}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, emitter.EventComplete, ev.Type)
	require.NotNil(t, ev.Result)
	assert.Equal(t, 42.0, ev.Result.Mbps)

	ev = emitter.Event{}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, emitter.EventError, ev.Type)
	assert.Equal(t, "boom", ev.Error)

	ev = emitter.Event{}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, emitter.EventSummary, ev.Type)
	require.NotNil(t, ev.Summary)
	assert.Equal(t, "run", ev.Summary.ID)
}

func TestFeed_Unsubscribe(t *testing.T) {
	f := New()
	conn := dial(t, f)
	require.Eventually(t, func() bool { return f.Subscribers() == 1 },
		time.Second, 10*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return f.Subscribers() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestFeed_SlowSubscriber(t *testing.T) {
	f := New()
	s := f.subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10*queueSize; i++ {
			f.OnProgress(results.Progress{Kind: spec.SubtestUpload, NumBytes: int64(i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing blocked on a slow subscriber")
	}
	assert.Len(t, s.events, queueSize)
}
