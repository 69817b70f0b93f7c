package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	// None of these should panic.
	m.SessionConnected()
	m.SessionEnded(true, time.Second)
	m.FrameCaptured()
	m.FrameSent()
	m.FrameDropped("queue_full")
	m.SendFailed()
	m.ChunkScheduled(1)
	m.ChunkFinished(0)
	m.DecodeFailed()
	m.Interrupted()
	m.TurnStarted("user")
	m.Level(0.4)
	m.ObserveFirstAudioLatency(time.Second)
}

func TestCounters(t *testing.T) {
	m := NewWith(prometheus.NewRegistry())

	m.SessionConnected()
	m.FrameSent()
	m.FrameSent()
	m.FrameDropped("queue_full")
	m.ChunkScheduled(2)
	m.Interrupted()
	m.TurnStarted("agent")

	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FramesSent); got != 2 {
		t.Errorf("frames sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FramesDropped.WithLabelValues("queue_full")); got != 1 {
		t.Errorf("frames dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveChunks); got != 0 {
		t.Errorf("active chunks after interrupt = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.TranscriptTurns.WithLabelValues("agent")); got != 1 {
		t.Errorf("agent turns = %v, want 1", got)
	}

	m.SessionEnded(true, 30*time.Second)
	if got := testutil.ToFloat64(m.ActiveSessions); got != 0 {
		t.Errorf("active sessions after end = %v, want 0", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.FrameCaptured()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "mevy_frames_captured_total 1") {
		t.Errorf("expected frames counter in output, got:\n%s", body)
	}
}
