package web

import (
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-mevy/internal/log"
	"github.com/teslashibe/go-mevy/pkg/call"
	"github.com/teslashibe/go-mevy/pkg/metrics"
	"github.com/teslashibe/go-mevy/pkg/protocol"
	"github.com/teslashibe/go-mevy/pkg/transcript"
)

type fakeSession struct {
	mu          sync.Mutex
	state       call.State
	turns       []transcript.Turn
	disconnects int
}

func (f *fakeSession) ID() string { return "sess-1" }

func (f *fakeSession) State() call.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Level() float64 { return 0.4 }

func (f *fakeSession) Config() call.SessionConfig {
	cfg := call.DefaultSessionConfig()
	cfg.UserName = "Alice"
	return cfg
}

func (f *fakeSession) Transcript() []transcript.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.turns
}

func (f *fakeSession) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.state = call.StateClosed
}

func (f *fakeSession) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func newTestServer(t *testing.T, m *metrics.Metrics) *Server {
	t.Helper()
	s := NewServer("127.0.0.1:0", m, log.Discard())
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

// serve starts s on a loopback port and returns its ws:// base URL.
func serve(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go s.Serve(ln)
	return "ws://" + ln.Addr().String()
}

func get(t *testing.T, s *Server, method, path string) (int, string) {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest(method, path, nil))
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func readMessage(t *testing.T, conn *websocket.Conn, want protocol.MessageType) *protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", want, err)
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("no session", func(t *testing.T) {
		code, body := get(t, s, "GET", "/api/status")
		if code != 200 {
			t.Fatalf("Status = %d, want 200", code)
		}
		var st Status
		if err := json.Unmarshal([]byte(body), &st); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if st.State != "disconnected" || st.SessionID != "" {
			t.Errorf("unexpected status %+v", st)
		}
	})

	t.Run("attached session", func(t *testing.T) {
		s.Attach(&fakeSession{
			state: call.StateConnected,
			turns: []transcript.Turn{{Speaker: transcript.SpeakerUser, Text: "hi", Final: true}},
		})
		_, body := get(t, s, "GET", "/api/status")
		var st Status
		if err := json.Unmarshal([]byte(body), &st); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if st.SessionID != "sess-1" || st.State != "connected" || st.UserName != "Alice" {
			t.Errorf("unexpected status %+v", st)
		}
		if st.Turns != 1 || st.Level != 0.4 || st.Voice != call.VoiceKore {
			t.Errorf("unexpected status %+v", st)
		}
	})
}

func TestHandleTranscript(t *testing.T) {
	s := newTestServer(t, nil)

	_, body := get(t, s, "GET", "/api/transcript")
	if !strings.Contains(body, `"turns":[]`) {
		t.Errorf("empty transcript should be a list, got %s", body)
	}

	s.Attach(&fakeSession{turns: []transcript.Turn{
		{Speaker: transcript.SpeakerUser, Text: "I go store", Final: true},
		{Speaker: transcript.SpeakerAgent, Text: "You went to the store?"},
	}})
	_, body = get(t, s, "GET", "/api/transcript")

	var resp struct {
		Turns []transcript.Turn `json:"turns"`
		Count int               `json:"count"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || resp.Turns[0].Text != "I go store" {
		t.Errorf("unexpected transcript %+v", resp)
	}
}

func TestHandleVoices(t *testing.T) {
	s := newTestServer(t, nil)

	_, body := get(t, s, "GET", "/api/voices")
	var voices []call.VoiceInfo
	if err := json.Unmarshal([]byte(body), &voices); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(voices) != len(call.Voices) {
		t.Errorf("got %d voices, want %d", len(voices), len(call.Voices))
	}
}

func TestHandleDisconnect(t *testing.T) {
	s := newTestServer(t, nil)

	if code, _ := get(t, s, "POST", "/api/disconnect"); code != 404 {
		t.Errorf("Status = %d without a session, want 404", code)
	}

	sess := &fakeSession{state: call.StateConnected}
	s.Attach(sess)
	if code, _ := get(t, s, "POST", "/api/disconnect"); code != 200 {
		t.Errorf("Status = %d, want 200", code)
	}
	if sess.Disconnects() != 1 {
		t.Errorf("Disconnect called %d times, want 1", sess.Disconnects())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.SessionConnected()
	s := newTestServer(t, m)

	code, body := get(t, s, "GET", "/metrics")
	if code != 200 {
		t.Fatalf("Status = %d, want 200", code)
	}
	if !strings.Contains(body, "mevy_active_sessions 1") {
		t.Errorf("metrics output missing active sessions:\n%s", body)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := newTestServer(t, nil)

	if code, _ := get(t, s, "GET", "/ws/events"); code != 426 {
		t.Errorf("Status = %d, want 426", code)
	}
}

func TestEventsFeed(t *testing.T) {
	s := newTestServer(t, nil)
	s.Attach(&fakeSession{state: call.StateConnected})
	base := serve(t, s)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var sd protocol.StateData
	if err := readMessage(t, conn, protocol.TypeState).ParseData(&sd); err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	if sd.State != "connected" || sd.SessionID != "sess-1" {
		t.Errorf("initial state = %+v", sd)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.events.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var forwarded []string
	cb := s.Callbacks(call.Callbacks{
		OnTranscript: func(_ transcript.Speaker, text string, _ bool) {
			forwarded = append(forwarded, text)
		},
	})
	cb.OnTranscript(transcript.SpeakerAgent, "Hello Alice", true)
	cb.OnAudioLevel(0.4)

	var td protocol.TranscriptData
	if err := readMessage(t, conn, protocol.TypeTranscript).ParseData(&td); err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	if td.Speaker != transcript.SpeakerAgent || td.Text != "Hello Alice" || !td.Final {
		t.Errorf("transcript = %+v", td)
	}

	var ld protocol.LevelData
	if err := readMessage(t, conn, protocol.TypeLevel).ParseData(&ld); err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	if ld.Level != 0.4 {
		t.Errorf("level = %v", ld.Level)
	}

	if len(forwarded) != 1 || forwarded[0] != "Hello Alice" {
		t.Errorf("wrapped callback got %v", forwarded)
	}
}

func TestControl(t *testing.T) {
	s := newTestServer(t, nil)
	sess := &fakeSession{state: call.StateConnected}
	s.Attach(sess)
	base := serve(t, s)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws/control/panel", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	t.Run("ping", func(t *testing.T) {
		ping, _ := protocol.NewMessage(protocol.TypePing, nil)
		data, _ := ping.Bytes()
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("write: %v", err)
		}

		var pd protocol.PongData
		if err := readMessage(t, conn, protocol.TypePong).ParseData(&pd); err != nil {
			t.Fatalf("ParseData: %v", err)
		}
		if pd.PingTimestamp != ping.Timestamp {
			t.Errorf("PingTimestamp = %d, want %d", pd.PingTimestamp, ping.Timestamp)
		}
	})

	t.Run("invalid message", func(t *testing.T) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{}`)); err != nil {
			t.Fatalf("write: %v", err)
		}
		readMessage(t, conn, protocol.TypeError)
	})

	t.Run("disconnect", func(t *testing.T) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"disconnect"}`)); err != nil {
			t.Fatalf("write: %v", err)
		}
		deadline := time.Now().Add(2 * time.Second)
		for sess.Disconnects() != 1 {
			if time.Now().After(deadline) {
				t.Fatal("disconnect command not delivered")
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	t.Run("session ended is pushed", func(t *testing.T) {
		turns := []transcript.Turn{{Speaker: transcript.SpeakerUser, Text: "bye", Final: true}}
		s.Callbacks(call.Callbacks{}).OnSessionEnded(12, turns)

		var ed protocol.EndedData
		if err := readMessage(t, conn, protocol.TypeEnded).ParseData(&ed); err != nil {
			t.Fatalf("ParseData: %v", err)
		}
		if ed.DurationSeconds != 12 || ed.SessionID != "sess-1" || len(ed.Turns) != 1 {
			t.Errorf("ended = %+v", ed)
		}

		st := s.status()
		if st.Ended == nil || st.Ended.DurationSeconds != 12 {
			t.Errorf("status should carry the summary, got %+v", st.Ended)
		}
		if st.Control.Clients != 1 || st.Control.MessagesReceived < 3 {
			t.Errorf("control stats = %+v", st.Control)
		}
	})
}
