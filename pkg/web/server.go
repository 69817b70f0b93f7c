// Package web provides a real-time dashboard for a call.
package web

import (
	"log/slog"
	"net"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-mevy/internal/log"
	"github.com/teslashibe/go-mevy/pkg/call"
	"github.com/teslashibe/go-mevy/pkg/hub"
	"github.com/teslashibe/go-mevy/pkg/metrics"
	"github.com/teslashibe/go-mevy/pkg/protocol"
	"github.com/teslashibe/go-mevy/pkg/transcript"
)

// Session is the part of a call the dashboard reads and controls.
// *call.Session implements it.
type Session interface {
	ID() string
	State() call.State
	Level() float64
	Config() call.SessionConfig
	Transcript() []transcript.Turn
	Disconnect()
}

var _ Session = (*call.Session)(nil)

// Status is the dashboard view of the call.
type Status struct {
	SessionID   string              `json:"session_id"`
	State       string              `json:"state"`
	Level       float64             `json:"level"`
	UserName    string              `json:"user_name,omitempty"`
	Voice       call.Voice          `json:"voice,omitempty"`
	Mode        call.Mode           `json:"mode,omitempty"`
	Model       string              `json:"model,omitempty"`
	Turns       int                 `json:"turns"`
	Subscribers int                 `json:"subscribers"`
	Control     ControlStats        `json:"control"`
	Ended       *protocol.EndedData `json:"ended,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	// Event feed for dashboards (thread-safe fan-out)
	events  *hub.Hub
	control *Controller

	mu      sync.RWMutex
	session Session
	ended   *protocol.EndedData
	lastErr string
}

// NewServer creates the dashboard. m may be nil, in which case /metrics
// serves the default Prometheus registry.
func NewServer(addr string, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		addr:   addr,
		logger: log.Or(logger, "web"),
		events: hub.New("events", logger),
	}
	s.control = NewController(func() { s.disconnect() }, s.logger)

	app := fiber.New(fiber.Config{
		AppName:               "Mevy",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/transcript", s.handleTranscript)
	api.Get("/voices", s.handleVoices)
	api.Post("/disconnect", s.handleDisconnect)

	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	app.Get("/ws/control", s.control.Handler())
	app.Get("/ws/control/:id", s.control.Handler())

	s.app = app
	go s.events.Run()
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Attach sets the session the dashboard reports on.
func (s *Server) Attach(sess Session) {
	s.mu.Lock()
	s.session = sess
	s.ended = nil
	s.lastErr = ""
	s.mu.Unlock()
}

// Start listens on the configured address and blocks.
func (s *Server) Start() error {
	s.logger.Info("web dashboard listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Serve serves on an existing listener and blocks.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("web dashboard listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server stopped", "error", err)
		}
	}()
}

// Shutdown stops the event feed and the HTTP server.
func (s *Server) Shutdown() error {
	s.events.Stop()
	return s.app.Shutdown()
}

// Callbacks wraps next so every session event is also published to
// dashboard and control clients. Fields of next may be nil.
func (s *Server) Callbacks(next call.Callbacks) call.Callbacks {
	return call.Callbacks{
		OnTranscript: func(speaker transcript.Speaker, text string, isFinal bool) {
			s.publish(protocol.NewTranscriptMessage(speaker, text, isFinal))
			if next.OnTranscript != nil {
				next.OnTranscript(speaker, text, isFinal)
			}
		},
		OnAudioLevel: func(level float64) {
			s.publish(protocol.NewLevelMessage(level))
			if next.OnAudioLevel != nil {
				next.OnAudioLevel(level)
			}
		},
		OnStateChange: func(state call.State) {
			msg, err := protocol.NewStateMessage(s.sessionID(), state.String())
			s.publishAll(msg, err)
			if next.OnStateChange != nil {
				next.OnStateChange(state)
			}
		},
		OnError: func(err error) {
			s.mu.Lock()
			s.lastErr = err.Error()
			s.mu.Unlock()
			s.publishAll(protocol.NewErrorMessage(err))
			if next.OnError != nil {
				next.OnError(err)
			}
		},
		OnSessionEnded: func(durationSeconds int, turns []transcript.Turn) {
			msg, err := protocol.NewEndedMessage(s.sessionID(), durationSeconds, turns)
			if err == nil {
				var ended protocol.EndedData
				if msg.ParseData(&ended) == nil {
					s.mu.Lock()
					s.ended = &ended
					s.mu.Unlock()
				}
			}
			s.publishAll(msg, err)
			if next.OnSessionEnded != nil {
				next.OnSessionEnded(durationSeconds, turns)
			}
		},
	}
}

// publish sends a message to dashboard subscribers.
func (s *Server) publish(msg *protocol.Message, err error) {
	if err != nil {
		s.logger.Warn("encode event failed", "error", err)
		return
	}
	if err := s.events.BroadcastJSON(msg); err != nil {
		s.logger.Warn("broadcast failed", "error", err)
	}
}

// publishAll sends a message to dashboard and control clients.
func (s *Server) publishAll(msg *protocol.Message, err error) {
	s.publish(msg, err)
	if err == nil {
		s.control.Broadcast(msg)
	}
}

func (s *Server) current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Server) sessionID() string {
	if sess := s.current(); sess != nil {
		return sess.ID()
	}
	return ""
}

// disconnect hangs up the attached session, if any, and reports whether
// there was one.
func (s *Server) disconnect() bool {
	sess := s.current()
	if sess == nil {
		return false
	}
	sess.Disconnect()
	return true
}

// status snapshots the dashboard view.
func (s *Server) status() Status {
	st := Status{
		State:       call.StateDisconnected.String(),
		Subscribers: s.events.ClientCount(),
		Control:     s.control.Stats(),
	}

	s.mu.RLock()
	sess := s.session
	st.Ended = s.ended
	st.Error = s.lastErr
	s.mu.RUnlock()

	if sess == nil {
		return st
	}
	cfg := sess.Config()
	st.SessionID = sess.ID()
	st.State = sess.State().String()
	st.Level = sess.Level()
	st.UserName = cfg.UserName
	st.Voice = cfg.Voice
	st.Mode = cfg.Mode
	st.Model = cfg.Model
	st.Turns = len(sess.Transcript())
	return st
}
