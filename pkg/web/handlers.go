package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-mevy/pkg/call"
	"github.com/teslashibe/go-mevy/pkg/hub"
	"github.com/teslashibe/go-mevy/pkg/protocol"
	"github.com/teslashibe/go-mevy/pkg/transcript"
)

// handleStatus returns the call's current state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleTranscript returns the turns so far
func (s *Server) handleTranscript(c *fiber.Ctx) error {
	turns := []transcript.Turn{}
	if sess := s.current(); sess != nil {
		if t := sess.Transcript(); t != nil {
			turns = t
		}
	}
	return c.JSON(fiber.Map{
		"turns": turns,
		"count": len(turns),
	})
}

// handleVoices lists the voices a call can use
func (s *Server) handleVoices(c *fiber.Ctx) error {
	return c.JSON(call.Voices)
}

// handleDisconnect hangs up the call
func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	if !s.disconnect() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no active session",
		})
	}
	return c.JSON(fiber.Map{"status": "disconnected"})
}

// handleEventsWS streams session events to a dashboard
func (s *Server) handleEventsWS(c *websocket.Conn) {
	// Send current state before the hub takes over writes
	if msg, err := protocol.NewMessage(protocol.TypeState, protocol.StateData{
		SessionID: s.sessionID(),
		State:     s.status().State,
	}); err == nil {
		if data, err := msg.Bytes(); err == nil {
			c.WriteMessage(websocket.TextMessage, data)
		}
	}

	hub.NewClient(s.events, c).Run()
}
