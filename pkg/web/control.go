package web

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-mevy/pkg/protocol"
)

// controlConn is one remote-control client.
type controlConn struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	mu sync.Mutex
}

// Send writes a message to the client.
func (r *controlConn) Send(msg *protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return r.Conn.WriteMessage(websocket.TextMessage, data)
}

// Controller accepts remote-control websocket clients that may hang up
// the call.
type Controller struct {
	mu      sync.RWMutex
	clients map[string]*controlConn
	logger  *slog.Logger

	onDisconnect func()

	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
}

// NewController creates a controller. onDisconnect runs for every
// disconnect command.
func NewController(onDisconnect func(), logger *slog.Logger) *Controller {
	return &Controller{
		clients:      make(map[string]*controlConn),
		logger:       logger,
		onDisconnect: onDisconnect,
	}
}

// Handler returns the fiber handler for the control endpoint.
func (h *Controller) Handler() fiber.Handler {
	return websocket.New(h.handle)
}

func (h *Controller) handle(c *websocket.Conn) {
	id := c.Params("id")
	if id == "" {
		id = uuid.NewString()
	}

	client := &controlConn{
		ID:        id,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	h.mu.Lock()
	h.clients[id] = client
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("control client connected", "client", id, "clients", count)

	defer func() {
		h.mu.Lock()
		delete(h.clients, id)
		count := len(h.clients)
		h.mu.Unlock()
		h.logger.Debug("control client disconnected", "client", id, "clients", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("control read failed", "client", id, "error", err)
			}
			return
		}

		client.mu.Lock()
		client.LastSeen = time.Now()
		client.mu.Unlock()

		h.messagesReceived.Add(1)
		h.handleMessage(client, data)
	}
}

func (h *Controller) handleMessage(client *controlConn, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.logger.Debug("control parse failed", "client", client.ID, "error", err)
		h.reply(client, mustError(err))
		return
	}

	switch msg.Type {
	case protocol.TypeDisconnect:
		h.logger.Info("disconnect requested", "client", client.ID)
		if h.onDisconnect != nil {
			h.onDisconnect()
		}

	case protocol.TypePing:
		pong, err := protocol.NewPongMessage(msg.Timestamp)
		if err == nil {
			h.reply(client, pong)
		}

	default:
		h.logger.Debug("ignoring control message", "client", client.ID, "type", msg.Type)
	}
}

func (h *Controller) reply(client *controlConn, msg *protocol.Message) {
	if msg == nil {
		return
	}
	h.messagesSent.Add(1)
	if err := client.Send(msg); err != nil {
		h.logger.Debug("control send failed", "client", client.ID, "error", err)
	}
}

// Broadcast sends a message to every control client.
func (h *Controller) Broadcast(msg *protocol.Message) {
	h.mu.RLock()
	clients := make([]*controlConn, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.reply(c, msg)
	}
}

// ClientCount returns the number of connected control clients.
func (h *Controller) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ControlStats contains controller statistics
type ControlStats struct {
	Clients          int    `json:"clients"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
}

// Stats returns controller statistics.
func (h *Controller) Stats() ControlStats {
	return ControlStats{
		Clients:          h.ClientCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
	}
}

func mustError(err error) *protocol.Message {
	msg, _ := protocol.NewErrorMessage(err)
	return msg
}
