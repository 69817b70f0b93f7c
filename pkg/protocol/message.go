// Package protocol defines the WebSocket messages exchanged with dashboard
// and remote-control clients of a call.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-mevy/pkg/transcript"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Server → client events
	TypeState      MessageType = "state"      // Session state change
	TypeTranscript MessageType = "transcript" // Transcription fragment
	TypeLevel      MessageType = "level"      // Activity level
	TypeEnded      MessageType = "ended"      // Session summary
	TypeError      MessageType = "error"      // Fatal session error

	// Client → server commands
	TypeDisconnect MessageType = "disconnect" // Hang up

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// StateData reports a session state change.
type StateData struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// TranscriptData is one transcription fragment.
type TranscriptData struct {
	Speaker transcript.Speaker `json:"speaker"`
	Text    string             `json:"text"`
	Final   bool               `json:"final"`
}

// LevelData is the activity level in [0, 1].
type LevelData struct {
	Level float64 `json:"level"`
}

// EndedData summarizes a finished session.
type EndedData struct {
	SessionID       string            `json:"session_id"`
	DurationSeconds int               `json:"duration_seconds"`
	Turns           []transcript.Turn `json:"turns"`
}

// ErrorData carries the error that ended a session.
type ErrorData struct {
	Message string `json:"message"`
}

// PongData answers a ping.
type PongData struct {
	PingTimestamp int64 `json:"ping_ts"`
	ServerTime    int64 `json:"server_time"`
}
