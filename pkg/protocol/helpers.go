package protocol

import (
	"time"

	"github.com/teslashibe/go-mevy/pkg/transcript"
)

// NewStateMessage creates a state message
func NewStateMessage(sessionID, state string) (*Message, error) {
	return NewMessage(TypeState, StateData{SessionID: sessionID, State: state})
}

// NewTranscriptMessage creates a transcript message
func NewTranscriptMessage(speaker transcript.Speaker, text string, final bool) (*Message, error) {
	return NewMessage(TypeTranscript, TranscriptData{Speaker: speaker, Text: text, Final: final})
}

// NewLevelMessage creates an activity level message
func NewLevelMessage(level float64) (*Message, error) {
	return NewMessage(TypeLevel, LevelData{Level: level})
}

// NewEndedMessage creates a session summary message
func NewEndedMessage(sessionID string, durationSeconds int, turns []transcript.Turn) (*Message, error) {
	if turns == nil {
		turns = []transcript.Turn{}
	}
	return NewMessage(TypeEnded, EndedData{
		SessionID:       sessionID,
		DurationSeconds: durationSeconds,
		Turns:           turns,
	})
}

// NewErrorMessage creates an error message
func NewErrorMessage(err error) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: err.Error()})
}

// NewPongMessage answers a ping sent at pingTS
func NewPongMessage(pingTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{PingTimestamp: pingTS, ServerTime: time.Now().UnixMilli()})
}
