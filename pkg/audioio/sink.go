package audioio

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrVoiceStopped is returned by Voice.Stop when the voice already
// finished playing or was stopped before.
var ErrVoiceStopped = errors.New("audioio: voice already stopped")

// Voice is a buffer scheduled on an output device.
type Voice interface {
	// ID identifies the voice on its sink.
	ID() uint64

	// Stop silences the voice immediately. Its end callback is not invoked.
	Stop() error
}

// Sink plays audio to a speaker or other output device.
//
// Sinks expose the device clock: Now reports how much audio the device has
// rendered since Start. Play schedules a buffer to begin at a position on
// that clock, which allows back-to-back buffers to play without gaps.
type Sink interface {
	// Start opens the device and starts the clock.
	Start(ctx context.Context) error

	// Stop halts playback and releases the device.
	// It is safe to call Stop multiple times.
	Stop() error

	// Now returns the current device time.
	Now() time.Duration

	// Play schedules mono samples at the sink sample rate to begin at
	// device time at. Times in the past start immediately. onEnd, if set,
	// runs on the device thread once the samples have been rendered and
	// must not block.
	Play(samples []float32, at time.Duration, onEnd func()) (Voice, error)

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name.
	Name() string

	// Stats returns playback counters.
	Stats() SinkStats

	// Close releases all resources.
	// After Close, the sink cannot be restarted.
	io.Closer
}

// SinkStats contains statistics about the audio sink.
type SinkStats struct {
	// VoicesScheduled is the total number of buffers passed to Play.
	VoicesScheduled int64 `json:"voices_scheduled"`

	// VoicesCompleted is the number of buffers rendered to the end.
	VoicesCompleted int64 `json:"voices_completed"`

	// VoicesStopped is the number of buffers stopped early.
	VoicesStopped int64 `json:"voices_stopped"`

	// FramesRendered is the device clock in samples.
	FramesRendered int64 `json:"frames_rendered"`

	// Running indicates if the sink is currently playing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`

	// Pending is the number of voices not yet finished.
	Pending int `json:"pending"`
}
