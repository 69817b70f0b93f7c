package audioio

import (
	"context"
	"io"
	"time"
)

// Buffer is one fixed-size window of captured mono audio.
type Buffer struct {
	// Samples holds float samples in [-1, 1].
	Samples []float32

	// SampleRate is the sample rate of this buffer.
	SampleRate int

	// Captured is the wall-clock time the window was delivered by the device.
	Captured time.Time
}

// Duration returns the duration of this buffer.
func (b Buffer) Duration() time.Duration {
	return FramesToDuration(int64(len(b.Samples)), b.SampleRate)
}

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start opens the device and begins capture.
	// After calling Start, windows are delivered on Stream.
	Start(ctx context.Context) error

	// Stop halts capture and releases the device.
	// The stream channel is closed before Stop returns.
	// It is safe to call Stop multiple times.
	Stop() error

	// Stream returns a channel that receives capture windows.
	// The channel is closed when the source is stopped.
	Stream() <-chan Buffer

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "portaudio", "miniaudio", "mock").
	Name() string

	// Stats returns capture counters.
	Stats() SourceStats

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	// BuffersRead is the total number of windows delivered.
	BuffersRead int64 `json:"buffers_read"`

	// SamplesRead is the total number of samples delivered.
	SamplesRead int64 `json:"samples_read"`

	// Overruns is the number of windows dropped because the reader was slow.
	Overruns int64 `json:"overruns"`

	// Running indicates if the source is currently capturing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}
