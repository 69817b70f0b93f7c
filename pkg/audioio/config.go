// Package audioio provides audio capture, playback and PCM framing for voice calls.
//
// This package supports multiple backends:
//   - PortAudio - default on desktop hosts
//   - miniaudio (malgo) - alternative native backend
//   - RTP - output only, streams Opus over UDP to a remote speaker
//   - Mock - CI/Testing without hardware
//
// Output backends render from a Timeline so that playback can be scheduled
// against the device clock rather than written into a FIFO.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendPortAudio uses PortAudio for cross-platform audio I/O.
	BackendPortAudio Backend = "portaudio"
	// BackendMiniaudio uses miniaudio through malgo.
	BackendMiniaudio Backend = "miniaudio"
	// BackendRTP sends Opus-encoded RTP packets to Config.Device (host:port).
	// Output only.
	BackendRTP Backend = "rtp"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Sample rates used by the Live API.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000

	// DefaultFramesPerBuffer is the capture window size (256ms at 16kHz).
	DefaultFramesPerBuffer = 4096
)

// Config holds audio device configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto" (PortAudio)
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of device channels. Samples exchanged with
	// callers are always mono; multi-channel devices are up/down mixed.
	Channels int `yaml:"channels" json:"channels"`

	// FramesPerBuffer is the number of samples per capture window or
	// per device callback for output.
	FramesPerBuffer int `yaml:"frames_per_buffer" json:"frames_per_buffer"`

	// Device is the backend-specific device identifier.
	// Examples:
	//   - PortAudio / miniaudio: device name, empty for default
	//   - RTP: "host:port" destination
	//   - Mock: ignored
	Device string `yaml:"device" json:"device"`

	// Voice processing requested from the input device. Backends that
	// cannot provide them log it once and continue.
	EchoCancellation bool `yaml:"echo_cancellation" json:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression" json:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control" json:"auto_gain_control"`
}

// DefaultInputConfig returns the microphone configuration used for calls:
// 16kHz mono, 4096-sample windows, all voice processing requested.
func DefaultInputConfig() Config {
	return Config{
		Backend:          BackendAuto,
		SampleRate:       InputSampleRate,
		Channels:         1,
		FramesPerBuffer:  DefaultFramesPerBuffer,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// DefaultOutputConfig returns the speaker configuration used for calls.
func DefaultOutputConfig() Config {
	return Config{
		Backend:         BackendAuto,
		SampleRate:      OutputSampleRate,
		Channels:        1,
		FramesPerBuffer: 480, // 20ms
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 || c.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.FramesPerBuffer <= 0 {
		return fmt.Errorf("frames_per_buffer must be positive, got %d", c.FramesPerBuffer)
	}
	if c.Backend == BackendRTP && c.Device == "" {
		return fmt.Errorf("rtp backend requires device (host:port)")
	}
	return nil
}

// BufferDuration returns the duration of one buffer.
func (c *Config) BufferDuration() time.Duration {
	return FramesToDuration(int64(c.FramesPerBuffer), c.SampleRate)
}

// BufferBytes returns the size of a buffer in bytes as PCM16.
func (c *Config) BufferBytes() int {
	return c.FramesPerBuffer * c.Channels * 2
}

// ProcessingRequested reports whether any voice processing flag is set.
func (c *Config) ProcessingRequested() bool {
	return c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl
}

// FramesToDuration converts a sample count to a duration at rate.
func FramesToDuration(frames int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(frames * int64(time.Second) / int64(rate))
}

// DurationToFrames converts a duration to the nearest sample index at rate.
func DurationToFrames(d time.Duration, rate int) int64 {
	if rate <= 0 {
		return 0
	}
	f := d.Seconds() * float64(rate)
	if f < 0 {
		return int64(f - 0.5)
	}
	return int64(f + 0.5)
}
