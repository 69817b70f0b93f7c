package call

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-mevy/pkg/audioio"
	"github.com/teslashibe/go-mevy/pkg/metrics"
)

// DefaultModel is the Live API model used for calls.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

// Voice is a prebuilt voice offered by the Live API.
type Voice string

const (
	VoiceKore   Voice = "Kore"
	VoicePuck   Voice = "Puck"
	VoiceFenrir Voice = "Fenrir"
	VoiceAoede  Voice = "Aoede"
	VoiceCharon Voice = "Charon"
)

// VoiceInfo describes a voice for pickers.
type VoiceInfo struct {
	Voice       Voice  `json:"voice"`
	Description string `json:"description"`
}

// Voices lists the available voices in display order.
var Voices = []VoiceInfo{
	{VoiceKore, "Calm and soothing"},
	{VoicePuck, "Playful and energetic"},
	{VoiceFenrir, "Deep and resonant"},
	{VoiceAoede, "Confident and elegant"},
	{VoiceCharon, "Steady and authoritative"},
}

// ParseVoice matches a voice name case-insensitively.
func ParseVoice(s string) (Voice, error) {
	for _, v := range Voices {
		if strings.EqualFold(string(v.Voice), s) {
			return v.Voice, nil
		}
	}
	return "", fmt.Errorf("%w: unknown voice %q", ErrInvalidConfig, s)
}

// Mode selects how the agent treats the user's English.
type Mode string

const (
	// ModeCasual is free conversation without corrections.
	ModeCasual Mode = "casual"
	// ModeTutor adds one gentle correction per user turn.
	ModeTutor Mode = "tutoring"
	// ModeDrill runs structured roleplay and repetition.
	ModeDrill Mode = "drill"
)

// ParseMode matches a mode name case-insensitively. "tutor" is accepted
// as shorthand for ModeTutor.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCasual, ModeTutor, ModeDrill:
		return m, nil
	case "tutor":
		return ModeTutor, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, s)
}

// UnmarshalText normalizes modes read from YAML or JSON.
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// SessionConfig is everything that shapes one call.
type SessionConfig struct {
	// UserName is how the agent addresses the user.
	UserName string `yaml:"user_name" json:"user_name"`

	// Voice is the agent's prebuilt voice.
	Voice Voice `yaml:"voice" json:"voice"`

	// Mode is the learning mode.
	Mode Mode `yaml:"mode" json:"mode"`

	// AgeGated reports that the user cleared the 18+ age gate. When false
	// the agent keeps a strictly friendly tone.
	AgeGated bool `yaml:"age_gated" json:"age_gated"`

	// Model is the Live API model.
	Model string `yaml:"model" json:"model"`

	// InputSampleRate is the rate of outgoing microphone frames.
	InputSampleRate int `yaml:"input_sample_rate" json:"input_sample_rate"`

	// OutputSampleRate is the rate of incoming agent audio.
	OutputSampleRate int `yaml:"output_sample_rate" json:"output_sample_rate"`
}

// DefaultSessionConfig returns the settings a new user starts with.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		UserName:         "User",
		Voice:            VoiceKore,
		Mode:             ModeCasual,
		AgeGated:         false,
		Model:            DefaultModel,
		InputSampleRate:  audioio.InputSampleRate,
		OutputSampleRate: audioio.OutputSampleRate,
	}
}

// Validate checks the configuration for required fields.
func (c *SessionConfig) Validate() error {
	if strings.TrimSpace(c.UserName) == "" {
		return fmt.Errorf("%w: user name is required", ErrInvalidConfig)
	}
	if _, err := ParseVoice(string(c.Voice)); err != nil {
		return err
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	if c.InputSampleRate <= 0 || c.OutputSampleRate <= 0 {
		return fmt.Errorf("%w: sample rates must be positive", ErrInvalidConfig)
	}
	return nil
}

// options holds the optional collaborators of a Session.
type options struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	callbacks  Callbacks
	queueSize  int
	outboxSize int
}

// Option configures a Session.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records session activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithCallbacks sets the event callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(o *options) {
		o.callbacks = cb
	}
}

// WithQueueSize sets the capacity of the inbound event queue.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithOutboxSize sets how many captured frames may wait for the transport
// before the oldest is dropped.
func WithOutboxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.outboxSize = n
		}
	}
}

func defaultOptions() options {
	return options{
		logger:     slog.Default(),
		queueSize:  256,
		outboxSize: 4,
	}
}
