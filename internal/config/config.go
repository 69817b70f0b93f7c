// Package config loads the mevy configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-mevy/pkg/audioio"
	"github.com/teslashibe/go-mevy/pkg/call"
	"github.com/teslashibe/go-mevy/pkg/call/gemini"
)

// Environment variables read by ApplyEnv.
const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvGoogleAPIKey = "GOOGLE_API_KEY"
	EnvModel        = "MEVY_MODEL"
	EnvHTTPAddr     = "MEVY_HTTP_ADDR"
	EnvLogLevel     = "LOG_LEVEL"
)

// Config is the complete application configuration.
type Config struct {
	Session   call.SessionConfig `yaml:"session"`
	Audio     AudioConfig        `yaml:"audio"`
	Transport TransportConfig    `yaml:"transport"`
	HTTP      HTTPConfig         `yaml:"http"`
	Log       LogConfig          `yaml:"log"`
}

// AudioConfig holds the capture and playback devices.
type AudioConfig struct {
	Input  audioio.Config `yaml:"input"`
	Output audioio.Config `yaml:"output"`
}

// TransportConfig selects and authenticates the Live API client.
type TransportConfig struct {
	// Kind is "genai" (default) or "websocket".
	Kind             string        `yaml:"kind"`
	APIKey           string        `yaml:"api_key"`
	Endpoint         string        `yaml:"endpoint"`
	UseADC           bool          `yaml:"use_adc"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// HTTPConfig configures the dashboard server.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Session: call.DefaultSessionConfig(),
		Audio: AudioConfig{
			Input:  audioio.DefaultInputConfig(),
			Output: audioio.DefaultOutputConfig(),
		},
		Transport: TransportConfig{
			Kind:             gemini.KindGenAI,
			HandshakeTimeout: gemini.DefaultHandshakeTimeout,
		},
		HTTP: HTTPConfig{Addr: ":8090"},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults and applies the environment.
// An empty path skips the file. The result is not validated, so callers
// can apply flags before calling Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if key := firstEnv(EnvGeminiAPIKey, EnvGoogleAPIKey); key != "" {
		c.Transport.APIKey = key
	}
	if model := os.Getenv(EnvModel); model != "" {
		c.Session.Model = model
	}
	if addr := os.Getenv(EnvHTTPAddr); addr != "" {
		c.HTTP.Addr = addr
		c.HTTP.Enabled = true
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Log.Level = level
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Audio.Input.Validate(); err != nil {
		return fmt.Errorf("audio input config: %w", err)
	}
	if c.Audio.Input.Backend == audioio.BackendRTP {
		return errors.New("audio input config: rtp backend is output only")
	}
	if err := c.Audio.Output.Validate(); err != nil {
		return fmt.Errorf("audio output config: %w", err)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return errors.New("http config: addr cannot be empty when enabled")
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	return nil
}

// Validate checks the transport kind and credentials.
func (t *TransportConfig) Validate() error {
	switch strings.ToLower(t.Kind) {
	case "", gemini.KindGenAI:
		if t.APIKey == "" {
			return fmt.Errorf("genai transport requires api_key (or %s)", EnvGeminiAPIKey)
		}
	case gemini.KindWebSocket, "ws":
		if t.APIKey == "" && !t.UseADC {
			return fmt.Errorf("websocket transport requires api_key or use_adc")
		}
	default:
		return fmt.Errorf("kind must be %q or %q, got %q", gemini.KindGenAI, gemini.KindWebSocket, t.Kind)
	}
	if t.HandshakeTimeout < 0 {
		return fmt.Errorf("handshake_timeout cannot be negative, got %s", t.HandshakeTimeout)
	}
	return nil
}

// Validate checks the log level and format.
func (l *LogConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	switch l.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("format must be 'json' or 'text', got %q", l.Format)
	}
	return nil
}

// firstEnv returns the first non-empty variable among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
