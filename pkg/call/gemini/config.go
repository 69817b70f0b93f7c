// Package gemini connects calls to the Gemini Live API.
//
// Two dialers are provided. LiveDialer uses the official genai SDK.
// WSDialer speaks the BidiGenerateContent WebSocket protocol directly and
// also accepts OAuth2 credentials. Both decode server messages into the
// same ordered call.Inbound events.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teslashibe/go-mevy/pkg/call"
)

const (
	// DefaultEndpoint is the Live API WebSocket endpoint.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// DefaultHandshakeTimeout bounds the WebSocket handshake.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 5 * time.Second
)

// Transport kinds accepted by NewDialer.
const (
	KindGenAI     = "genai"
	KindWebSocket = "websocket"
)

// Scopes requested for Application Default Credentials.
var Scopes = []string{
	"https://www.googleapis.com/auth/generative-language",
	"https://www.googleapis.com/auth/cloud-platform",
}

// ErrMissingCredentials is returned when neither an API key nor a token
// source is configured.
var ErrMissingCredentials = errors.New("gemini: api key or token source required")

// Config configures a dialer.
type Config struct {
	// APIKey authenticates against the Gemini API.
	APIKey string

	// Endpoint overrides the WebSocket endpoint. Only WSDialer uses it.
	Endpoint string

	// TokenSource supplies OAuth2 bearer tokens when APIKey is empty.
	// Only WSDialer uses it.
	TokenSource oauth2.TokenSource

	// HTTPClient is handed to the SDK client.
	HTTPClient *http.Client

	// HandshakeTimeout bounds the WebSocket handshake.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// DefaultTokenSource returns Application Default Credentials scoped for
// the Live API.
func DefaultTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	ts, err := google.DefaultTokenSource(ctx, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("gemini: default credentials: %w", err)
	}
	return ts, nil
}

// NewDialer returns the dialer for kind.
func NewDialer(ctx context.Context, kind string, cfg Config) (call.Dialer, error) {
	switch strings.ToLower(kind) {
	case "", KindGenAI:
		return NewLiveDialer(ctx, cfg)
	case KindWebSocket, "ws":
		return NewWSDialer(cfg)
	default:
		return nil, fmt.Errorf("gemini: unknown transport %q", kind)
	}
}

// modelName returns the fully qualified model resource name.
func modelName(model string) string {
	if strings.HasPrefix(model, "models/") || strings.HasPrefix(model, "tunedModels/") {
		return model
	}
	return "models/" + model
}
