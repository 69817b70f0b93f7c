package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/teslashibe/go-mevy/pkg/audioio"
	"github.com/teslashibe/go-mevy/pkg/call"
)

// WSDialer speaks the BidiGenerateContent protocol over a raw WebSocket.
type WSDialer struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewWSDialer creates a WebSocket dialer. It authenticates with the API key
// when set and with bearer tokens from cfg.TokenSource otherwise.
func NewWSDialer(cfg Config) (*WSDialer, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" && cfg.TokenSource == nil {
		return nil, ErrMissingCredentials
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("gemini: invalid endpoint: %w", err)
	}

	return &WSDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: cfg.Logger.With("component", "gemini", "transport", KindWebSocket),
	}, nil
}

// Name implements call.Dialer.
func (d *WSDialer) Name() string {
	return KindWebSocket
}

// Dial implements call.Dialer.
func (d *WSDialer) Dial(ctx context.Context, setup call.Setup) (call.Transport, error) {
	target, header, err := d.target()
	if err != nil {
		return nil, err
	}

	conn, resp, err := d.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("gemini: dial: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}

	t := &wsTransport{
		conn:         conn,
		writeTimeout: d.cfg.WriteTimeout,
		logger:       d.logger.With("session_id", setup.SessionID),
	}

	if err := t.writeJSON(newSetupMessage(setup)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gemini: send setup: %w", err)
	}
	t.stop = context.AfterFunc(ctx, func() { _ = t.Close() })

	d.logger.Debug("websocket session opened", "session_id", setup.SessionID, "model", setup.Model)
	return t, nil
}

// target returns the endpoint URL and auth header.
func (d *WSDialer) target() (string, http.Header, error) {
	u, err := url.Parse(d.cfg.Endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("gemini: invalid endpoint: %w", err)
	}
	header := make(http.Header)

	if d.cfg.APIKey != "" {
		q := u.Query()
		q.Set("key", d.cfg.APIKey)
		u.RawQuery = q.Encode()
		return u.String(), header, nil
	}

	tok, err := d.cfg.TokenSource.Token()
	if err != nil {
		return "", nil, fmt.Errorf("gemini: fetch token: %w", err)
	}
	header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	return u.String(), header, nil
}

// Wire messages. Shared fields reuse the SDK types so both dialers send
// the same setup.
type (
	setupMessage struct {
		Setup liveSetup `json:"setup"`
	}

	liveSetup struct {
		Model                    string                          `json:"model"`
		GenerationConfig         generationConfig                `json:"generationConfig"`
		SystemInstruction        *genai.Content                  `json:"systemInstruction,omitempty"`
		InputAudioTranscription  *genai.AudioTranscriptionConfig `json:"inputAudioTranscription,omitempty"`
		OutputAudioTranscription *genai.AudioTranscriptionConfig `json:"outputAudioTranscription,omitempty"`
	}

	generationConfig struct {
		ResponseModalities []genai.Modality    `json:"responseModalities"`
		SpeechConfig       *genai.SpeechConfig `json:"speechConfig,omitempty"`
	}

	realtimeInputMessage struct {
		RealtimeInput realtimeInput `json:"realtimeInput"`
	}

	realtimeInput struct {
		Audio *genai.Blob `json:"audio"`
	}
)

func newSetupMessage(setup call.Setup) setupMessage {
	cc := connectConfig(setup)
	return setupMessage{Setup: liveSetup{
		Model: modelName(setup.Model),
		GenerationConfig: generationConfig{
			ResponseModalities: cc.ResponseModalities,
			SpeechConfig:       cc.SpeechConfig,
		},
		SystemInstruction:        cc.SystemInstruction,
		InputAudioTranscription:  cc.InputAudioTranscription,
		OutputAudioTranscription: cc.OutputAudioTranscription,
	}}
}

type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       *slog.Logger
	stop         func() bool

	writeMu sync.Mutex
	queue   queue

	closeOnce sync.Once
	closeErr  error
}

// SendAudio implements call.Transport.
func (t *wsTransport) SendAudio(ctx context.Context, frame audioio.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.writeJSON(realtimeInputMessage{
		RealtimeInput: realtimeInput{
			Audio: &genai.Blob{MIMEType: frame.MIMEType(), Data: frame.Bytes()},
		},
	})
}

// Receive implements call.Transport.
func (t *wsTransport) Receive(ctx context.Context) (call.Inbound, error) {
	for {
		if ev, ok := t.queue.pop(); ok {
			return ev, nil
		}
		if err := ctx.Err(); err != nil {
			return call.Inbound{}, err
		}

		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if ev, ok := closeEvent(err); ok {
				return ev, nil
			}
			return call.Inbound{}, err
		}

		evs, err := t.decode(data)
		if err != nil {
			return call.Inbound{}, err
		}
		t.queue.push(evs)
	}
}

func (t *wsTransport) decode(data []byte) ([]call.Inbound, error) {
	var envelope struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.logger.Debug("skipping malformed message", "bytes", len(data), "error", err)
		return nil, nil
	}
	if e := envelope.Error; e != nil {
		return []call.Inbound{{
			Kind: call.InboundError,
			Err:  fmt.Errorf("gemini: %s (%d): %s", e.Status, e.Code, e.Message),
		}}, nil
	}

	var msg genai.LiveServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.logger.Debug("skipping undecodable message", "bytes", len(data), "error", err)
		return nil, nil
	}
	return translate(&msg, t.logger), nil
}

func (t *wsTransport) writeJSON(v any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return t.conn.WriteJSON(v)
}

// Close implements call.Transport. It sends a close frame before dropping
// the connection.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.stop != nil {
			t.stop()
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

var _ call.Dialer = (*WSDialer)(nil)
