package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/genai"

	"github.com/teslashibe/go-mevy/pkg/audioio"
	"github.com/teslashibe/go-mevy/pkg/call"
)

// LiveDialer dials through the genai SDK.
type LiveDialer struct {
	client *genai.Client
	logger *slog.Logger
}

// NewLiveDialer creates an SDK client. The SDK path authenticates with an
// API key only.
func NewLiveDialer(ctx context.Context, cfg Config) (*LiveDialer, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &LiveDialer{
		client: client,
		logger: cfg.Logger.With("component", "gemini", "transport", KindGenAI),
	}, nil
}

// Name implements call.Dialer.
func (d *LiveDialer) Name() string {
	return KindGenAI
}

// Dial implements call.Dialer.
func (d *LiveDialer) Dial(ctx context.Context, setup call.Setup) (call.Transport, error) {
	session, err := d.client.Live.Connect(ctx, setup.Model, connectConfig(setup))
	if err != nil {
		return nil, fmt.Errorf("gemini: connect: %w", err)
	}

	t := &liveTransport{
		session: session,
		logger:  d.logger.With("session_id", setup.SessionID),
	}
	t.stop = context.AfterFunc(ctx, func() { _ = t.Close() })

	d.logger.Debug("live session opened", "session_id", setup.SessionID, "model", setup.Model)
	return t, nil
}

// connectConfig builds the SDK setup: audio responses, the prebuilt voice,
// the persona prompt and transcription of both sides.
func connectConfig(setup call.Setup) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: string(setup.Voice)},
			},
		},
	}
	if setup.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: setup.SystemInstruction}},
		}
	}
	if setup.TranscribeInput {
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if setup.TranscribeOutput {
		cfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return cfg
}

type liveTransport struct {
	session *genai.Session
	logger  *slog.Logger
	stop    func() bool

	queue queue

	closeOnce sync.Once
	closeErr  error
}

// SendAudio implements call.Transport.
func (t *liveTransport) SendAudio(ctx context.Context, frame audioio.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{
			MIMEType: frame.MIMEType(),
			Data:     frame.Bytes(),
		},
	})
}

// Receive implements call.Transport. The SDK read is not cancellable, so
// ctx cancellation closes the session from the AfterFunc set in Dial.
func (t *liveTransport) Receive(ctx context.Context) (call.Inbound, error) {
	for {
		if ev, ok := t.queue.pop(); ok {
			return ev, nil
		}
		if err := ctx.Err(); err != nil {
			return call.Inbound{}, err
		}

		msg, err := t.session.Receive()
		if err != nil {
			if ev, ok := closeEvent(err); ok {
				return ev, nil
			}
			return call.Inbound{}, err
		}
		t.queue.push(translate(msg, t.logger))
	}
}

// Close implements call.Transport.
func (t *liveTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.stop != nil {
			t.stop()
		}
		t.closeErr = t.session.Close()
	})
	return t.closeErr
}

var _ call.Dialer = (*LiveDialer)(nil)
