package gemini

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/teslashibe/go-mevy/pkg/call"
)

func TestNewLiveDialer(t *testing.T) {
	t.Run("requires api key", func(t *testing.T) {
		if _, err := NewLiveDialer(context.Background(), Config{}); !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("default kind", func(t *testing.T) {
		d, err := NewDialer(context.Background(), "", Config{APIKey: "k"})
		if err != nil {
			t.Fatalf("NewDialer: %v", err)
		}
		if d.Name() != KindGenAI {
			t.Errorf("expected %s dialer, got %s", KindGenAI, d.Name())
		}
	})
}

func TestConnectConfig(t *testing.T) {
	cfg := connectConfig(testSetup())

	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != genai.ModalityAudio {
		t.Errorf("expected audio responses, got %v", cfg.ResponseModalities)
	}
	if v := cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != string(call.VoicePuck) {
		t.Errorf("voice = %q", v)
	}
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "You are Mevy." {
		t.Error("system instruction not set")
	}
	if cfg.InputAudioTranscription == nil || cfg.OutputAudioTranscription == nil {
		t.Error("both transcriptions should be enabled")
	}

	setup := testSetup()
	setup.TranscribeInput = false
	setup.SystemInstruction = ""
	cfg = connectConfig(setup)
	if cfg.InputAudioTranscription != nil {
		t.Error("input transcription should be off")
	}
	if cfg.SystemInstruction != nil {
		t.Error("empty instruction should be omitted")
	}
}
