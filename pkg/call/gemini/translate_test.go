package gemini

import (
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/teslashibe/go-mevy/internal/log"
	"github.com/teslashibe/go-mevy/pkg/call"
	"github.com/teslashibe/go-mevy/pkg/transcript"
)

func audioPart(mimeType string, data []byte) *genai.Part {
	return &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}}
}

func TestTranslate(t *testing.T) {
	pcm := []byte{1, 0, 2, 0}

	tests := []struct {
		name string
		msg  *genai.LiveServerMessage
		want []call.Inbound
	}{
		{
			name: "nil",
			msg:  nil,
			want: nil,
		},
		{
			name: "setup complete",
			msg:  &genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}},
			want: []call.Inbound{{Kind: call.InboundOpen}},
		},
		{
			name: "audio with rate",
			msg: &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
				ModelTurn: &genai.Content{Parts: []*genai.Part{audioPart("audio/pcm;rate=24000", pcm)}},
			}},
			want: []call.Inbound{{Kind: call.InboundAudio, Audio: pcm, SampleRate: 24000}},
		},
		{
			name: "audio without rate",
			msg: &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
				ModelTurn: &genai.Content{Parts: []*genai.Part{audioPart("audio/pcm", pcm)}},
			}},
			want: []call.Inbound{{Kind: call.InboundAudio, Audio: pcm}},
		},
		{
			name: "non-audio and empty parts skipped",
			msg: &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
				ModelTurn: &genai.Content{Parts: []*genai.Part{
					{Text: "thinking"},
					audioPart("image/png", pcm),
					audioPart("audio/pcm;rate=24000", nil),
					nil,
				}},
			}},
			want: nil,
		},
		{
			name: "interruption precedes audio and transcripts",
			msg: &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
				Interrupted:         true,
				ModelTurn:           &genai.Content{Parts: []*genai.Part{audioPart("audio/pcm;rate=24000", pcm)}},
				OutputTranscription: &genai.Transcription{Text: "Sure"},
				InputTranscription:  &genai.Transcription{Text: "wait"},
			}},
			want: []call.Inbound{
				{Kind: call.InboundInterrupted},
				{Kind: call.InboundAudio, Audio: pcm, SampleRate: 24000},
				{Kind: call.InboundTranscript, Fragment: transcript.Fragment{Speaker: transcript.SpeakerAgent, Text: "Sure"}},
				{Kind: call.InboundTranscript, Fragment: transcript.Fragment{Speaker: transcript.SpeakerUser, Text: "wait"}},
			},
		},
		{
			name: "turn complete finalizes transcripts",
			msg: &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
				TurnComplete:        true,
				OutputTranscription: &genai.Transcription{Text: "bye"},
			}},
			want: []call.Inbound{
				{Kind: call.InboundTranscript, Fragment: transcript.Fragment{Speaker: transcript.SpeakerAgent, Text: "bye", Final: true}},
			},
		},
		{
			name: "finished transcription is final",
			msg: &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
				InputTranscription: &genai.Transcription{Text: "hello", Finished: true},
			}},
			want: []call.Inbound{
				{Kind: call.InboundTranscript, Fragment: transcript.Fragment{Speaker: transcript.SpeakerUser, Text: "hello", Final: true}},
			},
		},
		{
			name: "bare turn complete",
			msg: &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
				TurnComplete: true,
			}},
			want: []call.Inbound{
				{Kind: call.InboundTranscript, Fragment: transcript.Fragment{Speaker: transcript.SpeakerAgent, Final: true}},
			},
		},
		{
			name: "go away only",
			msg:  &genai.LiveServerMessage{GoAway: &genai.LiveServerGoAway{}},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(tt.msg, log.Discard())
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events %+v, want %d", len(got), got, len(tt.want))
			}
			for i := range tt.want {
				g, w := got[i], tt.want[i]
				if g.Kind != w.Kind || g.SampleRate != w.SampleRate || g.Fragment != w.Fragment || string(g.Audio) != string(w.Audio) {
					t.Errorf("event %d = %+v, want %+v", i, g, w)
				}
			}
		})
	}
}

func TestAudioRate(t *testing.T) {
	tests := []struct {
		mime  string
		rate  int
		audio bool
	}{
		{"audio/pcm;rate=24000", 24000, true},
		{"audio/pcm; rate=16000", 16000, true},
		{"audio/pcm", 0, true},
		{"", 0, true},
		{"audio/pcm;rate=abc", 0, true},
		{"image/jpeg", 0, false},
		{"text/plain", 0, false},
	}

	for _, tt := range tests {
		rate, audio := audioRate(tt.mime)
		if rate != tt.rate || audio != tt.audio {
			t.Errorf("audioRate(%q) = %d, %v; want %d, %v", tt.mime, rate, audio, tt.rate, tt.audio)
		}
	}
}

func TestCloseEvent(t *testing.T) {
	t.Run("normal closure", func(t *testing.T) {
		ev, ok := closeEvent(&websocket.CloseError{Code: websocket.CloseNormalClosure})
		if !ok || ev.Kind != call.InboundClosed || ev.Err != nil {
			t.Errorf("unexpected event %+v ok=%v", ev, ok)
		}
	})

	t.Run("policy violation carries reason", func(t *testing.T) {
		ev, ok := closeEvent(&websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "quota"})
		if !ok || ev.Kind != call.InboundClosed || ev.Err == nil {
			t.Errorf("unexpected event %+v ok=%v", ev, ok)
		}
	})

	t.Run("other errors pass through", func(t *testing.T) {
		if _, ok := closeEvent(errors.New("reset")); ok {
			t.Error("plain errors are not close events")
		}
	})
}

func TestQueue(t *testing.T) {
	var q queue
	if _, ok := q.pop(); ok {
		t.Fatal("empty queue should not pop")
	}
	q.push([]call.Inbound{{Kind: call.InboundOpen}, {Kind: call.InboundInterrupted}})
	q.push([]call.Inbound{{Kind: call.InboundClosed}})

	for _, want := range []call.InboundKind{call.InboundOpen, call.InboundInterrupted, call.InboundClosed} {
		ev, ok := q.pop()
		if !ok || ev.Kind != want {
			t.Errorf("pop = %v/%v, want %v", ev.Kind, ok, want)
		}
	}
}

func TestModelName(t *testing.T) {
	if got := modelName("gemini-live"); got != "models/gemini-live" {
		t.Errorf("got %q", got)
	}
	if got := modelName("models/gemini-live"); got != "models/gemini-live" {
		t.Errorf("got %q", got)
	}
}
