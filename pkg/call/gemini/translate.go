package gemini

import (
	"errors"
	"log/slog"
	"mime"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/teslashibe/go-mevy/pkg/call"
	"github.com/teslashibe/go-mevy/pkg/transcript"
)

// translate converts a server message into session events. Within one
// message the order is: open, interruption, audio, agent transcript, user
// transcript, turn completion.
func translate(msg *genai.LiveServerMessage, logger *slog.Logger) []call.Inbound {
	if msg == nil {
		return nil
	}

	var out []call.Inbound

	if msg.SetupComplete != nil {
		out = append(out, call.Inbound{Kind: call.InboundOpen})
	}

	if msg.GoAway != nil {
		logger.Warn("server going away", "time_left", msg.GoAway.TimeLeft)
	}

	sc := msg.ServerContent
	if sc == nil {
		return out
	}

	if sc.Interrupted {
		out = append(out, call.Inbound{Kind: call.InboundInterrupted})
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			rate, ok := audioRate(part.InlineData.MIMEType)
			if !ok {
				logger.Debug("ignoring non-audio part", "mime_type", part.InlineData.MIMEType)
				continue
			}
			out = append(out, call.Inbound{
				Kind:       call.InboundAudio,
				Audio:      part.InlineData.Data,
				SampleRate: rate,
			})
		}
	}

	agentFinal := false
	if t := sc.OutputTranscription; t != nil {
		agentFinal = sc.TurnComplete || t.Finished
		out = append(out, transcriptEvent(transcript.SpeakerAgent, t.Text, agentFinal))
	}
	if t := sc.InputTranscription; t != nil {
		out = append(out, transcriptEvent(transcript.SpeakerUser, t.Text, sc.TurnComplete || t.Finished))
	}

	// A bare turnComplete closes the agent's open turn.
	if sc.TurnComplete && !agentFinal {
		out = append(out, transcriptEvent(transcript.SpeakerAgent, "", true))
	}

	return out
}

func transcriptEvent(speaker transcript.Speaker, text string, final bool) call.Inbound {
	return call.Inbound{
		Kind:     call.InboundTranscript,
		Fragment: transcript.Fragment{Speaker: speaker, Text: text, Final: final},
	}
}

// audioRate parses "audio/pcm;rate=24000". It reports false for non-audio
// types and zero when the rate is absent.
func audioRate(mimeType string) (int, bool) {
	if mimeType == "" {
		return 0, true
	}
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, strings.HasPrefix(mimeType, "audio/")
	}
	if !strings.HasPrefix(mediaType, "audio/") {
		return 0, false
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return 0, true
	}
	return rate, true
}

// closeEvent maps a read error to a terminal event. Errors that are not
// WebSocket close frames are returned to the caller unchanged.
func closeEvent(err error) (call.Inbound, bool) {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return call.Inbound{}, false
	}
	if ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway {
		return call.Inbound{Kind: call.InboundClosed}, true
	}
	return call.Inbound{Kind: call.InboundClosed, Err: ce}, true
}

// queue holds events decoded from one message until Receive hands them out.
// Only the receiving goroutine touches it.
type queue struct {
	pending []call.Inbound
}

func (q *queue) push(evs []call.Inbound) {
	q.pending = append(q.pending, evs...)
}

func (q *queue) pop() (call.Inbound, bool) {
	if len(q.pending) == 0 {
		return call.Inbound{}, false
	}
	ev := q.pending[0]
	q.pending = q.pending[1:]
	return ev, true
}
