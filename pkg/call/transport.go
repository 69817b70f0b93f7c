package call

import (
	"context"

	"github.com/teslashibe/go-mevy/pkg/audioio"
	"github.com/teslashibe/go-mevy/pkg/transcript"
)

// Setup is the session handshake sent when a transport is dialed.
type Setup struct {
	// SessionID identifies the call in logs.
	SessionID string

	// Model is the Live API model.
	Model string

	// SystemInstruction is the persona prompt.
	SystemInstruction string

	// Voice is the prebuilt voice for audio responses.
	Voice Voice

	// InputSampleRate is the rate of frames passed to SendAudio.
	InputSampleRate int

	// OutputSampleRate is the expected rate of agent audio.
	OutputSampleRate int

	// TranscribeInput and TranscribeOutput request transcription of the
	// user's and the agent's speech.
	TranscribeInput  bool
	TranscribeOutput bool
}

// InboundKind classifies a message from the service.
type InboundKind int

const (
	// InboundOpen signals the service accepted the setup.
	InboundOpen InboundKind = iota
	// InboundAudio carries a chunk of agent speech.
	InboundAudio
	// InboundTranscript carries a transcription fragment.
	InboundTranscript
	// InboundInterrupted signals the user barged in.
	InboundInterrupted
	// InboundError carries a service-side error.
	InboundError
	// InboundClosed signals the service closed the connection.
	InboundClosed
)

// String returns a human-readable kind.
func (k InboundKind) String() string {
	switch k {
	case InboundOpen:
		return "open"
	case InboundAudio:
		return "audio"
	case InboundTranscript:
		return "transcript"
	case InboundInterrupted:
		return "interrupted"
	case InboundError:
		return "error"
	case InboundClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Inbound is one event decoded from a service message. A single service
// message may produce several Inbound values; transports return them in
// the order interruption, audio, agent transcript, user transcript.
type Inbound struct {
	Kind InboundKind

	// Audio is little-endian PCM16 for InboundAudio.
	Audio []byte

	// SampleRate of Audio, zero when the payload did not declare one.
	SampleRate int

	// Fragment is set for InboundTranscript.
	Fragment transcript.Fragment

	// Err is set for InboundError and optionally InboundClosed.
	Err error
}

// Transport is an open bidirectional connection to the Live API.
type Transport interface {
	// SendAudio sends one microphone frame. It may be called concurrently
	// with Receive but not with itself.
	SendAudio(ctx context.Context, frame audioio.Frame) error

	// Receive blocks until the next inbound event. It returns an error
	// once the connection is unusable.
	Receive(ctx context.Context) (Inbound, error)

	// Close releases the connection. It unblocks Receive and is safe to
	// call multiple times.
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	// Dial connects and sends the setup. The returned transport reports
	// InboundOpen once the service has accepted the setup.
	Dial(ctx context.Context, setup Setup) (Transport, error)

	// Name identifies the dialer in logs.
	Name() string
}
