package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"
)

// RTP/Opus constants. Opus always uses a 48kHz RTP clock regardless of
// the encoder input rate.
const (
	rtpOpusClockRate   = 48000
	rtpOpusPayloadType = 111
	rtpPacketDuration  = 20 * time.Millisecond
	maxOpusPacketBytes = 1500
)

// RTPSink renders the Timeline in real time, encodes it with Opus and sends
// it as RTP over UDP. It lets a call play through a remote speaker (for
// example a robot or a media gateway) instead of a local device.
type RTPSink struct {
	cfg    Config
	logger *slog.Logger
	tl     *Timeline

	mu      sync.Mutex
	conn    net.Conn
	enc     *opus.Encoder
	running bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}

	ssrc uint32
	seq  uint16
	ts   uint32

	packetsSent atomic.Int64
	sendErrors  atomic.Int64
}

func newRTPSink(cfg Config, logger *slog.Logger) (*RTPSink, error) {
	switch cfg.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("opus does not support %d Hz", cfg.SampleRate)
	}

	return &RTPSink{
		cfg:    cfg,
		logger: logger,
		tl:     NewTimeline(cfg.SampleRate),
		ssrc:   rand.Uint32(),
		seq:    uint16(rand.Uint32()),
		ts:     rand.Uint32(),
	}, nil
}

// Start dials the destination and starts the packet clock.
func (r *RTPSink) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return io.ErrClosedPipe
	}
	if r.running {
		return nil
	}

	enc, err := opus.NewEncoder(r.cfg.SampleRate, r.cfg.Channels, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("opus encoder: %w", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", r.cfg.Device)
	if err != nil {
		return fmt.Errorf("dial rtp destination %s: %w", r.cfg.Device, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.conn = conn
	r.enc = enc
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.sendLoop(loopCtx, r.done)

	r.logger.Info("rtp playback started",
		"destination", r.cfg.Device,
		"sample_rate", r.cfg.SampleRate,
		"ssrc", r.ssrc,
	)
	return nil
}

func (r *RTPSink) sendLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	frames := int(DurationToFrames(rtpPacketDuration, r.cfg.SampleRate))
	mono := make([]float32, frames)
	pcm := make([]float32, frames*r.cfg.Channels)
	payload := make([]byte, maxOpusPacketBytes)
	tsStep := uint32(rtpOpusClockRate * rtpPacketDuration / time.Second)

	ticker := time.NewTicker(rtpPacketDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r.tl.Render(mono)
		upmix(mono, r.cfg.Channels, pcm)

		n, err := r.enc.EncodeFloat32(pcm, payload)
		if err != nil {
			r.sendErrors.Add(1)
			r.logger.Warn("opus encode failed", "error", err)
			continue
		}

		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    rtpOpusPayloadType,
				SequenceNumber: r.seq,
				Timestamp:      r.ts,
				SSRC:           r.ssrc,
			},
			Payload: payload[:n],
		}
		r.seq++
		r.ts += tsStep

		raw, err := pkt.Marshal()
		if err != nil {
			r.sendErrors.Add(1)
			continue
		}
		if _, err := r.conn.Write(raw); err != nil {
			r.sendErrors.Add(1)
			r.logger.Debug("rtp send failed", "error", err)
			continue
		}
		r.packetsSent.Add(1)
	}
}

// Now returns the packet clock.
func (r *RTPSink) Now() time.Duration { return r.tl.Now() }

// Play schedules samples on the packet clock.
func (r *RTPSink) Play(samples []float32, at time.Duration, onEnd func()) (Voice, error) {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()

	if !running {
		return nil, io.ErrClosedPipe
	}
	return r.tl.Schedule(samples, at, onEnd), nil
}

// Stop silences pending voices and closes the socket.
func (r *RTPSink) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	done := r.done
	r.mu.Unlock()

	<-done
	r.tl.StopAll()

	r.mu.Lock()
	err := r.conn.Close()
	r.conn = nil
	r.mu.Unlock()

	r.logger.Info("rtp playback stopped",
		"packets_sent", r.packetsSent.Load(),
		"send_errors", r.sendErrors.Load(),
	)
	return err
}

// Config returns the audio configuration.
func (r *RTPSink) Config() Config { return r.cfg }

// Name returns "rtp".
func (r *RTPSink) Name() string { return string(BackendRTP) }

// Close releases resources.
func (r *RTPSink) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.Stop()
}

// Stats returns sink statistics.
func (r *RTPSink) Stats() SinkStats {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()

	scheduled, completed, stopped := r.tl.stats()
	return SinkStats{
		VoicesScheduled: scheduled,
		VoicesCompleted: completed,
		VoicesStopped:   stopped,
		FramesRendered:  r.tl.Frames(),
		Running:         running,
		Backend:         r.Name(),
		Pending:         r.tl.Pending(),
	}
}

var _ Sink = (*RTPSink)(nil)
