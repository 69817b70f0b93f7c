package audioio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// miniaudioContext is shared by every malgo device in the process.
type miniaudioContext struct {
	mu   sync.Mutex
	refs int
	ctx  *malgo.AllocatedContext
}

var miniaudio miniaudioContext

func (m *miniaudioContext) acquire(logger *slog.Logger) (malgo.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		cfg := malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}
		ctx, err := malgo.InitContext(nil, cfg, func(msg string) {
			logger.Debug("miniaudio", "msg", msg)
		})
		if err != nil {
			return malgo.Context{}, fmt.Errorf("miniaudio init: %w", err)
		}
		m.ctx = ctx
	}
	m.refs++
	return m.ctx.Context, nil
}

func (m *miniaudioContext) release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs--
	if m.refs == 0 && m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
}

func bytesToFloat32(data []byte, out []float32) []float32 {
	out = out[:0]
	for i := 0; i+4 <= len(data); i += 4 {
		out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(data[i:])))
	}
	return out
}

func float32ToBytes(samples []float32, out []byte) {
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
}

// MiniaudioSource captures through miniaudio. Device callbacks deliver
// arbitrary frame counts, which a Framer slices into FramesPerBuffer windows.
type MiniaudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	device   *malgo.Device
	streamCh chan Buffer
	running  bool
	closed   bool

	framer  *Framer
	raw     []float32
	mono    []float32
	sending atomic.Bool

	buffersRead atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newMiniaudioSource(cfg Config, logger *slog.Logger) (*MiniaudioSource, error) {
	return &MiniaudioSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan Buffer, 8),
		framer:   NewFramer(cfg.FramesPerBuffer),
	}, nil
}

// Start opens the capture device.
func (m *MiniaudioSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	mctx, err := miniaudio.acquire(m.logger)
	if err != nil {
		return err
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(m.cfg.Channels)
	devCfg.SampleRate = uint32(m.cfg.SampleRate)
	devCfg.PeriodSizeInFrames = uint32(m.cfg.FramesPerBuffer)
	devCfg.Alsa.NoMMap = 1

	m.streamCh = make(chan Buffer, 8)
	m.framer.Reset()
	m.sending.Store(true)

	device, err := malgo.InitDevice(mctx, devCfg, malgo.DeviceCallbacks{Data: m.onData})
	if err != nil {
		miniaudio.release()
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		miniaudio.release()
		return fmt.Errorf("start capture device: %w", err)
	}

	m.device = device
	m.running = true

	logUnsupportedProcessing(m.logger, m.cfg, "miniaudio")
	m.logger.Info("miniaudio capture started",
		"sample_rate", m.cfg.SampleRate,
		"frames_per_buffer", m.cfg.FramesPerBuffer,
	)
	return nil
}

// onData runs on the miniaudio device thread.
func (m *MiniaudioSource) onData(_, input []byte, _ uint32) {
	if !m.sending.Load() {
		return
	}
	m.raw = bytesToFloat32(input, m.raw)
	m.mono = downmix(m.raw, m.cfg.Channels, m.mono)

	m.framer.Write(m.mono, func(window []float32) {
		buf := Buffer{
			Samples:    window,
			SampleRate: m.cfg.SampleRate,
			Captured:   time.Now(),
		}
		select {
		case m.streamCh <- buf:
			m.buffersRead.Add(1)
			m.samplesRead.Add(int64(len(window)))
		default:
			m.overruns.Add(1)
		}
	})
}

// Stop stops the device and closes the stream.
func (m *MiniaudioSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.sending.Store(false)
	err := m.device.Stop()
	m.device.Uninit()
	m.device = nil
	close(m.streamCh)
	miniaudio.release()

	m.logger.Info("miniaudio capture stopped", "overruns", m.overruns.Load())
	return err
}

// Stream returns the capture channel.
func (m *MiniaudioSource) Stream() <-chan Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MiniaudioSource) Config() Config { return m.cfg }

// Name returns "miniaudio".
func (m *MiniaudioSource) Name() string { return string(BackendMiniaudio) }

// Close releases resources.
func (m *MiniaudioSource) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Stop()
}

// Stats returns source statistics.
func (m *MiniaudioSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		BuffersRead: m.buffersRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     running,
		Backend:     m.Name(),
	}
}

// MiniaudioSink renders a Timeline into a miniaudio playback device.
type MiniaudioSink struct {
	cfg    Config
	logger *slog.Logger
	tl     *Timeline

	mu      sync.Mutex
	device  *malgo.Device
	running bool
	closed  bool

	mono []float32
	out  []float32
}

func newMiniaudioSink(cfg Config, logger *slog.Logger) (*MiniaudioSink, error) {
	return &MiniaudioSink{
		cfg:    cfg,
		logger: logger,
		tl:     NewTimeline(cfg.SampleRate),
	}, nil
}

// Start opens the playback device and starts the clock.
func (m *MiniaudioSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	mctx, err := miniaudio.acquire(m.logger)
	if err != nil {
		return err
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.Playback.Format = malgo.FormatF32
	devCfg.Playback.Channels = uint32(m.cfg.Channels)
	devCfg.SampleRate = uint32(m.cfg.SampleRate)
	devCfg.PeriodSizeInFrames = uint32(m.cfg.FramesPerBuffer)

	device, err := malgo.InitDevice(mctx, devCfg, malgo.DeviceCallbacks{Data: m.onData})
	if err != nil {
		miniaudio.release()
		return fmt.Errorf("init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		miniaudio.release()
		return fmt.Errorf("start playback device: %w", err)
	}

	m.device = device
	m.running = true

	m.logger.Info("miniaudio playback started", "sample_rate", m.cfg.SampleRate)
	return nil
}

// onData runs on the miniaudio device thread.
func (m *MiniaudioSink) onData(output, _ []byte, frames uint32) {
	n := int(frames)
	if cap(m.mono) < n {
		m.mono = make([]float32, n)
		m.out = make([]float32, n*m.cfg.Channels)
	}
	mono, out := m.mono[:n], m.out[:n*m.cfg.Channels]

	m.tl.Render(mono)
	upmix(mono, m.cfg.Channels, out)
	float32ToBytes(out, output)
}

// Now returns the device clock.
func (m *MiniaudioSink) Now() time.Duration { return m.tl.Now() }

// Play schedules samples on the device clock.
func (m *MiniaudioSink) Play(samples []float32, at time.Duration, onEnd func()) (Voice, error) {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	if !running {
		return nil, io.ErrClosedPipe
	}
	return m.tl.Schedule(samples, at, onEnd), nil
}

// Stop silences pending voices and releases the device.
func (m *MiniaudioSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.tl.StopAll()
	err := m.device.Stop()
	m.device.Uninit()
	m.device = nil
	miniaudio.release()

	m.logger.Info("miniaudio playback stopped")
	return err
}

// Config returns the audio configuration.
func (m *MiniaudioSink) Config() Config { return m.cfg }

// Name returns "miniaudio".
func (m *MiniaudioSink) Name() string { return string(BackendMiniaudio) }

// Close releases resources.
func (m *MiniaudioSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Stop()
}

// Stats returns sink statistics.
func (m *MiniaudioSink) Stats() SinkStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	scheduled, completed, stopped := m.tl.stats()
	return SinkStats{
		VoicesScheduled: scheduled,
		VoicesCompleted: completed,
		VoicesStopped:   stopped,
		FramesRendered:  m.tl.Frames(),
		Running:         running,
		Backend:         m.Name(),
		Pending:         m.tl.Pending(),
	}
}

var (
	_ Source = (*MiniaudioSource)(nil)
	_ Sink   = (*MiniaudioSink)(nil)
)
