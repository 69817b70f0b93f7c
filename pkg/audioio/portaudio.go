package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudio keeps an internal reference count, so every stream pairs its
// own Initialize with a Terminate.

// DeviceInfo describes an audio device for listings.
type DeviceInfo struct {
	Name              string  `json:"name"`
	HostAPI           string  `json:"host_api"`
	MaxInputChannels  int     `json:"max_input_channels"`
	MaxOutputChannels int     `json:"max_output_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
}

// ListDevices returns the PortAudio devices visible on this host.
func ListDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio devices: %w", err)
	}

	out := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		info := DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}

// findPortAudioDevice resolves a device by case-insensitive name, or the
// default device when name is empty.
func findPortAudioDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if !strings.EqualFold(d.Name, name) {
			continue
		}
		if input && d.MaxInputChannels == 0 || !input && d.MaxOutputChannels == 0 {
			continue
		}
		return d, nil
	}
	return nil, fmt.Errorf("audio device %q not found", name)
}

func logUnsupportedProcessing(logger *slog.Logger, cfg Config, backend string) {
	if !cfg.ProcessingRequested() {
		return
	}
	logger.Info("voice processing not available on backend, capturing raw audio",
		"backend", backend,
		"echo_cancellation", cfg.EchoCancellation,
		"noise_suppression", cfg.NoiseSuppression,
		"auto_gain_control", cfg.AutoGainControl,
	)
}

// PortAudioSource captures from a PortAudio input device using a callback stream.
type PortAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	stream   *portaudio.Stream
	streamCh chan Buffer
	running  bool
	closed   bool
	scratch  []float32

	buffersRead atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newPortAudioSource(cfg Config, logger *slog.Logger) (*PortAudioSource, error) {
	return &PortAudioSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan Buffer, 8),
	}, nil
}

// Start opens the input device.
func (p *PortAudioSource) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return io.ErrClosedPipe
	}
	if p.running {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}

	dev, err := findPortAudioDevice(p.cfg.Device, true)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("input device: %w", err)
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = p.cfg.Channels
	params.SampleRate = float64(p.cfg.SampleRate)
	params.FramesPerBuffer = p.cfg.FramesPerBuffer

	p.streamCh = make(chan Buffer, 8)
	stream, err := portaudio.OpenStream(params, p.process)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open input stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}

	p.stream = stream
	p.running = true

	logUnsupportedProcessing(p.logger, p.cfg, "portaudio")
	p.logger.Info("portaudio capture started",
		"device", dev.Name,
		"sample_rate", p.cfg.SampleRate,
		"frames_per_buffer", p.cfg.FramesPerBuffer,
	)

	return nil
}

// process runs on the PortAudio callback thread.
func (p *PortAudioSource) process(in []float32) {
	p.scratch = downmix(in, p.cfg.Channels, p.scratch)
	buf := Buffer{
		Samples:    append([]float32(nil), p.scratch...),
		SampleRate: p.cfg.SampleRate,
		Captured:   time.Now(),
	}

	select {
	case p.streamCh <- buf:
		p.buffersRead.Add(1)
		p.samplesRead.Add(int64(len(buf.Samples)))
	default:
		p.overruns.Add(1)
	}
}

// Stop stops the stream and releases the device.
func (p *PortAudioSource) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	// Pa_StopStream returns after the last callback has completed.
	err := p.stream.Stop()
	if cerr := p.stream.Close(); err == nil {
		err = cerr
	}
	p.stream = nil
	close(p.streamCh)
	portaudio.Terminate()

	p.logger.Info("portaudio capture stopped", "overruns", p.overruns.Load())
	return err
}

// Stream returns the capture channel.
func (p *PortAudioSource) Stream() <-chan Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamCh
}

// Config returns the audio configuration.
func (p *PortAudioSource) Config() Config { return p.cfg }

// Name returns "portaudio".
func (p *PortAudioSource) Name() string { return string(BackendPortAudio) }

// Close releases resources.
func (p *PortAudioSource) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Stop()
}

// Stats returns source statistics.
func (p *PortAudioSource) Stats() SourceStats {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	return SourceStats{
		BuffersRead: p.buffersRead.Load(),
		SamplesRead: p.samplesRead.Load(),
		Overruns:    p.overruns.Load(),
		Running:     running,
		Backend:     p.Name(),
	}
}

// PortAudioSink renders a Timeline into a PortAudio output stream.
type PortAudioSink struct {
	cfg    Config
	logger *slog.Logger
	tl     *Timeline

	mu      sync.Mutex
	stream  *portaudio.Stream
	running bool
	closed  bool
	mono    []float32
}

func newPortAudioSink(cfg Config, logger *slog.Logger) (*PortAudioSink, error) {
	return &PortAudioSink{
		cfg:    cfg,
		logger: logger,
		tl:     NewTimeline(cfg.SampleRate),
		mono:   make([]float32, cfg.FramesPerBuffer),
	}, nil
}

// Start opens the output device and starts the clock.
func (p *PortAudioSink) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return io.ErrClosedPipe
	}
	if p.running {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}

	dev, err := findPortAudioDevice(p.cfg.Device, false)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("output device: %w", err)
	}

	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = p.cfg.Channels
	params.SampleRate = float64(p.cfg.SampleRate)
	params.FramesPerBuffer = p.cfg.FramesPerBuffer

	stream, err := portaudio.OpenStream(params, p.render)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open output stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start output stream: %w", err)
	}

	p.stream = stream
	p.running = true

	p.logger.Info("portaudio playback started",
		"device", dev.Name,
		"sample_rate", p.cfg.SampleRate,
	)
	return nil
}

// render runs on the PortAudio callback thread.
func (p *PortAudioSink) render(out []float32) {
	frames := len(out) / p.cfg.Channels
	if cap(p.mono) < frames {
		p.mono = make([]float32, frames)
	}
	mono := p.mono[:frames]
	p.tl.Render(mono)
	upmix(mono, p.cfg.Channels, out)
}

// Now returns the device clock.
func (p *PortAudioSink) Now() time.Duration { return p.tl.Now() }

// Play schedules samples on the device clock.
func (p *PortAudioSink) Play(samples []float32, at time.Duration, onEnd func()) (Voice, error) {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	if !running {
		return nil, io.ErrClosedPipe
	}
	return p.tl.Schedule(samples, at, onEnd), nil
}

// Stop silences pending voices and releases the device.
func (p *PortAudioSink) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	p.tl.StopAll()
	err := p.stream.Stop()
	if cerr := p.stream.Close(); err == nil {
		err = cerr
	}
	p.stream = nil
	portaudio.Terminate()

	p.logger.Info("portaudio playback stopped")
	return err
}

// Config returns the audio configuration.
func (p *PortAudioSink) Config() Config { return p.cfg }

// Name returns "portaudio".
func (p *PortAudioSink) Name() string { return string(BackendPortAudio) }

// Close releases resources.
func (p *PortAudioSink) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Stop()
}

// Stats returns sink statistics.
func (p *PortAudioSink) Stats() SinkStats {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	scheduled, completed, stopped := p.tl.stats()
	return SinkStats{
		VoicesScheduled: scheduled,
		VoicesCompleted: completed,
		VoicesStopped:   stopped,
		FramesRendered:  p.tl.Frames(),
		Running:         running,
		Backend:         p.Name(),
		Pending:         p.tl.Pending(),
	}
}

var (
	_ Source = (*PortAudioSource)(nil)
	_ Sink   = (*PortAudioSink)(nil)
)
