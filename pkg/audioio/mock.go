package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing.
// It generates synthetic audio (silence or sine wave) on a ticker and
// accepts injected windows.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan Buffer
	stopCh   chan struct{}
	loopDone chan struct{}
	startErr error

	// Stats
	buffersRead atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
	starts      atomic.Int64
	stops       atomic.Int64

	// Synthetic audio generation
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
	generate  bool
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithStartError makes Start fail, simulating a denied or missing device.
func WithStartError(err error) MockSourceOption {
	return func(m *MockSource) {
		m.startErr = err
	}
}

// WithManualCapture disables the ticker; windows only arrive through Inject.
func WithManualCapture() MockSourceOption {
	return func(m *MockSource) {
		m.generate = false
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		streamCh:  make(chan Buffer, 10),
		frequency: 0, // Silence by default
		amplitude: 0.5,
		generate:  true,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.startErr != nil {
		return m.startErr
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.loopDone = make(chan struct{})
	m.streamCh = make(chan Buffer, 10)
	m.starts.Add(1)

	go m.generateLoop(ctx, m.stopCh, m.loopDone)

	m.logger.Info("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
	)

	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, stopCh, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if m.generate {
		ticker := time.NewTicker(m.cfg.BufferDuration())
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			go m.Stop()
			<-stopCh
			return
		case <-stopCh:
			return
		case <-tick:
			m.deliver(m.generateBuffer())
		}
	}
}

// Inject delivers a window as if the device had captured it.
// It reports false when the source is not running or the stream is full.
func (m *MockSource) Inject(samples []float32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return false
	}
	return m.deliver(Buffer{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Captured:   time.Now(),
	})
}

func (m *MockSource) deliver(buf Buffer) bool {
	select {
	case m.streamCh <- buf:
		m.buffersRead.Add(1)
		m.samplesRead.Add(int64(len(buf.Samples)))
		return true
	default:
		// Buffer full, drop window (overrun)
		m.overruns.Add(1)
		m.logger.Debug("mock source: buffer full, dropping window")
		return false
	}
}

func (m *MockSource) generateBuffer() Buffer {
	n := m.cfg.FramesPerBuffer
	samples := make([]float32, n)

	if m.frequency > 0 {
		for i := 0; i < n; i++ {
			samples[i] = float32(m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))

			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return Buffer{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Captured:   time.Now(),
	}
}

// Stop halts audio generation and closes the stream.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	done := m.loopDone
	m.mu.Unlock()

	<-done

	m.mu.Lock()
	close(m.streamCh)
	m.mu.Unlock()

	m.stops.Add(1)
	m.logger.Info("mock audio source stopped")

	return nil
}

// Stream returns the capture channel.
func (m *MockSource) Stream() <-chan Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Starts returns how many times the device was opened.
func (m *MockSource) Starts() int64 {
	return m.starts.Load()
}

// Stops returns how many times the device was released.
func (m *MockSource) Stops() int64 {
	return m.stops.Load()
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		BuffersRead: m.buffersRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     running,
		Backend:     "mock",
	}
}

var _ Source = (*MockSource)(nil)

// MockSink is a mock audio sink for testing.
// Its clock only moves when Advance is called, which makes scheduling
// deterministic.
type MockSink struct {
	cfg    Config
	logger *slog.Logger
	tl     *Timeline

	mu      sync.Mutex
	running bool
	closed  bool
	starts  int64
	stops   int64
	played  []float32
	record  bool
}

// NewMockSink creates a new mock audio sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &MockSink{
		cfg:    cfg,
		logger: logger,
		tl:     NewTimeline(cfg.SampleRate),
	}
}

// Record keeps every rendered sample for inspection through Played.
func (m *MockSink) Record(on bool) {
	m.mu.Lock()
	m.record = on
	m.mu.Unlock()
}

// Start begins accepting audio.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.starts++
	m.logger.Info("mock audio sink started")

	return nil
}

// Stop halts playback and silences pending voices.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.stops++
	m.mu.Unlock()

	m.tl.StopAll()
	m.logger.Info("mock audio sink stopped")

	return nil
}

// Now returns the mock device clock.
func (m *MockSink) Now() time.Duration {
	return m.tl.Now()
}

// Play schedules samples on the mock clock.
func (m *MockSink) Play(samples []float32, at time.Duration, onEnd func()) (Voice, error) {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	if !running {
		return nil, io.ErrClosedPipe
	}
	return m.tl.Schedule(samples, at, onEnd), nil
}

// Advance renders d worth of audio, moving the clock and firing end callbacks.
func (m *MockSink) Advance(d time.Duration) {
	frames := DurationToFrames(d, m.cfg.SampleRate)
	block := make([]float32, 1024)
	for frames > 0 {
		n := min(frames, int64(len(block)))
		m.tl.Render(block[:n])

		m.mu.Lock()
		if m.record {
			m.played = append(m.played, block[:n]...)
		}
		m.mu.Unlock()

		frames -= n
	}
}

// Played returns the samples rendered while recording.
func (m *MockSink) Played() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float32(nil), m.played...)
}

// Timeline exposes the mixer for tests.
func (m *MockSink) Timeline() *Timeline {
	return m.tl
}

// Config returns the audio configuration.
func (m *MockSink) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSink) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Releases returns how many times the device was released.
func (m *MockSink) Releases() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
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
		Backend:         "mock",
		Pending:         m.tl.Pending(),
	}
}

var _ Sink = (*MockSink)(nil)
