// Package call runs a duplex voice call against the Gemini Live API.
//
// A Session wires the capture pipeline, a Transport and the playback
// scheduler together. Every event, whether a captured frame, a message from
// the service or a playback completion, is processed in order on a single
// session goroutine, which owns the playback schedule and transcript.
// Callbacks are delivered in order on a separate goroutine, so they may
// call Disconnect.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-mevy/pkg/audioio"
	"github.com/teslashibe/go-mevy/pkg/capture"
	"github.com/teslashibe/go-mevy/pkg/metrics"
	"github.com/teslashibe/go-mevy/pkg/playback"
	"github.com/teslashibe/go-mevy/pkg/transcript"
)

// State is the session lifecycle state.
type State int

const (
	// StateDisconnected is the state before Connect.
	StateDisconnected State = iota
	// StateConnecting indicates devices are opening and the transport is dialing.
	StateConnecting
	// StateConnected indicates audio is flowing both ways.
	StateConnected
	// StateClosed is terminal.
	StateClosed
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Callbacks receives session events. All fields are optional.
type Callbacks struct {
	// OnTranscript receives every transcription fragment as it arrives.
	OnTranscript func(speaker transcript.Speaker, text string, isFinal bool)

	// OnAudioLevel receives the activity level in [0, 1].
	OnAudioLevel func(level float64)

	// OnSessionEnded runs once when the session closes.
	OnSessionEnded func(durationSeconds int, turns []transcript.Turn)

	// OnStateChange runs on every state transition.
	OnStateChange func(state State)

	// OnError runs once with the error that ended the session.
	OnError func(err error)
}

// Events queued for the session goroutine.
type (
	frameEvent struct {
		frame audioio.Frame
		level float64
	}
	inboundEvent struct {
		msg Inbound
		err error
	}
)

// Session is one voice call.
type Session struct {
	id      string
	cfg     SessionConfig
	dialer  Dialer
	sink    audioio.Sink
	capture *capture.Pipeline
	cb      Callbacks
	logger  *slog.Logger
	metrics *metrics.Metrics

	events chan any
	outbox chan audioio.Frame
	notify chan func()

	// Playback completions bypass events so a full queue never loses one.
	endedMu     sync.Mutex
	endedIDs    []uint64
	endedSignal chan struct{}

	mu          sync.Mutex
	state       State
	err         error
	started     bool
	startedAt   time.Time
	connectedAt time.Time
	cancel      context.CancelFunc
	closing     atomic.Bool

	opened  chan struct{}
	stopped chan struct{}
	done    chan struct{}

	// Owned by the session goroutine.
	transport  Transport
	group      *errgroup.Group
	scheduler  *playback.Scheduler
	levels     *LevelPublisher
	turns      *transcript.Aggregator
	heardAgent bool
}

// New creates a session. src and sink are opened on Connect and released
// when the session closes.
func New(cfg SessionConfig, dialer Dialer, src audioio.Source, sink audioio.Sink, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil || src == nil || sink == nil {
		return nil, fmt.Errorf("%w: dialer, source and sink are required", ErrInvalidConfig)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session", "session_id", id)

	s := &Session{
		id:          id,
		cfg:         cfg,
		dialer:      dialer,
		sink:        sink,
		capture:     capture.New(src, logger),
		cb:          o.callbacks,
		logger:      logger,
		metrics:     o.metrics,
		events:      make(chan any, o.queueSize),
		outbox:      make(chan audioio.Frame, o.outboxSize),
		notify:      make(chan func(), 1024),
		endedSignal: make(chan struct{}, 1),
		opened:      make(chan struct{}),
		stopped:     make(chan struct{}),
		done:        make(chan struct{}),
		turns:       transcript.NewAggregator(),
	}
	s.scheduler = playback.New(sink, s.onPlaybackEnded, logger)
	s.levels = NewLevelPublisher(s.publishLevel)

	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Config returns the session configuration.
func (s *Session) Config() SessionConfig {
	return s.cfg
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Transcript returns the turns so far.
func (s *Session) Transcript() []transcript.Turn {
	return s.turns.Turns()
}

// Level returns the last published activity level.
func (s *Session) Level() float64 {
	l, _ := s.levels.Level()
	return l
}

// Done is closed once the session has closed and every callback has run.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Connect opens the microphone and speaker, dials the service and blocks
// until the service accepts the setup. ctx bounds the whole session. On
// failure the session is Closed and the error is returned; it is not
// retried.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected:
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	default:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true
	s.startedAt = time.Now()
	s.state = StateConnecting
	s.mu.Unlock()

	go s.dispatch()
	s.stateChanged(StateConnecting)
	s.metrics.SessionEvent("connecting")

	go s.run(runCtx)

	select {
	case <-s.opened:
		return nil
	case <-s.stopped:
		if err := s.Err(); err != nil {
			return err
		}
		return ErrSessionClosed
	}
}

// Disconnect ends the session from any state: capture stops, scheduled
// audio is flushed, the transport and devices are released and
// OnSessionEnded runs. It is idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if !s.started {
		if s.state == StateClosed {
			s.mu.Unlock()
			return
		}
		s.state = StateClosed
		close(s.stopped)
		s.mu.Unlock()

		_ = s.capture.Stop()
		_ = s.scheduler.Stop()

		go s.dispatch()
		s.stateChanged(StateClosed)
		if fn := s.cb.OnSessionEnded; fn != nil {
			turns := s.turns.Turns()
			s.emit(func() { fn(0, turns) })
		}
		s.logger.Info("session ended before connect")
		close(s.notify)
		return
	}
	s.closing.Store(true)
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.stopped
}

func (s *Session) run(ctx context.Context) {
	defer close(s.stopped)

	err := s.establish(ctx)
	if err == nil {
		err = s.loop(ctx)
	}
	s.teardown(err)
}

// establish acquires the devices and dials. The microphone is opened first
// so a denied device fails the call before any network traffic.
func (s *Session) establish(ctx context.Context) error {
	var level float64
	onLevel := func(l float64) { level = l }
	onFrame := func(f audioio.Frame) {
		if !s.post(frameEvent{frame: f, level: level}) {
			s.metrics.FrameDropped("queue_full")
		}
	}
	if err := s.capture.Start(ctx, onFrame, onLevel); err != nil {
		return err
	}

	if err := s.sink.Start(ctx); err != nil {
		return &DeviceError{Backend: s.sink.Name(), Err: err}
	}

	setup := Setup{
		SessionID:         s.id,
		Model:             s.cfg.Model,
		SystemInstruction: BuildSystemInstruction(s.cfg),
		Voice:             s.cfg.Voice,
		InputSampleRate:   s.cfg.InputSampleRate,
		OutputSampleRate:  s.cfg.OutputSampleRate,
		TranscribeInput:   true,
		TranscribeOutput:  true,
	}

	s.logger.Info("dialing",
		"transport", s.dialer.Name(),
		"model", setup.Model,
		"voice", setup.Voice,
		"mode", s.cfg.Mode,
	)

	t, err := s.dialer.Dial(ctx, setup)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewConnectionError("dial "+s.dialer.Name(), err)
	}
	s.transport = t

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.readLoop(gctx, t)
		return nil
	})
	g.Go(func() error {
		s.sendLoop(gctx, t)
		return nil
	})
	s.group = g

	return nil
}

func (s *Session) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			if err := s.handle(ev); err != nil {
				return err
			}
		case <-s.endedSignal:
			for _, id := range s.takeEnded() {
				s.handlePlaybackEnded(id)
			}
		}
	}
}

func (s *Session) handle(ev any) error {
	switch e := ev.(type) {
	case frameEvent:
		s.handleFrame(e)
	case inboundEvent:
		return s.handleInbound(e)
	}
	return nil
}

func (s *Session) handleFrame(e frameEvent) {
	if s.State() != StateConnected {
		return
	}
	s.metrics.FrameCaptured()
	s.levels.Capture(e.level)

	// Newest audio wins: when the transport falls behind, drop the oldest
	// waiting frame instead of queueing.
	select {
	case s.outbox <- e.frame:
		return
	default:
	}
	select {
	case <-s.outbox:
		s.metrics.FrameDropped("outbox_full")
	default:
	}
	select {
	case s.outbox <- e.frame:
	default:
		s.metrics.FrameDropped("outbox_full")
	}
}

func (s *Session) handlePlaybackEnded(id uint64) {
	if s.scheduler.Finished(id) {
		s.levels.PlaybackIdle()
	}
	s.metrics.ChunkFinished(s.scheduler.Active())
}

func (s *Session) handleInbound(e inboundEvent) error {
	if e.err != nil {
		return NewConnectionError("receive", e.err)
	}

	msg := e.msg
	switch msg.Kind {
	case InboundOpen:
		s.handleOpen()
	case InboundInterrupted:
		n := s.scheduler.Interrupt()
		s.levels.Interrupted()
		s.metrics.Interrupted()
		s.logger.Debug("interrupted", "stopped_chunks", n)
	case InboundAudio:
		s.handleAudio(msg)
	case InboundTranscript:
		s.handleTranscript(msg.Fragment)
	case InboundError:
		return NewConnectionError("service error", msg.Err)
	case InboundClosed:
		if msg.Err != nil {
			return NewConnectionError("remote closed", msg.Err)
		}
		return NewConnectionError("remote closed", ErrRemoteClosed)
	}
	return nil
}

func (s *Session) handleOpen() {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	s.connectedAt = time.Now()
	setupTime := s.connectedAt.Sub(s.startedAt)
	s.mu.Unlock()

	close(s.opened)
	s.stateChanged(StateConnected)
	s.metrics.SessionConnected()
	s.logger.Info("connected", "setup_ms", setupTime.Milliseconds())
}

func (s *Session) handleAudio(msg Inbound) {
	if len(msg.Audio) == 0 {
		return
	}

	samples, err := audioio.DecodePCM16(msg.Audio)
	if err != nil {
		s.metrics.DecodeFailed()
		s.logger.Warn("skipping undecodable audio payload", "bytes", len(msg.Audio), "error", err)
		return
	}

	rate := msg.SampleRate
	if rate == 0 {
		rate = s.cfg.OutputSampleRate
	}

	p, err := s.scheduler.Schedule(playback.Chunk{Samples: samples, SampleRate: rate})
	if err != nil {
		s.logger.Warn("skipping audio chunk", "error", err)
		return
	}
	s.levels.AgentSpeaking()
	s.metrics.ChunkScheduled(s.scheduler.Active())

	if !s.heardAgent {
		s.heardAgent = true
		s.mu.Lock()
		since := time.Since(s.connectedAt)
		s.mu.Unlock()
		s.metrics.ObserveFirstAudioLatency(since)
	}

	s.logger.Debug("audio scheduled", "chunk", p.ID, "start", p.Start, "end", p.End)
}

func (s *Session) handleTranscript(f transcript.Fragment) {
	before := s.turns.Len()
	s.turns.Add(f)
	if s.turns.Len() > before {
		s.metrics.TurnStarted(string(f.Speaker))
	}

	if fn := s.cb.OnTranscript; fn != nil {
		s.emit(func() { fn(f.Speaker, f.Text, f.Final) })
	}
}

// teardown runs once on the session goroutine.
func (s *Session) teardown(err error) {
	if errors.Is(err, context.Canceled) && s.closing.Load() {
		err = nil
	}

	s.mu.Lock()
	wasConnected := s.state == StateConnected
	s.state = StateClosed
	s.err = err
	startedAt := s.startedAt
	s.mu.Unlock()

	if cerr := s.capture.Stop(); cerr != nil {
		s.logger.Warn("capture stop failed", "error", cerr)
	}
	if perr := s.scheduler.Stop(); perr != nil {
		s.logger.Warn("playback stop failed", "error", perr)
	}
	if s.transport != nil {
		if terr := s.transport.Close(); terr != nil {
			s.logger.Debug("transport close failed", "error", terr)
		}
	}
	s.cancel()
	if s.group != nil {
		_ = s.group.Wait()
	}

	s.levels.PlaybackIdle()
	s.stateChanged(StateClosed)

	elapsed := time.Since(startedAt)
	duration := int(elapsed.Seconds())
	turns := s.turns.Turns()
	s.metrics.SessionEnded(wasConnected, elapsed)

	if err != nil {
		s.logger.Error("session failed", "error", err)
		if fn := s.cb.OnError; fn != nil {
			s.emit(func() { fn(err) })
		}
	}
	if fn := s.cb.OnSessionEnded; fn != nil {
		s.emit(func() { fn(duration, turns) })
	}

	s.logger.Info("session ended", "duration_s", duration, "turns", len(turns))
	close(s.notify)
}

// readLoop forwards transport messages to the session goroutine.
func (s *Session) readLoop(ctx context.Context, t Transport) {
	for {
		msg, err := t.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.postWait(ctx, inboundEvent{err: err})
			}
			return
		}
		if !s.postWait(ctx, inboundEvent{msg: msg}) {
			return
		}
		if msg.Kind == InboundClosed {
			return
		}
	}
}

// sendLoop hands frames to the transport in capture order. A failed send
// is logged and the frame is dropped.
func (s *Session) sendLoop(ctx context.Context, t Transport) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.outbox:
			if err := t.SendAudio(ctx, f); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.metrics.SendFailed()
				s.logger.Warn("frame send failed", "seq", f.Seq, "error", err)
				continue
			}
			s.metrics.FrameSent()
		}
	}
}

// onPlaybackEnded runs on the output device thread.
func (s *Session) onPlaybackEnded(id uint64) {
	s.endedMu.Lock()
	s.endedIDs = append(s.endedIDs, id)
	s.endedMu.Unlock()

	select {
	case s.endedSignal <- struct{}{}:
	default:
	}
}

func (s *Session) takeEnded() []uint64 {
	s.endedMu.Lock()
	defer s.endedMu.Unlock()
	ids := s.endedIDs
	s.endedIDs = nil
	return ids
}

// post enqueues without blocking, for producers on device threads.
func (s *Session) post(ev any) bool {
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *Session) postWait(ctx context.Context, ev any) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) publishLevel(level float64) {
	s.metrics.Level(level)
	if fn := s.cb.OnAudioLevel; fn != nil {
		s.emitLossy(func() { fn(level) })
	}
}

func (s *Session) stateChanged(st State) {
	s.logger.Debug("state changed", "state", st)
	if fn := s.cb.OnStateChange; fn != nil {
		s.emit(func() { fn(st) })
	}
}

// emit queues a callback; it blocks only if the callback queue is full.
func (s *Session) emit(fn func()) {
	s.notify <- fn
}

// emitLossy queues a callback that may be dropped under backlog.
func (s *Session) emitLossy(fn func()) {
	select {
	case s.notify <- fn:
	default:
	}
}

func (s *Session) dispatch() {
	defer close(s.done)
	for fn := range s.notify {
		s.invoke(fn)
	}
}

func (s *Session) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("callback panicked", "panic", r)
		}
	}()
	fn()
}
