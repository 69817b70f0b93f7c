// Package playback schedules decoded speech on the output device clock.
//
// Chunks are placed back to back: each starts at the later of the schedule
// cursor and the device's current time, and pushes the cursor forward by
// its duration. The Scheduler is not safe for concurrent use; it is owned
// by the goroutine that processes call events, and completion notices are
// posted back to that goroutine through the onEnded callback.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-mevy/pkg/audioio"
)

var (
	// ErrEmptyChunk is returned when a chunk has no samples.
	ErrEmptyChunk = errors.New("playback: empty chunk")

	// ErrStopped is returned when scheduling after Stop.
	ErrStopped = errors.New("playback: scheduler stopped")
)

// Chunk is a decoded unit of agent speech.
type Chunk struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback duration of the chunk.
func (c Chunk) Duration() time.Duration {
	return audioio.FramesToDuration(int64(len(c.Samples)), c.SampleRate)
}

// Placement describes where a chunk was scheduled.
type Placement struct {
	ID    uint64
	Start time.Duration
	End   time.Duration
}

// schedule is the mutable state: the cursor and the active buffer set.
type schedule struct {
	cursor time.Duration
	active map[uint64]audioio.Voice
	nextID uint64
}

// Scheduler places chunks on a Sink.
type Scheduler struct {
	sink    audioio.Sink
	logger  *slog.Logger
	onEnded func(id uint64)
	stopped bool

	state schedule
}

// New creates a scheduler. onEnded runs on the device thread when a chunk
// finishes naturally; it must not block and should hand the id to Finished
// on the owning goroutine.
func New(sink audioio.Sink, onEnded func(id uint64), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sink:    sink,
		logger:  logger.With("component", "playback"),
		onEnded: onEnded,
		state:   schedule{active: make(map[uint64]audioio.Voice)},
	}
}

// Schedule starts c at max(cursor, device now) and advances the cursor.
func (s *Scheduler) Schedule(c Chunk) (Placement, error) {
	if s.stopped {
		return Placement{}, ErrStopped
	}
	if len(c.Samples) == 0 {
		return Placement{}, ErrEmptyChunk
	}

	rate := s.sink.Config().SampleRate
	if c.SampleRate != rate {
		c = Chunk{Samples: audioio.ResampleFloat(c.Samples, c.SampleRate, rate), SampleRate: rate}
	}

	start := max(s.state.cursor, s.sink.Now())

	s.state.nextID++
	id := s.state.nextID

	var onEnd func()
	if s.onEnded != nil {
		onEnd = func() { s.onEnded(id) }
	}

	voice, err := s.sink.Play(c.Samples, start, onEnd)
	if err != nil {
		return Placement{}, fmt.Errorf("playback: start chunk: %w", err)
	}

	end := start + c.Duration()
	s.state.cursor = end
	s.state.active[id] = voice

	s.logger.Debug("chunk scheduled",
		"id", id,
		"start", start,
		"duration", c.Duration(),
		"active", len(s.state.active),
	)

	return Placement{ID: id, Start: start, End: end}, nil
}

// Finished removes a chunk that played to its end. It reports true when
// that left the active set empty. Ids that are no longer active, such as
// completions that raced an Interrupt, are ignored.
func (s *Scheduler) Finished(id uint64) bool {
	if _, ok := s.state.active[id]; !ok {
		return false
	}
	delete(s.state.active, id)
	return len(s.state.active) == 0
}

// Interrupt stops every active chunk, clears the set and resets the cursor.
// It returns the number of chunks stopped.
func (s *Scheduler) Interrupt() int {
	n := len(s.state.active)
	for id, v := range s.state.active {
		if err := v.Stop(); err != nil && !errors.Is(err, audioio.ErrVoiceStopped) {
			s.logger.Warn("failed to stop chunk", "id", id, "error", err)
		}
	}
	clear(s.state.active)
	s.state.cursor = 0

	if n > 0 {
		s.logger.Debug("playback interrupted", "stopped", n)
	}
	return n
}

// Stop interrupts playback and releases the output device.
// It is safe to call Stop multiple times.
func (s *Scheduler) Stop() error {
	s.Interrupt()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if err := s.sink.Close(); err != nil {
		return fmt.Errorf("playback: release device: %w", err)
	}
	return nil
}

// Cursor returns the end time of the last scheduled chunk, or zero after
// an interrupt.
func (s *Scheduler) Cursor() time.Duration {
	return s.state.cursor
}

// Active returns the number of chunks scheduled or playing.
func (s *Scheduler) Active() int {
	return len(s.state.active)
}
