// Package capture turns microphone windows into wire frames and activity levels.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-mevy/pkg/audioio"
)

// LevelGain scales window RMS into the activity level.
const LevelGain = 5.0

var (
	// ErrRunning is returned by Start on a pipeline that is already capturing.
	ErrRunning = errors.New("capture: already running")

	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("capture: stopped")
)

// CaptureError reports that the input device could not be acquired or
// failed while running. It is fatal for a call.
type CaptureError struct {
	Backend string
	Err     error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture: %s device: %v", e.Backend, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Level converts a window into an activity level: RMS*5 clamped to [0, 1].
func Level(samples []float32) float64 {
	l := audioio.RMS(samples) * LevelGain
	if l > 1 {
		return 1
	}
	return l
}

// Pipeline reads windows from a Source and hands each one to the caller
// as an encoded Frame plus its level.
type Pipeline struct {
	src    audioio.Source
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	wg      sync.WaitGroup
	seq     uint64
}

// New creates a pipeline over src.
func New(src audioio.Source, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		src:    src,
		logger: logger.With("component", "capture"),
	}
}

// Start opens the input device and begins delivering frames. For every
// window onLevel runs first, then onFrame. Both run on the capture
// goroutine and must not block for long.
func (p *Pipeline) Start(ctx context.Context, onFrame func(audioio.Frame), onLevel func(float64)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if p.running {
		return ErrRunning
	}

	if err := p.src.Start(ctx); err != nil {
		return &CaptureError{Backend: p.src.Name(), Err: err}
	}
	p.running = true

	stream := p.src.Stream()
	cfg := p.src.Config()

	p.wg.Add(1)
	go p.run(stream, cfg.SampleRate, onFrame, onLevel)

	p.logger.Info("capture started",
		"backend", p.src.Name(),
		"sample_rate", cfg.SampleRate,
		"frames_per_buffer", cfg.FramesPerBuffer,
	)
	return nil
}

func (p *Pipeline) run(stream <-chan audioio.Buffer, rate int, onFrame func(audioio.Frame), onLevel func(float64)) {
	defer p.wg.Done()

	for buf := range stream {
		if buf.SampleRate == 0 {
			buf.SampleRate = rate
		}
		p.seq++
		frame := audioio.NewFrame(buf.Samples, buf.SampleRate, p.seq)
		level := Level(buf.Samples)

		p.deliver(func() {
			if onLevel != nil {
				onLevel(level)
			}
			if onFrame != nil {
				onFrame(frame)
			}
		})
	}
}

// deliver keeps a panicking callback from killing the capture goroutine.
func (p *Pipeline) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("capture callback panicked", "panic", r)
		}
	}()
	fn()
}

// Stop releases the device. No callback runs after Stop returns.
// It is safe to call Stop multiple times.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopped = true
	if !p.running {
		return nil
	}
	p.running = false

	err := p.src.Stop()
	p.wg.Wait()

	p.logger.Info("capture stopped", "frames", p.seq)
	return err
}

// Running reports whether the device is open.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
