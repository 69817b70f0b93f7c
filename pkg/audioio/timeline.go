package audioio

import (
	"sync"
	"sync/atomic"
	"time"
)

// Timeline mixes scheduled buffers onto a sample-accurate output clock.
//
// Output backends call Render from their device callback; the clock is the
// number of frames rendered so far. Play positions are expressed on the
// same clock so consecutive buffers can be placed back to back.
type Timeline struct {
	rate int

	mu     sync.Mutex
	pos    int64
	nextID uint64
	voices []*timelineVoice

	scheduled atomic.Int64
	completed atomic.Int64
	stopped   atomic.Int64
}

type timelineVoice struct {
	tl      *Timeline
	id      uint64
	start   int64
	samples []float32
	onEnd   func()
	done    bool
}

// NewTimeline creates a timeline at the given sample rate.
func NewTimeline(rate int) *Timeline {
	return &Timeline{rate: rate}
}

// SampleRate returns the timeline rate.
func (t *Timeline) SampleRate() int {
	return t.rate
}

// Now returns the current position of the clock.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return FramesToDuration(t.pos, t.rate)
}

// Frames returns the current position of the clock in samples.
func (t *Timeline) Frames() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// Pending returns the number of voices that have not finished.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// Schedule places samples at time at. A start in the past is moved to now.
func (t *Timeline) Schedule(samples []float32, at time.Duration, onEnd func()) Voice {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := DurationToFrames(at, t.rate)
	if start < t.pos {
		start = t.pos
	}

	t.nextID++
	v := &timelineVoice{
		tl:      t,
		id:      t.nextID,
		start:   start,
		samples: samples,
		onEnd:   onEnd,
	}
	t.voices = append(t.voices, v)
	t.scheduled.Add(1)
	return v
}

// Render mixes every voice audible in the next len(out) frames into out,
// advances the clock and then runs the end callbacks of voices that finished.
func (t *Timeline) Render(out []float32) {
	clear(out)

	var ended []func()

	t.mu.Lock()
	from := t.pos
	to := from + int64(len(out))

	kept := t.voices[:0]
	for _, v := range t.voices {
		end := v.start + int64(len(v.samples))

		lo, hi := max(v.start, from), min(end, to)
		for f := lo; f < hi; f++ {
			out[f-from] += v.samples[f-v.start]
		}

		if end <= to {
			v.done = true
			t.completed.Add(1)
			if v.onEnd != nil {
				ended = append(ended, v.onEnd)
			}
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(t.voices); i++ {
		t.voices[i] = nil
	}
	t.voices = kept
	t.pos = to
	t.mu.Unlock()

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}

	for _, fn := range ended {
		fn()
	}
}

// StopAll silences every pending voice and returns how many were stopped.
func (t *Timeline) StopAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.voices)
	for _, v := range t.voices {
		v.done = true
	}
	clear(t.voices)
	t.voices = t.voices[:0]
	t.stopped.Add(int64(n))
	return n
}

func (t *Timeline) stats() (scheduled, completed, stopped int64) {
	return t.scheduled.Load(), t.completed.Load(), t.stopped.Load()
}

func (v *timelineVoice) ID() uint64 {
	return v.id
}

func (v *timelineVoice) Stop() error {
	t := v.tl
	t.mu.Lock()
	defer t.mu.Unlock()

	if v.done {
		return ErrVoiceStopped
	}
	v.done = true

	for i, other := range t.voices {
		if other == v {
			t.voices = append(t.voices[:i], t.voices[i+1:]...)
			break
		}
	}
	t.stopped.Add(1)
	return nil
}

// downmix averages interleaved frames into mono.
func downmix(in []float32, channels int, out []float32) []float32 {
	if channels == 1 {
		return append(out[:0], in...)
	}
	out = out[:0]
	for i := 0; i+channels <= len(in); i += channels {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += in[i+c]
		}
		out = append(out, sum/float32(channels))
	}
	return out
}

// upmix copies mono samples into every channel of an interleaved buffer.
func upmix(mono []float32, channels int, out []float32) {
	if channels == 1 {
		copy(out, mono)
		return
	}
	for i, s := range mono {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
}
