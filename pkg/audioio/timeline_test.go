package audioio

import (
	"errors"
	"testing"
	"time"
)

func ones(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestTimeline_ClockAdvancesWithRender(t *testing.T) {
	tl := NewTimeline(1000)

	tl.Render(make([]float32, 250))
	if got := tl.Now(); got != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", got)
	}
	if got := tl.Frames(); got != 250 {
		t.Errorf("expected 250 frames, got %d", got)
	}
}

func TestTimeline_PlaysAtScheduledPosition(t *testing.T) {
	tl := NewTimeline(1000)

	ended := 0
	tl.Schedule(ones(4, 0.5), 3*time.Millisecond, func() { ended++ })

	out := make([]float32, 10)
	tl.Render(out)

	want := []float32{0, 0, 0, 0.5, 0.5, 0.5, 0.5, 0, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("frame %d = %v, want %v", i, out[i], want[i])
		}
	}
	if ended != 1 {
		t.Errorf("expected 1 end callback, got %d", ended)
	}
	if tl.Pending() != 0 {
		t.Errorf("expected no pending voices, got %d", tl.Pending())
	}
}

func TestTimeline_SpansRenderCalls(t *testing.T) {
	tl := NewTimeline(1000)

	ended := 0
	tl.Schedule(ones(6, 0.25), 0, func() { ended++ })

	out := make([]float32, 4)
	tl.Render(out)
	if ended != 0 {
		t.Fatal("voice ended before all samples were rendered")
	}
	tl.Render(out)
	if out[0] != 0.25 || out[1] != 0.25 || out[2] != 0 {
		t.Errorf("unexpected second block %v", out)
	}
	if ended != 1 {
		t.Errorf("expected 1 end callback, got %d", ended)
	}
}

func TestTimeline_PastStartPlaysNow(t *testing.T) {
	tl := NewTimeline(1000)
	tl.Render(make([]float32, 100))

	tl.Schedule(ones(2, 1), 10*time.Millisecond, nil)

	out := make([]float32, 2)
	tl.Render(out)
	if out[0] != 1 || out[1] != 1 {
		t.Errorf("expected immediate playback, got %v", out)
	}
}

func TestTimeline_MixClamps(t *testing.T) {
	tl := NewTimeline(1000)
	tl.Schedule(ones(2, 0.8), 0, nil)
	tl.Schedule(ones(2, 0.8), 0, nil)

	out := make([]float32, 2)
	tl.Render(out)
	if out[0] != 1 {
		t.Errorf("expected clamped 1, got %v", out[0])
	}
}

func TestTimeline_StopSilencesWithoutCallback(t *testing.T) {
	tl := NewTimeline(1000)

	ended := 0
	v := tl.Schedule(ones(4, 1), 0, func() { ended++ })

	if err := v.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := v.Stop(); !errors.Is(err, ErrVoiceStopped) {
		t.Errorf("second Stop should return ErrVoiceStopped, got %v", err)
	}

	out := make([]float32, 4)
	tl.Render(out)
	for i, s := range out {
		if s != 0 {
			t.Errorf("frame %d not silent: %v", i, s)
		}
	}
	if ended != 0 {
		t.Errorf("stopped voice invoked its end callback")
	}
}

func TestTimeline_StopAfterEnd(t *testing.T) {
	tl := NewTimeline(1000)
	v := tl.Schedule(ones(2, 1), 0, nil)
	tl.Render(make([]float32, 4))

	if err := v.Stop(); !errors.Is(err, ErrVoiceStopped) {
		t.Errorf("expected ErrVoiceStopped, got %v", err)
	}
}

func TestTimeline_StopAll(t *testing.T) {
	tl := NewTimeline(1000)
	a := tl.Schedule(ones(2, 1), 0, nil)
	tl.Schedule(ones(2, 1), 5*time.Millisecond, nil)

	if n := tl.StopAll(); n != 2 {
		t.Errorf("expected 2 stopped, got %d", n)
	}
	if err := a.Stop(); !errors.Is(err, ErrVoiceStopped) {
		t.Errorf("expected ErrVoiceStopped after StopAll, got %v", err)
	}
	_, _, stopped := tl.stats()
	if stopped != 2 {
		t.Errorf("expected stopped counter 2, got %d", stopped)
	}
}

func TestUpDownMix(t *testing.T) {
	stereo := make([]float32, 4)
	upmix([]float32{0.5, -0.5}, 2, stereo)
	if stereo[0] != 0.5 || stereo[1] != 0.5 || stereo[2] != -0.5 {
		t.Errorf("unexpected upmix %v", stereo)
	}

	mono := downmix([]float32{1, 0, 0.5, 0.5}, 2, nil)
	if len(mono) != 2 || mono[0] != 0.5 || mono[1] != 0.5 {
		t.Errorf("unexpected downmix %v", mono)
	}
}
