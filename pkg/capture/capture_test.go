package capture

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-mevy/pkg/audioio"
)

func testSource(opts ...audioio.MockSourceOption) *audioio.MockSource {
	cfg := audioio.DefaultInputConfig()
	cfg.Backend = audioio.BackendMock
	return audioio.NewMockSource(cfg, nil, append(opts, audioio.WithManualCapture())...)
}

func constant(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestLevel(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{"silence", constant(4096, 0), 0},
		{"quiet", constant(4096, 0.1), 0.5},
		{"clamped", constant(4096, 0.5), 1},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Level(tt.samples); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Level() = %v, want %v", got, tt.want)
			}
		})
	}
}

type recorder struct {
	mu     sync.Mutex
	frames []audioio.Frame
	levels []float64
	order  []string
}

func (r *recorder) onFrame(f audioio.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	r.order = append(r.order, "frame")
}

func (r *recorder) onLevel(l float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, l)
	r.order = append(r.order, "level")
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPipeline_DeliversFramesAndLevels(t *testing.T) {
	src := testSource()
	p := New(src, nil)
	rec := &recorder{}

	if err := p.Start(context.Background(), rec.onFrame, rec.onLevel); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	src.Inject(constant(4096, 0.1))
	src.Inject(constant(4096, 0))
	waitFor(t, func() bool { return rec.count() == 2 })

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.frames[0].Seq != 1 || rec.frames[1].Seq != 2 {
		t.Errorf("frames out of order: %d, %d", rec.frames[0].Seq, rec.frames[1].Seq)
	}
	if len(rec.frames[0].Samples) != 4096 {
		t.Errorf("expected 4096 samples, got %d", len(rec.frames[0].Samples))
	}
	if rec.frames[0].SampleRate != 16000 {
		t.Errorf("expected 16kHz frame, got %d", rec.frames[0].SampleRate)
	}
	if rec.frames[0].Samples[0] != audioio.FloatToPCM16(0.1) {
		t.Errorf("frame not encoded with the codec: %d", rec.frames[0].Samples[0])
	}
	if math.Abs(rec.levels[0]-0.5) > 1e-6 || rec.levels[1] != 0 {
		t.Errorf("unexpected levels %v", rec.levels)
	}
	if rec.order[0] != "level" || rec.order[1] != "frame" {
		t.Errorf("expected level before frame, got %v", rec.order)
	}
}

func TestPipeline_DeviceFailure(t *testing.T) {
	denied := errors.New("permission denied")
	p := New(testSource(audioio.WithStartError(denied)), nil)

	err := p.Start(context.Background(), nil, nil)

	var capErr *CaptureError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected *CaptureError, got %T (%v)", err, err)
	}
	if !errors.Is(err, denied) {
		t.Errorf("CaptureError should wrap the device error")
	}
	if p.Running() {
		t.Error("pipeline should not be running after a device failure")
	}
}

func TestPipeline_NoCallbacksAfterStop(t *testing.T) {
	src := testSource()
	p := New(src, nil)
	rec := &recorder{}

	if err := p.Start(context.Background(), rec.onFrame, rec.onLevel); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.Inject(constant(16, 0.2))
	waitFor(t, func() bool { return rec.count() == 1 })

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if src.Inject(constant(16, 0.2)) {
		t.Error("source accepted a window after Stop")
	}
	if rec.count() != 1 {
		t.Errorf("callback ran after Stop: %d frames", rec.count())
	}
}

func TestPipeline_StopIdempotent(t *testing.T) {
	src := testSource()
	p := New(src, nil)

	if err := p.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := p.Stop(); err != nil {
			t.Fatalf("Stop %d failed: %v", i, err)
		}
	}
	if src.Stops() != 1 {
		t.Errorf("expected device released once, got %d", src.Stops())
	}
	if err := p.Start(context.Background(), nil, nil); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after Stop, got %v", err)
	}
}

func TestPipeline_RecoversCallbackPanic(t *testing.T) {
	src := testSource()
	p := New(src, nil)
	rec := &recorder{}

	calls := 0
	onFrame := func(f audioio.Frame) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		rec.onFrame(f)
	}

	if err := p.Start(context.Background(), onFrame, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	src.Inject(constant(16, 0))
	src.Inject(constant(16, 0))
	waitFor(t, func() bool { return rec.count() == 1 })
}
