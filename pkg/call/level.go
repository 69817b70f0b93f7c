package call

import "sync"

// AgentSpeakingLevel is published while agent audio is being scheduled.
const AgentSpeakingLevel = 0.4

// LevelSource names the signal behind a published level.
type LevelSource string

const (
	LevelCapture  LevelSource = "capture"
	LevelAgent    LevelSource = "agent"
	LevelIdle     LevelSource = "idle"
	LevelBargedIn LevelSource = "interrupted"
)

// LevelPublisher merges capture, playback and interruption signals into
// one activity level in [0, 1]. Whichever signal changed last wins.
type LevelPublisher struct {
	emit func(float64)

	mu     sync.Mutex
	level  float64
	source LevelSource
}

// NewLevelPublisher creates a publisher that forwards every level to emit.
func NewLevelPublisher(emit func(float64)) *LevelPublisher {
	return &LevelPublisher{emit: emit, source: LevelIdle}
}

// Capture publishes a microphone level.
func (p *LevelPublisher) Capture(level float64) {
	p.publish(clamp01(level), LevelCapture)
}

// AgentSpeaking publishes the fixed agent level.
func (p *LevelPublisher) AgentSpeaking() {
	p.publish(AgentSpeakingLevel, LevelAgent)
}

// PlaybackIdle publishes zero once no agent audio is scheduled.
func (p *LevelPublisher) PlaybackIdle() {
	p.publish(0, LevelIdle)
}

// Interrupted publishes zero after a barge-in flushed playback.
func (p *LevelPublisher) Interrupted() {
	p.publish(0, LevelBargedIn)
}

// Level returns the last published level and its source.
func (p *LevelPublisher) Level() (float64, LevelSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level, p.source
}

func (p *LevelPublisher) publish(level float64, source LevelSource) {
	p.mu.Lock()
	p.level = level
	p.source = source
	p.mu.Unlock()

	if p.emit != nil {
		p.emit(level)
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || v != v:
		return 0
	case v > 1:
		return 1
	}
	return v
}
