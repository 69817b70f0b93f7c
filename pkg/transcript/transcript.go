// Package transcript merges streaming transcription fragments into speaker turns.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Speaker identifies who produced a fragment.
type Speaker string

const (
	// SpeakerUser is the person on the call, from input transcription.
	SpeakerUser Speaker = "user"
	// SpeakerAgent is the Mevy persona, from output transcription.
	SpeakerAgent Speaker = "agent"
)

// Turn is a contiguous run of speech by one speaker.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

// Fragment is one transcription update from the service.
type Fragment struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	Final   bool    `json:"final"`
}

// Aggregator builds the ordered turn list.
//
// A turn stays open until a final fragment from the same speaker arrives.
// Non-final fragments for an already open turn are dropped, so only the
// first partial and the final text make it into the turn.
type Aggregator struct {
	mu    sync.RWMutex
	turns []Turn
	now   func() time.Time
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// Append folds a fragment into the turn list and reports whether the
// list changed.
func (a *Aggregator) Append(speaker Speaker, text string, final bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.turns); n > 0 {
		last := &a.turns[n-1]
		if last.Speaker == speaker && !last.Final {
			if !final {
				return false
			}
			if strings.TrimSpace(text) != "" {
				last.Text += " " + text
			}
			last.Final = true
			return true
		}
	}

	if strings.TrimSpace(text) == "" {
		return false
	}

	a.turns = append(a.turns, Turn{
		Speaker:   speaker,
		Text:      text,
		Final:     final,
		Timestamp: a.now(),
	})
	return true
}

// Add is Append for a Fragment value.
func (a *Aggregator) Add(f Fragment) bool {
	return a.Append(f.Speaker, f.Text, f.Final)
}

// Turns returns a copy of the turns in arrival order.
func (a *Aggregator) Turns() []Turn {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Turn(nil), a.turns...)
}

// Len returns the number of turns.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.turns)
}

// Last returns the most recent turn.
func (a *Aggregator) Last() (Turn, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.turns) == 0 {
		return Turn{}, false
	}
	return a.turns[len(a.turns)-1], true
}
