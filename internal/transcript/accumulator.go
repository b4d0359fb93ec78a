package transcript

import (
	"errors"
	"strings"
	"sync"
)

// ErrStaleFragment is returned when a fragment arrives out of order. It is not fatal:
// the fragment is dropped and the accumulated transcript is left untouched.
var ErrStaleFragment = errors.New("transcript: stale fragment")

// Fragment is a single recognition update. Ordering by SequenceIndex is authoritative.
type Fragment struct {
	Text          string `json:"text"`
	IsFinal       bool   `json:"isFinal"`
	SequenceIndex int    `json:"sequenceIndex"`
}

// Accumulator merges interim and final fragments into one append-only finalized transcript
// plus a transient interim tail.
type Accumulator struct {
	mu        sync.Mutex
	finalized strings.Builder
	interim   string

	// highest index applied so far and index of the last final; -1 when none
	highest   int
	lastFinal int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{highest: -1, lastFinal: -1}
}

// Apply merges f. Finals are appended to the finalized text separated by a single space;
// interim fragments replace the interim tail. An interim may repeat the index of the result it
// revises and that result's final may carry the same index, but nothing may go backwards.
func (a *Accumulator) Apply(f Fragment) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if f.SequenceIndex < a.highest || (f.IsFinal && f.SequenceIndex <= a.lastFinal) {
		return ErrStaleFragment
	}
	a.highest = f.SequenceIndex

	text := strings.TrimSpace(f.Text)
	if !f.IsFinal {
		a.interim = text
		return nil
	}
	a.lastFinal = f.SequenceIndex
	// the final supersedes whatever interim was showing for this result
	a.interim = ""
	if text == "" {
		return nil
	}
	if a.finalized.Len() > 0 {
		a.finalized.WriteByte(' ')
	}
	a.finalized.WriteString(text)
	return nil
}

// Finalized returns the append-only finalized transcript.
func (a *Accumulator) Finalized() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finalized.String()
}

// Interim returns the current interim tail.
func (a *Accumulator) Interim() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interim
}

// CurrentText is the display text: finalized followed by the interim tail, if any.
func (a *Accumulator) CurrentText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.interim == "" {
		return a.finalized.String()
	}
	if a.finalized.Len() == 0 {
		return a.interim
	}
	return a.finalized.String() + " " + a.interim
}

// Reset clears the transcript and the ordering state. Call once per session start.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.finalized.Reset()
	a.interim = ""
	a.highest = -1
	a.lastFinal = -1
	a.mu.Unlock()
}
