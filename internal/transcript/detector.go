package transcript

import (
	"strings"
	"unicode/utf8"
)

// DefaultDiffThreshold is the number of new finalized characters that must be exceeded before a
// suggestion request is worth making.
const DefaultDiffThreshold = 10

// Trigger is a detector decision: the content to send and the finalized text it was computed from.
type Trigger struct {
	Content   string
	Finalized string
}

// Detector tracks how much of the finalized transcript has been consumed and decides whether the
// unconsumed suffix is substantial enough for a new request. Not safe for concurrent use; the
// session serializes access.
type Detector struct {
	threshold     int
	marker        int // runes of finalized consumed by the last accepted trigger
	lastTriggered string
}

// NewDetector returns a detector with the given threshold; values <= 0 use DefaultDiffThreshold.
func NewDetector(threshold int) *Detector {
	if threshold <= 0 {
		threshold = DefaultDiffThreshold
	}
	return &Detector{threshold: threshold}
}

// Threshold returns the configured diff threshold.
func (d *Detector) Threshold() int { return d.threshold }

// Marker returns the processed marker in characters.
func (d *Detector) Marker() int { return d.marker }

// Pending returns the trimmed unconsumed suffix of finalized.
func (d *Detector) Pending(finalized string) string {
	runes := []rune(finalized)
	m := d.marker
	if m > len(runes) {
		// finalized shrank, which only happens across a missed reset
		m = len(runes)
	}
	return strings.TrimSpace(string(runes[m:]))
}

// Check reports whether finalized warrants a request. It does not advance the marker.
func (d *Detector) Check(finalized string) (Trigger, bool) {
	pending := d.Pending(finalized)
	if utf8.RuneCountInString(pending) <= d.threshold || finalized == d.lastTriggered {
		return Trigger{}, false
	}
	content := pending
	if content == "" {
		content = strings.TrimSpace(finalized)
	}
	return Trigger{Content: content, Finalized: finalized}, true
}

// Accept consumes t. Only call it once the orchestrator has taken the trigger; a rejected
// trigger leaves its suffix pending for the next check.
func (d *Detector) Accept(t Trigger) {
	d.marker = utf8.RuneCountInString(t.Finalized)
	d.lastTriggered = t.Finalized
}

// Reset returns the detector to the start-of-session state.
func (d *Detector) Reset() {
	d.marker = 0
	d.lastTriggered = ""
}
