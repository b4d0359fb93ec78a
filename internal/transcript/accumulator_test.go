package transcript

import (
	"errors"
	"strings"
	"testing"
)

func TestAccumulator_FinalsAreSpaceJoinedInOrder(t *testing.T) {
	a := NewAccumulator()
	texts := []string{"Hello", "there friend", " how are you ", "today"}
	prevLen := 0
	for i, txt := range texts {
		if err := a.Apply(Fragment{Text: txt, IsFinal: true, SequenceIndex: i}); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		if l := len(a.Finalized()); l < prevLen {
			t.Fatalf("finalized shrank: %d -> %d", prevLen, l)
		} else {
			prevLen = l
		}
	}
	want := "Hello there friend how are you today"
	if got := a.Finalized(); got != want {
		t.Fatalf("finalized = %q, want %q", got, want)
	}
}

func TestAccumulator_InterimReplacedWholesale(t *testing.T) {
	a := NewAccumulator()
	_ = a.Apply(Fragment{Text: "Hello", IsFinal: true, SequenceIndex: 0})
	_ = a.Apply(Fragment{Text: "the", SequenceIndex: 1})
	_ = a.Apply(Fragment{Text: "there fri", SequenceIndex: 1})
	if got := a.Interim(); got != "there fri" {
		t.Fatalf("interim = %q", got)
	}
	if got := a.CurrentText(); got != "Hello there fri" {
		t.Fatalf("current = %q", got)
	}
	if err := a.Apply(Fragment{Text: "there friend", IsFinal: true, SequenceIndex: 1}); err != nil {
		t.Fatalf("final for revised result: %v", err)
	}
	if a.Interim() != "" {
		t.Fatalf("expected interim cleared by final")
	}
	if got := a.CurrentText(); got != "Hello there friend" {
		t.Fatalf("current = %q", got)
	}
}

func TestAccumulator_StaleFragmentsDropped(t *testing.T) {
	a := NewAccumulator()
	_ = a.Apply(Fragment{Text: "one", IsFinal: true, SequenceIndex: 0})
	_ = a.Apply(Fragment{Text: "three", IsFinal: true, SequenceIndex: 2})

	cases := []Fragment{
		{Text: "two", IsFinal: true, SequenceIndex: 1},
		{Text: "three again", IsFinal: true, SequenceIndex: 2},
		{Text: "late interim", SequenceIndex: 1},
	}
	for _, f := range cases {
		if err := a.Apply(f); !errors.Is(err, ErrStaleFragment) {
			t.Fatalf("apply %+v: expected ErrStaleFragment, got %v", f, err)
		}
	}
	if got := a.Finalized(); got != "one three" {
		t.Fatalf("finalized = %q", got)
	}
}

func TestAccumulator_EmptyFinalConsumesIndex(t *testing.T) {
	a := NewAccumulator()
	_ = a.Apply(Fragment{Text: "  ", IsFinal: true, SequenceIndex: 0})
	_ = a.Apply(Fragment{Text: "hi", IsFinal: true, SequenceIndex: 1})
	if got := a.Finalized(); got != "hi" {
		t.Fatalf("finalized = %q", got)
	}
	if err := a.Apply(Fragment{Text: "x", IsFinal: true, SequenceIndex: 0}); !errors.Is(err, ErrStaleFragment) {
		t.Fatalf("expected stale, got %v", err)
	}
}

func TestAccumulator_Reset(t *testing.T) {
	a := NewAccumulator()
	_ = a.Apply(Fragment{Text: "one", IsFinal: true, SequenceIndex: 5})
	_ = a.Apply(Fragment{Text: "two", SequenceIndex: 6})
	a.Reset()
	if a.Finalized() != "" || a.Interim() != "" || a.CurrentText() != "" {
		t.Fatalf("expected empty after reset")
	}
	// ordering restarts with the new session
	if err := a.Apply(Fragment{Text: "fresh", IsFinal: true, SequenceIndex: 0}); err != nil {
		t.Fatalf("apply after reset: %v", err)
	}
	if !strings.EqualFold(a.Finalized(), "fresh") {
		t.Fatalf("finalized = %q", a.Finalized())
	}
}
