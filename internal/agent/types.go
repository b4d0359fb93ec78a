package agent

import (
	"context"
	"errors"

	"github.com/chadiek/speakassist/internal/history"
	"github.com/chadiek/speakassist/internal/suggest"
	"github.com/chadiek/speakassist/internal/transcript"
)

var (
	// ErrPermissionDenied is returned by Start when the capture capability could not be acquired.
	ErrPermissionDenied = transcript.ErrPermissionDenied
	// ErrAlreadyActive is returned by Start on a session that is not Idle.
	ErrAlreadyActive = errors.New("session: already active")
	// ErrNotListening is returned by Apply while the session is Idle.
	ErrNotListening = errors.New("session: not listening")
	// ErrStartCancelled is returned by Start when Stop arrived while it was still acquiring
	// permission or starting the recognizer.
	ErrStartCancelled = errors.New("session: start cancelled by stop")
)

// Suggester produces a suggestion for an utterance. Implementations should not fail;
// suggest.Gateway degrades every error to a fallback.
type Suggester interface {
	Suggest(ctx context.Context, utterance string, turns []history.Turn, settings suggest.Settings) suggest.Suggestion
}

// Recognizer is a live source of transcript fragments.
type Recognizer interface {
	Start(ctx context.Context) (<-chan transcript.Fragment, error)
	Stop() error
}

// Permission acquires the capture capability (microphone, call consent) before listening starts.
type Permission interface {
	Acquire(ctx context.Context) error
}

// PermissionFunc adapts a function to Permission.
type PermissionFunc func(ctx context.Context) error

func (f PermissionFunc) Acquire(ctx context.Context) error { return f(ctx) }

// Events are optional callbacks. They are invoked outside the session lock, so they may call
// back into the session.
type Events struct {
	OnState      func(State)
	OnTranscript func(text string)
	OnSuggestion func(utterance string, s suggest.Suggestion)
	OnError      func(err error)
	// OnEnd receives the finalized transcript of a session that was stopped and the turns
	// that session added to the history.
	OnEnd func(sessionID string, finalized string, turns []history.Turn)
}
