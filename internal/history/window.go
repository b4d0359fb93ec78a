package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chadiek/speakassist/internal/logging"
)

const (
	// ContextCap is the number of user utterances handed to the completion service.
	ContextCap = 3
	// DisplayCap is the number of turns kept for display.
	DisplayCap = 20
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation log. Turns are immutable once appended.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn stamps a turn with a fresh ID and the current time.
func NewTurn(role Role, content string) Turn {
	return Turn{ID: uuid.NewString(), Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// Journal durably records appended turns. Clear drops everything recorded so far.
type Journal interface {
	Record(ctx context.Context, t Turn) error
	Clear(ctx context.Context) error
}

// Window is the display history: the last DisplayCap turns of every session on a server.
// Request context is per session; see ContextRing.
type Window struct {
	mu      sync.Mutex
	display []Turn

	journal Journal
	log     *zap.Logger
}

// NewWindow returns an empty window. journal may be nil.
func NewWindow(journal Journal, log *zap.Logger) *Window {
	return &Window{journal: journal, log: logging.OrNop(log)}
}

// Append adds t to the display view and records it in the journal.
func (w *Window) Append(t Turn) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}

	w.mu.Lock()
	w.display = pushCapped(w.display, t, DisplayCap)
	j := w.journal
	w.mu.Unlock()

	if j != nil {
		if err := j.Record(context.Background(), t); err != nil {
			w.log.Warn("journal write failed", zap.String("turn", t.ID), zap.Error(err))
		}
	}
}

// Restore replaces the display view with the newest turns of ts without journaling them.
func (w *Window) Restore(ts []Turn) {
	var display []Turn
	for _, t := range ts {
		display = pushCapped(display, t, DisplayCap)
	}
	w.mu.Lock()
	w.display = display
	w.mu.Unlock()
}

func pushCapped(s []Turn, t Turn, limit int) []Turn {
	s = append(s, t)
	if over := len(s) - limit; over > 0 {
		// copy down so the backing array does not grow without bound
		n := copy(s, s[over:])
		s = s[:n]
	}
	return s
}

// DisplaySlice returns a copy of the display view, oldest first.
func (w *Window) DisplaySlice() []Turn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Turn(nil), w.display...)
}

// Clear empties the display view and the journal behind it.
func (w *Window) Clear() {
	w.mu.Lock()
	w.display = nil
	j := w.journal
	w.mu.Unlock()

	if j != nil {
		if err := j.Clear(context.Background()); err != nil {
			w.log.Warn("journal clear failed", zap.Error(err))
		}
	}
}

// ContextRing is one session's request-context view: its last ContextCap user turns.
// It never outlives the session that owns it.
type ContextRing struct {
	mu    sync.Mutex
	turns []Turn
}

// NewContextRing returns an empty ring.
func NewContextRing() *ContextRing { return &ContextRing{} }

// Push adds a user turn; other roles are ignored.
func (r *ContextRing) Push(t Turn) {
	if t.Role != RoleUser {
		return
	}
	r.mu.Lock()
	r.turns = pushCapped(r.turns, t, ContextCap)
	r.mu.Unlock()
}

// Slice returns a copy of the ring, oldest first.
func (r *ContextRing) Slice() []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Turn(nil), r.turns...)
}

// Utterances returns the ring's contents as plain text.
func (r *ContextRing) Utterances() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.turns))
	for _, t := range r.turns {
		out = append(out, t.Content)
	}
	return out
}

// Clear empties the ring.
func (r *ContextRing) Clear() {
	r.mu.Lock()
	r.turns = nil
	r.mu.Unlock()
}
