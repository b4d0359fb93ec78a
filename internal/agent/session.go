package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chadiek/speakassist/internal/history"
	"github.com/chadiek/speakassist/internal/logging"
	"github.com/chadiek/speakassist/internal/suggest"
	"github.com/chadiek/speakassist/internal/transcript"
)

// DefaultCooldown is how long a suggestion stays up before listening resumes.
const DefaultCooldown = 5 * time.Second

// Config tunes a Session.
type Config struct {
	Cooldown      time.Duration
	DiffThreshold int
	// RequestTimeout bounds a single suggestion request on top of the suggester's own limit.
	RequestTimeout time.Duration
	Settings       suggest.Settings
}

// Deps are the collaborators of a Session. Suggester is required.
type Deps struct {
	Suggester  Suggester
	Recognizer Recognizer
	Permission Permission
	History    *history.Window
	Events     Events
	Logger     *zap.Logger
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	SessionID      string              `json:"sessionId,omitempty"`
	State          State               `json:"state"`
	Finalized      string              `json:"finalized"`
	Interim        string              `json:"interim"`
	Marker         int                 `json:"marker"`
	Generation     uint64              `json:"generation"`
	Settings       suggest.Settings    `json:"settings"`
	Context        []history.Turn      `json:"context"`
	Turns          []history.Turn      `json:"turns"`
	Display        []history.Turn      `json:"display"`
	LastSuggestion *suggest.Suggestion `json:"lastSuggestion,omitempty"`
}

// Session turns a fragment stream into at most one in-flight suggestion request at a time.
//
// Idle -> Listening on Start; Listening -> Processing when the detector fires; Processing ->
// Suggesting when the suggestion arrives; Suggesting -> Listening after the cooldown. Stop returns
// to Idle from any state. Every Start and Stop bumps a generation counter and late request or timer
// completions from an older generation are dropped.
//
// The request context is private to the session. The shared history window only receives a copy
// of each turn for display.
type Session struct {
	cfg        Config
	suggester  Suggester
	recognizer Recognizer
	permission Permission
	history    *history.Window
	events     Events
	log        *zap.Logger

	mu        sync.Mutex
	id        string
	state     State
	starting  bool
	aborted   bool // Stop arrived while starting
	gen       uint64
	acc       *transcript.Accumulator
	det       *transcript.Detector
	settings  suggest.Settings // snapshot taken at Start
	pending   suggest.Settings // applied at the next Start
	runCtx    context.Context
	cancelRun context.CancelFunc
	cancelReq context.CancelFunc
	cooldown  *time.Timer
	recActive bool
	pumpDone  chan struct{}
	last      *suggest.Suggestion
	ctxRing   *history.ContextRing
	turns     []history.Turn // added to the history during this run
}

// NewSession builds an idle session. A nil History gets a private window.
func NewSession(cfg Config, deps Deps) *Session {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	cfg.Settings = cfg.Settings.Normalize()
	h := deps.History
	if h == nil {
		h = history.NewWindow(nil, deps.Logger)
	}
	return &Session{
		cfg:        cfg,
		suggester:  deps.Suggester,
		recognizer: deps.Recognizer,
		permission: deps.Permission,
		history:    h,
		events:     deps.Events,
		log:        logging.OrNop(deps.Logger),
		acc:        transcript.NewAccumulator(),
		det:        transcript.NewDetector(cfg.DiffThreshold),
		settings:   cfg.Settings,
		pending:    cfg.Settings,
		ctxRing:    history.NewContextRing(),
	}
}

// Start acquires permission, starts the recognizer if any, and begins listening.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle || s.starting {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.starting = true
	s.aborted = false
	s.mu.Unlock()

	fail := func(err error) error {
		s.mu.Lock()
		s.starting, s.aborted = false, false
		s.mu.Unlock()
		s.log.Warn("session start failed", zap.Error(err))
		s.emitError(err)
		return err
	}
	// cancelled reports a Stop that landed while Start was blocked, and resets the flags if so.
	cancelled := func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.aborted {
			return false
		}
		s.starting, s.aborted = false, false
		return true
	}

	if s.permission != nil {
		if err := s.permission.Acquire(ctx); err != nil {
			if !errors.Is(err, ErrPermissionDenied) {
				err = fmt.Errorf("%w: %v", ErrPermissionDenied, err)
			}
			return fail(err)
		}
	}
	if cancelled() {
		s.log.Info("session start cancelled", zap.String("step", "permission"))
		return ErrStartCancelled
	}

	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	var frags <-chan transcript.Fragment
	if s.recognizer != nil {
		ch, err := s.recognizer.Start(runCtx)
		if err != nil {
			cancelRun()
			return fail(fmt.Errorf("start recognizer: %w", err))
		}
		frags = ch
	}

	s.mu.Lock()
	if s.aborted {
		s.starting, s.aborted = false, false
		s.mu.Unlock()
		if frags != nil {
			if err := s.recognizer.Stop(); err != nil {
				s.log.Warn("recognizer stop failed", zap.Error(err))
			}
		}
		cancelRun()
		s.log.Info("session start cancelled", zap.String("step", "recognizer"))
		return ErrStartCancelled
	}
	s.starting = false
	s.gen++
	gen := s.gen
	s.id = uuid.NewString()
	s.acc.Reset()
	s.det.Reset()
	s.ctxRing.Clear()
	s.turns = nil
	s.settings = s.pending
	s.last = nil
	s.runCtx, s.cancelRun = runCtx, cancelRun
	s.recActive = frags != nil
	if frags != nil {
		s.pumpDone = make(chan struct{})
		go s.pump(runCtx, gen, frags, s.pumpDone)
	}
	s.state = StateListening
	id := s.id
	s.mu.Unlock()

	s.log.Info("session started", zap.String("session", id), zap.Uint64("generation", gen))
	s.emitState(StateListening)
	return nil
}

// Stop returns the session to Idle, dropping any in-flight request and pending cooldown.
// Stopping an idle session is a no-op. A Stop during Start makes that Start return
// ErrStartCancelled once its blocking step finishes.
func (s *Session) Stop() error {
	return s.stop(0, true)
}

// stop ends generation gen (0 means whichever is current). wait blocks until the fragment
// pump has exited and must be false when called from the pump itself.
func (s *Session) stop(gen uint64, wait bool) error {
	s.mu.Lock()
	if s.state == StateIdle && s.starting && gen == 0 {
		s.aborted = true
		s.mu.Unlock()
		return nil
	}
	if s.state == StateIdle || (gen != 0 && gen != s.gen) {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	if s.cooldown != nil {
		s.cooldown.Stop()
		s.cooldown = nil
	}
	if s.cancelReq != nil {
		s.cancelReq()
		s.cancelReq = nil
	}
	id, finalized, turns := s.id, s.acc.Finalized(), s.turns
	s.acc.Reset()
	s.det.Reset()
	s.ctxRing.Clear()
	s.turns = nil
	s.state = StateIdle
	cancelRun := s.cancelRun
	s.cancelRun = nil
	recActive := s.recActive
	s.recActive = false
	pumpDone := s.pumpDone
	s.pumpDone = nil
	s.mu.Unlock()

	var err error
	if recActive {
		if err = s.recognizer.Stop(); err != nil {
			s.log.Warn("recognizer stop failed", zap.Error(err))
		}
	}
	if cancelRun != nil {
		cancelRun()
	}
	if wait && pumpDone != nil {
		<-pumpDone
	}

	s.log.Info("session stopped", zap.String("session", id))
	s.emitState(StateIdle)
	if s.events.OnEnd != nil {
		s.events.OnEnd(id, finalized, turns)
	}
	return err
}

// Apply feeds one fragment. Stale fragments return transcript.ErrStaleFragment.
func (s *Session) Apply(f transcript.Fragment) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	return s.apply(gen, f)
}

func (s *Session) apply(gen uint64, f transcript.Fragment) error {
	s.mu.Lock()
	if s.state == StateIdle || gen != s.gen {
		s.mu.Unlock()
		return ErrNotListening
	}
	if err := s.acc.Apply(f); err != nil {
		s.mu.Unlock()
		s.log.Debug("dropping fragment", zap.Int("index", f.SequenceIndex), zap.Error(err))
		return err
	}
	text := s.acc.CurrentText()
	ev := s.evaluateLocked()
	s.mu.Unlock()

	if s.events.OnTranscript != nil {
		s.events.OnTranscript(text)
	}
	dispatch(ev)
	return nil
}

// evaluateLocked runs the detector and, when it fires while Listening, launches a request.
// It returns the events to dispatch once the lock is released.
func (s *Session) evaluateLocked() []func() {
	if s.state != StateListening {
		return nil
	}
	trig, ok := s.det.Check(s.acc.Finalized())
	if !ok {
		return nil
	}
	s.det.Accept(trig)
	s.state = StateProcessing

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.cfg.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(s.runCtx, s.cfg.RequestTimeout)
	} else {
		ctx, cancel = context.WithCancel(s.runCtx)
	}
	s.cancelReq = cancel
	gen, utterance, turns, settings := s.gen, trig.Content, s.ctxRing.Slice(), s.settings

	s.log.Debug("requesting suggestion",
		zap.String("session", s.id),
		zap.Int("marker", s.det.Marker()),
		zap.Int("utterance_len", len([]rune(utterance))))
	// the request starts after the Processing event so listeners see states in order
	return []func(){
		s.stateEvent(StateProcessing),
		func() { go s.request(ctx, cancel, gen, utterance, turns, settings) },
	}
}

func (s *Session) request(ctx context.Context, cancel context.CancelFunc, gen uint64, utterance string, turns []history.Turn, settings suggest.Settings) {
	defer cancel()
	var (
		res    suggest.Suggestion
		failed error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				failed = fmt.Errorf("suggester panic: %v", r)
			}
		}()
		if s.suggester == nil {
			failed = errors.New("no suggester configured")
			return
		}
		res = s.suggester.Suggest(ctx, utterance, turns, settings)
	}()
	s.complete(gen, utterance, res, failed)
}

func (s *Session) complete(gen uint64, utterance string, res suggest.Suggestion, failed error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateProcessing {
		s.mu.Unlock()
		s.log.Debug("discarding stale response", zap.Uint64("generation", gen))
		return
	}
	s.cancelReq = nil

	if failed != nil {
		s.state = StateListening
		ev := []func(){s.stateEvent(StateListening)}
		ev = append(ev, s.evaluateLocked()...)
		s.mu.Unlock()
		s.log.Error("suggestion request failed", zap.Error(failed))
		s.emitError(failed)
		dispatch(ev)
		return
	}

	added := []history.Turn{history.NewTurn(history.RoleUser, utterance)}
	if !res.IsWait() {
		added = append(added, history.NewTurn(history.RoleAssistant, res.Primary()))
	}
	s.ctxRing.Push(added[0])
	s.turns = append(s.turns, added...)
	s.last = &res
	s.state = StateSuggesting
	s.cooldown = time.AfterFunc(s.cfg.Cooldown, func() { s.endCooldown(gen) })
	ev := []func(){s.stateEvent(StateSuggesting)}
	if s.events.OnSuggestion != nil {
		on := s.events.OnSuggestion
		ev = append([]func(){func() { on(utterance, res) }}, ev...)
	}
	s.mu.Unlock()

	// outside the lock: Append may write the journal
	for _, t := range added {
		s.history.Append(t)
	}
	dispatch(ev)
}

func (s *Session) endCooldown(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateSuggesting {
		s.mu.Unlock()
		return
	}
	s.cooldown = nil
	s.state = StateListening
	ev := []func(){s.stateEvent(StateListening)}
	// replay whatever accumulated while busy
	ev = append(ev, s.evaluateLocked()...)
	s.mu.Unlock()
	dispatch(ev)
}

func (s *Session) pump(ctx context.Context, gen uint64, frags <-chan transcript.Fragment, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("recovered from panic in fragment pump", zap.Any("panic", r))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frags:
			if !ok {
				s.recognitionEnded(gen)
				return
			}
			if err := s.apply(gen, f); errors.Is(err, ErrNotListening) {
				return
			}
		}
	}
}

// recognitionEnded handles a recognizer stream that closed on its own. A permission error ends
// the session; other errors are reported and the session keeps accepting fragments via Apply.
func (s *Session) recognitionEnded(gen uint64) {
	reporter, ok := s.recognizer.(interface{ Err() error })
	if !ok {
		return
	}
	err := reporter.Err()
	if err == nil {
		return
	}
	s.log.Warn("recognition ended", zap.Error(err))
	s.emitError(err)
	if errors.Is(err, ErrPermissionDenied) {
		_ = s.stop(gen, false)
	}
}

// UpdateSettings stores settings for the next Start; a running session keeps its snapshot.
func (s *Session) UpdateSettings(st suggest.Settings) {
	s.mu.Lock()
	s.pending = st.Normalize()
	s.mu.Unlock()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Marker returns how many runes of the finalized transcript have been consumed.
func (s *Session) Marker() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.det.Marker()
}

// History returns the shared display window the session copies its turns to.
func (s *Session) History() *history.Window {
	return s.history
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:      s.state,
		Finalized:  s.acc.Finalized(),
		Interim:    s.acc.Interim(),
		Marker:     s.det.Marker(),
		Generation: s.gen,
		Settings:   s.settings,
		Context:    s.ctxRing.Slice(),
		Turns:      append([]history.Turn(nil), s.turns...),
		Display:    s.history.DisplaySlice(),
	}
	if s.state != StateIdle {
		snap.SessionID = s.id
	}
	if s.last != nil {
		last := *s.last
		snap.LastSuggestion = &last
	}
	return snap
}

func (s *Session) stateEvent(st State) func() {
	return func() { s.emitState(st) }
}

func (s *Session) emitState(st State) {
	if s.events.OnState != nil {
		s.events.OnState(st)
	}
}

func (s *Session) emitError(err error) {
	if s.events.OnError != nil {
		s.events.OnError(err)
	}
}

func dispatch(ev []func()) {
	for _, f := range ev {
		f()
	}
}
