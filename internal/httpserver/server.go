// Package httpserver exposes sessions, the completion endpoint and the Twilio adapter over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/chadiek/speakassist/internal/agent"
	"github.com/chadiek/speakassist/internal/config"
	"github.com/chadiek/speakassist/internal/history"
	"github.com/chadiek/speakassist/internal/infra/storage"
	"github.com/chadiek/speakassist/internal/logging"
	"github.com/chadiek/speakassist/internal/middleware"
	"github.com/chadiek/speakassist/internal/settings"
	"github.com/chadiek/speakassist/internal/suggest"
	"github.com/chadiek/speakassist/internal/transcript"
)

const archiveTimeout = 15 * time.Second

// Deps are the collaborators shared by every session the server creates.
type Deps struct {
	Config   config.Config
	Gateway  *suggest.Gateway
	History  *history.Window
	Settings *settings.FileStore // optional
	Archive  *storage.Archive    // optional
	Logger   *zap.Logger
}

// Server bundles the router, its dependencies and the sessions it owns.
type Server struct {
	Router *echo.Echo

	cfg      config.Config
	gateway  *suggest.Gateway
	history  *history.Window
	settings *settings.FileStore
	archive  *storage.Archive
	log      *zap.Logger

	mu    sync.Mutex
	live  map[*agent.Session]struct{}
	calls map[string]*agent.Session

	beforeCallStart func(callSid string) // test hook
}

// New constructs the HTTP server with routes.
func New(d Deps) *Server {
	log := logging.OrNop(d.Logger)
	h := d.History
	if h == nil {
		h = history.NewWindow(nil, log)
	}
	s := &Server{
		Router:   newRouter(log),
		cfg:      d.Config,
		gateway:  d.Gateway,
		history:  h,
		settings: d.Settings,
		archive:  d.Archive,
		log:      log,
		live:     make(map[*agent.Session]struct{}),
		calls:    make(map[string]*agent.Session),
	}
	if s.gateway == nil {
		s.gateway = suggest.NewGateway(nil, d.Config.RequestTimeout, log)
	}

	e := s.Router
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	auth := middleware.TokenAuth(d.Config.SessionToken)
	cors := echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "X-Auth-Token", "apikey", "x-client-info"},
	})
	e.POST("/respond", s.handleRespond, cors, auth)
	e.OPTIONS("/respond", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, cors)
	e.GET("/history", s.handleHistory, cors, auth)
	e.GET("/session", s.handleSession, auth)

	if d.Config.TwilioAuthToken != "" {
		tw := e.Group("/twilio", middleware.TwilioAuth(func() string { return s.cfg.TwilioAuthToken }, d.Config.BaseURL))
		tw.POST("/voice", s.handleVoice)
		tw.POST("/transcription", s.handleTranscription)
	}
	return s
}

func (s *Server) handleHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"turns": s.history.DisplaySlice()})
}

// currentSettings returns the settings new sessions start with.
func (s *Server) currentSettings() suggest.Settings {
	if s.settings == nil {
		return suggest.DefaultSettings()
	}
	return s.settings.Current()
}

// newSession builds a session wired to the shared gateway. Its turns are copied to the shared
// display history; its request context stays private.
func (s *Server) newSession(rec agent.Recognizer, ev agent.Events) *agent.Session {
	onEnd := ev.OnEnd
	ev.OnEnd = func(id, finalized string, turns []history.Turn) {
		s.archiveTranscript(id, finalized, turns)
		if onEnd != nil {
			onEnd(id, finalized, turns)
		}
	}
	sess := agent.NewSession(agent.Config{
		Cooldown:       s.cfg.Cooldown,
		DiffThreshold:  s.cfg.DiffThreshold,
		RequestTimeout: s.cfg.RequestTimeout,
		Settings:       s.currentSettings(),
	}, agent.Deps{
		Suggester:  s.gateway,
		Recognizer: rec,
		History:    s.history,
		Events:     ev,
		Logger:     s.log,
	})
	s.mu.Lock()
	s.live[sess] = struct{}{}
	s.mu.Unlock()
	return sess
}

// release stops sess and forgets it.
func (s *Server) release(sess *agent.Session) {
	if err := sess.Stop(); err != nil {
		s.log.Warn("session stop failed", zap.Error(err))
	}
	s.mu.Lock()
	delete(s.live, sess)
	s.mu.Unlock()
}

// archiveTranscript stores one session's transcript with the turns that session produced.
func (s *Server) archiveTranscript(id, finalized string, turns []history.Turn) {
	if s.archive == nil || id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	key, err := s.archive.Save(ctx, id, finalized, turns)
	if err != nil {
		s.log.Error("archive transcript failed", zap.String("session", id), zap.Error(err))
		return
	}
	if key != "" {
		s.log.Info("transcript archived", zap.String("session", id), zap.String("key", key))
	}
}

// ApplySettings hands st to every live session; each applies it at its next start.
func (s *Server) ApplySettings(st suggest.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.live {
		sess.UpdateSettings(st)
	}
}

// Close stops every session the server still owns.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*agent.Session, 0, len(s.live))
	for sess := range s.live {
		sessions = append(sessions, sess)
	}
	s.calls = make(map[string]*agent.Session)
	s.mu.Unlock()
	for _, sess := range sessions {
		s.release(sess)
	}
}

// newRecognizer returns an audio-fed recognizer when AssemblyAI is configured.
func (s *Server) newRecognizer() (*transcript.AssemblyAIService, agent.Recognizer) {
	if s.cfg.AssemblyAIKey == "" {
		return nil, nil
	}
	audio := transcript.NewAssemblyAIService(s.cfg.AssemblyAIKey, s.log)
	return audio, transcript.NewContinuous(audio, s.log)
}
