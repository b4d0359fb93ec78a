package suggest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chadiek/speakassist/internal/history"
	"github.com/chadiek/speakassist/internal/logging"
)

const (
	// DefaultTimeout bounds a single completion call.
	DefaultTimeout = 10 * time.Second
	// MinInputRunes is the shortest utterance worth sending.
	MinInputRunes = 3
)

// Request is the payload sent to the completion service.
type Request struct {
	Transcript    string   `json:"transcript"`
	RecentHistory []string `json:"recentHistory"`
	ResponseStyle string   `json:"responseStyle"`
	Language      string   `json:"language"`
}

// Completer produces a raw reply (bare text or a JSON object) for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Gateway wraps a Completer with a timeout, an input gate and fallback handling.
// Suggest never returns an error.
type Gateway struct {
	backend Completer
	timeout time.Duration
	log     *zap.Logger
}

// NewGateway returns a gateway over backend. A non-positive timeout uses DefaultTimeout.
func NewGateway(backend Completer, timeout time.Duration, log *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{backend: backend, timeout: timeout, log: logging.OrNop(log)}
}

// BuildRequest assembles the request for utterance. Only user turns of turns are used as history.
func BuildRequest(utterance string, turns []history.Turn, settings Settings) Request {
	settings = settings.Normalize()
	recent := make([]string, 0, len(turns))
	for _, t := range turns {
		if t.Role == history.RoleUser {
			recent = append(recent, t.Content)
		}
	}
	return Request{
		Transcript:    strings.TrimSpace(utterance),
		RecentHistory: recent,
		ResponseStyle: string(settings.ResponseStyle),
		Language:      settings.Language,
	}
}

// Suggest asks the backend for a suggestion. Any failure yields Fallback.
func (g *Gateway) Suggest(ctx context.Context, utterance string, turns []history.Turn, settings Settings) (out Suggestion) {
	req := BuildRequest(utterance, turns, settings)
	if len([]rune(req.Transcript)) < MinInputRunes {
		g.log.Debug("utterance below minimum length, skipping request", zap.String("utterance", req.Transcript))
		return Fallback()
	}
	if g.backend == nil {
		return Fallback()
	}

	defer func() {
		if r := recover(); r != nil {
			g.log.Error("recovered from panic in completion backend", zap.Any("panic", r))
			out = Fallback()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	raw, err := g.backend.Complete(ctx, req)
	if err != nil {
		g.log.Warn("completion request failed",
			zap.Error(fmt.Errorf("%w: %v", ErrRequestFailure, err)),
			zap.Duration("elapsed", time.Since(start)))
		return Fallback()
	}
	s, err := ParseReply(raw)
	if err != nil {
		g.log.Warn("completion reply rejected", zap.Error(err))
		return Fallback()
	}
	g.log.Debug("suggestion ready",
		zap.String("opportunity", string(s.SpeakingOpportunity)),
		zap.Int("count", len(s.Suggestions)),
		zap.Duration("elapsed", time.Since(start)))
	return s
}
