package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/chadiek/speakassist/internal/history"
	"github.com/chadiek/speakassist/internal/suggest"
)

// respondRequest accepts both the current and the legacy transcript field.
type respondRequest struct {
	Transcript        string   `json:"transcript"`
	CurrentTranscript string   `json:"current_transcript"`
	RecentHistory     []string `json:"recentHistory"`
	ResponseStyle     string   `json:"responseStyle"`
	Language          string   `json:"language"`
}

// handleRespond is the completion service: one utterance in, one suggestion out.
// Backend failures answer with the fallback suggestion rather than an error status.
func (s *Server) handleRespond(c echo.Context) error {
	var req respondRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
	}
	text := req.Transcript
	if strings.TrimSpace(text) == "" {
		text = req.CurrentTranscript
	}

	style, err := suggest.ParseStyle(req.ResponseStyle)
	if err != nil {
		s.log.Debug("respond: unknown style, using neutral", zap.String("style", req.ResponseStyle))
		style = suggest.StyleNeutral
	}
	st := suggest.Settings{ResponseStyle: style, Language: req.Language}.Normalize()

	turns := make([]history.Turn, 0, len(req.RecentHistory))
	for _, h := range req.RecentHistory {
		if strings.TrimSpace(h) == "" {
			continue
		}
		turns = append(turns, history.Turn{Role: history.RoleUser, Content: h})
	}

	res := s.gateway.Suggest(c.Request().Context(), text, turns, st)
	return c.JSON(http.StatusOK, res)
}
