package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/chadiek/speakassist/internal/agent"
	"github.com/chadiek/speakassist/internal/history"
	"github.com/chadiek/speakassist/internal/suggest"
	"github.com/chadiek/speakassist/internal/transcript"
)

const wsWriteTimeout = 5 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// access is gated by the session token, not the origin
		return true
	},
}

// clientMessage is a control frame sent by the browser.
// Types: "start", "stop", "fragment", "settings", "clear".
type clientMessage struct {
	Type string `json:"type"`
	// fragment
	Text          string `json:"text,omitempty"`
	IsFinal       bool   `json:"isFinal,omitempty"`
	SequenceIndex int    `json:"sequenceIndex,omitempty"`
	// settings
	ResponseStyle string `json:"responseStyle,omitempty"`
	Language      string `json:"language,omitempty"`
}

// serverMessage is pushed to the browser.
// Types: "state", "transcript", "suggestion", "history", "error".
type serverMessage struct {
	Type       string              `json:"type"`
	State      string              `json:"state,omitempty"`
	Text       string              `json:"text,omitempty"`
	Utterance  string              `json:"utterance,omitempty"`
	Suggestion *suggest.Suggestion `json:"suggestion,omitempty"`
	Turns      []history.Turn      `json:"turns,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// wsWriter serializes writes; session events arrive from several goroutines.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(m serverMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(m)
}

// handleSession runs one assistant session for the lifetime of the WebSocket.
func (s *Server) handleSession(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("ws upgrade error", zap.Error(err))
		return nil
	}
	defer func() { _ = conn.Close() }()

	out := &wsWriter{conn: conn}
	send := func(m serverMessage) {
		if err := out.send(m); err != nil {
			s.log.Debug("ws write failed", zap.String("type", m.Type), zap.Error(err))
		}
	}
	sendHistory := func() {
		send(serverMessage{Type: "history", Turns: s.history.DisplaySlice()})
	}

	audio, rec := s.newRecognizer()
	sess := s.newSession(rec, agent.Events{
		OnState:      func(st agent.State) { send(serverMessage{Type: "state", State: st.String()}) },
		OnTranscript: func(text string) { send(serverMessage{Type: "transcript", Text: text}) },
		OnSuggestion: func(utterance string, sg suggest.Suggestion) {
			send(serverMessage{Type: "suggestion", Utterance: utterance, Suggestion: &sg})
			sendHistory()
		},
		OnError: func(err error) { send(serverMessage{Type: "error", Error: err.Error()}) },
	})
	defer s.release(sess)

	sendHistory()
	for {
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil {
			if !websocket.IsCloseError(rerr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("ws read ended", zap.Error(rerr))
			}
			return nil
		}
		if mt == websocket.BinaryMessage {
			if audio == nil {
				continue
			}
			if err := audio.SendPCM16KLE(data); err != nil {
				s.log.Debug("dropping audio frame", zap.Error(err))
			}
			continue
		}

		var m clientMessage
		if err := json.Unmarshal(data, &m); err != nil {
			send(serverMessage{Type: "error", Error: "invalid message"})
			continue
		}
		switch strings.ToLower(m.Type) {
		case "start":
			// other failures are reported through OnError
			if err := sess.Start(c.Request().Context()); errors.Is(err, agent.ErrAlreadyActive) {
				send(serverMessage{Type: "error", Error: err.Error()})
			}
		case "stop":
			if err := sess.Stop(); err != nil {
				send(serverMessage{Type: "error", Error: err.Error()})
			}
		case "fragment":
			err := sess.Apply(transcript.Fragment{Text: m.Text, IsFinal: m.IsFinal, SequenceIndex: m.SequenceIndex})
			switch {
			case err == nil, errors.Is(err, transcript.ErrStaleFragment):
			default:
				send(serverMessage{Type: "error", Error: err.Error()})
			}
		case "settings":
			if err := s.updateSettings(sess, m.ResponseStyle, m.Language); err != nil {
				send(serverMessage{Type: "error", Error: err.Error()})
			}
		case "clear":
			s.history.Clear()
			sendHistory()
		default:
			send(serverMessage{Type: "error", Error: "unknown message type: " + m.Type})
		}
	}
}

// updateSettings validates and persists new settings. They take effect at the next start.
func (s *Server) updateSettings(sess *agent.Session, style, language string) error {
	parsed, err := suggest.ParseStyle(style)
	if err != nil {
		return err
	}
	st := suggest.Settings{ResponseStyle: parsed, Language: language}.Normalize()
	if s.settings != nil {
		if err := s.settings.Save(st); err != nil {
			return err
		}
		s.ApplySettings(st)
		return nil
	}
	sess.UpdateSettings(st)
	return nil
}
