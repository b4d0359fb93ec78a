package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"

	"github.com/chadiek/speakassist/internal/agent"
	"github.com/chadiek/speakassist/internal/middleware"
	"github.com/chadiek/speakassist/internal/suggest"
	"github.com/chadiek/speakassist/internal/transcript"
)

const callGreeting = "Assistant connected. Suggestions will appear on your screen."

// errCallEnded is returned by startCall when the call ended before its session was running.
var errCallEnded = errors.New("call ended during session start")

// transcriptionData is the JSON carried in the TranscriptionData parameter.
type transcriptionData struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// handleVoice answers an incoming call with TwiML that starts real-time transcription of the
// caller and keeps the line open.
func (s *Server) handleVoice(c echo.Context) error {
	params, ok := middleware.TwilioParams(c)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	if params["CallSid"] == "" {
		s.log.Warn("twilio voice webhook without CallSid")
		say := &twiml.VoiceSay{Message: "Sorry, this call cannot be assisted."}
		hangup := &twiml.VoiceHangup{}
		response, err := twiml.Voice([]twiml.Element{say, hangup})
		if err != nil {
			return c.String(http.StatusInternalServerError, "failed to build TwiML")
		}
		c.Response().Header().Set(echo.HeaderContentType, "application/xml")
		return c.String(http.StatusOK, response)
	}

	s.log.Info("twilio call received",
		zap.String("call_sid", params["CallSid"]),
		zap.String("from", params["From"]))

	callback := s.absoluteURL(c, "/twilio/transcription")
	locale := s.currentSettings().RecognitionLocale()
	twimlResponse := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Start>
    <Transcription statusCallbackUrl="%s" track="inbound_track" partialResults="true" languageCode="%s"/>
  </Start>
  <Say>%s</Say>
  <Pause length="3600"/>
</Response>`, html.EscapeString(callback), html.EscapeString(locale), html.EscapeString(callGreeting))

	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, twimlResponse)
}

// handleTranscription maps real-time transcription callbacks onto a per-call session.
func (s *Server) handleTranscription(c echo.Context) error {
	params, ok := middleware.TwilioParams(c)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	callSid := params["CallSid"]
	if callSid == "" {
		return c.String(http.StatusBadRequest, "missing CallSid")
	}
	log := s.log.With(zap.String("call_sid", callSid))

	switch event := params["TranscriptionEvent"]; event {
	case "transcription-started":
		if _, err := s.startCall(c, callSid); err != nil {
			logStartErr(log, err)
		}

	case "transcription-content":
		sess, err := s.startCall(c, callSid)
		if err != nil {
			logStartErr(log, err)
			break
		}
		f, err := fragmentFromParams(params)
		if err != nil {
			log.Warn("ignoring transcription content", zap.Error(err))
			break
		}
		if err := sess.Apply(f); err != nil && !errors.Is(err, transcript.ErrStaleFragment) {
			log.Warn("apply fragment failed", zap.Error(err))
		}

	case "transcription-stopped", "transcription-error":
		if event == "transcription-error" {
			log.Error("twilio transcription error", zap.String("error", params["TranscriptionError"]))
		}
		s.endCall(callSid)

	default:
		log.Debug("ignoring transcription event", zap.String("event", event))
	}
	return c.NoContent(http.StatusOK)
}

// startCall returns the running session for callSid, creating and starting one if needed.
func (s *Server) startCall(c echo.Context, callSid string) (*agent.Session, error) {
	s.mu.Lock()
	sess, ok := s.calls[callSid]
	s.mu.Unlock()
	if ok {
		return sess, nil
	}

	log := s.log.With(zap.String("call_sid", callSid))
	sess = s.newSession(nil, agent.Events{
		OnSuggestion: func(utterance string, sg suggest.Suggestion) {
			log.Info("call suggestion",
				zap.String("utterance", utterance),
				zap.String("opportunity", string(sg.SpeakingOpportunity)),
				zap.String("suggestion", sg.Primary()))
		},
		OnError: func(err error) { log.Warn("call session error", zap.Error(err)) },
	})

	s.mu.Lock()
	if existing, ok := s.calls[callSid]; ok {
		s.mu.Unlock()
		s.release(sess)
		return existing, nil
	}
	s.calls[callSid] = sess
	hook := s.beforeCallStart
	s.mu.Unlock()

	if hook != nil {
		hook(callSid)
	}
	err := sess.Start(c.Request().Context())
	if errors.Is(err, agent.ErrAlreadyActive) {
		err = nil
	}

	// endCall may have run while Start was in progress
	s.mu.Lock()
	current := s.calls[callSid] == sess
	if err != nil && current {
		delete(s.calls, callSid)
	}
	s.mu.Unlock()
	if err == nil && !current {
		err = errCallEnded
	}
	if err != nil {
		s.release(sess)
		return nil, err
	}
	return sess, nil
}

func logStartErr(log *zap.Logger, err error) {
	if errors.Is(err, errCallEnded) || errors.Is(err, agent.ErrStartCancelled) {
		log.Info("call ended before its session started")
		return
	}
	log.Error("start call session failed", zap.Error(err))
}

func (s *Server) endCall(callSid string) {
	s.mu.Lock()
	sess, ok := s.calls[callSid]
	delete(s.calls, callSid)
	s.mu.Unlock()
	if ok {
		s.release(sess)
	}
}

func fragmentFromParams(params map[string]string) (transcript.Fragment, error) {
	var data transcriptionData
	if err := json.Unmarshal([]byte(params["TranscriptionData"]), &data); err != nil {
		return transcript.Fragment{}, fmt.Errorf("decode TranscriptionData: %w", err)
	}
	seq, err := strconv.Atoi(params["SequenceId"])
	if err != nil {
		return transcript.Fragment{}, fmt.Errorf("invalid SequenceId %q: %w", params["SequenceId"], err)
	}
	final, _ := strconv.ParseBool(params["Final"])
	return transcript.Fragment{Text: data.Transcript, IsFinal: final, SequenceIndex: seq}, nil
}

// absoluteURL builds a public URL for callbacks.
// Priority: BASE_URL > X-Forwarded-* headers > request Host heuristic.
func (s *Server) absoluteURL(c echo.Context, path string) string {
	baseURL := s.cfg.BaseURL
	if baseURL == "" {
		proto := c.Request().Header.Get("X-Forwarded-Proto")
		host := c.Request().Header.Get("X-Forwarded-Host")
		if proto != "" && host != "" {
			baseURL = fmt.Sprintf("%s://%s", proto, host)
		}
	}
	if baseURL == "" {
		host := c.Request().Host
		proto := "https"
		if strings.HasPrefix(host, "localhost:") || strings.HasPrefix(host, "127.0.0.1:") {
			proto = "http"
		}
		baseURL = fmt.Sprintf("%s://%s", proto, host)
	}
	return strings.TrimRight(baseURL, "/") + path
}
