package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chadiek/speakassist/internal/logging"
)

// ErrPermissionDenied reports that a recognition capability could not be acquired
// (microphone access, rejected API credentials). It is surfaced separately from other
// recognition errors and ends continuous recognition.
var ErrPermissionDenied = errors.New("recognition: permission denied")

const (
	assemblyAIEndpoint = "wss://streaming.assemblyai.com/v3/ws"
	terminateTimeout   = time.Second
)

// AssemblyAIService streams PCM audio to AssemblyAI and turns Turn messages into fragments:
// turn_order is the sequence index and end_of_turn marks a final.
type AssemblyAIService struct {
	apiKey   string
	endpoint string
	log      *zap.Logger

	mu        sync.RWMutex
	// writeMu serializes writes on conn; gorilla/websocket allows one writer at a time
	writeMu   sync.Mutex
	conn      *websocket.Conn
	fragments chan Fragment
	audioData chan []byte
	stopCh    chan struct{}
	connected bool
	err       error
}

// AssemblyAI message types
type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type          string `json:"type"`
	TurnOrder     int    `json:"turn_order"`
	Transcript    string `json:"transcript"`
	EndOfTurn     bool   `json:"end_of_turn"`
	TurnFormatted bool   `json:"turn_is_formatted"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewAssemblyAIService creates a recognizer for the given API key.
func NewAssemblyAIService(apiKey string, log *zap.Logger) *AssemblyAIService {
	return &AssemblyAIService{apiKey: apiKey, endpoint: assemblyAIEndpoint, log: logging.OrNop(log)}
}

// WithEndpoint overrides the streaming endpoint (tests, regional hosts).
func (s *AssemblyAIService) WithEndpoint(endpoint string) *AssemblyAIService {
	s.endpoint = endpoint
	return s
}

// Start connects to AssemblyAI and returns the fragment stream. The channel is closed when the
// stream ends; Err tells a benign end from a failure.
func (s *AssemblyAIService) Start(ctx context.Context) (<-chan Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return s.fragments, nil
	}
	if s.apiKey == "" {
		return nil, fmt.Errorf("assemblyai: api key is empty: %w", ErrPermissionDenied)
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("%s?%s", s.endpoint, params.Encode())

	headers := http.Header{"Authorization": {s.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	s.log.Info("connecting to assemblyai", zap.String("url", wsURL))
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("assemblyai: status %d: %w", resp.StatusCode, ErrPermissionDenied)
		}
		return nil, fmt.Errorf("failed to connect to AssemblyAI: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.err = nil
	s.fragments = make(chan Fragment, 100)
	s.audioData = make(chan []byte, 1000)
	s.stopCh = make(chan struct{})

	go s.handleMessages(conn, s.fragments, s.stopCh)
	go s.sendAudioData(conn, s.audioData, s.stopCh)

	s.log.Info("connected to assemblyai streaming service")
	return s.fragments, nil
}

// SendPCM16KLE queues 16 kHz little-endian mono PCM. Audio is dropped when the buffer is full.
func (s *AssemblyAIService) SendPCM16KLE(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("not connected to AssemblyAI")
	}
	select {
	case s.audioData <- pcm:
	default:
		s.log.Debug("audio buffer full, dropping packet")
	}
	return nil
}

// Err returns the error that ended the last stream, nil for a clean termination.
func (s *AssemblyAIService) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Stop terminates the stream. Safe to call more than once.
func (s *AssemblyAIService) Stop() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	conn := s.conn
	s.connected = false
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(terminateTimeout))
		_ = conn.WriteJSON(map[string]string{"type": "Terminate"})
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	s.log.Info("assemblyai connection closed")
	return nil
}

func (s *AssemblyAIService) handleMessages(conn *websocket.Conn, out chan<- Fragment, stopCh <-chan struct{}) {
	defer close(out)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("recovered from panic in handleMessages", zap.Any("panic", r))
		}
	}()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stopCh:
			default:
				s.fail(fmt.Errorf("assemblyai read: %w", err))
			}
			s.markDisconnected(conn)
			return
		}
		f, ok, done := s.processMessage(message)
		if ok {
			select {
			case out <- f:
			case <-stopCh:
				return
			}
		}
		if done {
			s.markDisconnected(conn)
			return
		}
	}
}

// processMessage decodes one server message. It returns a fragment when the message carries
// transcript text and done when the server ended the session.
func (s *AssemblyAIService) processMessage(message []byte) (Fragment, bool, bool) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		s.log.Warn("error unmarshaling message", zap.Error(err))
		return Fragment{}, false, false
	}
	switch base.Type {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.log.Warn("error unmarshaling Begin message", zap.Error(err))
			return Fragment{}, false, false
		}
		s.log.Info("assemblyai session began",
			zap.String("id", msg.ID),
			zap.Time("expires_at", time.Unix(msg.ExpiresAt, 0)))
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.log.Warn("error unmarshaling Turn message", zap.Error(err))
			return Fragment{}, false, false
		}
		if msg.Transcript == "" && !msg.EndOfTurn {
			return Fragment{}, false, false
		}
		return Fragment{Text: msg.Transcript, IsFinal: msg.EndOfTurn, SequenceIndex: msg.TurnOrder}, true, false
	case "Termination":
		var msg terminationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.log.Warn("error unmarshaling Termination message", zap.Error(err))
		}
		s.log.Info("assemblyai session terminated",
			zap.Float64("audio_seconds", msg.AudioDurationSeconds),
			zap.Float64("session_seconds", msg.SessionDurationSeconds))
		return Fragment{}, false, true
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.log.Warn("error unmarshaling Error message", zap.Error(err))
		}
		s.fail(fmt.Errorf("assemblyai: %s", msg.Error))
		return Fragment{}, false, true
	default:
		s.log.Debug("unknown message type", zap.String("type", base.Type))
	}
	return Fragment{}, false, false
}

func (s *AssemblyAIService) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.log.Warn("assemblyai stream ended", zap.Error(err))
}

func (s *AssemblyAIService) markDisconnected(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		close(s.stopCh)
		_ = conn.Close()
		s.conn = nil
		s.connected = false
	}
	s.mu.Unlock()
}

func (s *AssemblyAIService) sendAudioData(conn *websocket.Conn, audio <-chan []byte, stopCh <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("recovered from panic in sendAudioData", zap.Any("panic", r))
		}
	}()
	for {
		select {
		case <-stopCh:
			return
		case pcm := <-audio:
			s.writeMu.Lock()
			err := conn.WriteMessage(websocket.BinaryMessage, pcm)
			s.writeMu.Unlock()
			if err != nil {
				s.log.Warn("error sending audio data", zap.Error(err))
				return
			}
		}
	}
}
