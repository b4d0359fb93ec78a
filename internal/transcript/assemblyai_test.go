package transcript

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestAssemblyAI_TurnsBecomeFragments(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msgs := []string{
			`{"type":"Begin","id":"abc","expires_at":1700000000}`,
			`{"type":"Turn","turn_order":0,"transcript":"hello","end_of_turn":false}`,
			`{"type":"Turn","turn_order":0,"transcript":"hello there","end_of_turn":true}`,
			`{"type":"Mystery"}`,
			`{"type":"Turn","turn_order":1,"transcript":"","end_of_turn":false}`,
			`{"type":"Termination","audio_duration_seconds":1.5,"session_duration_seconds":2}`,
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// drain until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := NewAssemblyAIService("key", nil).WithEndpoint(wsURL(srv))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch, err := s.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	var got []Fragment
	for f := range ch {
		got = append(got, f)
	}
	want := []Fragment{
		{Text: "hello", IsFinal: false, SequenceIndex: 0},
		{Text: "hello there", IsFinal: true, SequenceIndex: 0},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d fragments: %+v", len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fragment %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if s.Err() != nil {
		t.Fatalf("expected benign end, got %v", s.Err())
	}
}

func TestAssemblyAI_UnauthorizedIsPermissionDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewAssemblyAIService("bad", nil).WithEndpoint(wsURL(srv))
	_, err := s.Start(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestAssemblyAI_EmptyKey(t *testing.T) {
	s := NewAssemblyAIService("", nil)
	if _, err := s.Start(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := s.SendPCM16KLE([]byte{0, 1}); err == nil {
		t.Fatalf("expected error sending while disconnected")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop on idle service: %v", err)
	}
}

func TestAssemblyAI_ErrorMessageEndsStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","error":"bad audio"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := NewAssemblyAIService("key", nil).WithEndpoint(wsURL(srv))
	ch, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for range ch {
	}
	if s.Err() == nil || !strings.Contains(s.Err().Error(), "bad audio") {
		t.Fatalf("expected stream error, got %v", s.Err())
	}
}

func TestAssemblyAI_StopWhileStreamingAudio(t *testing.T) {
	upgrader := websocket.Upgrader{}
	terminated := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && strings.Contains(string(data), "Terminate") {
				close(terminated)
				return
			}
		}
	}))
	defer srv.Close()

	s := NewAssemblyAIService("key", nil).WithEndpoint(wsURL(srv))
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// keep the sender goroutine busy writing while Stop sends Terminate
	done := make(chan struct{})
	go func() {
		defer close(done)
		frame := make([]byte, 3200)
		for i := 0; i < 500; i++ {
			if err := s.SendPCM16KLE(frame); err != nil {
				return
			}
		}
	}()
	time.Sleep(5 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	<-done

	select {
	case <-terminated:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received Terminate")
	}
	if err := s.SendPCM16KLE([]byte{0, 0}); err == nil {
		t.Fatal("expected send after stop to fail")
	}
}
