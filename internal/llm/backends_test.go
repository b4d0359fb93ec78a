package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chadiek/speakassist/internal/suggest"
)

func TestEdge_PostsRequestShape(t *testing.T) {
	var got suggest.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon" || r.Header.Get("Authorization") != "Bearer anon" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("Let's move it to Monday.\n"))
	}))
	defer srv.Close()

	e := NewEdgeClient(srv.URL, "anon")
	out, err := e.Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "Let's move it to Monday." {
		t.Fatalf("out = %q", out)
	}
	if got.Transcript != "we should ship on friday" || got.ResponseStyle != "formal" || len(got.RecentHistory) != 1 {
		t.Fatalf("request = %+v", got)
	}
}

func TestEdge_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	if _, err := NewEdgeClient(srv.URL, "").Complete(context.Background(), testRequest()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewEdgeClient("", "").Complete(context.Background(), testRequest()); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestMock_ProducesParsableReplies(t *testing.T) {
	m := NewMockClient()
	out, err := m.Complete(context.Background(), suggest.Request{Transcript: "let's talk about pricing"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	s, err := suggest.ParseReply(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Topic != "pricing" || s.SpeakingOpportunity != suggest.OpportunityGood {
		t.Fatalf("suggestion = %+v", s)
	}

	out, _ = m.Complete(context.Background(), suggest.Request{Transcript: "uh huh"})
	s, _ = suggest.ParseReply(out)
	if !s.IsWait() {
		t.Fatalf("short input should ask to wait, got %+v", s)
	}
}

func TestBuildPrompt_Language(t *testing.T) {
	p := BuildPrompt(suggest.Request{Transcript: "hola", Language: "es", ResponseStyle: "casual"})
	if !strings.Contains(p.System, `"es"`) || !strings.Contains(p.System, casualInstructions) {
		t.Fatalf("system prompt = %s", p.System)
	}
	if strings.Contains(p.User, "Conversation so far") {
		t.Fatalf("no history expected: %s", p.User)
	}
	p = BuildPrompt(suggest.Request{Transcript: "hi"})
	if !strings.Contains(p.System, neutralInstructions) || strings.Contains(p.System, "language with code") {
		t.Fatalf("default prompt = %s", p.System)
	}
}

func TestNew_Providers(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Options{Provider: "mock"}); err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, err := New(ctx, Options{Provider: "openai"}); err == nil {
		t.Fatalf("openai without key must fail")
	}
	c, err := New(ctx, Options{Provider: "cerebras", APIKey: "k"})
	if err != nil {
		t.Fatalf("cerebras: %v", err)
	}
	if cc := c.(*ChatClient); cc.BaseURL != CerebrasBaseURL || cc.Model == "" {
		t.Fatalf("cerebras client = %+v", cc)
	}
	if _, err := New(ctx, Options{Provider: "edge"}); err == nil {
		t.Fatalf("edge without url must fail")
	}
	if _, err := New(ctx, Options{Provider: "gemini"}); err == nil {
		t.Fatalf("gemini without key must fail")
	}
	if _, err := New(ctx, Options{Provider: "bogus"}); err == nil {
		t.Fatalf("unknown provider must fail")
	}
}
