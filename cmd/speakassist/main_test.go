package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/speakassist/internal/agent"
	"github.com/chadiek/speakassist/internal/config"
	"github.com/chadiek/speakassist/internal/history"
	"github.com/chadiek/speakassist/internal/llm"
	"github.com/chadiek/speakassist/internal/suggest"
)

func TestReplay_PrintsStatesAndSuggestion(t *testing.T) {
	in := strings.NewReader(`# recorded
{"text":"Hel","isFinal":false,"sequenceIndex":0}
{"text":"Hello","isFinal":true,"sequenceIndex":0}

{"text":"there friend","isFinal":true,"sequenceIndex":1}
{"text":"late","isFinal":true,"sequenceIndex":0}
`)
	var out bytes.Buffer
	gw := suggest.NewGateway(llm.NewMockClient(), time.Second, nil)
	err := replay(context.Background(), in, &out, gw, agent.Config{Cooldown: time.Hour, DiffThreshold: 10, RequestTimeout: time.Second})
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "state: listening")
	assert.Contains(t, got, "state: processing")
	assert.Contains(t, got, `suggestion for "Hello there friend" [good] friend:`)
	assert.Contains(t, got, "state: suggesting")
	assert.True(t, strings.HasSuffix(got, "state: idle\n"), got)
}

func TestReplay_BadLine(t *testing.T) {
	var out bytes.Buffer
	gw := suggest.NewGateway(llm.NewMockClient(), time.Second, nil)
	err := replay(context.Background(), strings.NewReader("{\"text\":\"a\"}\nnot json\n"), &out, gw, agent.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Contains(t, out.String(), "state: idle")
}

func TestConfigCommand_MasksSecrets(t *testing.T) {
	cfg = config.Config{HTTPAddress: ":9000", LLMAPIKey: "sk-abcdefghijkl"}
	var out bytes.Buffer
	configCmd.SetOut(&out)
	configCmd.Run(configCmd, nil)
	assert.Contains(t, out.String(), "HTTP_ADDRESS=:9000")
	assert.Contains(t, out.String(), "LLM_API_KEY=sk-a****")
	assert.NotContains(t, out.String(), "abcdefghijkl")
}

func TestOpenHistory_RestoresUntilCleared(t *testing.T) {
	cfg = config.Config{HistoryDBPath: filepath.Join(t.TempDir(), "history.db")}
	ctx := context.Background()

	w, closeJournal, err := openHistory(ctx)
	require.NoError(t, err)
	w.Append(history.NewTurn(history.RoleUser, "from last run"))
	closeJournal()

	w, closeJournal, err = openHistory(ctx)
	require.NoError(t, err)
	require.Len(t, w.DisplaySlice(), 1)
	assert.Equal(t, "from last run", w.DisplaySlice()[0].Content)
	w.Clear()
	closeJournal()

	w, closeJournal, err = openHistory(ctx)
	require.NoError(t, err)
	defer closeJournal()
	assert.Empty(t, w.DisplaySlice(), "a cleared history stays cleared after restart")
}
