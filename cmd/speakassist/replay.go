package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chadiek/speakassist/internal/agent"
	"github.com/chadiek/speakassist/internal/suggest"
	"github.com/chadiek/speakassist/internal/transcript"
)

var (
	replayMock     bool
	replayCooldown time.Duration
)

// replayLine is one fragment of a recorded transcript. DelayMs pauses before the fragment.
type replayLine struct {
	transcript.Fragment
	DelayMs int `json:"delayMs,omitempty"`
}

var replayCmd = &cobra.Command{
	Use:   "replay [fragments.jsonl]",
	Short: "Feed a recorded fragment stream through a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open fragments: %w", err)
		}
		defer f.Close()

		cooldown := cfg.Cooldown
		if replayCooldown > 0 {
			cooldown = replayCooldown
		}
		return replay(cmd.Context(), f, cmd.OutOrStdout(), newGateway(cmd.Context(), replayMock), agent.Config{
			Cooldown:       cooldown,
			DiffThreshold:  cfg.DiffThreshold,
			RequestTimeout: cfg.RequestTimeout,
		})
	},
}

func init() {
	replayCmd.Flags().BoolVar(&replayMock, "mock", false, "use the offline mock backend")
	replayCmd.Flags().DurationVar(&replayCooldown, "cooldown", 0, "override the suggestion cooldown")
}

// replay feeds every line of r to a fresh session and prints state changes and suggestions to w.
// It waits for an in-flight request to finish before stopping the session.
func replay(ctx context.Context, r io.Reader, w io.Writer, sg agent.Suggester, sessCfg agent.Config) error {
	var (
		mu       sync.Mutex
		last     agent.State
		inflight int
	)
	printf := func(format string, a ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, format, a...)
	}
	busy := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return inflight > 0
	}

	sess := agent.NewSession(sessCfg, agent.Deps{
		Suggester: sg,
		Logger:    log,
		Events: agent.Events{
			OnState: func(st agent.State) {
				mu.Lock()
				defer mu.Unlock()
				switch {
				case st == agent.StateProcessing:
					inflight++
				case last == agent.StateProcessing:
					inflight--
				}
				last = st
				fmt.Fprintf(w, "state: %s\n", st)
			},
			OnSuggestion: func(utterance string, s suggest.Suggestion) {
				printf("suggestion for %q [%s] %s: %s\n", utterance, s.SpeakingOpportunity, s.Topic, s.Primary())
			},
			OnError: func(err error) { printf("error: %v\n", err) },
		},
	})
	if err := sess.Start(ctx); err != nil {
		return err
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var l replayLine
		if err := json.Unmarshal([]byte(line), &l); err != nil {
			_ = sess.Stop()
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if l.DelayMs > 0 {
			select {
			case <-time.After(time.Duration(l.DelayMs) * time.Millisecond):
			case <-ctx.Done():
				_ = sess.Stop()
				return ctx.Err()
			}
		}
		if err := sess.Apply(l.Fragment); err != nil {
			if !errors.Is(err, transcript.ErrStaleFragment) {
				_ = sess.Stop()
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			log.Debug("stale fragment skipped", zap.Int("line", lineNo))
		}
	}
	if err := scanner.Err(); err != nil {
		_ = sess.Stop()
		return fmt.Errorf("read fragments: %w", err)
	}

	// let the last request report before stopping
	waitIdle(ctx, busy)
	return sess.Stop()
}

func waitIdle(ctx context.Context, busy func() bool) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for busy() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
