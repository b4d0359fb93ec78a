package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chadiek/speakassist/internal/config"
	"github.com/chadiek/speakassist/internal/llm"
	"github.com/chadiek/speakassist/internal/logging"
	"github.com/chadiek/speakassist/internal/suggest"
)

var (
	envFile string
	cfg     config.Config
	log     = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "speakassist",
	Short: "Real-time conversation assistant",
	Long:  "Listens to a live transcript and suggests when and what to say, over HTTP, WebSocket and Twilio calls.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}
		cfg = config.Load(files...)
		l, err := logging.New(cfg.LogLevel, cfg.LogJSON)
		if err != nil {
			return err
		}
		log = l
		for _, w := range cfg.Warnings {
			log.Warn(w)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Current Configuration:")
		for _, kv := range cfg.Masked() {
			fmt.Fprintf(out, "  %s=%s\n", kv[0], kv[1])
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default is ./.env)")
	rootCmd.AddCommand(serveCmd, replayCmd, configCmd)
}

// newGateway builds the suggestion gateway for the configured backend. A backend that cannot be
// built leaves the gateway answering with the fallback suggestion.
func newGateway(ctx context.Context, mock bool) *suggest.Gateway {
	opts := llm.Options{
		Provider:     cfg.LLMProvider,
		BaseURL:      cfg.LLMBaseURL,
		APIKey:       cfg.LLMAPIKey,
		Model:        cfg.LLMModel,
		GeminiAPIKey: cfg.GeminiAPIKey,
		GeminiModel:  cfg.GeminiModel,
		EdgeURL:      cfg.EdgeURL,
		EdgeKey:      cfg.EdgeKey,
	}
	if mock {
		opts.Provider = "mock"
	}
	backend, err := llm.New(ctx, opts)
	if err != nil {
		log.Error("completion backend unavailable", zap.Error(err))
		return suggest.NewGateway(nil, cfg.RequestTimeout, log)
	}
	log.Info("completion backend ready", zap.String("provider", opts.Provider))
	return suggest.NewGateway(backend, cfg.RequestTimeout, log)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error("command execution failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}
