package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chadiek/speakassist/internal/history"
	"github.com/chadiek/speakassist/internal/httpserver"
	"github.com/chadiek/speakassist/internal/infra/storage"
	"github.com/chadiek/speakassist/internal/settings"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	window, closeJournal, err := openHistory(ctx)
	if err != nil {
		return err
	}
	defer closeJournal()

	store := settings.NewFileStore(cfg.SettingsFile, log)
	if _, err := store.Load(); err != nil {
		log.Warn("settings file invalid, using defaults", zap.Error(err))
	}

	var archive *storage.Archive
	if cfg.SupabaseURL != "" {
		up, err := storage.NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.SupabaseBucket)
		if err != nil {
			log.Warn("transcript archive disabled", zap.Error(err))
		} else {
			archive = storage.NewArchive(up)
		}
	}

	srv := httpserver.New(httpserver.Deps{
		Config:   cfg,
		Gateway:  newGateway(ctx, false),
		History:  window,
		Settings: store,
		Archive:  archive,
		Logger:   log,
	})
	defer srv.Close()

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", zap.String("addr", cfg.HTTPAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			log.Warn("graceful shutdown failed", zap.Error(err))
			_ = server.Close()
		}
		return nil
	})
	g.Go(func() error {
		return store.Watch(gctx, srv.ApplySettings)
	})
	return g.Wait()
}

// openHistory returns the shared display window, backed by the sqlite journal when configured
// and primed with its most recent turns. Restored turns are not journaled again.
func openHistory(ctx context.Context) (*history.Window, func(), error) {
	if cfg.HistoryDBPath == "" {
		return history.NewWindow(nil, log), func() {}, nil
	}
	j, err := storage.OpenJournal(cfg.HistoryDBPath)
	if err != nil {
		return nil, nil, err
	}
	window := history.NewWindow(j, log)
	turns, err := j.Recent(ctx, history.DisplayCap)
	if err != nil {
		log.Warn("could not read history journal", zap.Error(err))
	}
	window.Restore(turns)
	log.Info("history journal opened", zap.String("path", cfg.HistoryDBPath), zap.Int("restored", len(turns)))
	return window, func() {
		if err := j.Close(); err != nil {
			log.Warn("close history journal", zap.Error(err))
		}
	}, nil
}
