// Package main is the entry point of the gamification API server.
//
// The server loads configuration, opens the store (and Redis when
// configured), reconciles the achievement catalog and serves the REST API
// until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lingotutor/gamification-engine/config"
	"github.com/lingotutor/gamification-engine/internal/app"
	apihttp "github.com/lingotutor/gamification-engine/internal/interface/http"
	"github.com/lingotutor/gamification-engine/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.Setup(logger.Options{
		Level:     cfg.Observability.LogLevel,
		Format:    cfg.Observability.LogFormat,
		AddSource: cfg.Observability.AddSource,
		Service:   cfg.App.Name,
		Version:   cfg.App.Version,
	})
	log.Info("starting API server",
		slog.String("env", string(cfg.App.Environment)),
		slog.String("store", cfg.Database.Driver),
		slog.Bool("redis", !cfg.Redis.Disabled),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Engine
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("shutdown cleanup failed", logger.Err(err))
		}
	}()

	res, err := a.Commands.InitializeAchievements.Handle(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize achievements: %w", err)
	}
	log.Info("achievement catalog reconciled",
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
		slog.Int("unchanged", res.Unchanged),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP server
	// ─────────────────────────────────────────────────────────────────────────
	srv := apihttp.NewServer(cfg.HTTP, a, log)
	errCh := srv.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("starting graceful shutdown", slog.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("shutdown completed")
	return nil
}
