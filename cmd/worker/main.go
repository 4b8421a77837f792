// Package main is the entry point of the background worker.
//
// The worker runs the periodic jobs: leaderboard refresh, the daily
// leaderboard snapshot and budget period rollover. With Redis configured,
// each run takes a distributed lock so several workers can be deployed.
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
	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/internal/infrastructure/scheduler"
	"github.com/lingotutor/gamification-engine/internal/infrastructure/scheduler/jobs"
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
		Service:   cfg.App.Name + "-worker",
		Version:   cfg.App.Version,
	})
	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled by configuration; exiting")
		return nil
	}
	log.Info("starting worker",
		slog.String("env", string(cfg.App.Environment)),
		slog.String("timezone", cfg.App.Timezone),
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
	if a.Locker == nil {
		log.Warn("no distributed lock available; run a single worker")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Scheduler
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:     log,
		Timezone:   cfg.App.Location,
		JobTimeout: cfg.Scheduler.JobTimeout,
		Locker:     a.Locker,
	})

	registrations := []struct {
		job      scheduler.Job
		schedule scheduler.Schedule
	}{
		{jobs.NewRefreshLeaderboardsJob(a.Commands.RefreshLeaderboards, log), scheduler.Every(cfg.Scheduler.LeaderboardRefreshInterval)},
		{jobs.NewSnapshotLeaderboardsJob(a.Commands.CreateSnapshot, nil, leaderboard.PeriodDaily, log), scheduler.DailyAt(cfg.Scheduler.SnapshotTime)},
		{jobs.NewRolloverBudgetsJob(a.Commands.RolloverBudgets, log), scheduler.Every(cfg.Scheduler.BudgetRolloverInterval)},
	}
	for _, r := range registrations {
		if err := sched.Register(r.job, r.schedule); err != nil {
			return fmt.Errorf("failed to register job %s: %w", r.job.Name(), err)
		}
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	for _, info := range sched.ListJobs() {
		log.Info("job scheduled", slog.String("job", info.Name), slog.Time("next_run", info.NextRun))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal", slog.String("signal", sig.String()))

	if err := sched.Stop(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	log.Info("shutdown completed")
	return nil
}
