// Package app is the composition root shared by the server and the worker:
// it opens the configured store, the optional Redis cache and event
// fan-out, and assembles every application handler on top of them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lingotutor/gamification-engine/config"
	"github.com/lingotutor/gamification-engine/internal/application/command"
	"github.com/lingotutor/gamification-engine/internal/application/eventhandler"
	"github.com/lingotutor/gamification-engine/internal/application/query"
	"github.com/lingotutor/gamification-engine/internal/application/saga"
	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/budget"
	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/streak"
	"github.com/lingotutor/gamification-engine/internal/domain/xp"
	"github.com/lingotutor/gamification-engine/internal/infrastructure/messaging"
	"github.com/lingotutor/gamification-engine/internal/infrastructure/persistence/memory"
	"github.com/lingotutor/gamification-engine/internal/infrastructure/persistence/postgres"
	rediscache "github.com/lingotutor/gamification-engine/internal/infrastructure/persistence/redis"
	"github.com/lingotutor/gamification-engine/internal/infrastructure/scheduler"
	"github.com/lingotutor/gamification-engine/internal/infrastructure/service"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORES
// ══════════════════════════════════════════════════════════════════════════════

// StreakStore is the streak table plus the achievement read view of it.
type StreakStore interface {
	streak.Repository
	achievement.StreakReader
}

// Directory reads the host application's tables.
type Directory interface {
	shared.UserDirectory
	achievement.StatsProvider
	leaderboard.ScoreSource
}

// Stores is one backend's implementation of every store contract.
type Stores struct {
	XP           xp.Repository
	Streaks      StreakStore
	Achievements achievement.Repository
	Leaderboard  leaderboard.Repository
	Budgets      budget.Repository
	Directory    Directory
	Ledger       budget.CostLedger
	Tx           shared.Transactor
}

// MemoryStores exposes a memory.Store through the store contracts.
func MemoryStores(s *memory.Store) Stores {
	return Stores{
		XP:           s.XP(),
		Streaks:      s.Streaks(),
		Achievements: s.Achievements(),
		Leaderboard:  s.Leaderboard(),
		Budgets:      s.Budgets(),
		Directory:    s.Directory(),
		Ledger:       s.Budgets(),
		Tx:           s,
	}
}

// PostgresStores exposes a pgx pool through the store contracts.
func PostgresStores(conn *postgres.Connection, log *slog.Logger) Stores {
	dir := postgres.NewDirectory(conn)
	return Stores{
		XP:           postgres.NewXPRepository(conn),
		Streaks:      postgres.NewStreakRepository(conn),
		Achievements: postgres.NewAchievementRepository(conn),
		Leaderboard:  postgres.NewLeaderboardRepository(conn),
		Budgets:      postgres.NewBudgetRepository(conn),
		Directory:    dir,
		Ledger:       dir,
		Tx:           postgres.NewTxManager(conn, log),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// Commands holds the write side.
type Commands struct {
	AwardXP                *command.AwardXPHandler
	UpdateStreak           *command.UpdateStreakHandler
	UseStreakFreeze        *command.UseStreakFreezeHandler
	UnlockAchievement      *command.UnlockAchievementHandler
	CheckAchievements      *command.CheckAchievementsHandler
	InitializeAchievements *command.InitializeAchievementsHandler
	CreateSnapshot         *command.CreateLeaderboardSnapshotHandler
	RefreshLeaderboards    *command.RefreshLeaderboardsHandler
	UpdateBudgetSettings   *command.UpdateBudgetSettingsHandler
	ResetBudget            *command.ResetBudgetHandler
	RolloverBudgets        *command.RolloverBudgetsHandler
}

// Queries holds the read side.
type Queries struct {
	XP           *query.XPHandler
	ScenarioXP   *query.ScenarioXPHandler
	Streaks      *query.StreakHandler
	Achievements *query.AchievementHandler
	Leaderboards *query.LeaderboardHandler
	Budgets      *query.BudgetHandler
}

// App is a fully wired engine.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Clock  timeutil.Clock
	Flags  *config.FeatureFlags
	Stores Stores

	Bus          shared.EventBus
	Ledger       *service.GuardedCostLedger
	Leaderboards *service.LeaderboardService

	// Locker is nil without Redis; jobs then run unguarded.
	Locker scheduler.Locker

	Commands     Commands
	Queries      Queries
	ScenarioFlow *saga.ScenarioCompletionFlow

	// Checks are the readiness probes by dependency name.
	Checks map[string]func(ctx context.Context) error

	closers []func() error
}

// Deps are the already opened dependencies Assemble wires together.
type Deps struct {
	Config *config.Config
	Logger *slog.Logger
	Clock  timeutil.Clock
	Stores Stores

	// Cache defaults to an in-process cache.
	Cache leaderboard.Cache

	// Bus defaults to a synchronous in-memory bus.
	Bus shared.EventBus

	Locker scheduler.Locker
}

// Assemble builds every handler over d and subscribes the event handlers.
func Assemble(d Deps) (*App, error) {
	if d.Config == nil {
		return nil, errors.New("app: config is required")
	}
	log := logger.OrDefault(d.Logger)
	clock := d.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	cfg := d.Config
	flags := cfg.Features
	if flags == nil {
		flags = config.NewFeatureFlags()
	}
	if d.Cache == nil {
		d.Cache = memory.NewLeaderboardCache(cfg.Gamification.LeaderboardCacheTTL, clock)
	}
	if d.Bus == nil {
		busCfg := messaging.DefaultInMemoryEventBusConfig()
		busCfg.AsyncMode = false
		busCfg.Logger = log
		d.Bus = messaging.NewInMemoryEventBus(busCfg)
	}

	st := d.Stores
	tz := cfg.Gamification.DefaultStreakTimezone

	ledger := service.NewGuardedCostLedger(st.Ledger, cfg.Budget.LedgerFailureThreshold, cfg.Budget.LedgerOpenTimeout, log)
	ranker := service.NewLeaderboardService(st.Directory, st.Leaderboard, d.Cache, st.Directory, st.Tx, d.Bus, clock,
		service.LeaderboardConfig{
			TTL:                cfg.Gamification.LeaderboardCacheTTL,
			PopulationCap:      cfg.Gamification.LeaderboardPopulationCap,
			RefreshConcurrency: cfg.Gamification.LeaderboardRefreshWorkers,
		}, log)

	evaluator := achievement.NewEvaluator(st.Directory, st.Streaks, log)
	unlock := command.NewUnlockAchievementHandler(st.Achievements, st.Tx, d.Bus, clock, log)
	award := command.NewAwardXPHandler(st.XP, st.Streaks, st.Tx, d.Bus, clock, log)
	updateStreak := command.NewUpdateStreakHandler(st.Streaks, st.Tx, d.Bus, clock, tz, log)
	check := command.NewCheckAchievementsHandler(st.Achievements, evaluator, unlock, log)
	streaks := query.NewStreakHandler(st.Streaks, clock, tz, log)

	a := &App{
		Config:       cfg,
		Logger:       log,
		Clock:        clock,
		Flags:        flags,
		Stores:       st,
		Bus:          d.Bus,
		Ledger:       ledger,
		Leaderboards: ranker,
		Locker:       d.Locker,
		Commands: Commands{
			AwardXP:                award,
			UpdateStreak:           updateStreak,
			UseStreakFreeze:        command.NewUseStreakFreezeHandler(st.Streaks, st.Tx, d.Bus, clock, log),
			UnlockAchievement:      unlock,
			CheckAchievements:      check,
			InitializeAchievements: command.NewInitializeAchievementsHandler(st.Achievements, st.Tx, clock, log),
			CreateSnapshot:         command.NewCreateLeaderboardSnapshotHandler(ranker, log),
			RefreshLeaderboards:    command.NewRefreshLeaderboardsHandler(ranker),
			UpdateBudgetSettings:   command.NewUpdateBudgetSettingsHandler(st.Budgets, st.Directory, st.Tx, clock, log),
			ResetBudget:            command.NewResetBudgetHandler(st.Budgets, ledger, st.Directory, st.Tx, d.Bus, clock, log),
			RolloverBudgets:        command.NewRolloverBudgetsHandler(st.Budgets, ledger, st.Tx, d.Bus, clock, log),
		},
		Queries: Queries{
			XP:           query.NewXPHandler(st.XP, clock, log),
			ScenarioXP:   query.NewScenarioXPHandler(streaks, log),
			Streaks:      streaks,
			Achievements: query.NewAchievementHandler(st.Achievements, evaluator, log),
			Leaderboards: query.NewLeaderboardHandler(ranker),
			Budgets:      query.NewBudgetHandler(st.Budgets, ledger, st.Directory, st.Tx, clock, log),
		},
		ScenarioFlow: saga.NewScenarioCompletionFlow(streaks, award, updateStreak, check, log),
		Checks:       map[string]func(ctx context.Context) error{},
	}

	err := eventhandler.Register(d.Bus,
		eventhandler.NewOnAchievementUnlockedHandler(award, flags, log),
		eventhandler.NewOnStreakChangedHandler(check, log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register event handlers: %w", err)
	}
	return a, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PRODUCTION WIRING
// ══════════════════════════════════════════════════════════════════════════════

// New opens everything cfg names and assembles the App. Close releases it.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	log = logger.OrDefault(log)
	var closers []func() error
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}
	checks := map[string]func(ctx context.Context) error{}

	// ─────────────────────────────────────────────────────────────────────────
	// Store
	// ─────────────────────────────────────────────────────────────────────────
	var stores Stores
	switch cfg.Database.Driver {
	case config.StorePostgres:
		conn, err := postgres.NewConnection(ctx, cfg.Database.URL, postgres.PoolConfig{
			MaxConns:        int32(cfg.Database.MaxConns),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to connect to database: %w", err))
		}
		closers = append(closers, func() error { conn.Close(); return nil })
		checks["postgres"] = conn.CheckHealth

		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				return fail(fmt.Errorf("failed to run migrations: %w", err))
			}
			log.Info("database migrations applied")
		}
		stores = PostgresStores(conn, log)
	default:
		log.Warn("using the in-memory store; data is lost on restart")
		stores = MemoryStores(memory.NewStore())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Event bus and Redis
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	busCfg.WorkerPoolSize = cfg.Gamification.EventWorkers
	busCfg.HandlerTimeout = cfg.Gamification.EventHandlerTimeout
	local := messaging.NewInMemoryEventBus(busCfg)
	local.Use(messaging.LoggingMiddleware(log))
	closers = append(closers, local.Close)

	deps := Deps{
		Config: cfg,
		Logger: log,
		Stores: stores,
		Bus:    local,
	}

	if !cfg.Redis.Disabled {
		rc := cfg.Redis
		client, err := rediscache.NewClient(ctx, rediscache.Config{
			URL:          rc.ConnURL(),
			KeyPrefix:    rc.KeyPrefix,
			PoolSize:     rc.PoolSize,
			MinIdleConns: rc.MinIdleConns,
			DialTimeout:  rc.DialTimeout,
			ReadTimeout:  rc.ReadTimeout,
			WriteTimeout: rc.WriteTimeout,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to connect to redis: %w", err))
		}
		closers = append(closers, client.Close)

		cache := rediscache.NewCache(client, rc.KeyPrefix)
		checks["redis"] = cache.Ping
		deps.Cache = rediscache.NewLeaderboardCache(cache, cfg.Gamification.LeaderboardCacheTTL)
		deps.Locker = cache

		bus, err := messaging.NewRedisEventBus(ctx, client, local, messaging.RedisEventBusConfig{
			Channel: rc.EventChannel,
			Logger:  log,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to start redis event bus: %w", err))
		}
		closers = append(closers, bus.Close)
		deps.Bus = bus
	} else {
		log.Info("redis disabled; cache and events stay in process")
	}

	a, err := Assemble(deps)
	if err != nil {
		return fail(err)
	}
	for name, fn := range checks {
		a.Checks[name] = fn
	}
	a.closers = closers
	return a, nil
}

// Ready runs every readiness probe and returns the failures by name.
func (a *App) Ready(ctx context.Context) map[string]error {
	failed := map[string]error{}
	for name, check := range a.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err
		}
	}
	return failed
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
