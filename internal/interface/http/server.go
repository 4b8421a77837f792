// Package http exposes the gamification and budget engine as a JSON REST
// API under /api/v1, plus unauthenticated health probes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/lingotutor/gamification-engine/config"
	"github.com/lingotutor/gamification-engine/internal/app"
	"github.com/lingotutor/gamification-engine/internal/interface/http/handlers"
	"github.com/lingotutor/gamification-engine/pkg/logger"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     config.HTTPConfig
	app        *app.App
	health     *handlers.CompositeHealthChecker
	auth       *handlers.APIKeyAuth
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer wires every route over a.
func NewServer(cfg config.HTTPConfig, a *app.App, log *slog.Logger) *Server {
	log = logger.OrDefault(log).With(logger.Component("http"))

	version := ""
	if a.Config != nil {
		version = a.Config.App.Version
	}
	health := handlers.NewCompositeHealthChecker(version)
	for name, check := range a.Checks {
		health.AddCheck(name, check)
	}

	s := &Server{
		config: cfg,
		app:    a,
		health: health,
		auth:   handlers.NewAPIKeyAuth(cfg.APIKeyHashes),
		logger: log,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handlers.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", handlers.HeaderAPIKey, handlers.HeaderUserID},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.config.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(s.config.RateLimitPerMinute, time.Minute))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Get("/ready", s.health.ReadyHandler)
	r.Get("/live", s.health.LiveHandler)

	flags := s.app.Flags
	feature := func(name string) func(http.Handler) http.Handler {
		return handlers.RequireFeature(flags, name)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// API v1
	// ─────────────────────────────────────────────────────────────────────────
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Use(handlers.RequireActor(s.app.Stores.Directory))

		r.With(feature(config.FeatureXP)).Post("/xp/scenario-preview", s.handleScenarioPreview)
		r.With(feature(config.FeatureAchievements)).Get("/achievements", s.handleListAchievements)

		r.Route("/leaderboards", func(r chi.Router) {
			r.Use(feature(config.FeatureLeaderboards))
			r.Get("/xp-rankings", s.handleXPRankings)
			r.Get("/{metric}", s.handleGetLeaderboard)
			r.Get("/{metric}/users/{userID}", s.handleGetUserRank)
			r.Get("/{metric}/history/{period}/{date}", s.handleGetHistoricalLeaderboard)
			r.With(handlers.RequireAdmin).Post("/refresh", s.handleRefreshLeaderboards)
			r.With(handlers.RequireAdmin).Post("/{metric}/snapshots", s.handleCreateSnapshot)
		})

		r.With(handlers.RequireAdmin).Get("/budgets", s.handleListBudgets)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(feature(config.FeatureXP))
				r.With(s.requireSelfOrAdmin).Get("/xp", s.handleGetLevel)
				r.With(s.requireSelfOrAdmin).Get("/xp/history", s.handleGetXPHistory)
				r.With(s.requireSelfOrAdmin).Get("/xp/statistics", s.handleGetXPStatistics)
				r.With(handlers.RequireAdmin).Post("/xp", s.handleAwardXP)
				r.With(s.requireSelfOrAdmin).Post("/scenarios/{scenarioID}/complete", s.handleCompleteScenario)
			})

			r.Group(func(r chi.Router) {
				r.Use(feature(config.FeatureStreaks))
				r.Use(s.requireSelfOrAdmin)
				r.Get("/streak", s.handleGetStreak)
				r.Get("/streak/history", s.handleGetStreakHistory)
				r.Post("/streak", s.handleUpdateStreak)
				r.Post("/streak/freeze", s.handleUseFreeze)
			})

			r.Group(func(r chi.Router) {
				r.Use(feature(config.FeatureAchievements))
				r.With(s.requireSelfOrAdmin).Get("/achievements", s.handleGetUnlocked)
				r.With(s.requireSelfOrAdmin).Get("/achievements/{achievementID}/progress", s.handleGetProgress)
				r.With(s.requireSelfOrAdmin).Post("/achievements/check", s.handleCheckAchievements)
				r.With(handlers.RequireAdmin).Post("/achievements/{achievementID}", s.handleUnlockAchievement)
			})

			// Budget visibility and permissions are decided by the budget
			// handlers themselves.
			r.Get("/budget", s.handleGetBudgetSettings)
			r.Patch("/budget", s.handleUpdateBudgetSettings)
			r.Get("/budget/status", s.handleGetBudgetStatus)
			r.Get("/budget/breakdown", s.handleGetBudgetBreakdown)
			r.Get("/budget/resets", s.handleGetResetHistory)
			r.Post("/budget/reset", s.handleResetBudget)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		handlers.WriteError(w, http.StatusNotFound, handlers.CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		handlers.WriteError(w, http.StatusMethodNotAllowed, handlers.CodeValidation, "method not allowed")
	})
	return r
}

// requireSelfOrAdmin lets an actor act on their own {userID} only, unless
// they are an administrator.
func (s *Server) requireSelfOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := handlers.Actor(r.Context())
		if !ok || (actor.ID != chi.URLParam(r, "userID") && !actor.IsAdmin()) {
			handlers.WriteError(w, http.StatusForbidden, handlers.CodeForbidden, "cannot act on another user")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", slog.String("address", s.config.Addr()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

var errInvalidBody = errors.New("invalid JSON body")

// decodeJSON decodes an optional body into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

// queryInt extracts an integer query parameter with a default value.
func queryInt(r *http.Request, key string, defaultValue int) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("query parameter %q must be an integer", key)
	}
	return n, nil
}

// queryBool extracts a boolean query parameter.
func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

func badRequest(w http.ResponseWriter, err error) {
	handlers.WriteError(w, http.StatusBadRequest, handlers.CodeValidation, err.Error())
}
