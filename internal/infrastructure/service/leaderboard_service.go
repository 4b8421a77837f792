// Package service holds infrastructure-backed services shared by the
// application layer: the leaderboard ranker and the guarded cost ledger.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// LeaderboardConfig tunes the ranker.
type LeaderboardConfig struct {
	// TTL bounds how long cached lists and rank rows are served.
	TTL time.Duration

	// PopulationCap is the number of users ranked per refresh.
	PopulationCap int

	// RefreshConcurrency limits metrics refreshed at once.
	RefreshConcurrency int
}

// DefaultLeaderboardConfig returns the production defaults.
func DefaultLeaderboardConfig() LeaderboardConfig {
	return LeaderboardConfig{
		TTL:                leaderboard.DefaultTTL,
		PopulationCap:      leaderboard.PopulationCap,
		RefreshConcurrency: 3,
	}
}

// LeaderboardService ranks users per metric, keeps the per-user cache rows
// with rank deltas and manages daily snapshots. Read failures degrade to
// empty results.
type LeaderboardService struct {
	source    leaderboard.ScoreSource
	repo      leaderboard.Repository
	cache     leaderboard.Cache
	users     shared.UserDirectory
	tx        shared.Transactor
	publisher shared.EventPublisher
	clock     timeutil.Clock
	cfg       LeaderboardConfig
	logger    *slog.Logger

	// refreshMu serializes regeneration per metric.
	refreshMu sync.Map
}

// NewLeaderboardService creates a new LeaderboardService.
func NewLeaderboardService(
	source leaderboard.ScoreSource,
	repo leaderboard.Repository,
	cache leaderboard.Cache,
	users shared.UserDirectory,
	tx shared.Transactor,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	cfg LeaderboardConfig,
	log *slog.Logger,
) *LeaderboardService {
	def := DefaultLeaderboardConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.PopulationCap <= 0 {
		cfg.PopulationCap = def.PopulationCap
	}
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = def.RefreshConcurrency
	}
	if tx == nil {
		tx = shared.NoTx{}
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	return &LeaderboardService{
		source:    source,
		repo:      repo,
		cache:     cache,
		users:     users,
		tx:        tx,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.OrDefault(log).With(logger.Component("leaderboard")),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

// Leaderboard returns the top limit entries for metric. With useCache the
// cached list is served while fresh; otherwise, or on a miss, the metric is
// regenerated. Unknown metrics and failures yield an empty list.
func (s *LeaderboardService) Leaderboard(ctx context.Context, metric leaderboard.Metric, limit int, useCache bool) []leaderboard.Entry {
	limit = leaderboard.ClampLimit(limit)
	log := s.logger.With(logger.Metric(string(metric)))

	if !metric.IsValid() {
		log.Warn("unknown leaderboard metric")
		return []leaderboard.Entry{}
	}

	if useCache && s.cache != nil {
		entries, ok, err := s.cache.Get(ctx, metric)
		if err != nil {
			log.Warn("leaderboard cache read failed", logger.Err(err))
		} else if ok {
			return leaderboard.FromEntries(metric, entries).Top(limit)
		}
	}

	ranking, err := s.generate(ctx, metric)
	if err != nil {
		log.Error("leaderboard generation failed", logger.Err(err))
		return []leaderboard.Entry{}
	}
	return ranking.Top(limit)
}

// UserRank returns the user's rank for metric, or nil when the user is not
// ranked. A fresh cache row is served as is; a stale or missing row
// triggers a regeneration.
func (s *LeaderboardService) UserRank(ctx context.Context, userID string, metric leaderboard.Metric) *leaderboard.RankInfo {
	log := s.logger.With(logger.Metric(string(metric)), logger.UserID(userID))
	if !metric.IsValid() {
		log.Warn("unknown leaderboard metric")
		return nil
	}

	row, err := s.repo.GetCacheRow(ctx, userID, metric)
	if err != nil {
		log.Warn("rank cache read failed", logger.Err(err))
	}
	if row.Fresh(s.clock.Now(), s.cfg.TTL) {
		info := row.Info()
		return &info
	}

	ranking, err := s.generate(ctx, metric)
	if err != nil {
		log.Error("leaderboard generation failed", logger.Err(err))
		return nil
	}
	if _, ok := ranking.Get(userID); !ok {
		return nil
	}

	row, err = s.repo.GetCacheRow(ctx, userID, metric)
	if err != nil || row == nil {
		log.Warn("rank cache row missing after refresh", logger.Err(err))
		return nil
	}
	info := row.Info()
	return &info
}

// Historical returns the stored snapshot list, or an empty list.
func (s *LeaderboardService) Historical(ctx context.Context, metric leaderboard.Metric, period leaderboard.Period, date time.Time) []leaderboard.Entry {
	snap, err := s.repo.GetSnapshot(ctx, metric, period, timeutil.NormalizeDate(date))
	if err != nil {
		if !shared.IsNotFound(err) {
			s.logger.Warn("snapshot read failed", logger.Metric(string(metric)), logger.Err(err))
		}
		return []leaderboard.Entry{}
	}
	return snap.Entries
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITES
// ══════════════════════════════════════════════════════════════════════════════

// Refresh regenerates metric without consulting the cache and returns the
// number of ranked users.
func (s *LeaderboardService) Refresh(ctx context.Context, metric leaderboard.Metric) (int, error) {
	if !metric.IsValid() {
		return 0, shared.ErrUnknownMetric
	}
	ranking, err := s.generate(ctx, metric)
	if err != nil {
		return 0, err
	}
	return ranking.Count(), nil
}

// RefreshAll regenerates every metric concurrently. Per-metric failures are
// logged and reported in the summary, never returned.
func (s *LeaderboardService) RefreshAll(ctx context.Context) leaderboard.RefreshSummary {
	start := time.Now()
	var mu sync.Mutex
	sum := leaderboard.RefreshSummary{
		Refreshed: make(map[leaderboard.Metric]int),
		Failed:    make(map[leaderboard.Metric]string),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RefreshConcurrency)
	for _, m := range leaderboard.Metrics() {
		m := m
		g.Go(func() error {
			n, err := s.Refresh(gctx, m)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("leaderboard refresh failed", logger.Metric(string(m)), logger.Err(err))
				sum.Failed[m] = err.Error()
				return nil
			}
			sum.Refreshed[m] = n
			return nil
		})
	}
	_ = g.Wait()

	sum.Duration = time.Since(start)
	s.logger.Info("leaderboards refreshed",
		slog.Int("refreshed", len(sum.Refreshed)),
		slog.Int("failed", len(sum.Failed)),
		logger.Latency(start),
	)
	return sum
}

// CreateSnapshot stores the top entries of metric for today. An existing
// snapshot for the same (metric, period, date) is returned unchanged;
// created reports whether a new one was written.
func (s *LeaderboardService) CreateSnapshot(ctx context.Context, metric leaderboard.Metric, period leaderboard.Period) (snap *leaderboard.Snapshot, created bool, err error) {
	if !metric.IsValid() {
		return nil, false, shared.ErrUnknownMetric
	}
	now := s.clock.Now().UTC()
	date := timeutil.NormalizeDate(now)

	existing, err := s.repo.GetSnapshot(ctx, metric, period, date)
	switch {
	case err == nil:
		return existing, false, nil
	case !shared.IsNotFound(err):
		return nil, false, err
	}

	entries := s.Leaderboard(ctx, metric, leaderboard.SnapshotSize, true)
	snap = leaderboard.NewSnapshot(uuid.NewString(), leaderboard.FromEntries(metric, entries), period, now)

	if err := s.repo.InsertSnapshot(ctx, snap); err != nil {
		if shared.IsAlreadyExists(err) {
			existing, gerr := s.repo.GetSnapshot(ctx, metric, period, date)
			return existing, false, gerr
		}
		return nil, false, err
	}

	s.logger.Info("leaderboard snapshot created",
		logger.Metric(string(metric)),
		slog.String("period", string(period)),
		slog.Int("entries", snap.TotalEntries),
	)
	return snap, true, nil
}

// InvalidateCache drops every cached list.
func (s *LeaderboardService) InvalidateCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// GENERATION
// ══════════════════════════════════════════════════════════════════════════════

func (s *LeaderboardService) metricLock(m leaderboard.Metric) *sync.Mutex {
	mu, _ := s.refreshMu.LoadOrStore(m, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// generate ranks the whole population (up to the cap), rewrites the cache
// rows with rank deltas in one transaction and stores the list in the
// TTL cache.
func (s *LeaderboardService) generate(ctx context.Context, metric leaderboard.Metric) (*leaderboard.Ranking, error) {
	mu := s.metricLock(metric)
	mu.Lock()
	defer mu.Unlock()

	now := s.clock.Now().UTC()
	scores, err := s.source.Scores(ctx, metric, now, s.cfg.PopulationCap)
	if err != nil {
		return nil, err
	}
	ranking := leaderboard.Rank(metric, scores, s.cfg.PopulationCap)

	total, err := s.users.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	total = max(total, ranking.Count())

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		prior, err := s.repo.ListCacheRows(ctx, metric)
		if err != nil {
			return err
		}
		rows := make([]*leaderboard.CacheRow, 0, ranking.Count())
		for _, e := range ranking.All() {
			rows = append(rows, leaderboard.NextCacheRow(e, prior[e.UserID], total, now))
		}
		return s.repo.UpsertCacheRows(ctx, rows)
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, metric, ranking.All()); err != nil {
			s.logger.Warn("leaderboard cache write failed", logger.Metric(string(metric)), logger.Err(err))
		}
	}

	if err := s.publisher.Publish(ctx, shared.NewLeaderboardRefreshedEvent(string(metric), ranking.Count(), now)); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("publish leaderboard refreshed failed", logger.Err(err))
	}
	return ranking, nil
}
