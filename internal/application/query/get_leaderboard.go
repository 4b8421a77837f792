package query

import (
	"context"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD QUERIES
// Thin adapters over the ranker; every failure reads as an empty list or
// an absent rank.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardReader is the part of the ranker the queries need.
type LeaderboardReader interface {
	Leaderboard(ctx context.Context, metric leaderboard.Metric, limit int, useCache bool) []leaderboard.Entry
	UserRank(ctx context.Context, userID string, metric leaderboard.Metric) *leaderboard.RankInfo
	Historical(ctx context.Context, metric leaderboard.Metric, period leaderboard.Period, date time.Time) []leaderboard.Entry
}

// GetLeaderboardQuery asks for the top of one metric.
type GetLeaderboardQuery struct {
	Metric leaderboard.Metric

	// Limit is clamped to 1..1000, default 100.
	Limit int

	// SkipCache forces a regeneration.
	SkipCache bool
}

// GetUserRankQuery asks for one user's rank.
type GetUserRankQuery struct {
	UserID string
	Metric leaderboard.Metric
}

// GetHistoricalLeaderboardQuery asks for a stored snapshot.
type GetHistoricalLeaderboardQuery struct {
	Metric leaderboard.Metric
	Period leaderboard.Period

	// Date is YYYY-MM-DD.
	Date string
}

// Validate validates the query and applies the period default.
func (q *GetHistoricalLeaderboardQuery) Validate() (time.Time, error) {
	p, ok := leaderboard.ParsePeriod(string(q.Period))
	if !ok {
		return time.Time{}, shared.NewDomainError("leaderboard", "Historical", shared.ErrInvalidInput, "unknown period")
	}
	q.Period = p
	d, err := timeutil.ParseDate(q.Date)
	if err != nil {
		return time.Time{}, shared.WrapError("leaderboard", "Historical", shared.ErrInvalidFormat, "date must be YYYY-MM-DD", err)
	}
	return d, nil
}

// LeaderboardHandler serves the leaderboard queries.
type LeaderboardHandler struct {
	ranker LeaderboardReader
}

// NewLeaderboardHandler creates a new LeaderboardHandler.
func NewLeaderboardHandler(ranker LeaderboardReader) *LeaderboardHandler {
	return &LeaderboardHandler{ranker: ranker}
}

// Global returns the ranked list.
func (h *LeaderboardHandler) Global(ctx context.Context, q GetLeaderboardQuery) []leaderboard.Entry {
	return h.ranker.Leaderboard(ctx, q.Metric, q.Limit, !q.SkipCache)
}

// XPRankings is the all-time XP list.
func (h *LeaderboardHandler) XPRankings(ctx context.Context, limit int) []leaderboard.Entry {
	return h.ranker.Leaderboard(ctx, leaderboard.MetricXPAllTime, limit, true)
}

// UserRank returns the rank or nil when the user is not ranked.
func (h *LeaderboardHandler) UserRank(ctx context.Context, q GetUserRankQuery) *leaderboard.RankInfo {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return nil
	}
	return h.ranker.UserRank(ctx, q.UserID, q.Metric)
}

// Historical returns the stored list for the date, or an empty list.
func (h *LeaderboardHandler) Historical(ctx context.Context, q GetHistoricalLeaderboardQuery) ([]leaderboard.Entry, error) {
	date, err := q.Validate()
	if err != nil {
		return nil, err
	}
	return h.ranker.Historical(ctx, q.Metric, q.Period, date), nil
}
