package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/budget"
	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/xp"
)

// ══════════════════════════════════════════════════════════════════════════════
// HOST DIRECTORY
// ══════════════════════════════════════════════════════════════════════════════

// Directory reads the host application's tables: users, scenario ratings,
// collections, bookmarks and API usage. It never writes to them. It also
// assembles leaderboard populations from the owned tables.
type Directory struct {
	conn *Connection
}

var (
	_ shared.UserDirectory      = (*Directory)(nil)
	_ achievement.StatsProvider = (*Directory)(nil)
	_ leaderboard.ScoreSource   = (*Directory)(nil)
	_ budget.CostLedger         = (*Directory)(nil)
)

// NewDirectory creates a new Directory.
func NewDirectory(conn *Connection) *Directory {
	return &Directory{conn: conn}
}

// GetUser returns the host user.
func (d *Directory) GetUser(ctx context.Context, userID string) (*shared.User, error) {
	var u shared.User
	var role string
	err := d.conn.querier(ctx).QueryRow(ctx, `
		SELECT user_id, COALESCE(username, ''), COALESCE(role, 'user') FROM users WHERE user_id = $1
	`, userID).Scan(&u.ID, &u.Username, &role)
	if IsNoRows(err) {
		return nil, shared.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Role = shared.Role(role)
	return &u, nil
}

// CountUsers counts registered users.
func (d *Directory) CountUsers(ctx context.Context) (int, error) {
	return d.count(ctx, `SELECT COUNT(*) FROM users`)
}

func (d *Directory) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := d.conn.querier(ctx).QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FACTS
// ══════════════════════════════════════════════════════════════════════════════

func (d *Directory) RatingsGiven(ctx context.Context, userID string) (int, error) {
	return d.count(ctx, `SELECT COUNT(*) FROM scenario_ratings WHERE user_id = $1`, userID)
}

func (d *Directory) PerfectRatings(ctx context.Context, userID string) (int, error) {
	return d.count(ctx, `SELECT COUNT(*) FROM scenario_ratings WHERE user_id = $1 AND rating = $2`,
		userID, xp.PerfectRating)
}

func (d *Directory) RecentRatings(ctx context.Context, userID string, n int) ([]int, error) {
	rows, err := d.conn.querier(ctx).Query(ctx, `
		SELECT rating FROM scenario_ratings
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent ratings: %w", err)
	}
	defer rows.Close()

	out := make([]int, 0, n)
	for rows.Next() {
		var r int
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *Directory) CulturalAccuracyAtLeast(ctx context.Context, userID string, min float64) (int, error) {
	return d.count(ctx, `
		SELECT COUNT(*) FROM scenario_ratings WHERE user_id = $1 AND cultural_accuracy >= $2
	`, userID, min)
}

func (d *Directory) CollectionsCreated(ctx context.Context, userID string) (int, error) {
	return d.count(ctx, `SELECT COUNT(*) FROM scenario_collections WHERE user_id = $1`, userID)
}

func (d *Directory) BookmarksCreated(ctx context.Context, userID string) (int, error) {
	return d.count(ctx, `SELECT COUNT(*) FROM scenario_bookmarks WHERE user_id = $1`, userID)
}

// ══════════════════════════════════════════════════════════════════════════════
// COST LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// SumCost totals api_usage.estimated_cost since the given instant.
func (d *Directory) SumCost(ctx context.Context, userID string, since time.Time) (float64, error) {
	var total float64
	err := d.conn.querier(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(estimated_cost), 0)::float8
		FROM api_usage
		WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum api usage: %w", err)
	}
	return total, nil
}

// UsageSince lists api_usage rows since the given instant, oldest first.
func (d *Directory) UsageSince(ctx context.Context, userID string, since time.Time) ([]budget.UsageRecord, error) {
	rows, err := d.conn.querier(ctx).Query(ctx, `
		SELECT COALESCE(api_provider, ''), COALESCE(request_type, ''),
		       COALESCE(estimated_cost, 0)::float8, COALESCE(tokens_used, 0), created_at
		FROM api_usage
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query api usage: %w", err)
	}
	defer rows.Close()

	out := []budget.UsageRecord{}
	for rows.Next() {
		var rec budget.UsageRecord
		if err := rows.Scan(&rec.Provider, &rec.ServiceType, &rec.Cost, &rec.TokensUsed, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api usage: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD POPULATION
// ══════════════════════════════════════════════════════════════════════════════

// Each population query yields (user_id, username, value, total_xp) rows
// with value > 0. $1 is the row limit (0 for none); windowed queries take
// the window start as $2.
var populationQueries = map[leaderboard.Metric]string{
	leaderboard.MetricXPAllTime: `
		SELECT x.user_id, COALESCE(NULLIF(u.username, ''), x.user_id), x.total_xp, x.total_xp
		FROM user_xp x
		LEFT JOIN users u ON u.user_id = x.user_id
		WHERE x.total_xp > 0
		ORDER BY 3 DESC, 1
		LIMIT NULLIF($1::int, 0)`,

	leaderboard.MetricXPWeekly:  windowedXPQuery,
	leaderboard.MetricXPMonthly: windowedXPQuery,

	leaderboard.MetricStreakCurrent: `
		SELECT s.user_id, COALESCE(NULLIF(u.username, ''), s.user_id), s.current_streak, 0
		FROM user_streaks s
		LEFT JOIN users u ON u.user_id = s.user_id
		WHERE s.current_streak > 0
		ORDER BY 3 DESC, 1
		LIMIT NULLIF($1::int, 0)`,

	leaderboard.MetricStreakLongest: `
		SELECT s.user_id, COALESCE(NULLIF(u.username, ''), s.user_id), s.longest_streak, 0
		FROM user_streaks s
		LEFT JOIN users u ON u.user_id = s.user_id
		WHERE s.longest_streak > 0
		ORDER BY 3 DESC, 1
		LIMIT NULLIF($1::int, 0)`,

	leaderboard.MetricAchievementsUnlocked: `
		SELECT a.user_id, COALESCE(NULLIF(MAX(u.username), ''), a.user_id), COUNT(*)::int, 0
		FROM user_achievements a
		LEFT JOIN users u ON u.user_id = a.user_id
		GROUP BY a.user_id
		ORDER BY 3 DESC, 1
		LIMIT NULLIF($1::int, 0)`,
}

const windowedXPQuery = `
	SELECT t.user_id, COALESCE(NULLIF(MAX(u.username), ''), t.user_id),
	       SUM(t.amount)::int, COALESCE(MAX(x.total_xp), 0)
	FROM xp_transactions t
	LEFT JOIN user_xp x ON x.user_id = t.user_id
	LEFT JOIN users u ON u.user_id = t.user_id
	WHERE t.created_at >= $2
	GROUP BY t.user_id
	HAVING SUM(t.amount) > 0
	ORDER BY 3 DESC, 1
	LIMIT NULLIF($1::int, 0)`

// Scores implements leaderboard.ScoreSource.
func (d *Directory) Scores(ctx context.Context, metric leaderboard.Metric, now time.Time, limit int) ([]leaderboard.Score, error) {
	if metric == leaderboard.MetricScenariosCompleted {
		// No completion table in the host schema yet.
		return []leaderboard.Score{}, nil
	}
	query, ok := populationQueries[metric]
	if !ok {
		return nil, shared.ErrUnknownMetric
	}
	if limit < 0 {
		limit = 0
	}

	args := []any{limit}
	if since, windowed := metric.Window(now); windowed {
		args = append(args, since)
	}

	rows, err := d.conn.querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s population: %w", metric, err)
	}
	defer rows.Close()

	scores := []leaderboard.Score{}
	for rows.Next() {
		var sc leaderboard.Score
		var totalXP int
		if err := rows.Scan(&sc.UserID, &sc.Username, &sc.Value, &totalXP); err != nil {
			return nil, fmt.Errorf("failed to scan %s score: %w", metric, err)
		}
		if metric.IsXP() {
			u := xp.UserXP{UserID: sc.UserID, TotalXP: totalXP}
			u.Normalize()
			sc.Level, sc.Title = u.CurrentLevel, string(u.Title)
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}
