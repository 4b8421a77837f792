package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lingotutor/gamification-engine/internal/domain/leaderboard"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRepository implements leaderboard.Repository over
// leaderboard_cache and leaderboard_snapshots.
type LeaderboardRepository struct {
	conn *Connection
}

var _ leaderboard.Repository = (*LeaderboardRepository)(nil)

// NewLeaderboardRepository creates a new LeaderboardRepository.
func NewLeaderboardRepository(conn *Connection) *LeaderboardRepository {
	return &LeaderboardRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// CACHE ROWS
// ─────────────────────────────────────────────────────────────────────────────

const cacheRowColumns = `user_id, metric, score, rank, previous_rank, rank_change, percentile, cached_at`

func scanCacheRow(row interface{ Scan(...any) error }) (*leaderboard.CacheRow, error) {
	var c leaderboard.CacheRow
	var metric string
	var change int
	if err := row.Scan(&c.UserID, &metric, &c.Score, &c.Rank, &c.PreviousRank, &change, &c.Percentile, &c.CachedAt); err != nil {
		return nil, err
	}
	c.Metric = leaderboard.Metric(metric)
	c.RankChange = leaderboard.RankChange(change)
	return &c, nil
}

// GetCacheRow returns nil when the user has no row for metric.
func (r *LeaderboardRepository) GetCacheRow(ctx context.Context, userID string, metric leaderboard.Metric) (*leaderboard.CacheRow, error) {
	row, err := scanCacheRow(r.conn.querier(ctx).QueryRow(ctx, `
		SELECT `+cacheRowColumns+` FROM leaderboard_cache WHERE user_id = $1 AND metric = $2
	`, userID, string(metric)))
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard cache row: %w", err)
	}
	return row, nil
}

// ListCacheRows returns every row for metric keyed by user id.
func (r *LeaderboardRepository) ListCacheRows(ctx context.Context, metric leaderboard.Metric) (map[string]*leaderboard.CacheRow, error) {
	rows, err := r.conn.querier(ctx).Query(ctx, `
		SELECT `+cacheRowColumns+` FROM leaderboard_cache WHERE metric = $1
	`, string(metric))
	if err != nil {
		return nil, fmt.Errorf("failed to list leaderboard cache rows: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*leaderboard.CacheRow)
	for rows.Next() {
		row, err := scanCacheRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard cache row: %w", err)
		}
		out[row.UserID] = row
	}
	return out, rows.Err()
}

// UpsertCacheRows writes all rows in one batch.
func (r *LeaderboardRepository) UpsertCacheRows(ctx context.Context, rows []*leaderboard.CacheRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO leaderboard_cache (`+cacheRowColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id, metric) DO UPDATE SET
				score = EXCLUDED.score,
				rank = EXCLUDED.rank,
				previous_rank = EXCLUDED.previous_rank,
				rank_change = EXCLUDED.rank_change,
				percentile = EXCLUDED.percentile,
				cached_at = EXCLUDED.cached_at
		`,
			row.UserID, string(row.Metric), row.Score, row.Rank, row.PreviousRank,
			int(row.RankChange), row.Percentile, row.CachedAt,
		)
	}

	br := r.conn.querier(ctx).SendBatch(ctx, batch)
	defer br.Close()

	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert leaderboard cache row: %w", err)
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// SNAPSHOT OPERATIONS
// ─────────────────────────────────────────────────────────────────────────────

// GetSnapshot loads the snapshot for (metric, period, date).
func (r *LeaderboardRepository) GetSnapshot(ctx context.Context, metric leaderboard.Metric, period leaderboard.Period, date time.Time) (*leaderboard.Snapshot, error) {
	var snap leaderboard.Snapshot
	var metricStr, periodStr string
	err := r.conn.querier(ctx).QueryRow(ctx, `
		SELECT id, metric, period, snapshot_date, data, total_entries, created_at
		FROM leaderboard_snapshots
		WHERE metric = $1 AND period = $2 AND snapshot_date = $3
	`, string(metric), string(period), timeutil.NormalizeDate(date)).Scan(
		&snap.ID, &metricStr, &periodStr, &snap.SnapshotDate, &snap.Entries, &snap.TotalEntries, &snap.CreatedAt,
	)
	if IsNoRows(err) {
		return nil, shared.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	snap.Metric = leaderboard.Metric(metricStr)
	snap.Period = leaderboard.Period(periodStr)
	snap.SnapshotDate = timeutil.NormalizeDate(snap.SnapshotDate)
	return &snap, nil
}

// InsertSnapshot relies on uq_snapshot to reject a second capture.
func (r *LeaderboardRepository) InsertSnapshot(ctx context.Context, snap *leaderboard.Snapshot) error {
	entries := snap.Entries
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	_, err := r.conn.querier(ctx).Exec(ctx, `
		INSERT INTO leaderboard_snapshots (id, metric, period, snapshot_date, data, total_entries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		snap.ID, string(snap.Metric), string(snap.Period), timeutil.NormalizeDate(snap.SnapshotDate),
		entries, snap.TotalEntries, snap.CreatedAt,
	)
	if IsUniqueViolation(err) {
		return shared.WrapError("leaderboard", "InsertSnapshot", shared.ErrAlreadyExists,
			fmt.Sprintf("snapshot %s/%s/%s exists", snap.Metric, snap.Period, timeutil.FormatDate(snap.SnapshotDate)), err)
	}
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}
