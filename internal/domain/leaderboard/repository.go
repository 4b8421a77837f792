package leaderboard

import (
	"context"
	"time"
)

// ScoreSource reads the population for a metric from the XP, streak and
// achievement aggregates. Implementations return at most limit rows with a
// positive score, highest first.
type ScoreSource interface {
	Scores(ctx context.Context, metric Metric, now time.Time, limit int) ([]Score, error)
}

// Repository persists cache rows and snapshots.
type Repository interface {
	// GetCacheRow returns nil when the user has no row for the metric.
	GetCacheRow(ctx context.Context, userID string, metric Metric) (*CacheRow, error)

	// ListCacheRows returns every row for a metric keyed by user id.
	ListCacheRows(ctx context.Context, metric Metric) (map[string]*CacheRow, error)

	// UpsertCacheRows writes rows keyed by (user, metric).
	UpsertCacheRows(ctx context.Context, rows []*CacheRow) error

	// GetSnapshot returns ErrSnapshotNotFound when absent.
	GetSnapshot(ctx context.Context, metric Metric, period Period, date time.Time) (*Snapshot, error)

	// InsertSnapshot returns an AlreadyExists error when the
	// (metric, period, date) key is taken.
	InsertSnapshot(ctx context.Context, s *Snapshot) error
}

// Cache is the TTL cache of ranked lists keyed by metric. Get reports a
// miss with ok=false; expired lists are misses.
type Cache interface {
	Get(ctx context.Context, metric Metric) (entries []Entry, ok bool, err error)
	Set(ctx context.Context, metric Metric, entries []Entry) error
	Invalidate(ctx context.Context, metric Metric) error
	Clear(ctx context.Context) error
}

// RefreshSummary reports a full refresh: ranked users per metric and the
// error text of metrics that failed.
type RefreshSummary struct {
	Refreshed map[Metric]int    `json:"refreshed"`
	Failed    map[Metric]string `json:"failed,omitempty"`
	Duration  time.Duration     `json:"duration"`
}
