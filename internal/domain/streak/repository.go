package streak

import (
	"context"
	"time"
)

// Repository persists streak rows and per-day history.
type Repository interface {
	// Get returns shared.ErrStreakNotFound when no row exists.
	Get(ctx context.Context, userID string) (*Streak, error)

	// LockOrCreate returns the row locked for update, inserting a zero row
	// in the given timezone first when none exists.
	LockOrCreate(ctx context.Context, userID, timezone string, now time.Time) (*Streak, error)

	// GetForUpdate locks an existing row. It returns shared.ErrStreakNotFound
	// and creates nothing when the user has no row.
	GetForUpdate(ctx context.Context, userID string) (*Streak, error)

	// Save writes the aggregate back.
	Save(ctx context.Context, s *Streak) error

	// RecordHistory upserts the entry for (user, activity date).
	RecordHistory(ctx context.Context, e *HistoryEntry) error

	// History returns entries with activity_date >= since, newest first.
	History(ctx context.Context, userID string, since time.Time) ([]*HistoryEntry, error)
}
