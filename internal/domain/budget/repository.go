package budget

import (
	"context"
	"time"
)

// Repository persists settings and the reset audit log.
type Repository interface {
	// Get returns ErrBudgetNotFound when the user has no settings row.
	Get(ctx context.Context, userID string) (*Settings, error)

	// LockOrCreate inserts defaults when no row exists and returns the row
	// locked for the rest of the transaction.
	LockOrCreate(ctx context.Context, defaults *Settings) (*Settings, error)

	Save(ctx context.Context, s *Settings) error
	List(ctx context.Context) ([]*Settings, error)

	// DueForRollover returns users whose period ended at or before now.
	DueForRollover(ctx context.Context, now time.Time) ([]string, error)

	InsertResetLog(ctx context.Context, l *ResetLog) error

	// ResetHistory returns a user's resets, newest first.
	ResetHistory(ctx context.Context, userID string, limit int) ([]*ResetLog, error)
}

// CostLedger is the read-only view of the usage tracker's cost records.
type CostLedger interface {
	SumCost(ctx context.Context, userID string, since time.Time) (float64, error)
	UsageSince(ctx context.Context, userID string, since time.Time) ([]UsageRecord, error)
}

// History limits.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// ClampHistoryLimit bounds a caller-supplied history limit.
func ClampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}
