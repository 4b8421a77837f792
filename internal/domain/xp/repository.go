package xp

import (
	"context"
	"time"
)

// Repository persists UserXP rows and the append-only transaction ledger.
// Implementations join the transaction carried by ctx, if any.
type Repository interface {
	// Get returns shared.ErrUserXPNotFound when no row exists.
	Get(ctx context.Context, userID string) (*UserXP, error)

	// LockOrCreate returns the user's row locked for update, inserting a
	// zero row first when none exists.
	LockOrCreate(ctx context.Context, userID string, now time.Time) (*UserXP, error)

	// Save writes the aggregate back.
	Save(ctx context.Context, u *UserXP) error

	// AppendTransaction writes one ledger row.
	AppendTransaction(ctx context.Context, tx *Transaction) error

	// HasTransaction reports whether a ledger row with the same reason and
	// reference already exists for the user.
	HasTransaction(ctx context.Context, userID, reason, referenceID string) (bool, error)

	// History returns transactions newest first, optionally filtered by reason.
	History(ctx context.Context, userID string, limit int, reason string) ([]*Transaction, error)

	// Statistics aggregates the ledger. Returns ErrUserXPNotFound when the
	// user has no XP row.
	Statistics(ctx context.Context, userID string) (*Statistics, error)
}
