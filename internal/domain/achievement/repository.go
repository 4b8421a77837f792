package achievement

import "context"

// Repository persists definitions and unlock records.
type Repository interface {
	// ListActive returns active definitions ordered by display order.
	ListActive(ctx context.Context) ([]*Achievement, error)

	// ListAll returns every stored definition, active or not.
	ListAll(ctx context.Context) ([]*Achievement, error)

	// Get returns ErrAchievementNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Achievement, error)

	Insert(ctx context.Context, a *Achievement) error
	Update(ctx context.Context, a *Achievement) error

	// FindUnlock returns the unlock record or nil when the user has not
	// unlocked the achievement.
	FindUnlock(ctx context.Context, userID, achievementID string) (*UserAchievement, error)

	// InsertUnlock returns ErrAchievementUnlocked when the
	// (user, achievement) pair already exists.
	InsertUnlock(ctx context.Context, ua *UserAchievement) error

	// ListUnlocked returns a user's unlocks joined with their definitions,
	// newest first.
	ListUnlocked(ctx context.Context, userID string) ([]*Unlocked, error)

	// CountUnlocked returns the number of unlocks per user, for users with
	// at least one.
	CountUnlocked(ctx context.Context) (map[string]int, error)
}
