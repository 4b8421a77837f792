package postgres

import (
	"context"
	"fmt"

	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
)

// AchievementRepository implements achievement.Repository.
type AchievementRepository struct {
	conn *Connection
}

var _ achievement.Repository = (*AchievementRepository)(nil)

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(conn *Connection) *AchievementRepository {
	return &AchievementRepository{conn: conn}
}

const achievementColumns = `
	a.achievement_id, a.name, a.description, a.category, a.rarity, a.icon_url,
	a.xp_reward, a.criteria, a.display_order, a.is_active, a.created_at, a.updated_at`

func scanAchievement(dst *achievement.Achievement) []any {
	return []any{
		&dst.ID, &dst.Name, &dst.Description, &dst.Category, &dst.Rarity, &dst.Icon,
		&dst.XPReward, &dst.Criteria, &dst.DisplayOrder, &dst.IsActive, &dst.CreatedAt, &dst.UpdatedAt,
	}
}

func (r *AchievementRepository) list(ctx context.Context, activeOnly bool) ([]*achievement.Achievement, error) {
	rows, err := r.conn.querier(ctx).Query(ctx, `
		SELECT `+achievementColumns+`
		FROM achievements a
		WHERE NOT $1 OR a.is_active
		ORDER BY a.display_order, a.achievement_id
	`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query achievements: %w", err)
	}
	defer rows.Close()

	out := []*achievement.Achievement{}
	for rows.Next() {
		var a achievement.Achievement
		if err := rows.Scan(scanAchievement(&a)...); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ListActive returns active definitions by display order.
func (r *AchievementRepository) ListActive(ctx context.Context) ([]*achievement.Achievement, error) {
	return r.list(ctx, true)
}

// ListAll returns every stored definition.
func (r *AchievementRepository) ListAll(ctx context.Context) ([]*achievement.Achievement, error) {
	return r.list(ctx, false)
}

// Get returns a definition by id.
func (r *AchievementRepository) Get(ctx context.Context, id string) (*achievement.Achievement, error) {
	var a achievement.Achievement
	err := r.conn.querier(ctx).QueryRow(ctx, `
		SELECT `+achievementColumns+` FROM achievements a WHERE a.achievement_id = $1
	`, id).Scan(scanAchievement(&a)...)
	if IsNoRows(err) {
		return nil, shared.ErrAchievementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get achievement: %w", err)
	}
	return &a, nil
}

// Insert stores a new definition.
func (r *AchievementRepository) Insert(ctx context.Context, a *achievement.Achievement) error {
	_, err := r.conn.querier(ctx).Exec(ctx, `
		INSERT INTO achievements (
			achievement_id, name, description, category, rarity, icon_url,
			xp_reward, criteria, display_order, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		a.ID, a.Name, a.Description, string(a.Category), string(a.Rarity), a.Icon,
		a.XPReward, a.Criteria.Map(), a.DisplayOrder, a.IsActive, a.CreatedAt, a.UpdatedAt,
	)
	if IsUniqueViolation(err) {
		return shared.WrapError("achievement", "Insert", shared.ErrAlreadyExists, "achievement "+a.ID+" exists", err)
	}
	if err != nil {
		return fmt.Errorf("failed to insert achievement: %w", err)
	}
	return nil
}

// Update overwrites a definition.
func (r *AchievementRepository) Update(ctx context.Context, a *achievement.Achievement) error {
	tag, err := r.conn.querier(ctx).Exec(ctx, `
		UPDATE achievements SET
			name = $2, description = $3, category = $4, rarity = $5, icon_url = $6,
			xp_reward = $7, criteria = $8, display_order = $9, is_active = $10, updated_at = $11
		WHERE achievement_id = $1
	`,
		a.ID, a.Name, a.Description, string(a.Category), string(a.Rarity), a.Icon,
		a.XPReward, a.Criteria.Map(), a.DisplayOrder, a.IsActive, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update achievement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAchievementNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// UNLOCKS
// ─────────────────────────────────────────────────────────────────────────────

// FindUnlock returns nil when the pair has no unlock row.
func (r *AchievementRepository) FindUnlock(ctx context.Context, userID, achievementID string) (*achievement.UserAchievement, error) {
	var ua achievement.UserAchievement
	err := r.conn.querier(ctx).QueryRow(ctx, `
		SELECT id, user_id, achievement_id, unlocked_at, progress, metadata
		FROM user_achievements
		WHERE user_id = $1 AND achievement_id = $2
	`, userID, achievementID).Scan(&ua.ID, &ua.UserID, &ua.AchievementID, &ua.UnlockedAt, &ua.Progress, &ua.Metadata)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find unlock: %w", err)
	}
	return &ua, nil
}

// InsertUnlock relies on uq_user_achievement to reject duplicates.
func (r *AchievementRepository) InsertUnlock(ctx context.Context, ua *achievement.UserAchievement) error {
	metadata := ua.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := r.conn.querier(ctx).Exec(ctx, `
		INSERT INTO user_achievements (id, user_id, achievement_id, unlocked_at, progress, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ua.ID, ua.UserID, ua.AchievementID, ua.UnlockedAt, ua.Progress, metadata)
	if IsUniqueViolation(err) {
		return shared.ErrAchievementUnlocked
	}
	if err != nil {
		return fmt.Errorf("failed to insert unlock: %w", err)
	}
	return nil
}

// ListUnlocked joins unlocks with definitions, newest first.
func (r *AchievementRepository) ListUnlocked(ctx context.Context, userID string) ([]*achievement.Unlocked, error) {
	rows, err := r.conn.querier(ctx).Query(ctx, `
		SELECT ua.id, ua.user_id, ua.achievement_id, ua.unlocked_at, ua.progress, ua.metadata,
		       `+achievementColumns+`
		FROM user_achievements ua
		JOIN achievements a ON a.achievement_id = ua.achievement_id
		WHERE ua.user_id = $1
		ORDER BY ua.unlocked_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlocks: %w", err)
	}
	defer rows.Close()

	out := []*achievement.Unlocked{}
	for rows.Next() {
		u := &achievement.Unlocked{Achievement: &achievement.Achievement{}}
		dest := append([]any{
			&u.ID, &u.UserID, &u.AchievementID, &u.UnlockedAt, &u.Progress, &u.Metadata,
		}, scanAchievement(u.Achievement)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan unlock: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountUnlocked returns unlock counts for users with at least one.
func (r *AchievementRepository) CountUnlocked(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn.querier(ctx).Query(ctx, `
		SELECT user_id, COUNT(*) FROM user_achievements GROUP BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count unlocks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var userID string
		var n int
		if err := rows.Scan(&userID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan unlock count: %w", err)
		}
		out[userID] = n
	}
	return out, rows.Err()
}
