package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// GetAchievementProgressQuery asks for progress towards one achievement.
type GetAchievementProgressQuery struct {
	UserID        string
	AchievementID string
}

// Validate validates the query.
func (q GetAchievementProgressQuery) Validate() error {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return err
	}
	if q.AchievementID == "" {
		return shared.NewDomainError("achievement", "Progress", shared.ErrEmptyValue, "achievement_id is required")
	}
	return nil
}

// AchievementHandler serves the achievement queries.
type AchievementHandler struct {
	repo      achievement.Repository
	evaluator *achievement.Evaluator
	logger    *slog.Logger
}

// NewAchievementHandler creates a new AchievementHandler.
func NewAchievementHandler(repo achievement.Repository, evaluator *achievement.Evaluator, log *slog.Logger) *AchievementHandler {
	return &AchievementHandler{
		repo:      repo,
		evaluator: evaluator,
		logger:    logger.OrDefault(log).With("handler", "achievement_queries"),
	}
}

// All returns active definitions ordered by display order.
func (h *AchievementHandler) All(ctx context.Context) ([]*achievement.Achievement, error) {
	return h.repo.ListActive(ctx)
}

// Unlocked returns the user's unlocks joined with definitions, newest first.
func (h *AchievementHandler) Unlocked(ctx context.Context, userID string) ([]*achievement.Unlocked, error) {
	if _, err := shared.NewUserID(userID); err != nil {
		return nil, fmt.Errorf("get_user_achievements: %w", err)
	}
	return h.repo.ListUnlocked(ctx, userID)
}

// Progress returns 100 for unlocked achievements and the measured
// percentage otherwise. It returns nil for unknown achievements.
func (h *AchievementHandler) Progress(ctx context.Context, q GetAchievementProgressQuery) (*achievement.ProgressView, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_achievement_progress: %w", err)
	}

	def, err := h.repo.Get(ctx, q.AchievementID)
	if errors.Is(err, shared.ErrAchievementNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ua, err := h.repo.FindUnlock(ctx, q.UserID, q.AchievementID)
	if err != nil {
		return nil, err
	}
	if ua != nil {
		at := ua.UnlockedAt
		return &achievement.ProgressView{Achievement: def, Unlocked: true, Progress: 100, UnlockedAt: &at}, nil
	}

	pct, err := h.evaluator.Progress(ctx, q.UserID, def.Criteria)
	if err != nil {
		h.logger.Warn("progress evaluation failed",
			logger.UserID(q.UserID),
			logger.AchievementID(q.AchievementID),
			logger.Err(err),
		)
		pct = 0
	}
	return &achievement.ProgressView{Achievement: def, Progress: pct}, nil
}
