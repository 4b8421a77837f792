package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK ACHIEVEMENT COMMAND
// Records an unlock at most once per (user, achievement).
// ══════════════════════════════════════════════════════════════════════════════

// UnlockAchievementCommand contains the data to unlock an achievement.
type UnlockAchievementCommand struct {
	UserID        string
	AchievementID string
	Metadata      map[string]any
}

// Validate validates the command.
func (c UnlockAchievementCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if c.AchievementID == "" {
		return shared.NewDomainError("achievement", "Validate", shared.ErrEmptyValue, "achievement_id is required")
	}
	return nil
}

// UnlockAchievementHandler handles the UnlockAchievementCommand.
type UnlockAchievementHandler struct {
	repo      achievement.Repository
	tx        shared.Transactor
	publisher shared.EventPublisher
	clock     timeutil.Clock
	logger    *slog.Logger
}

// NewUnlockAchievementHandler creates a new UnlockAchievementHandler.
func NewUnlockAchievementHandler(
	repo achievement.Repository,
	tx shared.Transactor,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *slog.Logger,
) *UnlockAchievementHandler {
	return &UnlockAchievementHandler{
		repo:      repo,
		tx:        orNoTx(tx),
		publisher: orNopPublisher(publisher),
		clock:     orSystemClock(clock),
		logger:    logger.OrDefault(log).With("handler", "unlock_achievement"),
	}
}

// Handle records the unlock. It returns nil, nil when the achievement is
// unknown or was already unlocked.
func (h *UnlockAchievementHandler) Handle(ctx context.Context, cmd UnlockAchievementCommand) (*achievement.UserAchievement, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("unlock_achievement: %w", err)
	}
	log := h.logger.With(logger.UserID(cmd.UserID), logger.AchievementID(cmd.AchievementID))
	now := h.clock.Now().UTC()

	var (
		def *achievement.Achievement
		ua  *achievement.UserAchievement
	)
	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		def, err = h.repo.Get(ctx, cmd.AchievementID)
		if err != nil {
			return err
		}

		existing, err := h.repo.FindUnlock(ctx, cmd.UserID, cmd.AchievementID)
		if err != nil {
			return err
		}
		if existing != nil {
			return shared.ErrAchievementUnlocked
		}

		ua = &achievement.UserAchievement{
			ID:            uuid.NewString(),
			UserID:        cmd.UserID,
			AchievementID: cmd.AchievementID,
			UnlockedAt:    now,
			Progress:      100,
			Metadata:      cmd.Metadata,
		}
		return h.repo.InsertUnlock(ctx, ua)
	})
	switch {
	case errors.Is(err, shared.ErrAchievementNotFound):
		log.Warn("achievement not found")
		return nil, nil
	case errors.Is(err, shared.ErrAchievementUnlocked):
		log.Debug("achievement already unlocked")
		return nil, nil
	case err != nil:
		log.Error("unlock failed", logger.Err(err))
		return nil, err
	}

	log.Info("achievement unlocked", slog.String("name", def.Name), slog.Int("xp_reward", def.XPReward))
	publishAll(ctx, h.publisher, h.logger, []shared.Event{
		shared.NewAchievementUnlockedEvent(cmd.UserID, def.ID, def.Name, string(def.Rarity), def.XPReward, now),
	})
	return ua, nil
}
