// Package command contains write operations (CQRS - Commands).
// Each handler validates its command, runs the mutation inside one store
// transaction and publishes domain events after commit.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/streak"
	"github.com/lingotutor/gamification-engine/internal/domain/xp"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD XP COMMAND
// Adds (or, for corrections, removes) XP, recomputes the level and grants
// level-up rewards. Every award writes a ledger row unless the caller asks
// for idempotency and the same reason and reference are already recorded.
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPCommand contains the data to award XP.
type AwardXPCommand struct {
	UserID string

	// Amount may be negative; the total never drops below zero.
	Amount int

	// Reason is a free-form tag such as "scenario_completion".
	Reason string

	// ReferenceID optionally names the source (scenario id, achievement id).
	ReferenceID string

	// Idempotent turns a repeated (Reason, ReferenceID) award into a no-op.
	// Only one-time grants such as achievement rewards set it; replaying a
	// scenario earns XP again.
	Idempotent bool

	Metadata map[string]any
}

// Validate validates the command.
func (c AwardXPCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if strings.TrimSpace(c.Reason) == "" {
		return shared.ErrInvalidXPReason
	}
	if c.Amount > xp.MaxAwardAmount || c.Amount < -xp.MaxAwardAmount {
		return shared.ErrXPAmountOutOfRange
	}
	if c.Idempotent && c.ReferenceID == "" {
		return shared.ErrIdempotencyReference
	}
	return nil
}

// AwardXPResult contains the result of an award.
type AwardXPResult struct {
	Success       bool        `json:"success"`
	Duplicate     bool        `json:"duplicate,omitempty"`
	XPAwarded     int         `json:"xp_awarded"`
	PreviousXP    int         `json:"previous_xp"`
	TotalXP       int         `json:"total_xp"`
	PreviousLevel int         `json:"previous_level"`
	CurrentLevel  int         `json:"current_level"`
	LevelUp       bool        `json:"level_up"`
	LevelsGained  int         `json:"levels_gained,omitempty"`
	XPToNextLevel int         `json:"xp_to_next_level"`
	LevelProgress float64     `json:"level_progress_percentage"`
	Title         xp.Title    `json:"title"`
	Message       string      `json:"message,omitempty"`
	Rewards       *xp.Rewards `json:"rewards,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPHandler handles the AwardXPCommand.
type AwardXPHandler struct {
	xpRepo     xp.Repository
	streakRepo streak.Repository
	tx         shared.Transactor
	publisher  shared.EventPublisher
	clock      timeutil.Clock
	logger     *slog.Logger
}

// NewAwardXPHandler creates a new AwardXPHandler.
func NewAwardXPHandler(
	xpRepo xp.Repository,
	streakRepo streak.Repository,
	tx shared.Transactor,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *slog.Logger,
) *AwardXPHandler {
	return &AwardXPHandler{
		xpRepo:     xpRepo,
		streakRepo: streakRepo,
		tx:         orNoTx(tx),
		publisher:  orNopPublisher(publisher),
		clock:      orSystemClock(clock),
		logger:     logger.OrDefault(log).With("handler", "award_xp"),
	}
}

// Handle executes the award.
func (h *AwardXPHandler) Handle(ctx context.Context, cmd AwardXPCommand) (*AwardXPResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("award_xp: %w", err)
	}
	now := h.clock.Now().UTC()

	var (
		res    *AwardXPResult
		events []shared.Event
	)
	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		events = events[:0]

		u, err := h.xpRepo.LockOrCreate(ctx, cmd.UserID, now)
		if err != nil {
			return err
		}

		if cmd.Idempotent {
			seen, err := h.xpRepo.HasTransaction(ctx, cmd.UserID, cmd.Reason, cmd.ReferenceID)
			if err != nil {
				return err
			}
			if seen {
				res = duplicateResult(u)
				return nil
			}
		}

		out := u.Apply(cmd.Amount, now)
		if err := h.xpRepo.Save(ctx, u); err != nil {
			return err
		}
		if err := h.xpRepo.AppendTransaction(ctx, &xp.Transaction{
			ID:          newLedgerID(now),
			UserID:      cmd.UserID,
			Amount:      cmd.Amount,
			Reason:      cmd.Reason,
			ReferenceID: cmd.ReferenceID,
			Metadata:    cmd.Metadata,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		res = &AwardXPResult{
			Success:       true,
			XPAwarded:     cmd.Amount,
			PreviousXP:    out.PreviousXP,
			TotalXP:       out.TotalXP,
			PreviousLevel: out.PreviousLevel,
			CurrentLevel:  out.CurrentLevel,
			LevelUp:       out.LevelUp(),
			XPToNextLevel: u.XPToNextLevel,
			LevelProgress: u.LevelProgress,
			Title:         u.Title,
		}
		events = append(events, shared.NewXPAwardedEvent(cmd.UserID, cmd.Amount, out.TotalXP, cmd.Reason, cmd.ReferenceID, now))

		if !out.LevelUp() {
			return nil
		}

		rewards := xp.TitleRewards(out)
		granted, err := h.grantMilestoneFreezes(ctx, cmd.UserID, out, now)
		if err != nil {
			return err
		}
		rewards.FreezeTokens = granted

		res.LevelsGained = out.LevelsGained()
		res.Message = xp.LevelUpMessage(out.CurrentLevel, out.Title)
		res.Rewards = &rewards
		events = append(events, shared.NewLevelUpEvent(cmd.UserID, out.PreviousLevel, out.CurrentLevel, string(out.Title), granted, now))
		return nil
	})
	if err != nil {
		h.logger.Error("award failed", logger.UserID(cmd.UserID), logger.XPAmount(cmd.Amount), logger.Err(err))
		return nil, err
	}

	if res.Duplicate {
		h.logger.Info("duplicate award ignored",
			logger.UserID(cmd.UserID),
			slog.String("reason", cmd.Reason),
			slog.String("reference_id", cmd.ReferenceID),
		)
		return res, nil
	}

	h.logger.Info("xp awarded",
		logger.UserID(cmd.UserID),
		logger.XPAmount(cmd.Amount),
		slog.String("reason", cmd.Reason),
		slog.Int("total_xp", res.TotalXP),
		slog.Int("level", res.CurrentLevel),
	)
	publishAll(ctx, h.publisher, h.logger, events)
	return res, nil
}

// grantMilestoneFreezes gives one freeze token per milestone level crossed,
// bounded by the token cap. Users without a streak row get nothing.
func (h *AwardXPHandler) grantMilestoneFreezes(ctx context.Context, userID string, out xp.AwardOutcome, now time.Time) (int, error) {
	crossed := xp.FreezeMilestonesCrossed(out.PreviousLevel, out.CurrentLevel)
	if len(crossed) == 0 || h.streakRepo == nil {
		return 0, nil
	}

	st, err := h.streakRepo.GetForUpdate(ctx, userID)
	if errors.Is(err, shared.ErrStreakNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	granted := 0
	for range crossed {
		if st.GrantFreeze(now) {
			granted++
		}
	}
	if granted == 0 {
		return 0, nil
	}
	return granted, h.streakRepo.Save(ctx, st)
}

func duplicateResult(u *xp.UserXP) *AwardXPResult {
	u.Normalize()
	return &AwardXPResult{
		Success:       true,
		Duplicate:     true,
		PreviousXP:    u.TotalXP,
		TotalXP:       u.TotalXP,
		PreviousLevel: u.CurrentLevel,
		CurrentLevel:  u.CurrentLevel,
		XPToNextLevel: u.XPToNextLevel,
		LevelProgress: u.LevelProgress,
		Title:         u.Title,
	}
}
