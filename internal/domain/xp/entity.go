package xp

import (
	"fmt"
	"math"
	"time"
)

// MaxAwardAmount bounds the magnitude of a single award.
const MaxAwardAmount = 1_000_000

// MaxTotalXP is the largest storable total; the ledger columns are 32-bit.
const MaxTotalXP = math.MaxInt32

// ══════════════════════════════════════════════════════════════════════════════
// USER XP
// ══════════════════════════════════════════════════════════════════════════════

// UserXP is the per-user XP aggregate. Level, XPToNextLevel, LevelProgress
// and Title are always derived from TotalXP by recompute.
type UserXP struct {
	UserID        string
	TotalXP       int
	CurrentLevel  int
	XPToNextLevel int
	LevelProgress float64
	Title         Title
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewUserXP returns the zero-XP record created on first award.
func NewUserXP(userID string, now time.Time) *UserXP {
	u := &UserXP{UserID: userID, CreatedAt: now, UpdatedAt: now}
	u.recompute()
	return u
}

func (u *UserXP) recompute() {
	if u.TotalXP < 0 {
		u.TotalXP = 0
	}
	if u.TotalXP > MaxTotalXP {
		u.TotalXP = MaxTotalXP
	}
	p := ProgressFor(u.TotalXP)
	u.CurrentLevel = p.Level
	u.XPToNextLevel = p.XPToNextLevel
	u.LevelProgress = p.ProgressPct
	u.Title = TitleForLevel(p.Level)
}

// Normalize re-derives the level fields, e.g. after loading a row.
func (u *UserXP) Normalize() {
	u.recompute()
}

// AwardOutcome is the arithmetic result of applying an award.
type AwardOutcome struct {
	Amount        int
	PreviousXP    int
	TotalXP       int
	PreviousLevel int
	CurrentLevel  int
	PreviousTitle Title
	Title         Title
}

// LevelUp reports whether the award raised the level.
func (o AwardOutcome) LevelUp() bool { return o.CurrentLevel > o.PreviousLevel }

// LevelsGained is the number of levels crossed upward.
func (o AwardOutcome) LevelsGained() int {
	if !o.LevelUp() {
		return 0
	}
	return o.CurrentLevel - o.PreviousLevel
}

// TitleChanged reports whether the award moved the user into a new bracket.
func (o AwardOutcome) TitleChanged() bool { return o.Title != o.PreviousTitle }

// Apply adds amount (which may be negative) to the total, clamping to
// [0, MaxTotalXP], and recomputes the derived fields.
func (u *UserXP) Apply(amount int, now time.Time) AwardOutcome {
	u.recompute()
	out := AwardOutcome{
		Amount:        amount,
		PreviousXP:    u.TotalXP,
		PreviousLevel: u.CurrentLevel,
		PreviousTitle: u.Title,
	}

	u.TotalXP = addClamped(u.TotalXP, amount)
	u.recompute()
	u.UpdatedAt = now

	out.TotalXP = u.TotalXP
	out.CurrentLevel = u.CurrentLevel
	out.Title = u.Title
	return out
}

// addClamped adds without overflow; total must already be in [0, MaxTotalXP].
func addClamped(total, amount int) int {
	switch {
	case amount > MaxTotalXP-total:
		return MaxTotalXP
	case amount < -total:
		return 0
	}
	return total + amount
}

// LevelInfo is the read model for get_user_level.
type LevelInfo struct {
	UserID        string    `json:"user_id"`
	TotalXP       int       `json:"total_xp"`
	CurrentLevel  int       `json:"current_level"`
	XPToNextLevel int       `json:"xp_to_next_level"`
	LevelProgress float64   `json:"level_progress_percentage"`
	Title         Title     `json:"title"`
	NextTitle     Title     `json:"next_title,omitempty"`
	NextTitleAt   int       `json:"next_title_level,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Info projects the aggregate into its read model.
func (u *UserXP) Info() LevelInfo {
	u.recompute()
	info := LevelInfo{
		UserID:        u.UserID,
		TotalXP:       u.TotalXP,
		CurrentLevel:  u.CurrentLevel,
		XPToNextLevel: u.XPToNextLevel,
		LevelProgress: u.LevelProgress,
		Title:         u.Title,
		UpdatedAt:     u.UpdatedAt,
	}
	if t, at, ok := NextTitle(u.CurrentLevel); ok {
		info.NextTitle, info.NextTitleAt = t, at
	}
	return info
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// Common award reasons.
const (
	ReasonScenarioCompletion  = "scenario_completion"
	ReasonAchievementUnlocked = "achievement_unlocked"
	ReasonStreakBonus         = "streak_bonus"
	ReasonAdminCorrection     = "admin_correction"
)

// Transaction is an append-only ledger entry. Amount is signed.
type Transaction struct {
	ID          string
	UserID      string
	Amount      int
	Reason      string
	ReferenceID string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// Statistics aggregates a user's ledger.
type Statistics struct {
	UserID            string         `json:"user_id"`
	TotalXP           int            `json:"total_xp"`
	CurrentLevel      int            `json:"current_level"`
	Title             Title          `json:"title"`
	TotalTransactions int            `json:"total_transactions"`
	TotalEarned       int            `json:"total_earned"`
	XPBySource        map[string]int `json:"xp_by_source"`
	XPToNextLevel     int            `json:"xp_to_next_level"`
	LevelProgress     float64        `json:"level_progress_percentage"`
}

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL-UP REWARDS
// ══════════════════════════════════════════════════════════════════════════════

// FreezeMilestoneLevels grant one streak freeze token each when crossed.
var FreezeMilestoneLevels = []int{10, 25, 50, 75, 100}

// FreezeMilestonesCrossed returns the milestone levels m with
// previous < m <= current.
func FreezeMilestonesCrossed(previous, current int) []int {
	var crossed []int
	for _, m := range FreezeMilestoneLevels {
		if previous < m && m <= current {
			crossed = append(crossed, m)
		}
	}
	return crossed
}

// Rewards is the level-up rewards payload.
type Rewards struct {
	FreezeTokens int      `json:"freeze_tokens"`
	NewTitle     Title    `json:"new_title,omitempty"`
	Badges       []string `json:"badges"`
}

// TitleRewards fills the title part of the rewards for an outcome.
func TitleRewards(o AwardOutcome) Rewards {
	r := Rewards{Badges: []string{}}
	if o.LevelUp() && o.TitleChanged() {
		r.NewTitle = o.Title
		r.Badges = append(r.Badges, fmt.Sprintf("%s Badge", o.Title))
	}
	return r
}

// LevelUpMessage is the caller-facing level-up text.
func LevelUpMessage(level int, title Title) string {
	return fmt.Sprintf("Level up! You are now level %d - %s!", level, title)
}
