// Package streak implements the per-user daily continuity tracker and its
// freeze-token economy.
//
// All day arithmetic is done on civil dates in the user's own timezone, so
// callers pass "today" explicitly (see timeutil.Today).
package streak

import (
	"fmt"
	"slices"
	"time"

	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

const (
	// MaxFreezes caps the stored freeze tokens.
	MaxFreezes = 3

	// FreezeEveryDays awards one token every N consecutive days.
	FreezeEveryDays = 7

	// DefaultTimezone is used for lazily created rows.
	DefaultTimezone = "UTC"
)

// Milestones are the streak lengths that fire a milestone flag.
var Milestones = []int{3, 7, 14, 30, 50, 100, 365}

// IsMilestone reports whether days is a milestone length.
func IsMilestone(days int) bool {
	return slices.Contains(Milestones, days)
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATE
// ══════════════════════════════════════════════════════════════════════════════

// Streak is the per-user streak row. LongestStreak >= CurrentStreak holds
// after every transition.
type Streak struct {
	UserID             string
	CurrentStreak      int
	LongestStreak      int
	LastActivityDate   *time.Time // civil date, nil before first activity
	FreezesAvailable   int
	TotalFreezesEarned int
	TotalFreezesUsed   int
	LastFreezeEarnedAt *time.Time
	LastFreezeUsedAt   *time.Time
	Timezone           string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// New returns the lazily created zero row.
func New(userID, timezone string, now time.Time) *Streak {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	return &Streak{
		UserID:    userID,
		Timezone:  timezone,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HistoryEntry is one per-day continuity record.
type HistoryEntry struct {
	UserID       string    `json:"-"`
	ActivityDate time.Time `json:"date"`
	StreakValue  int       `json:"streak_value"`
	FreezeUsed   bool      `json:"freeze_used"`
}

// Action names the outcome of an update.
type Action string

const (
	ActionStarted         Action = "started"
	ActionNoChange        Action = "no_change"
	ActionIncremented     Action = "incremented"
	ActionFreezeAvailable Action = "freeze_available"
	ActionReset           Action = "reset"
	ActionInvalid         Action = "error"
)

// Mutates reports whether the action changed the stored row.
func (a Action) Mutates() bool {
	switch a {
	case ActionStarted, ActionIncremented, ActionReset:
		return true
	}
	return false
}

// UpdateResult is the outcome of one update_streak call.
type UpdateResult struct {
	Action           Action        `json:"action"`
	CurrentStreak    int           `json:"current_streak"`
	LongestStreak    int           `json:"longest_streak"`
	PreviousStreak   int           `json:"previous_streak,omitempty"`
	DaysMissed       int           `json:"days_missed,omitempty"`
	FreezeEarned     bool          `json:"freeze_earned"`
	FreezesAvailable int           `json:"freezes_available"`
	MilestoneReached bool          `json:"milestone_reached"`
	Message          string        `json:"message"`
	History          *HistoryEntry `json:"-"`
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivity applies one qualifying activity on the given civil day.
// A future last-activity date yields ActionInvalid and leaves s untouched.
func (s *Streak) RecordActivity(today, now time.Time) UpdateResult {
	today = timeutil.NormalizeDate(today)

	if s.LastActivityDate == nil {
		return s.start(today, now)
	}

	gap := timeutil.DaysBetween(*s.LastActivityDate, today)
	switch {
	case gap == 0:
		return UpdateResult{
			Action:           ActionNoChange,
			CurrentStreak:    s.CurrentStreak,
			LongestStreak:    s.LongestStreak,
			FreezesAvailable: s.FreezesAvailable,
			Message:          "Activity already recorded today",
		}
	case gap == 1:
		return s.increment(today, now)
	case gap > 1:
		daysMissed := gap - 1
		if daysMissed == 1 && s.FreezesAvailable > 0 {
			return UpdateResult{
				Action:           ActionFreezeAvailable,
				CurrentStreak:    s.CurrentStreak,
				LongestStreak:    s.LongestStreak,
				DaysMissed:       daysMissed,
				FreezesAvailable: s.FreezesAvailable,
				Message:          "Streak at risk! Use a freeze to protect it.",
			}
		}
		return s.reset(today, now, daysMissed)
	default:
		return UpdateResult{
			Action:           ActionInvalid,
			CurrentStreak:    s.CurrentStreak,
			LongestStreak:    s.LongestStreak,
			FreezesAvailable: s.FreezesAvailable,
			Message:          "Invalid date detected",
		}
	}
}

func (s *Streak) start(today, now time.Time) UpdateResult {
	s.CurrentStreak = 1
	s.LongestStreak = max(s.LongestStreak, 1)
	s.setLastActivity(today)
	s.UpdatedAt = now

	return UpdateResult{
		Action:           ActionStarted,
		CurrentStreak:    1,
		LongestStreak:    s.LongestStreak,
		FreezesAvailable: s.FreezesAvailable,
		Message:          "Streak started!",
		History:          s.historyFor(today, false),
	}
}

func (s *Streak) increment(today, now time.Time) UpdateResult {
	s.CurrentStreak++
	s.LongestStreak = max(s.LongestStreak, s.CurrentStreak)
	s.setLastActivity(today)
	s.UpdatedAt = now

	res := UpdateResult{
		Action:           ActionIncremented,
		CurrentStreak:    s.CurrentStreak,
		LongestStreak:    s.LongestStreak,
		MilestoneReached: IsMilestone(s.CurrentStreak),
		Message:          fmt.Sprintf("%d day streak!", s.CurrentStreak),
	}

	if s.CurrentStreak%FreezeEveryDays == 0 && s.GrantFreeze(now) {
		res.FreezeEarned = true
		res.Message += " Freeze token earned!"
	}
	res.FreezesAvailable = s.FreezesAvailable
	res.History = s.historyFor(today, false)
	return res
}

func (s *Streak) reset(today, now time.Time, daysMissed int) UpdateResult {
	previous := s.CurrentStreak
	s.CurrentStreak = 1
	s.setLastActivity(today)
	s.UpdatedAt = now

	return UpdateResult{
		Action:           ActionReset,
		CurrentStreak:    1,
		LongestStreak:    s.LongestStreak,
		PreviousStreak:   previous,
		DaysMissed:       daysMissed,
		FreezesAvailable: s.FreezesAvailable,
		Message:          fmt.Sprintf("Streak reset. You lost a %d day streak.", previous),
		History:          s.historyFor(today, false),
	}
}

// GrantFreeze adds one token if below the cap. It reports whether a token
// was granted.
func (s *Streak) GrantFreeze(now time.Time) bool {
	if s.FreezesAvailable >= MaxFreezes {
		return false
	}
	s.FreezesAvailable++
	s.TotalFreezesEarned++
	t := now
	s.LastFreezeEarnedAt = &t
	s.UpdatedAt = now
	return true
}

// FreezeResult is the structured outcome of use_streak_freeze. Rejections
// are reported with Success=false, never as errors.
type FreezeResult struct {
	Success          bool          `json:"success"`
	Message          string        `json:"message"`
	CurrentStreak    int           `json:"current_streak"`
	FreezesRemaining int           `json:"freezes_remaining"`
	History          *HistoryEntry `json:"-"`
}

// Freeze rejection messages.
const (
	MsgStreakNotFound    = "Streak not found"
	MsgNoFreezes         = "No freezes available"
	MsgNoActiveStreak    = "No active streak to protect"
	MsgNotAtRisk         = "Streak is not at risk"
	MsgTooManyDaysMissed = "Missed too many days. Freeze can only cover 1 day."
	MsgFreezeUsed        = "Freeze used! Your streak is protected."
)

// UseFreeze consumes one token to cover exactly one missed day. On success
// the skipped day is recorded with freeze_used=true and the last activity
// moves to that day, so the next activity continues the streak.
func (s *Streak) UseFreeze(today, now time.Time) FreezeResult {
	today = timeutil.NormalizeDate(today)
	fail := func(msg string) FreezeResult {
		return FreezeResult{Message: msg, CurrentStreak: s.CurrentStreak, FreezesRemaining: s.FreezesAvailable}
	}

	if s.FreezesAvailable <= 0 {
		return fail(MsgNoFreezes)
	}
	if s.LastActivityDate == nil {
		return fail(MsgNoActiveStreak)
	}

	since := timeutil.DaysBetween(*s.LastActivityDate, today)
	if since <= 1 {
		return fail(MsgNotAtRisk)
	}
	if since > 2 {
		return fail(MsgTooManyDaysMissed)
	}

	s.FreezesAvailable--
	s.TotalFreezesUsed++
	t := now
	s.LastFreezeUsedAt = &t
	s.UpdatedAt = now

	yesterday := timeutil.AddDays(today, -1)
	s.setLastActivity(yesterday)

	return FreezeResult{
		Success:          true,
		Message:          MsgFreezeUsed,
		CurrentStreak:    s.CurrentStreak,
		FreezesRemaining: s.FreezesAvailable,
		History:          s.historyFor(yesterday, true),
	}
}

func (s *Streak) setLastActivity(d time.Time) {
	d = timeutil.NormalizeDate(d)
	s.LastActivityDate = &d
}

func (s *Streak) historyFor(day time.Time, freezeUsed bool) *HistoryEntry {
	return &HistoryEntry{
		UserID:       s.UserID,
		ActivityDate: timeutil.NormalizeDate(day),
		StreakValue:  s.CurrentStreak,
		FreezeUsed:   freezeUsed,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// READ MODELS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the read model for get_streak_status.
type Status struct {
	UserID             string  `json:"user_id"`
	CurrentStreak      int     `json:"current_streak"`
	LongestStreak      int     `json:"longest_streak"`
	LastActivityDate   *string `json:"last_activity_date"`
	FreezesAvailable   int     `json:"streak_freezes_available"`
	TotalFreezesEarned int     `json:"total_freezes_earned"`
	TotalFreezesUsed   int     `json:"total_freezes_used"`
	DaysToNextFreeze   *int    `json:"days_to_next_freeze"`
	IsAtRisk           bool    `json:"is_at_risk"`
	DaysSinceActivity  int     `json:"days_since_activity"`
	BonusMultiplier    float64 `json:"bonus_multiplier"`
	Timezone           string  `json:"timezone"`
}

// StatusAt projects the row as observed on the given civil day.
func (s *Streak) StatusAt(today time.Time) Status {
	st := Status{
		UserID:             s.UserID,
		CurrentStreak:      s.CurrentStreak,
		LongestStreak:      s.LongestStreak,
		FreezesAvailable:   s.FreezesAvailable,
		TotalFreezesEarned: s.TotalFreezesEarned,
		TotalFreezesUsed:   s.TotalFreezesUsed,
		BonusMultiplier:    BonusMultiplier(s.CurrentStreak),
		Timezone:           s.Timezone,
	}

	if s.CurrentStreak > 0 && s.FreezesAvailable < MaxFreezes {
		days := FreezeEveryDays - s.CurrentStreak%FreezeEveryDays
		st.DaysToNextFreeze = &days
	}

	if s.LastActivityDate != nil {
		d := timeutil.FormatDate(*s.LastActivityDate)
		st.LastActivityDate = &d
		st.DaysSinceActivity = timeutil.DaysBetween(*s.LastActivityDate, today)
		st.IsAtRisk = st.DaysSinceActivity > 0 && s.CurrentStreak > 0
	}
	return st
}

// BonusMultiplier returns the XP multiplier for a streak length.
func BonusMultiplier(current int) float64 {
	switch {
	case current >= 100:
		return 1.5
	case current >= 30:
		return 1.25
	case current >= 7:
		return 1.10
	default:
		return 1.0
	}
}
