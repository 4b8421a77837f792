// Package budget implements per-user spend accounting over a rolling
// period: settings with role-based defaults, alert tiers, the visibility and
// self-service permission gate, and manual or automatic period resets.
package budget

import (
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// Period is the length of an accounting period.
type Period string

const (
	PeriodMonthly Period = "monthly"
	PeriodWeekly  Period = "weekly"
	PeriodDaily   Period = "daily"
	PeriodCustom  Period = "custom"
)

// IsValid reports whether p is a supported period.
func (p Period) IsValid() bool {
	switch p {
	case PeriodMonthly, PeriodWeekly, PeriodDaily, PeriodCustom:
		return true
	}
	return false
}

// Limits and defaults.
const (
	DefaultUserLimitUSD  = 30.0
	DefaultAdminLimitUSD = 100.0
	MaxLimitUSD          = 10000.0

	DefaultThresholdYellow = 50.0
	DefaultThresholdOrange = 75.0
	DefaultThresholdRed    = 90.0

	MinCustomDays = 1
	MaxCustomDays = 365

	MaxAdminNotes = 500
)

// Settings is the per-user budget configuration and current period.
type Settings struct {
	UserID              string
	MonthlyLimitUSD     float64
	CustomLimitUSD      *float64
	Period              Period
	CustomPeriodDays    *int
	CurrentPeriodStart  time.Time
	CurrentPeriodEnd    time.Time
	LastResetDate       time.Time
	EnforceBudget       bool
	AllowBudgetOverride bool
	ThresholdYellow     float64
	ThresholdOrange     float64
	ThresholdRed        float64
	VisibleToUser       bool
	UserCanModifyLimit  bool
	UserCanResetBudget  bool
	AdminNotes          string
	ConfiguredBy        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DefaultSettings returns the first-encounter settings for a user. Admins
// get a higher limit, no enforcement and full self-service.
func DefaultSettings(userID string, role shared.Role, now time.Time) *Settings {
	s := &Settings{
		UserID:              userID,
		MonthlyLimitUSD:     DefaultUserLimitUSD,
		Period:              PeriodMonthly,
		CurrentPeriodStart:  now,
		CurrentPeriodEnd:    PeriodEnd(PeriodMonthly, nil, now),
		LastResetDate:       now,
		EnforceBudget:       true,
		AllowBudgetOverride: true,
		ThresholdYellow:     DefaultThresholdYellow,
		ThresholdOrange:     DefaultThresholdOrange,
		ThresholdRed:        DefaultThresholdRed,
		VisibleToUser:       true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if role.IsAdmin() {
		s.MonthlyLimitUSD = DefaultAdminLimitUSD
		s.EnforceBudget = false
		s.UserCanModifyLimit = true
		s.UserCanResetBudget = true
	}
	return s
}

// EffectiveLimit is the custom limit for custom periods when set, else the
// monthly limit.
func (s *Settings) EffectiveLimit() float64 {
	if s.Period == PeriodCustom && s.CustomLimitUSD != nil {
		return *s.CustomLimitUSD
	}
	return s.MonthlyLimitUSD
}

// PeriodEnd computes the end of a period starting at now. Custom periods
// without a day count fall back to the monthly rule.
func PeriodEnd(p Period, customDays *int, now time.Time) time.Time {
	switch p {
	case PeriodWeekly:
		return now.AddDate(0, 0, 7)
	case PeriodDaily:
		return timeutil.NextMidnight(now)
	case PeriodCustom:
		if customDays != nil && *customDays > 0 {
			return now.AddDate(0, 0, *customDays)
		}
	}
	return timeutil.FirstOfNextMonth(now)
}

// PeriodDays is the nominal period length used for cost projection.
func (s *Settings) PeriodDays() int {
	switch s.Period {
	case PeriodWeekly:
		return 7
	case PeriodDaily:
		return 1
	case PeriodCustom:
		if s.CustomPeriodDays != nil && *s.CustomPeriodDays > 0 {
			return *s.CustomPeriodDays
		}
	}
	return 30
}

// ValidateThresholds checks 0 <= yellow < orange < red <= 100.
func ValidateThresholds(yellow, orange, red float64) error {
	for _, v := range []float64{yellow, orange, red} {
		if v < 0 || v > 100 {
			return shared.ErrThresholdRange
		}
	}
	if !(yellow < orange && orange < red) {
		return shared.ErrThresholdsOrder
	}
	return nil
}

// NeedsRollover reports whether the current period has ended.
func (s *Settings) NeedsRollover(now time.Time) bool {
	return !s.CurrentPeriodEnd.IsZero() && !now.Before(s.CurrentPeriodEnd)
}

// ══════════════════════════════════════════════════════════════════════════════
// PERMISSIONS
// ══════════════════════════════════════════════════════════════════════════════

// Action is a gated budget operation.
type Action string

const (
	ActionView   Action = "view"
	ActionModify Action = "modify"
	ActionReset  Action = "reset"
)

// Allows reports whether actor may perform a on these settings. Admins
// bypass every gate.
func (s *Settings) Allows(actor shared.User, a Action) bool {
	if actor.IsAdmin() {
		return true
	}
	switch a {
	case ActionView:
		return s.VisibleToUser
	case ActionModify:
		return s.UserCanModifyLimit
	case ActionReset:
		return s.UserCanResetBudget
	}
	return false
}

// Check returns the forbidden error for a denied action.
func (s *Settings) Check(actor shared.User, a Action) error {
	if s.Allows(actor, a) {
		return nil
	}
	switch a {
	case ActionView:
		return shared.ErrBudgetHidden
	case ActionModify:
		return shared.ErrBudgetModifyDenied
	default:
		return shared.ErrBudgetResetDenied
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATES
// ══════════════════════════════════════════════════════════════════════════════

// Update is a partial settings change. Nil fields are left alone.
type Update struct {
	MonthlyLimitUSD     *float64 `json:"monthly_limit_usd"`
	CustomLimitUSD      *float64 `json:"custom_limit_usd"`
	Period              *Period  `json:"budget_period"`
	CustomPeriodDays    *int     `json:"custom_period_days"`
	EnforceBudget       *bool    `json:"enforce_budget"`
	AllowBudgetOverride *bool    `json:"allow_budget_override"`
	ThresholdYellow     *float64 `json:"alert_threshold_yellow"`
	ThresholdOrange     *float64 `json:"alert_threshold_orange"`
	ThresholdRed        *float64 `json:"alert_threshold_red"`

	// Admin-only fields.
	VisibleToUser      *bool   `json:"budget_visible_to_user"`
	UserCanModifyLimit *bool   `json:"user_can_modify_limit"`
	UserCanResetBudget *bool   `json:"user_can_reset_budget"`
	AdminNotes         *string `json:"admin_notes"`
}

func (u Update) touchesAdminFields() bool {
	return u.VisibleToUser != nil || u.UserCanModifyLimit != nil ||
		u.UserCanResetBudget != nil || u.AdminNotes != nil
}

// Apply validates u and applies it. s is unchanged when an error is
// returned. The caller checks the modify permission first.
func (s *Settings) Apply(u Update, actor shared.User, now time.Time) error {
	if u.touchesAdminFields() && !actor.IsAdmin() {
		return shared.ErrBudgetAdminOnly
	}

	next := *s
	for _, v := range []*float64{u.MonthlyLimitUSD, u.CustomLimitUSD} {
		if v == nil {
			continue
		}
		if *v < 0 {
			return shared.ErrNegativeLimit
		}
		if *v > MaxLimitUSD {
			return shared.NewDomainError("budget", "Validate", shared.ErrValueOutOfRange, "budget limit exceeds maximum")
		}
	}
	if u.MonthlyLimitUSD != nil {
		next.MonthlyLimitUSD = *u.MonthlyLimitUSD
	}
	if u.CustomLimitUSD != nil {
		v := *u.CustomLimitUSD
		next.CustomLimitUSD = &v
	}

	if u.CustomPeriodDays != nil {
		d := *u.CustomPeriodDays
		if d < MinCustomDays || d > MaxCustomDays {
			return shared.ErrCustomDaysRange
		}
		next.CustomPeriodDays = &d
	}
	if u.Period != nil {
		if !u.Period.IsValid() {
			return shared.ErrInvalidPeriod
		}
		next.Period = *u.Period
		next.CurrentPeriodEnd = PeriodEnd(next.Period, next.CustomPeriodDays, now)
	}

	if u.EnforceBudget != nil {
		next.EnforceBudget = *u.EnforceBudget
	}
	if u.AllowBudgetOverride != nil {
		next.AllowBudgetOverride = *u.AllowBudgetOverride
	}

	if u.ThresholdYellow != nil {
		next.ThresholdYellow = *u.ThresholdYellow
	}
	if u.ThresholdOrange != nil {
		next.ThresholdOrange = *u.ThresholdOrange
	}
	if u.ThresholdRed != nil {
		next.ThresholdRed = *u.ThresholdRed
	}
	if err := ValidateThresholds(next.ThresholdYellow, next.ThresholdOrange, next.ThresholdRed); err != nil {
		return err
	}

	if u.VisibleToUser != nil {
		next.VisibleToUser = *u.VisibleToUser
	}
	if u.UserCanModifyLimit != nil {
		next.UserCanModifyLimit = *u.UserCanModifyLimit
	}
	if u.UserCanResetBudget != nil {
		next.UserCanResetBudget = *u.UserCanResetBudget
	}
	if u.AdminNotes != nil {
		if len(*u.AdminNotes) > MaxAdminNotes {
			return shared.NewDomainError("budget", "Validate", shared.ErrValueOutOfRange, "admin notes too long")
		}
		next.AdminNotes = *u.AdminNotes
	}
	if actor.IsAdmin() && actor.ID != s.UserID {
		next.ConfiguredBy = actor.ID
	}

	next.UpdatedAt = now
	*s = next
	return nil
}

// View is the settings read model.
type View struct {
	UserID              string   `json:"user_id"`
	MonthlyLimitUSD     float64  `json:"monthly_limit_usd"`
	CustomLimitUSD      *float64 `json:"custom_limit_usd"`
	Period              Period   `json:"budget_period"`
	CustomPeriodDays    *int     `json:"custom_period_days"`
	EnforceBudget       bool     `json:"enforce_budget"`
	AllowBudgetOverride bool     `json:"allow_budget_override"`
	ThresholdYellow     float64  `json:"alert_threshold_yellow"`
	ThresholdOrange     float64  `json:"alert_threshold_orange"`
	ThresholdRed        float64  `json:"alert_threshold_red"`
	VisibleToUser       bool     `json:"budget_visible_to_user"`
	UserCanModifyLimit  bool     `json:"user_can_modify_limit"`
	UserCanResetBudget  bool     `json:"user_can_reset_budget"`
	AdminNotes          string   `json:"admin_notes,omitempty"`
	ConfiguredBy        string   `json:"configured_by,omitempty"`
	PeriodStart         string   `json:"current_period_start"`
	PeriodEnd           string   `json:"current_period_end"`
}

// View projects the settings.
func (s *Settings) View() View {
	return View{
		UserID:              s.UserID,
		MonthlyLimitUSD:     s.MonthlyLimitUSD,
		CustomLimitUSD:      s.CustomLimitUSD,
		Period:              s.Period,
		CustomPeriodDays:    s.CustomPeriodDays,
		EnforceBudget:       s.EnforceBudget,
		AllowBudgetOverride: s.AllowBudgetOverride,
		ThresholdYellow:     s.ThresholdYellow,
		ThresholdOrange:     s.ThresholdOrange,
		ThresholdRed:        s.ThresholdRed,
		VisibleToUser:       s.VisibleToUser,
		UserCanModifyLimit:  s.UserCanModifyLimit,
		UserCanResetBudget:  s.UserCanResetBudget,
		AdminNotes:          s.AdminNotes,
		ConfiguredBy:        s.ConfiguredBy,
		PeriodStart:         s.CurrentPeriodStart.Format(time.RFC3339),
		PeriodEnd:           s.CurrentPeriodEnd.Format(time.RFC3339),
	}
}
