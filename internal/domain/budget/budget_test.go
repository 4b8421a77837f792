package budget

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
)

var (
	now   = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	user  = shared.User{ID: "u1", Username: "ana", Role: shared.RoleUser}
	admin = shared.User{ID: "root", Username: "root", Role: shared.RoleAdmin}
)

func ptr[T any](v T) *T { return &v }

func TestDefaultSettings_ByRole(t *testing.T) {
	u := DefaultSettings("u1", shared.RoleUser, now)
	assert.Equal(t, 30.0, u.MonthlyLimitUSD)
	assert.True(t, u.EnforceBudget)
	assert.True(t, u.VisibleToUser)
	assert.False(t, u.UserCanModifyLimit)
	assert.False(t, u.UserCanResetBudget)
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), u.CurrentPeriodEnd)
	require.NoError(t, ValidateThresholds(u.ThresholdYellow, u.ThresholdOrange, u.ThresholdRed))

	a := DefaultSettings("root", shared.RoleAdmin, now)
	assert.Equal(t, 100.0, a.MonthlyLimitUSD)
	assert.False(t, a.EnforceBudget)
	assert.True(t, a.UserCanModifyLimit)
	assert.True(t, a.UserCanResetBudget)
}

func TestTier_BoundaryInclusive(t *testing.T) {
	pct := PercentageUsed(27, 30)
	assert.InDelta(t, 90.0, pct, 1e-9)

	assert.Equal(t, TierRed, Tier(90, 50, 75, 90))
	assert.Equal(t, TierOrange, Tier(90, 50, 90, 100))
	assert.Equal(t, TierYellow, Tier(50, 50, 75, 90))
	assert.Equal(t, TierGreen, Tier(49.99, 50, 75, 90))
}

func TestStatusFor_ThresholdConfigurations(t *testing.T) {
	tests := []struct {
		name                string
		yellow, orange, red float64
		want                AlertTier
	}{
		{"red at 90", 50, 75, 90, TierRed},
		{"orange at 90, red at 100", 50, 90, 100, TierOrange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings("u1", shared.RoleUser, now)
			s.ThresholdYellow, s.ThresholdOrange, s.ThresholdRed = tt.yellow, tt.orange, tt.red

			st := s.StatusFor(27, user, now)

			assert.Equal(t, tt.want, st.AlertLevel)
			assert.InDelta(t, 90.0, st.PercentageUsed, 1e-9)
			assert.InDelta(t, 3.0, st.RemainingBudget, 1e-9)
			assert.False(t, st.IsOverBudget)
		})
	}
}

func TestStatusFor_ZeroLimit(t *testing.T) {
	s := DefaultSettings("u1", shared.RoleUser, now)
	s.MonthlyLimitUSD = 0

	st := s.StatusFor(5, user, now)

	assert.Zero(t, st.PercentageUsed)
	assert.Equal(t, TierGreen, st.AlertLevel)
	assert.Zero(t, st.RemainingBudget)
	assert.True(t, st.IsOverBudget)
}

func TestStatusFor_Projection(t *testing.T) {
	s := DefaultSettings("u1", shared.RoleUser, now)

	// 9 full days elapsed counts as 10.
	st := s.StatusFor(10, user, now.Add(9*24*time.Hour+time.Hour))
	assert.InDelta(t, 30.0, st.ProjectedPeriodCost, 1e-9)

	s.Period = PeriodDaily
	assert.Equal(t, 4.0, s.StatusFor(4, user, now).ProjectedPeriodCost)

	s.Period = PeriodCustom
	s.CustomPeriodDays = ptr(14)
	assert.InDelta(t, 28.0, s.StatusFor(2, user, now).ProjectedPeriodCost, 1e-9)
}

func TestEffectiveLimit(t *testing.T) {
	s := DefaultSettings("u1", shared.RoleUser, now)
	s.CustomLimitUSD = ptr(12.5)
	assert.Equal(t, 30.0, s.EffectiveLimit())

	s.Period = PeriodCustom
	assert.Equal(t, 12.5, s.EffectiveLimit())
}

func TestPeriodEnd(t *testing.T) {
	dec := time.Date(2024, 12, 20, 15, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), PeriodEnd(PeriodMonthly, nil, dec))
	assert.Equal(t, dec.AddDate(0, 0, 7), PeriodEnd(PeriodWeekly, nil, dec))
	assert.Equal(t, time.Date(2024, 12, 21, 0, 0, 0, 0, time.UTC), PeriodEnd(PeriodDaily, nil, dec))
	assert.Equal(t, dec.AddDate(0, 0, 10), PeriodEnd(PeriodCustom, ptr(10), dec))
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), PeriodEnd(PeriodCustom, nil, dec))
}

func TestValidateThresholds(t *testing.T) {
	assert.NoError(t, ValidateThresholds(50, 75, 90))
	assert.ErrorIs(t, ValidateThresholds(75, 75, 90), shared.ErrThresholdsOrder)
	assert.ErrorIs(t, ValidateThresholds(80, 75, 90), shared.ErrThresholdsOrder)
	assert.ErrorIs(t, ValidateThresholds(50, 75, 101), shared.ErrThresholdRange)
	assert.True(t, shared.IsValidation(ValidateThresholds(-1, 75, 90)))
}

func TestPermissions(t *testing.T) {
	s := DefaultSettings("u1", shared.RoleUser, now)

	assert.True(t, s.Allows(user, ActionView))
	assert.ErrorIs(t, s.Check(user, ActionModify), shared.ErrBudgetModifyDenied)
	assert.ErrorIs(t, s.Check(user, ActionReset), shared.ErrBudgetResetDenied)

	s.VisibleToUser = false
	err := s.Check(user, ActionView)
	assert.ErrorIs(t, err, shared.ErrBudgetHidden)
	assert.True(t, shared.IsForbidden(err))

	for _, a := range []Action{ActionView, ActionModify, ActionReset} {
		assert.True(t, s.Allows(admin, a), string(a))
	}
}

func TestApply(t *testing.T) {
	s := DefaultSettings("u1", shared.RoleUser, now)
	later := now.Add(time.Hour)

	err := s.Apply(Update{
		MonthlyLimitUSD: ptr(45.0),
		Period:          ptr(PeriodWeekly),
		ThresholdYellow: ptr(40.0),
	}, user, later)

	require.NoError(t, err)
	assert.Equal(t, 45.0, s.MonthlyLimitUSD)
	assert.Equal(t, PeriodWeekly, s.Period)
	assert.Equal(t, later.AddDate(0, 0, 7), s.CurrentPeriodEnd)
	assert.Equal(t, 40.0, s.ThresholdYellow)
	assert.Equal(t, later, s.UpdatedAt)
}

func TestApply_RejectsWithoutMutation(t *testing.T) {
	tests := []struct {
		name  string
		upd   Update
		actor shared.User
		want  error
	}{
		{"thresholds out of order", Update{ThresholdOrange: ptr(95.0)}, user, shared.ErrThresholdsOrder},
		{"negative limit", Update{MonthlyLimitUSD: ptr(-1.0)}, user, shared.ErrNegativeLimit},
		{"custom days", Update{CustomPeriodDays: ptr(400)}, user, shared.ErrCustomDaysRange},
		{"bad period", Update{Period: ptr(Period("yearly"))}, user, shared.ErrInvalidPeriod},
		{"admin field", Update{UserCanResetBudget: ptr(true)}, user, shared.ErrBudgetAdminOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings("u1", shared.RoleUser, now)
			before := *s

			err := s.Apply(tt.upd, tt.actor, now.Add(time.Hour))

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, *s)
		})
	}
}

func TestApply_AdminConfiguresOtherUser(t *testing.T) {
	s := DefaultSettings("u1", shared.RoleUser, now)

	err := s.Apply(Update{
		VisibleToUser:      ptr(false),
		UserCanModifyLimit: ptr(true),
		AdminNotes:         ptr("trial account"),
	}, admin, now)

	require.NoError(t, err)
	assert.False(t, s.VisibleToUser)
	assert.True(t, s.UserCanModifyLimit)
	assert.Equal(t, "trial account", s.AdminNotes)
	assert.Equal(t, "root", s.ConfiguredBy)
}

func TestReset(t *testing.T) {
	s := DefaultSettings("u1", shared.RoleUser, now)
	prevStart, prevEnd := s.CurrentPeriodStart, s.CurrentPeriodEnd
	at := now.Add(48 * time.Hour)

	log := s.Reset("01HX", ResetManual, "u1", 12.5, "", at)

	assert.Equal(t, ReasonUserReset, log.Reason)
	assert.Equal(t, 12.5, log.PreviousSpent)
	assert.Equal(t, prevStart, log.PreviousPeriodStart)
	assert.Equal(t, prevEnd, log.PreviousPeriodEnd)
	assert.Equal(t, at, log.NewPeriodStart)
	assert.Equal(t, at, s.CurrentPeriodStart)
	assert.Equal(t, log.NewPeriodEnd, s.CurrentPeriodEnd)
	assert.Equal(t, at, s.LastResetDate)
	assert.True(t, log.Result().Success)
}

func TestDefaultReason(t *testing.T) {
	assert.Equal(t, ReasonRollover, DefaultReason(ResetAutomatic, "u1", "system"))
	assert.Equal(t, "Manual reset by admin root", DefaultReason(ResetManual, "u1", "root"))
	assert.Equal(t, ReasonUserReset, DefaultReason(ResetManual, "u1", "u1"))
}

func TestNeedsRollover(t *testing.T) {
	s := DefaultSettings("u1", shared.RoleUser, now)
	assert.False(t, s.NeedsRollover(now))
	assert.True(t, s.NeedsRollover(s.CurrentPeriodEnd))
}

func TestBreakdownFor(t *testing.T) {
	s := DefaultSettings("u1", shared.RoleUser, now)
	var records []UsageRecord
	for i := 0; i < 12; i++ {
		records = append(records, UsageRecord{
			Provider:    []string{"anthropic", "mistral"}[i%2],
			ServiceType: "llm",
			Cost:        float64(i + 1),
			CreatedAt:   now.Add(time.Duration(i) * 12 * time.Hour),
		})
	}
	records = append(records, UsageRecord{Cost: 0.5, CreatedAt: now})

	b := s.BreakdownFor(records)

	assert.InDelta(t, 78.5, b.TotalSpent, 1e-9)
	assert.InDelta(t, 36.0, b.ByProvider["anthropic"], 1e-9)
	assert.InDelta(t, 0.5, b.ByProvider["unknown"], 1e-9)
	require.Len(t, b.TopOperations, TopOperationsLimit)
	assert.Equal(t, 12.0, b.TopOperations[0].Cost)
	require.Len(t, b.ByDay, 6)
	assert.Equal(t, "2024-06-15", b.ByDay[0].Date)
	assert.Equal(t, 3, b.ByDay[0].Requests)
	for i := 1; i < len(b.ByDay); i++ {
		assert.Less(t, b.ByDay[i-1].Date, b.ByDay[i].Date, fmt.Sprint(i))
	}
}

func TestClampHistoryLimit(t *testing.T) {
	assert.Equal(t, DefaultHistoryLimit, ClampHistoryLimit(0))
	assert.Equal(t, MaxHistoryLimit, ClampHistoryLimit(1000))
	assert.Equal(t, 5, ClampHistoryLimit(5))
}
