package budget

import (
	"math"
	"sort"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// AlertTier is the spend severity.
type AlertTier string

const (
	TierGreen  AlertTier = "green"
	TierYellow AlertTier = "yellow"
	TierOrange AlertTier = "orange"
	TierRed    AlertTier = "red"
)

// Tier returns the most severe tier whose threshold pct reaches. Checks run
// red to green and are boundary-inclusive.
func Tier(pct, yellow, orange, red float64) AlertTier {
	switch {
	case pct >= red:
		return TierRed
	case pct >= orange:
		return TierOrange
	case pct >= yellow:
		return TierYellow
	default:
		return TierGreen
	}
}

// PercentageUsed is spend / limit * 100, or 0 when limit <= 0.
func PercentageUsed(spend, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return spend / limit * 100
}

// Status is the spend summary for the current period.
type Status struct {
	UserID              string    `json:"user_id"`
	TotalBudget         float64   `json:"total_budget"`
	UsedBudget          float64   `json:"used_budget"`
	RemainingBudget     float64   `json:"remaining_budget"`
	PercentageUsed      float64   `json:"percentage_used"`
	AlertLevel          AlertTier `json:"alert_level"`
	DaysRemaining       int       `json:"days_remaining_in_period"`
	ProjectedPeriodCost float64   `json:"projected_period_cost"`
	IsOverBudget        bool      `json:"is_over_budget"`
	EnforceBudget       bool      `json:"enforce_budget"`
	PeriodStart         string    `json:"period_start"`
	PeriodEnd           string    `json:"period_end"`
	Period              Period    `json:"budget_period"`
	CanViewBudget       bool      `json:"can_view_budget"`
	CanModifyLimit      bool      `json:"can_modify_limit"`
	CanResetBudget      bool      `json:"can_reset_budget"`
}

// StatusFor computes the status for spend observed at now.
func (s *Settings) StatusFor(spend float64, viewer shared.User, now time.Time) Status {
	limit := s.EffectiveLimit()
	pct := PercentageUsed(spend, limit)

	elapsed := int(now.Sub(s.CurrentPeriodStart).Hours()/24) + 1
	if elapsed < 1 {
		elapsed = 1
	}
	projected := spend
	if s.Period != PeriodDaily {
		projected = spend / float64(elapsed) * float64(s.PeriodDays())
	}

	return Status{
		UserID:              s.UserID,
		TotalBudget:         limit,
		UsedBudget:          spend,
		RemainingBudget:     math.Max(0, limit-spend),
		PercentageUsed:      pct,
		AlertLevel:          Tier(pct, s.ThresholdYellow, s.ThresholdOrange, s.ThresholdRed),
		DaysRemaining:       timeutil.DaysUntil(now, s.CurrentPeriodEnd),
		ProjectedPeriodCost: projected,
		IsOverBudget:        spend > limit,
		EnforceBudget:       s.EnforceBudget,
		PeriodStart:         s.CurrentPeriodStart.Format(time.RFC3339),
		PeriodEnd:           s.CurrentPeriodEnd.Format(time.RFC3339),
		Period:              s.Period,
		CanViewBudget:       s.Allows(viewer, ActionView),
		CanModifyLimit:      s.Allows(viewer, ActionModify),
		CanResetBudget:      s.Allows(viewer, ActionReset),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// USAGE BREAKDOWN
// ══════════════════════════════════════════════════════════════════════════════

// UsageRecord is one cost ledger row.
type UsageRecord struct {
	Provider    string
	ServiceType string
	Cost        float64
	TokensUsed  int
	CreatedAt   time.Time
}

// DayCost aggregates one calendar day.
type DayCost struct {
	Date     string  `json:"date"`
	Cost     float64 `json:"cost"`
	Requests int     `json:"requests"`
}

// Operation is one of the most expensive ledger rows.
type Operation struct {
	Timestamp   time.Time `json:"timestamp"`
	Provider    string    `json:"provider"`
	ServiceType string    `json:"service_type"`
	Cost        float64   `json:"cost"`
	TokensUsed  int       `json:"tokens_used"`
}

// Breakdown is the usage analysis for the current period.
type Breakdown struct {
	UserID        string             `json:"user_id"`
	PeriodStart   string             `json:"period_start"`
	PeriodEnd     string             `json:"period_end"`
	TotalSpent    float64            `json:"total_spent"`
	ByProvider    map[string]float64 `json:"by_provider"`
	ByServiceType map[string]float64 `json:"by_service_type"`
	ByDay         []DayCost          `json:"by_day"`
	TopOperations []Operation        `json:"top_expensive_operations"`
}

// TopOperationsLimit bounds Breakdown.TopOperations.
const TopOperationsLimit = 10

// BreakdownFor aggregates records of the current period.
func (s *Settings) BreakdownFor(records []UsageRecord) Breakdown {
	b := Breakdown{
		UserID:        s.UserID,
		PeriodStart:   s.CurrentPeriodStart.Format(time.RFC3339),
		PeriodEnd:     s.CurrentPeriodEnd.Format(time.RFC3339),
		ByProvider:    make(map[string]float64),
		ByServiceType: make(map[string]float64),
		ByDay:         []DayCost{},
		TopOperations: []Operation{},
	}

	days := make(map[string]*DayCost)
	for _, r := range records {
		provider := orUnknown(r.Provider)
		service := orUnknown(r.ServiceType)
		b.TotalSpent += r.Cost
		b.ByProvider[provider] += r.Cost
		b.ByServiceType[service] += r.Cost

		key := timeutil.FormatDate(r.CreatedAt.UTC())
		d, ok := days[key]
		if !ok {
			d = &DayCost{Date: key}
			days[key] = d
		}
		d.Cost += r.Cost
		d.Requests++

		b.TopOperations = append(b.TopOperations, Operation{
			Timestamp:   r.CreatedAt,
			Provider:    r.Provider,
			ServiceType: r.ServiceType,
			Cost:        r.Cost,
			TokensUsed:  r.TokensUsed,
		})
	}

	for _, d := range days {
		b.ByDay = append(b.ByDay, *d)
	}
	sort.Slice(b.ByDay, func(i, j int) bool { return b.ByDay[i].Date < b.ByDay[j].Date })

	sort.SliceStable(b.TopOperations, func(i, j int) bool { return b.TopOperations[i].Cost > b.TopOperations[j].Cost })
	if len(b.TopOperations) > TopOperationsLimit {
		b.TopOperations = b.TopOperations[:TopOperationsLimit]
	}
	return b
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
