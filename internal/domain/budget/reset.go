package budget

import (
	"fmt"
	"time"
)

// ResetType tells who started a new period.
type ResetType string

const (
	ResetManual    ResetType = "manual"
	ResetAutomatic ResetType = "automatic"
)

// Default reset reasons.
const (
	ReasonUserReset = "Manual reset by user"
	ReasonRollover  = "Automatic period rollover"
)

// ResetLog is the audit row written for every reset.
type ResetLog struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	ResetType           ResetType `json:"reset_type"`
	ResetBy             string    `json:"reset_by"`
	PreviousLimit       float64   `json:"previous_limit"`
	NewLimit            float64   `json:"new_limit"`
	PreviousSpent       float64   `json:"previous_spent"`
	PreviousPeriodStart time.Time `json:"previous_period_start"`
	PreviousPeriodEnd   time.Time `json:"previous_period_end"`
	NewPeriodStart      time.Time `json:"new_period_start"`
	NewPeriodEnd        time.Time `json:"new_period_end"`
	Reason              string    `json:"reason"`
	ResetAt             time.Time `json:"reset_timestamp"`
}

// DefaultReason picks the audit reason when the caller gave none.
func DefaultReason(typ ResetType, targetUserID, resetBy string) string {
	switch {
	case typ == ResetAutomatic:
		return ReasonRollover
	case resetBy != "" && resetBy != targetUserID:
		return fmt.Sprintf("Manual reset by admin %s", resetBy)
	default:
		return ReasonUserReset
	}
}

// Reset starts a new period at now and returns the audit row describing
// the old one. spent is the ledger total of the closing period.
func (s *Settings) Reset(id string, typ ResetType, resetBy string, spent float64, reason string, now time.Time) *ResetLog {
	if reason == "" {
		reason = DefaultReason(typ, s.UserID, resetBy)
	}

	prevEnd := s.CurrentPeriodEnd
	if prevEnd.IsZero() {
		prevEnd = now
	}
	newEnd := PeriodEnd(s.Period, s.CustomPeriodDays, now)

	log := &ResetLog{
		ID:                  id,
		UserID:              s.UserID,
		ResetType:           typ,
		ResetBy:             resetBy,
		PreviousLimit:       s.EffectiveLimit(),
		NewLimit:            s.EffectiveLimit(),
		PreviousSpent:       spent,
		PreviousPeriodStart: s.CurrentPeriodStart,
		PreviousPeriodEnd:   prevEnd,
		NewPeriodStart:      now,
		NewPeriodEnd:        newEnd,
		Reason:              reason,
		ResetAt:             now,
	}

	s.CurrentPeriodStart = now
	s.CurrentPeriodEnd = newEnd
	s.LastResetDate = now
	s.UpdatedAt = now
	return log
}

// ResetResult is the caller-facing outcome of a reset.
type ResetResult struct {
	Success        bool      `json:"success"`
	Message        string    `json:"message"`
	ResetBy        string    `json:"reset_by"`
	NewPeriodStart time.Time `json:"new_period_start"`
	NewPeriodEnd   time.Time `json:"new_period_end"`
	PreviousSpent  float64   `json:"previous_spent"`
}

// Result projects the log into the caller-facing result.
func (l *ResetLog) Result() ResetResult {
	return ResetResult{
		Success:        true,
		Message:        "Budget reset successfully",
		ResetBy:        l.ResetBy,
		NewPeriodStart: l.NewPeriodStart,
		NewPeriodEnd:   l.NewPeriodEnd,
		PreviousSpent:  l.PreviousSpent,
	}
}
