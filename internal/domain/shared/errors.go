// Package shared contains the error taxonomy, domain events and user
// directory contract used by every gamification and budget package.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrExpired          = errors.New("expired")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "xp", "streak", "budget"
	Op      string // Operation that failed, e.g., "Create", "Update"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// XP domain errors
var (
	ErrUserXPNotFound  = NewDomainError("xp", "Find", ErrNotFound, "user XP record not found")
	ErrInvalidXPReason = NewDomainError("xp", "Validate", ErrEmptyValue, "xp reason is required")
	ErrInvalidLevel    = NewDomainError("xp", "Validate", ErrValueOutOfRange, "level must be between 1 and 100")

	ErrXPAmountOutOfRange   = NewDomainError("xp", "Validate", ErrValueOutOfRange, "xp amount must be between -1000000 and 1000000")
	ErrIdempotencyReference = NewDomainError("xp", "Validate", ErrEmptyValue, "idempotent awards need a reference id")
)

// Streak domain errors
var (
	ErrStreakNotFound  = NewDomainError("streak", "Find", ErrNotFound, "streak not found")
	ErrInvalidTimezone = NewDomainError("streak", "Validate", ErrInvalidFormat, "invalid timezone")
	ErrFutureActivity  = NewDomainError("streak", "Update", ErrFutureTimestamp, "last activity date is in the future")
)

// Achievement domain errors
var (
	ErrAchievementNotFound  = NewDomainError("achievement", "Find", ErrNotFound, "achievement not found")
	ErrAchievementUnlocked  = NewDomainError("achievement", "Unlock", ErrAlreadyExists, "achievement already unlocked")
	ErrInvalidCriteria      = NewDomainError("achievement", "Validate", ErrInvalidInput, "invalid achievement criteria")
	ErrInvalidCatalog       = NewDomainError("achievement", "LoadCatalog", ErrInvalidFormat, "invalid achievement catalog")
	ErrUnknownAchievementEv = NewDomainError("achievement", "Check", ErrInvalidInput, "unknown event type")
)

// Leaderboard domain errors
var (
	ErrUnknownMetric        = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "unknown leaderboard metric")
	ErrInvalidRank          = NewDomainError("leaderboard", "Validate", ErrValueOutOfRange, "invalid rank")
	ErrSnapshotNotFound     = NewDomainError("leaderboard", "FindSnapshot", ErrNotFound, "snapshot not found")
	ErrLeaderboardCacheMiss = NewDomainError("leaderboard", "CacheGet", ErrNotFound, "leaderboard not cached")
)

// Budget domain errors
var (
	ErrBudgetNotFound        = NewDomainError("budget", "Find", ErrNotFound, "budget settings not found")
	ErrThresholdsOrder       = NewDomainError("budget", "Validate", ErrValidation, "alert thresholds must be strictly ascending: yellow < orange < red")
	ErrThresholdRange        = NewDomainError("budget", "Validate", ErrValueOutOfRange, "alert thresholds must be between 0 and 100")
	ErrNegativeLimit         = NewDomainError("budget", "Validate", ErrNegativeValue, "budget limit cannot be negative")
	ErrInvalidPeriod         = NewDomainError("budget", "Validate", ErrInvalidInput, "invalid budget period")
	ErrCustomDaysRange       = NewDomainError("budget", "Validate", ErrValueOutOfRange, "custom period days must be between 1 and 365")
	ErrBudgetHidden          = NewDomainError("budget", "View", ErrForbidden, "access denied")
	ErrBudgetModifyDenied    = NewDomainError("budget", "Modify", ErrForbidden, "you do not have permission to modify your budget")
	ErrBudgetResetDenied     = NewDomainError("budget", "Reset", ErrForbidden, "you do not have permission to reset your budget")
	ErrBudgetAdminOnly       = NewDomainError("budget", "Modify", ErrForbidden, "field can only be changed by an administrator")
	ErrCostLedgerUnavailable = NewDomainError("budget", "ReadLedger", ErrServiceUnavailable, "cost ledger is unavailable")
)

// User directory errors
var (
	ErrUserNotFound  = NewDomainError("user", "Find", ErrNotFound, "user not found")
	ErrInvalidUserID = NewDomainError("user", "Validate", ErrInvalidID, "invalid user ID")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsForbidden checks if the error is an authorization failure.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthorized)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
