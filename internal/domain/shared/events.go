package shared

import (
	"context"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Handlers subscribe to these to chain gamification
// reactions (achievement checks, reward XP) without coupling the writers.
const (
	// XP events
	EventXPAwarded EventType = "xp.awarded"
	EventLevelUp   EventType = "xp.level_up"

	// Streak events
	EventStreakUpdated    EventType = "streak.updated"
	EventStreakFreezeUsed EventType = "streak.freeze_used"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"

	// Leaderboard events
	EventLeaderboardRefreshed EventType = "leaderboard.refreshed"

	// Budget events
	EventBudgetReset EventType = "budget.reset"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped at occurredAt.
func NewBaseEvent(eventType EventType, aggregateID string, occurredAt time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   occurredAt,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Events
// ═══════════════════════════════════════════════════════════════════════════

// XPAwardedEvent is emitted after every committed XP award.
type XPAwardedEvent struct {
	BaseEvent
	Amount      int    `json:"amount"`
	TotalXP     int    `json:"total_xp"`
	Reason      string `json:"reason"`
	ReferenceID string `json:"reference_id,omitempty"`
}

// Payload implements Event interface.
func (e XPAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.AggregateId,
		"amount":       e.Amount,
		"total_xp":     e.TotalXP,
		"reason":       e.Reason,
		"reference_id": e.ReferenceID,
	}
}

// NewXPAwardedEvent creates an XPAwardedEvent.
func NewXPAwardedEvent(userID string, amount, totalXP int, reason, referenceID string, at time.Time) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent:   NewBaseEvent(EventXPAwarded, userID, at),
		Amount:      amount,
		TotalXP:     totalXP,
		Reason:      reason,
		ReferenceID: referenceID,
	}
}

// LevelUpEvent is emitted when an award moves a user to a higher level.
type LevelUpEvent struct {
	BaseEvent
	PreviousLevel int    `json:"previous_level"`
	NewLevel      int    `json:"new_level"`
	Title         string `json:"title"`
	FreezeTokens  int    `json:"freeze_tokens"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.AggregateId,
		"previous_level": e.PreviousLevel,
		"new_level":      e.NewLevel,
		"title":          e.Title,
		"freeze_tokens":  e.FreezeTokens,
	}
}

// NewLevelUpEvent creates a LevelUpEvent.
func NewLevelUpEvent(userID string, previous, current int, title string, freezeTokens int, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent:     NewBaseEvent(EventLevelUp, userID, at),
		PreviousLevel: previous,
		NewLevel:      current,
		Title:         title,
		FreezeTokens:  freezeTokens,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakUpdatedEvent is emitted when update_streak changed the stored streak.
type StreakUpdatedEvent struct {
	BaseEvent
	Action        string `json:"action"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
	FreezeEarned  bool   `json:"freeze_earned"`
	Milestone     int    `json:"milestone,omitempty"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.AggregateId,
		"action":         e.Action,
		"current_streak": e.CurrentStreak,
		"longest_streak": e.LongestStreak,
		"freeze_earned":  e.FreezeEarned,
		"milestone":      e.Milestone,
	}
}

// NewStreakUpdatedEvent creates a StreakUpdatedEvent.
func NewStreakUpdatedEvent(userID, action string, current, longest int, freezeEarned bool, milestone int, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:     NewBaseEvent(EventStreakUpdated, userID, at),
		Action:        action,
		CurrentStreak: current,
		LongestStreak: longest,
		FreezeEarned:  freezeEarned,
		Milestone:     milestone,
	}
}

// StreakFreezeUsedEvent is emitted when a freeze token protected a streak.
type StreakFreezeUsedEvent struct {
	BaseEvent
	CurrentStreak    int `json:"current_streak"`
	FreezesRemaining int `json:"freezes_remaining"`
	TotalFreezesUsed int `json:"total_freezes_used"`
}

// Payload implements Event interface.
func (e StreakFreezeUsedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":            e.AggregateId,
		"current_streak":     e.CurrentStreak,
		"freezes_remaining":  e.FreezesRemaining,
		"total_freezes_used": e.TotalFreezesUsed,
	}
}

// NewStreakFreezeUsedEvent creates a StreakFreezeUsedEvent.
func NewStreakFreezeUsedEvent(userID string, current, remaining, totalUsed int, at time.Time) StreakFreezeUsedEvent {
	return StreakFreezeUsedEvent{
		BaseEvent:        NewBaseEvent(EventStreakFreezeUsed, userID, at),
		CurrentStreak:    current,
		FreezesRemaining: remaining,
		TotalFreezesUsed: totalUsed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted once per (user, achievement) unlock.
type AchievementUnlockedEvent struct {
	BaseEvent
	AchievementID string `json:"achievement_id"`
	Name          string `json:"name"`
	Rarity        string `json:"rarity"`
	XPReward      int    `json:"xp_reward"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.AggregateId,
		"achievement_id": e.AchievementID,
		"name":           e.Name,
		"rarity":         e.Rarity,
		"xp_reward":      e.XPReward,
	}
}

// NewAchievementUnlockedEvent creates an AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(userID, achievementID, name, rarity string, xpReward int, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, userID, at),
		AchievementID: achievementID,
		Name:          name,
		Rarity:        rarity,
		XPReward:      xpReward,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Leaderboard & Budget Events
// ═══════════════════════════════════════════════════════════════════════════

// LeaderboardRefreshedEvent is emitted after a metric's cache rows were rebuilt.
type LeaderboardRefreshedEvent struct {
	BaseEvent
	Metric  string `json:"metric"`
	Entries int    `json:"entries"`
}

// Payload implements Event interface.
func (e LeaderboardRefreshedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"metric":  e.Metric,
		"entries": e.Entries,
	}
}

// NewLeaderboardRefreshedEvent creates a LeaderboardRefreshedEvent.
func NewLeaderboardRefreshedEvent(metric string, entries int, at time.Time) LeaderboardRefreshedEvent {
	return LeaderboardRefreshedEvent{
		BaseEvent: NewBaseEvent(EventLeaderboardRefreshed, "leaderboard:"+metric, at),
		Metric:    metric,
		Entries:   entries,
	}
}

// BudgetResetEvent is emitted when a budget period restarts.
type BudgetResetEvent struct {
	BaseEvent
	ResetType     string  `json:"reset_type"`
	ResetBy       string  `json:"reset_by"`
	PreviousSpent float64 `json:"previous_spent"`
}

// Payload implements Event interface.
func (e BudgetResetEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.AggregateId,
		"reset_type":     e.ResetType,
		"reset_by":       e.ResetBy,
		"previous_spent": e.PreviousSpent,
	}
}

// NewBudgetResetEvent creates a BudgetResetEvent.
func NewBudgetResetEvent(userID, resetType, resetBy string, previousSpent float64, at time.Time) BudgetResetEvent {
	return BudgetResetEvent{
		BaseEvent:     NewBaseEvent(EventBudgetReset, userID, at),
		ResetType:     resetType,
		ResetBy:       resetBy,
		PreviousSpent: previousSpent,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(ctx context.Context, event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }
