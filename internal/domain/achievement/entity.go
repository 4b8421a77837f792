// Package achievement holds the achievement catalog, the criteria
// evaluator and the catalog reconciliation used at startup.
package achievement

import (
	"time"
)

// Category groups achievements for display.
type Category string

const (
	CategoryCompletion Category = "completion"
	CategoryStreak     Category = "streak"
	CategoryQuality    Category = "quality"
	CategoryEngagement Category = "engagement"
	CategoryLearning   Category = "learning"
)

// Rarity is the display rarity tier.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Achievement is a static definition, keyed by ID.
type Achievement struct {
	ID           string    `json:"achievement_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Category     Category  `json:"category"`
	Rarity       Rarity    `json:"rarity"`
	Icon         string    `json:"icon_url"`
	XPReward     int       `json:"xp_reward"`
	Criteria     Criteria  `json:"criteria"`
	DisplayOrder int       `json:"display_order"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// sameDefinition compares the fields reconciliation owns. IsActive is not
// one of them so operators can retire an achievement in place.
func (a *Achievement) sameDefinition(o *Achievement) bool {
	return a.Name == o.Name &&
		a.Description == o.Description &&
		a.Category == o.Category &&
		a.Rarity == o.Rarity &&
		a.Icon == o.Icon &&
		a.XPReward == o.XPReward &&
		a.DisplayOrder == o.DisplayOrder &&
		a.Criteria.Equal(o.Criteria)
}

// UserAchievement is an unlock record. At most one exists per
// (UserID, AchievementID) and Progress is always 100.
type UserAchievement struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	AchievementID string         `json:"achievement_id"`
	UnlockedAt    time.Time      `json:"unlocked_at"`
	Progress      int            `json:"progress"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Unlocked joins an unlock record with its definition.
type Unlocked struct {
	UserAchievement
	Achievement *Achievement `json:"achievement"`
}

// ProgressView is the read model for get_achievement_progress.
type ProgressView struct {
	Achievement *Achievement `json:"achievement"`
	Unlocked    bool         `json:"unlocked"`
	Progress    int          `json:"progress"`
	UnlockedAt  *time.Time   `json:"unlocked_at"`
}

// UnlockMetadata is attached to unlocks made by event checks.
func UnlockMetadata(trigger Trigger, eventData map[string]any) map[string]any {
	if eventData == nil {
		eventData = map[string]any{}
	}
	return map[string]any{
		"unlocked_via": string(trigger),
		"event_data":   eventData,
	}
}
