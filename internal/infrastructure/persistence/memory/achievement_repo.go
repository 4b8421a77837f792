package memory

import (
	"context"
	"sort"

	"github.com/lingotutor/gamification-engine/internal/domain/achievement"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
)

// AchievementRepository implements achievement.Repository.
type AchievementRepository struct {
	s *Store
}

var _ achievement.Repository = (*AchievementRepository)(nil)

func (r *AchievementRepository) ListActive(ctx context.Context) ([]*achievement.Achievement, error) {
	all, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, a := range all {
		if a.IsActive {
			active = append(active, a)
		}
	}
	return active, nil
}

func (r *AchievementRepository) ListAll(_ context.Context) ([]*achievement.Achievement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*achievement.Achievement, 0, len(r.s.achievements))
	for _, a := range r.s.achievements {
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *AchievementRepository) Get(_ context.Context, id string) (*achievement.Achievement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.achievements[id]
	if !ok {
		return nil, shared.ErrAchievementNotFound
	}
	return &a, nil
}

func (r *AchievementRepository) Insert(_ context.Context, a *achievement.Achievement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.achievements[a.ID]; ok {
		return shared.WrapError("achievement", "Insert", shared.ErrAlreadyExists, "achievement "+a.ID+" exists", nil)
	}
	r.s.achievements[a.ID] = *a
	return nil
}

func (r *AchievementRepository) Update(_ context.Context, a *achievement.Achievement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.achievements[a.ID]; !ok {
		return shared.ErrAchievementNotFound
	}
	r.s.achievements[a.ID] = *a
	return nil
}

func (r *AchievementRepository) FindUnlock(_ context.Context, userID, achievementID string) (*achievement.UserAchievement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ua, ok := r.s.unlocks[userID][achievementID]
	if !ok {
		return nil, nil
	}
	return &ua, nil
}

func (r *AchievementRepository) InsertUnlock(_ context.Context, ua *achievement.UserAchievement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	byID, ok := r.s.unlocks[ua.UserID]
	if !ok {
		byID = make(map[string]achievement.UserAchievement)
		r.s.unlocks[ua.UserID] = byID
	}
	if _, dup := byID[ua.AchievementID]; dup {
		return shared.ErrAchievementUnlocked
	}
	byID[ua.AchievementID] = *ua
	return nil
}

func (r *AchievementRepository) ListUnlocked(_ context.Context, userID string) ([]*achievement.Unlocked, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*achievement.Unlocked{}
	for id, ua := range r.s.unlocks[userID] {
		a, ok := r.s.achievements[id]
		if !ok {
			continue
		}
		out = append(out, &achievement.Unlocked{UserAchievement: ua, Achievement: &a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnlockedAt.After(out[j].UnlockedAt) })
	return out, nil
}

func (r *AchievementRepository) CountUnlocked(_ context.Context) (map[string]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[string]int, len(r.s.unlocks))
	for userID, byID := range r.s.unlocks {
		if len(byID) > 0 {
			out[userID] = len(byID)
		}
	}
	return out, nil
}
