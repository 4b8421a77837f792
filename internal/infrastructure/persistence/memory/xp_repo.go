package memory

import (
	"context"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/internal/domain/xp"
)

// XPRepository implements xp.Repository.
type XPRepository struct {
	s *Store
}

var _ xp.Repository = (*XPRepository)(nil)

func (r *XPRepository) Get(_ context.Context, userID string) (*xp.UserXP, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.xp[userID]
	if !ok {
		return nil, shared.ErrUserXPNotFound
	}
	return &u, nil
}

func (r *XPRepository) LockOrCreate(_ context.Context, userID string, now time.Time) (*xp.UserXP, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.xp[userID]
	if !ok {
		u = *xp.NewUserXP(userID, now)
		r.s.xp[userID] = u
	}
	return &u, nil
}

func (r *XPRepository) Save(_ context.Context, u *xp.UserXP) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.xp[u.UserID] = *u
	return nil
}

func (r *XPRepository) AppendTransaction(_ context.Context, tx *xp.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.ledger = append(r.s.ledger, *tx)
	return nil
}

func (r *XPRepository) HasTransaction(_ context.Context, userID, reason, referenceID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, t := range r.s.ledger {
		if t.UserID == userID && t.Reason == reason && t.ReferenceID == referenceID {
			return true, nil
		}
	}
	return false, nil
}

func (r *XPRepository) History(_ context.Context, userID string, limit int, reason string) ([]*xp.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*xp.Transaction{}
	for i := len(r.s.ledger) - 1; i >= 0; i-- {
		t := r.s.ledger[i]
		if t.UserID != userID || (reason != "" && t.Reason != reason) {
			continue
		}
		out = append(out, &t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *XPRepository) Statistics(_ context.Context, userID string) (*xp.Statistics, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.xp[userID]
	if !ok {
		return nil, shared.ErrUserXPNotFound
	}
	u.Normalize()

	st := &xp.Statistics{
		UserID:        userID,
		TotalXP:       u.TotalXP,
		CurrentLevel:  u.CurrentLevel,
		Title:         u.Title,
		XPBySource:    map[string]int{},
		XPToNextLevel: u.XPToNextLevel,
		LevelProgress: u.LevelProgress,
	}
	for _, t := range r.s.ledger {
		if t.UserID != userID {
			continue
		}
		st.TotalTransactions++
		st.XPBySource[t.Reason] += t.Amount
		if t.Amount > 0 {
			st.TotalEarned += t.Amount
		}
	}
	return st, nil
}

// xpSinceLocked sums ledger amounts per user at or after since.
func (s *Store) xpSinceLocked(since time.Time) map[string]int {
	out := make(map[string]int)
	for _, t := range s.ledger {
		if !t.CreatedAt.Before(since) {
			out[t.UserID] += t.Amount
		}
	}
	return out
}
