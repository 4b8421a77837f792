package memory

import (
	"context"
	"sort"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/budget"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
)

// BudgetRepository implements budget.Repository and budget.CostLedger.
type BudgetRepository struct {
	s *Store
}

var (
	_ budget.Repository = (*BudgetRepository)(nil)
	_ budget.CostLedger = (*BudgetRepository)(nil)
)

func (r *BudgetRepository) Get(_ context.Context, userID string) (*budget.Settings, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st, ok := r.s.budgets[userID]
	if !ok {
		return nil, shared.ErrBudgetNotFound
	}
	return &st, nil
}

func (r *BudgetRepository) LockOrCreate(_ context.Context, defaults *budget.Settings) (*budget.Settings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	st, ok := r.s.budgets[defaults.UserID]
	if !ok {
		st = *defaults
		r.s.budgets[defaults.UserID] = st
	}
	return &st, nil
}

func (r *BudgetRepository) Save(_ context.Context, st *budget.Settings) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.budgets[st.UserID] = *st
	return nil
}

func (r *BudgetRepository) List(_ context.Context) ([]*budget.Settings, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*budget.Settings, 0, len(r.s.budgets))
	for _, st := range r.s.budgets {
		st := st
		out = append(out, &st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *BudgetRepository) DueForRollover(_ context.Context, now time.Time) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var due []string
	for id, st := range r.s.budgets {
		if st.NeedsRollover(now) {
			due = append(due, id)
		}
	}
	sort.Strings(due)
	return due, nil
}

func (r *BudgetRepository) InsertResetLog(_ context.Context, l *budget.ResetLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.resetLog = append(r.s.resetLog, *l)
	return nil
}

func (r *BudgetRepository) ResetHistory(_ context.Context, userID string, limit int) ([]*budget.ResetLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*budget.ResetLog{}
	for i := len(r.s.resetLog) - 1; i >= 0; i-- {
		l := r.s.resetLog[i]
		if l.UserID != userID {
			continue
		}
		out = append(out, &l)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// SumCost implements budget.CostLedger.
func (r *BudgetRepository) SumCost(_ context.Context, userID string, since time.Time) (float64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var total float64
	for _, rec := range r.s.usage[userID] {
		if !rec.CreatedAt.Before(since) {
			total += rec.Cost
		}
	}
	return total, nil
}

// UsageSince implements budget.CostLedger.
func (r *BudgetRepository) UsageSince(_ context.Context, userID string, since time.Time) ([]budget.UsageRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []budget.UsageRecord{}
	for _, rec := range r.s.usage[userID] {
		if !rec.CreatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}
