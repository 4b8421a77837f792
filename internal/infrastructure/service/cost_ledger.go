package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/budget"
	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/circuitbreaker"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/retry"
)

// GuardedCostLedger wraps a budget.CostLedger with retries and a circuit
// breaker. While the breaker is open reads fail fast with
// shared.ErrCostLedgerUnavailable.
type GuardedCostLedger struct {
	next    budget.CostLedger
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
	logger  *slog.Logger
}

var _ budget.CostLedger = (*GuardedCostLedger)(nil)

// NewGuardedCostLedger creates a new GuardedCostLedger.
func NewGuardedCostLedger(next budget.CostLedger, failureThreshold int, openTimeout time.Duration, log *slog.Logger) *GuardedCostLedger {
	log = logger.OrDefault(log).With(logger.Component("cost_ledger"))
	return &GuardedCostLedger{
		next: next,
		breaker: circuitbreaker.CostLedgerBreaker(failureThreshold, openTimeout, func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}),
		retrier: retry.LedgerRetrier(),
		logger:  log,
	}
}

func (g *GuardedCostLedger) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.retrier.Do(ctx, fn)
	})
	if circuitbreaker.IsRejected(err) {
		return shared.WrapError("budget", op, shared.ErrCostLedgerUnavailable, "cost ledger is unavailable", err)
	}
	return err
}

// SumCost implements budget.CostLedger.
func (g *GuardedCostLedger) SumCost(ctx context.Context, userID string, since time.Time) (float64, error) {
	var total float64
	err := g.call(ctx, "SumCost", func(ctx context.Context) error {
		v, err := g.next.SumCost(ctx, userID, since)
		total = v
		return err
	})
	return total, err
}

// UsageSince implements budget.CostLedger.
func (g *GuardedCostLedger) UsageSince(ctx context.Context, userID string, since time.Time) ([]budget.UsageRecord, error) {
	var records []budget.UsageRecord
	err := g.call(ctx, "UsageSince", func(ctx context.Context) error {
		v, err := g.next.UsageSince(ctx, userID, since)
		records = v
		return err
	})
	return records, err
}

// BreakerState exposes the breaker state for health reporting.
func (g *GuardedCostLedger) BreakerState() circuitbreaker.State {
	return g.breaker.State()
}
