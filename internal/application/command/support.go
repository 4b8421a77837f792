package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/timeutil"
)

// newLedgerID returns a time-ordered id for append-only rows.
func newLedgerID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

func orNoTx(tx shared.Transactor) shared.Transactor {
	if tx == nil {
		return shared.NoTx{}
	}
	return tx
}

func orNopPublisher(p shared.EventPublisher) shared.EventPublisher {
	if p == nil {
		return shared.NopPublisher{}
	}
	return p
}

func orSystemClock(c timeutil.Clock) timeutil.Clock {
	if c == nil {
		return timeutil.SystemClock{}
	}
	return c
}

// publishAll publishes events collected inside a committed transaction.
// Publish failures are logged; the write already succeeded.
func publishAll(ctx context.Context, p shared.EventPublisher, log *slog.Logger, events []shared.Event) {
	for _, e := range events {
		if err := p.Publish(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("failed to publish event",
				slog.String("event_type", string(e.EventType())),
				slog.String("aggregate_id", e.AggregateID()),
				logger.Err(err),
			)
		}
	}
}
