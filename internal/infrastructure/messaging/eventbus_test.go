package messaging

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
	"github.com/lingotutor/gamification-engine/pkg/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{Logger: logger.Discard()})
}

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := syncBus()
	defer bus.Close()
	ctx := context.Background()

	var typed, all int
	require.NoError(t, bus.Subscribe(shared.EventXPAwarded, func(context.Context, shared.Event) error {
		typed++
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(context.Context, shared.Event) error {
		all++
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, shared.NewXPAwardedEvent("u1", 10, 10, "test", "", t0)))
	require.NoError(t, bus.Publish(ctx, shared.NewLevelUpEvent("u1", 1, 2, "Beginner", 0, t0)))

	assert.Equal(t, 1, typed)
	assert.Equal(t, 2, all)
	assert.Equal(t, int64(2), bus.Metrics().Snapshot().TotalPublished)
}

func TestInMemoryEventBus_SyncErrorsAndPanics(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	boom := errors.New("boom")
	require.NoError(t, bus.Subscribe(shared.EventXPAwarded, func(context.Context, shared.Event) error { return boom }))
	require.NoError(t, bus.Subscribe(shared.EventXPAwarded, func(context.Context, shared.Event) error { panic("bad handler") }))

	err := bus.Publish(context.Background(), shared.NewXPAwardedEvent("u1", 10, 10, "test", "", t0))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrHandlerPanic)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.HandlerFailures)
	assert.Zero(t, snap.HandlerSuccessRate)
}

func TestInMemoryEventBus_AsyncDetachesFromCaller(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2, Logger: logger.Discard()})

	var delivered, canceled atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventStreakUpdated, func(ctx context.Context, _ shared.Event) error {
		if ctx.Err() != nil {
			canceled.Add(1)
		}
		delivered.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(ctx, shared.NewStreakUpdatedEvent("u1", "incremented", i, i, false, 0, t0)))
	}
	cancel()
	bus.Drain()

	assert.Equal(t, int32(5), delivered.Load())
	assert.Zero(t, canceled.Load())
	require.NoError(t, bus.Close())
}

func TestInMemoryEventBus_TimeoutMiddleware(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{HandlerTimeout: 10 * time.Millisecond, Logger: logger.Discard()})
	defer bus.Close()

	require.NoError(t, bus.Subscribe(shared.EventBudgetReset, func(ctx context.Context, _ shared.Event) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	err := bus.Publish(context.Background(), shared.NewBudgetResetEvent("u1", "manual", "u1", 0, t0))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryEventBus_RetryMiddleware(t *testing.T) {
	bus := syncBus()
	defer bus.Close()
	bus.Use(RetryMiddleware(retry.New(retry.Policy{Attempts: 3, BaseDelay: time.Millisecond, ShouldRetry: func(error) bool { return true }})))

	calls := 0
	require.NoError(t, bus.Subscribe(shared.EventAchievementUnlocked, func(context.Context, shared.Event) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), shared.NewAchievementUnlockedEvent("u1", "a", "A", "common", 10, t0)))
	assert.Equal(t, 3, calls)
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(context.Background(), shared.NewXPAwardedEvent("u1", 1, 1, "t", "", t0)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventXPAwarded, func(context.Context, shared.Event) error { return nil }), ErrEventBusClosed)
	assert.Error(t, bus.Subscribe(shared.EventXPAwarded, nil))
}

// TestRedisEventBus_CrossInstance needs a live server at REDIS_TEST_URL.
func TestRedisEventBus_CrossInstance(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	channel := "test:events:" + t.Name()

	a, err := NewRedisEventBus(ctx, client, syncBus(), RedisEventBusConfig{Channel: channel, Logger: logger.Discard()})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisEventBus(ctx, client, syncBus(), RedisEventBusConfig{Channel: channel, Logger: logger.Discard()})
	require.NoError(t, err)
	defer b.Close()

	var onA, onB atomic.Int32
	got := make(chan shared.Event, 1)
	require.NoError(t, a.Subscribe(shared.EventAchievementUnlocked, func(context.Context, shared.Event) error {
		onA.Add(1)
		return nil
	}))
	require.NoError(t, b.Subscribe(shared.EventAchievementUnlocked, func(_ context.Context, e shared.Event) error {
		onB.Add(1)
		got <- e
		return nil
	}))

	require.NoError(t, a.Publish(ctx, shared.NewAchievementUnlockedEvent("u1", "streak_starter", "Streak Starter", "common", 75, t0)))

	select {
	case e := <-got:
		assert.Equal(t, "u1", e.AggregateID())
		assert.Equal(t, "streak_starter", e.Payload()["achievement_id"])
		assert.Equal(t, float64(75), e.Payload()["xp_reward"])
	case <-time.After(2 * time.Second):
		t.Fatal("remote event not delivered")
	}
	assert.Equal(t, int32(1), onA.Load(), "own event handled once")
	assert.Equal(t, int32(1), onB.Load())
}
