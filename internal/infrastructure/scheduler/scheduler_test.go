package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lingotutor/gamification-engine/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type funcJob struct {
	name string
	run  func(ctx context.Context) error
	runs atomic.Int32
}

func (j *funcJob) Name() string        { return j.name }
func (j *funcJob) Description() string { return "test job " + j.name }
func (j *funcJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.run == nil {
		return nil
	}
	return j.run(ctx)
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
	err      error
}

func (l *fakeLocker) TryLock(_ context.Context, name string, _ time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
		l.released = append(l.released, name)
		return nil
	}, true, nil
}

func newTestScheduler(mods ...func(*SchedulerConfig)) *Scheduler {
	cfg := DefaultSchedulerConfig()
	cfg.Logger = logger.Discard()
	for _, m := range mods {
		m(&cfg)
	}
	return NewScheduler(cfg)
}

func TestSchedule_Validate(t *testing.T) {
	assert.NoError(t, Every(time.Minute).Validate())
	assert.NoError(t, DailyAt("00:05").Validate())
	assert.NoError(t, DailyAt("23:59").Validate())

	for _, s := range []Schedule{{}, DailyAt("24:00"), DailyAt("7:30"), DailyAt("noon"), {Every: time.Second, DailyAt: "01:00"}} {
		assert.ErrorIs(t, s.Validate(), ErrInvalidSchedule, s.String())
	}
}

func TestScheduler_Register(t *testing.T) {
	s := newTestScheduler()

	assert.ErrorIs(t, s.Register(nil, Every(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&funcJob{name: "a"}, DailyAt("25:00")), ErrInvalidSchedule)

	require.NoError(t, s.Register(&funcJob{name: "a"}, DailyAt("03:00")))
	assert.ErrorIs(t, s.Register(&funcJob{name: "a"}, Every(time.Hour)), ErrJobAlreadyExists)

	info, err := s.GetJobInfo("a")
	require.NoError(t, err)
	assert.Equal(t, "daily at 03:00", info.Schedule)
	assert.Len(t, s.ListJobs(), 1)

	require.NoError(t, s.Unregister("a"))
	assert.ErrorIs(t, s.Unregister("a"), ErrJobNotFound)
	_, err = s.GetJobInfo("a")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestScheduler()
	boom := errors.New("boom")
	ok := &funcJob{name: "ok"}
	bad := &funcJob{name: "bad", run: func(context.Context) error { return boom }}
	require.NoError(t, s.Register(ok, DailyAt("01:00")))
	require.NoError(t, s.Register(bad, DailyAt("01:00")))

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), ok.runs.Load())

	res, err = s.RunNow(context.Background(), "bad")
	require.NoError(t, err, "job errors are reported in the result")
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Error)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.True(t, s.LastRun("ok").Success)
	info, _ := s.GetJobInfo("bad")
	assert.Equal(t, int64(1), info.RunCount)
	assert.Equal(t, int64(1), info.FailCount)

	hist := s.GetHistory(0)
	require.Len(t, hist, 2)
	assert.Equal(t, "bad", hist[0].JobName, "newest first")
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Register(&funcJob{name: "p", run: func(context.Context) error { panic("oops") }}, Every(time.Hour)))

	res, err := s.RunNow(context.Background(), "p")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "oops")
}

func TestScheduler_SkipsOverlappingRun(t *testing.T) {
	s := newTestScheduler()
	started := make(chan struct{})
	release := make(chan struct{})
	job := &funcJob{name: "slow", run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	require.NoError(t, s.Register(job, DailyAt("01:00")))

	done := make(chan *JobResult)
	go func() {
		res, _ := s.RunNow(context.Background(), "slow")
		done <- res
	}()
	<-started

	res, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.True(t, res.Skipped)

	close(release)
	assert.True(t, (<-done).Success)
	assert.Equal(t, int32(1), job.runs.Load())

	info, _ := s.GetJobInfo("slow")
	assert.Equal(t, int64(1), info.SkipCount)
}

func TestScheduler_AppliesTimeout(t *testing.T) {
	s := newTestScheduler(func(c *SchedulerConfig) { c.JobTimeout = 20 * time.Millisecond })
	require.NoError(t, s.Register(&funcJob{name: "hang", run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}, Every(time.Hour)))

	res, err := s.RunNow(context.Background(), "hang")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, context.DeadlineExceeded.Error())
}

func TestScheduler_DistributedLock(t *testing.T) {
	locker := &fakeLocker{held: map[string]bool{}}
	s := newTestScheduler(func(c *SchedulerConfig) { c.Locker = locker })
	job := &funcJob{name: "locked"}
	require.NoError(t, s.Register(job, DailyAt("01:00")))

	_, err := s.RunNow(context.Background(), "locked")
	require.NoError(t, err)
	assert.Equal(t, []string{"job:locked"}, locker.released)

	locker.held["job:locked"] = true
	res, err := s.RunNow(context.Background(), "locked")
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.True(t, res.Skipped)
	assert.Equal(t, int32(1), job.runs.Load())

	delete(locker.held, "job:locked")
	locker.err = errors.New("redis down")
	res, err = s.RunNow(context.Background(), "locked")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "redis down")
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestScheduler()
	job := &funcJob{name: "tick"}
	require.NoError(t, s.Register(job, Every(20*time.Millisecond)))

	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerRunning)
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return job.runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	info, err := s.GetJobInfo("tick")
	require.NoError(t, err)
	assert.False(t, info.NextRun.IsZero())

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestScheduler_StopCancelsActiveRun(t *testing.T) {
	s := newTestScheduler()
	started := make(chan struct{}, 1)
	job := &funcJob{name: "wait", run: func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}}
	require.NoError(t, s.Register(job, Every(time.Hour)))
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	require.NoError(t, s.Stop())

	last := s.LastRun("wait")
	require.NotNil(t, last)
	assert.Contains(t, last.Error, context.Canceled.Error())
}
