// Package scheduler runs the worker's periodic jobs on top of gocron.
// Every run gets a timeout, overlapping runs of the same job are skipped,
// and an optional distributed lock keeps two workers from running the same
// job at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/lingotutor/gamification-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job. The context carries the per-run timeout and is
	// cancelled when the scheduler stops.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// Schedule says when a job runs: every fixed interval, or once a day at
// a wall-clock time in the scheduler's timezone.
type Schedule struct {
	Every   time.Duration
	DailyAt string // "HH:MM"
}

var dailyAtRegex = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Every returns an interval schedule.
func Every(d time.Duration) Schedule { return Schedule{Every: d} }

// DailyAt returns a once-a-day schedule.
func DailyAt(hhmm string) Schedule { return Schedule{DailyAt: hhmm} }

// Validate checks that exactly one form is set and well formed.
func (s Schedule) Validate() error {
	switch {
	case s.Every > 0 && s.DailyAt != "":
		return fmt.Errorf("%w: both interval and daily time set", ErrInvalidSchedule)
	case s.Every > 0:
		return nil
	case dailyAtRegex.MatchString(s.DailyAt):
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidSchedule, s.String())
}

func (s Schedule) String() string {
	if s.DailyAt != "" {
		return "daily at " + s.DailyAt
	}
	return "every " + s.Every.String()
}

// Locker hands out named, expiring locks shared between processes.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string        `json:"job_name"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	Skipped     bool          `json:"skipped,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrNilJob              = errors.New("scheduler: job cannot be nil")
	ErrInvalidSchedule     = errors.New("scheduler: invalid schedule")
	ErrJobAlreadyExists    = errors.New("scheduler: job already registered")
	ErrJobNotFound         = errors.New("scheduler: job not found")
	ErrJobRunning          = errors.New("scheduler: job is already running")
	ErrSchedulerRunning    = errors.New("scheduler: already running")
	ErrSchedulerNotRunning = errors.New("scheduler: not running")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler manages and executes scheduled jobs.
type Scheduler struct {
	mu sync.RWMutex

	cron       *gocron.Scheduler
	logger     *slog.Logger
	timezone   *time.Location
	jobTimeout time.Duration
	locker     Locker
	maxHistory int

	jobs       map[string]*scheduledJob
	running    bool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	lastRuns   map[string]*JobResult
	runHistory []JobResult
}

type scheduledJob struct {
	job      Job
	schedule Schedule
	cronJob  *gocron.Job
	active   atomic.Bool

	runCount  int64
	failCount int64
	skipCount int64
	lastRun   time.Time
}

// SchedulerConfig contains configuration for the Scheduler.
type SchedulerConfig struct {
	Logger *slog.Logger

	// Timezone for daily schedules (default: UTC).
	Timezone *time.Location

	// JobTimeout bounds every run (default: 5m).
	JobTimeout time.Duration

	// Locker, when set, takes a lock named after the job before each run.
	Locker Locker

	// MaxHistorySize is the maximum number of job results to keep in history.
	MaxHistorySize int
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Timezone:       time.UTC,
		JobTimeout:     5 * time.Minute,
		MaxHistorySize: 200,
	}
}

// NewScheduler creates a new Scheduler with the given configuration.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = 200
	}

	return &Scheduler{
		cron:       gocron.NewScheduler(config.Timezone),
		logger:     logger.OrDefault(config.Logger).With(logger.Component("scheduler")),
		timezone:   config.Timezone,
		jobTimeout: config.JobTimeout,
		locker:     config.Locker,
		maxHistory: config.MaxHistorySize,
		jobs:       make(map[string]*scheduledJob),
		lastRuns:   make(map[string]*JobResult),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// JOB REGISTRATION
// ══════════════════════════════════════════════════════════════════════════════

// Register adds a job with the given schedule. Interval jobs first fire
// when the scheduler starts; daily jobs wait for their time.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if err := schedule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	sj := &scheduledJob{job: job, schedule: schedule}

	var builder *gocron.Scheduler
	if schedule.DailyAt != "" {
		builder = s.cron.Every(1).Day().At(schedule.DailyAt)
	} else {
		builder = s.cron.Every(schedule.Every)
	}
	cronJob, err := builder.Tag(name).SingletonMode().Do(s.trigger, sj)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, name, err)
	}
	sj.cronJob = cronJob
	s.jobs[name] = sj

	s.logger.Info("job registered",
		slog.String("job", name),
		slog.String("description", job.Description()),
		slog.String("schedule", schedule.String()),
	)
	return nil
}

// Unregister removes a job from the scheduler.
func (s *Scheduler) Unregister(jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobName]; !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	if err := s.cron.RemoveByTag(jobName); err != nil {
		return err
	}
	delete(s.jobs, jobName)
	s.logger.Info("job unregistered", slog.String("job", jobName))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start begins firing jobs. Runs are cancelled when ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.cron.StartAsync()

	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

// Stop stops firing jobs, cancels active runs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.cron.Stop()
	s.wg.Wait()

	s.logger.Info("scheduler stopped")
	return nil
}

// IsRunning reports whether the scheduler has been started.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTION
// ══════════════════════════════════════════════════════════════════════════════

// trigger is what gocron calls.
func (s *Scheduler) trigger(sj *scheduledJob) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	_, _ = s.execute(ctx, sj)
}

// RunNow executes a job synchronously, outside its schedule. It returns
// ErrJobRunning when a run is already active.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (*JobResult, error) {
	s.mu.RLock()
	sj, ok := s.jobs[jobName]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}

	result, ran := s.execute(ctx, sj)
	if !ran {
		return result, ErrJobRunning
	}
	return result, nil
}

// execute runs sj once. ran is false when the run was skipped because the
// job is active here or its lock is held elsewhere.
func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob) (result *JobResult, ran bool) {
	name := sj.job.Name()
	startedAt := time.Now()

	if !sj.active.CompareAndSwap(false, true) {
		s.logger.Warn("previous run still active, skipping", slog.String("job", name))
		return s.recordSkip(sj, startedAt), false
	}
	defer sj.active.Store(false)

	runCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(runCtx, "job:"+name, s.jobTimeout)
		if err != nil {
			s.logger.Error("job lock failed", slog.String("job", name), logger.Err(err))
			return s.record(sj, startedAt, fmt.Errorf("lock: %w", err)), true
		}
		if !ok {
			s.logger.Info("job locked by another instance, skipping", slog.String("job", name))
			return s.recordSkip(sj, startedAt), false
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("job unlock failed", slog.String("job", name), logger.Err(err))
			}
		}()
	}

	s.logger.Info("job started", slog.String("job", name))
	err := s.runSafely(runCtx, sj.job)
	return s.record(sj, startedAt, err), true
}

func (s *Scheduler) runSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}

func (s *Scheduler) record(sj *scheduledJob, startedAt time.Time, err error) *JobResult {
	completedAt := time.Now()
	result := JobResult{
		JobName:     sj.job.Name(),
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    completedAt.Sub(startedAt),
		Success:     err == nil,
	}
	if err != nil {
		result.Error = err.Error()
		s.logger.Error("job failed",
			slog.String("job", result.JobName),
			slog.Duration("duration", result.Duration),
			logger.Err(err),
		)
	} else {
		s.logger.Info("job completed",
			slog.String("job", result.JobName),
			slog.Duration("duration", result.Duration),
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sj.runCount++
	sj.lastRun = startedAt
	if err != nil {
		sj.failCount++
	}
	s.lastRuns[result.JobName] = &result
	s.addToHistory(result)
	return &result
}

func (s *Scheduler) recordSkip(sj *scheduledJob, at time.Time) *JobResult {
	result := JobResult{JobName: sj.job.Name(), StartedAt: at, CompletedAt: at, Skipped: true}

	s.mu.Lock()
	defer s.mu.Unlock()
	sj.skipCount++
	s.addToHistory(result)
	return &result
}

// addToHistory appends under s.mu, dropping the oldest entries.
func (s *Scheduler) addToHistory(result JobResult) {
	s.runHistory = append(s.runHistory, result)
	if over := len(s.runHistory) - s.maxHistory; over > 0 {
		s.runHistory = append(s.runHistory[:0], s.runHistory[over:]...)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// INTROSPECTION
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo describes a registered job.
type JobInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Schedule    string    `json:"schedule"`
	Active      bool      `json:"active"`
	LastRun     time.Time `json:"last_run,omitempty"`
	NextRun     time.Time `json:"next_run,omitempty"`
	RunCount    int64     `json:"run_count"`
	FailCount   int64     `json:"fail_count"`
	SkipCount   int64     `json:"skip_count"`
}

// ListJobs returns info on every registered job.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, sj := range s.jobs {
		out = append(out, s.infoLocked(sj))
	}
	return out
}

// GetJobInfo returns info on one job.
func (s *Scheduler) GetJobInfo(jobName string) (*JobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sj, ok := s.jobs[jobName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	info := s.infoLocked(sj)
	return &info, nil
}

func (s *Scheduler) infoLocked(sj *scheduledJob) JobInfo {
	info := JobInfo{
		Name:        sj.job.Name(),
		Description: sj.job.Description(),
		Schedule:    sj.schedule.String(),
		Active:      sj.active.Load(),
		LastRun:     sj.lastRun,
		RunCount:    sj.runCount,
		FailCount:   sj.failCount,
		SkipCount:   sj.skipCount,
	}
	if s.running && sj.cronJob != nil {
		info.NextRun = sj.cronJob.NextRun()
	}
	return info
}

// LastRun returns the latest completed run of a job, or nil.
func (s *Scheduler) LastRun(jobName string) *JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.lastRuns[jobName]; ok {
		cp := *r
		return &cp
	}
	return nil
}

// GetHistory returns up to limit recent results, newest first.
func (s *Scheduler) GetHistory(limit int) []JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.runHistory)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]JobResult, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.runHistory[i])
	}
	return out
}
