// Package scheduler runs pipeline jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/abelbrown/curiosity/internal/logging"
)

// DefaultJobTimeout bounds a single job execution.
const DefaultJobTimeout = 30 * time.Minute

// Job represents a scheduled task
type Job func(ctx context.Context) error

// Scheduler manages periodic tasks. A job that is still running when its
// next tick arrives is skipped rather than run concurrently.
type Scheduler struct {
	cron     *cron.Cron
	timezone *time.Location
	timeout  time.Duration

	mu   sync.Mutex
	jobs map[string]cron.EntryID
	base context.Context
}

// New creates a new scheduler with the given timezone
func New(timezone string) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)

	return &Scheduler{
		cron:     c,
		timezone: loc,
		timeout:  DefaultJobTimeout,
		jobs:     make(map[string]cron.EntryID),
		base:     context.Background(),
	}, nil
}

// SetJobTimeout changes the per-run timeout. Zero or less disables it.
func (s *Scheduler) SetJobTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// AddJob adds a job with a cron schedule
// schedule format: "0 6 * * 1" (Mondays at 06:00)
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already scheduled", name)
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunNow(name, job); err != nil {
			logging.Error("scheduled job failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = entryID
	logging.Info("scheduler: added job", "job", name, "schedule", schedule, "tz", s.timezone)
	return nil
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		logging.Info("scheduler: removed job", "job", name)
	}
}

// Start begins running scheduled jobs. Jobs run under ctx; cancelling it
// cancels in-flight jobs but does not stop the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	logging.Info("scheduler: starting")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	logging.Info("scheduler: stopping")
	return s.cron.Stop()
}

// RunNow immediately executes a job with the scheduler's timeout.
func (s *Scheduler) RunNow(name string, job Job) error {
	s.mu.Lock()
	base, timeout := s.base, s.timeout
	s.mu.Unlock()

	ctx := base
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(base, timeout)
		defer cancel()
	}

	logging.Info("scheduler: job starting", "job", name)
	start := time.Now()
	err := job(ctx)
	if err == nil {
		logging.Info("scheduler: job completed", "job", name, "dur", time.Since(start))
	}
	return err
}

// ListJobs returns info about scheduled jobs
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	infos := make([]JobInfo, 0, len(s.jobs))

	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{
					Name:    name,
					NextRun: entry.Next,
					LastRun: entry.Prev,
				})
				break
			}
		}
	}

	return infos
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}

// NextRun returns when schedule next fires after from, evaluated in the
// scheduler's timezone.
func (s *Scheduler) NextRun(schedule string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return sched.Next(from.In(s.timezone)), nil
}

// cronLogger routes cron's own logging through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
