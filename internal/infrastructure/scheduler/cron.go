package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"FeedRater/internal/domain"
	"FeedRater/internal/ports"
)

// CronScheduler runs named jobs on cron expressions. Each job has at most
// one instance in flight, whether started by its schedule or by Trigger.
type CronScheduler struct {
	cron     *cron.Cron
	location *time.Location
	logger   *slog.Logger

	mu      sync.Mutex
	jobs    map[string]registeredJob
	order   []string
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	manual  sync.WaitGroup
}

type registeredJob struct {
	name  string
	entry cron.EntryID
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// ErrStopped is returned by Trigger once the scheduler has been stopped.
var ErrStopped = errors.New("scheduler stopped")

// NewCronScheduler builds a scheduler evaluating expressions in loc.
func NewCronScheduler(loc *time.Location, log *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &CronScheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		location: loc,
		logger:   log,
		jobs:     map[string]registeredJob{},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// AddJob registers run under id with a standard five-field cron spec.
func (s *CronScheduler) AddJob(id, name, spec string, run func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; ok {
		return fmt.Errorf("job %q already registered", id)
	}
	entry, err := s.cron.AddFunc(spec, func() {
		started := time.Now()
		s.info("job started", "job", id)
		run(s.ctx)
		s.info("job finished", "job", id, "elapsed", time.Since(started).Round(time.Millisecond))
	})
	if err != nil {
		return fmt.Errorf("schedule job %q: %w", id, err)
	}
	s.jobs[id] = registeredJob{name: name, entry: entry}
	s.order = append(s.order, id)
	return nil
}

// Start launches the cron loop in its own goroutine.
func (s *CronScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.started = true
	s.cron.Start()
	s.info("scheduler started", "jobs", len(s.order))
	return nil
}

// Stop halts scheduling and waits for running jobs until ctx expires, after
// which the jobs' context is cancelled.
func (s *CronScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.stopped = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if started {
			<-s.cron.Stop().Done()
		}
		s.manual.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}

// Jobs lists registered jobs in registration order.
func (s *CronScheduler) Jobs() []domain.JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.JobInfo, 0, len(s.order))
	now := time.Now().In(s.location)
	for _, id := range s.order {
		job := s.jobs[id]
		e := s.cron.Entry(job.entry)
		next := e.Next
		if next.IsZero() && e.Schedule != nil {
			next = e.Schedule.Next(now)
		}
		out = append(out, domain.JobInfo{ID: id, Name: job.name, NextRunTime: next})
	}
	return out
}

// Trigger runs the job now without waiting for it. A run that overlaps an
// in-flight instance of the same job is skipped. After Stop nothing runs.
func (s *CronScheduler) Trigger(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %q: %w", id, domain.ErrNotFound)
	}
	if s.stopped {
		return fmt.Errorf("job %q: %w", id, ErrStopped)
	}

	e := s.cron.Entry(job.entry)
	if e.WrappedJob == nil {
		return fmt.Errorf("job %q: %w", id, domain.ErrNotFound)
	}

	s.manual.Add(1)
	go func() {
		defer s.manual.Done()
		e.WrappedJob.Run()
	}()
	s.info("job triggered", "job", id)
	return nil
}

func (s *CronScheduler) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

// cronLogger routes the cron library's diagnostics into slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if l.log != nil {
		l.log.Debug(msg, keysAndValues...)
	}
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if l.log != nil {
		l.log.Error(msg, append(keysAndValues, "error", err)...)
	}
}
