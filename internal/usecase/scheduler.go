package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"FeedRater/internal/config"
	"FeedRater/internal/domain"
	"FeedRater/internal/ports"
)

const (
	IngestJobID = "cron_retrieve"
	RateJobID   = "cron_rate"
)

// JobDriver is a scheduler that accepts cron-spec jobs.
type JobDriver interface {
	ports.Scheduler
	AddJob(id, name, spec string, run func(ctx context.Context)) error
}

// Scheduler binds the periodic ingestion and rating jobs to a driver.
type Scheduler struct {
	driver JobDriver
	logger *slog.Logger
}

var _ ports.Scheduler = (*Scheduler)(nil)

// NewScheduler registers the daily ingestion job at cfg.IngestHour and the
// daily rating job at cfg.RateHour.
func NewScheduler(driver JobDriver, ingester ports.Ingester, rater ports.Rater, cfg config.SchedulerConfig, log *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{driver: driver, logger: log}

	ingest := func(ctx context.Context) {
		if _, err := ingester.IngestAll(ctx, false); err != nil {
			s.logError("scheduled ingestion finished with errors", "error", err)
		}
	}
	if err := driver.AddJob(IngestJobID, "Retrieve feeds", dailySpec(cfg.IngestHour), ingest); err != nil {
		return nil, fmt.Errorf("register ingestion job: %w", err)
	}

	rate := func(ctx context.Context) {
		if _, err := rater.Rate(ctx, domain.UnratedSelector(), false); err != nil {
			s.logError("scheduled rating failed", "error", err)
		}
	}
	if err := driver.AddJob(RateJobID, "Rate unrated records", dailySpec(cfg.RateHour), rate); err != nil {
		return nil, fmt.Errorf("register rating job: %w", err)
	}

	return s, nil
}

// Start begins the periodic schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.driver.Start(ctx)
}

// Stop tears down the underlying driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	return s.driver.Stop(ctx)
}

// Jobs lists the registered jobs with their next run.
func (s *Scheduler) Jobs() []domain.JobInfo {
	return s.driver.Jobs()
}

// Trigger starts job id immediately without waiting for it.
func (s *Scheduler) Trigger(id string) error {
	return s.driver.Trigger(id)
}

func dailySpec(hour int) string {
	return fmt.Sprintf("0 %d * * *", hour)
}

func (s *Scheduler) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
