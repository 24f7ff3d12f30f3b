package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"FeedRater/internal/domain"
)

type messageHandler struct {
	messages chan string
}

func (h messageHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h messageHandler) Handle(_ context.Context, r slog.Record) error {
	select {
	case h.messages <- r.Message:
	default:
	}
	return nil
}

func (h messageHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h messageHandler) WithGroup(string) slog.Handler      { return h }

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-ch:
			if msg == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestTriggerRunsJob(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler(time.UTC, nil)
	ran := make(chan struct{})
	if err := s.AddJob("cron_retrieve", "Retrieve feeds", "0 3 * * *", func(context.Context) {
		close(ran)
	}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	if err := s.Trigger("cron_retrieve"); err != nil {
		t.Fatalf("Trigger error: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("triggered job did not run")
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}

func TestTriggerUnknownJob(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler(time.UTC, nil)
	if err := s.Trigger("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTriggerSkipsOverlappingRun(t *testing.T) {
	t.Parallel()

	messages := make(chan string, 64)
	s := NewCronScheduler(time.UTC, slog.New(messageHandler{messages: messages}))

	var runs atomic.Int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	if err := s.AddJob("cron_rate", "Rate records", "0 4 * * *", func(context.Context) {
		runs.Add(1)
		started <- struct{}{}
		<-release
	}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	if err := s.Trigger("cron_rate"); err != nil {
		t.Fatalf("first Trigger error: %v", err)
	}
	<-started

	if err := s.Trigger("cron_rate"); err != nil {
		t.Fatalf("second Trigger error: %v", err)
	}
	waitFor(t, messages, "skip")

	close(release)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected a single run, got %d", got)
	}
}

func TestJobsReportNextRun(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+2", 2*60*60)
	s := NewCronScheduler(loc, nil)
	if err := s.AddJob("cron_retrieve", "Retrieve feeds", "0 3 * * *", func(context.Context) {}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if err := s.AddJob("cron_rate", "Rate records", "0 4 * * *", func(context.Context) {}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if err := s.AddJob("cron_rate", "Duplicate", "0 5 * * *", func(context.Context) {}); err == nil {
		t.Fatal("expected duplicate id error")
	}
	if err := s.AddJob("broken", "Broken", "not a spec", func(context.Context) {}); err == nil {
		t.Fatal("expected invalid spec error")
	}

	jobs := s.Jobs()
	if len(jobs) != 2 || jobs[0].ID != "cron_retrieve" || jobs[1].ID != "cron_rate" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
	for _, j := range jobs {
		if j.NextRunTime.IsZero() || !j.NextRunTime.After(time.Now()) {
			t.Fatalf("job %s has no future run time: %v", j.ID, j.NextRunTime)
		}
	}
	if h := jobs[0].NextRunTime.In(loc).Hour(); h != 3 {
		t.Fatalf("expected ingest at 03:00 local, got hour %d", h)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}

func TestTriggerAfterStopIsRefused(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler(time.UTC, nil)
	var runs atomic.Int32
	if err := s.AddJob("cron_rate", "Rate records", "0 4 * * *", func(context.Context) {
		runs.Add(1)
	}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	if err := s.Trigger("cron_rate"); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := s.Trigger("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown job, got %v", err)
	}
	if got := runs.Load(); got != 0 {
		t.Fatalf("expected no runs after stop, got %d", got)
	}
}
