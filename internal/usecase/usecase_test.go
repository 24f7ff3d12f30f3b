package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"FeedRater/internal/config"
	"FeedRater/internal/domain"
)

func records(n int) []domain.Record {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	out := make([]domain.Record, n)
	for i := range out {
		out[i] = domain.Record{
			Title:     fmt.Sprintf("Paper %d", i+1),
			Link:      fmt.Sprintf("https://example.org/%d", i+1),
			Source:    "PoP",
			Published: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestIngestAllIsolatesFailingJournal(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	source := staticSource{
		batches: map[string][]domain.Record{"apj": records(2), "pop": records(3)},
		fail:    map[string]error{"broken": errors.New("HTTP 500")},
	}
	ing := NewIngestor(source, store, nil)

	results, err := ing.IngestAll(context.Background(), false)
	if err == nil {
		t.Fatal("expected error from failing journal")
	}
	if len(results) != 2 {
		t.Fatalf("expected results for 2 journals, got %d", len(results))
	}
	if store.count() != 3 {
		t.Fatalf("expected 3 stored records, got %d", store.count())
	}
	if got := len(results["apj"].New) + len(results["pop"].New); got != 3 {
		t.Fatalf("expected 3 new links overall, got %d", got)
	}
}

func TestIngestOneTwiceAddsNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	ing := NewIngestor(staticSource{batches: map[string][]domain.Record{"pop": records(3)}}, store, nil)

	if _, err := ing.IngestOne(ctx, "pop", false); err != nil {
		t.Fatalf("first IngestOne error: %v", err)
	}
	res, err := ing.IngestOne(ctx, "pop", false)
	if err != nil {
		t.Fatalf("second IngestOne error: %v", err)
	}
	if len(res.New) != 0 || len(res.Existing) != 3 || store.count() != 3 {
		t.Fatalf("unexpected second ingest: %+v (stored %d)", res, store.count())
	}

	if _, err := ing.IngestOne(ctx, "nature", false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRateUnratedIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore(records(3)...)
	scorer := &scriptedScorer{}
	rater := NewRatingService(store, scorer, nil)

	first, err := rater.Rate(ctx, domain.UnratedSelector(), false)
	if err != nil {
		t.Fatalf("Rate error: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 ratings, got %d", len(first))
	}
	for link, r := range first {
		if r.Score == nil {
			t.Fatalf("record %s left unscored", link)
		}
	}

	second, err := rater.Rate(ctx, domain.UnratedSelector(), false)
	if err != nil {
		t.Fatalf("second Rate error: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected empty second run, got %+v", second)
	}
	if scorer.calls != 3 {
		t.Fatalf("expected 3 scorer calls, got %d", scorer.calls)
	}
}

func TestRateRerateOverwritesScores(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore(records(2)...)
	scorer := &scriptedScorer{}
	rater := NewRatingService(store, scorer, nil)

	if _, err := rater.Rate(ctx, domain.UnratedSelector(), false); err != nil {
		t.Fatalf("Rate error: %v", err)
	}
	scorer.score = 100
	got, err := rater.Rate(ctx, domain.UnratedSelector(), true)
	if err != nil {
		t.Fatalf("rerate error: %v", err)
	}
	if len(got) != 2 || scorer.calls != 4 {
		t.Fatalf("expected 2 rerated records and 4 calls, got %d and %d", len(got), scorer.calls)
	}
	for link, r := range got {
		if r.Score == nil || *r.Score < 100 {
			t.Fatalf("record %s kept stale score %v", link, r.Score)
		}
		if stored := store.get(link); stored.LLMScore == nil || *stored.LLMScore != *r.Score {
			t.Fatalf("record %s not persisted with latest score", link)
		}
	}
}

func TestRateTransportFailureCommitsPriorScores(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	recs := records(5)
	store := newMemStore(recs...)
	rater := NewRatingService(store, &scriptedScorer{failAt: 3}, nil)

	_, err := rater.Rate(ctx, domain.UnratedSelector(), false)
	var terr *domain.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if store.commits != 1 {
		t.Fatalf("expected exactly one commit, got %d", store.commits)
	}

	for i, rec := range recs {
		stored := store.get(rec.Link)
		if i < 2 && !stored.Rated() {
			t.Fatalf("record %d should be committed with a score", i+1)
		}
		if i >= 2 && stored.Rated() {
			t.Fatalf("record %d should stay unscored", i+1)
		}
	}

	unrated, _ := store.SelectUnrated(ctx)
	if len(unrated) != 3 {
		t.Fatalf("expected 3 unrated records, got %d", len(unrated))
	}
}

func TestRateByLink(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore(records(3)...)
	scorer := &scriptedScorer{}
	rater := NewRatingService(store, scorer, nil)

	got, err := rater.Rate(ctx, domain.LinkSelector("https://example.org/2"), false)
	if err != nil {
		t.Fatalf("Rate error: %v", err)
	}
	if len(got) != 1 || got["https://example.org/2"].Score == nil {
		t.Fatalf("unexpected result: %+v", got)
	}

	again, err := rater.Rate(ctx, domain.LinkSelector("https://example.org/2"), false)
	if err != nil {
		t.Fatalf("Rate error: %v", err)
	}
	if len(again) != 1 || scorer.calls != 1 {
		t.Fatalf("already rated record should be returned without rescoring: %+v, calls %d", again, scorer.calls)
	}

	missing, err := rater.Rate(ctx, domain.LinkSelector("https://example.org/none"), true)
	if err != nil {
		t.Fatalf("missing link should not be an error: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected empty result, got %+v", missing)
	}
}

func TestRateCommitFailureSurfaces(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	rater := NewRatingService(ghostStore{store}, &scriptedScorer{}, nil)
	if _, err := rater.Rate(context.Background(), domain.UnratedSelector(), false); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

// ghostStore returns a record from selection that Commit cannot find.
type ghostStore struct {
	*memStore
}

func (g ghostStore) SelectUnrated(context.Context) ([]domain.Record, error) {
	return []domain.Record{{ID: "ghost", Link: "https://example.org/ghost"}}, nil
}

type fakeDriver struct {
	mu    sync.Mutex
	specs map[string]string
	runs  map[string]func(context.Context)
}

func (d *fakeDriver) AddJob(id, _, spec string, run func(context.Context)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.specs == nil {
		d.specs = map[string]string{}
		d.runs = map[string]func(context.Context){}
	}
	d.specs[id] = spec
	d.runs[id] = run
	return nil
}

func (d *fakeDriver) Start(context.Context) error { return nil }
func (d *fakeDriver) Stop(context.Context) error  { return nil }
func (d *fakeDriver) Jobs() []domain.JobInfo      { return nil }

func (d *fakeDriver) Trigger(id string) error {
	d.mu.Lock()
	run, ok := d.runs[id]
	d.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	run(context.Background())
	return nil
}

func TestSchedulerRegistersDailyJobs(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	ing := NewIngestor(staticSource{batches: map[string][]domain.Record{"pop": records(2)}}, store, nil)
	scorer := &scriptedScorer{}
	rater := NewRatingService(store, scorer, nil)
	driver := &fakeDriver{}

	s, err := NewScheduler(driver, ing, rater, config.SchedulerConfig{IngestHour: 3, RateHour: 4}, nil)
	if err != nil {
		t.Fatalf("NewScheduler error: %v", err)
	}
	if driver.specs[IngestJobID] != "0 3 * * *" || driver.specs[RateJobID] != "0 4 * * *" {
		t.Fatalf("unexpected specs: %+v", driver.specs)
	}

	if err := s.Trigger(IngestJobID); err != nil {
		t.Fatalf("Trigger ingest error: %v", err)
	}
	if err := s.Trigger(RateJobID); err != nil {
		t.Fatalf("Trigger rate error: %v", err)
	}
	if store.count() != 2 || scorer.calls != 2 {
		t.Fatalf("expected 2 stored and 2 scored, got %d and %d", store.count(), scorer.calls)
	}
	if err := s.Trigger("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
