package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"FeedRater/internal/domain"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]domain.Record
	order   []string
	commits int
}

func newMemStore(records ...domain.Record) *memStore {
	s := &memStore{records: map[string]domain.Record{}}
	for i, rec := range records {
		rec.ID = fmt.Sprintf("id-%d", i)
		s.records[rec.Link] = rec
		s.order = append(s.order, rec.Link)
	}
	return s
}

func (s *memStore) Ingest(_ context.Context, records []domain.Record, _ bool) (domain.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := domain.IngestResult{All: []string{}, New: []string{}, Existing: []string{}}
	for _, rec := range records {
		res.All = append(res.All, rec.Link)
		if _, ok := s.records[rec.Link]; ok {
			res.Existing = append(res.Existing, rec.Link)
			continue
		}
		rec.ID = fmt.Sprintf("id-%d", len(s.order))
		s.records[rec.Link] = rec
		s.order = append(s.order, rec.Link)
		res.New = append(res.New, rec.Link)
	}
	return res, nil
}

func (s *memStore) selectWhere(keep func(domain.Record) bool) []domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Record
	for _, link := range s.order {
		if rec := s.records[link]; keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (s *memStore) SelectUnrated(context.Context) ([]domain.Record, error) {
	return s.selectWhere(func(r domain.Record) bool { return !r.Rated() }), nil
}

func (s *memStore) SelectAll(context.Context) ([]domain.Record, error) {
	return s.selectWhere(func(domain.Record) bool { return true }), nil
}

func (s *memStore) SelectByLink(_ context.Context, link string) ([]domain.Record, error) {
	return s.selectWhere(func(r domain.Record) bool { return r.Link == link }), nil
}

func (s *memStore) Commit(_ context.Context, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commits++
	for _, rec := range records {
		if _, ok := s.records[rec.Link]; !ok {
			return fmt.Errorf("commit %s: %w", rec.Link, domain.ErrPersistence)
		}
	}
	for _, rec := range records {
		s.records[rec.Link] = rec
	}
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *memStore) get(link string) domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[link]
}

// scriptedScorer returns a score per call and fails on call number failAt
// (1-based) when failAt is positive.
type scriptedScorer struct {
	mu     sync.Mutex
	calls  int
	failAt int
	score  float64
}

func (s *scriptedScorer) Score(_ context.Context, rec domain.Record) (domain.ScoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.failAt > 0 && s.calls == s.failAt {
		return domain.ScoreResult{}, &domain.TransportError{StatusCode: 503, Body: "unavailable"}
	}
	v := s.score + float64(s.calls)
	return domain.ScoreResult{Comment: "about " + rec.Title, Score: &v}, nil
}

type staticSource struct {
	batches map[string][]domain.Record
	fail    map[string]error
}

func (s staticSource) Keys() []string {
	keys := make([]string, 0, len(s.batches)+len(s.fail))
	for k := range s.batches {
		keys = append(keys, k)
	}
	for k := range s.fail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s staticSource) Fetch(_ context.Context, key string) ([]domain.Record, error) {
	if err, ok := s.fail[key]; ok {
		return nil, err
	}
	recs, ok := s.batches[key]
	if !ok {
		return nil, fmt.Errorf("journal %q: %w", key, domain.ErrNotFound)
	}
	return recs, nil
}
