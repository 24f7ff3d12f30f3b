package ports

import (
	"context"

	"FeedRater/internal/domain"
)

// FeedFetcher downloads raw feed bytes.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// RecordSource produces normalized, not yet persisted records per journal.
type RecordSource interface {
	Keys() []string
	Fetch(ctx context.Context, key string) ([]domain.Record, error)
}

// RecordStore persists records deduplicated by link.
type RecordStore interface {
	Ingest(ctx context.Context, records []domain.Record, updateExisting bool) (domain.IngestResult, error)
	SelectUnrated(ctx context.Context) ([]domain.Record, error)
	SelectAll(ctx context.Context) ([]domain.Record, error)
	SelectByLink(ctx context.Context, link string) ([]domain.Record, error)
	Commit(ctx context.Context, records []domain.Record) error
}

// RecordLister serves filtered listings to readers.
type RecordLister interface {
	List(ctx context.Context, filter domain.ListFilter) ([]domain.Record, error)
	Ping(ctx context.Context) error
}

// Scorer asks the language model for a record's relevance.
type Scorer interface {
	Score(ctx context.Context, record domain.Record) (domain.ScoreResult, error)
}

// Ingester runs ingestion for every or a single journal.
type Ingester interface {
	IngestAll(ctx context.Context, updateExisting bool) (map[string]domain.IngestResult, error)
	IngestOne(ctx context.Context, key string, updateExisting bool) (domain.IngestResult, error)
}

// Rater scores stored records.
type Rater interface {
	Rate(ctx context.Context, sel domain.Selector, rerate bool) (map[string]domain.Rating, error)
}

// Scheduler controls when periodic jobs execute.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Jobs() []domain.JobInfo
	Trigger(id string) error
}
