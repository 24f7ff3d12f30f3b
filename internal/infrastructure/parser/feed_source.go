package parser

import (
	"context"
	"fmt"
	"log/slog"

	"FeedRater/internal/domain"
	"FeedRater/internal/journal"
	"FeedRater/internal/ports"
)

// FeedSource implements ports.RecordSource by fetching and normalizing
// configured journals.
type FeedSource struct {
	registry   *journal.Registry
	fetcher    ports.FeedFetcher
	normalizer *Normalizer
	logger     *slog.Logger
}

var _ ports.RecordSource = (*FeedSource)(nil)

// NewFeedSource wires the journal registry with a fetcher and normalizer.
func NewFeedSource(reg *journal.Registry, fetcher ports.FeedFetcher, normalizer *Normalizer, log *slog.Logger) *FeedSource {
	return &FeedSource{
		registry:   reg,
		fetcher:    fetcher,
		normalizer: normalizer,
		logger:     log,
	}
}

// Keys lists the configured journal keys.
func (s *FeedSource) Keys() []string {
	return s.registry.Keys()
}

// Fetch downloads the journal's feed and returns its normalized records.
// An unknown key yields domain.ErrNotFound.
func (s *FeedSource) Fetch(ctx context.Context, key string) ([]domain.Record, error) {
	j, err := s.registry.Resolve(key)
	if err != nil {
		return nil, err
	}

	s.debug("fetch journal", "journal", key, "url", j.Mapping.FeedURL)
	raw, err := s.fetcher.Fetch(ctx, j.Mapping.FeedURL)
	if err != nil {
		return nil, fmt.Errorf("journal %s: %w", key, err)
	}

	records, err := s.normalizer.Normalize(raw, j.Mapping)
	if err != nil {
		return nil, fmt.Errorf("journal %s: %w", key, err)
	}
	return records, nil
}

func (s *FeedSource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
