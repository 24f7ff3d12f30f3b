package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"FeedRater/internal/domain"
	"FeedRater/internal/ports"
)

// Ingestor moves normalized feed records into the deduplicating store.
type Ingestor struct {
	source ports.RecordSource
	store  ports.RecordStore
	logger *slog.Logger
}

var _ ports.Ingester = (*Ingestor)(nil)

// NewIngestor wires a record source with the store.
func NewIngestor(source ports.RecordSource, store ports.RecordStore, log *slog.Logger) *Ingestor {
	return &Ingestor{source: source, store: store, logger: log}
}

// IngestOne fetches one journal and stores its new records. An unknown key
// yields domain.ErrNotFound with nothing written.
func (i *Ingestor) IngestOne(ctx context.Context, key string, updateExisting bool) (domain.IngestResult, error) {
	records, err := i.source.Fetch(ctx, key)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("fetch %s: %w", key, err)
	}

	res, err := i.store.Ingest(ctx, records, updateExisting)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("store %s: %w", key, err)
	}

	i.info("journal ingested", "journal", key, "entries", len(res.All), "new", len(res.New), "existing", len(res.Existing))
	return res, nil
}

// IngestAll ingests every configured journal. A failing journal is logged
// and reported in the joined error while the remaining ones still run; the
// map holds results for the journals that succeeded.
func (i *Ingestor) IngestAll(ctx context.Context, updateExisting bool) (map[string]domain.IngestResult, error) {
	results := make(map[string]domain.IngestResult)
	var errs []error
	for _, key := range i.source.Keys() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		res, err := i.IngestOne(ctx, key, updateExisting)
		if err != nil {
			i.warn("journal ingestion failed", "journal", key, "error", err)
			errs = append(errs, err)
			continue
		}
		results[key] = res
	}
	return results, errors.Join(errs...)
}

func (i *Ingestor) info(msg string, args ...any) {
	if i.logger != nil {
		i.logger.Info(msg, args...)
	}
}

func (i *Ingestor) warn(msg string, args ...any) {
	if i.logger != nil {
		i.logger.Warn(msg, args...)
	}
}
