package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"FeedRater/internal/domain"
	"FeedRater/internal/ports"
)

// RatingService asks the scorer about stored records and writes the
// verdicts back in a single commit per call.
type RatingService struct {
	store  ports.RecordStore
	scorer ports.Scorer
	logger *slog.Logger
}

var _ ports.Rater = (*RatingService)(nil)

// NewRatingService wires the store with a scorer.
func NewRatingService(store ports.RecordStore, scorer ports.Scorer, log *slog.Logger) *RatingService {
	return &RatingService{store: store, scorer: scorer, logger: log}
}

// Rate scores the records picked by sel. Without rerate, records that
// already carry a score are left alone. The first scoring failure stops the
// batch; verdicts gathered before it are still committed. The result maps
// each selected link to its current comment and score.
func (s *RatingService) Rate(ctx context.Context, sel domain.Selector, rerate bool) (map[string]domain.Rating, error) {
	records, err := s.selectRecords(ctx, sel, rerate)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		if sel.Kind == domain.SelectLink {
			s.warn("no record with link", "link", sel.Link)
		}
		return map[string]domain.Rating{}, nil
	}

	var (
		scored   []domain.Record
		scoreErr error
	)
	for idx := range records {
		rec := &records[idx]
		if !rerate && rec.Rated() {
			continue
		}

		res, err := s.scorer.Score(ctx, *rec)
		if err != nil {
			scoreErr = fmt.Errorf("score %s: %w", rec.Link, err)
			break
		}
		rec.LLMComment = res.Comment
		rec.LLMScore = res.Score
		scored = append(scored, *rec)
		s.debug("record scored", "link", rec.Link, "score", scoreAttr(res.Score))
	}

	if err := s.store.Commit(ctx, scored); err != nil {
		return nil, errors.Join(scoreErr, fmt.Errorf("commit ratings: %w", err))
	}
	if scoreErr != nil {
		s.warn("rating batch aborted", "committed", len(scored), "error", scoreErr)
		return nil, scoreErr
	}

	out := make(map[string]domain.Rating, len(records))
	for _, rec := range records {
		out[rec.Link] = domain.Rating{Comment: rec.LLMComment, Score: rec.LLMScore}
	}
	s.info("rating batch finished", "selected", len(records), "scored", len(scored))
	return out, nil
}

func (s *RatingService) selectRecords(ctx context.Context, sel domain.Selector, rerate bool) ([]domain.Record, error) {
	var (
		records []domain.Record
		err     error
	)
	switch {
	case sel.Kind == domain.SelectLink:
		records, err = s.store.SelectByLink(ctx, sel.Link)
	case rerate || sel.Kind == domain.SelectAll:
		records, err = s.store.SelectAll(ctx)
	default:
		records, err = s.store.SelectUnrated(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	return records, nil
}

func scoreAttr(score *float64) any {
	if score == nil {
		return "none"
	}
	return *score
}

func (s *RatingService) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *RatingService) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *RatingService) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
