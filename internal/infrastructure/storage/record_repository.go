package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"FeedRater/internal/domain"
	"FeedRater/internal/ports"
)

const (
	recordsTable = "rss_items"
	linkChunk    = 500

	// pgIngestLockKey serializes check-then-insert across Postgres sessions.
	pgIngestLockKey = 0x46524154
)

var recordColumns = []string{
	"id", "title", "link", "summary", "source", "authors",
	"affiliation", "published", "llm_comment", "llm_score",
}

var orderColumns = map[string]bool{
	"published": true,
	"llm_score": true,
	"title":     true,
	"source":    true,
}

// RecordRepository persists records and deduplicates them by link.
type RecordRepository struct {
	db       *sql.DB
	sb       sq.StatementBuilderType
	driver   string
	ingestMu sync.Mutex
	logger   *slog.Logger
}

var (
	_ ports.RecordStore  = (*RecordRepository)(nil)
	_ ports.RecordLister = (*RecordRepository)(nil)
)

// NewRecordRepository wires a sql.DB opened with driver sqlite3 or pgx.
func NewRecordRepository(db *sql.DB, driver string, log *slog.Logger) *RecordRepository {
	var format sq.PlaceholderFormat = sq.Question
	if driver == "pgx" {
		format = sq.Dollar
	}
	return &RecordRepository{
		db:     db,
		sb:     sq.StatementBuilder.PlaceholderFormat(format),
		driver: driver,
		logger: log,
	}
}

// Ingest inserts records whose link is not stored yet. Existing links are
// left untouched; with updateExisting a diagnostic is logged for each of
// them, updating stored rows is not supported.
func (r *RecordRepository) Ingest(ctx context.Context, records []domain.Record, updateExisting bool) (domain.IngestResult, error) {
	result := domain.IngestResult{
		All:      make([]string, 0, len(records)),
		New:      []string{},
		Existing: []string{},
	}
	if len(records) == 0 {
		return result, nil
	}

	links := make([]string, 0, len(records))
	for _, rec := range records {
		result.All = append(result.All, rec.Link)
		links = append(links, rec.Link)
	}

	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()

	tx, err := r.beginWrite(ctx)
	if err != nil {
		return domain.IngestResult{}, err
	}
	defer tx.Rollback()

	stored, err := r.existingLinks(ctx, tx, links)
	if err != nil {
		return domain.IngestResult{}, err
	}

	reported := map[string]bool{}
	for _, rec := range records {
		if stored[rec.Link] {
			if !reported[rec.Link] {
				reported[rec.Link] = true
				result.Existing = append(result.Existing, rec.Link)
			}
			if updateExisting {
				r.warn("updating existing records is not implemented, keeping stored copy", "link", rec.Link)
			}
			continue
		}

		rec.ID = uuid.NewString()
		if err := r.insert(ctx, tx, rec); err != nil {
			return domain.IngestResult{}, err
		}
		stored[rec.Link] = true
		result.New = append(result.New, rec.Link)
		r.debug("stored new record", "link", rec.Link, "id", rec.ID)
	}

	if err := tx.Commit(); err != nil {
		return domain.IngestResult{}, persistErr("commit ingest", err)
	}
	return result, nil
}

// SelectUnrated returns records without a score.
func (r *RecordRepository) SelectUnrated(ctx context.Context) ([]domain.Record, error) {
	return r.selectWhere(ctx, sq.Eq{"llm_score": nil})
}

// SelectAll returns every stored record.
func (r *RecordRepository) SelectAll(ctx context.Context) ([]domain.Record, error) {
	return r.selectWhere(ctx, nil)
}

// SelectByLink returns the records stored under link; normally zero or one.
func (r *RecordRepository) SelectByLink(ctx context.Context, link string) ([]domain.Record, error) {
	return r.selectWhere(ctx, sq.Eq{"link": link})
}

// Commit writes the comment and score of already stored records in one
// transaction. If any record is missing nothing is written.
func (r *RecordRepository) Commit(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin commit", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		query, args, err := r.sb.Update(recordsTable).
			Set("llm_comment", rec.LLMComment).
			Set("llm_score", nullableScore(rec.LLMScore)).
			Where(sq.Eq{"id": rec.ID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return persistErr("update record "+rec.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return persistErr("update record rows", err)
		}
		if affected == 0 {
			return persistErr("update record "+rec.ID, sql.ErrNoRows)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit ratings", err)
	}
	return nil
}

// List returns records matching filter, ordered by the requested column
// and then by publication date, newest first.
func (r *RecordRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Record, error) {
	q := r.sb.Select(recordColumns...).From(recordsTable)
	if len(filter.Sources) > 0 {
		q = q.Where(sq.Eq{"source": filter.Sources})
	}
	if !filter.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"published": filter.Since.UTC()})
	}
	if !filter.Until.IsZero() {
		q = q.Where(sq.LtOrEq{"published": filter.Until.UTC()})
	}
	if orderColumns[filter.OrderBy] {
		dir := "ASC"
		if filter.Desc {
			dir = "DESC"
		}
		q = q.OrderBy(filter.OrderBy + " " + dir)
	}
	q = q.OrderBy("published DESC")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return r.query(ctx, q)
}

// Ping checks the connection.
func (r *RecordRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return persistErr("ping", err)
	}
	return nil
}

func (r *RecordRepository) beginWrite(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr("begin ingest", err)
	}
	if r.driver == "pgx" {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", pgIngestLockKey); err != nil {
			_ = tx.Rollback()
			return nil, persistErr("lock ingest", err)
		}
	}
	return tx, nil
}

func (r *RecordRepository) existingLinks(ctx context.Context, tx *sql.Tx, links []string) (map[string]bool, error) {
	result := make(map[string]bool, len(links))
	for start := 0; start < len(links); start += linkChunk {
		end := min(start+linkChunk, len(links))
		query, args, err := r.sb.Select("link").From(recordsTable).
			Where(sq.Eq{"link": links[start:end]}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("build link query: %w", err)
		}

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, persistErr("query existing links", err)
		}
		for rows.Next() {
			var link string
			if err := rows.Scan(&link); err != nil {
				_ = rows.Close()
				return nil, persistErr("scan link", err)
			}
			result[link] = true
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, persistErr("rows iteration", err)
		}
		if err := rows.Close(); err != nil {
			return nil, persistErr("close rows", err)
		}
	}
	return result, nil
}

func (r *RecordRepository) insert(ctx context.Context, tx *sql.Tx, rec domain.Record) error {
	query, args, err := r.sb.Insert(recordsTable).
		Columns(recordColumns...).
		Values(
			rec.ID, rec.Title, rec.Link, rec.Summary, rec.Source, rec.Authors,
			rec.Affiliation, rec.Published.UTC(), rec.LLMComment, nullableScore(rec.LLMScore),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return persistErr("insert "+rec.Link, err)
	}
	return nil
}

func (r *RecordRepository) selectWhere(ctx context.Context, pred any) ([]domain.Record, error) {
	q := r.sb.Select(recordColumns...).From(recordsTable)
	if pred != nil {
		q = q.Where(pred)
	}
	return r.query(ctx, q.OrderBy("published ASC", "link ASC"))
}

func (r *RecordRepository) query(ctx context.Context, q sq.SelectBuilder) ([]domain.Record, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("select records", err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var (
			rec   domain.Record
			score sql.NullFloat64
		)
		if err := rows.Scan(
			&rec.ID, &rec.Title, &rec.Link, &rec.Summary, &rec.Source, &rec.Authors,
			&rec.Affiliation, &rec.Published, &rec.LLMComment, &score,
		); err != nil {
			return nil, persistErr("scan record", err)
		}
		if score.Valid {
			v := score.Float64
			rec.LLMScore = &v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("rows iteration", err)
	}
	return out, nil
}

func nullableScore(score *float64) sql.NullFloat64 {
	if score == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *score, Valid: true}
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}

func (r *RecordRepository) warn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}

func (r *RecordRepository) debug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
