package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"FeedRater/internal/api"
	"FeedRater/internal/config"
	"FeedRater/internal/domain"
	"FeedRater/internal/infrastructure/llm"
	"FeedRater/internal/infrastructure/parser"
	"FeedRater/internal/infrastructure/scheduler"
	"FeedRater/internal/infrastructure/storage"
	"FeedRater/internal/journal"
	"FeedRater/internal/logging"
	"FeedRater/internal/usecase"
	"FeedRater/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

// Application owns every long-lived component of the process.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *sql.DB
	store     *storage.RecordRepository
	ingestor  *usecase.Ingestor
	rater     *usecase.RatingService
	scheduler *usecase.Scheduler
	handler   *api.Handler
}

// New opens storage, applies the schema and wires the components.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	store := storage.NewRecordRepository(db, cfg.Database.Driver, baseLogger.With("component", "storage"))

	registry := journal.NewRegistry(cfg.Journals)
	fetcher := parser.NewHTTPFetcher(&http.Client{Timeout: cfg.Fetch.Timeout}, cfg.Fetch.UserAgent)
	normalizer := parser.NewNormalizer(baseLogger.With("component", "normalizer"))
	source := parser.NewFeedSource(registry, fetcher, normalizer, baseLogger.With("component", "source"))

	scorer := llm.NewClient(cfg.LLM, baseLogger.With("component", "llm"))

	ingestor := usecase.NewIngestor(source, store, baseLogger.With("component", "ingest"))
	rater := usecase.NewRatingService(store, scorer, baseLogger.With("component", "rate"))

	driver := scheduler.NewCronScheduler(cfg.Scheduler.Location(), baseLogger.With("component", "scheduler"))
	sched, err := usecase.NewScheduler(driver, ingestor, rater, cfg.Scheduler, baseLogger.With("component", "jobs"))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("register jobs: %w", err)
	}

	handler := api.NewHandler(api.Deps{
		Config:    cfg,
		Journals:  registry,
		Ingester:  ingestor,
		Rater:     rater,
		Scheduler: sched,
		Records:   store,
		Logger:    baseLogger.With("component", "api"),
	})

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		db:        db,
		store:     store,
		ingestor:  ingestor,
		rater:     rater,
		scheduler: sched,
		handler:   handler,
	}, nil
}

// Run starts the scheduler and the HTTP server and blocks until ctx is
// cancelled or the server fails, then shuts both down.
func (a *Application) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           a.handler.Router(),
		ErrorLog:          logger.New("http", a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("stop scheduler: %w", err))
	}
	a.logger.Info("application stopped")
	return runErr
}

// Ingest runs ingestion once for key, or for every journal when key is
// empty or "all".
func (a *Application) Ingest(ctx context.Context, key string) (map[string]domain.IngestResult, error) {
	if key == "" || key == "all" {
		return a.ingestor.IngestAll(ctx, false)
	}
	res, err := a.ingestor.IngestOne(ctx, key, false)
	if err != nil {
		return nil, err
	}
	return map[string]domain.IngestResult{key: res}, nil
}

// Rate runs one rating batch. A non-empty link rates only that record.
func (a *Application) Rate(ctx context.Context, force bool, link string) (map[string]domain.Rating, error) {
	sel := domain.UnratedSelector()
	if link != "" {
		sel = domain.LinkSelector(link)
	}
	return a.rater.Rate(ctx, sel, force)
}

// Close releases the database handle.
func (a *Application) Close() error {
	return a.db.Close()
}
