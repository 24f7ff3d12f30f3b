package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"FeedRater/internal/config"
	"FeedRater/internal/domain"
	"FeedRater/internal/journal"
	"FeedRater/internal/ports"
)

const (
	defaultLimit   = 100
	defaultOrderBy = "llm_score"
	defaultWindow  = 7 * 24 * time.Hour
)

// Deps lists what the route layer calls into.
type Deps struct {
	Config    config.Config
	Journals  *journal.Registry
	Ingester  ports.Ingester
	Rater     ports.Rater
	Scheduler ports.Scheduler
	Records   ports.RecordLister
	Logger    *slog.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	deps Deps
	now  func() time.Time
}

// NewHandler builds the handler set.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps, now: time.Now}
}

// Router returns a gin engine with every route mounted under the
// configured base URL.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.deps.Logger))
	r.GET("/healthz", h.health)

	base := strings.TrimRight(h.deps.Config.Server.BaseURL, "/")
	h.RegisterRoutes(r.Group(base))
	return r
}

// RegisterRoutes mounts the API on rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	admin := DigestAuth(h.deps.Config.Admin, h.deps.Logger)

	rss := rg.Group("/api/rss")
	rss.GET("", h.listRecords)
	rss.GET("/sources", h.sources)
	rss.GET("/llm_prompt", h.llmPrompt)
	rss.GET("/update", admin, h.update)
	rss.GET("/rate", admin, h.rate)

	crons := rg.Group("/api/crons")
	crons.GET("", h.jobs)
	crons.GET("/:id/now", admin, h.triggerJob)

	rg.GET("/api/config", admin, h.showConfig)
}

type recordView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Summary     string    `json:"summary"`
	Source      string    `json:"source"`
	Authors     string    `json:"authors"`
	Affiliation string    `json:"affiliation"`
	Published   time.Time `json:"published"`
	LLMComment  string    `json:"llm_comment"`
	LLMScore    *float64  `json:"llm_score"`
}

func (h *Handler) listRecords(c *gin.Context) {
	now := h.now().UTC()
	since, err := parseTimeBound(c.Query("time_since"), now, now.Add(-defaultWindow))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "time_since: " + err.Error()})
		return
	}
	until, err := parseTimeBound(c.Query("time_until"), now, now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "time_until: " + err.Error()})
		return
	}
	limit, err := queryInt(c, "max_number", defaultLimit)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_number must be a positive integer"})
		return
	}
	desc, err := queryBool(c, "desc", true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "desc must be a boolean"})
		return
	}

	filter := domain.ListFilter{
		Sources: c.QueryArray("journal"),
		Since:   since,
		Until:   until,
		Limit:   limit,
		OrderBy: c.DefaultQuery("order_by", defaultOrderBy),
		Desc:    desc,
	}
	records, err := h.deps.Records.List(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}

	out := make([]recordView, 0, len(records))
	for _, rec := range records {
		out = append(out, recordView{
			ID:          rec.ID,
			Title:       rec.Title,
			Link:        rec.Link,
			Summary:     rec.Summary,
			Source:      rec.Source,
			Authors:     rec.Authors,
			Affiliation: rec.Affiliation,
			Published:   rec.Published,
			LLMComment:  rec.LLMComment,
			LLMScore:    rec.LLMScore,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) sources(c *gin.Context) {
	all := h.deps.Journals.All()
	out := make([]config.SourceMapping, 0, len(all))
	for _, j := range all {
		out = append(out, j.Mapping)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) llmPrompt(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Config.LLM.Redacted())
}

func (h *Handler) update(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.DefaultQuery("j", "all")

	if key == "" || key == "all" {
		results, err := h.deps.Ingester.IngestAll(ctx, true)
		if err != nil {
			h.warn("manual ingestion finished with errors", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "results": results})
			return
		}
		c.JSON(http.StatusOK, results)
		return
	}

	res, err := h.deps.Ingester.IngestOne(ctx, key, true)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]domain.IngestResult{key: res})
}

func (h *Handler) rate(c *gin.Context) {
	force, err := queryBool(c, "force", false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "force must be a boolean"})
		return
	}

	sel := domain.UnratedSelector()
	if link := c.Query("paper"); link != "" {
		sel = domain.LinkSelector(link)
	}

	ratings, err := h.deps.Rater.Rate(c.Request.Context(), sel, force)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ratings)
}

func (h *Handler) jobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.deps.Scheduler.Jobs()})
}

func (h *Handler) triggerJob(c *gin.Context) {
	id := c.Param("id")
	for _, job := range h.deps.Scheduler.Jobs() {
		if job.ID != id {
			continue
		}
		if err := h.deps.Scheduler.Trigger(id); err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "job": job})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
}

func (h *Handler) showConfig(c *gin.Context) {
	show, err := queryBool(c, "show_secrets", false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "show_secrets must be a boolean"})
		return
	}
	if show {
		c.JSON(http.StatusOK, h.deps.Config)
		return
	}
	c.JSON(http.StatusOK, h.deps.Config.Redacted())
}

func (h *Handler) health(c *gin.Context) {
	if err := h.deps.Records.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var terr *domain.TransportError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &terr):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.logError("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func queryBool(c *gin.Context, key string, def bool) (bool, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	return strconv.ParseBool(raw)
}

func (h *Handler) warn(msg string, args ...any) {
	if h.deps.Logger != nil {
		h.deps.Logger.Warn(msg, args...)
	}
}

func (h *Handler) logError(msg string, args ...any) {
	if h.deps.Logger != nil {
		h.deps.Logger.Error(msg, args...)
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if log == nil {
			return
		}
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).Round(time.Microsecond),
		)
	}
}
