package domain

import (
	"strconv"
	"time"
)

// Record is the canonical, storage-ready shape of one feed entry.
type Record struct {
	ID          string
	Title       string
	Link        string
	Summary     string
	Source      string
	Authors     string
	Affiliation string
	Published   time.Time
	LLMComment  string
	// LLMScore is nil until the record has been rated.
	LLMScore *float64
}

// Rated reports whether the record already carries a score.
func (r Record) Rated() bool {
	return r.LLMScore != nil
}

// Fields exposes the record as named text values for prompt templates.
// "uuid" and "llm_comments" are accepted as aliases of "id" and "llm_comment".
func (r Record) Fields() map[string]string {
	score := ""
	if r.LLMScore != nil {
		score = strconv.FormatFloat(*r.LLMScore, 'g', -1, 64)
	}
	published := ""
	if !r.Published.IsZero() {
		published = r.Published.Format("2006-01-02 15:04:05")
	}
	return map[string]string{
		"id":           r.ID,
		"uuid":         r.ID,
		"title":        r.Title,
		"link":         r.Link,
		"summary":      r.Summary,
		"source":       r.Source,
		"authors":      r.Authors,
		"affiliation":  r.Affiliation,
		"published":    published,
		"llm_comment":  r.LLMComment,
		"llm_comments": r.LLMComment,
		"llm_score":    score,
	}
}

// ScoreResult is what the scoring endpoint produced for one record.
// A nil Score means the model answer could not be parsed.
type ScoreResult struct {
	Comment string   `json:"comment"`
	Score   *float64 `json:"score"`
}

// Rating is the outward view of a record's current comment and score.
type Rating struct {
	Comment string   `json:"comment"`
	Score   *float64 `json:"score"`
}

// IngestResult lists the links seen by one ingestion call.
type IngestResult struct {
	All      []string `json:"all"`
	New      []string `json:"new"`
	Existing []string `json:"existing"`
}

// SelectorKind enumerates the rating selection modes.
type SelectorKind int

const (
	SelectUnrated SelectorKind = iota
	SelectAll
	SelectLink
)

// Selector chooses which records a rating run considers.
type Selector struct {
	Kind SelectorKind
	Link string
}

// UnratedSelector selects every record without a score.
func UnratedSelector() Selector { return Selector{Kind: SelectUnrated} }

// AllSelector selects every stored record.
func AllSelector() Selector { return Selector{Kind: SelectAll} }

// LinkSelector selects the records stored under link.
func LinkSelector(link string) Selector { return Selector{Kind: SelectLink, Link: link} }

// JobInfo describes one scheduled job.
type JobInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	NextRunTime time.Time `json:"next_run_time"`
}

// ListFilter narrows a record listing.
type ListFilter struct {
	Sources []string
	Since   time.Time
	Until   time.Time
	Limit   int
	OrderBy string
	Desc    bool
}
