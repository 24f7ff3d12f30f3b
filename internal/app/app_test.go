package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"FeedRater/internal/config"
	"FeedRater/internal/domain"
)

const popFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Physics of Plasmas</title>
    <link>https://example.org/pop</link>
    <description>Latest</description>
    <item>
      <title>Tokamak edge turbulence</title>
      <link>https://example.org/pop/1</link>
      <description>Edge modes.</description>
      <pubDate>Mon, 15 Jan 2024 10:00:00 +0000</pubDate>
    </item>
    <item>
      <title>Laser wakefield acceleration</title>
      <link>https://example.org/pop/2</link>
      <description>Wakes.</description>
      <pubDate>Tue, 16 Jan 2024 10:00:00 +0000</pubDate>
    </item>
  </channel>
</rss>`

func completionBody(content string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"model":   "test-model",
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"}},
		"usage":   map[string]int{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
	})
	return body
}

func TestIngestAndRateEndToEnd(t *testing.T) {
	t.Parallel()

	feeds := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pop.rss" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(popFeed))
	}))
	defer feeds.Close()

	var calls atomic.Int32
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		_, _ = w.Write(completionBody(fmt.Sprintf(`{"comment": "call %d", "score": %d}`, n, n)))
	}))
	defer model.Close()

	raw := fmt.Sprintf(`
database:
  driver: sqlite3
  dsn: %s
llm:
  baseURL: %s
  model: test-model
  prompt: "Rate {title}: {summary}"
journals:
  pop:
    feed_url: %s/pop.rss
    source_name: Physics of Plasmas
    title: title
    link: link
    summary: description
    published: published
  gone:
    feed_url: %s/missing.rss
    source_name: Gone
    link: link
`, filepath.Join(t.TempDir(), "feedrater.db"), model.URL, feeds.URL, feeds.URL)

	cfg, err := config.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	ctx := context.Background()
	a, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer a.Close()

	results, err := a.Ingest(ctx, "all")
	if err == nil {
		t.Fatal("expected error for the missing feed")
	}
	if len(results["pop"].New) != 2 {
		t.Fatalf("expected 2 new records from pop, got %+v", results)
	}

	if _, err := a.Ingest(ctx, "nature"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	again, err := a.Ingest(ctx, "pop")
	if err != nil {
		t.Fatalf("second Ingest error: %v", err)
	}
	if len(again["pop"].New) != 0 || len(again["pop"].Existing) != 2 {
		t.Fatalf("expected no new records on second ingest, got %+v", again)
	}

	ratings, err := a.Rate(ctx, false, "")
	if err != nil {
		t.Fatalf("Rate error: %v", err)
	}
	if len(ratings) != 2 || calls.Load() != 2 {
		t.Fatalf("expected 2 ratings from 2 calls, got %d and %d", len(ratings), calls.Load())
	}
	if r := ratings["https://example.org/pop/1"]; r.Score == nil || r.Comment == "" {
		t.Fatalf("unexpected rating: %+v", r)
	}

	idle, err := a.Rate(ctx, false, "")
	if err != nil {
		t.Fatalf("second Rate error: %v", err)
	}
	if len(idle) != 0 || calls.Load() != 2 {
		t.Fatalf("expected idempotent second run, got %+v after %d calls", idle, calls.Load())
	}

	forced, err := a.Rate(ctx, true, "https://example.org/pop/2")
	if err != nil {
		t.Fatalf("forced Rate error: %v", err)
	}
	if r := forced["https://example.org/pop/2"]; r.Score == nil || *r.Score != 3 {
		t.Fatalf("expected latest score 3, got %+v", r)
	}

	jobs := a.scheduler.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 registered jobs, got %+v", jobs)
	}
}
