package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"FeedRater/internal/config"
	"FeedRater/internal/domain"
	"FeedRater/internal/ports"
	"FeedRater/internal/prompt"
)

const (
	completionsPath = "/chat/completions"
	maxErrorBody    = 1024
)

// Client scores records through an OpenAI-compatible chat-completions API.
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	template   string
	modelArgs  map[string]any
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

var _ ports.Scorer = (*Client)(nil)

// NewClient builds a client from configuration. A positive
// RequestsPerSecond throttles outbound calls across all callers.
func NewClient(cfg config.LLMConfig, log *slog.Logger) *Client {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + completionsPath,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		template:   cfg.Prompt,
		modelArgs:  cfg.ModelArgs,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		logger:     log,
	}
}

// BuildPrompt substitutes the record fields into the prompt template.
func BuildPrompt(record domain.Record, template string) (string, error) {
	return prompt.Render(template, record.Fields())
}

// Score builds the prompt for record and asks the model for a verdict.
func (c *Client) Score(ctx context.Context, record domain.Record) (domain.ScoreResult, error) {
	text, err := BuildPrompt(record, c.template)
	if err != nil {
		return domain.ScoreResult{}, fmt.Errorf("build prompt for %s: %w", record.Link, err)
	}
	return c.RequestScore(ctx, text)
}

// RequestScore sends text as a single user message. Transport failures and
// malformed envelopes are *domain.TransportError; an answer that is not the
// expected {comment, score} object is returned as an unscored comment.
func (c *Client) RequestScore(ctx context.Context, text string) (domain.ScoreResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.ScoreResult{}, &domain.TransportError{Err: fmt.Errorf("wait for rate limit: %w", err)}
		}
	}

	payload := make(map[string]any, len(c.modelArgs)+2)
	for k, v := range c.modelArgs {
		payload[k] = v
	}
	payload["model"] = c.model
	payload["messages"] = []chatMessage{{Role: "user", Content: text}}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.ScoreResult{}, fmt.Errorf("marshal completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.ScoreResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ScoreResult{}, &domain.TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.ScoreResult{}, &domain.TransportError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	var envelope completion
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return domain.ScoreResult{}, &domain.TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	content, err := envelope.firstContent()
	if err != nil {
		return domain.ScoreResult{}, &domain.TransportError{StatusCode: resp.StatusCode, Err: err}
	}

	result, ok := parseVerdict(content)
	if !ok {
		c.debug("model answer is not a verdict object", "content", content)
		return domain.ScoreResult{Comment: content}, nil
	}
	return result, nil
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completion struct {
	ID      *string  `json:"id"`
	Object  *string  `json:"object"`
	Model   *string  `json:"model"`
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage"`
}

type choice struct {
	Message      *chatMessage `json:"message"`
	FinishReason *string      `json:"finish_reason"`
}

type usage struct {
	PromptTokens     *int `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
	TotalTokens      *int `json:"total_tokens"`
}

var errEnvelope = errors.New("malformed completion envelope")

func (c completion) firstContent() (string, error) {
	switch {
	case c.ID == nil:
		return "", fmt.Errorf("%w: missing id", errEnvelope)
	case c.Object == nil:
		return "", fmt.Errorf("%w: missing object", errEnvelope)
	case c.Model == nil:
		return "", fmt.Errorf("%w: missing model", errEnvelope)
	case c.Usage == nil || c.Usage.PromptTokens == nil || c.Usage.CompletionTokens == nil || c.Usage.TotalTokens == nil:
		return "", fmt.Errorf("%w: missing usage counts", errEnvelope)
	case len(c.Choices) == 0:
		return "", fmt.Errorf("%w: no choices", errEnvelope)
	}
	for i, ch := range c.Choices {
		if ch.Message == nil || ch.FinishReason == nil {
			return "", fmt.Errorf("%w: choice %d lacks message or finish_reason", errEnvelope, i)
		}
	}
	return c.Choices[0].Message.Content, nil
}

// parseVerdict reads {"comment": "...", "score": N}, tolerating a
// surrounding markdown code fence. A null or missing score means the model
// gave no number; a numeric string is accepted as the number.
func parseVerdict(content string) (domain.ScoreResult, bool) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimPrefix(text, "json")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	var verdict struct {
		Comment *string         `json:"comment"`
		Score   json.RawMessage `json:"score"`
	}
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&verdict); err != nil {
		return domain.ScoreResult{}, false
	}
	if dec.More() || verdict.Comment == nil {
		return domain.ScoreResult{}, false
	}

	score, ok := parseScore(verdict.Score)
	if !ok {
		return domain.ScoreResult{}, false
	}
	return domain.ScoreResult{Comment: *verdict.Comment, Score: score}, true
}

func parseScore(raw json.RawMessage) (*float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, true
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return &v, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}
