// Package summarize generates change summaries through an OpenAI-compatible
// chat-completions endpoint.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vigilio/vigil/internal/summary"
)

const maxInputChars = 12000

// Summary is the model output for one change: free text plus the parsed
// structured form when the model returned valid JSON.
type Summary struct {
	Text       string
	Structured *summary.StructuredSummary
	Model      string
}

// Config describes the chat-completions endpoint.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Summarizer calls the configured model. A nil Summarizer is valid and
// means summarization is disabled.
type Summarizer struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New returns nil when no base URL is configured.
func New(cfg Config) *Summarizer {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil
	}
	cfg.BaseURL = strings.TrimRight(base, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Summarizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger,
	}
}

// Summarize produces a structured summary for one change. The title gives
// context (monitor name, version); content is the diff or release markdown.
func (s *Summarizer) Summarize(ctx context.Context, title, content string) (*Summary, error) {
	if s == nil {
		return nil, errors.New("summarize: not configured")
	}
	content = truncate(content, maxInputChars)
	payload := chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Context: " + title + "\n\nChange content:\n" + content},
		},
		Temperature: s.cfg.Temperature,
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	endpoint := s.cfg.BaseURL + "/v1/chat/completions"
	if strings.Contains(s.cfg.BaseURL, "/v1") {
		endpoint = s.cfg.BaseURL + "/chat/completions"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("summarize: http status %d", resp.StatusCode)
	}
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("summarize: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("summarize: empty response")
	}
	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	out := &Summary{Text: text, Model: s.cfg.Model}
	if structured, err := summary.Parse([]byte(stripFences(text))); err == nil {
		out.Structured = structured
	} else {
		s.logger.Warn("summarize: model output not structured", "error", err)
	}
	return out, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const systemPrompt = `You analyze software release notes and page changes.
Respond with a single JSON object and nothing else:
{
  "status": "ok" or "no_changes",
  "title": "one-line summary",
  "features": ["new capability", ...],
  "fixes": ["bug fix", ...],
  "should_notify": true or false,
  "skip_reason": "set only when should_notify is false",
  "importance": "low", "medium" or "high"
}
Use "no_changes" when the content carries no meaningful change.
Set should_notify false for trivial or housekeeping-only updates.`

// stripFences removes a surrounding markdown code fence if present, since
// some models wrap JSON despite instructions.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	cut := value[:max]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
