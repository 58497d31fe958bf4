package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vigilio/vigil/internal/summary"
)

func chatServer(t *testing.T, reply string, check func(r *http.Request, req chatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if check != nil {
			check(r, req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		})
	}))
}

func TestNewUnconfigured(t *testing.T) {
	if s := New(Config{}); s != nil {
		t.Fatal("empty base URL must disable summarization")
	}
	if s := New(Config{BaseURL: "   "}); s != nil {
		t.Fatal("blank base URL must disable summarization")
	}
}

func TestSummarizeStructured(t *testing.T) {
	reply := `{"status": "ok", "title": "Adds dark mode", "features": ["dark mode"], "fixes": [], "should_notify": true, "importance": "medium"}`
	srv := chatServer(t, reply, func(r *http.Request, req chatRequest) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("got path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("got auth %q", got)
		}
		if req.Model != "test-model" {
			t.Errorf("got model %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("got messages %+v", req.Messages)
		}
		if !strings.Contains(req.Messages[1].Content, "example v2") {
			t.Errorf("user message missing context: %q", req.Messages[1].Content)
		}
	})
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model"})
	got, err := s.Summarize(context.Background(), "example v2", "+ dark mode added")
	if err != nil {
		t.Fatal(err)
	}
	if got.Structured == nil {
		t.Fatal("expected a parsed structured summary")
	}
	if got.Structured.Status != summary.StatusOK || got.Structured.Title != "Adds dark mode" || len(got.Structured.Features) != 1 {
		t.Fatalf("got %+v", got.Structured)
	}
	if got.Model != "test-model" {
		t.Fatalf("got model %q", got.Model)
	}
}

func TestSummarizeStripsCodeFences(t *testing.T) {
	reply := "```json\n{\"status\": \"ok\", \"title\": \"Fenced\", \"should_notify\": true}\n```"
	srv := chatServer(t, reply, nil)
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL})
	got, err := s.Summarize(context.Background(), "t", "c")
	if err != nil {
		t.Fatal(err)
	}
	if got.Structured == nil || got.Structured.Title != "Fenced" {
		t.Fatalf("got %+v", got.Structured)
	}
}

func TestSummarizeNonJSONReply(t *testing.T) {
	// WHAT: A free-text reply keeps the text and leaves Structured nil
	// rather than failing.
	srv := chatServer(t, "The release adds dark mode and fixes two bugs.", nil)
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL})
	got, err := s.Summarize(context.Background(), "t", "c")
	if err != nil {
		t.Fatal(err)
	}
	if got.Structured != nil {
		t.Fatalf("got %+v, want nil structured", got.Structured)
	}
	if got.Text == "" {
		t.Fatal("text must survive")
	}
}

func TestSummarizeV1BaseURL(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "{}"}}},
		})
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL + "/v1"})
	if _, err := s.Summarize(context.Background(), "t", "c"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/v1/chat/completions" {
		t.Fatalf("got path %q, base URLs containing /v1 must not double it", gotPath)
	}
}

func TestSummarizeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL})
	if _, err := s.Summarize(context.Background(), "t", "c"); err == nil {
		t.Fatal("expected an error on 429")
	}
}

func TestSummarizeTruncatesInput(t *testing.T) {
	var gotLen int
	srv := chatServer(t, "{}", func(r *http.Request, req chatRequest) {
		gotLen = len(req.Messages[1].Content)
	})
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL})
	if _, err := s.Summarize(context.Background(), "t", strings.Repeat("x", 50000)); err != nil {
		t.Fatal(err)
	}
	if gotLen > maxInputChars+100 {
		t.Fatalf("got %d chars, input must be capped near %d", gotLen, maxInputChars)
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	s := strings.Repeat("é", 10) // 2 bytes each
	got := truncate(s, 11)
	if !strings.HasSuffix(got, "é") || len(got) != 10 {
		t.Fatalf("got %q (%d bytes)", got, len(got))
	}
}

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"{\"a\": 1}":                      `{"a": 1}`,
		"```json\n{\"a\": 1}\n```":        `{"a": 1}`,
		"```\n{\"a\": 1}\n```":            `{"a": 1}`,
		"  \n```json\n{\"a\": 1}\n```\n ": `{"a": 1}`,
	}
	for in, want := range cases {
		if got := stripFences(in); got != want {
			t.Errorf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}
