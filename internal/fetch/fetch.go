// Package fetch retrieves monitored URLs over HTTP with conditional
// requests, content hashing, and SSRF protection.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrTooLarge is returned when a response body exceeds the configured cap.
var ErrTooLarge = errors.New("fetch: response body exceeds size limit")

const defaultMaxBodyBytes = 10 << 20 // 10 MiB

// Result carries the outcome of a single fetch.
type Result struct {
	// Changed is false when the server answered 304 Not Modified.
	Changed     bool
	StatusCode  int
	Content     []byte
	ContentType string
	Hash        string // sha256 hex of Content
	ETag        string
	LastMod     string
	FetchedAt   time.Time
}

// Config controls fetcher behavior.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = "vigil/1.0"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher performs HTTP GETs with conditional headers and URL validation.
type Fetcher struct {
	client *http.Client
	cfg    Config
	logger *slog.Logger
}

// New builds a Fetcher. Redirect targets are re-validated before following.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	client := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("fetch: too many redirects")
			}
			return ValidateURL(req.URL.String())
		},
	}
	return &Fetcher{client: client, cfg: cfg, logger: cfg.Logger}
}

// Conditional carries validators from the previous successful fetch.
type Conditional struct {
	ETag    string
	LastMod string
}

// Fetch retrieves url. When cond has validators the request is conditional
// and a 304 yields Result.Changed=false with no body.
func (f *Fetcher) Fetch(ctx context.Context, url string, cond Conditional) (*Result, error) {
	if err := ValidateURL(url); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "*/*")
	if cond.ETag != "" {
		req.Header.Set("If-None-Match", cond.ETag)
	}
	if cond.LastMod != "" {
		req.Header.Set("If-Modified-Since", cond.LastMod)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	res := &Result{
		StatusCode: resp.StatusCode,
		ETag:       resp.Header.Get("ETag"),
		LastMod:    resp.Header.Get("Last-Modified"),
		FetchedAt:  time.Now().UTC(),
	}

	if resp.StatusCode == http.StatusNotModified {
		res.Changed = false
		return res, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little so the connection can be reused.
		io.CopyN(io.Discard, resp.Body, 4096)
		return nil, fmt.Errorf("fetch: unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := readCapped(resp.Body, f.cfg.MaxBodyBytes)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(body)
	res.Changed = true
	res.Content = body
	res.ContentType = resp.Header.Get("Content-Type")
	res.Hash = hex.EncodeToString(sum[:])
	return res, nil
}

func readCapped(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, ErrTooLarge
	}
	return body, nil
}
