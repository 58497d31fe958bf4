// Package engine implements the per-monitor check state machine: fetch,
// transform, hash, diff, summarize, gate, dispatch, retention. It is the
// only writer of snapshots and changes.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vigilio/vigil/internal/diff"
	"github.com/vigilio/vigil/internal/notify"
	"github.com/vigilio/vigil/internal/plugin"
	"github.com/vigilio/vigil/internal/store"
	"github.com/vigilio/vigil/internal/summarize"
	"github.com/vigilio/vigil/internal/summary"
	"github.com/vigilio/vigil/internal/transform"
)

// Conditional carries the validators stored from a monitor's last
// successful fetch. Zero values send an unconditional request.
type Conditional struct {
	ETag    string
	LastMod string
}

// FetchResult is one fetch outcome. NotModified reports a validator hit
// (the source answered 304); Content is empty in that case.
type FetchResult struct {
	NotModified bool
	Content     []byte
	ContentType string
	ETag        string
	LastMod     string
}

// Fetcher retrieves a monitor's source. Implementations own retries,
// timeouts, and SSRF policy.
type Fetcher interface {
	Fetch(ctx context.Context, url string, cond Conditional) (*FetchResult, error)
}

// HTMLTransformer normalizes raw HTML into markdown text.
type HTMLTransformer interface {
	Convert(rawHTML string) (string, error)
}

// Summarizer produces structured summaries for a change. May be nil when
// summarization is disabled.
type Summarizer interface {
	Summarize(ctx context.Context, title, content string) (*summarize.Summary, error)
}

// Notifier delivers one message to one channel.
type Notifier interface {
	Send(ctx context.Context, ch *store.Channel, msg *notify.Message) error
}

// Config tunes engine behavior. Keep counts of 0 delete all history.
type Config struct {
	KeepSnapshots         int
	KeepChanges           int
	NotifyOnFirstSnapshot bool
}

// DefaultConfig returns the stock retention settings.
func DefaultConfig() Config {
	return Config{KeepSnapshots: 20, KeepChanges: 20}
}

// CheckResult is the outcome of one monitor check. Success is false only
// for fetch or transform failures; no-change outcomes are successful.
type CheckResult struct {
	Success   bool
	Message   string
	HasChange bool
}

// DeliveryResult reports one channel's dispatch outcome.
type DeliveryResult struct {
	ChannelID string
	OK        bool
	Err       error
}

// Engine runs monitor checks and digest drains against one Store.
type Engine struct {
	store       *store.Store
	plugins     *plugin.Registry
	fetcher     Fetcher
	transformer HTMLTransformer
	summarizer  Summarizer
	notifier    Notifier
	cfg         Config
	logger      *slog.Logger
	newID       func() string
	now         func() time.Time
}

// Deps are the engine's collaborators. Summarizer may be nil.
type Deps struct {
	Store       *store.Store
	Plugins     *plugin.Registry
	Fetcher     Fetcher
	Transformer HTMLTransformer
	Summarizer  Summarizer
	Notifier    Notifier
	Logger      *slog.Logger
}

// New builds an Engine.
func New(deps Deps, cfg Config) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:       deps.Store,
		plugins:     deps.Plugins,
		fetcher:     deps.Fetcher,
		transformer: deps.Transformer,
		summarizer:  deps.Summarizer,
		notifier:    deps.Notifier,
		cfg:         cfg,
		logger:      logger,
		newID:       func() string { return uuid.Must(uuid.NewV7()).String() },
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CheckMonitor runs one full check. The returned error covers persistence
// failures only; fetch and transform failures come back as an unsuccessful
// result so the caller can retry on the next scheduled tick.
func (e *Engine) CheckMonitor(ctx context.Context, m *store.Monitor) (*CheckResult, error) {
	res, err := e.fetcher.Fetch(ctx, m.URL, Conditional{ETag: m.LastETag, LastMod: m.LastModified})
	if err != nil {
		e.logger.Warn("fetch failed", "monitor", m.ID, "url", m.URL, "error", err)
		return &CheckResult{Message: "fetch failed: " + err.Error()}, nil
	}
	if res.NotModified {
		if err := e.store.TouchMonitorChecked(ctx, m.ID); err != nil {
			return nil, err
		}
		return &CheckResult{Success: true, Message: "not modified"}, nil
	}
	raw, contentType := res.Content, res.ContentType

	var normalized string
	if p, ok := e.plugins.Resolve(m); ok {
		tr, err := p.Transform(ctx, raw, m)
		if err != nil {
			e.logger.Warn("transform failed", "monitor", m.ID, "plugin", p.ID(), "error", err)
			return &CheckResult{Message: "transform failed: " + err.Error()}, nil
		}
		switch {
		case tr.Skip:
			if err := e.finishCheck(ctx, m, res); err != nil {
				return nil, err
			}
			return &CheckResult{Success: true, Message: "skipped by plugin: " + tr.SkipReason}, nil
		case len(tr.Releases) > 0:
			return e.reconcileReleases(ctx, m, p, tr.Releases, res)
		default:
			normalized = tr.ContentMD
		}
	} else if transform.LooksLikeHTML(contentType, raw) {
		normalized, err = e.transformer.Convert(string(raw))
		if err != nil {
			e.logger.Warn("html conversion failed", "monitor", m.ID, "error", err)
			return &CheckResult{Message: "transform failed: " + err.Error()}, nil
		}
	} else {
		normalized = string(raw)
	}

	hash := contentHash(normalized)
	latest, err := e.store.LatestSnapshot(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.ContentHash == hash {
		if err := e.finishCheck(ctx, m, res); err != nil {
			return nil, err
		}
		return &CheckResult{Success: true, Message: "no change"}, nil
	}

	snap := &store.Snapshot{
		ID:          e.newID(),
		MonitorID:   m.ID,
		ContentHash: hash,
		Content:     normalized,
	}
	if err := e.store.InsertSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	if latest == nil && !e.cfg.NotifyOnFirstSnapshot {
		e.cleanup(ctx, m.ID)
		if err := e.finishCheck(ctx, m, res); err != nil {
			return nil, err
		}
		return &CheckResult{Success: true, Message: "first snapshot stored"}, nil
	}

	var before string
	var beforeID *string
	if latest != nil {
		before = latest.Content
		beforeID = &latest.ID
	}
	d := diff.Generate(before, normalized)
	if len(d.Changes) == 0 {
		// Formatting-only churn: keep the snapshot, record no change.
		e.cleanup(ctx, m.ID)
		if err := e.finishCheck(ctx, m, res); err != nil {
			return nil, err
		}
		return &CheckResult{Success: true, Message: "no change"}, nil
	}

	ai, structured := e.summarizeDiff(ctx, m.Name, d.Markdown, "")
	if structured != nil && structured.Status == summary.StatusNoChanges {
		e.cleanup(ctx, m.ID)
		if err := e.finishCheck(ctx, m, res); err != nil {
			return nil, err
		}
		e.logger.Info("snapshot only", "monitor", m.ID, "reason", structured.SkipReason)
		return &CheckResult{Success: true, Message: "snapshot stored, no notable changes"}, nil
	}

	change := &store.Change{
		ID:               e.newID(),
		MonitorID:        m.ID,
		BeforeSnapshotID: beforeID,
		AfterSnapshotID:  snap.ID,
		Summary:          d.Summary,
		DiffType:         d.DiffType,
	}
	applySummary(change, ai, structured)
	if err := e.store.InsertChange(ctx, change); err != nil {
		return nil, err
	}

	if e.shouldNotify(structured) {
		title, body := renderSingle(change, structured)
		e.dispatch(ctx, m, []*store.Change{change}, title, body, "")
	} else {
		e.logger.Info("notification suppressed", "monitor", m.ID, "change", change.ID, "reason", skipReason(structured))
	}

	e.cleanup(ctx, m.ID)
	if err := e.finishCheck(ctx, m, res); err != nil {
		return nil, err
	}
	return &CheckResult{Success: true, Message: "change detected", HasChange: true}, nil
}

// finishCheck stores the fetch validators for the next conditional request
// and stamps the check time. A validator write failure only logs; the next
// check falls back to an unconditional fetch.
func (e *Engine) finishCheck(ctx context.Context, m *store.Monitor, res *FetchResult) error {
	if res.ETag != m.LastETag || res.LastMod != m.LastModified {
		if err := e.store.UpdateMonitorValidators(ctx, m.ID, res.ETag, res.LastMod); err != nil {
			e.logger.Warn("validator update failed", "monitor", m.ID, "error", err)
		}
	}
	return e.store.TouchMonitorChecked(ctx, m.ID)
}

// summarizeDiff calls the summarizer when configured. A summarizer failure
// degrades gracefully: the check proceeds with diff text only.
func (e *Engine) summarizeDiff(ctx context.Context, name, content, extra string) (*summarize.Summary, *summary.StructuredSummary) {
	if e.summarizer == nil {
		return nil, nil
	}
	if extra != "" {
		content = content + "\n\n" + extra
	}
	ai, err := e.summarizer.Summarize(ctx, name, content)
	if err != nil {
		e.logger.Warn("summarizer failed", "monitor", name, "error", err)
		return nil, nil
	}
	return ai, ai.Structured
}

// shouldNotify re-derives the notify decision from the structured summary.
// A missing summary means the gate cannot suppress, so the change notifies
// with its diff text.
func (e *Engine) shouldNotify(structured *summary.StructuredSummary) bool {
	if structured == nil {
		return true
	}
	return summary.EnforcePolicy(*structured).ShouldNotify
}

func skipReason(structured *summary.StructuredSummary) string {
	if structured == nil {
		return ""
	}
	return summary.EnforcePolicy(*structured).SkipReason
}

func applySummary(change *store.Change, ai *summarize.Summary, structured *summary.StructuredSummary) {
	if ai != nil {
		change.AISummary = ai.Text
	}
	if structured != nil {
		enforced := summary.EnforcePolicy(*structured)
		change.AIMetaJSON = summary.MarshalMeta(&enforced)
	}
}

func renderSingle(change *store.Change, structured *summary.StructuredSummary) (title, body string) {
	title = change.Summary
	body = change.AISummary
	if structured != nil && structured.Title != "" {
		title = structured.Title
	}
	if body == "" {
		body = change.Summary
	}
	return title, body
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
