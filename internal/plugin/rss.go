package plugin

import (
	"context"
	"fmt"
	"strings"

	"github.com/vigilio/vigil/internal/feed"
	"github.com/vigilio/vigil/internal/store"
)

// RSSPlugin turns an RSS/Atom feed into release slices keyed by entry GUID,
// newest first, so each new entry flows through release reconciliation as
// its own change.
type RSSPlugin struct {
	// maxEntries bounds how much history one fetch exposes.
	maxEntries int
}

// NewRSSPlugin creates the rss plugin.
func NewRSSPlugin() *RSSPlugin {
	return &RSSPlugin{maxEntries: 50}
}

// ID returns "rss".
func (p *RSSPlugin) ID() string { return "rss" }

// Transform parses the feed. An unparseable document is a transform-level
// failure; a feed with zero entries is a skip.
func (p *RSSPlugin) Transform(ctx context.Context, raw []byte, m *store.Monitor) (*Result, error) {
	f, err := feed.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("rss: %w", err)
	}
	entries := f.Entries
	if len(entries) > p.maxEntries {
		entries = entries[:p.maxEntries]
	}
	if len(entries) == 0 {
		return &Result{Skip: true, SkipReason: "feed has no entries"}, nil
	}

	releases := make([]Release, 0, len(entries))
	for _, e := range entries {
		body := e.Content
		if body == "" {
			body = e.Summary
		}
		var b strings.Builder
		if e.Title != "" {
			b.WriteString("# ")
			b.WriteString(e.Title)
			b.WriteString("\n\n")
		}
		if body != "" {
			b.WriteString(body)
			b.WriteString("\n")
		}
		if e.Published != "" {
			b.WriteString("\nPublished: ")
			b.WriteString(e.Published)
		}
		releases = append(releases, Release{
			Version:  e.GUID,
			Title:    e.Title,
			Markdown: strings.TrimSpace(b.String()),
			Link:     e.Link,
		})
	}
	return &Result{Releases: releases}, nil
}

// LinkForSlice returns the entry link.
func (p *RSSPlugin) LinkForSlice(r Release) string {
	return r.Link
}
