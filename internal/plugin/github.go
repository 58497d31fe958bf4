package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vigilio/vigil/internal/store"
)

// GitHubPlugin parses a GitHub releases API response (JSON array, newest
// first) into release slices keyed by tag name. Point the monitor URL at
// https://api.github.com/repos/<owner>/<repo>/releases.
type GitHubPlugin struct{}

// NewGitHubPlugin creates the github plugin.
func NewGitHubPlugin() *GitHubPlugin {
	return &GitHubPlugin{}
}

// ID returns "github".
func (p *GitHubPlugin) ID() string { return "github" }

// githubRelease is the subset of the API response the plugin consumes.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	Body       string `json:"body"`
	HTMLURL    string `json:"html_url"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// githubOptions is parsed from monitor.config_json (all optional).
type githubOptions struct {
	IncludePrereleases bool `json:"include_prereleases"`
}

// Transform maps the releases array to slices, skipping drafts and (by
// default) prereleases. An empty release list yields a skip result.
func (p *GitHubPlugin) Transform(ctx context.Context, raw []byte, m *store.Monitor) (*Result, error) {
	var opts githubOptions
	if m.ConfigJSON != "" && m.ConfigJSON != "{}" {
		if err := json.Unmarshal([]byte(m.ConfigJSON), &opts); err != nil {
			return nil, fmt.Errorf("github: parse monitor config: %w", err)
		}
	}

	var entries []githubRelease
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("github: expected JSON release array: %w", err)
	}

	releases := make([]Release, 0, len(entries))
	for _, e := range entries {
		if e.Draft || e.TagName == "" {
			continue
		}
		if e.Prerelease && !opts.IncludePrereleases {
			continue
		}
		title := e.Name
		if title == "" {
			title = e.TagName
		}
		var b strings.Builder
		b.WriteString("# ")
		b.WriteString(title)
		if e.TagName != title {
			b.WriteString(" (")
			b.WriteString(e.TagName)
			b.WriteString(")")
		}
		if body := strings.TrimSpace(e.Body); body != "" {
			b.WriteString("\n\n")
			b.WriteString(body)
		}
		releases = append(releases, Release{
			Version:  e.TagName,
			Title:    title,
			Markdown: b.String(),
			Link:     e.HTMLURL,
			AIExtra:  "GitHub release " + e.TagName,
		})
	}

	if len(releases) == 0 {
		return &Result{Skip: true, SkipReason: "no published releases"}, nil
	}
	return &Result{Releases: releases}, nil
}

// LinkForSlice returns the release page URL.
func (p *GitHubPlugin) LinkForSlice(r Release) string {
	return r.Link
}
