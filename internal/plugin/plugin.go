// Package plugin defines content-type plugins that turn raw fetched bytes
// into either normalized markdown or an ordered list of release slices.
//
// Plugins are resolved through a typed Registry keyed by plugin id (the
// monitor's content-type hint), so the strategy is a statically known
// implementation rather than a string parsed out of a config blob at call
// time.
package plugin

import (
	"context"

	"github.com/vigilio/vigil/internal/store"
)

// Release is one historical entry from a plugin-exposed ordered release
// list, newest first.
type Release struct {
	Version  string // release identity (tag, GUID); never empty
	Title    string
	Markdown string // normalized content of this slice
	Link     string // optional display link for this slice
	AIExtra  string // optional extra context passed to the summarizer
}

// Result is the outcome of a plugin transform. Exactly one of the three
// shapes is populated: Skip, Releases, or ContentMD.
type Result struct {
	Skip       bool
	SkipReason string
	Releases   []Release // newest first
	ContentMD  string
}

// Plugin transforms raw fetched content for one monitor.
type Plugin interface {
	// ID is the content-type hint this plugin serves.
	ID() string
	// Transform parses raw content. An error is a transform-level failure;
	// the check aborts without persisting anything.
	Transform(ctx context.Context, raw []byte, m *store.Monitor) (*Result, error)
}

// SliceLinker is an optional capability: a per-slice display link used when
// a single release is notified.
type SliceLinker interface {
	LinkForSlice(r Release) string
}

// SummaryOptOut is an optional capability: plugins returning false have
// their slices persisted without AI summarization.
type SummaryOptOut interface {
	UseAISummary() bool
}

// NotifyVetoer is an optional capability: a per-release veto evaluated in
// addition to the notification gate, never instead of it. It applies only
// to Results carrying Releases; a plugin returning ContentMD goes through
// the flat markdown path, which has no release to veto.
type NotifyVetoer interface {
	ShouldNotify(r Release) bool
}

// Registry maps plugin ids to implementations.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry creates a registry with the built-in plugins registered.
func NewRegistry() *Registry {
	r := &Registry{plugins: make(map[string]Plugin)}
	r.Register(NewGitHubPlugin())
	r.Register(NewRSSPlugin())
	return r
}

// Register installs a plugin under its id.
func (r *Registry) Register(p Plugin) {
	r.plugins[p.ID()] = p
}

// Resolve returns the plugin for a monitor's content-type hint, if any.
func (r *Registry) Resolve(m *store.Monitor) (Plugin, bool) {
	p, ok := r.plugins[m.ContentType]
	return p, ok
}

// IDs returns the registered plugin ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	return ids
}
