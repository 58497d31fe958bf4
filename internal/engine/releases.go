package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/vigilio/vigil/internal/diff"
	"github.com/vigilio/vigil/internal/plugin"
	"github.com/vigilio/vigil/internal/store"
	"github.com/vigilio/vigil/internal/summary"
)

// candidate is one notify-worthy release slice collected during a walk.
type candidate struct {
	change     *store.Change
	release    plugin.Release
	structured *summary.StructuredSummary
}

// reconcileReleases integrates a newest-first release list into the
// snapshot chain. New slices are applied oldest to newest so each change's
// before/after links form a valid chain, then all notify candidates go out
// as a single notification.
func (e *Engine) reconcileReleases(ctx context.Context, m *store.Monitor, p plugin.Plugin, releases []plugin.Release, res *FetchResult) (*CheckResult, error) {
	if len(releases) == 0 {
		// Plugins normally signal this as a skip; treat a bare empty list
		// the same way.
		if err := e.finishCheck(ctx, m, res); err != nil {
			return nil, err
		}
		return &CheckResult{Success: true, Message: "no releases"}, nil
	}

	anchor, err := e.store.LatestVersionedSnapshot(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return e.seedNewest(ctx, m, releases[0], res)
	}

	fresh := sliceUntil(releases, *anchor.ReleaseVersion)
	if len(fresh) == 0 {
		if err := e.finishCheck(ctx, m, res); err != nil {
			return nil, err
		}
		return &CheckResult{Success: true, Message: "no new releases"}, nil
	}

	useAI := true
	if oo, ok := p.(plugin.SummaryOptOut); ok {
		useAI = oo.UseAISummary()
	}

	prev := anchor
	var candidates []candidate
	created := 0
	for i := len(fresh) - 1; i >= 0; i-- {
		r := fresh[i]
		if existing, err := e.store.SnapshotByVersion(ctx, m.ID, r.Version); err != nil {
			return nil, err
		} else if existing != nil {
			prev = existing
			continue
		}

		version := r.Version
		snap := &store.Snapshot{
			ID:             e.newID(),
			MonitorID:      m.ID,
			ContentHash:    contentHash(r.Markdown),
			Content:        r.Markdown,
			ReleaseVersion: &version,
		}
		if err := e.store.InsertSnapshot(ctx, snap); err != nil {
			if errors.Is(err, store.ErrDuplicateVersion) {
				// Concurrent insert of the same version; pick it up as the
				// chain predecessor and move on.
				if existing, lookupErr := e.store.SnapshotByVersion(ctx, m.ID, r.Version); lookupErr == nil && existing != nil {
					prev = existing
				}
				continue
			}
			return nil, err
		}

		d := diff.Generate(prev.Content, r.Markdown)
		if len(d.Changes) == 0 {
			prev = snap
			continue
		}

		var structured *summary.StructuredSummary
		beforeID := prev.ID
		change := &store.Change{
			ID:               e.newID(),
			MonitorID:        m.ID,
			BeforeSnapshotID: &beforeID,
			AfterSnapshotID:  snap.ID,
			Summary:          d.Summary,
			DiffType:         d.DiffType,
			ReleaseVersion:   &version,
		}
		if useAI {
			ai, s := e.summarizeDiff(ctx, m.Name+" "+r.Version, d.Markdown, r.AIExtra)
			structured = s
			applySummary(change, ai, s)
		}
		if err := e.store.InsertChange(ctx, change); err != nil {
			return nil, err
		}
		created++

		notify := e.shouldNotify(structured)
		if v, ok := p.(plugin.NotifyVetoer); ok && notify {
			notify = v.ShouldNotify(r)
		}
		if notify {
			candidates = append(candidates, candidate{change: change, release: r, structured: structured})
		}
		prev = snap
	}

	e.dispatchCandidates(ctx, m, p, candidates)
	e.cleanup(ctx, m.ID)
	if err := e.finishCheck(ctx, m, res); err != nil {
		return nil, err
	}
	return &CheckResult{
		Success:   true,
		Message:   fmt.Sprintf("%d new release(s)", created),
		HasChange: created > 0,
	}, nil
}

// seedNewest handles the first run of a versioned source: only the newest
// slice is persisted and no change is recorded.
func (e *Engine) seedNewest(ctx context.Context, m *store.Monitor, newest plugin.Release, res *FetchResult) (*CheckResult, error) {
	version := newest.Version
	snap := &store.Snapshot{
		ID:             e.newID(),
		MonitorID:      m.ID,
		ContentHash:    contentHash(newest.Markdown),
		Content:        newest.Markdown,
		ReleaseVersion: &version,
	}
	if err := e.store.InsertSnapshot(ctx, snap); err != nil && !errors.Is(err, store.ErrDuplicateVersion) {
		return nil, err
	}
	if err := e.finishCheck(ctx, m, res); err != nil {
		return nil, err
	}
	return &CheckResult{Success: true, Message: "seeded " + newest.Version}, nil
}

// sliceUntil returns the newest-first prefix strictly before the slice
// matching anchor. When anchor is absent the whole list is new.
func sliceUntil(releases []plugin.Release, anchor string) []plugin.Release {
	for i, r := range releases {
		if r.Version == anchor {
			return releases[:i]
		}
	}
	return releases
}

// dispatchCandidates sends one notification covering every candidate. A
// single candidate keeps its per-slice link when the plugin provides one;
// multiple candidates collapse into one aggregated bundle.
func (e *Engine) dispatchCandidates(ctx context.Context, m *store.Monitor, p plugin.Plugin, candidates []candidate) {
	switch len(candidates) {
	case 0:
		return
	case 1:
		c := candidates[0]
		link := ""
		if sl, ok := p.(plugin.SliceLinker); ok {
			link = sl.LinkForSlice(c.release)
		}
		title, body := renderSingle(c.change, c.structured)
		if c.release.Version != "" {
			title = c.release.Version + ": " + title
		}
		e.dispatch(ctx, m, []*store.Change{c.change}, title, body, link)
	default:
		slices := make([]summary.Slice, 0, len(candidates))
		changes := make([]*store.Change, 0, len(candidates))
		for _, c := range candidates {
			fallback := c.change.AISummary
			if fallback == "" {
				fallback = c.change.Summary
			}
			slices = append(slices, summary.Slice{
				Version:    c.release.Version,
				Structured: c.structured,
				Fallback:   fallback,
			})
			changes = append(changes, c.change)
		}
		title, body := summary.Aggregate(slices)
		e.dispatch(ctx, m, changes, title, body, "")
	}
}
