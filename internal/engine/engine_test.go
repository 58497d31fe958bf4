package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vigilio/vigil/internal/notify"
	"github.com/vigilio/vigil/internal/plugin"
	"github.com/vigilio/vigil/internal/store"
	"github.com/vigilio/vigil/internal/summarize"
	"github.com/vigilio/vigil/internal/summary"
)

type fakeFetcher struct {
	content     string
	contentType string
	etag        string
	lastMod     string
	notModified bool
	err         error
	gotCond     Conditional // validators from the most recent Fetch call
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, cond Conditional) (*FetchResult, error) {
	f.gotCond = cond
	if f.err != nil {
		return nil, f.err
	}
	if f.notModified {
		return &FetchResult{NotModified: true, ETag: f.etag, LastMod: f.lastMod}, nil
	}
	return &FetchResult{
		Content:     []byte(f.content),
		ContentType: f.contentType,
		ETag:        f.etag,
		LastMod:     f.lastMod,
	}, nil
}

type fakeTransformer struct{}

func (fakeTransformer) Convert(rawHTML string) (string, error) { return rawHTML, nil }

type fakeNotifier struct {
	mu    sync.Mutex
	sends []*notify.Message
	errs  map[string]error // channel id -> forced error
}

func (n *fakeNotifier) Send(ctx context.Context, ch *store.Channel, msg *notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.errs[ch.ID]; err != nil {
		return err
	}
	n.sends = append(n.sends, msg)
	return nil
}

func (n *fakeNotifier) sent() []*notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*notify.Message(nil), n.sends...)
}

type fakeSummarizer struct {
	structured *summary.StructuredSummary
	err        error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, title, content string) (*summarize.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &summarize.Summary{Text: "ai text", Structured: f.structured}, nil
}

// fakeReleasePlugin serves an ordered release list under content type "rel".
type fakeReleasePlugin struct {
	releases []plugin.Release
	skip     bool
	reason   string
}

func (p *fakeReleasePlugin) ID() string { return "rel" }

func (p *fakeReleasePlugin) Transform(ctx context.Context, raw []byte, m *store.Monitor) (*plugin.Result, error) {
	if p.skip {
		return &plugin.Result{Skip: true, SkipReason: p.reason}, nil
	}
	return &plugin.Result{Releases: p.releases}, nil
}

func (p *fakeReleasePlugin) LinkForSlice(r plugin.Release) string { return r.Link }

// vetoingReleasePlugin additionally vetoes dispatch per release version.
type vetoingReleasePlugin struct {
	fakeReleasePlugin
	allow map[string]bool
}

func (p *vetoingReleasePlugin) ShouldNotify(r plugin.Release) bool { return p.allow[r.Version] }

type testEnv struct {
	engine   *Engine
	store    *store.Store
	fetcher  *fakeFetcher
	notifier *fakeNotifier
	plugins  *plugin.Registry
}

func newTestEnv(t *testing.T, cfg Config, summarizer Summarizer) *testEnv {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.Exec("PRAGMA foreign_keys=ON")
	t.Cleanup(func() { db.Close() })
	if err := store.ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	st := store.NewStore(db)

	fetcher := &fakeFetcher{content: "hello", contentType: "text/plain"}
	notifier := &fakeNotifier{errs: map[string]error{}}
	registry := plugin.NewRegistry()

	eng := New(Deps{
		Store:       st,
		Plugins:     registry,
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Summarizer:  summarizer,
		Notifier:    notifier,
	}, cfg)

	// Deterministic ids and clock.
	var seq int
	eng.newID = func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	eng.now = func() time.Time {
		return time.Date(2026, time.September, 2, 12, 0, 0, 0, time.UTC) // a Wednesday
	}

	return &testEnv{engine: eng, store: st, fetcher: fetcher, notifier: notifier, plugins: registry}
}

func (env *testEnv) addMonitor(t *testing.T, contentType string) *store.Monitor {
	t.Helper()
	m := &store.Monitor{
		ID: "m1", Name: "example", URL: "https://example.com",
		ContentType: contentType, Enabled: true,
	}
	if err := env.store.InsertMonitor(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	return m
}

func (env *testEnv) addImmediateChannel(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	ch := &store.Channel{ID: id, Type: store.ChannelWebhook, Name: id, ConfigEnc: []byte("x"), Enabled: true}
	if err := env.store.InsertChannel(ctx, ch); err != nil {
		t.Fatal(err)
	}
	if err := env.store.LinkChannel(ctx, &store.MonitorChannel{
		MonitorID: "m1", ChannelID: id, DeliveryMode: store.DeliveryImmediate, IncludeLink: true,
	}); err != nil {
		t.Fatal(err)
	}
}

func (env *testEnv) addDigestChannel(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	ch := &store.Channel{ID: id, Type: store.ChannelWebhook, Name: id, ConfigEnc: []byte("x"), Enabled: true}
	if err := env.store.InsertChannel(ctx, ch); err != nil {
		t.Fatal(err)
	}
	if err := env.store.LinkChannel(ctx, &store.MonitorChannel{
		MonitorID: "m1", ChannelID: id, DeliveryMode: store.DeliveryWeeklyDigest,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestCheckMonitorIdempotence(t *testing.T) {
	// WHAT: Two checks against unchanged content yield one snapshot and
	// zero changes.
	// WHY: Identical normalized content must hash identically, and an
	// unchanged hash is a successful no-op.
	env := newTestEnv(t, DefaultConfig(), nil)
	m := env.addMonitor(t, "")
	ctx := context.Background()

	res, err := env.engine.CheckMonitor(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.HasChange {
		t.Fatalf("first check: got %+v", res)
	}

	res, err = env.engine.CheckMonitor(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.HasChange || res.Message != "no change" {
		t.Fatalf("second check: got %+v", res)
	}

	snaps, _ := env.store.CountSnapshots(ctx, "m1")
	if snaps != 1 {
		t.Fatalf("got %d snapshots, want 1", snaps)
	}
	changes, _ := env.store.CountChanges(ctx, "m1")
	if changes != 0 {
		t.Fatalf("got %d changes, want 0", changes)
	}

	checked, _ := env.store.GetMonitor(ctx, "m1")
	if checked.LastCheckedAt == nil {
		t.Fatal("last_checked_at must be set")
	}
}

func TestCheckMonitorFetchFailure(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	m := env.addMonitor(t, "")
	env.fetcher.err = errors.New("connection refused")

	res, err := env.engine.CheckMonitor(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("fetch failure must be unsuccessful")
	}
	// No mutation at all: the monitor stays due.
	checked, _ := env.store.GetMonitor(context.Background(), "m1")
	if checked.LastCheckedAt != nil {
		t.Fatal("fetch failure must not touch last_checked_at")
	}
	snaps, _ := env.store.CountSnapshots(context.Background(), "m1")
	if snaps != 0 {
		t.Fatalf("got %d snapshots, want 0", snaps)
	}
}

func TestConditionalFetchSkipsUnchangedSource(t *testing.T) {
	// WHAT: Validators from a successful fetch are stored on the monitor and
	// echoed on the next request; a not-modified answer completes the check
	// without touching snapshots.
	env := newTestEnv(t, DefaultConfig(), nil)
	m := env.addMonitor(t, "")
	env.fetcher.etag = `"abc123"`
	env.fetcher.lastMod = "Mon, 24 Aug 2026 10:00:00 GMT"
	ctx := context.Background()

	if _, err := env.engine.CheckMonitor(ctx, m); err != nil {
		t.Fatal(err)
	}
	if env.fetcher.gotCond != (Conditional{}) {
		t.Fatalf("first fetch must be unconditional, got %+v", env.fetcher.gotCond)
	}

	stored, err := env.store.GetMonitor(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.LastETag != `"abc123"` || stored.LastModified != "Mon, 24 Aug 2026 10:00:00 GMT" {
		t.Fatalf("validators not persisted: %+v", stored)
	}

	env.fetcher.notModified = true
	res, err := env.engine.CheckMonitor(ctx, stored)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.HasChange || res.Message != "not modified" {
		t.Fatalf("got %+v, want a not-modified no-op", res)
	}
	if env.fetcher.gotCond.ETag != `"abc123"` || env.fetcher.gotCond.LastMod != "Mon, 24 Aug 2026 10:00:00 GMT" {
		t.Fatalf("second fetch must carry the stored validators, got %+v", env.fetcher.gotCond)
	}

	snaps, _ := env.store.CountSnapshots(ctx, "m1")
	if snaps != 1 {
		t.Fatalf("got %d snapshots, want 1", snaps)
	}
	after, _ := env.store.GetMonitor(ctx, "m1")
	if after.LastCheckedAt == nil {
		t.Fatal("a not-modified check still stamps last_checked_at")
	}
}

func TestCheckMonitorDetectsChange(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	m := env.addMonitor(t, "")
	env.addImmediateChannel(t, "c1")
	ctx := context.Background()

	if _, err := env.engine.CheckMonitor(ctx, m); err != nil {
		t.Fatal(err)
	}
	if got := env.notifier.sent(); len(got) != 0 {
		t.Fatalf("first snapshot must seed silently, got %d sends", len(got))
	}

	env.fetcher.content = "hello\nnew line of content"
	res, err := env.engine.CheckMonitor(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasChange {
		t.Fatalf("got %+v, want a change", res)
	}

	changes, _ := env.store.ListChanges(ctx, "m1", 0)
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	c := changes[0]
	if c.BeforeSnapshotID == nil {
		t.Fatal("change must link its before snapshot")
	}

	sent := env.notifier.sent()
	if len(sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(sent))
	}
	if sent[0].Link != m.URL {
		t.Fatalf("include_link channel: got link %q, want monitor url", sent[0].Link)
	}
	if len(sent[0].ChangeIDs) != 1 || sent[0].ChangeIDs[0] != c.ID {
		t.Fatalf("notification must reference the change, got %v", sent[0].ChangeIDs)
	}
}

func TestNotifyOnFirstSnapshot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NotifyOnFirstSnapshot = true
	env := newTestEnv(t, cfg, nil)
	m := env.addMonitor(t, "")
	env.addImmediateChannel(t, "c1")

	res, err := env.engine.CheckMonitor(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasChange {
		t.Fatalf("got %+v, want a change on first snapshot", res)
	}
	if len(env.notifier.sent()) != 1 {
		t.Fatal("expected a first-snapshot notification")
	}
	changes, _ := env.store.ListChanges(context.Background(), "m1", 0)
	if len(changes) != 1 || changes[0].DiffType != "addition" {
		t.Fatalf("got %+v, want one addition change", changes)
	}
}

func TestNoOpDiffFiltering(t *testing.T) {
	// WHAT: Content that differs only in blank lines stores a snapshot but
	// never a change.
	// WHY: Formatting churn must not become notification noise.
	env := newTestEnv(t, DefaultConfig(), nil)
	m := env.addMonitor(t, "")
	env.addImmediateChannel(t, "c1")
	ctx := context.Background()

	env.fetcher.content = "alpha\nbeta"
	env.engine.CheckMonitor(ctx, m)

	env.fetcher.content = "alpha\n\n\nbeta"
	res, err := env.engine.CheckMonitor(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if res.HasChange {
		t.Fatalf("got %+v, want no change", res)
	}
	snaps, _ := env.store.CountSnapshots(ctx, "m1")
	if snaps != 2 {
		t.Fatalf("got %d snapshots, want 2 (snapshot still persists)", snaps)
	}
	changes, _ := env.store.CountChanges(ctx, "m1")
	if changes != 0 {
		t.Fatalf("got %d changes, want 0", changes)
	}
	if len(env.notifier.sent()) != 0 {
		t.Fatal("no notification for formatting churn")
	}
}

func TestSummarizerNoChangesSuppressesChange(t *testing.T) {
	summarizer := &fakeSummarizer{structured: &summary.StructuredSummary{Status: summary.StatusNoChanges}}
	env := newTestEnv(t, DefaultConfig(), summarizer)
	m := env.addMonitor(t, "")
	ctx := context.Background()

	env.engine.CheckMonitor(ctx, m)
	env.fetcher.content = "hello\nsomething new"
	res, err := env.engine.CheckMonitor(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if res.HasChange {
		t.Fatalf("got %+v, want snapshot-only outcome", res)
	}
	changes, _ := env.store.CountChanges(ctx, "m1")
	if changes != 0 {
		t.Fatalf("got %d changes, want 0", changes)
	}
	snaps, _ := env.store.CountSnapshots(ctx, "m1")
	if snaps != 2 {
		t.Fatalf("got %d snapshots, want 2", snaps)
	}
}

func TestGateSuppressionKeepsChange(t *testing.T) {
	// WHAT: An ok summary with only one fix records the change but sends
	// nothing, whatever the model claimed.
	summarizer := &fakeSummarizer{structured: &summary.StructuredSummary{
		Status: summary.StatusOK, ShouldNotify: true, Fixes: []string{"tiny fix"},
	}}
	env := newTestEnv(t, DefaultConfig(), summarizer)
	m := env.addMonitor(t, "")
	env.addImmediateChannel(t, "c1")
	ctx := context.Background()

	env.engine.CheckMonitor(ctx, m)
	env.fetcher.content = "hello\nfixed a thing"
	res, err := env.engine.CheckMonitor(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasChange {
		t.Fatalf("got %+v, want a recorded change", res)
	}
	if len(env.notifier.sent()) != 0 {
		t.Fatal("gate must suppress the notification")
	}

	changes, _ := env.store.ListChanges(ctx, "m1", 0)
	meta := summary.UnmarshalMeta(changes[0].AIMetaJSON)
	if meta == nil || meta.ShouldNotify {
		t.Fatalf("stored meta must carry the enforced decision: %+v", meta)
	}
}

func TestSummarizerFailureDegrades(t *testing.T) {
	// WHAT: A summarizer error still persists the change, AI fields empty,
	// and notifies with the diff summary.
	summarizer := &fakeSummarizer{err: errors.New("model unavailable")}
	env := newTestEnv(t, DefaultConfig(), summarizer)
	m := env.addMonitor(t, "")
	env.addImmediateChannel(t, "c1")
	ctx := context.Background()

	env.engine.CheckMonitor(ctx, m)
	env.fetcher.content = "hello\nbrand new feature"
	res, err := env.engine.CheckMonitor(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasChange {
		t.Fatalf("got %+v, want a change", res)
	}
	changes, _ := env.store.ListChanges(ctx, "m1", 0)
	if changes[0].AISummary != "" || changes[0].AIMetaJSON != "" {
		t.Fatalf("AI fields must be empty on failure: %+v", changes[0])
	}
	if len(env.notifier.sent()) != 1 {
		t.Fatal("missing structured summary cannot suppress the notification")
	}
}

func TestPerChannelFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	m := env.addMonitor(t, "")
	env.addImmediateChannel(t, "bad")
	env.addImmediateChannel(t, "good")
	env.notifier.errs["bad"] = errors.New("webhook 500")
	ctx := context.Background()

	env.engine.CheckMonitor(ctx, m)
	env.fetcher.content = "hello\nmore"
	res, err := env.engine.CheckMonitor(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || !res.HasChange {
		t.Fatalf("got %+v, channel failure must not fail the check", res)
	}
	if len(env.notifier.sent()) != 1 {
		t.Fatalf("got %d deliveries, want 1 (the healthy channel)", len(env.notifier.sent()))
	}
}

func TestPluginSkip(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	env.plugins.Register(&fakeReleasePlugin{skip: true, reason: "no published releases"})
	m := env.addMonitor(t, "rel")

	res, err := env.engine.CheckMonitor(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.HasChange {
		t.Fatalf("got %+v", res)
	}
	snaps, _ := env.store.CountSnapshots(context.Background(), "m1")
	if snaps != 0 {
		t.Fatal("plugin skip must not persist a snapshot")
	}
	checked, _ := env.store.GetMonitor(context.Background(), "m1")
	if checked.LastCheckedAt == nil {
		t.Fatal("plugin skip still counts as a completed check")
	}
}

func rel(version, body string) plugin.Release {
	return plugin.Release{
		Version:  version,
		Markdown: fmt.Sprintf("# %s\n\n%s", version, body),
		Link:     "https://example.com/releases/" + version,
	}
}

func TestReleaseFirstRunSeedsNewestOnly(t *testing.T) {
	// WHAT: With no stored version, only the newest slice is persisted and
	// no changes exist.
	env := newTestEnv(t, DefaultConfig(), nil)
	env.plugins.Register(&fakeReleasePlugin{releases: []plugin.Release{
		rel("v3", "third"), rel("v2", "second"), rel("v1", "first"),
	}})
	m := env.addMonitor(t, "rel")
	ctx := context.Background()

	res, err := env.engine.CheckMonitor(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if res.HasChange {
		t.Fatalf("got %+v, first run must seed silently", res)
	}

	snaps, _ := env.store.CountSnapshots(ctx, "m1")
	if snaps != 1 {
		t.Fatalf("got %d snapshots, want 1", snaps)
	}
	latest, _ := env.store.LatestVersionedSnapshot(ctx, "m1")
	if latest == nil || *latest.ReleaseVersion != "v3" {
		t.Fatalf("got %+v, want seeded v3", latest)
	}
	changes, _ := env.store.CountChanges(ctx, "m1")
	if changes != 0 {
		t.Fatalf("got %d changes, want 0", changes)
	}
}

func TestReleaseOrderingAndAggregation(t *testing.T) {
	// WHAT: Stored v1 plus feed [v3, v2, v1] creates changes for v2 then
	// v3, chained before/after, and exactly one aggregated notification.
	p := &fakeReleasePlugin{releases: []plugin.Release{rel("v1", "first")}}
	env := newTestEnv(t, DefaultConfig(), nil)
	env.plugins.Register(p)
	m := env.addMonitor(t, "rel")
	env.addImmediateChannel(t, "c1")
	ctx := context.Background()

	if _, err := env.engine.CheckMonitor(ctx, m); err != nil {
		t.Fatal(err)
	}

	p.releases = []plugin.Release{rel("v3", "third"), rel("v2", "second"), rel("v1", "first")}
	res, err := env.engine.CheckMonitor(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasChange {
		t.Fatalf("got %+v, want changes", res)
	}

	changes, _ := env.store.ListChanges(ctx, "m1", 0) // newest first
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(changes))
	}
	v3, v2 := changes[0], changes[1]
	if *v2.ReleaseVersion != "v2" || *v3.ReleaseVersion != "v3" {
		t.Fatalf("got versions %v then %v, want v2 then v3", *v2.ReleaseVersion, *v3.ReleaseVersion)
	}
	if v3.BeforeSnapshotID == nil || *v3.BeforeSnapshotID != v2.AfterSnapshotID {
		t.Fatal("v3's before snapshot must be v2's after snapshot")
	}
	v2Snap, _ := env.store.SnapshotByVersion(ctx, "m1", "v2")
	if v2.AfterSnapshotID != v2Snap.ID {
		t.Fatal("v2's after snapshot must be the v2 snapshot")
	}

	sent := env.notifier.sent()
	if len(sent) != 1 {
		t.Fatalf("got %d notifications, want exactly 1 aggregated", len(sent))
	}
	if len(sent[0].ChangeIDs) != 2 {
		t.Fatalf("aggregate must reference both changes, got %v", sent[0].ChangeIDs)
	}
}

func TestReleaseSingleCandidateUsesSliceLink(t *testing.T) {
	p := &fakeReleasePlugin{releases: []plugin.Release{rel("v1", "first")}}
	env := newTestEnv(t, DefaultConfig(), nil)
	env.plugins.Register(p)
	m := env.addMonitor(t, "rel")
	env.addImmediateChannel(t, "c1")
	ctx := context.Background()

	env.engine.CheckMonitor(ctx, m)
	p.releases = []plugin.Release{rel("v2", "second"), rel("v1", "first")}
	if _, err := env.engine.CheckMonitor(ctx, m); err != nil {
		t.Fatal(err)
	}

	sent := env.notifier.sent()
	if len(sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(sent))
	}
	if sent[0].Link != "https://example.com/releases/v2" {
		t.Fatalf("got link %q, want the per-slice release link", sent[0].Link)
	}
}

func TestReleaseNoNewVersions(t *testing.T) {
	p := &fakeReleasePlugin{releases: []plugin.Release{rel("v1", "first")}}
	env := newTestEnv(t, DefaultConfig(), nil)
	env.plugins.Register(p)
	m := env.addMonitor(t, "rel")
	ctx := context.Background()

	env.engine.CheckMonitor(ctx, m)
	res, err := env.engine.CheckMonitor(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if res.HasChange || res.Message != "no new releases" {
		t.Fatalf("got %+v, want no new releases", res)
	}
}

func TestReleaseVetoSuppressesDispatch(t *testing.T) {
	// WHAT: A vetoed slice still records its change but never reaches a
	// channel; the allowed slice goes out alone.
	p := &vetoingReleasePlugin{
		fakeReleasePlugin: fakeReleasePlugin{releases: []plugin.Release{rel("v1", "first")}},
		allow:             map[string]bool{"v3": true},
	}
	env := newTestEnv(t, DefaultConfig(), nil)
	env.plugins.Register(p)
	m := env.addMonitor(t, "rel")
	env.addImmediateChannel(t, "c1")
	ctx := context.Background()

	if _, err := env.engine.CheckMonitor(ctx, m); err != nil {
		t.Fatal(err)
	}
	p.releases = []plugin.Release{rel("v3", "third"), rel("v2", "second"), rel("v1", "first")}
	res, err := env.engine.CheckMonitor(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasChange {
		t.Fatalf("got %+v, want changes", res)
	}

	changes, _ := env.store.ListChanges(ctx, "m1", 0) // newest first
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2 (veto must not drop the record)", len(changes))
	}
	sent := env.notifier.sent()
	if len(sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(sent))
	}
	if len(sent[0].ChangeIDs) != 1 || sent[0].ChangeIDs[0] != changes[0].ID {
		t.Fatalf("only the allowed v3 slice may dispatch, got %v", sent[0].ChangeIDs)
	}
}

func TestRetentionBound(t *testing.T) {
	// WHAT: After a check that lifts a monitor to 25 snapshots with
	// keep=20, exactly the 20 newest remain.
	env := newTestEnv(t, DefaultConfig(), nil)
	m := env.addMonitor(t, "")
	ctx := context.Background()

	for i := 0; i < 24; i++ {
		if err := env.store.InsertSnapshot(ctx, &store.Snapshot{
			ID:          fmt.Sprintf("old-%02d", i),
			MonitorID:   "m1",
			ContentHash: fmt.Sprintf("h%d", i),
			Content:     "old",
			CreatedAt:   int64(1000 + i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	env.fetcher.content = "completely new content"
	if _, err := env.engine.CheckMonitor(ctx, m); err != nil {
		t.Fatal(err)
	}

	count, _ := env.store.CountSnapshots(ctx, "m1")
	if count != 20 {
		t.Fatalf("got %d snapshots, want 20", count)
	}
	latest, _ := env.store.LatestSnapshot(ctx, "m1")
	if latest.Content != "completely new content" {
		t.Fatal("the snapshot just written must survive retention")
	}
	if old, _ := env.store.GetSnapshot(ctx, "old-00"); old != nil {
		t.Fatal("the oldest snapshot must be trimmed")
	}
}

func TestComputeDigestTarget(t *testing.T) {
	// WHAT: Any reference inside a calendar week buckets to that week's
	// Monday and sends the following Monday 09:00 UTC.
	wednesday := time.Date(2026, time.September, 2, 15, 30, 0, 0, time.UTC)
	target := ComputeDigestTarget(wednesday)
	if target.Key != "2026-08-31" {
		t.Fatalf("got key %q, want 2026-08-31", target.Key)
	}
	wantSend := time.Date(2026, time.September, 7, 9, 0, 0, 0, time.UTC)
	if !target.SendAt.Equal(wantSend) {
		t.Fatalf("got send %v, want %v", target.SendAt, wantSend)
	}

	// Same week, same bucket.
	sunday := time.Date(2026, time.September, 6, 23, 59, 0, 0, time.UTC)
	if got := ComputeDigestTarget(sunday); got.Key != target.Key || !got.SendAt.Equal(target.SendAt) {
		t.Fatalf("sunday bucketed to %+v, want same as wednesday", got)
	}

	// A Monday starts its own week.
	monday := time.Date(2026, time.September, 7, 0, 0, 0, 0, time.UTC)
	if got := ComputeDigestTarget(monday); got.Key != "2026-09-07" {
		t.Fatalf("got key %q, want 2026-09-07", got.Key)
	}
}

func TestWeeklyDigestFlow(t *testing.T) {
	// WHAT: A weekly channel gets no immediate send; the change lands in a
	// digest bucket; draining the bucket sends one combined message and a
	// second drain finds nothing pending.
	env := newTestEnv(t, DefaultConfig(), nil)
	m := env.addMonitor(t, "")
	env.addDigestChannel(t, "weekly")
	ctx := context.Background()

	env.engine.CheckMonitor(ctx, m)
	env.fetcher.content = "hello\nweek one news"
	if _, err := env.engine.CheckMonitor(ctx, m); err != nil {
		t.Fatal(err)
	}
	env.fetcher.content = "hello\nweek one news\nand more"
	if _, err := env.engine.CheckMonitor(ctx, m); err != nil {
		t.Fatal(err)
	}

	if len(env.notifier.sent()) != 0 {
		t.Fatal("weekly channels must not receive immediate sends")
	}

	target := ComputeDigestTarget(env.engine.now())
	items, err := env.store.PendingDigestItems(ctx, "m1", "weekly", target.SendAt.UnixMilli())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d pending items, want 2", len(items))
	}

	msg, err := env.engine.ProcessDigestGroup(ctx, "m1", "weekly", target.SendAt.UnixMilli())
	if err != nil {
		t.Fatal(err)
	}
	if msg == "" {
		t.Fatal("expected a completion message")
	}
	sent := env.notifier.sent()
	if len(sent) != 1 {
		t.Fatalf("got %d digest sends, want 1", len(sent))
	}
	if len(sent[0].ChangeIDs) != 2 {
		t.Fatalf("digest must cover both changes, got %v", sent[0].ChangeIDs)
	}

	if _, err := env.engine.ProcessDigestGroup(ctx, "m1", "weekly", target.SendAt.UnixMilli()); !errors.Is(err, ErrNothingPending) {
		t.Fatalf("got %v, want ErrNothingPending", err)
	}
}

func TestDigestSendFailureLeavesItemsPending(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)
	m := env.addMonitor(t, "")
	env.addDigestChannel(t, "weekly")
	env.notifier.errs["weekly"] = errors.New("telegram down")
	ctx := context.Background()

	env.engine.CheckMonitor(ctx, m)
	env.fetcher.content = "hello\nnews"
	env.engine.CheckMonitor(ctx, m)

	target := ComputeDigestTarget(env.engine.now())
	if _, err := env.engine.ProcessDigestGroup(ctx, "m1", "weekly", target.SendAt.UnixMilli()); err == nil {
		t.Fatal("expected send failure to surface")
	}
	items, _ := env.store.PendingDigestItems(ctx, "m1", "weekly", target.SendAt.UnixMilli())
	if len(items) != 1 {
		t.Fatalf("got %d pending items after failed send, want 1", len(items))
	}
}
