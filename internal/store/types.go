package store

// Monitor is a configured watch target. The engine only ever mutates
// last_checked_at and the fetch validators; everything else belongs to the
// caller.
type Monitor struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	ContentType   string `json:"content_type"`   // plugin hint: "", "html", "text", "github", "rss"
	CheckInterval int64  `json:"check_interval"` // minutes
	Enabled       bool   `json:"enabled"`
	ConfigJSON    string `json:"config_json"`
	LastETag      string `json:"-"` // validator from the last successful fetch
	LastModified  string `json:"-"`
	LastCheckedAt *int64 `json:"last_checked_at,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// Snapshot is one persisted normalized-content capture. Immutable once written.
type Snapshot struct {
	ID             string  `json:"id"`
	MonitorID      string  `json:"monitor_id"`
	ContentHash    string  `json:"content_hash"`
	Content        string  `json:"content"`
	ReleaseVersion *string `json:"release_version,omitempty"`
	CreatedAt      int64   `json:"created_at"`
}

// Change is a detected, notify-eligible transition between two snapshots.
// Never mutated except to attach or refresh the AI summary.
type Change struct {
	ID               string  `json:"id"`
	MonitorID        string  `json:"monitor_id"`
	BeforeSnapshotID *string `json:"before_snapshot_id,omitempty"`
	AfterSnapshotID  string  `json:"after_snapshot_id"`
	Summary          string  `json:"summary"`
	AISummary        string  `json:"ai_summary,omitempty"`
	AIMetaJSON       string  `json:"ai_meta_json,omitempty"`
	DiffType         string  `json:"diff_type"` // addition | modification | deletion
	ReleaseVersion   *string `json:"release_version,omitempty"`
	CreatedAt        int64   `json:"created_at"`
}

// Channel is a notification endpoint. ConfigEnc is the encrypted
// configuration blob; only the notifier can read it.
type Channel struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // webhook | discord | telegram
	Name      string `json:"name"`
	ConfigEnc []byte `json:"-"`
	Enabled   bool   `json:"enabled"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Channel types.
const (
	ChannelWebhook  = "webhook"
	ChannelDiscord  = "discord"
	ChannelTelegram = "telegram"
)

// Delivery modes for a monitor-channel link.
const (
	DeliveryImmediate    = "immediate"
	DeliveryWeeklyDigest = "weekly_digest"
)

// MonitorChannel links a monitor to a channel and governs dispatch
// partitioning.
type MonitorChannel struct {
	MonitorID    string `json:"monitor_id"`
	ChannelID    string `json:"channel_id"`
	IncludeLink  bool   `json:"include_link"`
	DeliveryMode string `json:"delivery_mode"`
	LastDigestAt *int64 `json:"last_digest_at,omitempty"`
}

// ChannelLink is a channel joined with its per-monitor link settings,
// as consumed by the dispatch partition step.
type ChannelLink struct {
	Channel Channel
	Link    MonitorChannel
}

// DigestItem queues one change into one channel's weekly digest bucket.
type DigestItem struct {
	ID        string `json:"id"`
	MonitorID string `json:"monitor_id"`
	ChannelID string `json:"channel_id"`
	ChangeID  string `json:"change_id"`
	DigestAt  int64  `json:"digest_at"`
	DigestKey string `json:"digest_key"`
	SentAt    *int64 `json:"sent_at,omitempty"`
}

// DigestGroup is a pending digest bucket: all unsent items for one
// (monitor, channel, send time).
type DigestGroup struct {
	MonitorID string
	ChannelID string
	DigestAt  int64
	ItemIDs   []string
	ChangeIDs []string
}
