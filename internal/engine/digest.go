package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vigilio/vigil/internal/notify"
	"github.com/vigilio/vigil/internal/store"
	"github.com/vigilio/vigil/internal/summary"
)

// ErrNothingPending is returned when a digest group has no unsent items,
// typically because a previous attempt already delivered them.
var ErrNothingPending = errors.New("engine: no pending digest items")

const digestSendHourUTC = 9

// DigestTarget identifies one weekly digest bucket.
type DigestTarget struct {
	// Key is the ISO date of the covered week's Monday.
	Key string
	// SendAt is the following Monday at 09:00 UTC.
	SendAt time.Time
}

// ComputeDigestTarget buckets a reference time into its calendar week:
// changes accumulate against the Monday that started the week and go out
// the next Monday morning.
func ComputeDigestTarget(ref time.Time) DigestTarget {
	ref = ref.UTC()
	daysSinceMonday := (int(ref.Weekday()) + 6) % 7
	monday := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -daysSinceMonday)
	return DigestTarget{
		Key:    monday.Format("2006-01-02"),
		SendAt: monday.AddDate(0, 0, 7).Add(digestSendHourUTC * time.Hour),
	}
}

// enqueueDigestItems queues one digest item per change for a weekly
// channel. Duplicate (channel, change) pairs are already-queued no-ops.
func (e *Engine) enqueueDigestItems(ctx context.Context, m *store.Monitor, channelID string, changes []*store.Change, now time.Time) {
	target := ComputeDigestTarget(now)
	for _, c := range changes {
		inserted, err := e.store.InsertDigestItem(ctx, &store.DigestItem{
			ID:        e.newID(),
			MonitorID: m.ID,
			ChannelID: channelID,
			ChangeID:  c.ID,
			DigestAt:  target.SendAt.UnixMilli(),
			DigestKey: target.Key,
		})
		if err != nil {
			e.logger.Error("enqueue digest item",
				"monitor", m.ID, "channel", channelID, "change", c.ID, "error", err)
			continue
		}
		if !inserted {
			e.logger.Debug("digest item already queued", "channel", channelID, "change", c.ID)
		}
	}
}

// ProcessDigestGroup drains one due digest bucket: aggregate all pending
// items into a single message, send it, then mark the items sent. A send
// failure leaves the items pending for the next attempt.
func (e *Engine) ProcessDigestGroup(ctx context.Context, monitorID, channelID string, digestAt int64) (string, error) {
	items, err := e.store.PendingDigestItems(ctx, monitorID, channelID, digestAt)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", ErrNothingPending
	}

	m, err := e.store.GetMonitor(ctx, monitorID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", fmt.Errorf("engine: digest monitor %s missing", monitorID)
	}
	ch, err := e.store.GetChannel(ctx, channelID)
	if err != nil {
		return "", err
	}
	if ch == nil || !ch.Enabled {
		return "", fmt.Errorf("engine: digest channel %s missing or disabled", channelID)
	}

	slices := make([]summary.Slice, 0, len(items))
	itemIDs := make([]string, 0, len(items))
	changeIDs := make([]string, 0, len(items))
	for _, item := range items {
		itemIDs = append(itemIDs, item.ID)
		c, err := e.store.GetChange(ctx, item.ChangeID)
		if err != nil {
			return "", err
		}
		if c == nil {
			// Change trimmed by retention after it was queued; nothing to
			// render for it.
			continue
		}
		changeIDs = append(changeIDs, c.ID)
		fallback := c.AISummary
		if fallback == "" {
			fallback = c.Summary
		}
		sl := summary.Slice{Structured: summary.UnmarshalMeta(c.AIMetaJSON), Fallback: fallback}
		if c.ReleaseVersion != nil {
			sl.Version = *c.ReleaseVersion
		}
		slices = append(slices, sl)
	}

	now := e.now()
	if len(slices) > 0 {
		_, body := summary.Aggregate(slices)
		msg := &notify.Message{
			MonitorID:   m.ID,
			MonitorName: m.Name,
			Title:       fmt.Sprintf("Weekly digest: %d update(s)", len(slices)),
			Body:        body,
			ChangeIDs:   changeIDs,
			SentAt:      now.UnixMilli(),
		}
		if err := e.notifier.Send(ctx, ch, msg); err != nil {
			return "", fmt.Errorf("engine: send digest: %w", err)
		}
	}

	if err := e.store.MarkDigestItemsSent(ctx, itemIDs, now); err != nil {
		return "", err
	}
	if err := e.store.UpdateLinkDigestedAt(ctx, monitorID, channelID, now.UnixMilli()); err != nil {
		e.logger.Warn("update last digest time", "monitor", monitorID, "channel", channelID, "error", err)
	}
	return fmt.Sprintf("digest sent: %d item(s)", len(itemIDs)), nil
}
