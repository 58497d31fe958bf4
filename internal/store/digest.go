package store

import (
	"context"
	"time"
)

// InsertDigestItem queues a change into a channel's digest bucket.
// A duplicate (channel, change) enqueue is a no-op; the bool reports
// whether a row was actually inserted.
func (s *Store) InsertDigestItem(ctx context.Context, item *DigestItem) (bool, error) {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO digest_items (id, monitor_id, channel_id, change_id, digest_at, digest_key, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		item.ID, item.MonitorID, item.ChannelID, item.ChangeID, item.DigestAt, item.DigestKey,
	)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListPendingDigestGroups returns unsent digest buckets whose send time is
// at or before cutoff, grouped by (monitor, channel, send time).
func (s *Store) ListPendingDigestGroups(ctx context.Context, cutoff time.Time) ([]*DigestGroup, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, monitor_id, channel_id, change_id, digest_at
		FROM digest_items
		WHERE sent_at IS NULL AND digest_at <= ?
		ORDER BY monitor_id, channel_id, digest_at, rowid`, cutoff.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*DigestGroup
	var cur *DigestGroup
	for rows.Next() {
		var id, monitorID, channelID, changeID string
		var digestAt int64
		if err := rows.Scan(&id, &monitorID, &channelID, &changeID, &digestAt); err != nil {
			return nil, err
		}
		if cur == nil || cur.MonitorID != monitorID || cur.ChannelID != channelID || cur.DigestAt != digestAt {
			cur = &DigestGroup{MonitorID: monitorID, ChannelID: channelID, DigestAt: digestAt}
			groups = append(groups, cur)
		}
		cur.ItemIDs = append(cur.ItemIDs, id)
		cur.ChangeIDs = append(cur.ChangeIDs, changeID)
	}
	return groups, rows.Err()
}

// PendingDigestItems returns the unsent items of one digest bucket.
func (s *Store) PendingDigestItems(ctx context.Context, monitorID, channelID string, digestAt int64) ([]*DigestItem, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, monitor_id, channel_id, change_id, digest_at, digest_key, sent_at
		FROM digest_items
		WHERE monitor_id = ? AND channel_id = ? AND digest_at = ? AND sent_at IS NULL
		ORDER BY rowid`, monitorID, channelID, digestAt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*DigestItem
	for rows.Next() {
		var it DigestItem
		if err := rows.Scan(&it.ID, &it.MonitorID, &it.ChannelID, &it.ChangeID,
			&it.DigestAt, &it.DigestKey, &it.SentAt); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// MarkDigestItemsSent stamps sent_at on the given items.
func (s *Store) MarkDigestItemsSent(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	ms := at.UnixMilli()
	for _, id := range ids {
		if _, err := s.DB.ExecContext(ctx,
			`UPDATE digest_items SET sent_at = ? WHERE id = ? AND sent_at IS NULL`, ms, id); err != nil {
			return err
		}
	}
	return nil
}
