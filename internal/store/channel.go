package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const channelCols = `id, type, name, config_enc, enabled, created_at, updated_at`

// InsertChannel adds a notification channel.
func (s *Store) InsertChannel(ctx context.Context, c *Channel) error {
	now := time.Now().UnixMilli()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	if c.UpdatedAt == 0 {
		c.UpdatedAt = now
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO channels (id, type, name, config_enc, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Type, c.Name, c.ConfigEnc, c.Enabled, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetChannel retrieves a channel by ID. Returns nil, nil when absent.
func (s *Store) GetChannel(ctx context.Context, id string) (*Channel, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+channelCols+` FROM channels WHERE id = ?`, id)
	return scanChannel(row.Scan)
}

// ListChannels returns all channels.
func (s *Store) ListChannels(ctx context.Context) ([]*Channel, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+channelCols+` FROM channels ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		c, err := scanChannel(rows.Scan)
		if err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// UpdateChannel updates a channel's mutable fields.
func (s *Store) UpdateChannel(ctx context.Context, c *Channel) error {
	c.UpdatedAt = time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE channels SET type=?, name=?, config_enc=?, enabled=?, updated_at=? WHERE id=?`,
		c.Type, c.Name, c.ConfigEnc, c.Enabled, c.UpdatedAt, c.ID,
	)
	return err
}

// DeleteChannel removes a channel (cascades to links and digest items).
func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	return err
}

// LinkChannel attaches a channel to a monitor. Re-linking an existing pair
// updates the link settings in place.
func (s *Store) LinkChannel(ctx context.Context, l *MonitorChannel) error {
	if l.DeliveryMode == "" {
		l.DeliveryMode = DeliveryImmediate
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO monitor_channels (monitor_id, channel_id, include_link, delivery_mode, last_digest_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(monitor_id, channel_id) DO UPDATE SET
			include_link=excluded.include_link,
			delivery_mode=excluded.delivery_mode`,
		l.MonitorID, l.ChannelID, l.IncludeLink, l.DeliveryMode, l.LastDigestAt,
	)
	return err
}

// UnlinkChannel detaches a channel from a monitor.
func (s *Store) UnlinkChannel(ctx context.Context, monitorID, channelID string) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM monitor_channels WHERE monitor_id = ? AND channel_id = ?`,
		monitorID, channelID)
	return err
}

// ListChannelLinks returns all enabled channels linked to a monitor with
// their link settings, for dispatch partitioning.
func (s *Store) ListChannelLinks(ctx context.Context, monitorID string) ([]ChannelLink, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT c.id, c.type, c.name, c.config_enc, c.enabled, c.created_at, c.updated_at,
			mc.monitor_id, mc.channel_id, mc.include_link, mc.delivery_mode, mc.last_digest_at
		FROM monitor_channels mc
		JOIN channels c ON c.id = mc.channel_id
		WHERE mc.monitor_id = ? AND c.enabled = 1`, monitorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []ChannelLink
	for rows.Next() {
		var cl ChannelLink
		var enabled, includeLink int
		err := rows.Scan(
			&cl.Channel.ID, &cl.Channel.Type, &cl.Channel.Name, &cl.Channel.ConfigEnc,
			&enabled, &cl.Channel.CreatedAt, &cl.Channel.UpdatedAt,
			&cl.Link.MonitorID, &cl.Link.ChannelID, &includeLink,
			&cl.Link.DeliveryMode, &cl.Link.LastDigestAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan channel link: %w", err)
		}
		cl.Channel.Enabled = enabled != 0
		cl.Link.IncludeLink = includeLink != 0
		links = append(links, cl)
	}
	return links, rows.Err()
}

// UpdateLinkDigestedAt records the last digest delivery time on a link.
func (s *Store) UpdateLinkDigestedAt(ctx context.Context, monitorID, channelID string, at int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE monitor_channels SET last_digest_at = ? WHERE monitor_id = ? AND channel_id = ?`,
		at, monitorID, channelID)
	return err
}

func scanChannel(scan func(...any) error) (*Channel, error) {
	var c Channel
	var enabled int
	err := scan(&c.ID, &c.Type, &c.Name, &c.ConfigEnc, &enabled, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	c.Enabled = enabled != 0
	return &c, nil
}
