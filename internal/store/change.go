package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const changeCols = `id, monitor_id, before_snapshot_id, after_snapshot_id,
	summary, ai_summary, ai_meta_json, diff_type, release_version, created_at`

// InsertChange records a detected change.
func (s *Store) InsertChange(ctx context.Context, c *Change) error {
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().UnixMilli()
	}
	if c.DiffType == "" {
		c.DiffType = "modification"
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO changes (id, monitor_id, before_snapshot_id, after_snapshot_id,
		summary, ai_summary, ai_meta_json, diff_type, release_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.MonitorID, c.BeforeSnapshotID, c.AfterSnapshotID,
		c.Summary, c.AISummary, c.AIMetaJSON, c.DiffType, c.ReleaseVersion, c.CreatedAt,
	)
	return err
}

// GetChange retrieves a change by ID. Returns nil, nil when absent.
func (s *Store) GetChange(ctx context.Context, id string) (*Change, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+changeCols+` FROM changes WHERE id = ?`, id)
	return scanChange(row.Scan)
}

// ListChanges returns the most recent changes for a monitor.
func (s *Store) ListChanges(ctx context.Context, monitorID string, limit int) ([]*Change, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+changeCols+` FROM changes
		WHERE monitor_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		monitorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []*Change
	for rows.Next() {
		c, err := scanChange(rows.Scan)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// UpdateChangeAISummary attaches or refreshes the AI summary on a change.
// This is the only permitted change mutation.
func (s *Store) UpdateChangeAISummary(ctx context.Context, id, aiSummary, aiMetaJSON string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE changes SET ai_summary=?, ai_meta_json=? WHERE id=?`,
		aiSummary, aiMetaJSON, id)
	return err
}

// CountChanges returns the number of changes for a monitor.
func (s *Store) CountChanges(ctx context.Context, monitorID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM changes WHERE monitor_id = ?`, monitorID).Scan(&n)
	return n, err
}

// TrimChanges deletes all but the keep most recent changes for a monitor.
// keep == 0 deletes every change. Returns rows deleted.
func (s *Store) TrimChanges(ctx context.Context, monitorID string, keep int) (int64, error) {
	if keep < 0 {
		return 0, nil
	}
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM changes WHERE monitor_id = ? AND id NOT IN (
			SELECT id FROM changes WHERE monitor_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, monitorID, monitorID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanChange(scan func(...any) error) (*Change, error) {
	var c Change
	err := scan(
		&c.ID, &c.MonitorID, &c.BeforeSnapshotID, &c.AfterSnapshotID,
		&c.Summary, &c.AISummary, &c.AIMetaJSON, &c.DiffType, &c.ReleaseVersion, &c.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan change: %w", err)
	}
	return &c, nil
}
