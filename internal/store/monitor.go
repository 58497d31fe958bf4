package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const monitorCols = `id, name, url, content_type, check_interval, enabled,
	config_json, last_etag, last_modified, last_checked_at, created_at, updated_at`

// InsertMonitor adds a new monitor.
func (s *Store) InsertMonitor(ctx context.Context, m *Monitor) error {
	now := time.Now().UnixMilli()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = now
	}
	if m.CheckInterval == 0 {
		m.CheckInterval = 60
	}
	if m.ConfigJSON == "" {
		m.ConfigJSON = "{}"
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO monitors (id, name, url, content_type, check_interval, enabled,
		config_json, last_etag, last_modified, last_checked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.URL, m.ContentType, m.CheckInterval, m.Enabled,
		m.ConfigJSON, m.LastETag, m.LastModified, m.LastCheckedAt, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

// GetMonitor retrieves a monitor by ID. Returns nil, nil when absent.
func (s *Store) GetMonitor(ctx context.Context, id string) (*Monitor, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+monitorCols+` FROM monitors WHERE id = ?`, id)
	return scanMonitor(row.Scan)
}

// GetMonitorByURL returns a monitor matching the given URL, or nil.
func (s *Store) GetMonitorByURL(ctx context.Context, url string) (*Monitor, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+monitorCols+` FROM monitors WHERE url = ? LIMIT 1`, url)
	return scanMonitor(row.Scan)
}

// ListMonitors returns all monitors, newest first.
func (s *Store) ListMonitors(ctx context.Context) ([]*Monitor, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+monitorCols+` FROM monitors ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMonitors(rows)
}

// UpdateMonitor updates a monitor's caller-owned fields.
func (s *Store) UpdateMonitor(ctx context.Context, m *Monitor) error {
	m.UpdatedAt = time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE monitors SET name=?, url=?, content_type=?, check_interval=?,
		enabled=?, config_json=?, updated_at=? WHERE id=?`,
		m.Name, m.URL, m.ContentType, m.CheckInterval,
		m.Enabled, m.ConfigJSON, m.UpdatedAt, m.ID,
	)
	return err
}

// DeleteMonitor removes a monitor (cascades to snapshots, changes, links,
// digest items). The engine never calls this; only the API surface does.
func (s *Store) DeleteMonitor(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM monitors WHERE id = ?`, id)
	return err
}

// CountMonitors returns the total number of monitors.
func (s *Store) CountMonitors(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM monitors`).Scan(&n)
	return n, err
}

// DueMonitors returns enabled monitors whose next check time has passed.
// next check = last_checked_at + check_interval minutes; a monitor that has
// never been checked is always due.
func (s *Store) DueMonitors(ctx context.Context, now time.Time) ([]*Monitor, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+monitorCols+` FROM monitors
		WHERE enabled = 1
		  AND (last_checked_at IS NULL OR last_checked_at + check_interval*60000 <= ?)
		ORDER BY last_checked_at ASC NULLS FIRST`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMonitors(rows)
}

// UpdateMonitorValidators stores the conditional-request validators
// returned by the monitor's last successful fetch. Empty values clear the
// stored validators, so a source that stops sending them falls back to
// unconditional requests.
func (s *Store) UpdateMonitorValidators(ctx context.Context, id, etag, lastModified string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE monitors SET last_etag=?, last_modified=? WHERE id=?`,
		etag, lastModified, id)
	return err
}

// TouchMonitorChecked updates last_checked_at to now.
func (s *Store) TouchMonitorChecked(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE monitors SET last_checked_at=?, updated_at=? WHERE id=?`,
		now, now, id)
	return err
}

func scanMonitor(scan func(...any) error) (*Monitor, error) {
	var m Monitor
	var enabled int
	err := scan(
		&m.ID, &m.Name, &m.URL, &m.ContentType, &m.CheckInterval, &enabled,
		&m.ConfigJSON, &m.LastETag, &m.LastModified, &m.LastCheckedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan monitor: %w", err)
	}
	m.Enabled = enabled != 0
	return &m, nil
}

func collectMonitors(rows *sql.Rows) ([]*Monitor, error) {
	var monitors []*Monitor
	for rows.Next() {
		m, err := scanMonitor(rows.Scan)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, m)
	}
	return monitors, rows.Err()
}
