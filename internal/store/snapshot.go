package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const snapshotCols = `id, monitor_id, content_hash, content, release_version, created_at`

// ErrDuplicateVersion reports an attempt to insert a second snapshot for the
// same (monitor, release version). Callers treat it as an idempotency
// collision, not a failure.
var ErrDuplicateVersion = fmt.Errorf("store: snapshot version already exists")

// InsertSnapshot persists a snapshot. Returns ErrDuplicateVersion when a
// versioned snapshot for the same (monitor, version) already exists.
func (s *Store) InsertSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.CreatedAt == 0 {
		snap.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO snapshots (id, monitor_id, content_hash, content, release_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.MonitorID, snap.ContentHash, snap.Content, snap.ReleaseVersion, snap.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateVersion
	}
	return err
}

// GetSnapshot retrieves a snapshot by ID. Returns nil, nil when absent.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+snapshotCols+` FROM snapshots WHERE id = ?`, id)
	return scanSnapshot(row.Scan)
}

// LatestSnapshot returns the most recent snapshot for a monitor, or nil.
func (s *Store) LatestSnapshot(ctx context.Context, monitorID string) (*Snapshot, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+snapshotCols+` FROM snapshots
		WHERE monitor_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, monitorID)
	return scanSnapshot(row.Scan)
}

// LatestVersionedSnapshot returns the most recent snapshot carrying a
// release version, or nil. This anchors release-slice reconciliation.
func (s *Store) LatestVersionedSnapshot(ctx context.Context, monitorID string) (*Snapshot, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+snapshotCols+` FROM snapshots
		WHERE monitor_id = ? AND release_version IS NOT NULL
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, monitorID)
	return scanSnapshot(row.Scan)
}

// SnapshotByVersion returns the snapshot for an exact release version, or nil.
func (s *Store) SnapshotByVersion(ctx context.Context, monitorID, version string) (*Snapshot, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+snapshotCols+` FROM snapshots
		WHERE monitor_id = ? AND release_version = ? LIMIT 1`, monitorID, version)
	return scanSnapshot(row.Scan)
}

// CountSnapshots returns the number of snapshots for a monitor.
func (s *Store) CountSnapshots(ctx context.Context, monitorID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE monitor_id = ?`, monitorID).Scan(&n)
	return n, err
}

// TrimSnapshots deletes all but the keep most recent snapshots for a
// monitor. keep == 0 deletes every snapshot. Returns rows deleted.
func (s *Store) TrimSnapshots(ctx context.Context, monitorID string, keep int) (int64, error) {
	if keep < 0 {
		return 0, nil
	}
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM snapshots WHERE monitor_id = ? AND id NOT IN (
			SELECT id FROM snapshots WHERE monitor_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, monitorID, monitorID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSnapshot(scan func(...any) error) (*Snapshot, error) {
	var snap Snapshot
	err := scan(
		&snap.ID, &snap.MonitorID, &snap.ContentHash, &snap.Content,
		&snap.ReleaseVersion, &snap.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	return &snap, nil
}
