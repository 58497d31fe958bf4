// Package queue implements the durable SQLite-backed job store.
//
// Jobs move queued → started → done | failed, with "skipped" recorded as a
// done outcome in the audit log. A job stuck in started past the configured
// timeout is swept back to queued, so delivery is at-least-once and every
// handler must be idempotent. Claiming is a single UPDATE … RETURNING on
// one queued row, so two workers can never take the same job.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job statuses.
const (
	StatusQueued  = "queued"
	StatusStarted = "started"
	StatusDone    = "done"
	StatusFailed  = "failed"
	StatusSkipped = "skipped" // job_events only; the job row records done
)

// Schema holds the jobs, job_events, and job_locks tables.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id          TEXT PRIMARY KEY,
    type        TEXT NOT NULL,
    payload     TEXT NOT NULL DEFAULT '{}',
    status      TEXT NOT NULL DEFAULT 'queued' CHECK(status IN ('queued','started','done','failed')),
    attempts    INTEGER NOT NULL DEFAULT 0,
    message     TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    started_at  INTEGER,
    finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, created_at);

CREATE TABLE IF NOT EXISTS job_events (
    id         TEXT PRIMARY KEY,
    job_id     TEXT NOT NULL,
    type       TEXT NOT NULL,
    status     TEXT NOT NULL CHECK(status IN ('queued','started','skipped','done','failed')),
    monitor_id TEXT,
    message    TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, created_at);

CREATE TABLE IF NOT EXISTS job_locks (
    type        TEXT NOT NULL,
    key         TEXT NOT NULL,
    job_id      TEXT NOT NULL,
    acquired_at INTEGER NOT NULL,
    PRIMARY KEY (type, key)
);
`

// Job is one durable work item.
type Job struct {
	ID         string
	Type       string
	Payload    []byte
	Status     string
	Attempts   int
	Message    string
	CreatedAt  int64
	StartedAt  *int64
	FinishedAt *int64
}

// Event is one append-only job lifecycle audit row.
type Event struct {
	ID        string
	JobID     string
	Type      string
	Status    string
	MonitorID string
	Message   string
	CreatedAt int64
}

// Options configures queue behaviour.
type Options struct {
	// StartedTimeout is how long a job may sit in started before the
	// maintenance sweep requeues it. Default: 10 minutes.
	StartedTimeout time.Duration
	// Retention is how long done/failed jobs are kept. Default: 7 days.
	Retention time.Duration
	// LockTimeout is the age past which job locks are considered stale
	// and purged on process start. Default: 15 minutes.
	LockTimeout time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.StartedTimeout <= 0 {
		o.StartedTimeout = 10 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = 7 * 24 * time.Hour
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 15 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Queue is the job store handle.
type Queue struct {
	db    *sql.DB
	opts  Options
	newID func() string
}

// New creates a queue handle. Call EnsureSchema once at startup.
func New(db *sql.DB, opts Options) *Queue {
	opts.defaults()
	return &Queue{
		db:    db,
		opts:  opts,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// EnsureSchema creates the queue tables and purges stale locks left behind
// by a crashed process.
func (q *Queue) EnsureSchema(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("queue: ensure schema: %w", err)
	}
	if _, err := q.PurgeStaleLocks(ctx); err != nil {
		return fmt.Errorf("queue: purge stale locks: %w", err)
	}
	return nil
}

// Enqueue inserts a durable job, immediately visible to any worker.
// payload is JSON-marshalled.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any) (string, error) {
	blob, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: marshal payload: %w", err)
	}
	id := q.newID()
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO jobs (id, type, payload, status, created_at) VALUES (?, ?, ?, 'queued', ?)`,
		id, jobType, string(blob), time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return id, nil
}

// Claim atomically selects the oldest queued job and marks it started.
// Returns nil, nil when no job is available.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	now := time.Now().UnixMilli()
	row := q.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'started', started_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs WHERE status = 'queued'
			ORDER BY created_at ASC, rowid ASC
			LIMIT 1
		)
		RETURNING id, type, payload, status, attempts, message, created_at, started_at, finished_at`,
		now)

	var j Job
	var payload string
	err := row.Scan(&j.ID, &j.Type, &payload, &j.Status, &j.Attempts, &j.Message,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: claim: %w", err)
	}
	j.Payload = []byte(payload)
	return &j, nil
}

// Complete marks a started job done with a short message.
func (q *Queue) Complete(ctx context.Context, id, message string) error {
	return q.finish(ctx, id, StatusDone, message)
}

// Fail marks a started job failed with the error text. Failed jobs are not
// retried automatically; retry is an explicit re-enqueue decision.
func (q *Queue) Fail(ctx context.Context, id, errText string) error {
	return q.finish(ctx, id, StatusFailed, errText)
}

func (q *Queue) finish(ctx context.Context, id, status, message string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, message = ?, finished_at = ? WHERE id = ? AND status = 'started'`,
		status, message, time.Now().UnixMilli(), id)
	return err
}

// GetJob retrieves a job by ID. Returns nil, nil when absent.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, type, payload, status, attempts, message, created_at, started_at, finished_at
		FROM jobs WHERE id = ?`, id)
	var j Job
	var payload string
	err := row.Scan(&j.ID, &j.Type, &payload, &j.Status, &j.Attempts, &j.Message,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.Payload = []byte(payload)
	return &j, nil
}

// RequeueStuck moves jobs stuck in started past the timeout back to queued.
// Returns the number of jobs requeued.
func (q *Queue) RequeueStuck(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-q.opts.StartedTimeout).UnixMilli()
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'queued', started_at = NULL
		WHERE status = 'started' AND started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeFinished deletes done/failed jobs older than the retention window,
// along with their audit events. Returns jobs deleted.
func (q *Queue) PurgeFinished(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-q.opts.Retention).UnixMilli()
	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM job_events WHERE job_id IN (
			SELECT id FROM jobs WHERE status IN ('done','failed') AND finished_at < ?
		)`, cutoff); err != nil {
		return 0, err
	}
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN ('done','failed') AND finished_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecordEvent appends a job lifecycle audit row. Callers treat failures as
// best-effort: a missing audit row must never abort the operation it logs.
func (q *Queue) RecordEvent(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = q.newID()
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().UnixMilli()
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO job_events (id, job_id, type, status, monitor_id, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.JobID, ev.Type, ev.Status, nullable(ev.MonitorID), ev.Message, ev.CreatedAt)
	if err != nil {
		q.opts.Logger.Warn("queue: record event failed", "job_id", ev.JobID, "error", err)
	}
	return err
}

// ListEvents returns the audit trail for a job, oldest first.
func (q *Queue) ListEvents(ctx context.Context, jobID string) ([]*Event, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, job_id, type, status, COALESCE(monitor_id, ''), message, created_at
		FROM job_events WHERE job_id = ? ORDER BY created_at ASC, rowid ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.Type, &ev.Status, &ev.MonitorID,
			&ev.Message, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// AcquireLock takes the (type, key) lock for a job. Returns false when the
// lock is already held; the unique primary key makes this race-free.
func (q *Queue) AcquireLock(ctx context.Context, lockType, key, jobID string) (bool, error) {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO job_locks (type, key, job_id, acquired_at) VALUES (?, ?, ?, ?)`,
		lockType, key, jobID, time.Now().UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
			strings.Contains(err.Error(), "constraint failed") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ReleaseLock releases the (type, key) lock.
func (q *Queue) ReleaseLock(ctx context.Context, lockType, key string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM job_locks WHERE type = ? AND key = ?`, lockType, key)
	return err
}

// PurgeStaleLocks removes locks older than the lock timeout. Run on process
// start to recover locks orphaned by a crash.
func (q *Queue) PurgeStaleLocks(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-q.opts.LockTimeout).UnixMilli()
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM job_locks WHERE acquired_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
