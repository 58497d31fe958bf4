package vigil

import (
	"context"
	"fmt"

	"github.com/vigilio/vigil/internal/engine"
	"github.com/vigilio/vigil/internal/fetch"
	"github.com/vigilio/vigil/internal/queue"
	"github.com/vigilio/vigil/internal/scheduler"
	"github.com/vigilio/vigil/internal/store"
)

// AddMonitor validates, normalizes, and stores a new monitor.
func (s *Service) AddMonitor(ctx context.Context, m *store.Monitor) error {
	if m.ID == "" {
		m.ID = s.newID()
	}
	if m.CheckInterval == 0 {
		m.CheckInterval = 60
	}

	if err := validateMonitorInput(m); err != nil {
		return err
	}

	normalized, err := NormalizeMonitorURL(m.URL)
	if err != nil {
		return err
	}
	m.URL = normalized

	// SSRF guard: reject private and loopback targets up front rather than
	// at first fetch.
	if err := fetch.ValidateURL(m.URL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	count, err := s.store.CountMonitors(ctx)
	if err != nil {
		return fmt.Errorf("count monitors: %w", err)
	}
	if count >= MaxMonitors {
		return fmt.Errorf("%w: maximum %d monitors", ErrQuotaExceeded, MaxMonitors)
	}

	existing, _ := s.store.GetMonitorByURL(ctx, m.URL)
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateMonitor, m.URL)
	}

	return s.store.InsertMonitor(ctx, m)
}

// GetMonitor returns one monitor by id.
func (s *Service) GetMonitor(ctx context.Context, id string) (*store.Monitor, error) {
	m, err := s.store.GetMonitor(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: monitor %s", ErrNotFound, id)
	}
	return m, nil
}

// ListMonitors returns all monitors.
func (s *Service) ListMonitors(ctx context.Context) ([]*store.Monitor, error) {
	return s.store.ListMonitors(ctx)
}

// UpdateMonitor updates a monitor's mutable fields. Missing fields are
// filled from the stored row before validation.
func (s *Service) UpdateMonitor(ctx context.Context, m *store.Monitor) error {
	existing, err := s.store.GetMonitor(ctx, m.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: monitor %s", ErrNotFound, m.ID)
	}

	if m.Name == "" {
		m.Name = existing.Name
	}
	if m.URL == "" {
		m.URL = existing.URL
	}
	if m.CheckInterval == 0 {
		m.CheckInterval = existing.CheckInterval
	}
	if m.ContentType == "" {
		m.ContentType = existing.ContentType
	}
	if m.ConfigJSON == "" {
		m.ConfigJSON = existing.ConfigJSON
	}

	if err := validateMonitorInput(m); err != nil {
		return err
	}
	normalized, err := NormalizeMonitorURL(m.URL)
	if err != nil {
		return err
	}
	m.URL = normalized
	if m.URL != existing.URL {
		if err := fetch.ValidateURL(m.URL); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if dup, _ := s.store.GetMonitorByURL(ctx, m.URL); dup != nil && dup.ID != m.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateMonitor, m.URL)
		}
	}

	return s.store.UpdateMonitor(ctx, m)
}

// DeleteMonitor removes a monitor and, via foreign keys, its history.
func (s *Service) DeleteMonitor(ctx context.Context, id string) error {
	existing, err := s.store.GetMonitor(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: monitor %s", ErrNotFound, id)
	}
	return s.store.DeleteMonitor(ctx, id)
}

// CheckNow enqueues an immediate check job for a monitor, bypassing the
// due-time calculation. Returns the job id.
func (s *Service) CheckNow(ctx context.Context, monitorID string) (string, error) {
	m, err := s.store.GetMonitor(ctx, monitorID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", fmt.Errorf("%w: monitor %s", ErrNotFound, monitorID)
	}
	jobID, err := s.queue.Enqueue(ctx, scheduler.JobMonitorCheck, scheduler.CheckPayload{MonitorID: monitorID})
	if err != nil {
		return "", err
	}
	s.queue.RecordEvent(ctx, &queue.Event{
		JobID:     jobID,
		Type:      scheduler.JobMonitorCheck,
		Status:    queue.StatusQueued,
		MonitorID: monitorID,
		Message:   "manual check",
	})
	return jobID, nil
}

// CheckMonitor runs a check synchronously, outside the queue. Used by the
// CLI and tests.
func (s *Service) CheckMonitor(ctx context.Context, monitorID string) (*engine.CheckResult, error) {
	m, err := s.store.GetMonitor(ctx, monitorID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: monitor %s", ErrNotFound, monitorID)
	}
	return s.engine.CheckMonitor(ctx, m)
}

// ListChanges returns a monitor's recent changes, newest first.
func (s *Service) ListChanges(ctx context.Context, monitorID string, limit int) ([]*store.Change, error) {
	return s.store.ListChanges(ctx, monitorID, limit)
}

// JobEvents returns the audit trail of one job.
func (s *Service) JobEvents(ctx context.Context, jobID string) ([]*queue.Event, error) {
	return s.queue.ListEvents(ctx, jobID)
}
