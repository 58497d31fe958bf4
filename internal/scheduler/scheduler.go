// Package scheduler polls for due monitors and due digest buckets and hands
// work to the job store. It never executes work itself.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vigilio/vigil/internal/queue"
	"github.com/vigilio/vigil/internal/store"
)

// Job type names shared with the worker pool.
const (
	JobMonitorCheck = "monitor.check"
	JobDigestSend   = "notification.digest"
)

// CheckPayload is the payload of a monitor.check job.
type CheckPayload struct {
	MonitorID string `json:"monitor_id"`
}

// DigestPayload is the payload of a notification.digest job.
type DigestPayload struct {
	MonitorID string `json:"monitor_id"`
	ChannelID string `json:"channel_id"`
	DigestAt  int64  `json:"digest_at"`
}

// Config configures the scheduler.
type Config struct {
	// TickInterval is how often to poll. Default: 1 minute.
	TickInterval time.Duration
}

func (c *Config) defaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
}

// Scheduler periodically enqueues check and digest jobs.
type Scheduler struct {
	store  *store.Store
	queue  *queue.Queue
	config Config
	logger *slog.Logger
	now    func() time.Time

	// running guards against overlapping ticks: a tick that finds the
	// previous one still in flight logs and returns.
	running sync.Mutex
}

// New creates a Scheduler.
func New(st *store.Store, q *queue.Queue, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:  st,
		queue:  q,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Run ticks on a fixed interval. Blocks until ctx is cancelled. The first
// tick fires immediately on start.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass: enqueue a check job per due monitor and a
// digest job per due pending bucket. Overlapping ticks never run
// concurrently.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Info("scheduler: previous tick still running, skipping")
		return
	}
	defer s.running.Unlock()

	now := s.now()
	s.enqueueDueChecks(ctx, now)
	s.enqueueDueDigests(ctx, now)
}

func (s *Scheduler) enqueueDueChecks(ctx context.Context, now time.Time) {
	due, err := s.store.DueMonitors(ctx, now)
	if err != nil {
		s.logger.Error("scheduler: list due monitors", "error", err)
		return
	}
	for _, m := range due {
		jobID, err := s.queue.Enqueue(ctx, JobMonitorCheck, CheckPayload{MonitorID: m.ID})
		if err != nil {
			s.logger.Warn("scheduler: enqueue check", "monitor_id", m.ID, "error", err)
			continue
		}
		// Audit is best-effort: a failed event write never aborts the enqueue.
		s.queue.RecordEvent(ctx, &queue.Event{
			JobID:     jobID,
			Type:      JobMonitorCheck,
			Status:    queue.StatusQueued,
			MonitorID: m.ID,
		})
	}
	if len(due) > 0 {
		s.logger.Debug("scheduler: enqueued checks", "count", len(due))
	}
}

func (s *Scheduler) enqueueDueDigests(ctx context.Context, now time.Time) {
	groups, err := s.store.ListPendingDigestGroups(ctx, now)
	if err != nil {
		s.logger.Error("scheduler: list pending digests", "error", err)
		return
	}
	for _, g := range groups {
		jobID, err := s.queue.Enqueue(ctx, JobDigestSend, DigestPayload{
			MonitorID: g.MonitorID,
			ChannelID: g.ChannelID,
			DigestAt:  g.DigestAt,
		})
		if err != nil {
			s.logger.Warn("scheduler: enqueue digest", "monitor_id", g.MonitorID,
				"channel_id", g.ChannelID, "error", err)
			continue
		}
		s.queue.RecordEvent(ctx, &queue.Event{
			JobID:     jobID,
			Type:      JobDigestSend,
			Status:    queue.StatusQueued,
			MonitorID: g.MonitorID,
		})
	}
	if len(groups) > 0 {
		s.logger.Debug("scheduler: enqueued digests", "count", len(groups))
	}
}
