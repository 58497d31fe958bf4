// Package vigil watches external sources for content changes and delivers
// structured, notification-worthy summaries through configured channels.
//
// The service wires a SQLite-backed store, a durable job queue with a
// worker pool, a periodic scheduler, and the per-monitor check engine.
package vigil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vigilio/vigil/internal/engine"
	"github.com/vigilio/vigil/internal/fetch"
	"github.com/vigilio/vigil/internal/notify"
	"github.com/vigilio/vigil/internal/plugin"
	"github.com/vigilio/vigil/internal/queue"
	"github.com/vigilio/vigil/internal/scheduler"
	"github.com/vigilio/vigil/internal/store"
	"github.com/vigilio/vigil/internal/summarize"
	"github.com/vigilio/vigil/internal/transform"
)

// lock type for per-monitor check exclusivity.
const lockMonitorCheck = "monitor.check"

// Service is the top-level vigil instance.
type Service struct {
	cfg      *Config
	store    *store.Store
	queue    *queue.Queue
	pool     *queue.Pool
	sched    *scheduler.Scheduler
	engine   *engine.Engine
	notifier *notify.Notifier
	logger   *slog.Logger
	newID    func() string

	cancel context.CancelFunc
	done   chan struct{}
}

// httpFetcher adapts the fetch package to the engine's Fetcher contract.
type httpFetcher struct {
	f *fetch.Fetcher
}

func (h httpFetcher) Fetch(ctx context.Context, url string, cond engine.Conditional) (*engine.FetchResult, error) {
	res, err := h.f.Fetch(ctx, url, fetch.Conditional{ETag: cond.ETag, LastMod: cond.LastMod})
	if err != nil {
		return nil, err
	}
	return &engine.FetchResult{
		NotModified: !res.Changed,
		Content:     res.Content,
		ContentType: res.ContentType,
		ETag:        res.ETag,
		LastMod:     res.LastMod,
	}, nil
}

// New opens the database and wires the service. Call Start to begin
// scheduling and processing.
func New(cfg *Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	q := queue.New(st.DB, queue.Options{Logger: logger})

	fetcher := fetch.New(fetch.Config{
		Timeout:      cfg.Fetch.Timeout,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		UserAgent:    cfg.Fetch.UserAgent,
		Logger:       logger,
	})

	notifier := notify.New(notify.NewSecretBox(cfg.EncryptionKey), logger)

	keepSnapshots, keepChanges := cfg.Retention.KeepCounts()
	deps := engine.Deps{
		Store:       st,
		Plugins:     plugin.NewRegistry(),
		Fetcher:     httpFetcher{f: fetcher},
		Transformer: transform.New(),
		Notifier:    notifier,
		Logger:      logger,
	}
	if s := summarize.New(summarize.Config{
		BaseURL:     cfg.Summarizer.BaseURL,
		APIKey:      cfg.Summarizer.APIKey,
		Model:       cfg.Summarizer.Model,
		Temperature: cfg.Summarizer.Temperature,
		Timeout:     cfg.Summarizer.Timeout,
		Logger:      logger,
	}); s != nil {
		deps.Summarizer = s
	}
	eng := engine.New(deps, engine.Config{
		KeepSnapshots:         keepSnapshots,
		KeepChanges:           keepChanges,
		NotifyOnFirstSnapshot: cfg.NotifyOnFirstSnapshot,
	})

	svc := &Service{
		cfg:      cfg,
		store:    st,
		queue:    q,
		engine:   eng,
		notifier: notifier,
		logger:   logger,
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
	}

	pool := queue.NewPool(q, queue.PoolOptions{Workers: cfg.Workers, Logger: logger})
	pool.Register(scheduler.JobMonitorCheck, svc.handleMonitorCheck)
	pool.Register(scheduler.JobDigestSend, svc.handleDigestSend)
	svc.pool = pool

	svc.sched = scheduler.New(st, q, scheduler.Config{TickInterval: cfg.TickInterval}, logger)

	return svc, nil
}

// Start ensures the schema and launches the scheduler and worker pool.
func (s *Service) Start(ctx context.Context) error {
	if err := store.ApplySchema(s.store.DB); err != nil {
		return err
	}
	if err := s.queue.EnsureSchema(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		go s.sched.Run(runCtx)
		s.pool.Run(runCtx)
	}()
	s.logger.Info("vigil started", "workers", s.cfg.Workers, "tick", s.cfg.TickInterval.String())
	return nil
}

// Close stops background loops and closes the database.
func (s *Service) Close() error {
	if s.cancel != nil {
		s.cancel()
		select {
		case <-s.done:
		case <-time.After(10 * time.Second):
			s.logger.Warn("shutdown timed out waiting for workers")
		}
	}
	return s.store.Close()
}

// handleMonitorCheck is the worker handler for monitor.check jobs. It
// takes a per-monitor job lock so two stuck-requeued copies of the same
// check can never run concurrently.
func (s *Service) handleMonitorCheck(ctx context.Context, job *queue.Job) (string, error) {
	var p scheduler.CheckPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}

	m, err := s.store.GetMonitor(ctx, p.MonitorID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", queue.Skip("monitor %s not found", p.MonitorID)
	}
	if !m.Enabled {
		return "", queue.Skip("monitor %s disabled", p.MonitorID)
	}

	acquired, err := s.queue.AcquireLock(ctx, lockMonitorCheck, m.ID, job.ID)
	if err != nil {
		return "", err
	}
	if !acquired {
		return "", queue.Skip("check already in flight for monitor %s", m.ID)
	}
	defer func() {
		if err := s.queue.ReleaseLock(context.WithoutCancel(ctx), lockMonitorCheck, m.ID); err != nil {
			s.logger.Warn("release check lock", "monitor", m.ID, "error", err)
		}
	}()

	res, err := s.engine.CheckMonitor(ctx, m)
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", errors.New(res.Message)
	}
	return res.Message, nil
}

// handleDigestSend is the worker handler for notification.digest jobs.
func (s *Service) handleDigestSend(ctx context.Context, job *queue.Job) (string, error) {
	var p scheduler.DigestPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	msg, err := s.engine.ProcessDigestGroup(ctx, p.MonitorID, p.ChannelID, p.DigestAt)
	if errors.Is(err, engine.ErrNothingPending) {
		return "", queue.Skip("digest group already delivered")
	}
	if err != nil {
		return "", err
	}
	return msg, nil
}
