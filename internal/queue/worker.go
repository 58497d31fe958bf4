package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrSkip signals that a handler declined the job (monitor missing or
// disabled, empty bucket). The job is recorded done, the audit row skipped,
// and the job is not retried.
var ErrSkip = errors.New("queue: job skipped")

// Skip wraps ErrSkip with an explanatory message.
func Skip(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrSkip}, args...)...)
}

// Handler processes one claimed job and returns a short completion message.
// Returning an error wrapping ErrSkip marks the job done-but-skipped;
// any other error marks it failed.
type Handler func(ctx context.Context, job *Job) (string, error)

// PoolOptions configures the worker pool.
type PoolOptions struct {
	// Workers is the fixed concurrency N. Default: 4.
	Workers int
	// PollInterval is the idle delay between claim attempts. Default: 1s.
	PollInterval time.Duration
	// MaintenanceInterval is the cadence of the stuck-job requeue and
	// finished-job purge sweep. Default: 1 minute.
	MaintenanceInterval time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *PoolOptions) defaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaintenanceInterval <= 0 {
		o.MaintenanceInterval = time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Pool runs N workers that claim jobs and dispatch them by type.
type Pool struct {
	queue    *Queue
	handlers map[string]Handler
	opts     PoolOptions
}

// NewPool creates a worker pool over the queue. Register handlers before
// calling Run.
func NewPool(q *Queue, opts PoolOptions) *Pool {
	opts.defaults()
	return &Pool{
		queue:    q,
		handlers: make(map[string]Handler),
		opts:     opts,
	}
}

// Register installs a handler for a job type.
func (p *Pool) Register(jobType string, h Handler) {
	p.handlers[jobType] = h
}

// Run starts the workers and the maintenance sweep, blocking until ctx is
// cancelled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.workLoop(ctx, n)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.maintenanceLoop(ctx)
	}()
	wg.Wait()
}

func (p *Pool) workLoop(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Claim(ctx)
		if err != nil {
			p.opts.Logger.Error("worker: claim", "worker", worker, "error", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.opts.PollInterval):
			}
			continue
		}
		p.dispatch(ctx, job)
	}
}

func (p *Pool) dispatch(ctx context.Context, job *Job) {
	log := p.opts.Logger.With("job_id", job.ID, "job_type", job.Type)
	p.queue.RecordEvent(ctx, &Event{JobID: job.ID, Type: job.Type, Status: StatusStarted})

	handler, ok := p.handlers[job.Type]
	if !ok {
		msg := fmt.Sprintf("no handler for job type %q", job.Type)
		p.queue.Fail(ctx, job.ID, msg)
		p.queue.RecordEvent(ctx, &Event{JobID: job.ID, Type: job.Type, Status: StatusFailed, Message: msg})
		log.Error("worker: unknown job type")
		return
	}

	message, err := p.runHandler(ctx, handler, job)
	switch {
	case err == nil:
		p.queue.Complete(ctx, job.ID, message)
		p.queue.RecordEvent(ctx, &Event{JobID: job.ID, Type: job.Type, Status: StatusDone, Message: message})
		log.Debug("worker: done", "message", message)
	case errors.Is(err, ErrSkip):
		p.queue.Complete(ctx, job.ID, err.Error())
		p.queue.RecordEvent(ctx, &Event{JobID: job.ID, Type: job.Type, Status: StatusSkipped, Message: err.Error()})
		log.Debug("worker: skipped", "reason", err)
	default:
		p.queue.Fail(ctx, job.ID, err.Error())
		p.queue.RecordEvent(ctx, &Event{JobID: job.ID, Type: job.Type, Status: StatusFailed, Message: err.Error()})
		log.Warn("worker: failed", "error", err)
	}
}

// runHandler invokes the handler, converting a panic into a failed job
// rather than crashing the process.
func (p *Pool) runHandler(ctx context.Context, h Handler, job *Job) (message string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (p *Pool) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.queue.RequeueStuck(ctx); err != nil {
				p.opts.Logger.Warn("worker: requeue stuck", "error", err)
			} else if n > 0 {
				p.opts.Logger.Info("worker: requeued stuck jobs", "count", n)
			}
			if _, err := p.queue.PurgeFinished(ctx); err != nil {
				p.opts.Logger.Warn("worker: purge finished", "error", err)
			}
		}
	}
}
