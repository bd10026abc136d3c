package task

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"isaac/pkg/domain"
)

// Func is the body of a task. It should return promptly once ctx is done.
type Func func(ctx context.Context, t *Task) error

// ErrPanicked wraps a panic raised by a task body.
var ErrPanicked = errors.New("task panicked")

// Executor runs tasks on a bounded number of slots and records them in a
// Registry while they are queued or running.
type Executor struct {
	registry *Registry
	slots    *semaphore.Weighted
	logger   domain.Logger
	now      func() time.Time
	wg       sync.WaitGroup

	active   prometheus.Gauge
	duration *prometheus.HistogramVec
}

// Option configures an Executor.
type Option func(*executorConfig)

type executorConfig struct {
	registry   *Registry
	logger     domain.Logger
	now        func() time.Time
	slots      int64
	registerer prometheus.Registerer
}

// WithRegistry shares a registry between executors.
func WithRegistry(r *Registry) Option {
	return func(c *executorConfig) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(logger domain.Logger) Option {
	return func(c *executorConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the source of task start times.
func WithClock(now func() time.Time) Option {
	return func(c *executorConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithConcurrency bounds how many tasks run at once.
func WithConcurrency(n int) Option {
	return func(c *executorConfig) {
		if n > 0 {
			c.slots = int64(n)
		}
	}
}

// WithRegisterer registers the executor metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *executorConfig) { c.registerer = reg }
}

// NewExecutor builds an executor. Metrics are only exported when a
// registerer is supplied.
func NewExecutor(opts ...Option) (*Executor, error) {
	cfg := executorConfig{
		logger: domain.NoopLogger{},
		now:    time.Now,
		slots:  int64(runtime.GOMAXPROCS(0)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.registry == nil {
		cfg.registry = NewRegistry()
	}
	e := &Executor{
		registry: cfg.registry,
		slots:    semaphore.NewWeighted(cfg.slots),
		logger:   cfg.logger,
		now:      cfg.now,
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "isaac",
			Subsystem: "tasks",
			Name:      "active",
			Help:      "Tasks currently running.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "isaac",
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Task run time by task name and outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"task", "outcome"}),
	}
	if cfg.registerer != nil {
		for _, c := range []prometheus.Collector{e.active, e.duration} {
			if err := cfg.registerer.Register(c); err != nil {
				return nil, fmt.Errorf("register task metrics: %w", err)
			}
		}
	}
	return e, nil
}

// Registry returns the registry the executor reports to.
func (e *Executor) Registry() *Registry { return e.registry }

// Handle follows a submitted task.
type Handle struct {
	task *Task
	done chan struct{}
	err  error
}

func (h *Handle) ID() uuid.UUID { return h.task.id }

// Done is closed when the task has finished and left the registry.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel requests cancellation.
func (h *Handle) Cancel() { h.task.cancel() }

// Progress returns the task's latest progress.
func (h *Handle) Progress() Progress { return h.task.Progress() }

// Wait blocks until the task finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues fn under name. The task context derives from ctx, so
// canceling ctx cancels the task.
func (e *Executor) Submit(ctx context.Context, name string, fn Func) *Handle {
	taskCtx, cancel := context.WithCancel(ctx)
	t := newTask(name, e.now(), cancel)
	h := &Handle{task: t, done: make(chan struct{})}
	e.registry.Add(t)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(h.done)
		defer e.registry.Remove(t.id)
		defer cancel()
		h.err = e.run(taskCtx, t, fn)
	}()
	return h
}

// Run submits fn and waits for it.
func (e *Executor) Run(ctx context.Context, name string, fn Func) error {
	return e.Submit(ctx, name, fn).Wait(context.WithoutCancel(ctx))
}

func (e *Executor) run(ctx context.Context, t *Task, fn Func) (err error) {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		e.logger.Debug("task canceled before start", "task", t.name, "id", t.id)
		return err
	}
	defer e.slots.Release(1)
	t.running.Store(true)
	e.active.Inc()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrPanicked, t.name, r)
		}
		e.active.Dec()
		outcome := "success"
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			outcome = "canceled"
		case err != nil:
			outcome = "error"
		}
		e.duration.WithLabelValues(t.name, outcome).Observe(time.Since(start).Seconds())
		if err != nil && outcome == "error" {
			e.logger.Error("task failed", "task", t.name, "id", t.id, "error", err)
		} else {
			e.logger.Debug("task finished", "task", t.name, "id", t.id, "outcome", outcome)
		}
	}()
	return fn(ctx, t)
}

// Wait blocks until every submitted task has finished.
func (e *Executor) Wait() { e.wg.Wait() }
