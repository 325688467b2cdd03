package tasks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/discovery-engine/internal/observability"
)

// Task is a named side-effect detached from the request path: trending
// increments, miss ledger writes, durable counter inserts. Failures never
// propagate to the caller.
type Task struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Runner executes detached tasks on a fixed worker pool behind a bounded
// queue. When the queue is full the task is dropped and logged; request
// latency is never allowed to back up on side-effect pressure.
type Runner struct {
	queue   chan Task
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
	once    sync.Once
}

func NewRunner(workers, queueSize int, timeout time.Duration, logger *zap.Logger) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	r := &Runner{
		queue:   make(chan Task, queueSize),
		timeout: timeout,
		logger:  logger,
	}

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}

	return r
}

// Submit enqueues a task. Returns false when the queue is saturated and
// the task was dropped.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) bool {
	select {
	case r.queue <- Task{Name: name, Fn: fn}:
		return true
	default:
		observability.DetachedTasksTotal.WithLabelValues(name, "dropped").Inc()
		r.logger.Warn("detached task dropped, queue full", zap.String("task", name))
		return false
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()

	for task := range r.queue {
		r.run(task)
	}
}

func (r *Runner) run(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			observability.DetachedTasksTotal.WithLabelValues(task.Name, "panic").Inc()
			r.logger.Error("detached task panicked",
				zap.String("task", task.Name),
				zap.Any("panic", rec),
			)
		}
	}()

	if err := task.Fn(ctx); err != nil {
		observability.DetachedTasksTotal.WithLabelValues(task.Name, "error").Inc()
		r.logger.Warn("detached task failed",
			zap.String("task", task.Name),
			zap.Error(err),
		)
		return
	}
	observability.DetachedTasksTotal.WithLabelValues(task.Name, "success").Inc()
}

// Close drains the queue and waits for in-flight tasks to finish.
func (r *Runner) Close() {
	r.once.Do(func() {
		close(r.queue)
	})
	r.wg.Wait()
}
