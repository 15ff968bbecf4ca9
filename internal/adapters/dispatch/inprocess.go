package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/venturekit/evosearch/internal/core"
)

const defaultQueueCapacity = 4096

// InProcessDispatcher is a channel-backed dispatcher for single-node
// deployments and tests. Delayed tasks are held on timers until due.
type InProcessDispatcher struct {
	tasks  chan envelope
	logger *slog.Logger
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// InProcessOptions configures an InProcessDispatcher.
type InProcessOptions struct {
	QueueCapacity int
	Logger        *slog.Logger
}

// NewInProcessDispatcher creates an in-process dispatcher.
func NewInProcessDispatcher(opts InProcessOptions) *InProcessDispatcher {
	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessDispatcher{
		tasks:  make(chan envelope, capacity),
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// Enqueue schedules the task after the given delay and returns its handle.
func (d *InProcessDispatcher) Enqueue(ctx context.Context, task core.Task, delay time.Duration) (string, error) {
	if !task.Type.Valid() {
		return "", errors.New("invalid task type")
	}
	env := envelope{ID: uuid.NewString(), Task: task}

	if delay <= 0 {
		return env.ID, d.push(env)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", errors.New("dispatcher is closed")
	}
	d.timers[env.ID] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, env.ID)
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return
		}
		if err := d.push(env); err != nil {
			d.logger.Error("enqueue delayed task failed", "task_id", env.ID, "error", err)
		}
	})
	return env.ID, nil
}

func (d *InProcessDispatcher) push(env envelope) error {
	select {
	case d.tasks <- env:
		return nil
	default:
		return errors.New("task queue is full")
	}
}

// Run consumes tasks with the given handler until the context is cancelled,
// running up to concurrency handlers at once.
func (d *InProcessDispatcher) Run(ctx context.Context, handler core.TaskHandler, concurrency int) error {
	if handler == nil {
		return errors.New("task handler is required")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case env := <-d.tasks:
					if err := handler.Handle(ctx, env.Task); err != nil {
						d.logger.ErrorContext(ctx, "task handler failed",
							"task_id", env.ID, "task_type", string(env.Task.Type),
							"job_id", env.Task.JobID, "error", err)
					}
				}
			}
		}()
	}
	wg.Wait()

	d.stopTimers()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (d *InProcessDispatcher) stopTimers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
}
