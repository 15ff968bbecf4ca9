// Package dispatch provides the task dispatcher backends: a Redis-backed
// queue for distributed deployments and an in-process queue for single-node
// runs and tests. One backend is selected at construction.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/venturekit/evosearch/internal/core"
)

const (
	defaultKeyPrefix = "evosearch:tasks"

	popTimeout       = 1 * time.Second
	promoteInterval  = 500 * time.Millisecond
	promoteBatchSize = 100
)

// envelope wraps a task with its queue identity.
type envelope struct {
	ID   string    `json:"id"`
	Task core.Task `json:"task"`
}

// RedisDispatcher enqueues tasks onto per-type Redis lists, with sorted sets
// holding delayed tasks until they come due. Separate queues per task type
// let orchestrator and phase-worker processes consume independently.
type RedisDispatcher struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisDispatcherOptions configures a RedisDispatcher.
type RedisDispatcherOptions struct {
	Client    redis.UniversalClient
	KeyPrefix string
	Now       func() time.Time
}

// NewRedisDispatcher creates a Redis-backed dispatcher.
func NewRedisDispatcher(opts RedisDispatcherOptions) (*RedisDispatcher, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &RedisDispatcher{
		client: opts.Client,
		prefix: prefix,
		now:    now,
	}, nil
}

func (d *RedisDispatcher) readyKey(t core.TaskType) string {
	return d.prefix + ":" + string(t)
}

func (d *RedisDispatcher) delayedKey(t core.TaskType) string {
	return d.readyKey(t) + ":delayed"
}

// Enqueue schedules the task after the given delay and returns its handle.
func (d *RedisDispatcher) Enqueue(ctx context.Context, task core.Task, delay time.Duration) (string, error) {
	if !task.Type.Valid() {
		return "", fmt.Errorf("invalid task type: %q", task.Type)
	}
	env := envelope{ID: uuid.NewString(), Task: task}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	if delay <= 0 {
		if err := d.client.LPush(ctx, d.readyKey(task.Type), raw).Err(); err != nil {
			return "", fmt.Errorf("enqueue task: %w", err)
		}
		return env.ID, nil
	}

	readyAt := float64(d.now().Add(delay).UnixMilli())
	if err := d.client.ZAdd(ctx, d.delayedKey(task.Type), redis.Z{Score: readyAt, Member: raw}).Err(); err != nil {
		return "", fmt.Errorf("enqueue delayed task: %w", err)
	}
	return env.ID, nil
}

// RedisConsumerOptions configures a RedisConsumer.
type RedisConsumerOptions struct {
	Dispatcher  *RedisDispatcher
	Handler     core.TaskHandler
	Type        core.TaskType
	Concurrency int
	Logger      *slog.Logger
}

// RedisConsumer pulls tasks of one type from the Redis queue and hands them
// to the task handler, promoting due delayed tasks onto the ready list as it
// goes.
type RedisConsumer struct {
	d        *RedisDispatcher
	handler  core.TaskHandler
	taskType core.TaskType
	workers  int
	logger   *slog.Logger
}

// NewRedisConsumer creates a consumer over the given dispatcher's queue for
// one task type.
func NewRedisConsumer(opts RedisConsumerOptions) (*RedisConsumer, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("task handler is required")
	}
	if !opts.Type.Valid() {
		return nil, fmt.Errorf("invalid task type: %q", opts.Type)
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisConsumer{
		d:        opts.Dispatcher,
		handler:  opts.Handler,
		taskType: opts.Type,
		workers:  workers,
		logger:   logger,
	}, nil
}

// Run starts the promoter and worker goroutines and blocks until the context
// is cancelled.
func (c *RedisConsumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "starting task consumer",
		"task_type", string(c.taskType), "workers", c.workers)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.promoteLoop(ctx)
	}()

	for range c.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.workerLoop(ctx)
		}()
	}

	wg.Wait()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (c *RedisConsumer) workerLoop(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := c.d.client.BRPop(ctx, popTimeout, c.d.readyKey(c.taskType)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			c.logger.ErrorContext(ctx, "dequeue task failed", "error", err)
			continue
		}
		// BRPop returns [key, value].
		if len(res) != 2 {
			continue
		}
		c.dispatch(ctx, []byte(res[1]))
	}
}

func (c *RedisConsumer) dispatch(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.ErrorContext(ctx, "discarding malformed task", "error", err)
		return
	}
	if err := c.handler.Handle(ctx, env.Task); err != nil {
		// Recovery is owned by the orchestrator's timeout-retry path, so a
		// failed task is logged and dropped, not requeued.
		c.logger.ErrorContext(ctx, "task handler failed",
			"task_id", env.ID, "task_type", string(env.Task.Type),
			"job_id", env.Task.JobID, "error", err)
	}
}

// promoteLoop moves due delayed tasks onto the ready list.
func (c *RedisConsumer) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.promoteDue(ctx); err != nil && ctx.Err() == nil {
				c.logger.ErrorContext(ctx, "promote delayed tasks failed", "error", err)
			}
		}
	}
}

func (c *RedisConsumer) promoteDue(ctx context.Context) error {
	nowMs := fmt.Sprintf("%d", c.d.now().UnixMilli())
	delayedKey := c.d.delayedKey(c.taskType)
	members, err := c.d.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   nowMs,
		Count: promoteBatchSize,
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range members {
		// ZRem doubles as the claim: only the remover promotes the task, so
		// concurrent promoters cannot double-deliver.
		removed, err := c.d.client.ZRem(ctx, delayedKey, member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := c.d.client.LPush(ctx, c.d.readyKey(c.taskType), member).Err(); err != nil {
			return err
		}
	}
	return nil
}
