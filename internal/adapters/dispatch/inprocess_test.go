package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venturekit/evosearch/internal/core"
)

// collectHandler records handled tasks and signals each arrival.
type collectHandler struct {
	mu      sync.Mutex
	tasks   []core.Task
	arrived chan struct{}
}

func newCollectHandler() *collectHandler {
	return &collectHandler{arrived: make(chan struct{}, 64)}
}

func (h *collectHandler) Handle(_ context.Context, task core.Task) error {
	h.mu.Lock()
	h.tasks = append(h.tasks, task)
	h.mu.Unlock()
	h.arrived <- struct{}{}
	return nil
}

func (h *collectHandler) handled() []core.Task {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.Task(nil), h.tasks...)
}

func (h *collectHandler) waitFor(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for range n {
		select {
		case <-h.arrived:
		case <-deadline:
			t.Fatalf("timed out waiting for %d tasks, got %d", n, len(h.handled()))
		}
	}
}

func newTestDispatcher(capacity int) *InProcessDispatcher {
	return NewInProcessDispatcher(InProcessOptions{
		QueueCapacity: capacity,
		Logger:        slog.New(slog.DiscardHandler),
	})
}

func TestInProcessDispatcher_RejectsInvalidTaskType(t *testing.T) {
	d := newTestDispatcher(0)

	_, err := d.Enqueue(context.Background(), core.Task{Type: "bogus"}, 0)
	require.Error(t, err)
}

func TestInProcessDispatcher_DeliversImmediateTasks(t *testing.T) {
	d := newTestDispatcher(0)
	handler := newCollectHandler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx, handler, 2)
	}()

	for i := 1; i <= 3; i++ {
		id, err := d.Enqueue(ctx, core.Task{
			Type:         core.TaskTypeOrchestratorCheck,
			JobID:        "job-1",
			CheckAttempt: i,
		}, 0)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	handler.waitFor(t, 3, 2*time.Second)
	cancel()
	<-done

	tasks := handler.handled()
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, "job-1", task.JobID)
	}
}

func TestInProcessDispatcher_HonorsDelay(t *testing.T) {
	d := newTestDispatcher(0)
	handler := newCollectHandler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx, handler, 1)
	}()

	start := time.Now()
	_, err := d.Enqueue(ctx, core.Task{
		Type:  core.TaskTypeOrchestratorCheck,
		JobID: "job-1",
	}, 30*time.Millisecond)
	require.NoError(t, err)

	handler.waitFor(t, 1, 2*time.Second)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	cancel()
	<-done
}

func TestInProcessDispatcher_FullQueueRejectsEnqueue(t *testing.T) {
	d := newTestDispatcher(1)

	// No consumer running; the second immediate enqueue overflows.
	_, err := d.Enqueue(context.Background(), core.Task{
		Type:  core.TaskTypeOrchestratorCheck,
		JobID: "job-1",
	}, 0)
	require.NoError(t, err)

	_, err = d.Enqueue(context.Background(), core.Task{
		Type:  core.TaskTypeOrchestratorCheck,
		JobID: "job-1",
	}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full")
}

func TestInProcessDispatcher_RunStopsDelayedTasksOnShutdown(t *testing.T) {
	d := newTestDispatcher(0)
	handler := newCollectHandler()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx, handler, 1)
	}()

	_, err := d.Enqueue(ctx, core.Task{
		Type:  core.TaskTypeOrchestratorCheck,
		JobID: "job-1",
	}, time.Hour)
	require.NoError(t, err)

	cancel()
	<-done

	// The pending timer was stopped; enqueueing after shutdown fails.
	_, err = d.Enqueue(context.Background(), core.Task{
		Type:  core.TaskTypeOrchestratorCheck,
		JobID: "job-1",
	}, time.Minute)
	require.Error(t, err)
	assert.Empty(t, handler.handled())
}

func TestInProcessDispatcher_RunRequiresHandler(t *testing.T) {
	d := newTestDispatcher(0)

	err := d.Run(context.Background(), nil, 1)
	require.Error(t, err)
}
