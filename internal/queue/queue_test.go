package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, "gembatch-test", zap.NewNop()), rdb
}

func TestQueue_EnqueueReady(t *testing.T) {
	q, rdb := newTestQueue(t)
	ctx := context.Background()

	task, err := NewTask("batch.submit", "default", map[string]any{"batch_id": 1})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, task, 0))

	depth, err := q.Depth(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	raw, err := rdb.RPop(ctx, "gembatch-test:ready:default").Result()
	require.NoError(t, err)

	var got Task
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, "batch.submit", got.Kind)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.EnqueuedAt.IsZero())
}

func TestQueue_DelayedPromotion(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	task, err := NewTask("batch.poll", "default", map[string]any{"batch_id": 1})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, task, 50*time.Millisecond))

	depth, err := q.Depth(ctx, "default")
	require.NoError(t, err)
	assert.Zero(t, depth)

	delayed, err := q.DelayedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)

	// Not due yet.
	promoted, err := q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, promoted)

	time.Sleep(60 * time.Millisecond)

	promoted, err = q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	depth, err = q.Depth(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	delayed, err = q.DelayedCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, delayed)
}

func TestQueue_EmptyQueueNameDefaults(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	task, err := NewTask("batch.sweep", "", nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, task, 0))

	depth, err := q.Depth(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestWorker_ConsumesTask(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int32
	w := NewWorker(q, []string{"default"}, 2, zap.NewNop())
	w.Register("batch.submit", func(ctx context.Context, task *Task) error {
		var payload map[string]any
		require.NoError(t, json.Unmarshal(task.Payload, &payload))
		assert.Equal(t, float64(7), payload["batch_id"])
		handled.Add(1)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	task, err := NewTask("batch.submit", "default", map[string]any{"batch_id": 7})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, task, 0))

	require.Eventually(t, func() bool { return handled.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWorker_RetriesUntilExhausted(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	w := NewWorker(q, []string{"default"}, 1, zap.NewNop())
	w.Register("batch.resolve", func(ctx context.Context, task *Task) error {
		attempts.Add(1)
		return assert.AnError
	})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	task, err := NewTask("batch.resolve", "default", nil)
	require.NoError(t, err)
	task.MaxRetries = 2
	task.RetryBackoff = 10 * time.Millisecond
	require.NoError(t, q.Enqueue(ctx, task, 0))

	// Initial attempt plus two retries, then the task is dropped.
	require.Eventually(t, func() bool { return attempts.Load() == 3 }, 10*time.Second, 20*time.Millisecond)

	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())

	cancel()
	require.NoError(t, <-done)
}

func TestWorker_PanicIsContained(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	w := NewWorker(q, []string{"default"}, 1, zap.NewNop())
	w.Register("batch.poll", func(ctx context.Context, task *Task) error {
		calls.Add(1)
		panic("boom")
	})
	w.Register("batch.submit", func(ctx context.Context, task *Task) error {
		calls.Add(1)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	bad, err := NewTask("batch.poll", "default", nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, bad, 0))

	good, err := NewTask("batch.submit", "default", nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, good, 0))

	// The panicking handler must not take the consumer down.
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
