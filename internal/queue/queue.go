// Package queue is a redis-backed task queue with delayed execution and
// at-least-once delivery. Ready tasks live on a list per queue name;
// delayed tasks wait in a sorted set scored by due time and are promoted
// by the worker's mover loop. Handlers must therefore tolerate duplicate
// delivery.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Task is one unit of work. Payload is opaque to the queue.
type Task struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	MaxRetries int             `json:"max_retries"`
	// RetryBackoff is the fixed delay before a failed task is re-enqueued.
	RetryBackoff time.Duration `json:"retry_backoff"`
	EnqueuedAt   time.Time     `json:"enqueued_at"`
}

// NewTask builds a task with a JSON-encoded payload.
func NewTask(kind, queueName string, payload any) (*Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode task payload: %w", err)
	}
	return &Task{
		ID:      uuid.NewString(),
		Kind:    kind,
		Queue:   queueName,
		Payload: raw,
	}, nil
}

// Queue enqueues tasks and promotes delayed ones.
type Queue struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// New creates a Queue using the given redis client and key prefix.
func New(rdb *redis.Client, prefix string, logger *zap.Logger) *Queue {
	if prefix == "" {
		prefix = "gembatch"
	}
	return &Queue{
		rdb:    rdb,
		prefix: prefix,
		logger: logger.With(zap.String("component", "queue")),
	}
}

func (q *Queue) readyKey(queueName string) string {
	return fmt.Sprintf("%s:ready:%s", q.prefix, queueName)
}

func (q *Queue) delayedKey() string {
	return q.prefix + ":delayed"
}

// Enqueue schedules a task, optionally after a delay. Tasks with an empty
// queue name go to "default".
func (q *Queue) Enqueue(ctx context.Context, task *Task, delay time.Duration) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Queue == "" {
		task.Queue = "default"
	}
	task.EnqueuedAt = time.Now()

	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	if delay > 0 {
		due := float64(time.Now().Add(delay).UnixMilli())
		if err := q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: due, Member: raw}).Err(); err != nil {
			return fmt.Errorf("enqueue delayed task: %w", err)
		}
	} else {
		if err := q.rdb.LPush(ctx, q.readyKey(task.Queue), raw).Err(); err != nil {
			return fmt.Errorf("enqueue task: %w", err)
		}
	}

	q.logger.Debug("task enqueued",
		zap.String("task_id", task.ID),
		zap.String("kind", task.Kind),
		zap.String("queue", task.Queue),
		zap.Duration("delay", delay),
		zap.Int("attempt", task.Attempt),
	)
	return nil
}

// PromoteDue moves delayed tasks whose due time has passed onto their ready
// lists. Returns the number promoted.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := float64(time.Now().UnixMilli())
	members, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", now),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed tasks: %w", err)
	}

	promoted := 0
	for _, raw := range members {
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			// Unparseable entries would wedge the set; drop them.
			q.logger.Error("dropping malformed delayed task", zap.Error(err))
			q.rdb.ZRem(ctx, q.delayedKey(), raw)
			continue
		}
		removed, err := q.rdb.ZRem(ctx, q.delayedKey(), raw).Result()
		if err != nil {
			return promoted, fmt.Errorf("remove delayed task: %w", err)
		}
		if removed == 0 {
			// Another worker promoted it first.
			continue
		}
		if err := q.rdb.LPush(ctx, q.readyKey(task.Queue), raw).Err(); err != nil {
			return promoted, fmt.Errorf("promote task: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// Depth returns the number of ready tasks on a queue.
func (q *Queue) Depth(ctx context.Context, queueName string) (int64, error) {
	return q.rdb.LLen(ctx, q.readyKey(queueName)).Result()
}

// DelayedCount returns the number of tasks waiting on a delay.
func (q *Queue) DelayedCount(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.delayedKey()).Result()
}
