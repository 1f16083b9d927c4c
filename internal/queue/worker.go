package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler executes one task. A non-nil error triggers a delayed retry until
// the task's MaxRetries is exhausted.
type Handler func(ctx context.Context, task *Task) error

// Worker consumes tasks from one or more queues with a pool of goroutines.
type Worker struct {
	queue        *Queue
	queues       []string
	concurrency  int
	popTimeout   time.Duration
	moveInterval time.Duration
	handlers     map[string]Handler
	mu           sync.RWMutex
	logger       *zap.Logger
}

// NewWorker creates a Worker consuming the given queue names.
func NewWorker(q *Queue, queues []string, concurrency int, logger *zap.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 4
	}
	if len(queues) == 0 {
		queues = []string{"default"}
	}
	return &Worker{
		queue:        q,
		queues:       queues,
		concurrency:  concurrency,
		popTimeout:   time.Second,
		moveInterval: time.Second,
		handlers:     make(map[string]Handler),
		logger:       logger.With(zap.String("component", "worker")),
	}
}

// Register installs the handler for a task kind. Tasks with an unregistered
// kind are dropped with an error log.
func (w *Worker) Register(kind string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = h
}

func (w *Worker) handler(kind string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[kind]
	return h, ok
}

// Run blocks consuming tasks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// Mover loop: promote due delayed tasks.
	g.Go(func() error {
		ticker := time.NewTicker(w.moveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := w.queue.PromoteDue(ctx); err != nil && ctx.Err() == nil {
					w.logger.Warn("failed to promote delayed tasks", zap.Error(err))
				}
			}
		}
	})

	keys := make([]string, len(w.queues))
	for i, name := range w.queues {
		keys[i] = w.queue.readyKey(name)
	}

	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			for {
				if ctx.Err() != nil {
					return nil
				}
				res, err := w.queue.rdb.BRPop(ctx, w.popTimeout, keys...).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) || ctx.Err() != nil {
						continue
					}
					w.logger.Warn("queue pop failed", zap.Error(err))
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(w.popTimeout):
					}
					continue
				}
				// BRPop returns [key, value].
				if len(res) == 2 {
					w.dispatch(ctx, []byte(res[1]))
				}
			}
		})
	}

	return g.Wait()
}

func (w *Worker) dispatch(ctx context.Context, raw []byte) {
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		w.logger.Error("dropping malformed task", zap.Error(err))
		return
	}

	h, ok := w.handler(task.Kind)
	if !ok {
		w.logger.Error("no handler for task kind",
			zap.String("kind", task.Kind),
			zap.String("task_id", task.ID),
		)
		return
	}

	start := time.Now()
	err := w.run(ctx, h, &task)
	if err == nil {
		w.logger.Debug("task done",
			zap.String("kind", task.Kind),
			zap.String("task_id", task.ID),
			zap.Duration("elapsed", time.Since(start)),
		)
		return
	}

	if task.Attempt < task.MaxRetries {
		task.Attempt++
		w.logger.Warn("task failed, retrying",
			zap.String("kind", task.Kind),
			zap.String("task_id", task.ID),
			zap.Int("attempt", task.Attempt),
			zap.Int("max_retries", task.MaxRetries),
			zap.Error(err),
		)
		if enqErr := w.queue.Enqueue(ctx, &task, task.RetryBackoff); enqErr != nil {
			w.logger.Error("failed to re-enqueue task",
				zap.String("task_id", task.ID),
				zap.Error(enqErr),
			)
		}
		return
	}

	w.logger.Error("task failed permanently",
		zap.String("kind", task.Kind),
		zap.String("task_id", task.ID),
		zap.Int("attempts", task.Attempt+1),
		zap.Error(err),
	)
}

// run isolates handler panics so one bad task cannot kill the worker pool.
func (w *Worker) run(ctx context.Context, h Handler, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(err, &PanicError{Value: r})
		}
	}()
	return h(ctx, task)
}

// PanicError wraps a recovered handler panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "task handler panicked"
}
