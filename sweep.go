package gembatch

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/obayesshelton/gembatch/internal/queue"
)

// EnqueueSweep schedules a retention sweep on the default queue. days <= 0
// uses the configured retention.
func (m *Manager) EnqueueSweep(ctx context.Context, days int) error {
	task, err := queue.NewTask(taskSweep, m.cfg.Queue.Name, sweepPayload{Days: days})
	if err != nil {
		return err
	}
	if err := m.queue.Enqueue(ctx, task, 0); err != nil {
		return fmt.Errorf("enqueue sweep: %w", err)
	}
	return nil
}

// handleSweep prunes terminal batches past their retention window.
func (m *Manager) handleSweep(ctx context.Context, task *queue.Task) error {
	var p sweepPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode sweep payload: %w", err)
	}

	count, err := m.Prune(ctx, p.Days)
	if err != nil {
		return err
	}
	if count > 0 {
		m.logger.Info("retention sweep finished", zap.Int64("pruned", count))
	}
	return nil
}
