package gembatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/obayesshelton/gembatch/batch"
	"github.com/obayesshelton/gembatch/config"
	"github.com/obayesshelton/gembatch/internal/queue"
)

// PollDelay computes the wait before poll n+1. The delay ramps
// geometrically from the base interval, with the exponent clamped so the
// computation stays bounded, and is capped at the max interval.
func PollDelay(cfg config.PollingConfig, pollCount int) time.Duration {
	exp := pollCount
	if exp > 10 {
		exp = 10
	}
	d := time.Duration(float64(cfg.Interval) * math.Pow(1.5, float64(exp)))
	if d > cfg.MaxInterval {
		d = cfg.MaxInterval
	}
	return d
}

// handlePoll checks the remote state of a submitted batch and either
// reschedules itself or dispatches the terminal transition.
func (m *Manager) handlePoll(ctx context.Context, task *queue.Task) error {
	var p pollPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode poll payload: %w", err)
	}

	b, err := m.store.FindBatch(ctx, p.BatchID)
	if errors.Is(err, batch.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if b.IsTerminal() {
		return nil
	}

	if b.APIBatchName == "" {
		m.logger.Warn("batch has no api batch name, cannot poll",
			zap.Uint("batch_id", b.ID),
		)
		return nil
	}

	m.collector.RecordPollCycle()

	status, err := m.client.GetBatch(ctx, b.APIBatchName)
	if err != nil {
		m.logger.Warn("batch poll failed, will retry",
			zap.Uint("batch_id", b.ID),
			zap.Error(err),
		)
		return m.requeuePoll(ctx, b, p.PollCount)
	}

	apiState, _ := status["state"].(string)
	if apiState == "" {
		apiState = "JOB_STATE_FAILED"
	}
	state := batch.FromAPIState(apiState)

	if state == batch.StateRunning && b.State != batch.StateRunning {
		if _, err := m.store.MarkRunning(ctx, b.ID); err != nil {
			return err
		}
	}

	if state.IsTerminal() {
		return m.handleTerminalState(ctx, b, state, apiState, status)
	}

	return m.requeuePoll(ctx, b, p.PollCount)
}

func (m *Manager) handleTerminalState(ctx context.Context, b *batch.Batch, state batch.State, apiState string, status map[string]any) error {
	switch state {
	case batch.StateCompleted:
		return m.enqueueResolve(ctx, b, status)

	case batch.StateFailed:
		msg := remoteErrorMessage(status)
		if apiState != "JOB_STATE_FAILED" {
			msg = fmt.Sprintf("Unexpected terminal state: %s", apiState)
		}
		return m.failBatch(ctx, b, msg)

	case batch.StateCancelled:
		updated, err := m.store.MarkBatchCancelled(ctx, b.ID)
		if err != nil {
			return err
		}
		if updated {
			m.collector.RecordBatchFinished(string(batch.StateCancelled))
			m.logger.Info("batch cancelled remotely", zap.Uint("batch_id", b.ID))
		}
		return nil

	case batch.StateExpired:
		return m.failBatch(ctx, b, "Batch expired after 48 hours.")
	}
	return nil
}

// failBatch marks a batch failed and records the failure once.
func (m *Manager) failBatch(ctx context.Context, b *batch.Batch, msg string) error {
	updated, err := m.store.MarkBatchFailed(ctx, b.ID, msg)
	if err != nil {
		return err
	}
	if updated {
		m.collector.RecordBatchFinished(string(batch.StateFailed))
		m.logger.Error("batch failed",
			zap.Uint("batch_id", b.ID),
			zap.String("error", msg),
		)
	}
	return nil
}

// requeuePoll schedules the next poll, unless the batch has been in flight
// longer than the polling timeout.
func (m *Manager) requeuePoll(ctx context.Context, b *batch.Batch, pollCount int) error {
	if b.SubmittedAt != nil && time.Since(*b.SubmittedAt) > m.cfg.Polling.Timeout {
		return m.failBatch(ctx, b, "Polling timeout exceeded.")
	}
	return m.enqueuePoll(ctx, b, pollCount+1, PollDelay(m.cfg.Polling, pollCount))
}

func (m *Manager) enqueuePoll(ctx context.Context, b *batch.Batch, pollCount int, delay time.Duration) error {
	task, err := queue.NewTask(taskPoll, m.queueName(b), pollPayload{BatchID: b.ID, PollCount: pollCount})
	if err != nil {
		return err
	}
	if err := m.queue.Enqueue(ctx, task, delay); err != nil {
		return fmt.Errorf("enqueue poll: %w", err)
	}
	return nil
}

func (m *Manager) enqueueResolve(ctx context.Context, b *batch.Batch, status map[string]any) error {
	task, err := queue.NewTask(taskResolve, m.queueName(b), resolvePayload{BatchID: b.ID, Status: status})
	if err != nil {
		return err
	}
	task.MaxRetries = m.cfg.Queue.ResolveRetries
	task.RetryBackoff = m.cfg.Queue.ResolveBackoff
	if err := m.queue.Enqueue(ctx, task, 0); err != nil {
		return fmt.Errorf("enqueue result resolution: %w", err)
	}
	return nil
}

// remoteErrorMessage extracts a failed job's error message, falling back
// to the serialized error object.
func remoteErrorMessage(status map[string]any) string {
	errObj, ok := status["error"].(map[string]any)
	if !ok {
		return "Unknown error"
	}
	if msg, ok := errObj["message"].(string); ok && msg != "" {
		return msg
	}
	if b, err := json.Marshal(errObj); err == nil {
		return string(b)
	}
	return "Unknown error"
}
