package gembatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/obayesshelton/gembatch/batch"
	"github.com/obayesshelton/gembatch/gemini"
	"github.com/obayesshelton/gembatch/internal/queue"
)

// Task kinds for the lifecycle stages.
const (
	taskSubmit  = "batch.submit"
	taskPoll    = "batch.poll"
	taskResolve = "batch.resolve"
	taskSweep   = "batch.sweep"
)

type submitPayload struct {
	BatchID uint `json:"batch_id"`
}

type pollPayload struct {
	BatchID   uint `json:"batch_id"`
	PollCount int  `json:"poll_count"`
}

type resolvePayload struct {
	BatchID uint           `json:"batch_id"`
	Status  map[string]any `json:"status"`
}

type sweepPayload struct {
	Days int `json:"days"`
}

// RegisterHandlers installs the lifecycle stage handlers on a worker.
func (m *Manager) RegisterHandlers(w *queue.Worker) {
	w.Register(taskSubmit, m.handleSubmit)
	w.Register(taskPoll, m.handlePoll)
	w.Register(taskResolve, m.handleResolve)
	w.Register(taskSweep, m.handleSweep)
}

// handleSubmit serializes a pending batch's requests and creates the
// remote batch. The pending-state guard makes duplicate delivery a no-op.
func (m *Manager) handleSubmit(ctx context.Context, task *queue.Task) error {
	var p submitPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode submit payload: %w", err)
	}

	b, err := m.store.FindBatch(ctx, p.BatchID)
	if errors.Is(err, batch.ErrNotFound) {
		m.logger.Warn("submit task for missing batch", zap.Uint("batch_id", p.BatchID))
		return nil
	}
	if err != nil {
		return err
	}
	if b.State != batch.StatePending {
		return nil
	}

	stored, err := m.store.RequestsForBatch(ctx, b.ID)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		if _, err := m.store.MarkBatchFailed(ctx, b.ID, "No requests in batch."); err != nil {
			return err
		}
		m.collector.RecordBatchFinished(string(batch.StateFailed))
		m.logger.Error("batch has no requests", zap.Uint("batch_id", b.ID))
		return nil
	}

	keyed := make([]gemini.KeyedRequest, len(stored))
	for i, r := range stored {
		keyed[i] = gemini.KeyedRequest{Key: r.Key, Payload: r.RequestPayload}
	}

	mode := SelectInputMode(m.cfg.Input, m.uploader.EstimateSize(keyed))

	resp, err := m.submitBatch(ctx, b, keyed, mode)
	if err != nil {
		apiErr, rejected := gemini.IsAPIError(err)
		if !rejected {
			// Transport-level failure, the request may never have reached
			// the API. Leave the batch pending so the queued retry can
			// attempt the submission again.
			m.logger.Warn("batch submission attempt failed, will retry",
				zap.Uint("batch_id", b.ID),
				zap.Error(err),
			)
			return err
		}

		msg := fmt.Sprintf("Batch submission failed with status %d: %s", apiErr.Status, apiErr.Body)
		if _, markErr := m.store.MarkBatchFailed(ctx, b.ID, msg); markErr != nil {
			return markErr
		}
		m.collector.RecordBatchFinished(string(batch.StateFailed))
		m.logger.Error("batch submission rejected",
			zap.Uint("batch_id", b.ID),
			zap.Error(err),
		)
		return err
	}

	apiName, _ := resp["name"].(string)
	updated, err := m.store.MarkSubmitted(ctx, b.ID, apiName, mode)
	if err != nil {
		return err
	}
	if !updated {
		// Lost the race against a concurrent delivery of the same task.
		m.logger.Warn("batch already submitted", zap.Uint("batch_id", b.ID))
		return nil
	}

	m.collector.RecordBatchSubmitted()
	m.logger.Info("batch submitted",
		zap.Uint("batch_id", b.ID),
		zap.String("api_batch_name", apiName),
		zap.String("input_mode", string(mode)),
		zap.Int("requests", len(keyed)),
	)

	return m.enqueuePoll(ctx, b, 0, m.cfg.Polling.Interval)
}

// submitBatch performs the remote creation call for the chosen input mode.
func (m *Manager) submitBatch(ctx context.Context, b *batch.Batch, keyed []gemini.KeyedRequest, mode batch.InputMode) (map[string]any, error) {
	if mode == batch.InputModeFile {
		displayName := b.DisplayName
		if displayName == "" {
			displayName = fmt.Sprintf("batch-%d", b.ID)
		}
		fileName, err := m.uploader.UploadRequests(ctx, keyed, displayName)
		if err != nil {
			return nil, err
		}
		return m.client.CreateFileBatch(ctx, b.Model, fileName, b.DisplayName)
	}

	inline := make([]gemini.InlineRequest, len(keyed))
	for i, r := range keyed {
		inline[i] = gemini.InlineRequest{
			Request:  r.Payload,
			Metadata: map[string]string{"key": r.Key},
		}
	}
	return m.client.CreateInlineBatch(ctx, b.Model, inline, b.DisplayName)
}
