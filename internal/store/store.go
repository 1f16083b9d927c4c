package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/obayesshelton/gembatch/batch"
)

// Store is the persistence layer for batches and their requests.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a Store.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}
}

// CreateBatch persists a batch and its requests in one transaction. The
// unique (batch_id, key) index rejects duplicate keys within a batch.
func (s *Store) CreateBatch(ctx context.Context, b *batch.Batch, requests []*batch.BatchRequest) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(b).Error; err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		for _, r := range requests {
			r.BatchID = b.ID
			if err := tx.Create(r).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("%w: %q", batch.ErrDuplicateKey, r.Key)
				}
				return fmt.Errorf("create request %q: %w", r.Key, err)
			}
		}
		return nil
	})
}

// FindBatch fetches a batch by id. Returns batch.ErrNotFound when absent.
func (s *Store) FindBatch(ctx context.Context, id uint) (*batch.Batch, error) {
	var b batch.Batch
	err := s.db.WithContext(ctx).First(&b, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, batch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find batch %d: %w", id, err)
	}
	return &b, nil
}

// FindBatchByAPIName fetches a batch by its remote handle.
func (s *Store) FindBatchByAPIName(ctx context.Context, name string) (*batch.Batch, error) {
	var b batch.Batch
	err := s.db.WithContext(ctx).Where("api_batch_name = ?", name).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, batch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find batch by api name %q: %w", name, err)
	}
	return &b, nil
}

// ActiveBatches lists all batches in a non-terminal state, newest first.
func (s *Store) ActiveBatches(ctx context.Context) ([]batch.Batch, error) {
	var batches []batch.Batch
	err := s.db.WithContext(ctx).
		Where("state IN ?", batch.ActiveStates()).
		Order("id DESC").
		Find(&batches).Error
	if err != nil {
		return nil, fmt.Errorf("list active batches: %w", err)
	}
	return batches, nil
}

// RequestsForBatch lists a batch's requests in insertion order.
func (s *Store) RequestsForBatch(ctx context.Context, batchID uint) ([]batch.BatchRequest, error) {
	var requests []batch.BatchRequest
	err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id ASC").
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("list requests for batch %d: %w", batchID, err)
	}
	return requests, nil
}

// MarkSubmitted moves a pending batch to Submitted, recording the remote
// handle, the input mode and the submission time. Returns false when the
// batch was not in Pending state (duplicate delivery).
func (s *Store) MarkSubmitted(ctx context.Context, id uint, apiBatchName string, mode batch.InputMode) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&batch.Batch{}).
		Where("id = ? AND state = ?", id, batch.StatePending).
		Updates(map[string]any{
			"api_batch_name": apiBatchName,
			"input_mode":     mode,
			"state":          batch.StateSubmitted,
			"submitted_at":   now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark batch %d submitted: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkRunning moves a batch to Running. A no-op when the batch already left
// the active pre-running states.
func (s *Store) MarkRunning(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&batch.Batch{}).
		Where("id = ? AND state IN ?", id, []batch.State{batch.StatePending, batch.StateSubmitted}).
		Update("state", batch.StateRunning)
	if res.Error != nil {
		return false, fmt.Errorf("mark batch %d running: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkBatchCompleted moves a batch to Completed with final counters.
// Terminal states are absorbing: the update only applies to active batches.
func (s *Store) MarkBatchCompleted(ctx context.Context, id uint, completed, failed int) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&batch.Batch{}).
		Where("id = ? AND state IN ?", id, batch.ActiveStates()).
		Updates(map[string]any{
			"state":              batch.StateCompleted,
			"completed_requests": completed,
			"failed_requests":    failed,
			"completed_at":       now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark batch %d completed: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkBatchFailed moves an active batch to Failed with the given error text.
func (s *Store) MarkBatchFailed(ctx context.Context, id uint, errorMessage string) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&batch.Batch{}).
		Where("id = ? AND state IN ?", id, batch.ActiveStates()).
		Updates(map[string]any{
			"state":         batch.StateFailed,
			"error_message": errorMessage,
			"completed_at":  now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark batch %d failed: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkBatchCancelled moves an active batch to Cancelled.
func (s *Store) MarkBatchCancelled(ctx context.Context, id uint) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&batch.Batch{}).
		Where("id = ? AND state IN ?", id, batch.ActiveStates()).
		Updates(map[string]any{
			"state":        batch.StateCancelled,
			"completed_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark batch %d cancelled: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RequestUpdate carries the fields stored on a successfully completed
// request.
type RequestUpdate struct {
	ResponsePayload    batch.JSONMap
	ResponseText       *string
	StructuredResponse any
	PromptTokens       *int
	CompletionTokens   *int
	ThoughtTokens      *int
}

// MarkRequestCompleted records a request's successful result. The update is
// first-write-wins: a request already in a terminal state is left untouched
// and false is returned, making duplicate result delivery a no-op.
func (s *Store) MarkRequestCompleted(ctx context.Context, requestID uint, update RequestUpdate) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&batch.BatchRequest{}).
		Where("id = ? AND state NOT IN ?", requestID, batch.TerminalStates()).
		Updates(map[string]any{
			"state":               batch.StateCompleted,
			"response_payload":    update.ResponsePayload,
			"response_text":       update.ResponseText,
			"structured_response": batch.JSONValue{Data: update.StructuredResponse},
			"prompt_tokens":       update.PromptTokens,
			"completion_tokens":   update.CompletionTokens,
			"thought_tokens":      update.ThoughtTokens,
			"completed_at":        now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark request %d completed: %w", requestID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkRequestFailed records a request's failure. First-write-wins like
// MarkRequestCompleted.
func (s *Store) MarkRequestFailed(ctx context.Context, requestID uint, errorMessage string) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&batch.BatchRequest{}).
		Where("id = ? AND state NOT IN ?", requestID, batch.TerminalStates()).
		Updates(map[string]any{
			"state":         batch.StateFailed,
			"error_message": errorMessage,
			"completed_at":  now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark request %d failed: %w", requestID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// CountRequestStates returns how many of a batch's requests completed and
// failed, from persisted state rather than any in-flight result set.
func (s *Store) CountRequestStates(ctx context.Context, batchID uint) (completed, failed int64, err error) {
	err = s.db.WithContext(ctx).
		Model(&batch.BatchRequest{}).
		Where("batch_id = ? AND state = ?", batchID, batch.StateCompleted).
		Count(&completed).Error
	if err != nil {
		return 0, 0, fmt.Errorf("count completed requests: %w", err)
	}
	err = s.db.WithContext(ctx).
		Model(&batch.BatchRequest{}).
		Where("batch_id = ? AND state = ?", batchID, batch.StateFailed).
		Count(&failed).Error
	if err != nil {
		return 0, 0, fmt.Errorf("count failed requests: %w", err)
	}
	return completed, failed, nil
}

// PruneTerminalBatches deletes terminal batches whose completion time is
// before the cutoff, requests first. Returns the number of batches removed.
func (s *Store) PruneTerminalBatches(ctx context.Context, cutoff time.Time) (int64, error) {
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&batch.Batch{}).
		Where("state IN ? AND completed_at < ?", batch.TerminalStates(), cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("select prunable batches: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id IN ?", ids).Delete(&batch.BatchRequest{}).Error; err != nil {
			return fmt.Errorf("delete requests: %w", err)
		}
		if err := tx.Where("id IN ?", ids).Delete(&batch.Batch{}).Error; err != nil {
			return fmt.Errorf("delete batches: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("pruned terminal batches",
		zap.Int("count", len(ids)),
		zap.Time("cutoff", cutoff),
	)
	return int64(len(ids)), nil
}
