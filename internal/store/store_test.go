package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/obayesshelton/gembatch/batch"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenTest()
	require.NoError(t, err)
	return New(db, zap.NewNop())
}

func createBatch(t *testing.T, s *Store, keys ...string) *batch.Batch {
	t.Helper()
	b := &batch.Batch{
		Model:         "gemini-2.0-flash",
		State:         batch.StatePending,
		TotalRequests: len(keys),
	}
	requests := make([]*batch.BatchRequest, len(keys))
	for i, k := range keys {
		requests[i] = &batch.BatchRequest{
			Key:            k,
			State:          batch.StatePending,
			RequestPayload: batch.JSONMap{"contents": k},
		}
	}
	require.NoError(t, s.CreateBatch(context.Background(), b, requests))
	return b
}

func TestStore_CreateAndFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := createBatch(t, s, "a", "b")
	require.NotZero(t, b.ID)

	got, err := s.FindBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.StatePending, got.State)
	assert.Equal(t, 2, got.TotalRequests)

	requests, err := s.RequestsForBatch(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, requests, 2)
	assert.Equal(t, "a", requests[0].Key)
	assert.Equal(t, "b", requests[1].Key)
}

func TestStore_FindMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.FindBatch(context.Background(), 9999)
	assert.ErrorIs(t, err, batch.ErrNotFound)

	_, err = s.FindBatchByAPIName(context.Background(), "batches/none")
	assert.ErrorIs(t, err, batch.ErrNotFound)
}

func TestStore_DuplicateKeyRejected(t *testing.T) {
	s := newTestStore(t)

	b := &batch.Batch{Model: "m", State: batch.StatePending}
	err := s.CreateBatch(context.Background(), b, []*batch.BatchRequest{
		{Key: "same", State: batch.StatePending, RequestPayload: batch.JSONMap{}},
		{Key: "same", State: batch.StatePending, RequestPayload: batch.JSONMap{}},
	})
	assert.ErrorIs(t, err, batch.ErrDuplicateKey)
}

func TestStore_SameKeyDifferentBatches(t *testing.T) {
	s := newTestStore(t)

	createBatch(t, s, "shared")
	createBatch(t, s, "shared")
}

func TestStore_FindByAPIName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := createBatch(t, s, "a")
	ok, err := s.MarkSubmitted(ctx, b.ID, "batches/abc123", batch.InputModeInline)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.FindBatchByAPIName(ctx, "batches/abc123")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, batch.StateSubmitted, got.State)
	assert.Equal(t, batch.InputModeInline, got.InputMode)
	assert.NotNil(t, got.SubmittedAt)
}

func TestStore_MarkSubmittedOnlyFromPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := createBatch(t, s, "a")
	ok, err := s.MarkSubmitted(ctx, b.ID, "batches/first", batch.InputModeInline)
	require.NoError(t, err)
	assert.True(t, ok)

	// Duplicate delivery of the submission task finds the guard closed.
	ok, err = s.MarkSubmitted(ctx, b.ID, "batches/second", batch.InputModeFile)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.FindBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "batches/first", got.APIBatchName)
}

func TestStore_TerminalStatesAbsorb(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := createBatch(t, s, "a")
	_, err := s.MarkBatchFailed(ctx, b.ID, "boom")
	require.NoError(t, err)

	ok, err := s.MarkBatchCompleted(ctx, b.ID, 1, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.MarkBatchCancelled(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.MarkRunning(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.FindBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.StateFailed, got.State)
	assert.Equal(t, "boom", got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)
}

func TestStore_MarkRunningNotFromRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := createBatch(t, s, "a")
	ok, err := s.MarkRunning(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkRunning(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RequestFirstWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := createBatch(t, s, "a")
	requests, err := s.RequestsForBatch(ctx, b.ID)
	require.NoError(t, err)
	reqID := requests[0].ID

	text := "answer"
	ok, err := s.MarkRequestCompleted(ctx, reqID, RequestUpdate{
		ResponsePayload: batch.JSONMap{"candidates": []any{}},
		ResponseText:    &text,
		PromptTokens:    intPtr(10),
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// Replayed delivery neither rewrites the row nor reports an update.
	ok, err = s.MarkRequestFailed(ctx, reqID, "late error")
	require.NoError(t, err)
	assert.False(t, ok)

	requests, err = s.RequestsForBatch(ctx, b.ID)
	require.NoError(t, err)
	got := requests[0]
	assert.Equal(t, batch.StateCompleted, got.State)
	require.NotNil(t, got.ResponseText)
	assert.Equal(t, "answer", *got.ResponseText)
	require.NotNil(t, got.PromptTokens)
	assert.Equal(t, 10, *got.PromptTokens)
	assert.Empty(t, got.ErrorMessage)
}

func TestStore_CountRequestStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := createBatch(t, s, "a", "b", "c")
	requests, err := s.RequestsForBatch(ctx, b.ID)
	require.NoError(t, err)

	_, err = s.MarkRequestCompleted(ctx, requests[0].ID, RequestUpdate{})
	require.NoError(t, err)
	_, err = s.MarkRequestFailed(ctx, requests[1].ID, "bad")
	require.NoError(t, err)

	completed, failed, err := s.CountRequestStates(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), completed)
	assert.Equal(t, int64(1), failed)
}

func TestStore_PruneTerminalBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := createBatch(t, s, "a")
	_, err := s.MarkBatchFailed(ctx, old.ID, "old failure")
	require.NoError(t, err)
	// Age the completion timestamp past the cutoff.
	past := time.Now().AddDate(0, 0, -60)
	require.NoError(t, s.db.Model(&batch.Batch{}).
		Where("id = ?", old.ID).
		Update("completed_at", past).Error)

	fresh := createBatch(t, s, "b")
	_, err = s.MarkBatchCompleted(ctx, fresh.ID, 1, 0)
	require.NoError(t, err)

	active := createBatch(t, s, "c")

	count, err := s.PruneTerminalBatches(ctx, time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = s.FindBatch(ctx, old.ID)
	assert.ErrorIs(t, err, batch.ErrNotFound)

	requests, err := s.RequestsForBatch(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, requests)

	_, err = s.FindBatch(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = s.FindBatch(ctx, active.ID)
	assert.NoError(t, err)
}

func TestStore_ActiveBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := createBatch(t, s, "a")
	second := createBatch(t, s, "b")
	done := createBatch(t, s, "c")
	_, err := s.MarkBatchCompleted(ctx, done.ID, 1, 0)
	require.NoError(t, err)

	active, err := s.ActiveBatches(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	// Newest first.
	assert.Equal(t, second.ID, active[0].ID)
	assert.Equal(t, first.ID, active[1].ID)
}

func intPtr(n int) *int { return &n }
