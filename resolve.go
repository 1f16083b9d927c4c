package gembatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/obayesshelton/gembatch/batch"
	"github.com/obayesshelton/gembatch/internal/queue"
	"github.com/obayesshelton/gembatch/internal/store"
)

// handleResolve fetches a completed batch's results and correlates them
// back to the stored requests by key. Structural failures mark the batch
// Failed and propagate, so the queue's bounded retry applies; per-result
// handler failures are contained and logged.
func (m *Manager) handleResolve(ctx context.Context, task *queue.Task) error {
	var p resolvePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode resolve payload: %w", err)
	}

	b, err := m.store.FindBatch(ctx, p.BatchID)
	if errors.Is(err, batch.ErrNotFound) {
		m.logger.Warn("resolve task for missing batch", zap.Uint("batch_id", p.BatchID))
		return nil
	}
	if err != nil {
		return err
	}

	if err := m.resolveResults(ctx, b, p.Status); err != nil {
		m.logger.Error("failed to process batch results",
			zap.Uint("batch_id", b.ID),
			zap.Error(err),
		)
		if _, markErr := m.store.MarkBatchFailed(ctx, b.ID, fmt.Sprintf("Result processing failed: %s", err)); markErr != nil {
			return markErr
		}
		m.collector.RecordBatchFinished(string(batch.StateFailed))
		return err
	}
	return nil
}

func (m *Manager) resolveResults(ctx context.Context, b *batch.Batch, status map[string]any) error {
	entries, err := m.fetchResults(ctx, b, status)
	if err != nil {
		return err
	}

	requests, err := m.store.RequestsForBatch(ctx, b.ID)
	if err != nil {
		return err
	}
	byKey := make(map[string]*batch.BatchRequest, len(requests))
	for i := range requests {
		byKey[requests[i].Key] = &requests[i]
	}

	for _, entry := range entries {
		req, ok := byKey[entry.Key]
		if !ok {
			m.logger.Warn("no matching request for result key",
				zap.Uint("batch_id", b.ID),
				zap.String("key", entry.Key),
			)
			continue
		}
		if err := m.applyResult(ctx, b, req, batch.ResultFromEntry(entry)); err != nil {
			return err
		}
	}

	completed, failed, err := m.store.CountRequestStates(ctx, b.ID)
	if err != nil {
		return err
	}
	updated, err := m.store.MarkBatchCompleted(ctx, b.ID, int(completed), int(failed))
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}

	m.collector.RecordBatchFinished(string(batch.StateCompleted))
	m.logger.Info("batch completed",
		zap.Uint("batch_id", b.ID),
		zap.Int64("completed", completed),
		zap.Int64("failed", failed),
	)

	m.runCompletionHandler(ctx, b)
	return nil
}

// applyResult persists one result. The store's conditional update keeps
// terminal requests untouched, so a replayed result set neither rewrites
// rows nor re-fires handlers.
func (m *Manager) applyResult(ctx context.Context, b *batch.Batch, req *batch.BatchRequest, res batch.Result) error {
	var updated bool
	var err error

	if res.Successful {
		update := store.RequestUpdate{
			ResponsePayload:  batch.JSONMap{},
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			ThoughtTokens:    res.ThoughtTokens,
		}
		if m.cfg.Storage.StoreResponsePayloads {
			update.ResponsePayload = res.Response
		}
		if text, ok := res.Text(); ok {
			update.ResponseText = &text
		}
		if structured, ok := res.StructuredOutput(); ok {
			update.StructuredResponse = structured
		}

		updated, err = m.store.MarkRequestCompleted(ctx, req.ID, update)
	} else {
		updated, err = m.store.MarkRequestFailed(ctx, req.ID, res.Error)
	}
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}

	if res.Successful {
		m.collector.RecordRequestFinished(string(batch.StateCompleted))
		m.recordTokens(res)
	} else {
		m.collector.RecordRequestFinished(string(batch.StateFailed))
	}

	if b.OnEachResultHandler != "" {
		m.runResultHandler(ctx, b.OnEachResultHandler, req, res)
	}
	return nil
}

func (m *Manager) recordTokens(res batch.Result) {
	if res.PromptTokens != nil {
		m.collector.RecordTokens("prompt", *res.PromptTokens)
	}
	if res.CompletionTokens != nil {
		m.collector.RecordTokens("completion", *res.CompletionTokens)
	}
	if res.ThoughtTokens != nil {
		m.collector.RecordTokens("thought", *res.ThoughtTokens)
	}
}

// runResultHandler invokes a per-result handler, containing panics and
// errors so one bad handler cannot fail the whole resolution.
func (m *Manager) runResultHandler(ctx context.Context, key string, req *batch.BatchRequest, res batch.Result) {
	h, ok := m.registry.ResultHandler(key)
	if !ok {
		m.logger.Warn("unknown result handler", zap.String("handler", key))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("result handler panicked",
				zap.String("handler", key),
				zap.String("request_key", req.Key),
				zap.Any("panic", r),
			)
		}
	}()
	if err := h(ctx, req, res); err != nil {
		m.logger.Error("result handler failed",
			zap.String("handler", key),
			zap.String("request_key", req.Key),
			zap.Error(err),
		)
	}
}

func (m *Manager) runCompletionHandler(ctx context.Context, b *batch.Batch) {
	key := b.OnCompletedHandler
	if key == "" {
		return
	}
	h, ok := m.registry.CompletionHandler(key)
	if !ok {
		m.logger.Warn("unknown completion handler", zap.String("handler", key))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("completion handler panicked",
				zap.String("handler", key),
				zap.Uint("batch_id", b.ID),
				zap.Any("panic", r),
			)
		}
	}()
	if err := h(ctx, b); err != nil {
		m.logger.Error("completion handler failed",
			zap.String("handler", key),
			zap.Uint("batch_id", b.ID),
			zap.Error(err),
		)
	}
}

// fetchResults retrieves the result entries for a finished batch, from the
// destination file for file-mode batches and from the status payload's
// inlined responses otherwise.
func (m *Manager) fetchResults(ctx context.Context, b *batch.Batch, status map[string]any) ([]batch.ResultEntry, error) {
	if b.InputMode == batch.InputModeFile {
		return m.fetchFileResults(ctx, status)
	}
	return fetchInlineResults(status), nil
}

func (m *Manager) fetchFileResults(ctx context.Context, status map[string]any) ([]batch.ResultEntry, error) {
	fileName := destinationFile(status)
	if fileName == "" {
		return nil, errors.New("no destination file in batch response")
	}
	content, err := m.client.DownloadResults(ctx, fileName)
	if err != nil {
		return nil, err
	}
	return parseJSONL(content), nil
}

// destinationFile finds the result file name, tolerating the field naming
// variants the API has shipped.
func destinationFile(status map[string]any) string {
	if resp, ok := status["response"].(map[string]any); ok {
		if s, ok := resp["outputFile"].(string); ok && s != "" {
			return s
		}
		if s, ok := resp["output_file"].(string); ok && s != "" {
			return s
		}
	}
	if dest, ok := status["dest"].(map[string]any); ok {
		if s, ok := dest["file_name"].(string); ok && s != "" {
			return s
		}
		if s, ok := dest["fileName"].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// parseJSONL decodes newline-delimited result lines. Blank and malformed
// lines are skipped; keys come from the top-level key field or
// metadata.key, defaulting to empty.
func parseJSONL(content []byte) []batch.ResultEntry {
	var entries []batch.ResultEntry

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal(line, &data); err != nil {
			continue
		}
		entries = append(entries, batch.ResultEntry{
			Key:      entryKey(data, ""),
			Response: mapField(data, "response"),
			Error:    mapField(data, "error"),
		})
	}
	return entries
}

// fetchInlineResults extracts inlined responses from the status payload,
// tolerating the nesting variants the API has shipped. Entries without a
// metadata key get a positional request-<i> key.
func fetchInlineResults(status map[string]any) []batch.ResultEntry {
	items := inlinedResponses(status)

	entries := make([]batch.ResultEntry, 0, len(items))
	for i, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		entries = append(entries, batch.ResultEntry{
			Key:      entryKey(item, fmt.Sprintf("request-%d", i)),
			Response: mapField(item, "response"),
			Error:    mapField(item, "error"),
		})
	}
	return entries
}

func inlinedResponses(status map[string]any) []any {
	if resp, ok := status["response"].(map[string]any); ok {
		if inner, ok := resp["inlinedResponses"].(map[string]any); ok {
			if items, ok := inner["inlinedResponses"].([]any); ok {
				return items
			}
		}
		if items, ok := resp["inlinedResponses"].([]any); ok {
			return items
		}
	}
	if out, ok := status["output"].(map[string]any); ok {
		if items, ok := out["inlinedResponses"].([]any); ok {
			return items
		}
	}
	return nil
}

// entryKey resolves a result entry's correlation key: top-level key first,
// then metadata.key, then the given fallback.
func entryKey(data map[string]any, fallback string) string {
	if key, ok := data["key"].(string); ok && key != "" {
		return key
	}
	if md, ok := data["metadata"].(map[string]any); ok {
		if key, ok := md["key"].(string); ok && key != "" {
			return key
		}
	}
	return fallback
}

func mapField(data map[string]any, field string) map[string]any {
	m, _ := data[field].(map[string]any)
	return m
}
