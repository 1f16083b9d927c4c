package gembatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/obayesshelton/gembatch/batch"
	"github.com/obayesshelton/gembatch/internal/queue"
)

// PendingBatch accumulates requests before submission. Methods are fluent;
// serialization errors are collected and surfaced at Dispatch so chains
// stay uninterrupted.
type PendingBatch struct {
	manager *Manager

	model       string
	displayName string
	queueName   string
	connection  string
	onCompleted string
	onEach      string
	metadata    batch.JSONMap

	requests []*batch.BatchRequest
	err      error
}

func newPendingBatch(m *Manager, model string) *PendingBatch {
	return &PendingBatch{manager: m, model: model}
}

// Named sets the display name sent to the API.
func (p *PendingBatch) Named(name string) *PendingBatch {
	p.displayName = name
	return p
}

// OnQueue routes the batch's lifecycle tasks to a specific queue.
func (p *PendingBatch) OnQueue(name string) *PendingBatch {
	p.queueName = name
	return p
}

// OnConnection records a connection hint on the batch.
func (p *PendingBatch) OnConnection(name string) *PendingBatch {
	p.connection = name
	return p
}

// OnEachResult sets the registry key of the handler invoked once per
// resolved result.
func (p *PendingBatch) OnEachResult(handlerKey string) *PendingBatch {
	p.onEach = handlerKey
	return p
}

// Then sets the registry key of the handler invoked when the whole batch
// completes.
func (p *PendingBatch) Then(handlerKey string) *PendingBatch {
	p.onCompleted = handlerKey
	return p
}

// WithMetadata attaches arbitrary metadata to the batch record.
func (p *PendingBatch) WithMetadata(md map[string]any) *PendingBatch {
	p.metadata = md
	return p
}

// AddRawRequest adds a payload that is already Gemini-shaped. An empty key
// gets an auto-generated positional one.
func (p *PendingBatch) AddRawRequest(payload map[string]any, key string, meta ...map[string]any) *PendingBatch {
	return p.add(batch.RawSerializer{}, payload, key, meta)
}

// AddTextRequest adds a plain text-generation request.
func (p *PendingBatch) AddTextRequest(req batch.TextRequest, key string, meta ...map[string]any) *PendingBatch {
	return p.add(batch.TextSerializer{}, &req, key, meta)
}

// AddStructuredRequest adds a request constrained to a JSON response schema.
func (p *PendingBatch) AddStructuredRequest(req batch.StructuredRequest, key string, meta ...map[string]any) *PendingBatch {
	return p.add(batch.StructuredSerializer{}, &req, key, meta)
}

// AddSerializedRequest adds a request through a caller-chosen serializer.
func (p *PendingBatch) AddSerializedRequest(s batch.PayloadSerializer, request any, key string, meta ...map[string]any) *PendingBatch {
	return p.add(s, request, key, meta)
}

func (p *PendingBatch) add(s batch.PayloadSerializer, request any, key string, meta []map[string]any) *PendingBatch {
	if p.err != nil {
		return p
	}

	payload, err := s.Serialize(request)
	if err != nil {
		p.err = fmt.Errorf("serialize request %d: %w", len(p.requests), err)
		return p
	}

	if key == "" {
		key = fmt.Sprintf("request-%d", len(p.requests))
	}

	r := &batch.BatchRequest{
		Key:            key,
		State:          batch.StatePending,
		RequestPayload: payload,
	}
	if len(meta) > 0 && meta[0] != nil {
		r.Meta = meta[0]
	}

	p.requests = append(p.requests, r)
	return p
}

// Len reports how many requests have been added so far.
func (p *PendingBatch) Len() int { return len(p.requests) }

// Dispatch persists the batch with its requests and enqueues the
// submission task. Nothing is persisted when the batch is empty or any
// added request failed to serialize.
func (p *PendingBatch) Dispatch(ctx context.Context) (*batch.Batch, error) {
	if p.err != nil {
		return nil, p.err
	}
	if len(p.requests) == 0 {
		return nil, batch.ErrEmptyBatch
	}

	m := p.manager
	b := &batch.Batch{
		Model:               p.model,
		DisplayName:         p.displayName,
		State:               batch.StatePending,
		TotalRequests:       len(p.requests),
		OnCompletedHandler:  p.onCompleted,
		OnEachResultHandler: p.onEach,
		Metadata:            p.metadata,
		Queue:               p.queueName,
		Connection:          p.connection,
	}

	if err := m.store.CreateBatch(ctx, b, p.requests); err != nil {
		return nil, err
	}
	m.collector.RecordBatchCreated()

	task, err := queue.NewTask(taskSubmit, m.queueName(b), submitPayload{BatchID: b.ID})
	if err != nil {
		return nil, err
	}
	task.MaxRetries = m.cfg.Queue.SubmitRetries
	task.RetryBackoff = m.cfg.Queue.SubmitBackoff

	if err := m.queue.Enqueue(ctx, task, 0); err != nil {
		return nil, fmt.Errorf("enqueue submission: %w", err)
	}

	m.logger.Info("batch created",
		zap.Uint("batch_id", b.ID),
		zap.String("model", b.Model),
		zap.Int("requests", b.TotalRequests),
	)
	return b, nil
}
