package gembatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/obayesshelton/gembatch/batch"
	"github.com/obayesshelton/gembatch/config"
	"github.com/obayesshelton/gembatch/gemini"
	"github.com/obayesshelton/gembatch/internal/metrics"
	"github.com/obayesshelton/gembatch/internal/queue"
	"github.com/obayesshelton/gembatch/internal/store"
)

// Manager is the entry point of the orchestrator. It owns the store, the
// task queue, the API client and the handler registry, and implements the
// lifecycle stage handlers consumed by the queue worker.
type Manager struct {
	cfg       *config.Config
	store     *store.Store
	queue     *queue.Queue
	client    *gemini.Client
	uploader  *gemini.Uploader
	registry  *batch.HandlerRegistry
	collector *metrics.Collector
	logger    *zap.Logger
}

// New wires a Manager from an open database and redis connection.
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, logger *zap.Logger) *Manager {
	client := gemini.NewClient(gemini.Config{
		APIKey:         cfg.Gemini.APIKey,
		BaseURL:        cfg.Gemini.BaseURL,
		Timeout:        cfg.Gemini.Timeout,
		RateLimitRPS:   cfg.Gemini.RateLimitRPS,
		RateLimitBurst: cfg.Gemini.RateLimitBurst,
	}, logger)

	return &Manager{
		cfg:       cfg,
		store:     store.New(db, logger),
		queue:     queue.New(rdb, cfg.Queue.Prefix, logger),
		client:    client,
		uploader:  gemini.NewUploader(client),
		registry:  batch.NewHandlerRegistry(),
		collector: metrics.NewCollector("gembatch", logger),
		logger:    logger.With(zap.String("component", "manager")),
	}
}

// Create starts a new pending batch for the given model. An empty model
// falls back to the configured default.
func (m *Manager) Create(model string) *PendingBatch {
	if model == "" {
		model = m.cfg.Gemini.Model
	}
	return newPendingBatch(m, model)
}

// Find fetches a batch by id. Returns batch.ErrNotFound when absent.
func (m *Manager) Find(ctx context.Context, id uint) (*batch.Batch, error) {
	return m.store.FindBatch(ctx, id)
}

// FindByAPIName fetches a batch by its remote handle.
func (m *Manager) FindByAPIName(ctx context.Context, name string) (*batch.Batch, error) {
	return m.store.FindBatchByAPIName(ctx, name)
}

// Active lists all batches still in flight, newest first.
func (m *Manager) Active(ctx context.Context) ([]batch.Batch, error) {
	return m.store.ActiveBatches(ctx)
}

// Requests lists a batch's requests in insertion order.
func (m *Manager) Requests(ctx context.Context, batchID uint) ([]batch.BatchRequest, error) {
	return m.store.RequestsForBatch(ctx, batchID)
}

// Cancel cancels an in-flight batch: best-effort remote cancellation, then
// a local transition to Cancelled. Cancelling a terminal batch is a no-op.
func (m *Manager) Cancel(ctx context.Context, id uint) error {
	b, err := m.store.FindBatch(ctx, id)
	if err != nil {
		return err
	}
	if b.IsTerminal() {
		return nil
	}

	if b.APIBatchName != "" {
		if err := m.client.CancelBatch(ctx, b.APIBatchName); err != nil {
			m.logger.Warn("remote batch cancellation failed",
				zap.Uint("batch_id", b.ID),
				zap.String("api_batch_name", b.APIBatchName),
				zap.Error(err),
			)
		}
	}

	updated, err := m.store.MarkBatchCancelled(ctx, id)
	if err != nil {
		return err
	}
	if updated {
		m.collector.RecordBatchFinished(string(batch.StateCancelled))
		m.logger.Info("batch cancelled", zap.Uint("batch_id", id))
	}
	return nil
}

// Prune deletes terminal batches that completed more than the given number
// of days ago, along with their requests. days <= 0 uses the configured
// retention. Returns the number of batches removed.
func (m *Manager) Prune(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = m.cfg.Storage.PruneAfterDays
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	count, err := m.store.PruneTerminalBatches(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune batches: %w", err)
	}
	m.collector.RecordPruned(count)
	return count, nil
}

// Client exposes the underlying Gemini API client for operations outside
// the managed lifecycle, such as listing remote batches.
func (m *Manager) Client() *gemini.Client { return m.client }

// Handlers exposes the registry used to resolve per-result and completion
// handler keys stored on batches.
func (m *Manager) Handlers() *batch.HandlerRegistry { return m.registry }

// Queue exposes the task queue, for building workers.
func (m *Manager) Queue() *queue.Queue { return m.queue }

// Metrics exposes the prometheus collector.
func (m *Manager) Metrics() *metrics.Collector { return m.collector }

// queueName resolves the queue a batch's tasks run on.
func (m *Manager) queueName(b *batch.Batch) string {
	if b.Queue != "" {
		return b.Queue
	}
	return m.cfg.Queue.Name
}
