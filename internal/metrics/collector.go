// Package metrics exposes prometheus instrumentation for the batch pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector holds the pipeline's prometheus metrics.
type Collector struct {
	batchesCreated   prometheus.Counter
	batchesSubmitted prometheus.Counter
	batchesFinished  *prometheus.CounterVec
	requestsFinished *prometheus.CounterVec
	tokensUsed       *prometheus.CounterVec
	pollCycles       prometheus.Counter
	batchesPruned    prometheus.Counter

	registry *prometheus.Registry
	logger   *zap.Logger
}

// NewCollector creates a Collector on its own registry, so multiple
// collectors (worker process, tests) never collide.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	c := &Collector{
		registry: registry,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.batchesCreated = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_created_total",
		Help:      "Total number of batches committed by the builder",
	})
	c.batchesSubmitted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_submitted_total",
		Help:      "Total number of batches accepted by the remote API",
	})
	c.batchesFinished = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_finished_total",
		Help:      "Total number of batches reaching a terminal state",
	}, []string{"state"})
	c.requestsFinished = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_finished_total",
		Help:      "Total number of requests resolved",
	}, []string{"state"})
	c.tokensUsed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_used_total",
		Help:      "Total token usage reported by the API",
	}, []string{"kind"})
	c.pollCycles = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_cycles_total",
		Help:      "Total number of status poll cycles executed",
	})
	c.batchesPruned = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_pruned_total",
		Help:      "Total number of terminal batches removed by retention",
	})

	return c
}

// RecordBatchCreated counts a batch committed by the builder.
func (c *Collector) RecordBatchCreated() { c.batchesCreated.Inc() }

// RecordBatchSubmitted counts a batch accepted by the remote API.
func (c *Collector) RecordBatchSubmitted() { c.batchesSubmitted.Inc() }

// RecordBatchFinished counts a batch reaching a terminal state.
func (c *Collector) RecordBatchFinished(state string) {
	c.batchesFinished.WithLabelValues(state).Inc()
}

// RecordRequestFinished counts a resolved request.
func (c *Collector) RecordRequestFinished(state string) {
	c.requestsFinished.WithLabelValues(state).Inc()
}

// RecordTokens counts token usage by kind (prompt, completion, thought).
func (c *Collector) RecordTokens(kind string, count int) {
	if count > 0 {
		c.tokensUsed.WithLabelValues(kind).Add(float64(count))
	}
}

// RecordPollCycle counts one poll cycle.
func (c *Collector) RecordPollCycle() { c.pollCycles.Inc() }

// RecordPruned counts batches removed by the retention sweeper.
func (c *Collector) RecordPruned(count int64) {
	if count > 0 {
		c.batchesPruned.Add(float64(count))
	}
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr. It blocks until the server stops.
func (c *Collector) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	c.logger.Info("metrics endpoint listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}
