package batch

import (
	"context"
	"sort"
	"sync"
)

// ResultHandler runs once per delivered result, with the updated stored
// request and the decoded result.
type ResultHandler func(ctx context.Context, req *BatchRequest, res Result) error

// CompletionHandler runs once when a whole batch completes.
type CompletionHandler func(ctx context.Context, b *Batch) error

// HandlerRegistry is a thread-safe registry mapping stable string keys to
// callback functions. Batch records store only the lookup key; the function
// is resolved at dispatch time, so handlers survive process restarts as long
// as the worker registers them under the same key.
type HandlerRegistry struct {
	results     map[string]ResultHandler
	completions map[string]CompletionHandler
	mu          sync.RWMutex
}

// NewHandlerRegistry creates an empty HandlerRegistry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		results:     make(map[string]ResultHandler),
		completions: make(map[string]CompletionHandler),
	}
}

// RegisterResultHandler adds a per-result handler under the given key.
// An existing handler with the same key is replaced.
func (r *HandlerRegistry) RegisterResultHandler(key string, h ResultHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[key] = h
}

// RegisterCompletionHandler adds a batch-completion handler under the given
// key. An existing handler with the same key is replaced.
func (r *HandlerRegistry) RegisterCompletionHandler(key string, h CompletionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions[key] = h
}

// ResultHandler resolves a per-result handler by key.
func (r *HandlerRegistry) ResultHandler(key string) (ResultHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.results[key]
	return h, ok
}

// CompletionHandler resolves a batch-completion handler by key.
func (r *HandlerRegistry) CompletionHandler(key string) (CompletionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.completions[key]
	return h, ok
}

// Keys returns the registered handler keys, sorted, for diagnostics.
func (r *HandlerRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.results)+len(r.completions))
	for k := range r.results {
		keys = append(keys, k)
	}
	for k := range r.completions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
