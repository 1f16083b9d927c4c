// Package gembatch orchestrates the Gemini batch API lifecycle.
//
// Callers build a batch through the fluent PendingBatch, dispatch it, and
// the rest happens asynchronously on the task queue: a submission task
// serializes the requests and creates the remote batch (inline or via an
// uploaded JSONL file), polling tasks track the remote job with a ramping
// delay, and a resolution task correlates results back to the stored
// requests by key once the job succeeds.
//
//	mgr := gembatch.New(cfg, db, rdb, logger)
//	b, err := mgr.Create("").
//		Named("nightly-summaries").
//		AddTextRequest(batch.TextRequest{Prompt: "Summarize ..."}, "doc-1").
//		Dispatch(ctx)
//
// Stage handlers are idempotent against duplicate queue delivery: every
// lifecycle transition is a conditional update guarded on the persisted
// state, so a replayed task finds the guard closed and does nothing.
package gembatch
