// Package workflow runs background tasks from the durable task queue.
//
// The Manager polls the queue, reclaims claims that went stale, and hands each
// due task to the Handler registered for its kind. Handlers return an error to
// signal failure; the manager either retries the task after the configured
// interval or fails it permanently when the error is fatal or the attempt
// budget is spent. Periodic triggers (job polling, prompt evaluation) are
// enqueued by Every so the same retry and logging rules apply to them.
//
// Drain processes due work synchronously, which lets CLI commands and tests
// drive the same handlers without starting the background loop.
package workflow
