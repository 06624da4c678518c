// Package pipeline drives import pipelines: an external dataset moves
// through normalizing, validating and ingesting, then optionally into a
// dataset snapshot and a fine-tune submission.
//
// Each step runs as its own pipeline.step queue task keyed by pipeline id.
// A step persists its effects before the next one is enqueued, so a crash
// resumes from the stored record rather than from memory. Every transition
// goes through store.MutatePipeline, which refuses to rewrite a terminal
// pipeline; that is the cancellation checkpoint.
package pipeline
