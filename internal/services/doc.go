// Package services defines shared utilities consumed by the curation,
// pipeline, and fine-tuning packages.
//
// Key responsibilities:
//   - Context helpers that stamp pipeline IDs, job IDs, task IDs, stage names,
//     and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     (validation, authorization, duplicate, not found, provider, pipeline
//     step) so callers and background workers handle them uniformly.
//
// Use these helpers when wiring new components so operational behaviour (error
// handling, observability, retries) stays uniform across the system.
package services
