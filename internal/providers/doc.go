// Package providers adapts external fine-tuning services to a common
// Submit/Poll/Cancel capability set.
//
// Two adapters exist: OpenAI, a fixed-schema API that takes uploaded JSONL
// files, and Custom, which posts training data to a user-registered endpoint
// and reads job fields from several candidate names. Submission retries a
// fixed number of times with a constant backoff; polling and cancellation
// make a single attempt and rely on the next scheduled poll instead.
package providers
