// Package store is the SQLite-backed document store for content, datasets,
// import pipelines, fine-tune jobs, provider connections, test prompts and
// the activity feed.
//
// Records use UUID string identifiers. Nested values (entry id lists,
// pipeline configuration, metrics) are stored as JSON text columns. Lookups
// by id return nil, nil when the record is missing so callers decide whether
// absence is an error.
package store
