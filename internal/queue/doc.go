// Package queue persists deferred background tasks in SQLite and exposes
// helpers for claiming and settling them.
//
// Tasks are delivered at least once. A task claimed by a worker that dies is
// returned to pending once its claim is older than the stale timeout, so
// handlers must tolerate redelivery. Each task carries an optional key (for
// example a pipeline id) so periodic triggers can avoid stacking duplicates.
//
// The database is treated as transient storage for in-flight work rather than
// a long-term archive. Schema changes bump schemaVersion; users delete the
// database to adopt the new schema.
package queue
