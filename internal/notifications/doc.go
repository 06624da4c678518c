// Package notifications delivers workflow events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when notifications are disabled.
// Enumerated events cover pipeline and fine-tune milestones so services emit
// consistent messages without duplicating HTTP glue.
package notifications
