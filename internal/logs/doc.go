// Package logs tails the daemon log for the CLI.
//
// Reads use bounded memory, negative offsets mean "last N lines", and follow
// mode polls for appended lines until the caller's context ends. A match
// string narrows output to lines mentioning one pipeline, job or dataset.
package logs
