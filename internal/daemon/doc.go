// Package daemon coordinates the long-running bhasha process.
//
// It ties configuration, the task queue and the workflow manager into a
// single lifecycle with flock-based locking to prevent multiple instances
// against one data directory. The daemon also exposes queue maintenance
// helpers used by the CLI status commands.
//
// Keep orchestration logic here: pipeline steps, job polling and prompt
// evaluation live in their own packages while the daemon focuses on startup,
// shutdown and high level coordination.
package daemon
