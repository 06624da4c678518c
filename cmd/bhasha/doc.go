// Package main hosts the bhasha CLI entrypoint and command graph.
//
// The Cobra-based command tree maps terminal invocations onto the curation
// services: contributing content, registering raw imports, running import
// pipelines, building datasets, submitting fine-tune jobs and evaluating the
// resulting models. Commands work directly against the local databases; the
// daemon only adds background processing of queued tasks.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
