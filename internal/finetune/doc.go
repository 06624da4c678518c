// Package finetune owns the fine-tuning job lifecycle: recommendation,
// job creation, submission to a provider, status polling and cancellation.
//
// Jobs move pending -> running -> completed|failed|cancelled. Polling runs
// as the periodic finetune.poll task and fans out over running jobs with a
// bounded errgroup.
package finetune
