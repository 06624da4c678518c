// Package content manages contributed text samples.
//
// Service.Create applies the direct-creation validation rules, rejects near
// duplicates of existing same-language content with a DuplicateContentError,
// stores the item with a zero quality score, and optionally schedules a
// content.analyze task. The AnalyzeHandler runs that task: it asks the quality
// analyzer for a score and falls back to the neutral score when the analyzer
// fails, so analysis never blocks or fails a contribution.
package content
