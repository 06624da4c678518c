// Package preflight provides readiness checks for the external APIs and
// filesystem paths that bhasha depends on.
//
// The CLI "bhasha status --check" command runs RunAll to check the data and
// log directories and, when configured, the fine-tuning and quality APIs.
// OpenAIStatus and QualityStatus give the same picture from configuration
// alone for the plain status view.
//
// Each remote check is gated by its config -- unconfigured APIs are skipped.
package preflight
