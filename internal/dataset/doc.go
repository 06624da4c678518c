// Package dataset assembles training datasets from published content.
//
// Builder.Create filters published content by language, content type,
// quality floor, and an optional id allow-list, removes exact duplicates
// (normalized, lowercased text, first occurrence wins), and persists the
// survivors with their token distribution and mean quality. BuildFromIDs is
// the pipeline variant restricted to an exact id set. Normalize re-filters an
// existing dataset in place. Export shuffles members into train, validation,
// and test partitions using caller-supplied ratios.
package dataset
