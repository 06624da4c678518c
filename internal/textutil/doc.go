// Package textutil provides the text normalization and duplicate detection
// primitives shared by content creation, dataset building, and bulk import.
//
// Two duplicate policies live here:
//   - Similarity: token-set Jaccard index over case-folded whitespace tokens,
//     used to reject near copies at content-creation time.
//   - DedupeKey/DedupeStrict: exact equality of normalized, lowercased text,
//     used when building datasets and importing records.
//
// Text is composed to Unicode NFC before comparison so visually identical
// Indic script input with different code point sequences compares equal.
package textutil
