package textutil

import "strings"

// Tokens returns the set of case-folded whitespace tokens in text.
func Tokens(text string) map[string]struct{} {
	fields := strings.Fields(fold(text))
	set := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		set[field] = struct{}{}
	}
	return set
}

// Similarity returns the Jaccard index of the token sets of a and b.
// Returns 0 when both texts are empty.
func Similarity(a, b string) float64 {
	return Jaccard(Tokens(a), Tokens(b))
}

// Jaccard returns |a ∩ b| / |a ∪ b| for two token sets, or 0 if the union
// is empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// NearDuplicate describes the closest existing text above a threshold.
type NearDuplicate struct {
	Index      int
	Similarity float64
}

// FindNearDuplicate returns the first candidate whose similarity to text is
// at least threshold.
func FindNearDuplicate(text string, candidates []string, threshold float64) (NearDuplicate, bool) {
	tokens := Tokens(text)
	for i, candidate := range candidates {
		score := Jaccard(tokens, Tokens(candidate))
		if score >= threshold {
			return NearDuplicate{Index: i, Similarity: score}, true
		}
	}
	return NearDuplicate{}, false
}

// DedupeStrict keeps the first occurrence of each DedupeKey and reports how
// many later items were dropped.
func DedupeStrict[T any](items []T, textOf func(T) string) ([]T, int) {
	seen := make(map[string]struct{}, len(items))
	kept := make([]T, 0, len(items))
	removed := 0
	for _, item := range items {
		key := DedupeKey(textOf(item))
		if _, ok := seen[key]; ok {
			removed++
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, item)
	}
	return kept, removed
}
