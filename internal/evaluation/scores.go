package evaluation

import (
	"math"
	"strings"

	"bhasha/internal/textutil"
)

// BLEU is unigram precision of candidate against reference times a brevity
// penalty. A candidate token matches when it appears anywhere in reference,
// so repeats are not clipped. Tokens are case-folded whitespace fields.
// Either side empty scores 0.
func BLEU(candidate, reference string) float64 {
	cand := strings.Fields(strings.ToLower(candidate))
	ref := strings.Fields(strings.ToLower(reference))
	if len(cand) == 0 || len(ref) == 0 {
		return 0
	}
	refSet := make(map[string]struct{}, len(ref))
	for _, tok := range ref {
		refSet[tok] = struct{}{}
	}
	matched := 0
	for _, tok := range cand {
		if _, ok := refSet[tok]; ok {
			matched++
		}
	}
	precision := float64(matched) / float64(len(cand))
	penalty := 1.0
	if len(cand) < len(ref) {
		penalty = math.Exp(1 - float64(len(ref))/float64(len(cand)))
	}
	return round4(precision * penalty)
}

// CulturalAccuracy is the Jaccard index of the word sets of output and
// expected.
func CulturalAccuracy(output, expected string) float64 {
	return round4(textutil.Similarity(output, expected))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
