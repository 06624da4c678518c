// Package tokenstats summarises the estimated token counts of a corpus.
package tokenstats

import (
	"math"
	"sort"

	"bhasha/internal/textutil"
)

// Bucket boundaries for the histogram, in estimated tokens.
const (
	ShortBelow  = 50
	MediumBelow = 200
)

// Histogram counts items by token length.
type Histogram struct {
	Short  int `json:"short"`
	Medium int `json:"medium"`
	Long   int `json:"long"`
}

// Total returns the number of counted items.
func (h Histogram) Total() int {
	return h.Short + h.Medium + h.Long
}

// Distribution is the summary of per-item estimated token counts. Avg, Median
// and StdDev are rounded to the nearest integer.
type Distribution struct {
	Count     int       `json:"count"`
	Avg       float64   `json:"avg"`
	Median    float64   `json:"median"`
	Min       int       `json:"min"`
	Max       int       `json:"max"`
	StdDev    float64   `json:"stdDev"`
	P25       int       `json:"p25"`
	P75       int       `json:"p75"`
	P95       int       `json:"p95"`
	Histogram Histogram `json:"histogram"`
}

// Empty reports whether the distribution was computed over zero items.
func (d Distribution) Empty() bool {
	return d.Count == 0
}

// CoefficientOfVariation returns StdDev/Avg, or 0 when Avg is zero.
func (d Distribution) CoefficientOfVariation() float64 {
	if d.Avg == 0 {
		return 0
	}
	return d.StdDev / d.Avg
}

// Analyze estimates token counts for each text and summarises them.
func Analyze(texts []string) Distribution {
	counts := make([]int, 0, len(texts))
	for _, text := range texts {
		counts = append(counts, textutil.EstimateTokens(text))
	}
	return FromCounts(counts)
}

// FromCounts summarises precomputed token counts. The input is not modified.
func FromCounts(counts []int) Distribution {
	n := len(counts)
	if n == 0 {
		return Distribution{}
	}

	sorted := append([]int(nil), counts...)
	sort.Ints(sorted)

	var sum float64
	var hist Histogram
	for _, c := range sorted {
		sum += float64(c)
		switch {
		case c < ShortBelow:
			hist.Short++
		case c < MediumBelow:
			hist.Medium++
		default:
			hist.Long++
		}
	}
	mean := sum / float64(n)

	var variance float64
	for _, c := range sorted {
		diff := float64(c) - mean
		variance += diff * diff
	}
	variance /= float64(n)

	var median float64
	if n%2 == 0 {
		median = float64(sorted[n/2-1]+sorted[n/2]) / 2
	} else {
		median = float64(sorted[n/2])
	}

	return Distribution{
		Count:     n,
		Avg:       math.Round(mean),
		Median:    math.Round(median),
		Min:       sorted[0],
		Max:       sorted[n-1],
		StdDev:    math.Round(math.Sqrt(variance)),
		P25:       percentile(sorted, 0.25),
		P75:       percentile(sorted, 0.75),
		P95:       percentile(sorted, 0.95),
		Histogram: hist,
	}
}

func percentile(sorted []int, p float64) int {
	idx := int(math.Floor(float64(len(sorted)) * p))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
