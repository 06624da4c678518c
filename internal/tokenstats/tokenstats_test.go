package tokenstats

import (
	"strings"
	"testing"
)

func TestFromCountsEmpty(t *testing.T) {
	got := FromCounts(nil)
	if got != (Distribution{}) {
		t.Fatalf("expected zero distribution, got %+v", got)
	}
	if !got.Empty() {
		t.Fatal("expected Empty() for zero items")
	}
	if got.CoefficientOfVariation() != 0 {
		t.Fatal("expected zero CV for empty distribution")
	}
}

func TestFromCountsSingle(t *testing.T) {
	got := FromCounts([]int{42})
	if got.StdDev != 0 {
		t.Fatalf("stdDev = %v, want 0", got.StdDev)
	}
	for name, v := range map[string]int{"min": got.Min, "max": got.Max, "p25": got.P25, "p75": got.P75, "p95": got.P95} {
		if v != 42 {
			t.Fatalf("%s = %d, want 42", name, v)
		}
	}
	if got.Histogram.Short != 1 {
		t.Fatalf("histogram = %+v", got.Histogram)
	}
}

func TestFromCountsStatistics(t *testing.T) {
	got := FromCounts([]int{10, 20, 30, 40})
	if got.Avg != 25 {
		t.Fatalf("avg = %v", got.Avg)
	}
	if got.Median != 25 {
		t.Fatalf("median = %v", got.Median)
	}
	// population stdDev of 10,20,30,40 is sqrt(125) ~ 11.18
	if got.StdDev != 11 {
		t.Fatalf("stdDev = %v", got.StdDev)
	}
	if got.P25 != 20 || got.P75 != 40 || got.P95 != 40 {
		t.Fatalf("percentiles = %d/%d/%d", got.P25, got.P75, got.P95)
	}
}

func TestHistogramBoundaries(t *testing.T) {
	got := FromCounts([]int{49, 50, 199, 200, 1})
	want := Histogram{Short: 2, Medium: 2, Long: 1}
	if got.Histogram != want {
		t.Fatalf("histogram = %+v, want %+v", got.Histogram, want)
	}
}

func TestOrderingProperty(t *testing.T) {
	inputs := [][]int{
		{5, 1, 9, 3, 7, 2, 8},
		{100, 100, 100},
		{1, 1000},
		{3, 600, 45, 45, 45, 210, 12, 88, 99, 140, 300},
	}
	for _, counts := range inputs {
		d := FromCounts(counts)
		if !(float64(d.Min) <= float64(d.P25) && float64(d.P25) <= d.Median+0.5 && d.Median <= float64(d.P75)+0.5 && d.P75 <= d.P95 && d.P95 <= d.Max) {
			t.Fatalf("ordering violated for %v: %+v", counts, d)
		}
		if d.Histogram.Total() != len(counts) {
			t.Fatalf("histogram total %d != %d", d.Histogram.Total(), len(counts))
		}
	}
}

func TestAnalyzeUsesTokenEstimate(t *testing.T) {
	texts := []string{strings.Repeat("क", 30), strings.Repeat("a", 31)}
	got := Analyze(texts)
	if got.Min != 10 || got.Max != 11 {
		t.Fatalf("min/max = %d/%d, want 10/11", got.Min, got.Max)
	}
}
