package textutil

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText trims text and collapses every whitespace run, newlines
// included, to a single space.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// DedupeKey returns the normalized, lowercased form used for exact duplicate
// detection.
func DedupeKey(text string) string {
	return fold(NormalizeText(text))
}

// EstimateTokens approximates the model token count of text as
// ceil(characters / 3).
func EstimateTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / 3))
}

// CharLength returns the character length of text.
func CharLength(text string) int {
	return len([]rune(text))
}

func fold(text string) string {
	return cases.Lower(language.Und).String(norm.NFC.String(text))
}

// ContainsFold reports whether needle occurs in haystack ignoring case.
func ContainsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(fold(haystack), fold(needle))
}
