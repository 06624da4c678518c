package language

import "unicode"

var scripts = []struct {
	table *unicode.RangeTable
	lang  Language
}{
	// Devanagari is shared by Hindi and Marathi; Hindi is the more common import.
	{unicode.Devanagari, Hindi},
	{unicode.Bengali, Bengali},
	{unicode.Tamil, Tamil},
	{unicode.Telugu, Telugu},
	{unicode.Gujarati, Gujarati},
	{unicode.Kannada, Kannada},
	{unicode.Malayalam, Malayalam},
	{unicode.Gurmukhi, Punjabi},
	{unicode.Oriya, Odia},
}

// DetectScript guesses the language of text from its dominant Indic script.
// It reports false when no supported script covers at least half of the
// letters.
func DetectScript(text string) (Language, bool) {
	counts := make([]int, len(scripts))
	letters := 0
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r) && !unicode.Is(unicode.Mc, r) {
			continue
		}
		letters++
		for i, s := range scripts {
			if unicode.Is(s.table, r) {
				counts[i]++
				break
			}
		}
	}
	best := -1
	for i, n := range counts {
		if n > 0 && (best < 0 || n > counts[best]) {
			best = i
		}
	}
	if best < 0 || counts[best]*2 < letters {
		return "", false
	}
	return scripts[best].lang, true
}
