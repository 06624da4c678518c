package language

import (
	"sort"
	"strings"
)

// Language is a canonical lowercase language name from the supported set.
type Language string

const (
	Hindi     Language = "hindi"
	Bengali   Language = "bengali"
	Tamil     Language = "tamil"
	Telugu    Language = "telugu"
	Marathi   Language = "marathi"
	Gujarati  Language = "gujarati"
	Kannada   Language = "kannada"
	Malayalam Language = "malayalam"
	Punjabi   Language = "punjabi"
	Odia      Language = "odia"
)

type entry struct {
	name    Language
	code2   string // ISO 639-1 (2-letter)
	display string // Human-readable name
	native  string // Endonym in its own script
}

var languages = []entry{
	{Hindi, "hi", "Hindi", "हिन्दी"},
	{Bengali, "bn", "Bengali", "বাংলা"},
	{Tamil, "ta", "Tamil", "தமிழ்"},
	{Telugu, "te", "Telugu", "తెలుగు"},
	{Marathi, "mr", "Marathi", "मराठी"},
	{Gujarati, "gu", "Gujarati", "ગુજરાતી"},
	{Kannada, "kn", "Kannada", "ಕನ್ನಡ"},
	{Malayalam, "ml", "Malayalam", "മലയാളം"},
	{Punjabi, "pa", "Punjabi", "ਪੰਜਾਬੀ"},
	{Odia, "or", "Odia", "ଓଡ଼ିଆ"},
}

var byName map[string]*entry

func init() {
	byName = make(map[string]*entry, len(languages))
	for i := range languages {
		e := &languages[i]
		byName[string(e.name)] = e
	}
}

// Parse resolves value case-insensitively against the supported set.
func Parse(value string) (Language, bool) {
	e, ok := byName[strings.ToLower(strings.TrimSpace(value))]
	if !ok {
		return "", false
	}
	return e.name, true
}

// IsSupported reports whether value names a supported language.
func IsSupported(value string) bool {
	_, ok := Parse(value)
	return ok
}

// All returns the supported languages in declaration order.
func All() []Language {
	out := make([]Language, 0, len(languages))
	for _, e := range languages {
		out = append(out, e.name)
	}
	return out
}

// Names returns the supported language names sorted alphabetically.
func Names() []string {
	out := make([]string, 0, len(languages))
	for _, e := range languages {
		out = append(out, string(e.name))
	}
	sort.Strings(out)
	return out
}

// DisplayName returns a human-readable name, or the raw value when unsupported.
func DisplayName(value string) string {
	if e, ok := byName[strings.ToLower(strings.TrimSpace(value))]; ok {
		return e.display
	}
	return strings.TrimSpace(value)
}

// NativeName returns the endonym for a supported language.
func NativeName(value string) string {
	if e, ok := byName[strings.ToLower(strings.TrimSpace(value))]; ok {
		return e.native
	}
	return ""
}

// ISO2 returns the ISO 639-1 code for a supported language.
func ISO2(value string) string {
	if e, ok := byName[strings.ToLower(strings.TrimSpace(value))]; ok {
		return e.code2
	}
	return ""
}
