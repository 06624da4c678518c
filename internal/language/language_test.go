package language

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Language
		ok    bool
	}{
		{"hindi", Hindi, true},
		{"HINDI", Hindi, true},
		{"  Tamil ", Tamil, true},
		{"odia", Odia, true},
		{"english", "", false},
		{"hi", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.input)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Parse(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestAllHasTenLanguages(t *testing.T) {
	all := All()
	if len(all) != 10 {
		t.Fatalf("expected 10 supported languages, got %d", len(all))
	}
	seen := map[Language]bool{}
	for _, lang := range all {
		if seen[lang] {
			t.Fatalf("duplicate language %q", lang)
		}
		seen[lang] = true
		if ISO2(string(lang)) == "" {
			t.Fatalf("missing ISO code for %q", lang)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("malayalam"); got != "Malayalam" {
		t.Fatalf("DisplayName = %q", got)
	}
	if got := DisplayName("klingon"); got != "klingon" {
		t.Fatalf("DisplayName passthrough = %q", got)
	}
}

func TestDetectScript(t *testing.T) {
	tests := []struct {
		text string
		want Language
		ok   bool
	}{
		{"नदी के किनारे एक गाँव था", Hindi, true},
		{"আমার সোনার বাংলা", Bengali, true},
		{"யாதும் ஊரே யாவரும் கேளிர்", Tamil, true},
		{"ਸਤਿ ਸ੍ਰੀ ਅਕਾਲ", Punjabi, true},
		{"ଓଡ଼ିଆ ଭାଷା", Odia, true},
		{"mostly latin text with one अ", "", false},
		{"12345 !!", "", false},
	}
	for _, tt := range tests {
		got, ok := DetectScript(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("DetectScript(%q) = (%q, %v), want (%q, %v)", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}
