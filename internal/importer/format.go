package importer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format identifies the encoding of a raw payload.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatJSONL   Format = "jsonl"
	FormatUnknown Format = "unknown"
)

// ParseFormat resolves a user supplied format name. Empty means auto-detect.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", "auto":
		return "", nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatJSONL, "ndjson":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unsupported format %q", value)
	}
}

// DetectFormat classifies raw. Input whose every non-blank line is a JSON
// value is JSONL, except a lone line holding an array, which is a JSON
// document. A JSON array spanning lines is JSON; anything else with a comma
// and more than one line is CSV.
func DetectFormat(raw string) Format {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return FormatUnknown
	}
	if isJSONLines(trimmed) && !isJSONArray(trimmed) {
		return FormatJSONL
	}
	if isJSONArray(trimmed) {
		return FormatJSON
	}
	if strings.Contains(trimmed, ",") && len(strings.Split(trimmed, "\n")) > 1 {
		return FormatCSV
	}
	return FormatUnknown
}

func isJSONLines(trimmed string) bool {
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !json.Valid([]byte(line)) {
			return false
		}
	}
	return true
}

func isJSONArray(trimmed string) bool {
	var arr []json.RawMessage
	return json.Unmarshal([]byte(trimmed), &arr) == nil
}
