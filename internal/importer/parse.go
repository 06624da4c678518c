package importer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Record is one raw row keyed by source column or JSON field name.
type Record map[string]any

// Parse decodes raw using format, detecting it when format is empty.
func Parse(raw string, format Format) ([]Record, Format, error) {
	if format == "" {
		format = DetectFormat(raw)
	}
	switch format {
	case FormatCSV:
		return ParseCSV(raw), format, nil
	case FormatJSON, FormatJSONL:
		records, err := ParseJSON(raw, format)
		return records, format, err
	default:
		return nil, FormatUnknown, fmt.Errorf("unrecognised data format")
	}
}

// ParseCSV reads a header line followed by data lines. Missing trailing
// values become empty strings.
func ParseCSV(raw string) []Record {
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	if len(lines) < 2 {
		return nil
	}
	headers := splitCSVLine(lines[0])
	records := make([]Record, 0, len(lines)-1)
	for _, line := range lines[1:] {
		values := splitCSVLine(line)
		rec := make(Record, len(headers))
		for i, header := range headers {
			if i < len(values) {
				rec[header] = values[i]
			} else {
				rec[header] = ""
			}
		}
		records = append(records, rec)
	}
	return records
}

func splitCSVLine(line string) []string {
	parts := strings.Split(line, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(part, `"`)
		part = strings.TrimSuffix(part, `"`)
		parts[i] = part
	}
	return parts
}

// ParseJSON decodes a JSON array of objects or one object per line.
func ParseJSON(raw string, format Format) ([]Record, error) {
	if format == FormatJSON {
		var records []Record
		if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &records); err != nil {
			return nil, fmt.Errorf("decode json array: %w", err)
		}
		return records, nil
	}
	var records []Record
	for i, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("decode jsonl line %d: %w", i+1, err)
		}
		if rec == nil {
			return nil, fmt.Errorf("decode jsonl line %d: not a JSON object", i+1)
		}
		records = append(records, rec)
	}
	return records, nil
}
