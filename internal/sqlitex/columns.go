package sqlitex

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NullableString maps "" to SQL NULL.
func NullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NullableTime maps nil to SQL NULL and formats other values with FormatTime.
func NullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return FormatTime(*value)
}

// FormatTime formats t in UTC for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime accepts RFC3339Nano and SQLite's datetime('now') layout.
func ParseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

// ParseTimePtr returns nil for empty or unparsable values.
func ParseTimePtr(value string) *time.Time {
	t, err := ParseTime(value)
	if err != nil {
		return nil
	}
	return &t
}

// BoolToInt encodes a bool column.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// Placeholders returns "?,?,..." for count parameters.
func Placeholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

// MarshalJSON encodes value for a JSON text column; nil values become NULL.
func MarshalJSON(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return string(data), nil
}

// UnmarshalJSON decodes a JSON text column into dest, ignoring empty values.
func UnmarshalJSON(raw string, dest any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}
