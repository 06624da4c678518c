package importer

import "fmt"

// FieldMapping maps canonical target fields to source column names.
type FieldMapping map[string]string

// ApplyFieldMapping returns a new record holding only the mapped target
// fields whose source column is named and present in rec.
func ApplyFieldMapping(rec Record, mapping FieldMapping) Record {
	mapped := make(Record, len(mapping))
	for target, source := range mapping {
		if source == "" {
			continue
		}
		if value, ok := rec[source]; ok {
			mapped[target] = value
		}
	}
	return mapped
}

// String returns the textual form of a record field, or "" when absent.
func (r Record) String(field string) string {
	value, ok := r[field]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}

// Has reports whether field is present with a non-nil value.
func (r Record) Has(field string) bool {
	value, ok := r[field]
	return ok && value != nil
}
