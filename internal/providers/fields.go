package providers

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// fields reads a decoded JSON object whose key names vary by provider.
type fields map[string]any

// first returns the first present, non-empty value among keys. Dotted keys
// descend into nested objects.
func (f fields) first(keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := f.lookup(key); ok && !isEmpty(v) {
			return v, true
		}
	}
	return nil, false
}

func (f fields) lookup(key string) (any, bool) {
	var cur any = map[string]any(f)
	for _, part := range strings.Split(key, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func (f fields) stringOf(keys ...string) string {
	v, ok := f.first(keys...)
	if !ok {
		return ""
	}
	return stringValue(v)
}

func (f fields) intOf(keys ...string) int {
	v, ok := f.first(keys...)
	if !ok {
		return 0
	}
	return intValue(v)
}

// floats accepts either a single number or an array of numbers.
func (f fields) floatsOf(keys ...string) []float64 {
	v, ok := f.first(keys...)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []any:
		out := make([]float64, 0, len(t))
		for _, item := range t {
			if n, ok := floatValue(item); ok {
				out = append(out, n)
			}
		}
		return out
	default:
		if n, ok := floatValue(t); ok {
			return []float64{n}
		}
	}
	return nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case float64:
		return t == 0
	case bool:
		return !t
	case []any:
		return len(t) == 0
	}
	return false
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func floatValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t)
	case int:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	}
	return 0, false
}

func intValue(v any) int {
	n, ok := floatValue(v)
	if !ok {
		return 0
	}
	return int(n)
}
