// Package typeutil provides safe type assertion helpers for loosely typed JSON payloads.
// Generated payloads arrive as map[string]any; these helpers never panic and
// report whether the value had the expected shape.
package typeutil

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// SafeMapStringAny safely asserts value to map[string]any.
func SafeMapStringAny(value any) (map[string]any, bool) {
	if value == nil {
		return nil, false
	}
	m, ok := value.(map[string]any)
	return m, ok
}

// SafeString safely asserts value to string.
func SafeString(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// SafeStringDefault returns value as a string, or defaultVal when it is not one.
func SafeStringDefault(value any, defaultVal string) string {
	if s, ok := SafeString(value); ok {
		return s
	}
	return defaultVal
}

// IntegralInt converts value to an int only when it denotes a whole number.
//
// Accepted: Go integer types, float64 with no fractional part (JSON numbers),
// json.Number, and strings holding a base-10 integer ("90", " 42 ").
// Rejected: fractional numbers, booleans, non-numeric strings, nil.
func IntegralInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// SafeSlice safely asserts value to []any.
func SafeSlice(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	s, ok := value.([]any)
	return s, ok
}

// SafeStringSlice asserts value to []string.
// Also handles []any whose every element is a string; a single non-string
// element fails the whole conversion. A bare string is NOT split or wrapped.
func SafeStringSlice(value any) ([]string, bool) {
	if value == nil {
		return nil, false
	}
	if s, ok := value.([]string); ok {
		return s, true
	}
	anySlice, ok := value.([]any)
	if !ok {
		return nil, false
	}
	result := make([]string, 0, len(anySlice))
	for _, item := range anySlice {
		str, ok := item.(string)
		if !ok {
			return nil, false
		}
		result = append(result, str)
	}
	return result, true
}
