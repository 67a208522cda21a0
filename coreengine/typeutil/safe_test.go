package typeutil

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeMapStringAny(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		wantMap  map[string]any
		wantBool bool
	}{
		{"valid map", map[string]any{"key": "value"}, map[string]any{"key": "value"}, true},
		{"nil value", nil, nil, false},
		{"wrong type string", "not a map", nil, false},
		{"empty map", map[string]any{}, map[string]any{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeMapStringAny(tt.input)
			assert.Equal(t, tt.wantBool, ok)
			assert.Equal(t, tt.wantMap, got)
		})
	}
}

func TestIntegralInt(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   int
		wantOK bool
	}{
		{"int", 42, 42, true},
		{"int64", int64(7), 7, true},
		{"whole float", float64(90), 90, true},
		{"fractional float", 90.5, 0, false},
		{"NaN", math.NaN(), 0, false},
		{"numeric string", "90", 90, true},
		{"padded string", " 12 ", 12, true},
		{"negative string", "-3", -3, true},
		{"word string", "ninety", 0, false},
		{"json number", json.Number("101"), 101, true},
		{"json fractional number", json.Number("1.5"), 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := IntegralInt(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSafeStringSlice(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   []string
		wantOK bool
	}{
		{"string slice", []string{"a", "b"}, []string{"a", "b"}, true},
		{"any slice of strings", []any{"a", "b", "c"}, []string{"a", "b", "c"}, true},
		{"mixed any slice", []any{"a", 1}, nil, false},
		{"bare string is not a list", "point one, point two", nil, false},
		{"nil", nil, nil, false},
		{"empty any slice", []any{}, []string{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeStringSlice(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSafeStringDefault(t *testing.T) {
	assert.Equal(t, "x", SafeStringDefault("x", "d"))
	assert.Equal(t, "d", SafeStringDefault(3, "d"))
}
