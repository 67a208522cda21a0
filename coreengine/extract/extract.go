// Package extract locates the single structured payload embedded in generated text.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no parseable JSON object exists in the text.
var ErrNotFound = errors.New("no structured payload found")

// Mode selects the scanning strategy.
type Mode string

const (
	// ModeBalanced tracks bracket depth and skips braces inside string literals.
	ModeBalanced Mode = "balanced"
	// ModeGreedy takes everything from the first '{' to the last '}'.
	ModeGreedy Mode = "greedy"
)

// ParseMode returns the mode named by s. Empty selects ModeBalanced.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeBalanced:
		return ModeBalanced, nil
	case ModeGreedy:
		return ModeGreedy, nil
	}
	return "", fmt.Errorf("unknown extract mode %q", s)
}

// Extractor pulls JSON objects out of free text.
type Extractor struct {
	Mode Mode
}

// New returns an extractor using mode.
func New(mode Mode) *Extractor {
	return &Extractor{Mode: mode}
}

// Extract returns the embedded payload using ModeBalanced.
func Extract(text string) (map[string]any, error) {
	return New(ModeBalanced).Extract(text)
}

// Extract returns the embedded payload, or ErrNotFound.
func (x *Extractor) Extract(text string) (map[string]any, error) {
	raw, err := x.locate(text)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return out, nil
}

func (x *Extractor) locate(text string) (string, error) {
	if x == nil || x.Mode == ModeBalanced || x.Mode == "" {
		return balanced(text)
	}
	return greedy(text)
}

func greedy(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", ErrNotFound
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", fmt.Errorf("%w: greedy candidate does not parse", ErrNotFound)
	}
	return candidate, nil
}

// balanced returns the first balanced {...} block that is a valid JSON
// object. A candidate that fails to parse is abandoned and scanning resumes
// at the next '{'.
func balanced(text string) (string, error) {
	for from := 0; from < len(text); {
		rel := strings.IndexByte(text[from:], '{')
		if rel < 0 {
			break
		}
		start := from + rel
		if end := matchBrace(text, start); end > 0 {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
		from = start + 1
	}
	return "", ErrNotFound
}

// matchBrace returns the index of the '}' closing the '{' at start, or -1.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
