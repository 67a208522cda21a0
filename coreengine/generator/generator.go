// Package generator adapts an external text-generation capability for the pipeline.
//
// A Generator turns a system prompt and a user prompt into final text. When a
// ToolSet is supplied the Generator may run any number of tool round trips
// internally; callers only ever see the final text.
package generator

import (
	"context"
	"errors"
)

// ErrGenerationFailed is returned when the upstream capability is unreachable,
// rejects the request, or produces no text.
var ErrGenerationFailed = errors.New("generation failed")

// Tool describes one capability the model may invoke.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolSet is the set of tools offered to the model for one request.
type ToolSet interface {
	// Tools lists the declared tools.
	Tools() []Tool

	// Call runs a tool. A returned error is reported to the model as a
	// failed tool result; it does not abort generation.
	Call(ctx context.Context, name string, input map[string]any) (string, error)
}

// Request is one generation call.
type Request struct {
	System string
	Prompt string
	Tools  ToolSet
}

// ToolCall records one tool invocation made during generation.
type ToolCall struct {
	Name    string         `json:"name"`
	Input   map[string]any `json:"input"`
	Output  string         `json:"output"`
	IsError bool           `json:"is_error"`
}

// Result is the outcome of a successful generation.
// Trace is informational; the pipeline never routes on it.
type Result struct {
	Text  string
	Trace []ToolCall
	Turns int
}

// Generator produces text from prompts. Implementations are stateless per call.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}
