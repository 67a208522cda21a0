// Package tools provides the external lookups the generator may call while it works.
//
// Every lookup takes a single string and returns text. Failures surface as
// ErrUnavailable and are reported back to the model as an "unavailable"
// result, so a missing lookup never aborts a stage.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/generator"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/observability"
)

// Name identifies a lookup tool.
type Name string

const (
	CompanyWebsite Name = "get_company_website_information"
	CRM            Name = "get_salesforce_data"
	Enrichment     Name = "get_enriched_lead_data"
	Social         Name = "get_recent_linkedin_posts"
	ContentSearch  Name = "find_relevant_content"
)

// Names lists every tool the pipeline knows about.
func Names() []Name {
	return []Name{CompanyWebsite, CRM, Enrichment, Social, ContentSearch}
}

// ErrUnavailable is returned by a lookup that could not produce a result.
var ErrUnavailable = errors.New("lookup unavailable")

// Lookup is one external capability.
type Lookup interface {
	Lookup(ctx context.Context, input string) (string, error)
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(ctx context.Context, input string) (string, error)

// Lookup calls f.
func (f LookupFunc) Lookup(ctx context.Context, input string) (string, error) {
	return f(ctx, input)
}

// Definition describes a tool and the lookup backing it.
type Definition struct {
	Name             Name
	Description      string
	Param            string
	ParamDescription string
	Lookup           Lookup
}

func (d *Definition) schema() generator.Tool {
	return generator.Tool{
		Name:        string(d.Name),
		Description: d.Description,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				d.Param: map[string]any{
					"type":        "string",
					"description": d.ParamDescription,
				},
			},
			"required": []string{d.Param},
		},
	}
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor holds registered tools and runs them by name.
type Executor struct {
	tools  map[Name]*Definition
	mu     sync.RWMutex
	logger logging.Logger
}

// NewExecutor creates an empty Executor.
func NewExecutor(logger logging.Logger) *Executor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{
		tools:  make(map[Name]*Definition),
		logger: logger.Bind("component", "tools"),
	}
}

// Register adds or replaces a tool.
func (e *Executor) Register(def *Definition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Lookup == nil {
		return fmt.Errorf("tool lookup is required for '%s'", def.Name)
	}
	if def.Param == "" {
		return fmt.Errorf("tool parameter is required for '%s'", def.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools[def.Name] = def
	return nil
}

// Has checks if a tool is registered.
func (e *Executor) Has(name Name) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tools[name]
	return ok
}

// List returns the registered tool names in sorted order.
func (e *Executor) List() []Name {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]Name, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// GetDefinition returns the definition for name, or nil.
func (e *Executor) GetDefinition(name Name) *Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tools[name]
}

// Execute runs a tool. Lookup failures are absorbed into an "unavailable"
// text result; only an unknown tool name is returned as an error.
func (e *Executor) Execute(ctx context.Context, name Name, input string) (string, error) {
	def := e.GetDefinition(name)
	if def == nil {
		return "", fmt.Errorf("tool not found: %s", name)
	}

	ctx, span := observability.Tracer().Start(ctx, "tool.lookup")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", string(name)))

	out, err := def.Lookup.Lookup(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordLookup(string(name), "unavailable")
		e.logger.Warn("tool_lookup_unavailable", "tool", name, "error", err)
		return unavailableText(name, err), nil
	}
	observability.RecordLookup(string(name), "success")
	e.logger.Debug("tool_lookup_completed", "tool", name, "bytes", len(out))
	return out, nil
}

func unavailableText(name Name, err error) string {
	if errors.Is(err, ErrUnavailable) {
		return fmt.Sprintf("%s is unavailable: %v. Continue without this information.", name, err)
	}
	return fmt.Sprintf("%s is unavailable: %v: %v. Continue without this information.", name, ErrUnavailable, err)
}

// Subset returns the tool set offered to one stage. Every name must be registered.
func (e *Executor) Subset(names ...Name) (*Set, error) {
	defs := make([]*Definition, 0, len(names))
	for _, name := range names {
		def := e.GetDefinition(name)
		if def == nil {
			return nil, fmt.Errorf("tool not found: %s", name)
		}
		defs = append(defs, def)
	}
	return &Set{executor: e, defs: defs}, nil
}

// =============================================================================
// SET
// =============================================================================

// Set is a fixed selection of tools exposed to the generator.
type Set struct {
	executor *Executor
	defs     []*Definition
}

var _ generator.ToolSet = (*Set)(nil)

// Tools describes the selected tools.
func (s *Set) Tools() []generator.Tool {
	out := make([]generator.Tool, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, def.schema())
	}
	return out
}

// Call runs the named tool with the generator-supplied input.
func (s *Set) Call(ctx context.Context, name string, input map[string]any) (string, error) {
	var def *Definition
	for _, d := range s.defs {
		if string(d.Name) == name {
			def = d
			break
		}
	}
	if def == nil {
		return "", fmt.Errorf("tool %q is not offered to this stage", name)
	}
	return s.executor.Execute(ctx, def.Name, paramText(input, def.Param))
}

// paramText pulls the single string argument out of the model's input.
// Non-string values are passed as JSON.
func paramText(input map[string]any, param string) string {
	v, ok := input[param]
	if !ok {
		if len(input) == 0 {
			return ""
		}
		raw, _ := json.Marshal(input)
		return string(raw)
	}
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
