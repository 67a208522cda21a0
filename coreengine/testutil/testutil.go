// Package testutil provides shared test utilities and mocks.
//
// All mocks in this package let pipeline components be tested in isolation
// without network access, an API key, or a message broker.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/generator"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/lead"
)

// =============================================================================
// MOCK GENERATOR
// =============================================================================

// Rule answers any request whose system or user prompt contains Contains.
type Rule struct {
	Contains string
	Response string
}

// MockGenerator implements generator.Generator for testing.
// Rules are checked in order; the first match wins.
type MockGenerator struct {
	Rules []Rule

	// DefaultResponse is returned when no rule matches.
	DefaultResponse string

	// Delay simulates generation latency.
	Delay time.Duration

	// Error causes Generate to return this error.
	Error error

	// CallTools makes the mock invoke every offered tool once before answering.
	CallTools bool

	// GenerateFunc overrides everything else when set.
	GenerateFunc func(ctx context.Context, req generator.Request) (string, error)

	calls []generator.Request
	trace []generator.ToolCall
	mu    sync.Mutex
}

// NewMockGenerator creates a MockGenerator with a prose default response.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{DefaultResponse: "Mock research report."}
}

// Generate implements generator.Generator.
func (m *MockGenerator) Generate(ctx context.Context, req generator.Request) (generator.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	customFunc := m.GenerateFunc
	m.mu.Unlock()

	if customFunc != nil {
		text, err := customFunc(ctx, req)
		return generator.Result{Text: text, Turns: 1}, err
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return generator.Result{}, ctx.Err()
		}
	}

	if m.Error != nil {
		return generator.Result{}, m.Error
	}

	var res generator.Result
	res.Turns = 1
	if m.CallTools && req.Tools != nil {
		for _, tool := range req.Tools.Tools() {
			input := map[string]any{}
			if required, ok := tool.InputSchema["required"].([]string); ok && len(required) > 0 {
				input[required[0]] = "mock input"
			}
			out, err := req.Tools.Call(ctx, tool.Name, input)
			call := generator.ToolCall{Name: tool.Name, Input: input, Output: out, IsError: err != nil}
			res.Trace = append(res.Trace, call)
		}
		res.Turns++
		m.mu.Lock()
		m.trace = append(m.trace, res.Trace...)
		m.mu.Unlock()
	}

	haystack := req.System + "\n" + req.Prompt
	for _, rule := range m.Rules {
		if strings.Contains(haystack, rule.Contains) {
			res.Text = rule.Response
			return res, nil
		}
	}
	res.Text = m.DefaultResponse
	return res, nil
}

// WithRule appends a matching rule.
func (m *MockGenerator) WithRule(contains, response string) *MockGenerator {
	m.Rules = append(m.Rules, Rule{Contains: contains, Response: response})
	return m
}

// WithError configures the mock to return an error.
func (m *MockGenerator) WithError(err error) *MockGenerator {
	m.Error = err
	return m
}

// WithDelay adds latency simulation.
func (m *MockGenerator) WithDelay(d time.Duration) *MockGenerator {
	m.Delay = d
	return m
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockGenerator) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns a copy of every request received.
func (m *MockGenerator) Calls() []generator.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]generator.Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// ToolTrace returns every tool call made while CallTools was set.
func (m *MockGenerator) ToolTrace() []generator.ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]generator.ToolCall, len(m.trace))
	copy(out, m.trace)
	return out
}

// Reset clears call history.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.trace = nil
}

var _ generator.Generator = (*MockGenerator)(nil)

// =============================================================================
// MOCK LOOKUP
// =============================================================================

// MockLookup is a scripted external lookup.
type MockLookup struct {
	Response string
	Error    error
	Delay    time.Duration

	inputs []string
	mu     sync.Mutex
}

// NewMockLookup creates a MockLookup returning response.
func NewMockLookup(response string) *MockLookup {
	return &MockLookup{Response: response}
}

// Lookup records input and returns the scripted result.
func (m *MockLookup) Lookup(ctx context.Context, input string) (string, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.Error != nil {
		return "", m.Error
	}
	return m.Response, nil
}

// Inputs returns every input received.
func (m *MockLookup) Inputs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.inputs))
	copy(out, m.inputs)
	return out
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockLookup) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// =============================================================================
// RECORDING PUBLISHER
// =============================================================================

// Published is one captured publish.
type Published struct {
	Topic string
	Data  []byte
}

// RecordingPublisher captures everything published to it.
type RecordingPublisher struct {
	// Error causes Publish to fail with this error.
	Error error

	messages []Published
	notify   chan struct{}
	mu       sync.Mutex
}

// NewRecordingPublisher creates an empty RecordingPublisher.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{notify: make(chan struct{}, 1)}
}

// Publish records the message.
func (p *RecordingPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.Error != nil {
		return p.Error
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	p.mu.Lock()
	p.messages = append(p.messages, Published{Topic: topic, Data: cp})
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

// Messages returns a copy of everything published.
func (p *RecordingPublisher) Messages() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Published, len(p.messages))
	copy(out, p.messages)
	return out
}

// Envelopes decodes every published message. Undecodable messages are skipped.
func (p *RecordingPublisher) Envelopes() []envelope.Envelope {
	var out []envelope.Envelope
	for _, m := range p.Messages() {
		if env, err := envelope.Decode(m.Data); err == nil {
			out = append(out, env)
		}
	}
	return out
}

// Count returns the number of published messages.
func (p *RecordingPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

// WaitFor blocks until at least n messages were published or timeout elapses.
func (p *RecordingPublisher) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if p.Count() >= n {
			return true
		}
		select {
		case <-p.notify:
		case <-deadline.C:
			return p.Count() >= n
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// =============================================================================
// FIXTURES
// =============================================================================

// JaneDoe is the lead used by the end-to-end scenarios.
func JaneDoe() lead.Record {
	return lead.Record{
		Name:               "Jane Doe",
		Email:              "jane.doe@tiger-analytics.example",
		CompanyName:        "Tiger Analytics",
		CompanyWebsite:     "https://www.tigeranalytics.com",
		LeadSource:         "Website Form",
		JobTitle:           "VP of Data Engineering",
		ProjectDescription: "We are consolidating three regional warehouses and need real-time analytics on streaming retail data.",
	}
}

// SeanSmith is a poor-fit lead that should be nurtured.
func SeanSmith() lead.Record {
	return lead.Record{
		Name:               "Sean Smith",
		Email:              "sean@richtable.example",
		CompanyName:        "Rich Table",
		CompanyWebsite:     "https://www.richtablesf.com",
		LeadSource:         "Website Form",
		JobTitle:           "Chef",
		ProjectDescription: "Just curious.",
	}
}

// JaneDoeEvaluation is a valid "Actively Engage" evaluation payload.
const JaneDoeEvaluation = `{"score": "90", "next_step": "Actively Engage", "talking_points": [
  "Real-time analytics on streaming retail data",
  "Consolidating regional warehouses into one multi-cloud platform",
  "AI-driven query optimization to cut analytics cost",
  "Enterprise security and governance"
]}`

// SeanSmithEvaluation is a valid "Nurture" evaluation payload.
const SeanSmithEvaluation = `{"score": 45, "next_step": "Nurture", "talking_points": [
  "Restaurant analytics for reservations",
  "Low-effort reporting",
  "Grow into data-driven operations"
]}`
