// Package envelope provides the message unit passed between stages and its wire codec.
//
// Design:
//   - One envelope carries exactly one lead record and one context string
//   - Context holds raw text (research report) or a JSON-encoded payload
//   - StageOrigin tags the stage that produced the envelope; routing reads it
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/lead"
)

// ErrMalformed is returned when a wire message cannot be decoded.
var ErrMalformed = errors.New("malformed envelope")

// Stage identifies a pipeline step.
type Stage string

const (
	// StageNone means there is no successor.
	StageNone Stage = ""
	// StageIngestion researches the lead.
	StageIngestion Stage = "ingestion"
	// StageScoring evaluates the research.
	StageScoring Stage = "scoring"
	// StageActiveOutreach drafts a single engagement email.
	StageActiveOutreach Stage = "active_outreach"
	// StageNurture drafts a three-email nurture sequence.
	StageNurture Stage = "nurture"
	// StageSend hands the email batch to the delivery sink.
	StageSend Stage = "send"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageIngestion, StageScoring, StageActiveOutreach, StageNurture, StageSend}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStage returns the stage named by s.
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.TrimSpace(s))
	if !st.Valid() {
		return StageNone, fmt.Errorf("unknown stage %q", s)
	}
	return st, nil
}

// Envelope is one hop of a lead through the pipeline.
type Envelope struct {
	EnvelopeID  string      `json:"envelope_id"`
	Lead        lead.Record `json:"lead_data"`
	Context     string      `json:"context"`
	StageOrigin Stage       `json:"stage_origin"`
}

// New creates an envelope with a fresh ID.
func New(record lead.Record, context string, origin Stage) Envelope {
	return Envelope{
		EnvelopeID:  uuid.New().String(),
		Lead:        record,
		Context:     context,
		StageOrigin: origin,
	}
}

// NewJSON creates an envelope whose context is payload encoded as JSON.
func NewJSON(record lead.Record, payload any, origin Stage) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode context: %w", err)
	}
	return New(record, string(raw), origin), nil
}

// Encode serialises the envelope for the bus.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses a bus message.
//
// A message without envelope_id gets a fresh one. stage_origin, when present,
// must name a known stage.
func Decode(data []byte) (Envelope, error) {
	var wire struct {
		EnvelopeID  string          `json:"envelope_id"`
		Lead        *lead.Record    `json:"lead_data"`
		Context     json.RawMessage `json:"context"`
		StageOrigin string          `json:"stage_origin"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if wire.Lead == nil {
		return Envelope{}, fmt.Errorf("%w: lead_data missing", ErrMalformed)
	}
	ctx, err := contextString(wire.Context)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		EnvelopeID: wire.EnvelopeID,
		Lead:       *wire.Lead,
		Context:    ctx,
	}
	if wire.StageOrigin != "" {
		origin, err := ParseStage(wire.StageOrigin)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		env.StageOrigin = origin
	}
	if env.EnvelopeID == "" {
		env.EnvelopeID = uuid.New().String()
	}
	return env, nil
}

// Item is one element of an inbound stage request.
type Item struct {
	Lead    *lead.Record    `json:"lead_data"`
	Context json.RawMessage `json:"context,omitempty"`
}

// DecodeBatch parses an inbound JSON array addressed to target.
// Every stage except ingestion requires a non-empty context on each item.
func DecodeBatch(body []byte, target Stage) ([]Envelope, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("unknown stage %q", target)
	}
	var items []Item
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON array: %v", ErrMalformed, err)
	}
	out := make([]Envelope, 0, len(items))
	for i, item := range items {
		if item.Lead == nil {
			return nil, fmt.Errorf("%w: item %d: lead_data missing", ErrMalformed, i)
		}
		ctx, err := contextString(item.Context)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if target != StageIngestion && strings.TrimSpace(ctx) == "" {
			return nil, fmt.Errorf("%w: item %d: context is required for stage %s", ErrMalformed, i, target)
		}
		out = append(out, New(*item.Lead, ctx, StageNone))
	}
	return out, nil
}

// DecodeContext unmarshals the JSON context of env into a generic map.
func (e Envelope) DecodeContext() (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(e.Context), &m); err != nil {
		return nil, fmt.Errorf("%w: context is not a JSON object: %v", ErrMalformed, err)
	}
	return m, nil
}

// contextString accepts a JSON string (the documented form) or, leniently, an
// inline object which is kept in its encoded form.
func contextString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("%w: context: %v", ErrMalformed, err)
		}
		return s, nil
	case '{':
		var compact bytes.Buffer
		if err := json.Compact(&compact, trimmed); err != nil {
			return "", fmt.Errorf("%w: context: %v", ErrMalformed, err)
		}
		return compact.String(), nil
	default:
		return "", fmt.Errorf("%w: context must be a string or object", ErrMalformed)
	}
}
