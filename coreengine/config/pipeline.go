package config

import (
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
)

// KnownTools lists every lookup tool a stage may be granted.
var KnownTools = []string{
	"get_company_website_information",
	"get_salesforce_data",
	"get_enriched_lead_data",
	"get_recent_linkedin_posts",
	"find_relevant_content",
}

// StageConfig declares one pipeline stage and its inbound route.
type StageConfig struct {
	// Name is the stage identifier carried in stage_origin.
	Name string `json:"name" mapstructure:"name"`

	// Route is the HTTP path accepting batches for this stage.
	Route string `json:"route" mapstructure:"route"`

	// Ack is the plain-text reply to an accepted POST.
	Ack string `json:"ack" mapstructure:"ack"`

	// ProbeAck is the reply to GET. Empty means Ack.
	ProbeAck string `json:"probe_ack,omitempty" mapstructure:"probe_ack"`

	// Tools granted to the generator. Nil keeps the stage's built-in set;
	// an empty list grants none.
	Tools []string `json:"tools,omitempty" mapstructure:"tools"`
}

// GetProbeAck returns the GET reply.
func (s StageConfig) GetProbeAck() string {
	if s.ProbeAck != "" {
		return s.ProbeAck
	}
	return s.Ack
}

// PipelineConfig is the declarative stage table.
type PipelineConfig struct {
	Stages []StageConfig `json:"stages" mapstructure:"stages"`
}

// DefaultPipeline returns the five-stage lead pipeline.
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{Stages: []StageConfig{
		{
			Name:  string(envelope.StageIngestion),
			Route: "/api/lead-ingestion-agent",
			Ack:   "Lead Ingestion Agent Started",
			Tools: []string{"get_company_website_information", "get_salesforce_data", "get_enriched_lead_data"},
		},
		{
			Name:  string(envelope.StageScoring),
			Route: "/api/lead-scoring-agent",
			Ack:   "Lead Scoring Agent Started",
			Tools: []string{},
		},
		{
			Name:  string(envelope.StageActiveOutreach),
			Route: "/api/active-outreach-agent",
			Ack:   "Actively Engage Agent Started",
			Tools: []string{
				"get_company_website_information", "get_salesforce_data",
				"get_enriched_lead_data", "get_recent_linkedin_posts",
			},
		},
		{
			Name:  string(envelope.StageNurture),
			Route: "/api/nurture-campaign-agent",
			Ack:   "Nurture Campaign Agent Started",
			Tools: []string{
				"get_company_website_information", "get_salesforce_data",
				"get_enriched_lead_data", "get_recent_linkedin_posts", "find_relevant_content",
			},
		},
		{
			Name:     string(envelope.StageSend),
			Route:    "/api/send-email-agent",
			Ack:      "Send Email Started",
			ProbeAck: "Send Email Agent Started",
		},
	}}
}

// Validate checks the stage table. knownTools defaults to KnownTools.
func (p PipelineConfig) Validate(knownTools []string) error {
	if knownTools == nil {
		knownTools = KnownTools
	}
	known := make(map[string]bool, len(knownTools))
	for _, t := range knownTools {
		known[t] = true
	}

	seen := make(map[envelope.Stage]bool, len(p.Stages))
	routes := make(map[string]string, len(p.Stages))
	for i, sc := range p.Stages {
		st, err := envelope.ParseStage(sc.Name)
		if err != nil {
			return fmt.Errorf("pipeline.stages[%d]: %w", i, err)
		}
		if seen[st] {
			return fmt.Errorf("pipeline.stages[%d]: duplicate stage %q", i, st)
		}
		seen[st] = true

		if !strings.HasPrefix(sc.Route, "/") {
			return fmt.Errorf("stage %q: route is required and must start with /", st)
		}
		if other, dup := routes[sc.Route]; dup {
			return fmt.Errorf("stage %q: route %s already used by %q", st, sc.Route, other)
		}
		routes[sc.Route] = sc.Name

		if st == envelope.StageSend && len(sc.Tools) > 0 {
			return fmt.Errorf("stage %q: takes no tools", st)
		}
		for _, tool := range sc.Tools {
			if !known[tool] {
				return fmt.Errorf("stage %q: unknown tool %q", st, tool)
			}
		}
	}

	for _, st := range envelope.Stages {
		if !seen[st] {
			return fmt.Errorf("pipeline: stage %q is not configured", st)
		}
	}
	return nil
}

// Stage returns the config for a stage.
func (p PipelineConfig) Stage(st envelope.Stage) (StageConfig, bool) {
	for _, sc := range p.Stages {
		if sc.Name == string(st) {
			return sc, true
		}
	}
	return StageConfig{}, false
}

// ToolGrants returns the configured tool list of every stage that sets one.
func (p PipelineConfig) ToolGrants() map[envelope.Stage][]string {
	out := make(map[envelope.Stage][]string)
	for _, sc := range p.Stages {
		if sc.Tools == nil {
			continue
		}
		tools := make([]string, len(sc.Tools))
		copy(tools, sc.Tools)
		out[envelope.Stage(sc.Name)] = tools
	}
	return out
}
