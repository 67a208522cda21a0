package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/generator"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/lead"
)

// SyntheticLookup answers a lookup by asking the generator to invent plausible data.
type SyntheticLookup struct {
	gen    generator.Generator
	prompt func(input string) string
}

// NewSyntheticLookup creates a generator-backed lookup for name.
// The website tool has no synthetic realization.
func NewSyntheticLookup(name Name, gen generator.Generator) (*SyntheticLookup, error) {
	if gen == nil {
		return nil, fmt.Errorf("synthetic %s: generator is required", name)
	}
	prompt, ok := syntheticPrompts[name]
	if !ok {
		return nil, fmt.Errorf("synthetic %s: no synthetic realization", name)
	}
	return &SyntheticLookup{gen: gen, prompt: prompt}, nil
}

// Lookup runs one generator call without tools.
func (s *SyntheticLookup) Lookup(ctx context.Context, input string) (string, error) {
	res, err := s.gen.Generate(ctx, generator.Request{Prompt: s.prompt(input)})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res.Text, nil
}

var syntheticPrompts = map[Name]func(string) string{
	CRM:           crmPrompt,
	Enrichment:    enrichmentPrompt,
	Social:        socialPrompt,
	ContentSearch: contentPrompt,
}

func crmPrompt(leadDetails string) string {
	return fmt.Sprintf(`Take the lead details and generate realistic Salesforce data to represent the contact,
company, lead information, and any historical interactions we've had with the lead.

Take into account the product details when generating the history. If there's not a good
match between the lead and product, reflect that in the Salesforce data.

It's also ok to return no information to simulate that there's no history with this lead.

Return only the fake Salesforce data as JSON. Do not wrap the message in any additional text.

Lead details:
%s

Product details:
%s`, leadDetails, lead.ProductDescription)
}

func enrichmentPrompt(leadDetails string) string {
	sample, _ := json.MarshalIndent(sampleEnrichment(), "", "    ")
	return fmt.Sprintf(`Take the lead details and generate realistic Clearbit data to represent the enriched lead.
Return only the fake Clearbit data as JSON. Do not wrap the message in any additional text.

Lead details:
%s

The fake output should look like this:
%s`, leadDetails, sample)
}

func socialPrompt(leadDetails string) string {
	return fmt.Sprintf(`Using the lead details, create some fake data that represents what the
lead has recently been talking about on LinkedIn. Keep this short. This
is to inform the email campaign to the lead.

Lead details:
%s`, leadDetails)
}

func contentPrompt(query string) string {
	example := contentResult{Assets: []lead.MarketingAsset{
		{Title: "[Title of Asset #1]", Description: "[Short Description of Asset #1]", URL: "[URL location of Asset #1]", Type: "[" + assetTypeChoice() + " of Asset #1]"},
		{Title: "[Title of Asset #2]", Description: "[Short Description of Asset #2]", URL: "[URL location of Asset #2]", Type: "[" + assetTypeChoice() + " of Asset #2]"},
	}}
	sample, _ := json.Marshal(example)
	return fmt.Sprintf(`Take the search query and generate a list of the five most relevant marketing assets such as
case studies, blog posts, whitepapers, webinars that are related to the query.

Search query
%s

These content should be believably created by this company:
%s

Return only JSON. The fake output should look like this:
%s`, query, lead.ProductDescription, sample)
}

func assetTypeChoice() lead.AssetType {
	parts := make([]string, len(lead.AssetTypes))
	for i, t := range lead.AssetTypes {
		parts[i] = string(t)
	}
	return lead.AssetType(strings.Join(parts, " or "))
}
