package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/generator"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/logging"
)

// Mode selects how a lookup is realized.
type Mode string

const (
	ModeSynthetic Mode = "synthetic"
	ModeFake      Mode = "fake"
	ModeHTTP      Mode = "http"
)

// ParseMode converts a config string. Empty means synthetic.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSynthetic:
		return ModeSynthetic, nil
	case ModeFake:
		return ModeFake, nil
	case ModeHTTP:
		return ModeHTTP, nil
	}
	return "", fmt.Errorf("unknown tool mode %q (want synthetic, fake or http)", s)
}

// ToolOptions configures one lookup.
type ToolOptions struct {
	Mode    Mode
	BaseURL string
	Token   string
}

// Options configures Build.
type Options struct {
	WebsiteTimeout time.Duration
	HTTPTimeout    time.Duration
	Tools          map[Name]ToolOptions
	// Cache is optional. When set, every lookup except the website fetch is cached.
	Cache *RedisCache
}

type descriptor struct {
	description      string
	param            string
	paramDescription string
}

var descriptors = map[Name]descriptor{
	CompanyWebsite: {
		description:      "Fetches a company's website and returns its visible text content.",
		param:            "company_website_url",
		paramDescription: "The URL of the company's website.",
	},
	CRM: {
		description:      "Returns Salesforce data for a lead: contact, company, lead status and historical interactions. May be empty when there is no history with the lead.",
		param:            "lead_details",
		paramDescription: "Information about the lead (name, email, company, job title).",
	},
	Enrichment: {
		description:      "Returns Clearbit-style enrichment for a lead: person details, employment history and company details such as industry, size, funding and technologies used.",
		param:            "lead_details",
		paramDescription: "Information about the lead (name, email, company, job title).",
	},
	Social: {
		description:      "Returns the lead's recent LinkedIn activity.",
		param:            "lead_details",
		paramDescription: "Information about the lead (name, job title, company).",
	},
	ContentSearch: {
		description:      "Finds the five most relevant marketing assets (case studies, blog posts, whitepapers, webinars) for a search query.",
		param:            "search_query",
		paramDescription: "What the content should be about.",
	},
}

// Build registers every known tool according to opts.
// gen backs synthetic lookups and may be nil when no tool uses that mode.
func Build(opts Options, gen generator.Generator, logger logging.Logger) (*Executor, error) {
	exec := NewExecutor(logger)
	for _, name := range Names() {
		lookup, err := buildLookup(name, opts, gen)
		if err != nil {
			return nil, err
		}
		if opts.Cache != nil && name != CompanyWebsite {
			lookup = opts.Cache.Wrap(name, lookup)
		}
		d := descriptors[name]
		if err := exec.Register(&Definition{
			Name:             name,
			Description:      d.description,
			Param:            d.param,
			ParamDescription: d.paramDescription,
			Lookup:           lookup,
		}); err != nil {
			return nil, err
		}
	}
	return exec, nil
}

func buildLookup(name Name, opts Options, gen generator.Generator) (Lookup, error) {
	if name == CompanyWebsite {
		return NewWebsiteLookup(opts.WebsiteTimeout), nil
	}
	to := opts.Tools[name]
	mode := to.Mode
	if mode == "" {
		mode = ModeSynthetic
	}
	switch mode {
	case ModeSynthetic:
		return NewSyntheticLookup(name, gen)
	case ModeFake:
		return NewFakeLookup(name)
	case ModeHTTP:
		l, err := NewHTTPLookup(to.BaseURL, to.Token, opts.HTTPTimeout)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return l, nil
	}
	return nil, fmt.Errorf("%s: unknown tool mode %q", name, mode)
}
