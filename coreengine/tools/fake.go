package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/lead"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/typeutil"
)

// FakeLookup produces offline data for development and tests.
// Output is deterministic for a given tool and input.
type FakeLookup struct {
	name Name
}

// NewFakeLookup creates an offline lookup for name. The website tool has no fake realization.
func NewFakeLookup(name Name) (*FakeLookup, error) {
	switch name {
	case CRM, Enrichment, Social, ContentSearch:
		return &FakeLookup{name: name}, nil
	}
	return nil, fmt.Errorf("fake %s: no offline realization", name)
}

// Lookup returns generated data as text.
func (l *FakeLookup) Lookup(ctx context.Context, input string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	f := gofakeit.New(seedFor(l.name, input))
	hint := parseLeadHint(input)

	var v any
	switch l.name {
	case CRM:
		v = fakeCRM(f, hint)
	case Enrichment:
		v = fakeEnrichment(f, hint)
	case Social:
		return fakePosts(f, hint), nil
	case ContentSearch:
		v = fakeContent(f, input)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return string(out), nil
}

// seedFor never returns 0; gofakeit treats a zero seed as "random".
func seedFor(name Name, input string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(input))
	return int64(h.Sum64()>>1) | 1
}

// leadHint carries whatever the model passed about the lead.
type leadHint struct {
	Name    string
	Email   string
	Company string
	Title   string
}

func parseLeadHint(input string) leadHint {
	var m map[string]any
	if err := json.Unmarshal([]byte(input), &m); err != nil {
		return leadHint{}
	}
	if nested, ok := typeutil.SafeMapStringAny(m["lead_data"]); ok {
		m = nested
	}
	return leadHint{
		Name:    typeutil.SafeStringDefault(m["name"], ""),
		Email:   typeutil.SafeStringDefault(m["email"], ""),
		Company: typeutil.SafeStringDefault(m["company_name"], ""),
		Title:   typeutil.SafeStringDefault(m["job_title"], ""),
	}
}

func orFake(v string, fake func() string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fake()
}

// =============================================================================
// CRM
// =============================================================================

type crmRecord struct {
	Contact      crmContact       `json:"contact"`
	Account      crmAccount       `json:"account"`
	Lead         crmLead          `json:"lead"`
	Interactions []crmInteraction `json:"interactions"`
}

type crmContact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Title string `json:"title"`
	Phone string `json:"phone"`
}

type crmAccount struct {
	Name      string `json:"name"`
	Industry  string `json:"industry"`
	Employees int    `json:"employees"`
	Website   string `json:"website"`
}

type crmLead struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Rating string `json:"rating"`
	Source string `json:"source"`
}

type crmInteraction struct {
	Date    string `json:"date"`
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

var (
	fakeIndustries = []string{"Retail", "Financial Services", "Healthcare", "SaaS", "Logistics", "Media", "Hospitality", "Manufacturing"}
	fakeStatuses   = []string{"Open - Not Contacted", "Working - Contacted", "Nurturing", "Closed - Not Converted"}
	fakeRatings    = []string{"Hot", "Warm", "Cold"}
	fakeSources    = []string{"Web Form", "Webinar", "Trade Show", "Referral"}
	fakeTouches    = []string{"Email", "Call", "Meeting", "Webinar Attendance", "Whitepaper Download"}
)

func fakeCRM(f *gofakeit.Faker, hint leadHint) crmRecord {
	company := orFake(hint.Company, f.Company)
	rec := crmRecord{
		Contact: crmContact{
			Name:  orFake(hint.Name, f.Name),
			Email: orFake(hint.Email, f.Email),
			Title: orFake(hint.Title, f.JobTitle),
			Phone: f.Phone(),
		},
		Account: crmAccount{
			Name:      company,
			Industry:  f.RandomString(fakeIndustries),
			Employees: f.Number(5, 20000),
			Website:   "https://" + f.DomainName(),
		},
		Lead: crmLead{
			ID:     "00Q" + strings.ToUpper(strings.ReplaceAll(f.UUID(), "-", "")[:15]),
			Status: f.RandomString(fakeStatuses),
			Rating: f.RandomString(fakeRatings),
			Source: f.RandomString(fakeSources),
		},
	}
	// Some leads have no history with us.
	n := f.Number(0, 3)
	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		rec.Interactions = append(rec.Interactions, crmInteraction{
			Date:    base.AddDate(0, 0, f.Number(0, 600)).Format("2006-01-02"),
			Type:    f.RandomString(fakeTouches),
			Summary: f.Sentence(10),
		})
	}
	if rec.Interactions == nil {
		rec.Interactions = []crmInteraction{}
	}
	return rec
}

// =============================================================================
// ENRICHMENT
// =============================================================================

type enrichment struct {
	Person  enrichedPerson  `json:"person"`
	Company enrichedCompany `json:"company"`
}

type location struct {
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

type employment struct {
	Company  string `json:"company"`
	JobTitle string `json:"job_title"`
	Years    string `json:"years"`
}

type enrichedPerson struct {
	FullName          string       `json:"full_name"`
	JobTitle          string       `json:"job_title"`
	CompanyName       string       `json:"company_name"`
	CompanyDomain     string       `json:"company_domain"`
	WorkEmail         string       `json:"work_email"`
	LinkedInURL       string       `json:"linkedin_url"`
	Location          location     `json:"location"`
	WorkPhone         string       `json:"work_phone"`
	EmploymentHistory []employment `json:"employment_history"`
}

type decisionMaker struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	LinkedInURL string `json:"linkedin_url"`
}

type hiringTrends struct {
	OpenPositions        int      `json:"open_positions"`
	GrowthRate           string   `json:"growth_rate"`
	TopHiringDepartments []string `json:"top_hiring_departments"`
}

type enrichedCompany struct {
	Name              string          `json:"name"`
	Domain            string          `json:"domain"`
	Industry          string          `json:"industry"`
	EmployeeCount     int             `json:"employee_count"`
	AnnualRevenue     string          `json:"annual_revenue"`
	CompanyType       string          `json:"company_type"`
	Headquarters      location        `json:"headquarters"`
	TechnologiesUsed  []string        `json:"technologies_used"`
	KeyDecisionMakers []decisionMaker `json:"key_decision_makers"`
	HiringTrends      hiringTrends    `json:"hiring_trends"`
}

// sampleEnrichment is the shape shown to the generator for synthetic enrichment.
func sampleEnrichment() enrichment {
	sf := location{City: "San Francisco", State: "California", Country: "United States"}
	return enrichment{
		Person: enrichedPerson{
			FullName:      "Jane Doe",
			JobTitle:      "Director of Data Engineering",
			CompanyName:   "Acme Analytics",
			CompanyDomain: "acmeanalytics.com",
			WorkEmail:     "jane.doe@acmeanalytics.com",
			LinkedInURL:   "https://www.linkedin.com/in/janedoe",
			Location:      sf,
			WorkPhone:     "+1 415-555-1234",
			EmploymentHistory: []employment{
				{Company: "DataCorp", JobTitle: "Senior Data Engineer", Years: "2018-2022"},
				{Company: "Tech Solutions", JobTitle: "Data Analyst", Years: "2015-2018"},
			},
		},
		Company: enrichedCompany{
			Name:             "Acme Analytics",
			Domain:           "acmeanalytics.com",
			Industry:         "Data & Analytics",
			EmployeeCount:    500,
			AnnualRevenue:    "$50M-$100M",
			CompanyType:      "Private",
			Headquarters:     sf,
			TechnologiesUsed: []string{"AWS", "Snowflake", "Apache Kafka", "Flink", "Looker", "Salesforce"},
			KeyDecisionMakers: []decisionMaker{
				{Name: "John Smith", Title: "CEO", LinkedInURL: "https://www.linkedin.com/in/johnsmith"},
				{Name: "Emily Johnson", Title: "VP of Engineering", LinkedInURL: "https://www.linkedin.com/in/emilyjohnson"},
			},
			HiringTrends: hiringTrends{OpenPositions: 12, GrowthRate: "15% YoY", TopHiringDepartments: []string{"Engineering", "Data Science", "Sales"}},
		},
	}
}

var (
	fakeRevenue = []string{"<$1M", "$1M-$10M", "$10M-$50M", "$50M-$100M", "$100M-$500M", "$500M+"}
	fakeTech    = []string{"AWS", "Azure", "Google Cloud", "Snowflake", "BigQuery", "Redshift", "Apache Kafka", "Tableau", "Looker", "Salesforce", "PostgreSQL", "Databricks"}
	fakeDepts   = []string{"Engineering", "Data Science", "Sales", "Marketing", "Operations", "Finance"}
)

func fakeEnrichment(f *gofakeit.Faker, hint leadHint) enrichment {
	company := orFake(hint.Company, f.Company)
	domain := f.DomainName()
	name := orFake(hint.Name, f.Name)
	loc := location{City: f.City(), State: f.State(), Country: "United States"}

	tech := make([]string, 0, 4)
	seen := map[string]bool{}
	for len(tech) < 4 {
		t := f.RandomString(fakeTech)
		if !seen[t] {
			seen[t] = true
			tech = append(tech, t)
		}
	}

	return enrichment{
		Person: enrichedPerson{
			FullName:      name,
			JobTitle:      orFake(hint.Title, f.JobTitle),
			CompanyName:   company,
			CompanyDomain: domain,
			WorkEmail:     orFake(hint.Email, f.Email),
			LinkedInURL:   "https://www.linkedin.com/in/" + strings.ToLower(f.Username()),
			Location:      loc,
			WorkPhone:     f.Phone(),
			EmploymentHistory: []employment{
				{Company: f.Company(), JobTitle: f.JobTitle(), Years: "2018-2022"},
				{Company: f.Company(), JobTitle: f.JobTitle(), Years: "2014-2018"},
			},
		},
		Company: enrichedCompany{
			Name:             company,
			Domain:           domain,
			Industry:         f.RandomString(fakeIndustries),
			EmployeeCount:    f.Number(5, 20000),
			AnnualRevenue:    f.RandomString(fakeRevenue),
			CompanyType:      f.RandomString([]string{"Private", "Public"}),
			Headquarters:     loc,
			TechnologiesUsed: tech,
			KeyDecisionMakers: []decisionMaker{
				{Name: f.Name(), Title: "CEO", LinkedInURL: "https://www.linkedin.com/in/" + strings.ToLower(f.Username())},
				{Name: f.Name(), Title: "VP of Engineering", LinkedInURL: "https://www.linkedin.com/in/" + strings.ToLower(f.Username())},
			},
			HiringTrends: hiringTrends{
				OpenPositions:        f.Number(0, 50),
				GrowthRate:           fmt.Sprintf("%d%% YoY", f.Number(-5, 40)),
				TopHiringDepartments: []string{f.RandomString(fakeDepts), f.RandomString(fakeDepts)},
			},
		},
	}
}

// =============================================================================
// SOCIAL
// =============================================================================

func fakePosts(f *gofakeit.Faker, hint leadHint) string {
	name := orFake(hint.Name, f.Name)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent LinkedIn activity for %s:\n", name)
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&sb, "- %d days ago: %s\n", f.Number(1, 30), f.Sentence(14))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// =============================================================================
// CONTENT SEARCH
// =============================================================================

type contentResult struct {
	Assets []lead.MarketingAsset `json:"marketing_assets"`
}

func fakeContent(f *gofakeit.Faker, query string) contentResult {
	topic := strings.TrimSpace(query)
	if topic == "" {
		topic = "modern analytics"
	}
	res := contentResult{Assets: make([]lead.MarketingAsset, 0, 5)}
	for i := 0; i < 5; i++ {
		typ := lead.AssetTypes[f.Number(0, len(lead.AssetTypes)-1)]
		slug := strings.ToLower(strings.ReplaceAll(f.BuzzWord()+" "+f.Word(), " ", "-"))
		res.Assets = append(res.Assets, lead.MarketingAsset{
			Title:       fmt.Sprintf("%s: %s %s", typ, f.BuzzWord(), topic),
			Description: f.Sentence(16),
			URL:         fmt.Sprintf("https://www.stratusdb.com/resources/%s-%d", slug, i+1),
			Type:        typ,
		})
	}
	return res
}
