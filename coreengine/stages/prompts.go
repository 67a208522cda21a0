package stages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/lead"
)

// promptData is what every stage template renders from.
type promptData struct {
	Lead    string
	Context string
	Product string
	Example string
}

func newPromptData(record lead.Record, context string, example any) (promptData, error) {
	leadJSON, err := json.Marshal(record)
	if err != nil {
		return promptData{}, fmt.Errorf("encode lead: %w", err)
	}
	d := promptData{Lead: string(leadJSON), Context: context, Product: lead.ProductDescription}
	if example != nil {
		ex, err := json.Marshal(example)
		if err != nil {
			return promptData{}, fmt.Errorf("encode example: %w", err)
		}
		d.Example = string(ex)
	}
	return d, nil
}

func render(t *template.Template, d promptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

const companyIntro = `StratusDB, a cloud-native, AI-powered data warehouse built for B2B
enterprises that need fast, scalable, and intelligent data infrastructure. StratusDB simplifies complex data
pipelines, enabling companies to store, query, and operationalize their data in real time.`

var (
	ingestionSystem = template.Must(template.New("ingestion_system").Parse(`You're an Industry Research Specialist at ` + companyIntro + `

Your role is to conduct research on potential leads to assess their fit for StratusAI Warehouse and provide key
insights for scoring and outreach planning. Your research will focus on industry trends, company background,
and AI adoption potential to ensure a tailored and strategic approach.`))

	ingestionUser = template.Must(template.New("ingestion_user").Parse(`Using the lead input data, conduct preliminary research on the lead. Focus on finding relevant data
that can aid in scoring the lead and planning a strategy to pitch them. You do not need to score the lead.

Key Responsibilities:
- Analyze the lead's industry to identify relevant trends, market challenges, and AI adoption patterns.
- Gather company-specific insights, including size, market position, recent news, and strategic initiatives.
- Determine potential use cases for StratusAI Warehouse, focusing on how the company could benefit from real-time analytics, multi-cloud data management, and AI-driven optimization.
- Assess lead quality based on data completeness and engagement signals. Leads with short or vague form responses should be flagged for review but not immediately discarded.
- Use dedicated tools to enhance research and minimize manual work:
  - Company Website Lookup Tool - Fetches key details from the company's official website.
  - Salesforce Data Access - Retrieves CRM data about the lead's past interactions, status, and engagement history.
  - Clearbit Enrichment API - Provides firmographic and contact-level data, including company size, funding, tech stack, and key decision-makers.
- Filter out weak leads or where the lead data doesn't look like a fit, ensuring minimal time is spent on companies unlikely to be a fit for StratusDB's offering.

Lead Form Responses:
{{.Lead}}

{{.Product}}

Expected Output - Research Report:
The research report should be concise and actionable, containing:

Industry Overview - Key trends, challenges, and AI adoption patterns in the lead's industry.
Company Insights - Size, market position, strategic direction, and recent news.
Potential Use Cases - How StratusAI Warehouse could provide value to the lead's company.
Lead Quality Assessment - Based on available data, engagement signals, and fit for StratusDB's ideal customer profile.
Additional Insights - Any relevant information that can aid in outreach planning or lead prioritization.`))

	scoringSystem = template.Must(template.New("scoring_system").Parse(`You're the Lead Scoring and Strategic Planner at ` + companyIntro + `

You combine insights from lead analysis and research to score leads accurately and align them with the
optimal offering. Your strategic vision and scoring expertise ensure that
potential leads are matched with solutions that meet their specific needs.

Your role is to utilize analyzed data and research findings to score leads, suggest next steps, and identify talking points.`))

	scoringUser = template.Must(template.New("scoring_user").Parse(`Utilize the provided context and the lead's form response to score the lead.

- Consider factors such as industry relevance, company size, StratusAI Warehouse use case potential, and buying readiness.
- Evaluate the wording and length of the response. Short answers are a yellow flag.
- Take into account the role of the lead. Only prioritize leads that fit our core buyer persona. Nurture low quality.
- Be pessimistic: focus high scores on leads with clear potential to close.
- Smaller companies typically have lower budgets.
- Avoid spending too much time on leads that are not a good fit.

Lead Data
- Lead Form Responses: {{.Lead}}
- Additional Context: {{.Context}}

Output Format
- The output must be strictly formatted as JSON, with no additional text, commentary, or explanation.
- The JSON should exactly match the following structure:
   {{.Example}}

Formatting Rules
  1. score: An integer between 0 and 100.
  2. next_step: Either "Nurture" or "Actively Engage" (no variations).
  3. talking_points: A list of at least three specific talking points, personalized for the lead.
  4. No extra text, no explanations, no additional formatting. Output must be pure JSON.

Failure to strictly follow this format will result in incorrect output.`))

	outreachSystem = template.Must(template.New("active_outreach_system").Parse(`You're the AI Email Engagement Specialist at ` + companyIntro + `

You craft engaging, high-converting emails that capture attention, drive conversations, and move leads forward.
Your messaging is personalized, data-driven, and aligned with industry pain points to ensure relevance and impact.

Your role is to write compelling outreach emails, optimize engagement through A/B testing and behavioral insights,
and ensure messaging resonates with each prospect's needs and challenges.`))

	outreachUser = template.Must(template.New("active_outreach_user").Parse(`Use the lead input and evaluation data to craft a highly personalized and engaging email to initiate a conversation with the prospect.
The email should be tailored to their industry, role, and business needs, ensuring relevance and increasing the likelihood of a response.

Key Responsibilities:
- Personalize outreach based on lead insights from company website, LinkedIn, Salesforce, and Clearbit.
- Craft a compelling email structure, ensuring clarity, relevance, and engagement.
- Align messaging with the prospect's pain points and industry trends, showing how StratusAI Warehouse addresses their challenges.

Use dedicated tools to enhance personalization and optimize engagement:
- Company Website Lookup Tool - Extracts relevant company details, recent news, and strategic initiatives.
- Salesforce Data Access - Retrieves CRM data about the lead's past interactions, engagement status, and any prior outreach.
- Clearbit Enrichment API - Provides firmographic and contact-level data, including company size, funding, tech stack, and key decision-makers.
- LinkedIn Profile API - Gathers professional history, recent activity, and mutual connections to inform messaging.

Ensure a clear and actionable CTA, encouraging the lead to engage without high friction.

Lead Data
- Lead Form Responses: {{.Lead}}
- Lead Evaluation: {{.Context}}

{{.Product}}

Expected Output - Personalized Prospect Email:
The email should be concise, engaging, and structured to drive a response, containing:

- Personalized Opening - Address the lead by name and reference a relevant insight from their company, role, or industry trends.
- Key Challenge & Value Proposition - Identify a pain point or opportunity based on lead data and explain how StratusAI Warehouse solves it.
- Clear Call to Action (CTA) - Encourage a response with a low-friction action, such as scheduling a quick chat or sharing feedback.
- Engagement-Oriented Tone - Maintain a conversational yet professional approach, keeping the message brief and impactful.

Output Format
- The output must be strictly formatted as JSON, with no additional text, commentary, or explanation.
- The JSON should exactly match the following structure:
   {{.Example}}

Failure to strictly follow this format will result in incorrect output.`))

	nurtureSystem = template.Must(template.New("nurture_system").Parse(`You're the AI Nurture Campaign Specialist at ` + companyIntro + `

You design multi-step nurture campaigns that educate prospects and drive engagement over time.
Your emails are personalized, strategically sequenced, and content-driven, ensuring relevance at every stage.`))

	nurtureUser = template.Must(template.New("nurture_user").Parse(`Using the lead input and evaluation data, craft a 3-email nurture campaign designed to warm up the
prospect and gradually build engagement over time. Each email should be sequenced strategically,
introducing relevant insights, addressing pain points, and progressively guiding the lead toward a conversation.
Link to additional marketing assets when it makes sense.

Key Responsibilities:
- Personalize each email based on lead insights from Company Website, LinkedIn, Salesforce, and Clearbit.
- Structure a 3-email sequence, ensuring each email builds upon the previous one and provides increasing value.
- Align messaging with the prospect's industry, role, and pain points, demonstrating how StratusAI Warehouse can address their challenges.
- Link to relevant content assets (case studies, blog posts, whitepapers, webinars, etc.) by leveraging a Content Search Tool to find the most valuable follow-up materials.

Tools & Data Sources:
- Company Website Lookup Tool - Extracts company details, news, and strategic initiatives.
- Salesforce Data Access - Retrieves CRM insights on past interactions, engagement status, and previous outreach.
- Clearbit Enrichment API - Provides firmographic and contact-level data, including company size, funding, tech stack, and key decision-makers.
- LinkedIn Profile API - Gathers professional history, recent activity, and mutual connections for better personalization.
- Content Search Tool - Identifies the most relevant blog posts, case studies, and whitepapers for follow-ups.

Lead Data:
- Lead Form Responses: {{.Lead}}
- Lead Evaluation: {{.Context}}

{{.Product}}

Expected Output - 3-Email Nurture Campaign:
Each email should be concise, engaging, and sequenced effectively, containing:
1. Personalized Opening - Address the lead by name and reference a relevant insight from their company, role, or industry trends.
2. Key Challenge & Value Proposition - Identify a pain point or opportunity based on lead data and explain how StratusAI Warehouse solves it.
3. Relevant Content Asset - Include a blog post, case study, or whitepaper that aligns with the lead's interests.
4. Clear Call to Action (CTA) - Encourage engagement with a low-friction action (e.g., reading content, replying, scheduling a chat).
5. Progressive Value Addition - Ensure each email builds upon the last, gradually increasing lead engagement and urgency.

Output Format
- The output must be strictly formatted as JSON, with no additional text, commentary, or explanation.
- Make sure the JSON format is valid. If not, regenerate with valid JSON.
- The JSON must strictly follow this structure:
{{.Example}}

Failure to strictly follow this format will result in incorrect output.`))
)

var (
	scoringExample = map[string]any{
		"score":          "80",
		"next_step":      "Nurture | Actively Engage",
		"talking_points": "Here are the talking points to engage the lead",
	}

	outreachExample = lead.EmailDraft{
		To:      "Lead's Email Address",
		Subject: "Example Subject Line",
		Body:    "Example Email Body",
	}

	nurtureExample = map[string]any{
		"emails": []lead.EmailDraft{
			{To: "[Lead's Email Address]", Subject: "[Subject Line for Email 1]", Body: "[Email Body for Email 1]"},
			{To: "[Lead's Email Address]", Subject: "[Subject Line for Email 2]", Body: "[Email Body for Email 2]"},
			{To: "[Lead's Email Address]", Subject: "[Subject Line for Email 3]", Body: "[Email Body for Email 3]"},
		},
	}
)
