// Package lead defines the lead record and the structured payloads produced
// by the pipeline stages (evaluation, email batch, marketing asset).
package lead

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/typeutil"
)

// ErrInvalid is returned when a payload fails shape or range checks.
var ErrInvalid = errors.New("invalid payload")

// Record is a prospective sales lead. It is carried by value through every hop.
type Record struct {
	Name               string `json:"name"`
	Email              string `json:"email"`
	CompanyName        string `json:"company_name"`
	CompanyWebsite     string `json:"company_website"`
	LeadSource         string `json:"lead_source"`
	JobTitle           string `json:"job_title"`
	ProjectDescription string `json:"project_description"`
}

// =============================================================================
// Evaluation
// =============================================================================

// NextStep is the branch decision made by the scoring stage.
type NextStep string

const (
	// NextStepNurture routes the lead to the nurture campaign.
	NextStepNurture NextStep = "Nurture"
	// NextStepActivelyEngage routes the lead to active outreach.
	NextStepActivelyEngage NextStep = "Actively Engage"
)

// ParseNextStep accepts only the exact literals.
func ParseNextStep(s string) (NextStep, error) {
	switch NextStep(s) {
	case NextStepNurture, NextStepActivelyEngage:
		return NextStep(s), nil
	}
	return "", fmt.Errorf("%w: next_step %q is not one of %q, %q", ErrInvalid, s, NextStepNurture, NextStepActivelyEngage)
}

// MinTalkingPoints is the minimum number of talking points an evaluation carries.
const MinTalkingPoints = 3

// Evaluation is the scoring stage's structured output.
type Evaluation struct {
	Score         int      `json:"score"`
	NextStep      NextStep `json:"next_step"`
	TalkingPoints []string `json:"talking_points"`
}

// ParseEvaluation validates a loosely typed payload into an Evaluation.
//
// score must be a whole number (or a string holding one) in [0,100];
// next_step must be an exact literal; talking_points must be an array of at
// least three non-empty strings. Any other shape is rejected, never coerced.
func ParseEvaluation(payload map[string]any) (Evaluation, error) {
	var ev Evaluation

	score, ok := typeutil.IntegralInt(payload["score"])
	if !ok {
		return ev, fmt.Errorf("%w: score %v is not an integer", ErrInvalid, payload["score"])
	}
	if score < 0 || score > 100 {
		return ev, fmt.Errorf("%w: score %d out of range [0,100]", ErrInvalid, score)
	}

	raw, ok := typeutil.SafeString(payload["next_step"])
	if !ok {
		return ev, fmt.Errorf("%w: next_step missing or not a string", ErrInvalid)
	}
	step, err := ParseNextStep(raw)
	if err != nil {
		return ev, err
	}

	points, ok := typeutil.SafeStringSlice(payload["talking_points"])
	if !ok {
		return ev, fmt.Errorf("%w: talking_points must be an array of strings", ErrInvalid)
	}
	if len(points) < MinTalkingPoints {
		return ev, fmt.Errorf("%w: %d talking_points, need at least %d", ErrInvalid, len(points), MinTalkingPoints)
	}
	for i, p := range points {
		if strings.TrimSpace(p) == "" {
			return ev, fmt.Errorf("%w: talking_points[%d] is empty", ErrInvalid, i)
		}
	}

	ev.Score = score
	ev.NextStep = step
	ev.TalkingPoints = points
	return ev, nil
}

// Validate re-checks an already typed Evaluation.
func (e Evaluation) Validate() error {
	points := make([]any, len(e.TalkingPoints))
	for i, p := range e.TalkingPoints {
		points[i] = p
	}
	_, err := ParseEvaluation(map[string]any{
		"score":          e.Score,
		"next_step":      string(e.NextStep),
		"talking_points": points,
	})
	return err
}

// =============================================================================
// Emails
// =============================================================================

// EmailDraft is a single outbound email.
type EmailDraft struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// EmailBatch is what the outreach stages hand to the send stage.
type EmailBatch struct {
	Emails       []EmailDraft `json:"emails"`
	CampaignType *NextStep    `json:"campaign_type"`
}

// ParseEmailDraft validates one draft. A missing recipient falls back to defaultTo.
func ParseEmailDraft(payload map[string]any, defaultTo string) (EmailDraft, error) {
	subject, _ := typeutil.SafeString(payload["subject"])
	body, _ := typeutil.SafeString(payload["body"])
	if strings.TrimSpace(subject) == "" {
		return EmailDraft{}, fmt.Errorf("%w: draft subject is empty", ErrInvalid)
	}
	if strings.TrimSpace(body) == "" {
		return EmailDraft{}, fmt.Errorf("%w: draft body is empty", ErrInvalid)
	}
	to, _ := typeutil.SafeString(payload["to"])
	if strings.TrimSpace(to) == "" {
		to = defaultTo
	}
	return EmailDraft{To: to, Subject: subject, Body: body}, nil
}

// ParseEmailSequence validates an {"emails": [...]} payload holding exactly want drafts.
func ParseEmailSequence(payload map[string]any, want int, defaultTo string) ([]EmailDraft, error) {
	items, ok := typeutil.SafeSlice(payload["emails"])
	if !ok {
		return nil, fmt.Errorf("%w: emails must be an array", ErrInvalid)
	}
	if len(items) != want {
		return nil, fmt.Errorf("%w: got %d emails, want exactly %d", ErrInvalid, len(items), want)
	}
	drafts := make([]EmailDraft, 0, len(items))
	for i, item := range items {
		m, ok := typeutil.SafeMapStringAny(item)
		if !ok {
			return nil, fmt.Errorf("%w: emails[%d] is not an object", ErrInvalid, i)
		}
		d, err := ParseEmailDraft(m, defaultTo)
		if err != nil {
			return nil, fmt.Errorf("emails[%d]: %w", i, err)
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// NewEmailBatch builds a batch tagged with the campaign type. It refuses to build an empty one.
func NewEmailBatch(drafts []EmailDraft, campaign NextStep) (EmailBatch, error) {
	if len(drafts) == 0 {
		return EmailBatch{}, fmt.Errorf("%w: email batch is empty", ErrInvalid)
	}
	c := campaign
	out := make([]EmailDraft, len(drafts))
	copy(out, drafts)
	return EmailBatch{Emails: out, CampaignType: &c}, nil
}

// Validate checks that the batch is non-empty and every draft is complete.
func (b EmailBatch) Validate() error {
	if len(b.Emails) == 0 {
		return fmt.Errorf("%w: email batch is empty", ErrInvalid)
	}
	for i, d := range b.Emails {
		if strings.TrimSpace(d.Subject) == "" || strings.TrimSpace(d.Body) == "" {
			return fmt.Errorf("%w: emails[%d] is missing subject or body", ErrInvalid, i)
		}
	}
	if b.CampaignType != nil {
		if _, err := ParseNextStep(string(*b.CampaignType)); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Marketing assets
// =============================================================================

// AssetType classifies a marketing asset.
type AssetType string

const (
	AssetCaseStudy  AssetType = "Case Study"
	AssetBlogPost   AssetType = "Blog Post"
	AssetWhitepaper AssetType = "Whitepaper"
	AssetWebinar    AssetType = "Webinar"
)

// AssetTypes lists every known asset type.
var AssetTypes = []AssetType{AssetCaseStudy, AssetBlogPost, AssetWhitepaper, AssetWebinar}

// MarketingAsset is nurture enrichment input. Never persisted.
type MarketingAsset struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	Type        AssetType `json:"type"`
}
