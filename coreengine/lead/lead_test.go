package lead

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestParseEvaluation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Evaluation
		wantErr bool
	}{
		{
			name:    "valid integer score",
			payload: `{"score": 90, "next_step": "Actively Engage", "talking_points": ["a", "b", "c"]}`,
			want:    Evaluation{Score: 90, NextStep: NextStepActivelyEngage, TalkingPoints: []string{"a", "b", "c"}},
		},
		{
			name:    "string score",
			payload: `{"score": "45", "next_step": "Nurture", "talking_points": ["a", "b", "c", "d"]}`,
			want:    Evaluation{Score: 45, NextStep: NextStepNurture, TalkingPoints: []string{"a", "b", "c", "d"}},
		},
		{name: "score 101", payload: `{"score": 101, "next_step": "Nurture", "talking_points": ["a", "b", "c"]}`, wantErr: true},
		{name: "negative score", payload: `{"score": -1, "next_step": "Nurture", "talking_points": ["a", "b", "c"]}`, wantErr: true},
		{name: "fractional score", payload: `{"score": 80.5, "next_step": "Nurture", "talking_points": ["a", "b", "c"]}`, wantErr: true},
		{name: "next_step Maybe", payload: `{"score": 50, "next_step": "Maybe", "talking_points": ["a", "b", "c"]}`, wantErr: true},
		{name: "next_step wrong case", payload: `{"score": 50, "next_step": "nurture", "talking_points": ["a", "b", "c"]}`, wantErr: true},
		{name: "two talking points", payload: `{"score": 50, "next_step": "Nurture", "talking_points": ["a", "b"]}`, wantErr: true},
		{name: "talking points as string", payload: `{"score": 50, "next_step": "Nurture", "talking_points": "a, b, c"}`, wantErr: true},
		{name: "empty talking point", payload: `{"score": 50, "next_step": "Nurture", "talking_points": ["a", " ", "c"]}`, wantErr: true},
		{name: "missing score", payload: `{"next_step": "Nurture", "talking_points": ["a", "b", "c"]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEvaluation(decode(t, tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, got.Validate())
		})
	}
}

func TestParseEmailDraftDefaultsRecipient(t *testing.T) {
	d, err := ParseEmailDraft(decode(t, `{"subject": "Hi", "body": "Hello"}`), "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", d.To)

	_, err = ParseEmailDraft(decode(t, `{"to": "x@y.z", "body": "Hello"}`), "")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseEmailSequence(t *testing.T) {
	three := `{"emails": [
		{"to": "a@b.c", "subject": "1", "body": "one"},
		{"to": "a@b.c", "subject": "2", "body": "two"},
		{"to": "a@b.c", "subject": "3", "body": "three"}]}`

	drafts, err := ParseEmailSequence(decode(t, three), 3, "")
	require.NoError(t, err)
	assert.Len(t, drafts, 3)
	assert.Equal(t, "3", drafts[2].Subject)

	_, err = ParseEmailSequence(decode(t, three), 1, "")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = ParseEmailSequence(decode(t, `{"emails": "nope"}`), 3, "")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = ParseEmailSequence(decode(t, `{"emails": [1]}`), 1, "")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestNewEmailBatch(t *testing.T) {
	_, err := NewEmailBatch(nil, NextStepNurture)
	assert.ErrorIs(t, err, ErrInvalid)

	b, err := NewEmailBatch([]EmailDraft{{To: "a@b.c", Subject: "s", Body: "b"}}, NextStepActivelyEngage)
	require.NoError(t, err)
	require.NotNil(t, b.CampaignType)
	assert.Equal(t, NextStepActivelyEngage, *b.CampaignType)
	assert.NoError(t, b.Validate())

	raw, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"emails":[{"to":"a@b.c","subject":"s","body":"b"}],"campaign_type":"Actively Engage"}`, string(raw))
}

func TestEmailBatchValidate(t *testing.T) {
	assert.ErrorIs(t, EmailBatch{}.Validate(), ErrInvalid)
	assert.ErrorIs(t, EmailBatch{Emails: []EmailDraft{{Subject: "s"}}}.Validate(), ErrInvalid)

	bad := NextStep("Maybe")
	assert.ErrorIs(t, EmailBatch{Emails: []EmailDraft{{Subject: "s", Body: "b"}}, CampaignType: &bad}.Validate(), ErrInvalid)
	assert.NoError(t, EmailBatch{Emails: []EmailDraft{{Subject: "s", Body: "b"}}}.Validate())
}

func TestRecordJSONNames(t *testing.T) {
	r := Record{Name: "Jane Doe", CompanyWebsite: "https://example.com", JobTitle: "Director of Data Engineering"}
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	m := decode(t, string(raw))
	assert.Equal(t, "https://example.com", m["company_website"])
	assert.Equal(t, "Director of Data Engineering", m["job_title"])
}
