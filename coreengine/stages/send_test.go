package stages

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/lead"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/testutil"
)

type recordingSink struct {
	batches []lead.EmailBatch
	err     error
}

func (s *recordingSink) Deliver(ctx context.Context, env envelope.Envelope, batch lead.EmailBatch) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, batch)
	return nil
}

func batchEnvelopeFor(t *testing.T, drafts []lead.EmailDraft, campaign lead.NextStep) envelope.Envelope {
	t.Helper()
	batch, err := lead.NewEmailBatch(drafts, campaign)
	require.NoError(t, err)
	env, err := envelope.NewJSON(testutil.JaneDoe(), batch, envelope.StageActiveOutreach)
	require.NoError(t, err)
	return env
}

func TestSend_DeliversValidBatch(t *testing.T) {
	sink := &recordingSink{}
	send := NewSend(sink, nil)
	env := batchEnvelopeFor(t, []lead.EmailDraft{{To: "jane@x", Subject: "Hi", Body: "Body"}}, lead.NextStepActivelyEngage)

	require.NoError(t, send.Process(context.Background(), env))

	require.Len(t, sink.batches, 1)
	assert.Equal(t, "Hi", sink.batches[0].Emails[0].Subject)
	assert.Equal(t, envelope.StageSend, send.Stage())
}

func TestSend_Drops(t *testing.T) {
	tests := []struct {
		name    string
		context string
		sinkErr error
		wantErr error
	}{
		{"empty batch", `{"emails": [], "campaign_type": "Nurture"}`, nil, ErrValidationFailed},
		{"missing subject", `{"emails": [{"to": "a", "body": "b"}], "campaign_type": null}`, nil, ErrValidationFailed},
		{"unknown campaign", `{"emails": [{"subject": "s", "body": "b"}], "campaign_type": "Maybe"}`, nil, ErrValidationFailed},
		{"not json", "research text", nil, ErrValidationFailed},
		{"sink failure", `{"emails": [{"subject": "s", "body": "b"}]}`, errors.New("smtp down"), ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{err: tt.sinkErr}
			err := NewSend(sink, nil).Process(context.Background(), envelope.New(testutil.JaneDoe(), tt.context, envelope.StageNurture))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, sink.batches)
		})
	}
}

func TestSend_DefaultsToLogSink(t *testing.T) {
	send := NewSend(nil, nil)
	env := batchEnvelopeFor(t, []lead.EmailDraft{{Subject: "s", Body: "b"}}, lead.NextStepNurture)

	assert.NoError(t, send.Process(context.Background(), env))
	assert.IsType(t, &LogSink{}, send.sink)
}

func TestBusSink(t *testing.T) {
	pub := testutil.NewRecordingPublisher()
	sink := NewBusSink(pub, "")
	env := batchEnvelopeFor(t, []lead.EmailDraft{{To: "jane@x", Subject: "s", Body: "b"}}, lead.NextStepActivelyEngage)

	require.NoError(t, NewSend(sink, nil).Process(context.Background(), env))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, DefaultDeliveryTopic, msgs[0].Topic)

	var got deliveryMessage
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, env.EnvelopeID, got.EnvelopeID)
	assert.Equal(t, "Tiger Analytics", got.Lead.CompanyName)
	require.Len(t, got.Batch.Emails, 1)

	pub.Error = errors.New("bus down")
	err := sink.Deliver(context.Background(), env, got.Batch)
	assert.ErrorIs(t, err, ErrPublishFailed)
}

func TestSinkFunc(t *testing.T) {
	called := false
	var s Sink = SinkFunc(func(ctx context.Context, env envelope.Envelope, batch lead.EmailBatch) error {
		called = true
		return nil
	})
	require.NoError(t, s.Deliver(context.Background(), envelope.Envelope{}, lead.EmailBatch{}))
	assert.True(t, called)
}
