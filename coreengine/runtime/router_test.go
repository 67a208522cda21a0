package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/stages"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/testutil"
)

type stubProcessor struct {
	stage envelope.Stage
	fn    func(ctx context.Context, env envelope.Envelope) error
}

func (p *stubProcessor) Stage() envelope.Stage { return p.stage }

func (p *stubProcessor) Process(ctx context.Context, env envelope.Envelope) error {
	if p.fn == nil {
		return nil
	}
	return p.fn(ctx, env)
}

func TestNextStage(t *testing.T) {
	tests := []struct {
		name    string
		origin  envelope.Stage
		context string
		want    envelope.Stage
		wantErr bool
	}{
		{"ingestion goes to scoring", envelope.StageIngestion, "report", envelope.StageScoring, false},
		{"actively engage", envelope.StageScoring, testutil.JaneDoeEvaluation, envelope.StageActiveOutreach, false},
		{"nurture", envelope.StageScoring, testutil.SeanSmithEvaluation, envelope.StageNurture, false},
		{"outreach goes to send", envelope.StageActiveOutreach, `{"emails": []}`, envelope.StageSend, false},
		{"nurture goes to send", envelope.StageNurture, `{"emails": []}`, envelope.StageSend, false},
		{"send is terminal", envelope.StageSend, "", envelope.StageNone, false},
		{"unknown next_step", envelope.StageScoring, `{"next_step": "Maybe Later"}`, envelope.StageNone, true},
		{"lowercase next_step", envelope.StageScoring, `{"next_step": "nurture"}`, envelope.StageNone, true},
		{"scoring context not json", envelope.StageScoring, "not json", envelope.StageNone, true},
		{"missing origin", envelope.StageNone, "report", envelope.StageNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextStage(envelope.New(testutil.JaneDoe(), tt.context, tt.origin))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnroutable)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextStage_EveryStageHandled(t *testing.T) {
	for _, st := range envelope.Stages {
		ctx := "x"
		if st == envelope.StageScoring {
			ctx = testutil.JaneDoeEvaluation
		}
		_, err := NextStage(envelope.New(testutil.JaneDoe(), ctx, st))
		assert.NoError(t, err, "stage %s", st)
	}
}

func TestRouter(t *testing.T) {
	r := NewRouter(map[envelope.Stage]stages.Processor{
		envelope.StageSend: &stubProcessor{stage: envelope.StageSend},
	})
	r.Register(&stubProcessor{stage: envelope.StageIngestion})

	_, ok := r.Handler(envelope.StageIngestion)
	assert.True(t, ok)
	_, ok = r.Handler(envelope.StageScoring)
	assert.False(t, ok)

	require.Equal(t, []envelope.Stage{envelope.StageIngestion, envelope.StageSend}, r.Stages())
}
