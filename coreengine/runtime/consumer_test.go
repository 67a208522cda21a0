package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/leadflow/commbus"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/stages"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/testutil"
)

func encoded(t *testing.T, env envelope.Envelope) *commbus.Message {
	t.Helper()
	data, err := envelope.Encode(env)
	require.NoError(t, err)
	return commbus.NewMessage(stages.DefaultOutputTopic, data)
}

func TestConsumer_Handle(t *testing.T) {
	tests := []struct {
		name      string
		msg       func(t *testing.T) *commbus.Message
		wantStage envelope.Stage
	}{
		{"research goes to scoring", func(t *testing.T) *commbus.Message {
			return encoded(t, envelope.New(testutil.JaneDoe(), "report", envelope.StageIngestion))
		}, envelope.StageScoring},
		{"engage goes to outreach", func(t *testing.T) *commbus.Message {
			return encoded(t, envelope.New(testutil.JaneDoe(), testutil.JaneDoeEvaluation, envelope.StageScoring))
		}, envelope.StageActiveOutreach},
		{"nurture evaluation goes to nurture", func(t *testing.T) *commbus.Message {
			return encoded(t, envelope.New(testutil.SeanSmith(), testutil.SeanSmithEvaluation, envelope.StageScoring))
		}, envelope.StageNurture},
		{"drafts go to send", func(t *testing.T) *commbus.Message {
			return encoded(t, envelope.New(testutil.JaneDoe(), `{"emails": []}`, envelope.StageNurture))
		}, envelope.StageSend},
		{"send output is terminal", func(t *testing.T) *commbus.Message {
			return encoded(t, envelope.New(testutil.JaneDoe(), "", envelope.StageSend))
		}, envelope.StageNone},
		{"garbage is dropped", func(t *testing.T) *commbus.Message {
			return commbus.NewMessage(stages.DefaultOutputTopic, []byte("not json"))
		}, envelope.StageNone},
		{"bad next_step is dropped", func(t *testing.T) *commbus.Message {
			return encoded(t, envelope.New(testutil.JaneDoe(), `{"next_step": "Later"}`, envelope.StageScoring))
		}, envelope.StageNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(chan envelope.Stage, len(envelope.Stages))
			procs := map[envelope.Stage]stages.Processor{}
			for _, st := range envelope.Stages {
				procs[st] = &stubProcessor{stage: st, fn: func(context.Context, envelope.Envelope) error {
					got <- st
					return nil
				}}
			}
			d := NewDispatcher(NewRouter(procs), DispatcherConfig{Concurrency: 1}, nil)
			c := NewConsumer(commbus.NewInMemoryBus(nil, 0), d, stages.DefaultOutputTopic, "", nil)

			require.NoError(t, c.Handle(context.Background(), tt.msg(t)))
			d.Close()

			if tt.wantStage == envelope.StageNone {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantStage, <-got)
		})
	}
}

func TestConsumer_SubscribesToBus(t *testing.T) {
	bus := commbus.NewInMemoryBus(nil, 0)
	defer bus.Close()

	seen := make(chan envelope.Envelope, 1)
	proc := &stubProcessor{stage: envelope.StageScoring, fn: func(_ context.Context, env envelope.Envelope) error {
		seen <- env
		return nil
	}}
	d := NewDispatcher(routerWith(proc), DispatcherConfig{}, nil)
	defer d.Close()

	c := NewConsumer(bus, d, stages.DefaultOutputTopic, "workers", nil)
	require.NoError(t, c.Start())
	require.NoError(t, c.Start())
	defer c.Stop()

	in := envelope.New(testutil.JaneDoe(), "research", envelope.StageIngestion)
	data, err := envelope.Encode(in)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), stages.DefaultOutputTopic, data))

	select {
	case env := <-seen:
		assert.Equal(t, in.EnvelopeID, env.EnvelopeID)
		assert.Equal(t, "research", env.Context)
	case <-time.After(2 * time.Second):
		t.Fatal("envelope never reached scoring")
	}
}
