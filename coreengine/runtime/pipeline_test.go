package runtime

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/leadflow/commbus"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/generator"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/lead"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/stages"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/testutil"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/tools"
)

// =============================================================================
// PIPELINE HARNESS
// =============================================================================

type delivered struct {
	lead  lead.Record
	batch lead.EmailBatch
}

type pipeline struct {
	bus        *commbus.InMemoryBus
	dispatcher *Dispatcher
	consumer   *Consumer
	gen        *testutil.MockGenerator

	mu    sync.Mutex
	sent  []delivered
	ready chan struct{}
}

// scriptedModel answers like a well-behaved model for the two fixture leads.
func scriptedModel(ctx context.Context, req generator.Request) (string, error) {
	jane := strings.Contains(req.Prompt, "Tiger Analytics")
	switch {
	case strings.Contains(req.System, "Industry Research Specialist"):
		if jane {
			return "Industry Overview: Tiger Analytics runs retail analytics on streaming data.", nil
		}
		return "Industry Overview: Rich Table is a single restaurant.", nil
	case strings.Contains(req.System, "Lead Scoring"):
		if jane {
			return "Evaluation:\n```json\n" + testutil.JaneDoeEvaluation + "\n```", nil
		}
		return testutil.SeanSmithEvaluation, nil
	case strings.Contains(req.System, "Email Engagement Specialist"):
		return `Here is the email: {"subject": "Real-time analytics for Tiger Analytics", "body": "Hi Jane, ..."}`, nil
	case strings.Contains(req.System, "Nurture Campaign Specialist"):
		return `{"emails": [
			{"to": "sean@richtable.example", "subject": "Welcome", "body": "One"},
			{"to": "sean@richtable.example", "subject": "Case study", "body": "Two"},
			{"to": "sean@richtable.example", "subject": "Webinar", "body": "Three"}
		]}`, nil
	}
	return "", generator.ErrGenerationFailed
}

func newPipeline(t *testing.T, want int) *pipeline {
	t.Helper()
	p := &pipeline{
		bus:   commbus.NewInMemoryBus(nil, 0),
		gen:   testutil.NewMockGenerator(),
		ready: make(chan struct{}),
	}
	p.gen.GenerateFunc = scriptedModel

	exec := tools.NewExecutor(nil)
	for _, name := range tools.Names() {
		require.NoError(t, exec.Register(&tools.Definition{
			Name:   name,
			Param:  "lead_details",
			Lookup: testutil.NewMockLookup(string(name) + " data"),
		}))
	}

	sink := stages.SinkFunc(func(ctx context.Context, env envelope.Envelope, batch lead.EmailBatch) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.sent = append(p.sent, delivered{lead: env.Lead, batch: batch})
		if len(p.sent) == want {
			close(p.ready)
		}
		return nil
	})

	procs, err := stages.Build(stages.Deps{
		Generator: p.gen,
		Tools:     exec,
		Publisher: p.bus,
	}, sink, nil)
	require.NoError(t, err)

	p.dispatcher = NewDispatcher(NewRouter(procs), DispatcherConfig{Concurrency: 4}, nil)
	p.consumer = NewConsumer(p.bus, p.dispatcher, stages.DefaultOutputTopic, "", nil)
	require.NoError(t, p.consumer.Start())

	t.Cleanup(func() {
		p.consumer.Stop()
		p.dispatcher.Close()
		_ = p.bus.Close()
	})
	return p
}

func (p *pipeline) wait(t *testing.T) []delivered {
	t.Helper()
	select {
	case <-p.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not deliver in time")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]delivered, len(p.sent))
	copy(out, p.sent)
	return out
}

func (p *pipeline) systemsCalled() []string {
	var out []string
	for _, req := range p.gen.Calls() {
		out = append(out, req.System)
	}
	return out
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestPipeline_ActivelyEngageLead(t *testing.T) {
	p := newPipeline(t, 1)

	require.NoError(t, p.dispatcher.Submit(context.Background(), Job{
		Stage:    envelope.StageIngestion,
		Envelope: envelope.New(testutil.JaneDoe(), "", envelope.StageNone),
	}))

	sent := p.wait(t)
	require.Len(t, sent, 1)
	assert.Equal(t, "Jane Doe", sent[0].lead.Name)

	batch := sent[0].batch
	require.Len(t, batch.Emails, 1)
	require.NotNil(t, batch.CampaignType)
	assert.Equal(t, lead.NextStepActivelyEngage, *batch.CampaignType)
	assert.Equal(t, "Real-time analytics for Tiger Analytics", batch.Emails[0].Subject)
	assert.Equal(t, testutil.JaneDoe().Email, batch.Emails[0].To)

	systems := p.systemsCalled()
	require.Len(t, systems, 3)
	for _, s := range systems {
		assert.NotContains(t, s, "Nurture Campaign Specialist")
	}
}

func TestPipeline_NurtureLead(t *testing.T) {
	p := newPipeline(t, 1)

	require.NoError(t, p.dispatcher.Submit(context.Background(), Job{
		Stage:    envelope.StageIngestion,
		Envelope: envelope.New(testutil.SeanSmith(), "", envelope.StageNone),
	}))

	sent := p.wait(t)
	require.Len(t, sent, 1)
	assert.Equal(t, "Sean Smith", sent[0].lead.Name)

	batch := sent[0].batch
	require.Len(t, batch.Emails, 3)
	require.NotNil(t, batch.CampaignType)
	assert.Equal(t, lead.NextStepNurture, *batch.CampaignType)
	assert.Equal(t, []string{"Welcome", "Case study", "Webinar"}, []string{
		batch.Emails[0].Subject, batch.Emails[1].Subject, batch.Emails[2].Subject,
	})

	for _, s := range p.systemsCalled() {
		assert.NotContains(t, s, "Email Engagement Specialist")
	}
}

func TestPipeline_BothLeadsConcurrently(t *testing.T) {
	p := newPipeline(t, 2)

	n, err := p.dispatcher.SubmitBatch(context.Background(), envelope.StageIngestion, []envelope.Envelope{
		envelope.New(testutil.JaneDoe(), "", envelope.StageNone),
		envelope.New(testutil.SeanSmith(), "", envelope.StageNone),
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	byName := map[string]lead.EmailBatch{}
	for _, d := range p.wait(t) {
		byName[d.lead.Name] = d.batch
	}
	assert.Len(t, byName["Jane Doe"].Emails, 1)
	assert.Len(t, byName["Sean Smith"].Emails, 3)
}

func TestPipeline_StartsMidway(t *testing.T) {
	p := newPipeline(t, 1)

	require.NoError(t, p.dispatcher.Submit(context.Background(), Job{
		Stage:    envelope.StageNurture,
		Envelope: envelope.New(testutil.SeanSmith(), testutil.SeanSmithEvaluation, envelope.StageNone),
	}))

	sent := p.wait(t)
	require.Len(t, sent, 1)
	assert.Len(t, sent[0].batch.Emails, 3)
	assert.Len(t, p.gen.Calls(), 1)
}
