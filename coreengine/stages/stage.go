// Package stages implements the pipeline stages: ingestion, scoring, active
// outreach, nurture and send.
//
// A generating stage renders its prompts from the incoming envelope, asks the
// generator for text, extracts and validates the structured payload and
// publishes one new envelope. Anything that goes wrong drops the lead.
package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jeeves-cluster-organization/leadflow/commbus"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/extract"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/generator"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/lead"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/observability"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/tools"
)

var (
	// ErrExtractionFailed means the generated text held no usable JSON object.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrValidationFailed means an input or output payload had the wrong shape.
	ErrValidationFailed = errors.New("validation failed")
	// ErrPublishFailed means the result could not be handed on.
	ErrPublishFailed = errors.New("publish failed")
)

// DefaultOutputTopic is where generating stages publish.
const DefaultOutputTopic = "agent-output"

// Processor handles one envelope addressed to a stage.
// A nil error means the stage emitted (or, for send, delivered).
type Processor interface {
	Stage() envelope.Stage
	Process(ctx context.Context, env envelope.Envelope) error
}

// State is a step of the per-message state machine.
type State string

const (
	StateReceived   State = "received"
	StatePrompting  State = "prompting"
	StateGenerating State = "generating"
	StateExtracting State = "extracting"
	StateEmitted    State = "emitted"
	StateDropped    State = "dropped"
)

// Outcome labels used in logs and metrics.
const (
	OutcomeEmitted = "emitted"
	OutcomeDropped = "dropped"
	OutcomeFailed  = "failed"
)

// Classify maps a Process error to an outcome and a short reason.
func Classify(err error) (outcome, reason string) {
	switch {
	case err == nil:
		return OutcomeEmitted, ""
	case errors.Is(err, generator.ErrGenerationFailed):
		return OutcomeDropped, "generation"
	case errors.Is(err, ErrExtractionFailed):
		return OutcomeDropped, "extraction"
	case errors.Is(err, ErrValidationFailed):
		return OutcomeDropped, "validation"
	case errors.Is(err, ErrPublishFailed):
		return OutcomeDropped, "publish"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeDropped, "cancelled"
	}
	return OutcomeFailed, "internal"
}

// Deps are the collaborators shared by the generating stages.
type Deps struct {
	Generator generator.Generator
	Tools     *tools.Executor
	Extractor *extract.Extractor
	Publisher commbus.Publisher
	Topic     string
	Logger    logging.Logger
}

// outputFunc turns generated text into the envelope to publish.
type outputFunc func(x *extract.Extractor, in envelope.Envelope, campaign lead.NextStep, text string) (envelope.Envelope, error)

// Spec declares one generating stage.
type Spec struct {
	Stage  envelope.Stage
	Tools  []tools.Name
	System *template.Template
	User   *template.Template

	// NeedsEvaluation stages read a scoring Evaluation from the context.
	NeedsEvaluation bool

	example any
	output  outputFunc
}

// DefaultSpec returns the built-in declaration for a generating stage.
func DefaultSpec(stage envelope.Stage) (Spec, bool) {
	switch stage {
	case envelope.StageIngestion:
		return Spec{
			Stage:  stage,
			Tools:  []tools.Name{tools.CompanyWebsite, tools.CRM, tools.Enrichment},
			System: ingestionSystem,
			User:   ingestionUser,
			output: researchOutput,
		}, true
	case envelope.StageScoring:
		return Spec{
			Stage:   stage,
			System:  scoringSystem,
			User:    scoringUser,
			example: scoringExample,
			output:  evaluationOutput,
		}, true
	case envelope.StageActiveOutreach:
		return Spec{
			Stage:           stage,
			Tools:           []tools.Name{tools.CompanyWebsite, tools.CRM, tools.Enrichment, tools.Social},
			System:          outreachSystem,
			User:            outreachUser,
			NeedsEvaluation: true,
			example:         outreachExample,
			output:          singleDraftOutput,
		}, true
	case envelope.StageNurture:
		return Spec{
			Stage:           stage,
			Tools:           tools.Names(),
			System:          nurtureSystem,
			User:            nurtureUser,
			NeedsEvaluation: true,
			example:         nurtureExample,
			output:          sequenceOutput,
		}, true
	}
	return Spec{}, false
}

// =============================================================================
// GENERATING STAGE
// =============================================================================

// Generating is a stage backed by the generator.
type Generating struct {
	spec      Spec
	gen       generator.Generator
	tools     generator.ToolSet
	extractor *extract.Extractor
	publisher commbus.Publisher
	topic     string
	logger    logging.Logger
}

var _ Processor = (*Generating)(nil)

// NewGenerating builds a stage from spec.
func NewGenerating(spec Spec, deps Deps) (*Generating, error) {
	if spec.output == nil {
		base, ok := DefaultSpec(spec.Stage)
		if !ok {
			return nil, fmt.Errorf("stage %q has no generating implementation", spec.Stage)
		}
		spec.output = base.output
		spec.example = base.example
		spec.NeedsEvaluation = spec.NeedsEvaluation || base.NeedsEvaluation
	}
	if spec.System == nil || spec.User == nil {
		return nil, fmt.Errorf("stage %s: prompts are required", spec.Stage)
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("stage %s: generator is required", spec.Stage)
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("stage %s: publisher is required", spec.Stage)
	}

	g := &Generating{
		spec:      spec,
		gen:       deps.Generator,
		extractor: deps.Extractor,
		publisher: deps.Publisher,
		topic:     deps.Topic,
		logger:    deps.Logger,
	}
	if g.extractor == nil {
		g.extractor = extract.New(extract.ModeBalanced)
	}
	if g.topic == "" {
		g.topic = DefaultOutputTopic
	}
	if g.logger == nil {
		g.logger = logging.Nop()
	}
	g.logger = g.logger.Bind("component", "stage", "stage", string(spec.Stage))

	if len(spec.Tools) > 0 {
		if deps.Tools == nil {
			return nil, fmt.Errorf("stage %s: tools %v requested but no executor configured", spec.Stage, spec.Tools)
		}
		set, err := deps.Tools.Subset(spec.Tools...)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", spec.Stage, err)
		}
		g.tools = set
	}
	return g, nil
}

// Stage returns the stage name.
func (g *Generating) Stage() envelope.Stage {
	return g.spec.Stage
}

// Process runs the state machine for one envelope.
func (g *Generating) Process(ctx context.Context, env envelope.Envelope) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "stage.process")
	span.SetAttributes(
		attribute.String("stage", string(g.spec.Stage)),
		attribute.String("envelope_id", env.EnvelopeID),
	)
	log := g.logger.Bind("envelope_id", env.EnvelopeID, "company", env.Lead.CompanyName)
	start := time.Now()
	state := StateReceived
	log.Debug("stage_transition", "state", state)

	defer func() {
		outcome, reason := Classify(err)
		observability.RecordStageOutcome(string(g.spec.Stage), outcome, reason, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Warn("stage_dropped", "from_state", state, "reason", reason, "error", err)
		}
		span.End()
	}()

	state = StatePrompting
	log.Debug("stage_transition", "state", state)
	if env.Lead == (lead.Record{}) {
		return fmt.Errorf("%w: lead_data is empty", ErrValidationFailed)
	}
	var campaign lead.NextStep
	if g.spec.NeedsEvaluation {
		ev, err := parseEvaluationContext(env)
		if err != nil {
			return err
		}
		campaign = ev.NextStep
	}
	data, err := newPromptData(env.Lead, env.Context, g.spec.example)
	if err != nil {
		return err
	}
	system, err := render(g.spec.System, data)
	if err != nil {
		return err
	}
	user, err := render(g.spec.User, data)
	if err != nil {
		return err
	}

	state = StateGenerating
	log.Debug("stage_transition", "state", state)
	res, err := g.gen.Generate(ctx, generator.Request{System: system, Prompt: user, Tools: g.tools})
	if err != nil {
		return fmt.Errorf("stage %s: %w", g.spec.Stage, err)
	}
	log.Debug("stage_generated", "turns", res.Turns, "tool_calls", len(res.Trace))

	state = StateExtracting
	log.Debug("stage_transition", "state", state)
	out, err := g.spec.output(g.extractor, env, campaign, res.Text)
	if err != nil {
		return err
	}

	raw, err := envelope.Encode(out)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	if err := g.publisher.Publish(ctx, g.topic, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	state = StateEmitted
	log.Info("stage_emitted", "topic", g.topic, "next_envelope_id", out.EnvelopeID)
	return nil
}

func parseEvaluationContext(env envelope.Envelope) (lead.Evaluation, error) {
	payload, err := env.DecodeContext()
	if err != nil {
		return lead.Evaluation{}, fmt.Errorf("%w: evaluation: %v", ErrValidationFailed, err)
	}
	ev, err := lead.ParseEvaluation(payload)
	if err != nil {
		return lead.Evaluation{}, fmt.Errorf("%w: evaluation: %v", ErrValidationFailed, err)
	}
	return ev, nil
}

// =============================================================================
// OUTPUTS
// =============================================================================

func researchOutput(_ *extract.Extractor, in envelope.Envelope, _ lead.NextStep, text string) (envelope.Envelope, error) {
	report := strings.TrimSpace(text)
	if report == "" {
		return envelope.Envelope{}, fmt.Errorf("%w: research report is empty", ErrExtractionFailed)
	}
	return envelope.New(in.Lead, report, envelope.StageIngestion), nil
}

func evaluationOutput(x *extract.Extractor, in envelope.Envelope, _ lead.NextStep, text string) (envelope.Envelope, error) {
	payload, err := extractPayload(x, text)
	if err != nil {
		return envelope.Envelope{}, err
	}
	ev, err := lead.ParseEvaluation(payload)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return envelope.NewJSON(in.Lead, ev, envelope.StageScoring)
}

func singleDraftOutput(x *extract.Extractor, in envelope.Envelope, campaign lead.NextStep, text string) (envelope.Envelope, error) {
	payload, err := extractPayload(x, text)
	if err != nil {
		return envelope.Envelope{}, err
	}
	draft, err := lead.ParseEmailDraft(payload, in.Lead.Email)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return batchEnvelope(in, []lead.EmailDraft{draft}, campaign, envelope.StageActiveOutreach)
}

// NurtureSequenceLength is the number of drafts a nurture campaign must carry.
const NurtureSequenceLength = 3

func sequenceOutput(x *extract.Extractor, in envelope.Envelope, campaign lead.NextStep, text string) (envelope.Envelope, error) {
	payload, err := extractPayload(x, text)
	if err != nil {
		return envelope.Envelope{}, err
	}
	drafts, err := lead.ParseEmailSequence(payload, NurtureSequenceLength, in.Lead.Email)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return batchEnvelope(in, drafts, campaign, envelope.StageNurture)
}

func batchEnvelope(in envelope.Envelope, drafts []lead.EmailDraft, campaign lead.NextStep, origin envelope.Stage) (envelope.Envelope, error) {
	batch, err := lead.NewEmailBatch(drafts, campaign)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return envelope.NewJSON(in.Lead, batch, origin)
}

func extractPayload(x *extract.Extractor, text string) (map[string]any, error) {
	payload, err := x.Extract(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return payload, nil
}
