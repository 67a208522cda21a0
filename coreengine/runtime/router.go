// Package runtime routes envelopes between stages and runs them on a bounded worker pool.
package runtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/lead"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/stages"
)

// ErrUnroutable is returned when no successor can be derived for an envelope.
var ErrUnroutable = errors.New("unroutable envelope")

// NextStage returns the stage that consumes env, derived only from the stage
// that produced it. StageNone means env is terminal.
//
//	ingestion                 -> scoring
//	scoring (Nurture)         -> nurture
//	scoring (Actively Engage) -> active_outreach
//	active_outreach, nurture  -> send
//	send                      -> none
func NextStage(env envelope.Envelope) (envelope.Stage, error) {
	switch env.StageOrigin {
	case envelope.StageIngestion:
		return envelope.StageScoring, nil
	case envelope.StageScoring:
		payload, err := env.DecodeContext()
		if err != nil {
			return envelope.StageNone, fmt.Errorf("%w: %v", ErrUnroutable, err)
		}
		raw, _ := payload["next_step"].(string)
		step, err := lead.ParseNextStep(raw)
		if err != nil {
			return envelope.StageNone, fmt.Errorf("%w: %v", ErrUnroutable, err)
		}
		switch step {
		case lead.NextStepNurture:
			return envelope.StageNurture, nil
		case lead.NextStepActivelyEngage:
			return envelope.StageActiveOutreach, nil
		}
	case envelope.StageActiveOutreach, envelope.StageNurture:
		return envelope.StageSend, nil
	case envelope.StageSend:
		return envelope.StageNone, nil
	}
	return envelope.StageNone, fmt.Errorf("%w: unknown stage_origin %q", ErrUnroutable, env.StageOrigin)
}

// Router is the dispatch table from stage to processor.
type Router struct {
	mu    sync.RWMutex
	table map[envelope.Stage]stages.Processor
}

// NewRouter creates a router holding procs.
func NewRouter(procs map[envelope.Stage]stages.Processor) *Router {
	r := &Router{table: make(map[envelope.Stage]stages.Processor, len(procs))}
	for st, p := range procs {
		r.table[st] = p
	}
	return r
}

// Register adds or replaces the processor for its stage.
func (r *Router) Register(p stages.Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[p.Stage()] = p
}

// Handler returns the processor for stage.
func (r *Router) Handler(stage envelope.Stage) (stages.Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.table[stage]
	return p, ok
}

// Stages lists the registered stages in pipeline order.
func (r *Router) Stages() []envelope.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]envelope.Stage, 0, len(r.table))
	for _, st := range envelope.Stages {
		if _, ok := r.table[st]; ok {
			out = append(out, st)
		}
	}
	return out
}
