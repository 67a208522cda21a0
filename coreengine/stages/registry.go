package stages

import (
	"fmt"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/tools"
)

// Build creates every stage. toolOverrides replaces the default tool list of
// a generating stage; stages missing from it keep their defaults.
func Build(deps Deps, sink Sink, toolOverrides map[envelope.Stage][]tools.Name) (map[envelope.Stage]Processor, error) {
	out := make(map[envelope.Stage]Processor, len(envelope.Stages))
	for _, st := range envelope.Stages {
		if st == envelope.StageSend {
			out[st] = NewSend(sink, deps.Logger)
			continue
		}
		spec, ok := DefaultSpec(st)
		if !ok {
			return nil, fmt.Errorf("stage %q has no implementation", st)
		}
		if names, ok := toolOverrides[st]; ok {
			spec.Tools = names
		}
		p, err := NewGenerating(spec, deps)
		if err != nil {
			return nil, err
		}
		out[st] = p
	}
	return out, nil
}
