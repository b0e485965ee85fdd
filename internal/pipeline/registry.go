package pipeline

import (
	"fmt"

	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// Policy decides what a stage failure does to the run
type Policy int

const (
	// Abort ends the run with the stage error as the pipeline error
	Abort Policy = iota
	// Continue records the error as advisory and proceeds
	Continue
)

func (p Policy) String() string {
	if p == Continue {
		return "continue"
	}
	return "abort"
}

// StageDefinition describes how the orchestrator treats a stage
type StageDefinition struct {
	ID         types.StageID
	Policy     Policy
	Automatic  bool
	Dependency []types.StageID

	// SkipIf reports, before the stage starts, that it has nothing to do.
	// A skipped stage completes with a skipped summary.
	SkipIf func(*State) (reason string, skip bool)
}

// StageRegistry holds the definition of every non-orchestrator stage
var StageRegistry = map[types.StageID]StageDefinition{
	types.StageIngest: {
		ID:        types.StageIngest,
		Policy:    Abort,
		Automatic: true,
	},
	types.StageInfer: {
		ID:         types.StageInfer,
		Policy:     Abort,
		Automatic:  true,
		Dependency: []types.StageID{types.StageIngest},
	},
	types.StageDispatch: {
		ID:         types.StageDispatch,
		Policy:     Continue,
		Automatic:  true,
		SkipIf:     noFindings,
		Dependency: []types.StageID{types.StageInfer},
	},
	types.StageSchedule: {
		ID:     types.StageSchedule,
		Policy: Continue,
	},
	types.StageConversational: {
		ID:     types.StageConversational,
		Policy: Continue,
	},
}

// AutomaticOrder is the fixed order of an upload-triggered run
func AutomaticOrder() []types.StageID {
	return []types.StageID{types.StageIngest, types.StageInfer, types.StageDispatch}
}

// PolicyFor returns the failure policy of id. Unknown stages abort.
func PolicyFor(id types.StageID) Policy {
	if def, ok := StageRegistry[id]; ok {
		return def.Policy
	}
	return Abort
}

func noFindings(s *State) (string, bool) {
	if len(s.Findings()) == 0 {
		return "no findings to dispatch", true
	}
	return "", false
}

// Stages maps each stage id to its implementation
type Stages map[types.StageID]Stage

// Validate checks that every automatic stage is bound and that each
// implementation reports the id it is registered under.
func (s Stages) Validate() error {
	for _, id := range AutomaticOrder() {
		if _, ok := s[id]; !ok {
			return fmt.Errorf("no implementation for stage %s", id)
		}
	}
	for id, stage := range s {
		if stage == nil {
			return fmt.Errorf("nil implementation for stage %s", id)
		}
		if stage.ID() != id {
			return fmt.Errorf("stage registered as %s reports id %s", id, stage.ID())
		}
		if _, ok := StageRegistry[id]; !ok {
			return fmt.Errorf("stage %s has no definition", id)
		}
	}
	return nil
}
