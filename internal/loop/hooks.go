package loop

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/loomworks/loom/internal/dispatch"
)

// Dispatcher is the slice of the mediator the hooks need.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID, reasoningID, skillName string, params map[string]string, timeoutMS int) dispatch.Observation
}

// Hook runs after a session converges, before the summary is finalized.
// The returned lines are appended to the summary text.
type Hook interface {
	AfterConverge(ctx context.Context, sessionID string, d Dispatcher) []string
}

// ChainStep is one deterministic invocation in a post-convergence chain.
type ChainStep struct {
	Skill  string            `json:"skill"`
	Params map[string]string `json:"params,omitempty"`
}

// ChainHook forces a fixed action chain after convergence, such as
// always writing the output file or always running a verification pass.
// The chain runs to completion even when a step fails; each step's
// outcome is reported in the summary.
type ChainHook struct {
	Steps []ChainStep
}

// AfterConverge dispatches every chain step in order.
func (h *ChainHook) AfterConverge(ctx context.Context, sessionID string, d Dispatcher) []string {
	lines := make([]string, 0, len(h.Steps))
	for _, step := range h.Steps {
		obs := d.Dispatch(ctx, sessionID, uuid.New().String(), step.Skill, step.Params, 0)
		if obs.OK {
			lines = append(lines, fmt.Sprintf("%s: %s", step.Skill, obs.Obs))
		} else {
			lines = append(lines, fmt.Sprintf("%s failed: %s", step.Skill, obs.Err))
		}
	}
	return lines
}
