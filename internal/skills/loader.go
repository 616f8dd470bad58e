package skills

import (
	"context"

	"github.com/loomworks/loom/internal/dispatch"
)

// RegisterCataloged installs catalog entries as prompt skills.
// Dispatching one returns its content as the observation, so saved and
// evolved generations stay addressable without a restart.
func RegisterCataloged(reg *dispatch.Registry, entries []*Entry) {
	for _, e := range entries {
		entry := e
		reg.Register(&dispatch.Definition{
			Name:        entry.Name,
			Description: entry.Description,
			Component:   dispatch.ComponentSkill,
			Handler: func(context.Context, map[string]string) dispatch.Observation {
				return dispatch.Success(entry.Content)
			},
		})
	}
}
