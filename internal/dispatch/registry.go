// Package dispatch is the single choke point for skill execution. Every
// action the loop plans passes through the Mediator, which enforces the
// allow-list, validates parameters, applies timeouts, and always returns
// exactly one Observation.
package dispatch

import (
	"context"
	"sync"
)

// Component classifies what a skill may touch. Sandboxed skills operate
// inside the project root; core operations are trusted and always require
// human approval before a patch touching them is applied.
const (
	ComponentSkill = "skill"
	ComponentCore  = "core"
)

// Observation is the uniform result of every dispatch. OK and Err are
// mutually exclusive in practice but both are always populated on the wire.
type Observation struct {
	OK  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
	Obs string `json:"obs"`
}

// Failure builds a failed Observation.
func Failure(err string) Observation {
	return Observation{OK: false, Err: err}
}

// Success builds a successful Observation.
func Success(obs string) Observation {
	return Observation{OK: true, Obs: obs}
}

// Handler executes one skill invocation.
type Handler func(ctx context.Context, params map[string]string) Observation

// ParamSpec declares one parameter a skill accepts.
type ParamSpec struct {
	Name        string `json:"name"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Definition is one allow-listed skill.
type Definition struct {
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Component    string      `json:"component"`
	RequiresHITL bool        `json:"requires_hitl"`
	Params       []ParamSpec `json:"params,omitempty"`
	Handler      Handler     `json:"-"`
}

// Registry is the allow-list. Mutation happens at startup and when the
// evolve path installs a new generation, so reads vastly dominate.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]*Definition)}
}

// Register adds or replaces a skill definition. Core components always
// carry the HITL requirement regardless of what the definition says.
func (r *Registry) Register(def *Definition) {
	if def.Component == "" {
		def.Component = ComponentSkill
	}
	if def.Component == ComponentCore {
		def.RequiresHITL = true
	}
	r.mu.Lock()
	r.skills[def.Name] = def
	r.mu.Unlock()
}

// Get looks up a skill by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.skills[name]
	return def, ok
}

// List returns every registered skill definition.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*Definition, 0, len(r.skills))
	for _, def := range r.skills {
		defs = append(defs, def)
	}
	return defs
}

// Names returns the registered skill names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	return names
}

// MissingRequired returns the names of required params absent from the
// given invocation.
func (d *Definition) MissingRequired(params map[string]string) []string {
	var missing []string
	for _, p := range d.Params {
		if !p.Required {
			continue
		}
		if _, ok := params[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	return missing
}
