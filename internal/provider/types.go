// Package provider abstracts the reasoning backends that propose loop
// steps. A backend returns one structured Step per call; the loop decides
// what to do with it.
package provider

import (
	"context"
	"time"
)

// Provider defines the interface for reasoning backends.
type Provider interface {
	ID() string
	Name() string
	Propose(ctx context.Context, req *Request) (*Step, error)
	HealthCheck(ctx context.Context) error
}

// Request carries everything the backend needs to propose the next step.
type Request struct {
	Goal        string   `json:"goal"`
	Context     string   `json:"context"`
	Skills      []string `json:"skills"`
	Depth       int      `json:"depth"`
	Temperature float64  `json:"temperature,omitempty"`
}

// ActionSpec names one skill invocation. Params are flat string pairs;
// numeric and boolean values from the backend are coerced on decode.
type ActionSpec struct {
	SkillName string            `json:"skill_name"`
	Params    map[string]string `json:"params,omitempty"`
}

// Step is one structured reasoning proposal. IsFinal means the backend
// considers the goal met and Action must be ignored.
type Step struct {
	Thought string      `json:"thought"`
	Action  *ActionSpec `json:"action,omitempty"`
	IsFinal bool        `json:"is_final"`
}

// Config holds configuration for a provider instance.
type Config struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Name     string        `json:"name"`
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}
