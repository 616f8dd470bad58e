package provider

import (
	"context"
	"fmt"
	"sync"
)

// StubProvider replays a fixed script of steps. After the script runs out
// it keeps returning a final step, so loops terminate deterministically.
// Used for mock reasoning mode and in tests.
type StubProvider struct {
	id    string
	mu    sync.Mutex
	steps []*Step
	next  int
}

// NewStubProvider creates a scripted provider.
func NewStubProvider(id string, steps []*Step) *StubProvider {
	return &StubProvider{id: id, steps: steps}
}

func (p *StubProvider) ID() string   { return p.id }
func (p *StubProvider) Name() string { return "stub" }

// Propose returns the next scripted step.
func (p *StubProvider) Propose(_ context.Context, _ *Request) (*Step, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= len(p.steps) {
		return &Step{Thought: "script exhausted", IsFinal: true}, nil
	}
	step := p.steps[p.next]
	p.next++
	return step, nil
}

// HealthCheck always succeeds.
func (p *StubProvider) HealthCheck(context.Context) error { return nil }

// ErrProvider always fails Propose with the given error. Used to exercise
// fallback chains in tests.
type ErrProvider struct {
	id  string
	err error
}

// NewErrProvider creates a provider whose Propose always fails.
func NewErrProvider(id string, err error) *ErrProvider {
	if err == nil {
		err = fmt.Errorf("provider %s unavailable", id)
	}
	return &ErrProvider{id: id, err: err}
}

func (p *ErrProvider) ID() string   { return p.id }
func (p *ErrProvider) Name() string { return "err" }

func (p *ErrProvider) Propose(context.Context, *Request) (*Step, error) { return nil, p.err }

func (p *ErrProvider) HealthCheck(context.Context) error { return p.err }
