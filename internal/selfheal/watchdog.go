// Package selfheal captures loop failures, drafts repair patches, and
// walks them through a gated lifecycle. Patches touching trusted core
// components never apply without a human decision.
package selfheal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loomworks/loom/internal/audit"
	"github.com/loomworks/loom/internal/dispatch"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/memory"
	"go.uber.org/zap"
)

// State is a patch lifecycle stage.
type State string

const (
	StateCaptured State = "captured"
	StateProposed State = "proposed"
	StateGated    State = "gated"
	StateApproved State = "approved"
	StateDenied   State = "denied"
	StateApplied  State = "applied"
	StateRejected State = "rejected"
)

// maxPatchContent caps stored patch content.
const maxPatchContent = 8192

// Patch is one captured failure and its proposed repair.
type Patch struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	SkillName string    `json:"skill_name"`
	Component string    `json:"component"`
	Failure   string    `json:"failure"`
	RootCause string    `json:"root_cause,omitempty"`
	Content   string    `json:"content"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	DecidedAt time.Time `json:"decided_at,omitempty"`
}

// Searcher is the slice of the semantic tier root-cause analysis needs.
type Searcher interface {
	Search(ctx context.Context, query, kbName string, limit int, queryVector []float32) ([]memory.Hit, error)
}

// EvolveFunc installs a patch as a new skill generation and returns the
// evolved skill's name.
type EvolveFunc func(name, patch string) (string, error)

// TestRunner validates a patch before it takes effect. A non-nil error
// rejects the patch.
type TestRunner func(ctx context.Context, p *Patch) error

// Config controls the watchdog.
type Config struct {
	AutoEvolve    bool
	ForceTestFail bool
	TestRunner    TestRunner
}

// defaultTestRunner is the validation run when no runner is injected: the
// drafted patch must carry content within the cap.
func defaultTestRunner(_ context.Context, p *Patch) error {
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("patch %s has no content", p.ID)
	}
	if len(p.Content) > maxPatchContent {
		return fmt.Errorf("patch %s exceeds content cap", p.ID)
	}
	return nil
}

// Watchdog owns the patch lifecycle.
type Watchdog struct {
	mu      sync.RWMutex
	patches map[string]*Patch

	gate     Gate
	semantic Searcher
	registry *dispatch.Registry
	evolve   EvolveFunc
	cfg      Config
	audit    *audit.Log
	hub      *events.Hub
	logger   *zap.Logger
}

// NewWatchdog creates a watchdog. semantic and evolve may be nil;
// root-cause analysis and auto-evolution degrade to no-ops.
func NewWatchdog(gate Gate, semantic Searcher, registry *dispatch.Registry, evolve EvolveFunc, cfg Config, auditLog *audit.Log, hub *events.Hub, logger *zap.Logger) *Watchdog {
	if gate == nil {
		gate = StaticGate{Approve: false}
	}
	if cfg.TestRunner == nil {
		cfg.TestRunner = defaultTestRunner
	}
	return &Watchdog{
		patches:  make(map[string]*Patch),
		gate:     gate,
		semantic: semantic,
		registry: registry,
		evolve:   evolve,
		cfg:      cfg,
		audit:    auditLog,
		hub:      hub,
		logger:   logger,
	}
}

// Capture records a failure and drafts a patch for it. The patch starts
// in the captured state; Heal advances it.
func (w *Watchdog) Capture(ctx context.Context, sessionID, skillName, failure string) *Patch {
	p := &Patch{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		SkillName: skillName,
		Failure:   failure,
		State:     StateCaptured,
		CreatedAt: time.Now().UTC(),
	}
	if def, ok := w.registry.Get(skillName); ok {
		p.Component = def.Component
	} else {
		p.Component = dispatch.ComponentSkill
	}

	p.RootCause = w.rootCause(ctx, failure)
	p.Content = draftPatch(p)
	if len(p.Content) > maxPatchContent {
		p.Content = p.Content[:maxPatchContent]
	}
	p.State = StateProposed

	w.mu.Lock()
	w.patches[p.ID] = p
	w.mu.Unlock()

	w.logger.Info("captured failure",
		zap.String("patch", p.ID),
		zap.String("skill", skillName),
		zap.String("component", p.Component))
	w.hub.Emit(events.Error, sessionID, "", map[string]any{
		"patch": p.ID, "skill": skillName, "failure": failure,
	})
	return p
}

// rootCause searches past failures in the core knowledge base for
// context. A missing or failing semantic tier just leaves the field
// empty.
func (w *Watchdog) rootCause(ctx context.Context, failure string) string {
	if w.semantic == nil {
		return ""
	}
	hits, err := w.semantic.Search(ctx, failure, "kb_core", 3, nil)
	if err != nil {
		w.logger.Warn("root cause search failed", zap.Error(err))
		return ""
	}
	if len(hits) == 0 {
		return ""
	}
	return hits[0].ContentSnippet
}

func draftPatch(p *Patch) string {
	content := fmt.Sprintf("failure: %s\nskill: %s\ncomponent: %s\n", p.Failure, p.SkillName, p.Component)
	if p.RootCause != "" {
		content += "prior context: " + p.RootCause + "\n"
	}
	return content
}

// Heal runs the lifecycle on a captured patch to a terminal state: the
// human gate for anything requiring approval, then validation and
// application. Returns the patch in its final state.
func (w *Watchdog) Heal(ctx context.Context, patchID string) (*Patch, error) {
	w.mu.RLock()
	p, ok := w.patches[patchID]
	w.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown patch %s", patchID)
	}

	if w.requiresApproval(p) {
		w.setState(p, StateGated)
		approved, err := w.gate.Decide(ctx, p.ID)
		if err != nil {
			w.logger.Warn("gate error, treating as denial", zap.Error(err))
			approved = false
		}
		if !approved {
			w.finish(p, StateDenied, "approval denied or timed out")
			return p, nil
		}
		w.setState(p, StateApproved)
	}

	w.apply(ctx, p)
	return p, nil
}

func (w *Watchdog) requiresApproval(p *Patch) bool {
	if p.Component == dispatch.ComponentCore {
		return true
	}
	if def, ok := w.registry.Get(p.SkillName); ok {
		return def.RequiresHITL
	}
	return false
}

// apply runs the test gate and, on success, lands the patch. The forced
// failure mode short-circuits the test gate with an internal error but
// still records the attempt like any other rejection.
func (w *Watchdog) apply(ctx context.Context, p *Patch) {
	if w.cfg.ForceTestFail {
		w.finish(p, StateRejected, "internal error: forced test failure")
		return
	}
	if err := w.cfg.TestRunner(ctx, p); err != nil {
		w.finish(p, StateRejected, fmt.Sprintf("validation failed: %v", err))
		return
	}

	if w.cfg.AutoEvolve && w.evolve != nil && p.Component != dispatch.ComponentCore {
		evolved, err := w.evolve(p.SkillName, p.Content)
		if err != nil {
			// An evolution failure never rolls back the decision; the
			// patch still applied, the new generation just did not land.
			w.logger.Warn("auto-evolution failed",
				zap.String("patch", p.ID), zap.Error(err))
		} else {
			w.logger.Info("skill evolved",
				zap.String("patch", p.ID), zap.String("evolved", evolved))
		}
	}
	w.finish(p, StateApplied, "")
}

func (w *Watchdog) setState(p *Patch, s State) {
	w.mu.Lock()
	p.State = s
	w.mu.Unlock()
}

func (w *Watchdog) finish(p *Patch, s State, reason string) {
	w.mu.Lock()
	p.State = s
	p.DecidedAt = time.Now().UTC()
	w.mu.Unlock()

	w.audit.Line("HEAL: patch=%s skill=%s state=%s reason=%s", p.ID, p.SkillName, s, reason)
	w.hub.Emit(events.Error, p.SessionID, "", map[string]any{
		"patch": p.ID, "skill": p.SkillName, "component": p.Component,
		"state": string(s), "reason": reason,
	})
}

// Simulate drives a synthetic failure through the full lifecycle and
// returns the patch in its terminal state. The closing audit line marks
// the cycle as a drill.
func (w *Watchdog) Simulate(ctx context.Context) (*Patch, error) {
	p := w.Capture(ctx, "simulation", "simulated_skill", "synthetic failure for heal drill")
	healed, err := w.Heal(ctx, p.ID)
	w.audit.Line("Heal cycle simulated")
	return healed, err
}

// Get returns a patch by ID.
func (w *Watchdog) Get(id string) (*Patch, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.patches[id]
	return p, ok
}

// Pending lists patches not yet in a terminal state.
func (w *Watchdog) Pending() []*Patch {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []*Patch
	for _, p := range w.patches {
		switch p.State {
		case StateApplied, StateDenied, StateRejected:
		default:
			out = append(out, p)
		}
	}
	return out
}
