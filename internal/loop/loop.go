// Package loop implements the recursive reasoning loop: ask the provider
// for a step, dispatch the planned action, fold the observation back into
// context, repeat until the provider signals done or the depth cap trips.
package loop

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/loomworks/loom/internal/audit"
	"github.com/loomworks/loom/internal/dispatch"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/memory"
	"github.com/loomworks/loom/internal/provider"
	"github.com/loomworks/loom/internal/selfheal"
	"go.uber.org/zap"
)

// Default loop bounds.
const (
	DefaultMaxDepth   = 5
	DefaultContextCap = 10000
	DefaultMaxTurns   = 3
)

// Config bounds a runner.
type Config struct {
	MaxDepth   int
	ContextCap int
	MaxTurns   int
}

// Proposer is the slice of the provider surface the loop needs.
type Proposer interface {
	Propose(ctx context.Context, req *provider.Request) (*provider.Step, error)
}

// StepRecord is one completed iteration in a session trace.
type StepRecord struct {
	ReasoningID string `json:"reasoning_id"`
	Depth       int    `json:"depth"`
	Thought     string `json:"thought"`
	Skill       string `json:"skill,omitempty"`
	Observation string `json:"observation,omitempty"`
	OK          bool   `json:"ok"`
}

// Summary is the terminal result of one loop run. Forced marks a
// depth-cap termination; it is never reported as normal convergence.
type Summary struct {
	SessionID string       `json:"session_id"`
	Text      string       `json:"text"`
	Converged bool         `json:"converged"`
	Forced    bool         `json:"forced,omitempty"`
	Error     string       `json:"error,omitempty"`
	Steps     []StepRecord `json:"steps,omitempty"`
}

// Runner drives reasoning sessions. One Runner serves many concurrent
// sessions; per-session state lives on the stack of each RunStep call.
type Runner struct {
	proposer Proposer
	mediator *dispatch.Mediator
	mem      *memory.Facade
	heal     *selfheal.Watchdog
	hook     Hook
	cfg      Config
	audit    *audit.Log
	hub      *events.Hub
	logger   *zap.Logger
}

// NewRunner creates a loop runner. heal and hook may be nil.
func NewRunner(proposer Proposer, mediator *dispatch.Mediator, mem *memory.Facade, heal *selfheal.Watchdog, hook Hook, cfg Config, auditLog *audit.Log, hub *events.Hub, logger *zap.Logger) *Runner {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.ContextCap <= 0 {
		cfg.ContextCap = DefaultContextCap
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	return &Runner{
		proposer: proposer,
		mediator: mediator,
		mem:      mem,
		heal:     heal,
		hook:     hook,
		cfg:      cfg,
		audit:    auditLog,
		hub:      hub,
		logger:   logger,
	}
}

// RunStep runs one session from the given starting depth to a terminal
// summary. It never panics or returns an error to the caller; every
// failure is encoded in the summary.
func (r *Runner) RunStep(ctx context.Context, query, contextText string, depth int) (summary Summary) {
	sessionID := uuid.New().String()
	summary.SessionID = sessionID

	defer func() {
		if rec := recover(); rec != nil {
			failure := fmt.Sprintf("panic in reasoning loop: %v", rec)
			r.logger.Error("loop panicked", zap.String("session", sessionID), zap.Any("panic", rec))
			r.routeToHeal(ctx, sessionID, "", failure)
			summary.Converged = false
			summary.Error = failure
			summary.Text = "session aborted: " + failure
			r.hub.Emit(events.SessionEnded, sessionID, "", map[string]any{
				"converged": false, "error": failure,
			})
		}
	}()

	r.hub.Emit(events.SessionStarted, sessionID, "", map[string]any{
		"query": query, "depth": depth,
	})

	if depth < 0 {
		depth = 0
	}
	lastThought := ""
	converged := false

	for depth < r.cfg.MaxDepth {
		reasoningID := uuid.New().String()

		step, err := r.proposer.Propose(ctx, &provider.Request{
			Goal:    query,
			Context: contextText,
			Skills:  r.mediator.Registry().Names(),
			Depth:   depth,
		})
		if err != nil {
			failure := fmt.Sprintf("reasoning provider failed: %v", err)
			r.routeToHeal(ctx, sessionID, "", failure)
			summary.Error = failure
			summary.Text = "session aborted: " + failure
			r.hub.Emit(events.SessionEnded, sessionID, reasoningID, map[string]any{
				"converged": false, "error": failure, "query": query, "text": summary.Text,
			})
			return summary
		}

		r.audit.Line("THOUGHT: %s", step.Thought)
		r.hub.Emit(events.Thought, sessionID, reasoningID, map[string]any{"thought": step.Thought})
		lastThought = step.Thought

		if step.IsFinal {
			converged = true
			summary.Steps = append(summary.Steps, StepRecord{
				ReasoningID: reasoningID, Depth: depth, Thought: step.Thought, OK: true,
			})
			break
		}

		if step.Action == nil {
			// Thought-only step: fold the thought and keep reasoning.
			summary.Steps = append(summary.Steps, StepRecord{
				ReasoningID: reasoningID, Depth: depth, Thought: step.Thought, OK: true,
			})
			contextText = r.foldThought(contextText, step.Thought)
			depth++
			continue
		}

		r.hub.Emit(events.ActionPlanned, sessionID, reasoningID, map[string]any{
			"skill": step.Action.SkillName, "params": step.Action.Params,
		})

		obs := r.mediator.Dispatch(ctx, sessionID, reasoningID, step.Action.SkillName, step.Action.Params, 0)

		summary.Steps = append(summary.Steps, StepRecord{
			ReasoningID: reasoningID,
			Depth:       depth,
			Thought:     step.Thought,
			Skill:       step.Action.SkillName,
			Observation: obs.Obs,
			OK:          obs.OK,
		})

		contextText = r.fold(contextText, step.Thought, obs)
		depth++
	}

	if converged {
		summary.Converged = true
		summary.Text = lastThought
		if r.hook != nil {
			extra := r.hook.AfterConverge(ctx, sessionID, r.mediator)
			if len(extra) > 0 {
				summary.Text += "\n" + strings.Join(extra, "\n")
			}
		}
		r.hub.Emit(events.Converged, sessionID, "", map[string]any{"depth": depth})
	} else {
		// Depth cap tripped. This is a circuit breaker, reported as such,
		// and it does not feed the heal pipeline: hitting the cap is a
		// bounded outcome, not an unexpected error.
		summary.Converged = false
		summary.Forced = true
		summary.Text = fmt.Sprintf("forced termination at depth cap %d without convergence; last thought: %s",
			r.cfg.MaxDepth, lastThought)
	}

	if r.mem != nil {
		text := summary.Text
		r.mem.Access(2, "session:"+sessionID+":summary", &text)
	}

	r.hub.Emit(events.SessionEnded, sessionID, "", map[string]any{
		"converged": summary.Converged, "forced": summary.Forced,
		"query": query, "text": summary.Text, "error": summary.Error,
	})
	return summary
}

// RunMultiTurn chains RunStep up to maxTurns, feeding each summary into
// the next turn's context. Stops at the first converged turn. The
// configured MaxTurns only backs a missing or non-positive request; a
// caller asking for more turns gets them.
func (r *Runner) RunMultiTurn(ctx context.Context, query, contextText string, maxTurns int) []Summary {
	if maxTurns <= 0 {
		maxTurns = r.cfg.MaxTurns
	}

	var summaries []Summary
	for turn := 0; turn < maxTurns; turn++ {
		s := r.RunStep(ctx, query, contextText, 0)
		summaries = append(summaries, s)
		if s.Converged {
			break
		}
		contextText = capTail(contextText+"\nPrevious turn: "+s.Text, r.cfg.ContextCap)
	}
	return summaries
}

// foldThought appends a thought with no observation to the context.
func (r *Runner) foldThought(contextText, thought string) string {
	if contextText != "" {
		contextText += "\n"
	}
	return capTail(contextText+"Thought: "+thought, r.cfg.ContextCap)
}

// fold appends a thought and its observation to the context, keeping the
// newest ContextCap characters.
func (r *Runner) fold(contextText, thought string, obs dispatch.Observation) string {
	var b strings.Builder
	b.WriteString(contextText)
	if contextText != "" {
		b.WriteString("\n")
	}
	b.WriteString("Thought: ")
	b.WriteString(thought)
	b.WriteString("\n")
	if obs.OK {
		b.WriteString("Observation: ")
		b.WriteString(obs.Obs)
	} else {
		b.WriteString("Observation failed: ")
		b.WriteString(obs.Err)
	}
	return capTail(b.String(), r.cfg.ContextCap)
}

// capTail keeps the last n characters, truncating the oldest content.
func capTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func (r *Runner) routeToHeal(ctx context.Context, sessionID, skillName, failure string) {
	if r.heal == nil {
		return
	}
	p := r.heal.Capture(ctx, sessionID, skillName, failure)
	if _, err := r.heal.Heal(ctx, p.ID); err != nil {
		r.logger.Warn("heal cycle failed", zap.String("patch", p.ID), zap.Error(err))
	}
}
