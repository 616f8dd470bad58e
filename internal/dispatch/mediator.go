package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/audit"
	"github.com/loomworks/loom/internal/events"
	"go.uber.org/zap"
)

// Dispatch modes. Local runs handlers in-process; mediated forwards the
// invocation over the bus to a worker. The mode is fixed when the
// Mediator is constructed.
const (
	ModeLocal    = "local"
	ModeMediated = "mediated"
)

// Default timeout bounds in milliseconds. Requested timeouts are clamped
// into (0, MaxTimeoutMS].
const (
	DefaultTimeoutMS = 10000
	MaxTimeoutMS     = 60000
)

// ErrSkillNotFound is the exact message returned when a skill name misses
// the allow-list.
const ErrSkillNotFound = "Skill not in registry"

// ErrTimedOut is the exact message returned when a handler overruns its
// deadline.
const ErrTimedOut = "Execution timed out"

// Config controls a Mediator.
type Config struct {
	Mode             string
	MockMode         bool
	DefaultTimeoutMS int
	MaxTimeoutMS     int
}

// Mediator executes skills against the allow-list. Exactly one Observation
// comes back per call, whatever happens underneath.
type Mediator struct {
	registry *Registry
	bus      *Bus
	cfg      Config
	audit    *audit.Log
	hub      *events.Hub
	logger   *zap.Logger
}

// NewMediator creates a mediator over the given registry. bus may be nil
// for local mode.
func NewMediator(registry *Registry, bus *Bus, cfg Config, auditLog *audit.Log, hub *events.Hub, logger *zap.Logger) *Mediator {
	if cfg.Mode == "" {
		cfg.Mode = ModeLocal
	}
	if cfg.DefaultTimeoutMS <= 0 {
		cfg.DefaultTimeoutMS = DefaultTimeoutMS
	}
	if cfg.MaxTimeoutMS <= 0 {
		cfg.MaxTimeoutMS = MaxTimeoutMS
	}
	return &Mediator{
		registry: registry,
		bus:      bus,
		cfg:      cfg,
		audit:    auditLog,
		hub:      hub,
		logger:   logger,
	}
}

// Registry exposes the underlying allow-list.
func (m *Mediator) Registry() *Registry { return m.registry }

// MockMode reports whether dispatches are short-circuited.
func (m *Mediator) MockMode() bool { return m.cfg.MockMode }

// Dispatch runs one skill invocation and returns its Observation. The
// allow-list is consulted before anything else, including mock mode.
func (m *Mediator) Dispatch(ctx context.Context, sessionID, reasoningID, skillName string, params map[string]string, timeoutMS int) Observation {
	def, ok := m.registry.Get(skillName)
	if !ok {
		m.hub.Emit(events.Error, sessionID, reasoningID, map[string]any{
			"skill": skillName, "err": ErrSkillNotFound,
		})
		return Failure(ErrSkillNotFound)
	}

	m.audit.Line("EXECUTING: %s mock=%v reasoning_id=%s", skillName, m.cfg.MockMode, reasoningID)
	m.hub.Emit(events.ActionStarted, sessionID, reasoningID, map[string]any{
		"skill": skillName, "mock": m.cfg.MockMode,
	})

	obs := m.execute(ctx, def, skillName, params, timeoutMS)

	m.audit.Line("OBSERVATION: ok=%v err=%s obs=%s", obs.OK, obs.Err, truncate(obs.Obs, 512))
	m.hub.Emit(events.ActionCompleted, sessionID, reasoningID, map[string]any{
		"skill": skillName, "ok": obs.OK, "err": obs.Err,
	})
	return obs
}

func (m *Mediator) execute(ctx context.Context, def *Definition, skillName string, params map[string]string, timeoutMS int) Observation {
	if m.cfg.MockMode {
		return Success(fmt.Sprintf("Observation: mock executed skill=%s", skillName))
	}

	if missing := def.MissingRequired(params); len(missing) > 0 {
		return Failure(fmt.Sprintf("missing required params: %s", strings.Join(missing, ", ")))
	}

	if m.cfg.Mode == ModeMediated {
		if m.bus == nil {
			return Failure("mediated mode configured without a bus")
		}
		return m.bus.Call(ctx, skillName, params, m.clampTimeout(timeoutMS))
	}

	if def.Handler == nil {
		return Failure(fmt.Sprintf("skill %s has no handler", skillName))
	}
	return m.runLocal(ctx, def, params, m.clampTimeout(timeoutMS))
}

func (m *Mediator) clampTimeout(timeoutMS int) time.Duration {
	if timeoutMS <= 0 {
		timeoutMS = m.cfg.DefaultTimeoutMS
	}
	if timeoutMS > m.cfg.MaxTimeoutMS {
		timeoutMS = m.cfg.MaxTimeoutMS
	}
	return time.Duration(timeoutMS) * time.Millisecond
}

// runLocal executes the handler on its own goroutine so a hung skill
// cannot stall the loop. The result channel is buffered: a late handler
// finishes into the buffer and gets collected, never leaked as a send
// on a dead channel.
func (m *Mediator) runLocal(ctx context.Context, def *Definition, params map[string]string, timeout time.Duration) Observation {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Observation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("skill handler panicked",
					zap.String("skill", def.Name), zap.Any("panic", r))
				done <- Failure(fmt.Sprintf("skill panicked: %v", r))
			}
		}()
		done <- def.Handler(ctx, params)
	}()

	select {
	case obs := <-done:
		return obs
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return Failure(ErrTimedOut)
		}
		return Failure(ctx.Err().Error())
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
