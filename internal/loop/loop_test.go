package loop

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loomworks/loom/internal/audit"
	"github.com/loomworks/loom/internal/dispatch"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/memory"
	"github.com/loomworks/loom/internal/provider"
	"github.com/loomworks/loom/internal/selfheal"
	"go.uber.org/zap"
)

type fixture struct {
	runner     *Runner
	mediator   *dispatch.Mediator
	registry   *dispatch.Registry
	mem        *memory.Facade
	dispatches *int
}

func newFixture(t *testing.T, proposer Proposer, cfg Config) *fixture {
	t.Helper()
	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.log"), zap.NewNop())
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	count := 0
	reg := dispatch.NewRegistry()
	reg.Register(&dispatch.Definition{
		Name: "list_dir",
		Handler: func(context.Context, map[string]string) dispatch.Observation {
			count++
			return dispatch.Success("a.txt\nb.txt")
		},
	})
	reg.Register(&dispatch.Definition{
		Name: "peek_file",
		Handler: func(context.Context, map[string]string) dispatch.Observation {
			count++
			return dispatch.Success("first lines of a.txt")
		},
	})
	reg.Register(&dispatch.Definition{
		Name: "save_summary",
		Handler: func(context.Context, map[string]string) dispatch.Observation {
			count++
			return dispatch.Success("summary saved")
		},
	})

	hub := events.NewHub(zap.NewNop())
	med := dispatch.NewMediator(reg, nil, dispatch.Config{}, log, hub, zap.NewNop())
	mem := memory.NewFacade(hub, zap.NewNop())
	runner := NewRunner(proposer, med, mem, nil, nil, cfg, log, hub, zap.NewNop())
	return &fixture{runner: runner, mediator: med, registry: reg, mem: mem, dispatches: &count}
}

func action(skill string) *provider.Step {
	return &provider.Step{
		Thought: "use " + skill,
		Action:  &provider.ActionSpec{SkillName: skill, Params: map[string]string{}},
	}
}

func TestRunStepEndToEnd(t *testing.T) {
	stub := provider.NewStubProvider("stub", []*provider.Step{
		action("list_dir"),
		action("peek_file"),
		{Thought: "goal met", IsFinal: true},
	})
	f := newFixture(t, stub, Config{})
	f.runner.hook = &ChainHook{Steps: []ChainStep{{Skill: "save_summary"}}}

	s := f.runner.RunStep(context.Background(), "list files, peek first match, save summary", "", 0)

	if !s.Converged {
		t.Fatalf("summary = %+v", s)
	}
	if s.Forced {
		t.Error("normal convergence must not be marked forced")
	}
	if *f.dispatches != 3 {
		t.Errorf("dispatch count = %d, want 3", *f.dispatches)
	}
	if len(s.Steps) != 3 {
		t.Fatalf("trace has %d steps, want 3", len(s.Steps))
	}
	for i := 1; i < len(s.Steps); i++ {
		if s.Steps[i].Depth <= s.Steps[i-1].Depth {
			t.Errorf("depth not monotonically increasing: %+v", s.Steps)
		}
	}
	if s.Steps[0].Observation != "a.txt\nb.txt" {
		t.Errorf("first observation = %q", s.Steps[0].Observation)
	}
	if res := f.mem.Access(2, "session:"+s.SessionID+":summary", nil); res.Data == "" {
		t.Error("summary not written to the working tier")
	}
}

func TestRunStepDepthCapForcesTermination(t *testing.T) {
	// Script never finishes, so the cap must trip.
	var steps []*provider.Step
	for i := 0; i < 20; i++ {
		steps = append(steps, action("list_dir"))
	}
	f := newFixture(t, provider.NewStubProvider("stub", steps), Config{MaxDepth: 3})

	s := f.runner.RunStep(context.Background(), "spin", "", 0)
	if s.Converged {
		t.Fatal("capped session must not converge")
	}
	if !s.Forced {
		t.Fatal("capped session must be flagged forced")
	}
	if len(s.Steps) != 3 {
		t.Errorf("trace has %d steps, want 3", len(s.Steps))
	}
	if !strings.Contains(s.Text, "forced termination") {
		t.Errorf("text = %q", s.Text)
	}
}

func TestRunStepProviderErrorIsNonFatal(t *testing.T) {
	f := newFixture(t, provider.NewErrProvider("down", errors.New("model offline")), Config{})

	s := f.runner.RunStep(context.Background(), "q", "", 0)
	if s.Converged {
		t.Fatal("should not converge")
	}
	if !strings.Contains(s.Error, "model offline") {
		t.Errorf("error = %q", s.Error)
	}
}

func TestRunStepProviderErrorRoutesToHeal(t *testing.T) {
	f := newFixture(t, provider.NewErrProvider("down", errors.New("model offline")), Config{})

	log, _ := audit.Open(filepath.Join(t.TempDir(), "heal.log"), zap.NewNop())
	t.Cleanup(func() { log.Close() })
	heal := selfheal.NewWatchdog(selfheal.StaticGate{Approve: true}, nil, f.registry, nil,
		selfheal.Config{}, log, events.NewHub(zap.NewNop()), zap.NewNop())
	f.runner.heal = heal

	f.runner.RunStep(context.Background(), "q", "", 0)

	// The captured patch reached a terminal state.
	if pending := heal.Pending(); len(pending) != 0 {
		t.Errorf("pending patches = %d, want lifecycle completed", len(pending))
	}
}

func TestRunStepThoughtOnlyStepContinues(t *testing.T) {
	stub := provider.NewStubProvider("stub", []*provider.Step{
		{Thought: "need to look around before acting"},
		action("list_dir"),
		{Thought: "done", IsFinal: true},
	})
	f := newFixture(t, stub, Config{})

	s := f.runner.RunStep(context.Background(), "q", "", 0)
	if !s.Converged {
		t.Fatalf("thought-only step must not abort the session: %+v", s)
	}
	if s.Error != "" {
		t.Errorf("error = %q", s.Error)
	}
	if len(s.Steps) != 3 {
		t.Fatalf("trace has %d steps, want 3", len(s.Steps))
	}
	if s.Steps[0].Skill != "" || !s.Steps[0].OK {
		t.Errorf("thought-only record = %+v", s.Steps[0])
	}
	if s.Steps[1].Observation != "a.txt\nb.txt" {
		t.Errorf("reasoning did not continue past the thought: %+v", s.Steps[1])
	}
}

func TestRunStepUnknownSkillKeepsReasoning(t *testing.T) {
	stub := provider.NewStubProvider("stub", []*provider.Step{
		action("not_registered"),
		{Thought: "recovered", IsFinal: true},
	})
	f := newFixture(t, stub, Config{})

	s := f.runner.RunStep(context.Background(), "q", "", 0)
	if !s.Converged {
		t.Fatalf("loop should survive a rejected dispatch: %+v", s)
	}
	if s.Steps[0].OK {
		t.Error("rejected dispatch should record a failed step")
	}
	if s.Steps[0].Observation != "" {
		t.Errorf("observation = %q", s.Steps[0].Observation)
	}
}

func TestRunStepStartDepthRespected(t *testing.T) {
	var steps []*provider.Step
	for i := 0; i < 10; i++ {
		steps = append(steps, action("list_dir"))
	}
	f := newFixture(t, provider.NewStubProvider("stub", steps), Config{MaxDepth: 5})

	s := f.runner.RunStep(context.Background(), "q", "", 3)
	if len(s.Steps) != 2 {
		t.Errorf("starting at depth 3 with cap 5 should run 2 steps, got %d", len(s.Steps))
	}
}

func TestFoldCapsContext(t *testing.T) {
	f := newFixture(t, provider.NewStubProvider("s", nil), Config{ContextCap: 50})

	ctx := strings.Repeat("x", 60)
	out := f.runner.fold(ctx, "think", dispatch.Success("see"))
	if len(out) != 50 {
		t.Errorf("folded context length = %d, want 50", len(out))
	}
	if !strings.HasSuffix(out, "Observation: see") {
		t.Errorf("newest content must survive truncation: %q", out)
	}
}

func TestRunMultiTurnStopsOnConvergence(t *testing.T) {
	stub := provider.NewStubProvider("stub", []*provider.Step{
		{Thought: "done immediately", IsFinal: true},
	})
	f := newFixture(t, stub, Config{MaxTurns: 3})

	summaries := f.runner.RunMultiTurn(context.Background(), "q", "", 3)
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
	if !summaries[0].Converged {
		t.Error("first turn should converge")
	}
}

func TestRunMultiTurnFeedsSummaryForward(t *testing.T) {
	// Each turn is forced at the cap, so all turns run.
	var steps []*provider.Step
	for i := 0; i < 30; i++ {
		steps = append(steps, action("list_dir"))
	}
	f := newFixture(t, provider.NewStubProvider("stub", steps), Config{MaxDepth: 2, MaxTurns: 3})

	summaries := f.runner.RunMultiTurn(context.Background(), "q", "", 3)
	if len(summaries) != 3 {
		t.Fatalf("got %d summaries, want 3", len(summaries))
	}
	for _, s := range summaries {
		if !s.Forced {
			t.Errorf("turn should be forced: %+v", s)
		}
	}
}

func TestRunMultiTurnHonorsRequestedTurns(t *testing.T) {
	var steps []*provider.Step
	for i := 0; i < 30; i++ {
		steps = append(steps, action("list_dir"))
	}
	f := newFixture(t, provider.NewStubProvider("stub", steps), Config{MaxDepth: 2, MaxTurns: 2})

	summaries := f.runner.RunMultiTurn(context.Background(), "q", "", 4)
	if len(summaries) != 4 {
		t.Fatalf("got %d summaries, want the requested 4", len(summaries))
	}

	summaries = f.runner.RunMultiTurn(context.Background(), "q", "", 0)
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want the configured default 2", len(summaries))
	}
}

func TestChainHookRunsAfterConvergence(t *testing.T) {
	stub := provider.NewStubProvider("stub", []*provider.Step{
		{Thought: "all set", IsFinal: true},
	})
	f := newFixture(t, stub, Config{})
	f.runner.hook = &ChainHook{Steps: []ChainStep{
		{Skill: "save_summary"},
		{Skill: "not_registered"},
	}}

	s := f.runner.RunStep(context.Background(), "q", "", 0)
	if !s.Converged {
		t.Fatalf("summary = %+v", s)
	}
	if !strings.Contains(s.Text, "save_summary: summary saved") {
		t.Errorf("chain output missing from summary: %q", s.Text)
	}
	if !strings.Contains(s.Text, "not_registered failed: Skill not in registry") {
		t.Errorf("chain failure missing from summary: %q", s.Text)
	}
	if *f.dispatches != 1 {
		t.Errorf("chain dispatches = %d, want 1 executed handler", *f.dispatches)
	}
}

func TestRunStepEmitsSessionEvents(t *testing.T) {
	stub := provider.NewStubProvider("stub", []*provider.Step{
		action("list_dir"),
		{Thought: "done", IsFinal: true},
	})

	log, _ := audit.Open(filepath.Join(t.TempDir(), "audit.log"), zap.NewNop())
	t.Cleanup(func() { log.Close() })

	hub := events.NewHub(zap.NewNop())
	ch, cancel := hub.Subscribe()
	defer cancel()

	reg := dispatch.NewRegistry()
	reg.Register(&dispatch.Definition{
		Name:    "list_dir",
		Handler: func(context.Context, map[string]string) dispatch.Observation { return dispatch.Success("ok") },
	})
	med := dispatch.NewMediator(reg, nil, dispatch.Config{}, log, hub, zap.NewNop())
	runner := NewRunner(stub, med, memory.NewFacade(hub, zap.NewNop()), nil, nil, Config{}, log, hub, zap.NewNop())

	runner.RunStep(context.Background(), "q", "", 0)

	seen := map[events.Kind]bool{}
	for len(ch) > 0 {
		evt := <-ch
		seen[evt.Kind] = true
	}
	for _, want := range []events.Kind{
		events.SessionStarted, events.Thought, events.ActionPlanned,
		events.ActionStarted, events.ActionCompleted, events.Converged, events.SessionEnded,
	} {
		if !seen[want] {
			t.Errorf("missing event %s", want)
		}
	}
}

func TestSessionEndedEventCarriesError(t *testing.T) {
	log, _ := audit.Open(filepath.Join(t.TempDir(), "audit.log"), zap.NewNop())
	t.Cleanup(func() { log.Close() })

	hub := events.NewHub(zap.NewNop())
	ch, cancel := hub.Subscribe()
	defer cancel()

	med := dispatch.NewMediator(dispatch.NewRegistry(), nil, dispatch.Config{}, log, hub, zap.NewNop())
	runner := NewRunner(provider.NewErrProvider("down", errors.New("model offline")), med,
		memory.NewFacade(hub, zap.NewNop()), nil, nil, Config{}, log, hub, zap.NewNop())

	runner.RunStep(context.Background(), "q", "", 0)

	var ended *events.Event
	for len(ch) > 0 {
		evt := <-ch
		if evt.Kind == events.SessionEnded {
			ended = &evt
		}
	}
	if ended == nil {
		t.Fatal("session_ended not emitted")
	}
	errText, _ := ended.Fields["error"].(string)
	if !strings.Contains(errText, "model offline") {
		t.Errorf("error field = %q", errText)
	}
}
