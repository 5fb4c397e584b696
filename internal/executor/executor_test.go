package executor

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/taskloop/internal/checkpoint"
	"github.com/vinayprograms/taskloop/internal/graph"
	"github.com/vinayprograms/taskloop/internal/hitl"
	"github.com/vinayprograms/taskloop/internal/plan"
	"github.com/vinayprograms/taskloop/internal/router"
	"github.com/vinayprograms/taskloop/internal/session"
	"github.com/vinayprograms/taskloop/internal/state"
	"github.com/vinayprograms/taskloop/internal/workflow"
)

type scriptedPlanner struct {
	steps []workflow.Decision
	calls int
}

func (p *scriptedPlanner) Plan(ctx context.Context, req workflow.PlanRequest) (workflow.Decision, error) {
	p.calls++
	if p.calls > len(p.steps) {
		return workflow.Decision{NextAction: state.ActionComplete, ActionPayload: "all done"}, nil
	}
	return p.steps[p.calls-1], nil
}

type recordingAction struct {
	payloads []string
}

func (a *recordingAction) Execute(ctx context.Context, payload string) (workflow.Result, error) {
	a.payloads = append(a.payloads, payload)
	return workflow.Result{Output: "ran " + payload, Success: true}, nil
}

type taskGraph = graph.Graph[state.TaskState, state.Update]

func node(fn func(ctx context.Context, s state.TaskState) (state.Update, error)) graph.NodeFunc[state.TaskState, state.Update] {
	return fn
}

func newPlans(t *testing.T) *plan.Manager {
	t.Helper()
	store, err := plan.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return plan.NewManager("t1", store, nil)
}

func buildTask(t *testing.T, planner workflow.Planner, gate *hitl.Gate, actions map[string]workflow.Action) *taskGraph {
	t.Helper()
	g, _, err := workflow.Build(workflow.Deps{
		Plans:   newPlans(t),
		Planner: planner,
		Gate:    gate,
		Actions: actions,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func TestExecutor_RunToCompletion(t *testing.T) {
	dir := t.TempDir()
	cps, _ := checkpoint.NewFileStore(dir + "/checkpoints")
	sessStore, _ := session.NewFileStore(dir + "/sessions")
	sessions := session.NewManager(sessStore)

	search := &recordingAction{}
	planner := &scriptedPlanner{steps: []workflow.Decision{{NextAction: "search", ActionPayload: "solar"}}}
	g := buildTask(t, planner, nil, map[string]workflow.Action{"search": search})

	exec, err := New(g, state.New("t1", "research solar", 30, state.ModeModerate), Options{
		Checkpointer: cps,
		Sessions:     sessions,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var started, completed []string
	exec.OnNodeStart = func(n string, s state.TaskState) { started = append(started, n) }
	exec.OnNodeComplete = func(n string, s state.TaskState, d time.Duration) { completed = append(completed, n) }

	res, err := exec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("status = %s", res.Status)
	}
	if res.State.ExecutionStatus != state.StatusCompleted {
		t.Errorf("execution status = %s", res.State.ExecutionStatus)
	}
	want := []string{router.NodeInitializePlan, router.NodePlanner, "search_executor", router.NodePlanner}
	if strings.Join(started, ",") != strings.Join(want, ",") {
		t.Errorf("started = %v", started)
	}
	if len(completed) != len(started) || res.Steps != len(want) {
		t.Errorf("completed %d of %d, steps %d", len(completed), len(started), res.Steps)
	}

	rec, err := cps.Latest(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if rec.Step != len(want) || rec.Next != graph.End || rec.Node != router.NodePlanner {
		t.Errorf("latest checkpoint = step %d node %s next %s", rec.Step, rec.Node, rec.Next)
	}
	hist, _ := cps.History(context.Background(), "t1")
	if len(hist) != len(want) {
		t.Errorf("checkpoints = %d", len(hist))
	}

	sess, err := sessions.Get("t1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != session.StatusCompleted {
		t.Errorf("session status = %s", sess.Status)
	}
	counts := map[string]int{}
	for _, e := range sess.Events {
		counts[e.Type]++
	}
	if counts[session.EventWorkflowStart] != 1 || counts[session.EventWorkflowEnd] != 1 {
		t.Errorf("workflow events = %v", counts)
	}
	if counts[session.EventNodeStart] != 4 || counts[session.EventNodeEnd] != 4 || counts[session.EventCheckpoint] != 4 {
		t.Errorf("node events = %v", counts)
	}
}

func TestExecutor_NodeErrorBecomesFailure(t *testing.T) {
	g := graph.New[state.TaskState, state.Update]("t")
	g.AddNode("a", node(func(ctx context.Context, s state.TaskState) (state.Update, error) {
		return state.Update{}, errors.New("boom")
	}))
	g.AddNode("b", node(func(ctx context.Context, s state.TaskState) (state.Update, error) {
		t.Error("node after a failure ran")
		return state.Update{}, nil
	}))
	g.AddEdge("a", "b")
	g.AddEdge("b", graph.End)
	g.SetEntry("a")

	exec, err := New(g, state.New("t1", "q", 30, state.ModeModerate), Options{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := exec.Run(context.Background())
	if err != nil {
		t.Fatalf("node failure should not propagate: %v", err)
	}
	if res.Status != StatusFailed {
		t.Errorf("status = %s", res.Status)
	}
	s := res.State
	if s.IterationCount != 1 || s.CurrentAction != state.ActionComplete {
		t.Errorf("iteration=%d action=%q", s.IterationCount, s.CurrentAction)
	}
	last := s.MessageLog[len(s.MessageLog)-1]
	if last.Content != "[ERROR] a: boom" {
		t.Errorf("last message = %q", last.Content)
	}
}

func TestExecutor_GateFailureClearsBreakpoint(t *testing.T) {
	g := graph.New[state.TaskState, state.Update]("t")
	g.AddNode("hitl_gate", node(func(ctx context.Context, s state.TaskState) (state.Update, error) {
		return state.Update{}, errors.New("console closed")
	}))
	g.AddEdge("hitl_gate", graph.End)
	g.SetEntry("hitl_gate")

	initial := state.New("t1", "q", 30, state.ModeStrict)
	initial.CurrentBreakpoint = hitl.BreakpointBashCommand
	initial.AwaitingHumanInput = true
	exec, err := New(g, initial, Options{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := exec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusFailed {
		t.Errorf("status = %s", res.Status)
	}
	if res.State.CurrentBreakpoint != "" || res.State.AwaitingHumanInput {
		t.Errorf("breakpoint=%q awaiting=%v after failure", res.State.CurrentBreakpoint, res.State.AwaitingHumanInput)
	}
	if res.State.IterationCount != 1 {
		t.Errorf("iteration = %d, want 1", res.State.IterationCount)
	}
}

func TestExecutor_ConfigErrorPropagates(t *testing.T) {
	g := graph.New[state.TaskState, state.Update]("t")
	g.AddNode("gate", node(func(ctx context.Context, s state.TaskState) (state.Update, error) {
		return state.Update{}, &hitl.ConfigError{Breakpoint: "mystery"}
	}))
	g.AddEdge("gate", graph.End)
	g.SetEntry("gate")

	exec, _ := New(g, state.New("t1", "q", 30, state.ModeModerate), Options{})
	res, err := exec.Run(context.Background())
	var cfgErr *hitl.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if res.Status != StatusFailed {
		t.Errorf("status = %s", res.Status)
	}
	if res.State.ExecutionStatus != state.StatusRunning {
		t.Error("configuration error was turned into state")
	}
}

func TestExecutor_IllegalRoute(t *testing.T) {
	g := graph.New[state.TaskState, state.Update]("t")
	g.AddNode("a", node(func(ctx context.Context, s state.TaskState) (state.Update, error) {
		return state.Update{}, nil
	}))
	g.AddConditionalEdge("a", "bad", func(s state.TaskState) string { return "nowhere" }, graph.Targets(graph.End))
	g.SetEntry("a")

	exec, _ := New(g, state.New("t1", "q", 30, state.ModeModerate), Options{})
	if _, err := exec.Run(context.Background()); !errors.Is(err, graph.ErrIllegalRoute) {
		t.Errorf("err = %v, want ErrIllegalRoute", err)
	}
}

func TestExecutor_StepBudget(t *testing.T) {
	g := graph.New[state.TaskState, state.Update]("t")
	g.AddNode("spin", node(func(ctx context.Context, s state.TaskState) (state.Update, error) {
		return state.Update{}, nil
	}))
	g.AddEdge("spin", "spin")
	g.SetEntry("spin")

	exec, _ := New(g, state.New("t1", "q", 30, state.ModeModerate), Options{MaxSteps: 5})
	res, err := exec.Run(context.Background())
	if !errors.Is(err, graph.ErrStepLimit) {
		t.Fatalf("err = %v, want ErrStepLimit", err)
	}
	if res.Steps != 5 {
		t.Errorf("steps = %d", res.Steps)
	}
}

func TestExecutor_PauseAndResume(t *testing.T) {
	cps, _ := checkpoint.NewFileStore(t.TempDir())
	bash := &recordingAction{}
	planner := &scriptedPlanner{steps: []workflow.Decision{{NextAction: "bash", ActionPayload: "rm -rf /tmp/x"}}}
	gate := hitl.NewGate(nil, nil)
	g := buildTask(t, planner, gate, map[string]workflow.Action{"bash": bash})

	exec, err := New(g, state.New("t1", "clean up", 30, state.ModeModerate), Options{Gate: gate, Checkpointer: cps})
	if err != nil {
		t.Fatal(err)
	}
	var breakpoints []string
	exec.OnBreakpoint = func(bp string, s state.TaskState) { breakpoints = append(breakpoints, bp) }
	ctx := context.Background()

	if err := exec.Resume(ctx, hitl.Decision{Action: hitl.Approve}); !errors.Is(err, ErrNotPaused) {
		t.Errorf("resume before pause: %v", err)
	}

	res, err := exec.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPaused || exec.Current() != router.NodeGate {
		t.Fatalf("status = %s at %s", res.Status, exec.Current())
	}
	if res.State.CurrentBreakpoint != hitl.BreakpointPlan || !res.State.AwaitingHumanInput {
		t.Errorf("breakpoint = %q", res.State.CurrentBreakpoint)
	}
	// Run while paused does nothing.
	again, _ := exec.Run(ctx)
	if again.Steps != res.Steps {
		t.Error("paused executor made progress")
	}

	if err := exec.Resume(ctx, hitl.Decision{Action: hitl.Approve}); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	res, err = exec.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPaused || res.State.CurrentBreakpoint != hitl.BreakpointBashCommand {
		t.Fatalf("status = %s breakpoint %q", res.Status, res.State.CurrentBreakpoint)
	}
	if len(bash.payloads) != 0 {
		t.Fatal("command ran before approval")
	}

	if err := exec.Resume(ctx, hitl.Decision{Action: hitl.Approve}); err != nil {
		t.Fatal(err)
	}
	res, err = exec.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("final status = %s", res.Status)
	}
	if len(bash.payloads) != 1 || bash.payloads[0] != "rm -rf /tmp/x" {
		t.Errorf("payloads = %v", bash.payloads)
	}
	if len(res.State.HumanInterventions) != 2 {
		t.Errorf("interventions = %d", len(res.State.HumanInterventions))
	}
	if strings.Join(breakpoints, ",") != "plan,bash_command" {
		t.Errorf("breakpoints = %v", breakpoints)
	}
}

func TestExecutor_QuitAtGate(t *testing.T) {
	gate := hitl.NewGate(nil, nil)
	g := buildTask(t, &scriptedPlanner{}, gate, nil)
	exec, _ := New(g, state.New("t1", "q", 30, state.ModeStrict), Options{Gate: gate})
	ctx := context.Background()
	if res, _ := exec.Run(ctx); res.Status != StatusPaused {
		t.Fatalf("status = %s", res.Status)
	}
	if err := exec.Resume(ctx, hitl.Decision{Action: hitl.Quit}); err != nil {
		t.Fatal(err)
	}
	if !exec.Done() {
		t.Error("quit did not end the task")
	}
	res, err := exec.Run(ctx)
	if err != nil || res.Status != StatusFailed {
		t.Errorf("status = %s, err %v", res.Status, err)
	}
}

func TestExecutor_RestoreContinuesThread(t *testing.T) {
	cps, _ := checkpoint.NewFileStore(t.TempDir())
	gate := hitl.NewGate(nil, nil)
	plans := newPlans(t)
	build := func() *taskGraph {
		g, _, err := workflow.Build(workflow.Deps{Plans: plans, Planner: &scriptedPlanner{}, Gate: gate})
		if err != nil {
			t.Fatal(err)
		}
		return g
	}
	ctx := context.Background()
	initial := state.New("t1", "q", 30, state.ModeModerate)

	first, _ := New(build(), initial, Options{Gate: gate, Checkpointer: cps})
	if res, _ := first.Run(ctx); res.Status != StatusPaused {
		t.Fatalf("status = %s", res.Status)
	}

	rec, err := cps.Latest(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Next != router.NodeGate || !rec.State.AwaitingHumanInput {
		t.Fatalf("checkpoint next=%s awaiting=%v", rec.Next, rec.State.AwaitingHumanInput)
	}

	second, _ := New(build(), initial, Options{Gate: gate, Checkpointer: cps})
	if err := second.Restore(*rec); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if second.Paused() || second.Current() != router.NodeGate {
		t.Error("restored thread should be re-armed at the gate")
	}
	if err := second.Resume(ctx, hitl.Decision{Action: hitl.Approve}); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	res, err := second.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCompleted || res.State.FinalReport != "all done" {
		t.Errorf("status = %s report %q", res.Status, res.State.FinalReport)
	}
	if res.Steps <= rec.Step {
		t.Errorf("steps did not continue from checkpoint: %d <= %d", res.Steps, rec.Step)
	}

	other := checkpoint.Record{ThreadID: "t2", Next: router.NodePlanner}
	if err := second.Restore(other); err == nil {
		t.Error("expected error restoring another thread")
	}
}

func TestExecutor_SessionRecordsInterventions(t *testing.T) {
	dir := t.TempDir()
	store, _ := session.NewFileStore(dir)
	sessions := session.NewManager(store)
	gate := hitl.NewGate(nil, hitl.FixedSource{Decision: hitl.Decision{Action: hitl.Approve}})
	g := buildTask(t, &scriptedPlanner{}, gate, nil)

	exec, _ := New(g, state.New("t1", "q", 30, state.ModeStrict), Options{Gate: gate, Sessions: sessions})
	if _, err := exec.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	sess, err := sessions.Get("t1")
	if err != nil {
		t.Fatal(err)
	}
	var asked, decided bool
	for _, e := range sess.Events {
		if e.Type == session.EventBreakpoint && e.Breakpoint == hitl.BreakpointPlan {
			asked = true
		}
		if e.Type == session.EventIntervention && e.Decision == "approve" {
			decided = true
		}
	}
	if !asked || !decided {
		t.Errorf("breakpoint logged %v, intervention logged %v", asked, decided)
	}
	if _, err := os.Stat(store.Path("t1")); err != nil {
		t.Error(err)
	}
}

func TestExitStatus(t *testing.T) {
	base := state.New("t", "q", 10, state.ModeModerate)
	with := func(f func(s *state.TaskState)) state.TaskState {
		s := base
		f(&s)
		return s
	}
	tests := []struct {
		name string
		s    state.TaskState
		done bool
		want Status
	}{
		{"failed wins", with(func(s *state.TaskState) {
			s.ExecutionStatus = state.StatusFailed
			s.CurrentAction = state.ActionComplete
			s.IterationCount = 10
		}), true, StatusFailed},
		{"completed before limit", with(func(s *state.TaskState) {
			s.CurrentAction = state.ActionComplete
			s.IterationCount = 10
		}), true, StatusCompleted},
		{"limit", with(func(s *state.TaskState) { s.IterationCount = 10 }), true, StatusHaltedOnLimit},
		{"paused", with(func(s *state.TaskState) {
			s.AwaitingHumanInput = true
			s.ExecutionStatus = state.StatusPaused
		}), false, StatusPaused},
		{"end", base, true, StatusCompleted},
		{"running", base, false, StatusRunning},
	}
	for _, tt := range tests {
		if got := ExitStatus(tt.s, tt.done); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, got, tt.want)
		}
	}
}
