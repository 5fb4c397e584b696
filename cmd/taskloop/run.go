// Package main provides the run command.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/taskloop/internal/checkpoint"
	"github.com/vinayprograms/taskloop/internal/collab"
	"github.com/vinayprograms/taskloop/internal/config"
	"github.com/vinayprograms/taskloop/internal/executor"
	"github.com/vinayprograms/taskloop/internal/hitl"
	"github.com/vinayprograms/taskloop/internal/plan"
	"github.com/vinayprograms/taskloop/internal/research"
	"github.com/vinayprograms/taskloop/internal/state"
	"github.com/vinayprograms/taskloop/internal/workflow"
)

// runSummary is printed to stdout when a run stops.
type runSummary struct {
	Thread     string `json:"thread"`
	Status     string `json:"status"`
	Steps      int    `json:"steps"`
	Iterations int    `json:"iterations"`
	Pending    string `json:"pending_breakpoint,omitempty"`
	Report     string `json:"report,omitempty"`
	Output     string `json:"output,omitempty"`
}

// apply copies CLI overrides into cfg.
func (c *RunCmd) apply(cfg *config.Config) error {
	if c.HITLMode != "" {
		cfg.HITL.Mode = strings.ToLower(c.HITLMode)
	}
	if c.MaxIterations > 0 {
		cfg.Engine.MaxIterations = c.MaxIterations
	}
	if c.Decision != "" {
		if !c.Resume {
			return fmt.Errorf("--decision requires --resume")
		}
		if !hitl.Action(c.Decision).Valid() {
			return fmt.Errorf("unknown decision %q", c.Decision)
		}
	}
	if c.Resume && c.Thread == "" {
		return fmt.Errorf("--resume requires --thread")
	}
	if !c.Resume && strings.TrimSpace(c.Query) == "" {
		return fmt.Errorf("a query is required")
	}
	return cfg.Validate()
}

// Run executes or resumes a task.
func (c *RunCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := c.apply(cfg); err != nil {
		return err
	}
	pol, err := loadPolicy(g, cfg)
	if err != nil {
		return err
	}

	var phases []plan.PhaseSpec
	if c.Phases != "" {
		if phases, err = loadPhases(c.Phases); err != nil {
			return err
		}
	}

	rt, err := newRuntime(cfg, pol, globalCreds)
	if err != nil {
		return err
	}
	defer rt.cleanup()
	if err := rt.setup(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	thread := c.Thread
	if thread == "" {
		thread = uuid.New().String()[:8]
	}

	exec, err := rt.buildExecutor(ctx, thread, c.Query, phases)
	if err != nil {
		return err
	}

	if c.Resume {
		if err := c.restore(ctx, rt, exec, thread); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "Running task (thread: %s, hitl: %s, max iterations: %d)\n\n",
		thread, cfg.HITL.Mode, cfg.Engine.MaxIterations)

	result, err := exec.Run(ctx)
	if result != nil {
		printSummary(thread, result)
	}
	if err != nil {
		return err
	}
	if result.Status == executor.StatusPaused && cfg.HITL.Source == "interrupt" {
		fmt.Fprintf(os.Stderr, "\n%s resume with: taskloop run --resume -t %s --decision approve\n",
			pausedStyle.Render("⏸ Paused."), thread)
	}
	return nil
}

// restore positions exec at the thread's latest checkpoint and applies a
// decision for a pending breakpoint.
func (c *RunCmd) restore(ctx context.Context, rt *runtime, exec *executor.Executor, thread string) error {
	cp, err := rt.checkpointer()
	if err != nil {
		return err
	}
	if cp == nil {
		return fmt.Errorf("--resume needs checkpoints (checkpoint.backend is none)")
	}
	rec, err := cp.Latest(ctx, thread)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return fmt.Errorf("no checkpoint for thread %s", thread)
	}
	if err != nil {
		return err
	}
	if err := exec.Restore(*rec); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Restored thread %s at step %d (next: %s)\n", thread, rec.Step, rec.Next)

	if c.Decision == "" {
		return nil
	}
	d := hitl.Decision{Action: hitl.Action(c.Decision), Feedback: c.Feedback}
	if d.Action == hitl.Modify {
		d.Modification = c.Feedback
	}
	return exec.Resume(ctx, d)
}

// buildExecutor wires the task graph for a thread.
func (rt *runtime) buildExecutor(ctx context.Context, thread, query string, phases []plan.PhaseSpec) (*executor.Executor, error) {
	cfg := rt.cfg
	plans, watcher, err := rt.planManager(ctx, thread)
	if err != nil {
		return nil, err
	}
	gate, err := rt.gate(plans)
	if err != nil {
		return nil, err
	}

	model := collab.NewModel(rt.provider)
	deps := workflow.Deps{
		Plans:        plans,
		Policy:       cfg.PlanPolicy(),
		Watcher:      watcher,
		Planner:      collab.NewPlanner(model),
		PhasePlanner: collab.NewPhasePlanner(model),
		Phases:       phases,
		Summarizer:   collab.NewHistorySummarizer(rt.summaryModel()),
		Gate:         gate,
		Actions:      rt.actions(),
		Resilience:   rt.breakers,
		Threshold:    cfg.Engine.ConsolidationThreshold,
		KeepRecent:   cfg.Engine.KeepRecent,
	}
	if gate != nil {
		deps.Enhancer = collab.NewEnhancer(model)
		deps.RiskAssessor = collab.NewRiskAssessor(rt.summaryModel())
	}
	if rt.registry.Has("web_search") {
		ctrl, err := rt.researchController()
		if err != nil {
			return nil, err
		}
		deps.Research = research.NewNode(ctrl, plans)
	}

	g, _, err := workflow.Build(deps)
	if err != nil {
		return nil, err
	}

	cp, err := rt.checkpointer()
	if err != nil {
		return nil, err
	}
	sessions, err := rt.sessions()
	if err != nil {
		return nil, err
	}
	exec, err := executor.New(g, state.New(thread, query, cfg.Engine.MaxIterations, cfg.HITLMode()), executor.Options{
		Gate:         gate,
		Checkpointer: cp,
		Sessions:     sessions,
		MaxSteps:     cfg.Engine.MaxSteps,
	})
	if err != nil {
		return nil, err
	}
	rt.setupCallbacks(exec)
	return exec, nil
}

// setupCallbacks prints progress and forwards it to telemetry.
func (rt *runtime) setupCallbacks(exec *executor.Executor) {
	exec.OnNodeStart = func(node string, s state.TaskState) {
		fmt.Fprintf(os.Stderr, "%s %s\n", nodeStyle.Render("▶ "+node), dimStyle.Render(fmt.Sprintf("(iteration %d)", s.IterationCount)))
		rt.telem.LogEvent("node_start", map[string]interface{}{"node": node, "iteration": s.IterationCount})
	}
	exec.OnNodeComplete = func(node string, s state.TaskState, d time.Duration) {
		line := fmt.Sprintf("  ✓ %s %s", node, dimStyle.Render(d.Round(time.Millisecond).String()))
		if s.CurrentAction != "" {
			line += dimStyle.Render(" → " + s.CurrentAction)
		}
		fmt.Fprintln(os.Stderr, line)
		rt.telem.LogEvent("node_complete", map[string]interface{}{
			"node":        node,
			"duration_ms": d.Milliseconds(),
			"action":      s.CurrentAction,
		})
	}
	exec.OnBreakpoint = func(breakpoint string, s state.TaskState) {
		fmt.Fprintf(os.Stderr, "%s %s\n", pausedStyle.Render("⏸ breakpoint"), breakpoint)
		rt.telem.LogEvent("breakpoint", map[string]interface{}{"breakpoint": breakpoint, "thread": s.ThreadID})
	}
}

func printSummary(thread string, res *executor.Result) {
	sum := runSummary{
		Thread:     thread,
		Status:     string(res.Status),
		Steps:      res.Steps,
		Iterations: res.State.IterationCount,
		Pending:    res.State.CurrentBreakpoint,
		Report:     res.State.FinalReport,
	}
	if sum.Report == "" {
		sum.Output = res.State.LastOutput
	}
	fmt.Fprintf(os.Stderr, "\n%s\n", statusLine(res.Status))
	output, _ := json.MarshalIndent(sum, "", "  ")
	fmt.Println(string(output))
}
