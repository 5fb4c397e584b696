// Package executor dispatches the task graph one node at a time, persisting
// a checkpoint after every step and pausing when a human decision is due.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/taskloop/internal/checkpoint"
	"github.com/vinayprograms/taskloop/internal/graph"
	"github.com/vinayprograms/taskloop/internal/hitl"
	"github.com/vinayprograms/taskloop/internal/router"
	"github.com/vinayprograms/taskloop/internal/session"
	"github.com/vinayprograms/taskloop/internal/state"
	"go.opentelemetry.io/otel/trace"
)

// Status is the exit status of a run.
type Status string

const (
	StatusRunning       Status = "running"
	StatusPaused        Status = "paused"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusHaltedOnLimit Status = "halted_on_limit"
)

// ErrNotPaused is returned by Resume when no breakpoint is pending.
var ErrNotPaused = errors.New("no breakpoint is pending")

// Result is the outcome of Run.
type Result struct {
	Status Status
	State  state.TaskState
	Steps  int
}

// Options configure an executor. Every field is optional.
type Options struct {
	// Gate resolves decisions passed to Resume.
	Gate         *hitl.Gate
	Checkpointer checkpoint.Checkpointer
	Sessions     *session.Manager

	// MaxSteps bounds the node runs of one Run call. Zero derives a budget
	// from the iteration cap.
	MaxSteps int
}

// Executor drives a task graph.
type Executor struct {
	graph  *graph.Graph[state.TaskState, state.Update]
	opts   Options
	logger *logging.Logger

	state   state.TaskState
	current string
	step    int

	session  *session.Session
	pausedAt time.Time

	// Callbacks
	OnNodeStart    func(node string, s state.TaskState)
	OnNodeComplete func(node string, s state.TaskState, duration time.Duration)
	OnBreakpoint   func(breakpoint string, s state.TaskState)
}

// New creates an executor positioned at the graph entry.
func New(g *graph.Graph[state.TaskState, state.Update], initial state.TaskState, opts Options) (*Executor, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if initial.ThreadID == "" {
		return nil, fmt.Errorf("executor: thread id is required")
	}
	e := &Executor{
		graph:   g,
		opts:    opts,
		logger:  logging.New().WithComponent("executor"),
		state:   initial,
		current: g.Entry(),
	}
	if opts.Gate != nil {
		prev := opts.Gate.OnRequest
		opts.Gate.OnRequest = func(req hitl.Request) {
			e.event(session.Event{
				Type:       session.EventBreakpoint,
				Node:       e.current,
				Breakpoint: req.Breakpoint,
				Risk:       string(req.Risk),
				Content:    req.Payload,
			})
			if prev != nil {
				prev(req)
			}
		}
	}
	if opts.Sessions != nil {
		sess, err := opts.Sessions.Open(initial.ThreadID, initial.Query)
		if err != nil {
			return nil, fmt.Errorf("open session: %w", err)
		}
		e.session = sess
	}
	return e, nil
}

// Restore positions the executor at a checkpoint. A thread paused at a
// breakpoint is re-armed so the gate asks again on the next step.
func (e *Executor) Restore(r checkpoint.Record) error {
	if r.ThreadID != e.state.ThreadID {
		return fmt.Errorf("checkpoint belongs to thread %s, not %s", r.ThreadID, e.state.ThreadID)
	}
	if r.Next != graph.End {
		if _, ok := e.graph.Node(r.Next); !ok {
			return fmt.Errorf("checkpoint resumes at unknown node %s", r.Next)
		}
	}
	e.state = r.State
	e.current = r.Next
	e.step = r.Step
	if e.state.ExecutionStatus == state.StatusPaused {
		e.state = state.Apply(e.state, state.Update{
			AwaitingHumanInput: state.Ptr(false),
			ExecutionStatus:    state.Ptr(state.StatusRunning),
		})
	}
	e.logger.Info("restored checkpoint", map[string]interface{}{
		"thread": r.ThreadID,
		"step":   r.Step,
		"next":   r.Next,
	})
	return nil
}

// State returns the current task state.
func (e *Executor) State() state.TaskState { return e.state }

// Current returns the node that runs next, or graph.End.
func (e *Executor) Current() string { return e.current }

// Paused reports whether the executor waits for Resume.
func (e *Executor) Paused() bool {
	return e.state.AwaitingHumanInput && e.state.ExecutionStatus == state.StatusPaused
}

// Done reports whether the graph reached End.
func (e *Executor) Done() bool { return e.current == graph.End }

// Step runs the current node and routes to the next one. It reports whether
// execution stopped, either at End or at a breakpoint. Only gate
// configuration errors, illegal routes and context cancellation are returned
// as errors; other node failures end the task with status failed.
func (e *Executor) Step(ctx context.Context) (bool, error) {
	if e.Done() || e.Paused() {
		return true, nil
	}
	name := e.current
	node, ok := e.graph.Node(name)
	if !ok {
		return false, fmt.Errorf("graph %s: unknown node %s", e.graph.Name(), name)
	}
	e.step++
	stepID := strconv.Itoa(e.step)

	ctx, span := e.startNodeSpan(ctx, name)
	corr := session.StartCorrelation()
	e.event(session.Event{Type: session.EventNodeStart, Node: name, CorrelationID: corr})
	if e.OnNodeStart != nil {
		e.OnNodeStart(name, e.state)
	}
	e.logger.PhaseStart(name, e.state.ThreadID, stepID)

	start := time.Now()
	u, err := node.Run(ctx, e.state)
	duration := time.Since(start)

	failed := false
	if err != nil {
		var cfgErr *hitl.ConfigError
		switch {
		case errors.Is(err, hitl.ErrPaused):
			e.pause(name)
			e.nodeEnd(name, corr, duration, nil)
			e.logger.PhaseComplete(name, e.state.ThreadID, stepID, duration, "paused")
			e.endNodeSpan(span, "paused", nil)
			return true, nil
		case errors.As(err, &cfgErr), ctx.Err() != nil:
			e.nodeEnd(name, corr, duration, err)
			e.logger.PhaseComplete(name, e.state.ThreadID, stepID, duration, "error")
			e.endNodeSpan(span, "error", err)
			e.flush()
			return false, fmt.Errorf("node %s: %w", name, err)
		default:
			e.logger.Error("node failed", map[string]interface{}{
				"node":  name,
				"error": err.Error(),
			})
			u = failure(name, err, e.state)
			failed = true
		}
	}

	e.state = state.Apply(e.state, u)
	e.interventions(name, u)

	next := graph.End
	if !failed && e.state.ExecutionStatus != state.StatusFailed {
		next, err = e.graph.Next(name, e.state)
		if err != nil {
			e.nodeEnd(name, corr, duration, err)
			e.endNodeSpan(span, "error", err)
			e.flush()
			return false, err
		}
	}
	if next == graph.End && e.state.ExecutionStatus == state.StatusRunning {
		e.state = state.Apply(e.state, state.Update{ExecutionStatus: state.Ptr(state.StatusCompleted)})
	}
	e.current = next

	e.save(ctx, name)
	var nodeErr error
	if failed {
		nodeErr = err
	}
	e.nodeEnd(name, corr, duration, nodeErr)
	e.event(session.Event{Type: session.EventRoute, Node: name, Next: next})
	e.flush()

	result := "ok"
	if failed {
		result = "failed"
	}
	e.logger.PhaseComplete(name, e.state.ThreadID, stepID, duration, result)
	e.endNodeSpan(span, result, nodeErr)
	if e.OnNodeComplete != nil {
		e.OnNodeComplete(name, e.state, duration)
	}
	return next == graph.End, nil
}

// failure turns a node error into task state. A breakpoint pending at the
// failing node is cleared.
func failure(node string, err error, s state.TaskState) state.Update {
	return state.Update{
		IterationDelta:     1,
		CurrentAction:      state.Ptr(state.ActionComplete),
		ExecutionStatus:    state.Ptr(state.StatusFailed),
		CurrentBreakpoint:  state.Ptr(""),
		AwaitingHumanInput: state.Ptr(false),
		Messages: []state.Message{{
			Role:    state.RoleSystem,
			Content: fmt.Sprintf("[ERROR] %s: %v", node, err),
		}},
	}
}

func (e *Executor) pause(node string) {
	e.state = state.Apply(e.state, state.Update{
		AwaitingHumanInput: state.Ptr(true),
		ExecutionStatus:    state.Ptr(state.StatusPaused),
	})
	e.pausedAt = time.Now()
	e.logger.Info("paused for human decision", map[string]interface{}{
		"node":       node,
		"breakpoint": e.state.CurrentBreakpoint,
	})
	e.event(session.Event{
		Type:       session.EventBreakpoint,
		Node:       node,
		Breakpoint: e.state.CurrentBreakpoint,
		Risk:       string(e.state.RiskLevel),
		Content:    "paused",
	})
	if e.OnBreakpoint != nil {
		e.OnBreakpoint(e.state.CurrentBreakpoint, e.state)
	}
	e.save(context.Background(), node)
	e.flush()
}

// Resume applies a human decision to the pending breakpoint and routes on
// from the gate. Call Run afterwards to continue.
func (e *Executor) Resume(ctx context.Context, d hitl.Decision) error {
	if e.opts.Gate == nil {
		return fmt.Errorf("executor: no gate configured")
	}
	if e.current != router.NodeGate || e.state.CurrentBreakpoint == "" {
		return ErrNotPaused
	}
	var elapsed time.Duration
	if !e.pausedAt.IsZero() {
		elapsed = time.Since(e.pausedAt)
	}
	u, err := e.opts.Gate.Resolve(e.state, d, false, elapsed)
	if err != nil {
		return err
	}
	if u.ExecutionStatus == nil {
		u.ExecutionStatus = state.Ptr(state.StatusRunning)
	}
	e.step++
	e.state = state.Apply(e.state, u)
	e.interventions(router.NodeGate, u)

	next := graph.End
	if e.state.ExecutionStatus != state.StatusFailed {
		next, err = e.graph.Next(router.NodeGate, e.state)
		if err != nil {
			e.flush()
			return err
		}
	}
	e.current = next
	e.pausedAt = time.Time{}
	e.save(ctx, router.NodeGate)
	e.event(session.Event{Type: session.EventRoute, Node: router.NodeGate, Next: next})
	e.flush()
	return nil
}

// Run steps until End or a breakpoint pause.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	startTime := time.Now()
	thread := e.state.ThreadID
	e.logger.ExecutionStart(thread)
	ctx, span := e.startRunSpan(ctx)
	e.event(session.Event{Type: session.EventWorkflowStart, Node: e.current, Content: e.state.Goal()})

	budget := e.opts.MaxSteps
	if budget <= 0 {
		budget = stepBudget(e.state)
	}
	for steps := 0; ; steps++ {
		if steps >= budget {
			err := fmt.Errorf("thread %s: %w (%d)", thread, graph.ErrStepLimit, budget)
			return e.finish(startTime, span, err)
		}
		done, err := e.Step(ctx)
		if err != nil {
			return e.finish(startTime, span, err)
		}
		if done {
			break
		}
	}
	return e.finish(startTime, span, nil)
}

func (e *Executor) finish(startTime time.Time, span trace.Span, err error) (*Result, error) {
	res := &Result{Status: ExitStatus(e.state, e.Done()), State: e.state, Steps: e.step}
	if err != nil && res.Status != StatusPaused {
		res.Status = StatusFailed
	}
	evt := session.Event{Type: session.EventWorkflowEnd, Content: string(res.Status)}
	if err != nil {
		evt.Error = err.Error()
		e.event(session.Event{Type: session.EventError, Node: e.current, Error: err.Error()})
	}
	e.event(evt)
	if e.session != nil {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		e.session.Finish(string(res.Status), e.state.FinalReport, errMsg)
	}
	e.flush()
	e.logger.ExecutionComplete(e.state.ThreadID, time.Since(startTime), string(res.Status))
	e.endRunSpan(span, res, err)
	return res, err
}

// ExitStatus classifies a state: failed, then completed, then
// halted_on_limit, then paused.
func ExitStatus(s state.TaskState, done bool) Status {
	switch {
	case s.ExecutionStatus == state.StatusFailed:
		return StatusFailed
	case s.CurrentAction == state.ActionComplete:
		return StatusCompleted
	case s.AtLimit():
		return StatusHaltedOnLimit
	case s.AwaitingHumanInput || s.ExecutionStatus == state.StatusPaused:
		return StatusPaused
	case done:
		return StatusCompleted
	}
	return StatusRunning
}

// stepBudget allows every iteration a full round of bookkeeping nodes.
func stepBudget(s state.TaskState) int {
	return 10*(s.MaxIterations+1) + 20
}

func (e *Executor) save(ctx context.Context, node string) {
	if e.opts.Checkpointer == nil {
		return
	}
	rec := checkpoint.Record{
		ThreadID:  e.state.ThreadID,
		Step:      e.step,
		Node:      node,
		Next:      e.current,
		State:     e.state,
		Timestamp: time.Now(),
	}
	if err := e.opts.Checkpointer.Save(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("checkpoint failed", map[string]interface{}{
			"step":  e.step,
			"error": err.Error(),
		})
		e.event(session.Event{Type: session.EventError, Node: node, Error: "checkpoint: " + err.Error()})
		return
	}
	e.event(session.Event{Type: session.EventCheckpoint, Node: node, Next: e.current})
}
