package hitl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/taskloop/internal/state"
)

// Gate resolves the pending breakpoint in task state. It is registered as a
// node in the workflow graph.
type Gate struct {
	configs map[string]BreakpointConfig
	source  DecisionSource
	logger  *logging.Logger
	now     func() time.Time

	// Details renders extra context for a request, such as the stored plan.
	Details func(ctx context.Context, breakpoint string, s state.TaskState) string

	// OnRequest is called before a human is asked.
	OnRequest func(req Request)
}

// NewGate creates a gate. A nil source makes every triggered breakpoint
// return ErrPaused.
func NewGate(configs map[string]BreakpointConfig, source DecisionSource) *Gate {
	if configs == nil {
		configs = DefaultBreakpoints()
	}
	return &Gate{
		configs: configs,
		source:  source,
		logger:  logging.New().WithComponent("hitl"),
		now:     time.Now,
	}
}

// Config returns the configuration for a breakpoint type.
func (g *Gate) Config(breakpoint string) (BreakpointConfig, error) {
	cfg, ok := g.configs[breakpoint]
	if !ok {
		return BreakpointConfig{}, &ConfigError{Breakpoint: breakpoint}
	}
	return cfg, nil
}

// Payload returns the text under review at a breakpoint.
func Payload(breakpoint string, s state.TaskState) string {
	switch breakpoint {
	case BreakpointBashCommand:
		return s.ActionDetails
	default:
		return s.Goal()
	}
}

// Pending builds the request for the breakpoint pending in s and reports
// whether it needs a human at all.
func (g *Gate) Pending(ctx context.Context, s state.TaskState) (Request, bool, error) {
	bp := s.CurrentBreakpoint
	cfg, err := g.Config(bp)
	if err != nil {
		return Request{}, false, err
	}
	payload := Payload(bp, s)
	if !ShouldTrigger(cfg, s.HITLMode, s.RiskLevel, payload) {
		return Request{}, false, nil
	}
	req := Request{
		ID:          uuid.New().String(),
		ThreadID:    s.ThreadID,
		Breakpoint:  bp,
		Description: cfg.Description,
		Payload:     payload,
		Risk:        s.RiskLevel,
		Mode:        s.HITLMode,
		Timeout:     cfg.Timeout(),
		AllowSkip:   cfg.AllowSkip,
		CreatedAt:   g.now(),
	}
	if g.Details != nil {
		req.Details = g.Details(ctx, bp, s)
	}
	return req, true, nil
}

// Run resolves the pending breakpoint.
func (g *Gate) Run(ctx context.Context, s state.TaskState) (state.Update, error) {
	if s.CurrentBreakpoint == "" {
		return state.Update{
			AwaitingHumanInput: state.Ptr(false),
			LastBreakpoint:     state.Ptr(""),
			LastDecision:       state.Ptr(""),
		}, nil
	}
	req, trigger, err := g.Pending(ctx, s)
	if err != nil {
		return state.Update{}, err
	}
	bp := s.CurrentBreakpoint
	if !trigger {
		g.logger.Debug("breakpoint not triggered, auto-approving", map[string]interface{}{
			"breakpoint": bp,
			"mode":       string(s.HITLMode),
			"risk":       string(s.RiskLevel),
		})
		return g.autoApprove(bp), nil
	}
	if g.source == nil {
		return state.Update{}, ErrPaused
	}
	if g.OnRequest != nil {
		g.OnRequest(req)
	}

	cfg, _ := g.Config(bp)
	g.logger.Info("waiting for human decision", map[string]interface{}{
		"breakpoint": bp,
		"timeout":    cfg.Timeout().String(),
	})

	promptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()
	start := g.now()
	d, err := g.source.Prompt(promptCtx, req)
	elapsed := g.now().Sub(start)

	timedOut := false
	if err != nil {
		if ctx.Err() != nil {
			return state.Update{}, ctx.Err()
		}
		if !errors.Is(err, ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
			return state.Update{}, fmt.Errorf("decision source: %w", err)
		}
		g.logger.Warn("human decision timed out, applying default", map[string]interface{}{
			"breakpoint": bp,
			"default":    string(cfg.DefaultOnTimeout),
		})
		def := cfg.DefaultOnTimeout
		if !def.TimeoutDefault() {
			def = Reject
		}
		d = Decision{Action: def, Feedback: "timed out"}
		timedOut = true
	}
	return g.Resolve(s, d, timedOut, elapsed)
}

func (g *Gate) autoApprove(bp string) state.Update {
	u := state.Update{
		CurrentBreakpoint:  state.Ptr(""),
		AwaitingHumanInput: state.Ptr(false),
		LastBreakpoint:     state.Ptr(bp),
		LastDecision:       state.Ptr(string(Approve)),
	}
	setStatus(&u, bp, state.ValidationApproved)
	return u
}

// Resolve applies a decision to the breakpoint pending in s. Exactly one
// intervention is recorded and the breakpoint is cleared.
func (g *Gate) Resolve(s state.TaskState, d Decision, timedOut bool, elapsed time.Duration) (state.Update, error) {
	bp := s.CurrentBreakpoint
	cfg, err := g.Config(bp)
	if err != nil {
		return state.Update{}, err
	}
	if !d.Action.Valid() {
		return state.Update{}, fmt.Errorf("invalid decision %q at breakpoint %s", d.Action, bp)
	}

	action := d.Action
	if action == Skip && !cfg.AllowSkip {
		g.logger.Warn("skip not allowed here, applying default", map[string]interface{}{
			"breakpoint": bp,
			"default":    string(cfg.DefaultOnTimeout),
		})
		action = cfg.DefaultOnTimeout
		if !action.TimeoutDefault() {
			action = Reject
		}
	}
	replacement := d.Modification
	if replacement == "" && !timedOut {
		replacement = d.Feedback
	}
	if action == Modify && replacement == "" {
		action = Approve
	}

	u := state.Update{
		CurrentBreakpoint:  state.Ptr(""),
		AwaitingHumanInput: state.Ptr(false),
		LastBreakpoint:     state.Ptr(bp),
		LastDecision:       state.Ptr(string(action)),
		Interventions: []state.Intervention{{
			Timestamp:    g.now(),
			Stage:        bp,
			Decision:     string(action),
			Feedback:     d.Feedback,
			ResponseTime: elapsed,
			TimedOut:     timedOut,
		}},
	}

	switch action {
	case Approve:
		setStatus(&u, bp, state.ValidationApproved)
	case Reject:
		setStatus(&u, bp, state.ValidationRejected)
		switch bp {
		case BreakpointBashCommand:
			u.ActionDetails = state.Ptr("")
			u.CurrentAction = state.Ptr("")
		case BreakpointEnhancedQuery:
			u.EnhancedQuery = state.Ptr(s.Query)
		}
		u.Messages = append(u.Messages, state.Message{
			Role:    state.RoleSystem,
			Content: withFeedback(fmt.Sprintf("[HITL] %s rejected", bp), d.Feedback),
		})
	case Modify:
		setStatus(&u, bp, state.ValidationApproved)
		if bp == BreakpointBashCommand {
			u.ActionDetails = state.Ptr(replacement)
		} else {
			u.EnhancedQuery = state.Ptr(replacement)
		}
		u.Messages = append(u.Messages, state.Message{
			Role:    state.RoleSystem,
			Content: fmt.Sprintf("[HITL] %s modified: %s", bp, replacement),
		})
	case Skip:
		setStatus(&u, bp, state.ValidationSkipped)
		u.Messages = append(u.Messages, state.Message{
			Role:    state.RoleSystem,
			Content: fmt.Sprintf("[HITL] %s review skipped", bp),
		})
	case Quit:
		u.ExecutionStatus = state.Ptr(state.StatusFailed)
		u.CurrentAction = state.Ptr(state.ActionComplete)
		u.Messages = append(u.Messages, state.Message{
			Role:    state.RoleSystem,
			Content: withFeedback("[HITL] execution stopped by user", d.Feedback),
		})
	}

	g.logger.Info("breakpoint resolved", map[string]interface{}{
		"breakpoint": bp,
		"decision":   string(action),
		"timed_out":  timedOut,
	})
	return u, nil
}

func setStatus(u *state.Update, bp string, status state.ValidationStatus) {
	if bp == BreakpointBashCommand {
		u.BashValidationStatus = state.Ptr(status)
		return
	}
	u.PlanValidationStatus = state.Ptr(status)
}

func withFeedback(msg, feedback string) string {
	if feedback == "" {
		return msg
	}
	return msg + ": " + feedback
}
