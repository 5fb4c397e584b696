package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/taskloop/internal/graph"
	"github.com/vinayprograms/taskloop/internal/hitl"
	"github.com/vinayprograms/taskloop/internal/plan"
	"github.com/vinayprograms/taskloop/internal/resilience"
	"github.com/vinayprograms/taskloop/internal/router"
	"github.com/vinayprograms/taskloop/internal/state"
)

// Message prefixes written into the log.
const (
	PrefixFindingsSaved      = "[FINDINGS SAVED]"
	PrefixConsolidated       = "[CONSOLIDATED HISTORY]"
	PrefixConsolidationError = "[CONSOLIDATION FAILED]"
	PrefixFailed             = "[FAILED]"
)

var linkPattern = regexp.MustCompile(`https?://[^\s<>"'()\[\]]+`)

type nodes struct {
	deps   Deps
	policy *plan.Policy
	router *router.Router
	keep   int
	hitl   bool
	logger *logging.Logger
}

type taskNode = graph.NodeFunc[state.TaskState, state.Update]

func (w *nodes) enhanceQuery(ctx context.Context, s state.TaskState) (state.Update, error) {
	var u state.Update
	enh, err := w.deps.Enhancer.Enhance(ctx, s.Query)
	if err != nil {
		if ctx.Err() != nil {
			return state.Update{}, ctx.Err()
		}
		w.logger.Warn("query enhancement failed, keeping original", map[string]interface{}{"error": err.Error()})
		u.Messages = append(u.Messages, state.Message{
			Role:    state.RoleSystem,
			Content: "[ENHANCE FAILED] " + err.Error(),
		})
		enh = Enhancement{}
	}
	q := strings.TrimSpace(enh.EnhancedQuery)
	if q == "" {
		q = s.Query
	}
	u.EnhancedQuery = state.Ptr(q)
	if enh.Risk != "" {
		u.RiskLevel = state.Ptr(enh.Risk)
	}
	if w.hitl {
		u.CurrentBreakpoint = state.Ptr(hitl.BreakpointEnhancedQuery)
		u.AwaitingHumanInput = state.Ptr(true)
		u.PlanValidationStatus = state.Ptr(state.ValidationPending)
	}
	return u, nil
}

func (w *nodes) initializePlan(ctx context.Context, s state.TaskState) (state.Update, error) {
	goal := s.Goal()
	phases := w.deps.Phases
	if len(phases) == 0 && w.deps.PhasePlanner != nil {
		planned, err := w.deps.PhasePlanner.PlanPhases(ctx, goal)
		switch {
		case err == nil:
			phases = planned
		case ctx.Err() != nil:
			return state.Update{}, ctx.Err()
		default:
			w.logger.Warn("phase planning failed, using a single phase", map[string]interface{}{"error": err.Error()})
		}
	}

	ref, err := w.deps.Plans.Initialize(ctx, goal, phases)
	if err != nil {
		return state.Update{}, err
	}
	w.ack()

	msg := "[PLAN INITIALIZED] " + goal
	if snap, err := w.deps.Plans.Refresh(ctx); err == nil {
		msg += "\n" + phaseList(snap.Phases)
	}
	u := state.Update{
		PlanFileReference:   state.Ptr(ref),
		ActionsSinceRefresh: state.Ptr(0),
		PlanStale:           state.Ptr(false),
		Messages:            []state.Message{{Role: state.RoleSystem, Content: msg}},
	}
	if w.hitl {
		u.CurrentBreakpoint = state.Ptr(hitl.BreakpointPlan)
		u.AwaitingHumanInput = state.Ptr(true)
		u.PlanValidationStatus = state.Ptr(state.ValidationPending)
	}
	return u, nil
}

func (w *nodes) planner(ctx context.Context, s state.TaskState) (state.Update, error) {
	dec, err := w.deps.Planner.Plan(ctx, PlanRequest{
		Goal:          s.Goal(),
		Query:         s.Query,
		Messages:      s.MessageLog,
		Iteration:     s.IterationCount,
		MaxIterations: s.MaxIterations,
		Actions:       w.router.Actions(),
		LastOutput:    s.LastOutput,
		StatusSummary: s.StatusSummary,
	})
	if err != nil {
		return state.Update{}, fmt.Errorf("planner: %w", err)
	}

	action := strings.TrimSpace(dec.NextAction)
	u := state.Update{
		IterationDelta: 1,
		CurrentAction:  state.Ptr(action),
		ActionDetails:  state.Ptr(dec.ActionPayload),
		StatusSummary:  state.Ptr(dec.StatusSummary),
		Messages:       []state.Message{{Role: state.RoleAssistant, Content: formatDecision(dec)}},
	}

	if dec.CompletePhase > 0 {
		if _, err := w.deps.Plans.UpdatePhaseStatus(ctx, dec.CompletePhase, true); err != nil {
			w.logger.Warn("failed to mark phase complete", map[string]interface{}{
				"phase": dec.CompletePhase,
				"error": err.Error(),
			})
		}
	}
	if w.deps.Watcher != nil && w.deps.Watcher.Stale() {
		u.PlanStale = state.Ptr(true)
	}
	if action == state.ActionComplete && s.FinalReport == "" {
		report := dec.ActionPayload
		if report == "" {
			report = dec.StatusSummary
		}
		u.FinalReport = state.Ptr(report)
	}
	return u, nil
}

func (w *nodes) refreshPlan(ctx context.Context, s state.TaskState) (state.Update, error) {
	u := state.Update{
		ActionsSinceRefresh: state.Ptr(0),
		PlanStale:           state.Ptr(false),
	}
	snap, err := w.deps.Plans.Refresh(ctx)
	if err != nil {
		if !errors.Is(err, plan.ErrNotFound) {
			return state.Update{}, fmt.Errorf("refresh plan: %w", err)
		}
		w.logger.Warn("no plan to refresh", map[string]interface{}{"ref": s.PlanFileReference})
		u.Messages = []state.Message{{
			Role:    state.RoleSystem,
			Content: "[GOAL REFRESH] No stored plan found; continuing with the current goal.",
		}}
		return u, nil
	}
	w.ack()

	u.Messages = []state.Message{{Role: state.RoleSystem, Content: plan.RefreshMessage(snap)}}
	if snap.Goal != "" && snap.Goal != s.Goal() {
		w.logger.Info("stored goal differs from state, adopting stored goal", nil)
		u.EnhancedQuery = state.Ptr(snap.Goal)
	}
	return u, nil
}

func (w *nodes) saveFindings(ctx context.Context, s state.TaskState) (state.Update, error) {
	u := state.Update{ActionsSinceSave: state.Ptr(0)}
	f := collectFindings(s)
	if len(f.Discoveries) == 0 {
		u.Messages = []state.Message{{Role: state.RoleSystem, Content: PrefixFindingsSaved + " nothing new"}}
		return u, nil
	}
	if err := w.deps.Plans.SaveFindings(ctx, f); err != nil {
		w.logger.Warn("failed to save findings", map[string]interface{}{"error": err.Error()})
		u.Messages = []state.Message{{Role: state.RoleSystem, Content: "[FINDINGS SAVE FAILED] " + err.Error()}}
		return u, nil
	}
	u.Messages = []state.Message{{
		Role:    state.RoleSystem,
		Content: fmt.Sprintf("%s %d discoveries, %d links", PrefixFindingsSaved, len(f.Discoveries), len(f.Links)),
	}}
	return u, nil
}

// collectFindings gathers tool output written since the last save.
func collectFindings(s state.TaskState) plan.Findings {
	f := plan.Findings{Query: s.Goal()}
	start := 0
	for i := len(s.MessageLog) - 1; i >= 0; i-- {
		m := s.MessageLog[i]
		if m.Role == state.RoleSystem && strings.HasPrefix(m.Content, PrefixFindingsSaved) {
			start = i + 1
			break
		}
	}
	seen := make(map[string]bool)
	for _, m := range s.MessageLog[start:] {
		if m.Role != state.RoleTool || strings.HasPrefix(m.Content, PrefixFailed) {
			continue
		}
		source, body := splitTag(m.Content)
		if source == "" || source == "DEEP RESEARCH" || strings.TrimSpace(body) == "" {
			continue
		}
		f.Sources = append(f.Sources, source)
		f.Discoveries = append(f.Discoveries, truncate(strings.TrimSpace(body), 500))
		for _, link := range linkPattern.FindAllString(body, -1) {
			link = strings.TrimRight(link, ".,;:")
			if !seen[link] {
				seen[link] = true
				f.Links = append(f.Links, link)
			}
		}
	}
	return f
}

// splitTag splits "[tag] body".
func splitTag(content string) (string, string) {
	if !strings.HasPrefix(content, "[") {
		return "", content
	}
	end := strings.Index(content, "]")
	if end < 0 {
		return "", content
	}
	return content[1:end], content[end+1:]
}

func (w *nodes) consolidate(ctx context.Context, s state.TaskState) (state.Update, error) {
	u := state.Update{CurrentAction: state.Ptr(state.ActionNone)}
	if len(s.MessageLog) <= w.keep {
		u.ContextSize = state.Ptr(state.ContextSize(s.MessageLog))
		return u, nil
	}
	older := s.MessageLog[:len(s.MessageLog)-w.keep]

	var summary string
	if w.deps.Summarizer != nil {
		var err error
		summary, err = w.deps.Summarizer.Summarize(ctx, older)
		if err != nil {
			if ctx.Err() != nil {
				return state.Update{}, ctx.Err()
			}
			w.logger.Warn("consolidation failed, keeping history", map[string]interface{}{"error": err.Error()})
			u.Messages = []state.Message{{Role: state.RoleSystem, Content: PrefixConsolidationError + " " + err.Error()}}
			return u, nil
		}
	} else {
		summary = digest(older)
	}

	w.logger.Info("history consolidated", map[string]interface{}{
		"summarized": len(older),
		"kept":       w.keep,
	})
	u.Compaction = &state.Compaction{
		Summary: PrefixConsolidated + "\n" + strings.TrimSpace(summary),
		Keep:    w.keep,
	}
	return u, nil
}

// digest is the summary used when no summarizer is configured: the first
// line of every message.
func digest(messages []state.Message) string {
	var b strings.Builder
	for _, m := range messages {
		line, _, _ := strings.Cut(strings.TrimSpace(m.Content), "\n")
		if line == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", m.Role, truncate(line, 200))
	}
	return b.String()
}

func (w *nodes) validateCommand(ctx context.Context, s state.TaskState) (state.Update, error) {
	risk := s.RiskLevel
	if w.deps.RiskAssessor != nil {
		r, err := w.deps.RiskAssessor.Assess(ctx, s.ActionDetails)
		switch {
		case err == nil:
			risk = r
		case ctx.Err() != nil:
			return state.Update{}, ctx.Err()
		default:
			w.logger.Warn("risk assessment failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if risk == "" {
		risk = state.RiskLow
	}
	return state.Update{
		CurrentBreakpoint:    state.Ptr(hitl.BreakpointBashCommand),
		AwaitingHumanInput:   state.Ptr(true),
		BashValidationStatus: state.Ptr(state.ValidationPending),
		RiskLevel:            state.Ptr(risk),
	}, nil
}

func (w *nodes) action(name string, a Action) taskNode {
	return func(ctx context.Context, s state.TaskState) (state.Update, error) {
		res, err := a.Execute(ctx, s.ActionDetails)
		if err != nil {
			if ctx.Err() != nil {
				return state.Update{}, ctx.Err()
			}
			if !errors.Is(err, resilience.ErrCircuitOpen) {
				return state.Update{}, fmt.Errorf("%s: %w", name, err)
			}
			res = Result{Output: err.Error()}
		}

		content := fmt.Sprintf("[%s] %s", name, res.Output)
		if !res.Success {
			content = fmt.Sprintf("%s %s: %s", PrefixFailed, name, res.Output)
		}
		u := state.Update{
			CurrentAction:       state.Ptr(state.ActionNone),
			LastOutput:          state.Ptr(res.Output),
			ActionsSinceRefresh: state.Ptr(s.ActionsSinceRefresh + 1),
			Messages:            []state.Message{{Role: state.RoleTool, Content: content}},
		}
		if w.policy.IsResearch(name) {
			u.ActionsSinceSave = state.Ptr(s.ActionsSinceSave + 1)
		}
		if node, _ := w.router.NodeFor(name); node == router.NodeBash {
			u.BashValidationStatus = state.Ptr(state.ValidationPending)
		}
		w.logAction(ctx, name, res.Output, res.Success)
		return u, nil
	}
}

// logged records the outcome of a node that reports its own counters.
func (w *nodes) logged(name string, n graph.Node[state.TaskState, state.Update]) taskNode {
	return func(ctx context.Context, s state.TaskState) (state.Update, error) {
		u, err := n.Run(ctx, s)
		if err != nil {
			return u, err
		}
		out := ""
		if u.LastOutput != nil {
			out = *u.LastOutput
		}
		w.logAction(ctx, name, out, true)
		return u, nil
	}
}

func (w *nodes) logAction(ctx context.Context, name, output string, success bool) {
	if err := w.deps.Plans.LogAction(ctx, name, output, success); err != nil {
		w.logger.Debug("action not logged to plan", map[string]interface{}{
			"action": name,
			"error":  err.Error(),
		})
	}
}

// planDetails renders the stored phases for the plan breakpoint.
func (w *nodes) planDetails(ctx context.Context, breakpoint string, s state.TaskState) string {
	if breakpoint != hitl.BreakpointPlan {
		return ""
	}
	snap, err := w.deps.Plans.Refresh(ctx)
	if err != nil {
		return ""
	}
	return phaseList(snap.Phases)
}

func (w *nodes) ack() {
	if w.deps.Watcher == nil {
		return
	}
	if err := w.deps.Watcher.Ack(); err != nil {
		w.logger.Debug("plan watcher ack failed", map[string]interface{}{"error": err.Error()})
	}
}

func phaseList(phases []plan.Phase) string {
	var b strings.Builder
	for _, ph := range phases {
		mark := " "
		if ph.Completed {
			mark = "x"
		}
		fmt.Fprintf(&b, "[%s] %d. %s", mark, ph.Index, ph.Name)
		if ph.Description != "" {
			fmt.Fprintf(&b, ": %s", ph.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatDecision(d Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Next action: %s", d.NextAction)
	if d.ActionPayload != "" {
		fmt.Fprintf(&b, "\nPayload: %s", d.ActionPayload)
	}
	if d.StatusSummary != "" {
		fmt.Fprintf(&b, "\nStatus: %s", d.StatusSummary)
	}
	if d.Reasoning != "" {
		fmt.Fprintf(&b, "\nReasoning: %s", d.Reasoning)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
