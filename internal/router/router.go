// Package router holds the dispatch policy: pure functions from task state to
// the name of the next node.
package router

import (
	"sort"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/taskloop/internal/graph"
	"github.com/vinayprograms/taskloop/internal/hitl"
	"github.com/vinayprograms/taskloop/internal/plan"
	"github.com/vinayprograms/taskloop/internal/state"
)

// Well-known node names.
const (
	NodePlanner        = "planner"
	NodeConsolidator   = "consolidator"
	NodeRefreshPlan    = "refresh_plan"
	NodeSaveFindings   = "save_findings"
	NodeInitializePlan = "initialize_plan"
	NodeEnhanceQuery   = "enhance_query"
	NodeGate           = "hitl_gate"
	NodeValidateCmd    = "validate_command"
	NodeBash           = "bash_executor"
	NodeDeepResearch   = "deep_research"
)

// Breakpoint type names, shared with the gate.
const (
	BreakpointEnhancedQuery = hitl.BreakpointEnhancedQuery
	BreakpointPlan          = hitl.BreakpointPlan
	BreakpointBashCommand   = hitl.BreakpointBashCommand
)

// DefaultActions maps planner actions to executor nodes.
var DefaultActions = map[string]string{
	"bash":          NodeBash,
	"search":        "search_executor",
	"browser":       "browser_executor",
	"crawl":         "crawl_executor",
	"edit":          "editor_executor",
	"plan":          "planning_executor",
	"ask":           "ask_human_executor",
	"document":      "document_executor",
	"data_analysis": "data_analysis_executor",
	"deep_research": NodeDeepResearch,
}

// DefaultConsolidationThreshold is the context size, in estimated tokens,
// above which history is consolidated.
const DefaultConsolidationThreshold = 80000

// Router decides the next node after each step.
type Router struct {
	actions   map[string]string
	threshold int
	policy    *plan.Policy
	logger    *logging.Logger
}

// New creates a router over an action table. A nil policy uses the defaults.
func New(actions map[string]string, threshold int, policy *plan.Policy) *Router {
	if threshold <= 0 {
		threshold = DefaultConsolidationThreshold
	}
	if policy == nil {
		policy = plan.DefaultPolicy()
	}
	table := make(map[string]string, len(actions))
	for k, v := range actions {
		table[k] = v
	}
	return &Router{
		actions:   table,
		threshold: threshold,
		policy:    policy,
		logger:    logging.New().WithComponent("router"),
	}
}

// Restrict returns a copy of table keeping only actions whose node is in
// available.
func Restrict(table map[string]string, available []string) map[string]string {
	have := make(map[string]bool, len(available))
	for _, a := range available {
		have[a] = true
	}
	out := make(map[string]string)
	for action, node := range table {
		if have[node] {
			out[action] = node
		}
	}
	return out
}

// Policy returns the refresh/save policy.
func (r *Router) Policy() *plan.Policy { return r.policy }

// Threshold returns the consolidation threshold.
func (r *Router) Threshold() int { return r.threshold }

// Actions returns the action names the router can dispatch, sorted.
func (r *Router) Actions() []string {
	out := make([]string, 0, len(r.actions))
	for a := range r.actions {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// ActionNodes returns the distinct executor nodes in the table.
func (r *Router) ActionNodes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range r.Actions() {
		n := r.actions[a]
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// NodeFor returns the executor node for action.
func (r *Router) NodeFor(action string) (string, bool) {
	n, ok := r.actions[action]
	return n, ok
}

// Route picks the next node. The first matching rule wins: iteration cap,
// completion, consolidation, then the action table.
func (r *Router) Route(s state.TaskState) string {
	if s.AtLimit() {
		return graph.End
	}
	if s.CurrentAction == state.ActionComplete {
		return graph.End
	}
	if s.CurrentAction == state.ActionConsolidate || s.ContextSize > r.threshold {
		return NodeConsolidator
	}
	if s.CurrentAction == state.ActionNone {
		return NodePlanner
	}
	if node, ok := r.actions[s.CurrentAction]; ok {
		return node
	}
	r.logger.Warn("unknown action, falling back to planner", map[string]interface{}{
		"action": s.CurrentAction,
	})
	return NodePlanner
}

// AfterPlanner is the planner's outgoing edge. Termination rules are checked
// before the plan refresh and findings save.
func (r *Router) AfterPlanner(s state.TaskState) string {
	if s.AtLimit() || s.CurrentAction == state.ActionComplete {
		return graph.End
	}
	if r.policy.ShouldRefresh(s) {
		return NodeRefreshPlan
	}
	return r.AfterRefresh(s)
}

// AfterRefresh applies the save rule, then Route.
func (r *Router) AfterRefresh(s state.TaskState) string {
	if s.AtLimit() || s.CurrentAction == state.ActionComplete {
		return graph.End
	}
	if r.policy.ShouldSaveFindings(s) {
		return NodeSaveFindings
	}
	return r.Route(s)
}

// RouteAfterGate runs right after the gate clears a breakpoint.
func (r *Router) RouteAfterGate(s state.TaskState) string {
	if s.ExecutionStatus == state.StatusFailed {
		return graph.End
	}
	switch s.LastBreakpoint {
	case BreakpointBashCommand:
		switch s.BashValidationStatus {
		case state.ValidationApproved, state.ValidationModified:
			return NodeBash
		}
		return NodePlanner
	case BreakpointEnhancedQuery:
		return NodeInitializePlan
	case BreakpointPlan:
		if s.LastDecision == string(hitl.Modify) {
			return NodeInitializePlan
		}
		return NodePlanner
	}
	return NodePlanner
}

// TargetsFor lists every label Route can return for this router, mapped to
// itself. Graph assembly uses it to declare the allowed successors.
func (r *Router) TargetsFor(extra ...string) map[string]string {
	names := append([]string{graph.End, NodePlanner, NodeConsolidator}, r.ActionNodes()...)
	names = append(names, extra...)
	return graph.Targets(names...)
}
