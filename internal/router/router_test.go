package router

import (
	"testing"

	"github.com/vinayprograms/taskloop/internal/graph"
	"github.com/vinayprograms/taskloop/internal/state"
)

func newRouter() *Router {
	return New(DefaultActions, 0, nil)
}

func TestRoute_IterationCap(t *testing.T) {
	r := newRouter()
	s := state.TaskState{IterationCount: 29, MaxIterations: 30, CurrentAction: "bash"}
	if got := r.Route(s); got != NodeBash {
		t.Errorf("route at 29/30 = %s, want %s", got, NodeBash)
	}
	s.IterationCount = 30
	if got := r.Route(s); got != graph.End {
		t.Errorf("route at 30/30 = %s, want End", got)
	}
}

func TestRoute_CapOverridesEverything(t *testing.T) {
	r := newRouter()
	cases := []state.TaskState{
		{IterationCount: 30, MaxIterations: 30, CurrentAction: "consolidate"},
		{IterationCount: 31, MaxIterations: 30, ContextSize: 1 << 30},
		{IterationCount: 30, MaxIterations: 30, CurrentAction: "unknown-thing"},
		{IterationCount: 30, MaxIterations: 30},
	}
	for _, s := range cases {
		if got := r.Route(s); got != graph.End {
			t.Errorf("Route(%+v) = %s, want End", s, got)
		}
	}
}

func TestRoute_CompletionPrecedence(t *testing.T) {
	r := newRouter()
	s := state.TaskState{MaxIterations: 30, CurrentAction: "complete", ContextSize: DefaultConsolidationThreshold + 1}
	if got := r.Route(s); got != graph.End {
		t.Errorf("complete with large context routed to %s, want End", got)
	}
}

func TestRoute_Consolidation(t *testing.T) {
	r := newRouter()
	s := state.TaskState{MaxIterations: 30, CurrentAction: "consolidate"}
	if got := r.Route(s); got != NodeConsolidator {
		t.Errorf("explicit consolidate routed to %s", got)
	}
	s = state.TaskState{MaxIterations: 30, CurrentAction: "search", ContextSize: DefaultConsolidationThreshold + 1}
	if got := r.Route(s); got != NodeConsolidator {
		t.Errorf("over-threshold context routed to %s", got)
	}
	s.ContextSize = DefaultConsolidationThreshold
	if got := r.Route(s); got != "search_executor" {
		t.Errorf("context at threshold routed to %s", got)
	}
}

func TestRoute_ActionTable(t *testing.T) {
	r := newRouter()
	for action, node := range DefaultActions {
		s := state.TaskState{MaxIterations: 30, CurrentAction: action}
		if got := r.Route(s); got != node {
			t.Errorf("Route(%s) = %s, want %s", action, got, node)
		}
	}
}

func TestRoute_FallbackToPlanner(t *testing.T) {
	r := newRouter()
	for _, action := range []string{"", "teleport"} {
		s := state.TaskState{MaxIterations: 30, CurrentAction: action}
		if got := r.Route(s); got != NodePlanner {
			t.Errorf("Route(%q) = %s, want planner", action, got)
		}
	}
}

func TestRestrict(t *testing.T) {
	table := Restrict(DefaultActions, []string{NodeBash, "search_executor"})
	if len(table) != 2 {
		t.Fatalf("expected 2 actions, got %v", table)
	}
	r := New(table, 0, nil)
	s := state.TaskState{MaxIterations: 30, CurrentAction: "crawl"}
	if got := r.Route(s); got != NodePlanner {
		t.Errorf("unregistered capability routed to %s, want planner", got)
	}
}

func TestAfterPlanner(t *testing.T) {
	r := newRouter()
	tests := []struct {
		name string
		s    state.TaskState
		want string
	}{
		{"cap first", state.TaskState{IterationCount: 30, MaxIterations: 30, CurrentAction: "bash", PlanFileReference: "p"}, graph.End},
		{"complete", state.TaskState{MaxIterations: 30, CurrentAction: "complete", PlanFileReference: "p"}, graph.End},
		{"critical refresh", state.TaskState{MaxIterations: 30, CurrentAction: "bash", PlanFileReference: "p"}, NodeRefreshPlan},
		{"periodic refresh", state.TaskState{MaxIterations: 30, CurrentAction: "search", ActionsSinceRefresh: 11, PlanFileReference: "p"}, NodeRefreshPlan},
		{"two-action save", state.TaskState{MaxIterations: 30, CurrentAction: "search", ActionsSinceSave: 2, PlanFileReference: "p"}, NodeSaveFindings},
		{"plain action", state.TaskState{MaxIterations: 30, CurrentAction: "search", ActionsSinceSave: 1, PlanFileReference: "p"}, "search_executor"},
		{"no plan no refresh", state.TaskState{MaxIterations: 30, CurrentAction: "bash"}, NodeBash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.AfterPlanner(tt.s); got != tt.want {
				t.Errorf("AfterPlanner = %s, want %s", got, tt.want)
			}
		})
	}
}

// Two research actions in a row must be followed by a save before the next
// research action runs.
func TestTwoActionRule_Sequence(t *testing.T) {
	r := newRouter()
	s := state.TaskState{MaxIterations: 30, CurrentAction: "search"}
	for i := 0; i < 2; i++ {
		if got := r.AfterPlanner(s); got != "search_executor" {
			t.Fatalf("action %d routed to %s", i+1, got)
		}
		s.ActionsSinceSave++
	}
	if got := r.AfterPlanner(s); got != NodeSaveFindings {
		t.Fatalf("third research action routed to %s, want save", got)
	}
	s.ActionsSinceSave = 0
	if got := r.AfterRefresh(s); got != "search_executor" {
		t.Errorf("after save routed to %s", got)
	}
}

func TestRouteAfterGate(t *testing.T) {
	r := newRouter()
	tests := []struct {
		name string
		s    state.TaskState
		want string
	}{
		{"quit", state.TaskState{ExecutionStatus: state.StatusFailed, LastBreakpoint: BreakpointBashCommand, BashValidationStatus: state.ValidationApproved}, graph.End},
		{"bash approved", state.TaskState{LastBreakpoint: BreakpointBashCommand, BashValidationStatus: state.ValidationApproved}, NodeBash},
		{"bash rejected", state.TaskState{LastBreakpoint: BreakpointBashCommand, BashValidationStatus: state.ValidationRejected}, NodePlanner},
		{"query approved", state.TaskState{LastBreakpoint: BreakpointEnhancedQuery, PlanValidationStatus: state.ValidationApproved}, NodeInitializePlan},
		{"query rejected", state.TaskState{LastBreakpoint: BreakpointEnhancedQuery, PlanValidationStatus: state.ValidationRejected}, NodeInitializePlan},
		{"plan approved", state.TaskState{LastBreakpoint: BreakpointPlan, PlanValidationStatus: state.ValidationApproved, LastDecision: "approve"}, NodePlanner},
		{"plan rejected", state.TaskState{LastBreakpoint: BreakpointPlan, PlanValidationStatus: state.ValidationRejected, LastDecision: "reject"}, NodePlanner},
		{"plan modified", state.TaskState{LastBreakpoint: BreakpointPlan, PlanValidationStatus: state.ValidationApproved, LastDecision: "modify"}, NodeInitializePlan},
		{"nothing pending", state.TaskState{}, NodePlanner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.RouteAfterGate(tt.s); got != tt.want {
				t.Errorf("RouteAfterGate = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTargetsFor(t *testing.T) {
	r := New(Restrict(DefaultActions, []string{NodeBash}), 0, nil)
	targets := r.TargetsFor(NodeRefreshPlan)
	for _, want := range []string{graph.End, NodePlanner, NodeConsolidator, NodeBash, NodeRefreshPlan} {
		if _, ok := targets[want]; !ok {
			t.Errorf("targets missing %s", want)
		}
	}
}
