// Package workflow assembles the outer task graph: the planner, the plan
// refresh and findings nodes, consolidation, the human gate and one executor
// node per registered action.
package workflow

import (
	"context"

	"github.com/vinayprograms/taskloop/internal/plan"
	"github.com/vinayprograms/taskloop/internal/resilience"
	"github.com/vinayprograms/taskloop/internal/state"
)

// Decision is the planner's structured reply.
type Decision struct {
	NextAction    string `json:"next_action"`
	ActionPayload string `json:"action_payload"`
	StatusSummary string `json:"status_summary"`
	Reasoning     string `json:"reasoning,omitempty"`
	// CompletePhase marks a plan phase done when positive.
	CompletePhase int `json:"complete_phase,omitempty"`
}

// PlanRequest is what the planner sees each iteration.
type PlanRequest struct {
	Goal          string
	Query         string
	Messages      []state.Message
	Iteration     int
	MaxIterations int
	Actions       []string
	LastOutput    string
	StatusSummary string
}

// Planner picks the next action.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (Decision, error)
}

// Enhancement is a rewritten request with its assessed risk.
type Enhancement struct {
	EnhancedQuery string          `json:"enhanced_query"`
	Risk          state.RiskLevel `json:"risk_level"`
}

// Enhancer rewrites the user request before planning.
type Enhancer interface {
	Enhance(ctx context.Context, query string) (Enhancement, error)
}

// PhasePlanner breaks a goal into plan phases.
type PhasePlanner interface {
	PlanPhases(ctx context.Context, goal string) ([]plan.PhaseSpec, error)
}

// Summarizer condenses old history during consolidation.
type Summarizer interface {
	Summarize(ctx context.Context, messages []state.Message) (string, error)
}

// RiskAssessor rates a shell command before the gate sees it.
type RiskAssessor interface {
	Assess(ctx context.Context, command string) (state.RiskLevel, error)
}

// Result is an action outcome. Success=false is reported back to the
// planner as text; it does not fail the node.
type Result struct {
	Output  string
	Success bool
}

// Action executes one planner decision.
type Action interface {
	Execute(ctx context.Context, payload string) (Result, error)
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, payload string) (Result, error)

// Execute calls f.
func (f ActionFunc) Execute(ctx context.Context, payload string) (Result, error) {
	return f(ctx, payload)
}

// Resilient wraps a with retry and the circuit breaker registered as name.
func Resilient(a Action, reg *resilience.Registry, name string) Action {
	return ActionFunc(func(ctx context.Context, payload string) (Result, error) {
		return resilience.Do(ctx, reg, name, func(ctx context.Context) (Result, error) {
			return a.Execute(ctx, payload)
		})
	})
}

type resilientPlanner struct {
	planner Planner
	reg     *resilience.Registry
}

func (p resilientPlanner) Plan(ctx context.Context, req PlanRequest) (Decision, error) {
	return resilience.Do(ctx, p.reg, "planner", func(ctx context.Context) (Decision, error) {
		return p.planner.Plan(ctx, req)
	})
}
