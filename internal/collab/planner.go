package collab

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/taskloop/internal/plan"
	"github.com/vinayprograms/taskloop/internal/state"
	"github.com/vinayprograms/taskloop/internal/workflow"
)

const plannerSystem = `You are an autonomous agent working toward a goal one action at a time.
Each turn you choose exactly one next action and its payload.

Reply with one JSON object:
{"next_action": "<action>", "action_payload": "<command, query, URL or final answer>",
 "status_summary": "<one line: done so far and what is next>",
 "reasoning": "<why this action>", "complete_phase": <plan phase number finished by the last action, or 0>}

Rules:
- next_action is one of the listed actions, "consolidate" when the history is too long, or "complete".
- For "complete", action_payload is the final answer for the user.
- If an action failed, change approach instead of repeating it.`

// recentMessages is how much history the planner sees.
const recentMessages = 12

// Planner asks the model for the next action.
type Planner struct {
	model *Model
}

// NewPlanner creates a planner.
func NewPlanner(m *Model) *Planner {
	return &Planner{model: m}
}

// Plan returns a validated decision.
func (p *Planner) Plan(ctx context.Context, req workflow.PlanRequest) (workflow.Decision, error) {
	allowed := make(map[string]bool, len(req.Actions)+2)
	for _, a := range req.Actions {
		allowed[a] = true
	}
	allowed[state.ActionComplete] = true
	allowed[state.ActionConsolidate] = true

	var d workflow.Decision
	err := p.model.structured(ctx, "planner", plannerSystem, planPrompt(req), &d, func() error {
		d.NextAction = strings.ToLower(strings.TrimSpace(d.NextAction))
		if !allowed[d.NextAction] {
			return invalid("planner", "next_action %q is not one of %s", d.NextAction, strings.Join(req.Actions, ", "))
		}
		if d.NextAction != state.ActionConsolidate && strings.TrimSpace(d.ActionPayload) == "" {
			return invalid("planner", "action_payload is empty")
		}
		if d.CompletePhase < 0 {
			d.CompletePhase = 0
		}
		return nil
	})
	if err != nil {
		return workflow.Decision{}, err
	}
	return d, nil
}

func planPrompt(req workflow.PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "GOAL: %s\n", req.Goal)
	if req.Query != "" && req.Query != req.Goal {
		fmt.Fprintf(&b, "ORIGINAL REQUEST: %s\n", req.Query)
	}
	fmt.Fprintf(&b, "ITERATION: %d of %d\n", req.Iteration+1, req.MaxIterations)
	fmt.Fprintf(&b, "AVAILABLE ACTIONS: %s\n", strings.Join(req.Actions, ", "))
	if req.StatusSummary != "" {
		fmt.Fprintf(&b, "STATUS: %s\n", req.StatusSummary)
	}
	if req.LastOutput != "" {
		fmt.Fprintf(&b, "\nLAST OUTPUT:\n%s\n", truncate(req.LastOutput, 2000))
	}
	msgs := req.Messages
	if len(msgs) > recentMessages {
		msgs = msgs[len(msgs)-recentMessages:]
	}
	if len(msgs) > 0 {
		b.WriteString("\nRECENT HISTORY:\n")
		for _, m := range msgs {
			fmt.Fprintf(&b, "[%s] %s\n", m.Role, truncate(m.Content, 500))
		}
	}
	return b.String()
}

const enhancerSystem = `You rewrite a user request into a precise, self-contained task description
and assess how risky it is to carry out automatically.

Reply with one JSON object:
{"enhanced_query": "<rewritten request>", "risk_level": "low|medium|high|critical"}`

// Enhancer rewrites the user request before planning.
type Enhancer struct {
	model *Model
}

// NewEnhancer creates an enhancer.
func NewEnhancer(m *Model) *Enhancer {
	return &Enhancer{model: m}
}

// Enhance returns the rewritten request and its risk.
func (e *Enhancer) Enhance(ctx context.Context, query string) (workflow.Enhancement, error) {
	var out workflow.Enhancement
	err := e.model.structured(ctx, "enhancer", enhancerSystem, "REQUEST: "+query, &out, func() error {
		out.EnhancedQuery = strings.TrimSpace(out.EnhancedQuery)
		if out.EnhancedQuery == "" {
			return invalid("enhancer", "enhanced_query is empty")
		}
		risk, err := parseRisk("enhancer", string(out.Risk))
		out.Risk = risk
		return err
	})
	return out, err
}

const phasesSystem = `You break a goal into an ordered list of 2 to 7 phases.

Reply with one JSON object:
{"phases": [{"name": "<short name>", "description": "<what this phase delivers>"}]}`

// PhasePlanner splits a goal into plan phases.
type PhasePlanner struct {
	model *Model
}

// NewPhasePlanner creates a phase planner.
func NewPhasePlanner(m *Model) *PhasePlanner {
	return &PhasePlanner{model: m}
}

// PlanPhases returns the phases for goal.
func (p *PhasePlanner) PlanPhases(ctx context.Context, goal string) ([]plan.PhaseSpec, error) {
	var out struct {
		Phases []plan.PhaseSpec `json:"phases"`
	}
	err := p.model.structured(ctx, "phases", phasesSystem, "GOAL: "+goal, &out, func() error {
		if len(out.Phases) == 0 {
			return invalid("phases", "no phases")
		}
		for i, ph := range out.Phases {
			if strings.TrimSpace(ph.Name) == "" {
				return invalid("phases", "phase %d has no name", i+1)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Phases, nil
}

const riskSystem = `You rate the risk of running a shell command on the user's machine.
Destructive, privileged, network-piping or system-path commands are high or critical.

Reply with one JSON object:
{"risk_level": "low|medium|high|critical", "reason": "<short reason>"}`

// RiskAssessor rates shell commands.
type RiskAssessor struct {
	model *Model
}

// NewRiskAssessor creates a risk assessor.
func NewRiskAssessor(m *Model) *RiskAssessor {
	return &RiskAssessor{model: m}
}

// Assess returns the risk of command.
func (r *RiskAssessor) Assess(ctx context.Context, command string) (state.RiskLevel, error) {
	var out struct {
		Risk   string `json:"risk_level"`
		Reason string `json:"reason"`
	}
	var risk state.RiskLevel
	err := r.model.structured(ctx, "risk", riskSystem, "COMMAND: "+command, &out, func() error {
		var err error
		risk, err = parseRisk("risk", out.Risk)
		return err
	})
	return risk, err
}

func parseRisk(schema, s string) (state.RiskLevel, error) {
	switch r := state.RiskLevel(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return state.RiskLow, nil
	case state.RiskLow, state.RiskMedium, state.RiskHigh, state.RiskCritical:
		return r, nil
	}
	return "", invalid(schema, "unknown risk level %q", s)
}

const historySystem = `You condense an agent's working history. Keep every fact, result, file path,
URL and decision that later steps may need. Drop chatter. Reply in plain text.`

// HistorySummarizer condenses old messages during consolidation.
type HistorySummarizer struct {
	model *Model
}

// NewHistorySummarizer creates a history summarizer.
func NewHistorySummarizer(m *Model) *HistorySummarizer {
	return &HistorySummarizer{model: m}
}

// Summarize returns a condensed version of messages.
func (h *HistorySummarizer) Summarize(ctx context.Context, messages []state.Message) (string, error) {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, truncate(m.Content, 2000))
	}
	out, err := h.model.Text(ctx, historySystem, b.String())
	if err != nil {
		return "", fmt.Errorf("summarize history: %w", err)
	}
	if out == "" {
		return "", invalid("history", "empty summary")
	}
	return out, nil
}
