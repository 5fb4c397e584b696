package workflow

import (
	"fmt"
	"sort"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/taskloop/internal/graph"
	"github.com/vinayprograms/taskloop/internal/hitl"
	"github.com/vinayprograms/taskloop/internal/plan"
	"github.com/vinayprograms/taskloop/internal/resilience"
	"github.com/vinayprograms/taskloop/internal/router"
	"github.com/vinayprograms/taskloop/internal/state"
)

// Graph is the outer task graph.
type Graph = graph.Graph[state.TaskState, state.Update]

// Conditional edge ids.
const (
	EdgeAfterGate    = "after_gate"
	EdgeAfterPlanner = "after_planner"
	EdgeAfterRefresh = "after_refresh"
	EdgeRoute        = "route"
)

// DefaultKeepRecent is how many messages survive consolidation.
const DefaultKeepRecent = 3

// Deps are the collaborators the graph is built from. Plans and Planner are
// required; everything else is optional.
type Deps struct {
	Plans   *plan.Manager
	Policy  *plan.Policy
	Watcher *plan.Watcher

	Planner      Planner
	Enhancer     Enhancer
	PhasePlanner PhasePlanner
	// Phases, when set, are used instead of asking the PhasePlanner.
	Phases     []plan.PhaseSpec
	Summarizer Summarizer

	// Gate enables human review. Nil disables every breakpoint.
	Gate         *hitl.Gate
	RiskAssessor RiskAssessor

	// Actions maps planner action names to their implementation.
	Actions  map[string]Action
	Research graph.Node[state.TaskState, state.Update]

	// Resilience, when set, wraps every action and the planner.
	Resilience *resilience.Registry

	Threshold  int
	KeepRecent int
}

// NodeName returns the executor node for an action name.
func NodeName(action string) string {
	if n, ok := router.DefaultActions[action]; ok {
		return n
	}
	return action + "_executor"
}

// Build assembles the task graph and the router that drives it.
func Build(d Deps) (*Graph, *router.Router, error) {
	if d.Plans == nil {
		return nil, nil, fmt.Errorf("workflow: plan manager is required")
	}
	if d.Planner == nil {
		return nil, nil, fmt.Errorf("workflow: planner is required")
	}
	if d.Policy == nil {
		d.Policy = plan.DefaultPolicy()
	}
	if d.KeepRecent <= 0 {
		d.KeepRecent = DefaultKeepRecent
	}
	if d.Resilience != nil {
		d.Planner = resilientPlanner{planner: d.Planner, reg: d.Resilience}
	}

	w := &nodes{
		deps:   d,
		policy: d.Policy,
		keep:   d.KeepRecent,
		hitl:   d.Gate != nil,
		logger: logging.New().WithComponent("workflow"),
	}
	g := graph.New[state.TaskState, state.Update]("taskloop")

	var err error
	add := func(name string, n graph.Node[state.TaskState, state.Update]) {
		if err == nil {
			err = g.AddNode(name, n)
		}
	}
	edge := func(from, to string) {
		if err == nil {
			err = g.AddEdge(from, to)
		}
	}
	branch := func(from, id string, route graph.RouteFunc[state.TaskState], targets map[string]string) {
		if err == nil {
			err = g.AddConditionalEdge(from, id, route, targets)
		}
	}

	add(router.NodeInitializePlan, taskNode(w.initializePlan))
	add(router.NodePlanner, taskNode(w.planner))
	add(router.NodeRefreshPlan, taskNode(w.refreshPlan))
	add(router.NodeSaveFindings, taskNode(w.saveFindings))
	add(router.NodeConsolidator, taskNode(w.consolidate))

	table := make(map[string]string)
	names := make([]string, 0, len(d.Actions))
	for name, a := range d.Actions {
		if a != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		a := d.Actions[name]
		if d.Resilience != nil {
			a = Resilient(a, d.Resilience, name)
		}
		node := NodeName(name)
		table[name] = node
		add(node, w.action(name, a))
		edge(node, router.NodePlanner)
	}
	if d.Research != nil {
		table["deep_research"] = router.NodeDeepResearch
		add(router.NodeDeepResearch, w.logged("deep_research", d.Research))
		edge(router.NodeDeepResearch, router.NodePlanner)
	}
	if err != nil {
		return nil, nil, err
	}

	r := router.New(table, d.Threshold, d.Policy)
	w.router = r
	hasBash := table["bash"] == router.NodeBash

	// Under review, the command label is sent to validation first.
	targets := func(extra ...string) map[string]string {
		t := r.TargetsFor(extra...)
		if w.hitl && hasBash {
			t[router.NodeBash] = router.NodeValidateCmd
		}
		return t
	}

	entry := router.NodeInitializePlan
	if d.Enhancer != nil {
		add(router.NodeEnhanceQuery, taskNode(w.enhanceQuery))
		entry = router.NodeEnhanceQuery
	}

	if w.hitl {
		if d.Gate.Details == nil {
			d.Gate.Details = w.planDetails
		}
		add(router.NodeGate, d.Gate)
		gateTargets := graph.Targets(graph.End, router.NodePlanner, router.NodeInitializePlan)
		if hasBash {
			add(router.NodeValidateCmd, taskNode(w.validateCommand))
			edge(router.NodeValidateCmd, router.NodeGate)
			gateTargets[router.NodeBash] = router.NodeBash
		}
		branch(router.NodeGate, EdgeAfterGate, r.RouteAfterGate, gateTargets)
		edge(router.NodeInitializePlan, router.NodeGate)
		if d.Enhancer != nil {
			edge(router.NodeEnhanceQuery, router.NodeGate)
		}
	} else {
		edge(router.NodeInitializePlan, router.NodePlanner)
		if d.Enhancer != nil {
			edge(router.NodeEnhanceQuery, router.NodeInitializePlan)
		}
	}

	branch(router.NodePlanner, EdgeAfterPlanner, r.AfterPlanner, targets(router.NodeRefreshPlan, router.NodeSaveFindings))
	branch(router.NodeRefreshPlan, EdgeAfterRefresh, r.AfterRefresh, targets(router.NodeSaveFindings))
	branch(router.NodeSaveFindings, EdgeRoute, r.Route, targets())
	edge(router.NodeConsolidator, router.NodePlanner)

	if err == nil {
		err = g.SetEntry(entry)
	}
	if err == nil {
		err = g.Validate()
	}
	if err != nil {
		return nil, nil, err
	}
	return g, r, nil
}
