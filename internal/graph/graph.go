// Package graph provides a small workflow graph: named nodes, fixed edges and
// conditional edges whose routing functions are checked against a declared
// set of labels when they run.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// End is the terminal sentinel. Routing to End stops execution.
const End = "__end__"

var (
	// ErrIllegalRoute is returned when a routing function yields a label that
	// was not declared for its edge.
	ErrIllegalRoute = errors.New("illegal route")
	// ErrNoEdge is returned when a node has no outgoing edge.
	ErrNoEdge = errors.New("no outgoing edge")
)

// Node is one unit of work. It receives a snapshot and returns a partial
// update; it must not retain the snapshot.
type Node[S, U any] interface {
	Run(ctx context.Context, s S) (U, error)
}

// NodeFunc adapts a function to Node.
type NodeFunc[S, U any] func(ctx context.Context, s S) (U, error)

// Run calls f.
func (f NodeFunc[S, U]) Run(ctx context.Context, s S) (U, error) {
	return f(ctx, s)
}

// RouteFunc inspects live state and returns a label.
type RouteFunc[S any] func(s S) string

// Targets builds an identity label map: each label routes to the node of the
// same name.
func Targets(names ...string) map[string]string {
	m := make(map[string]string, len(names))
	for _, n := range names {
		m[n] = n
	}
	return m
}

type branch[S any] struct {
	id      string
	route   RouteFunc[S]
	targets map[string]string
}

// Graph holds nodes and edges. It is built once and then read by runners.
type Graph[S, U any] struct {
	name     string
	entry    string
	nodes    map[string]Node[S, U]
	order    []string
	edges    map[string]string
	branches map[string]*branch[S]
	routes   map[string]RouteFunc[S]
}

// New creates an empty graph.
func New[S, U any](name string) *Graph[S, U] {
	return &Graph[S, U]{
		name:     name,
		nodes:    make(map[string]Node[S, U]),
		edges:    make(map[string]string),
		branches: make(map[string]*branch[S]),
		routes:   make(map[string]RouteFunc[S]),
	}
}

// Name returns the graph name.
func (g *Graph[S, U]) Name() string { return g.name }

// AddNode registers a node under a unique name.
func (g *Graph[S, U]) AddNode(name string, n Node[S, U]) error {
	if name == "" || name == End {
		return fmt.Errorf("graph %s: invalid node name %q", g.name, name)
	}
	if n == nil {
		return fmt.Errorf("graph %s: node %s is nil", g.name, name)
	}
	if _, ok := g.nodes[name]; ok {
		return fmt.Errorf("graph %s: duplicate node %s", g.name, name)
	}
	g.nodes[name] = n
	g.order = append(g.order, name)
	return nil
}

// AddEdge sets a fixed successor for from.
func (g *Graph[S, U]) AddEdge(from, to string) error {
	if err := g.checkFree(from); err != nil {
		return err
	}
	g.edges[from] = to
	return nil
}

// AddConditionalEdge registers route under id as the outgoing edge of from.
// targets maps each label route may return to a node name (or End).
func (g *Graph[S, U]) AddConditionalEdge(from, id string, route RouteFunc[S], targets map[string]string) error {
	if err := g.checkFree(from); err != nil {
		return err
	}
	if route == nil {
		return fmt.Errorf("graph %s: edge %s has no routing function", g.name, id)
	}
	if len(targets) == 0 {
		return fmt.Errorf("graph %s: edge %s declares no targets", g.name, id)
	}
	if _, ok := g.routes[id]; ok {
		return fmt.Errorf("graph %s: duplicate edge id %s", g.name, id)
	}
	copied := make(map[string]string, len(targets))
	for k, v := range targets {
		copied[k] = v
	}
	g.branches[from] = &branch[S]{id: id, route: route, targets: copied}
	g.routes[id] = route
	return nil
}

func (g *Graph[S, U]) checkFree(from string) error {
	if from == "" || from == End {
		return fmt.Errorf("graph %s: invalid edge source %q", g.name, from)
	}
	if _, ok := g.edges[from]; ok {
		return fmt.Errorf("graph %s: node %s already has an edge", g.name, from)
	}
	if _, ok := g.branches[from]; ok {
		return fmt.Errorf("graph %s: node %s already has a conditional edge", g.name, from)
	}
	return nil
}

// SetEntry sets the entry node.
func (g *Graph[S, U]) SetEntry(name string) error {
	if _, ok := g.nodes[name]; !ok {
		return fmt.Errorf("graph %s: unknown entry node %s", g.name, name)
	}
	g.entry = name
	return nil
}

// Entry returns the entry node name.
func (g *Graph[S, U]) Entry() string { return g.entry }

// Node returns the node registered under name.
func (g *Graph[S, U]) Node(name string) (Node[S, U], bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns node names in registration order.
func (g *Graph[S, U]) Nodes() []string {
	return append([]string(nil), g.order...)
}

// Route returns the routing function registered under an edge id.
func (g *Graph[S, U]) Route(id string) (RouteFunc[S], bool) {
	r, ok := g.routes[id]
	return r, ok
}

// EdgeIDs returns the registered conditional edge ids, sorted.
func (g *Graph[S, U]) EdgeIDs() []string {
	ids := make([]string, 0, len(g.routes))
	for id := range g.routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks that the entry is set and every edge names a registered
// node. Cycles are allowed.
func (g *Graph[S, U]) Validate() error {
	if g.entry == "" {
		return fmt.Errorf("graph %s: entry node not set", g.name)
	}
	known := func(name string) bool {
		if name == End {
			return true
		}
		_, ok := g.nodes[name]
		return ok
	}
	for from, to := range g.edges {
		if !known(from) {
			return fmt.Errorf("graph %s: edge from unknown node %s", g.name, from)
		}
		if !known(to) {
			return fmt.Errorf("graph %s: edge %s -> unknown node %s", g.name, from, to)
		}
	}
	for from, b := range g.branches {
		if !known(from) {
			return fmt.Errorf("graph %s: edge %s from unknown node %s", g.name, b.id, from)
		}
		for label, to := range b.targets {
			if !known(to) {
				return fmt.Errorf("graph %s: edge %s label %s -> unknown node %s", g.name, b.id, label, to)
			}
		}
	}
	return nil
}

// Next evaluates the outgoing edge of from against s.
func (g *Graph[S, U]) Next(from string, s S) (string, error) {
	if to, ok := g.edges[from]; ok {
		return to, nil
	}
	b, ok := g.branches[from]
	if !ok {
		return "", fmt.Errorf("graph %s: node %s: %w", g.name, from, ErrNoEdge)
	}
	label := b.route(s)
	to, ok := b.targets[label]
	if !ok {
		return "", fmt.Errorf("graph %s: edge %s returned %q: %w", g.name, b.id, label, ErrIllegalRoute)
	}
	return to, nil
}
