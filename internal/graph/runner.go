package graph

import (
	"context"
	"errors"
	"fmt"
)

// ErrStepLimit is returned when a Runner exceeds MaxSteps.
var ErrStepLimit = errors.New("step limit exceeded")

// Runner drives a graph from its entry to End. It is used for nested graphs
// that have no checkpointing or human gate of their own.
type Runner[S, U any] struct {
	Graph *Graph[S, U]
	Merge func(S, U) S

	// MaxSteps guards against routing bugs. Zero means unlimited.
	MaxSteps int

	// Recover converts a node error into an update. Returning false
	// propagates the error.
	Recover func(node string, s S, err error) (U, bool)

	// OnStep is called after each node's update is merged.
	OnStep func(node string, s S)
}

// Run executes the graph and returns the final state.
func (r *Runner[S, U]) Run(ctx context.Context, s S) (S, error) {
	if err := r.Graph.Validate(); err != nil {
		return s, err
	}
	current := r.Graph.Entry()
	for steps := 0; current != End; steps++ {
		if r.MaxSteps > 0 && steps >= r.MaxSteps {
			return s, fmt.Errorf("graph %s: %w (%d)", r.Graph.Name(), ErrStepLimit, r.MaxSteps)
		}
		if err := ctx.Err(); err != nil {
			return s, err
		}
		node, ok := r.Graph.Node(current)
		if !ok {
			return s, fmt.Errorf("graph %s: unknown node %s", r.Graph.Name(), current)
		}
		u, err := node.Run(ctx, s)
		if err != nil {
			recovered := false
			if r.Recover != nil {
				u, recovered = r.Recover(current, s, err)
			}
			if !recovered {
				return s, fmt.Errorf("node %s: %w", current, err)
			}
		}
		s = r.Merge(s, u)
		if r.OnStep != nil {
			r.OnStep(current, s)
		}
		next, err := r.Graph.Next(current, s)
		if err != nil {
			return s, err
		}
		current = next
	}
	return s, nil
}
