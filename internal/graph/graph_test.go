package graph

import (
	"context"
	"errors"
	"testing"
)

type counter struct {
	n   int
	log []string
}

type delta struct {
	inc  int
	note string
}

func mergeCounter(s counter, d delta) counter {
	s.n += d.inc
	s.log = append(append([]string(nil), s.log...), d.note)
	return s
}

func step(note string) Node[counter, delta] {
	return NodeFunc[counter, delta](func(ctx context.Context, s counter) (delta, error) {
		return delta{inc: 1, note: note}, nil
	})
}

func TestGraph_CycleUntilCondition(t *testing.T) {
	g := New[counter, delta]("loop")
	if err := g.AddNode("work", step("work")); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}
	if err := g.AddNode("done", step("done")); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}
	route := func(s counter) string {
		if s.n >= 3 {
			return "done"
		}
		return "work"
	}
	if err := g.AddConditionalEdge("work", "after_work", route, Targets("work", "done")); err != nil {
		t.Fatalf("AddConditionalEdge failed: %v", err)
	}
	if err := g.AddEdge("done", End); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}
	if err := g.SetEntry("work"); err != nil {
		t.Fatalf("SetEntry failed: %v", err)
	}

	r := &Runner[counter, delta]{Graph: g, Merge: mergeCounter, MaxSteps: 10}
	out, err := r.Run(context.Background(), counter{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []string{"work", "work", "work", "done"}
	if len(out.log) != len(want) {
		t.Fatalf("log = %v, want %v", out.log, want)
	}
	for i := range want {
		if out.log[i] != want[i] {
			t.Errorf("log[%d] = %s, want %s", i, out.log[i], want[i])
		}
	}
}

func TestGraph_IllegalRouteAtExecution(t *testing.T) {
	g := New[counter, delta]("bad")
	g.AddNode("a", step("a"))
	// Registration accepts the edge; the bad label is only seen when it runs.
	if err := g.AddConditionalEdge("a", "after_a", func(counter) string { return "nowhere" }, Targets("a")); err != nil {
		t.Fatalf("registration should not fail: %v", err)
	}
	g.SetEntry("a")

	_, err := g.Next("a", counter{})
	if !errors.Is(err, ErrIllegalRoute) {
		t.Fatalf("expected ErrIllegalRoute, got %v", err)
	}
}

func TestGraph_LabelMapping(t *testing.T) {
	g := New[counter, delta]("map")
	g.AddNode("a", step("a"))
	g.AddNode("validate", step("validate"))
	g.AddConditionalEdge("a", "after_a", func(counter) string { return "exec" }, map[string]string{"exec": "validate", "stop": End})
	next, err := g.Next("a", counter{})
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if next != "validate" {
		t.Errorf("next = %s, want validate", next)
	}
}

func TestGraph_RegistrationErrors(t *testing.T) {
	g := New[counter, delta]("reg")
	if err := g.AddNode(End, step("x")); err == nil {
		t.Error("expected error registering End as a node")
	}
	g.AddNode("a", step("a"))
	if err := g.AddNode("a", step("a")); err == nil {
		t.Error("expected duplicate node error")
	}
	g.AddEdge("a", End)
	if err := g.AddEdge("a", "b"); err == nil {
		t.Error("expected error for second edge from a")
	}
	if err := g.SetEntry("missing"); err == nil {
		t.Error("expected unknown entry error")
	}
}

func TestGraph_Validate(t *testing.T) {
	g := New[counter, delta]("v")
	g.AddNode("a", step("a"))
	if err := g.Validate(); err == nil {
		t.Error("expected error without entry")
	}
	g.SetEntry("a")
	g.AddEdge("a", "ghost")
	if err := g.Validate(); err == nil {
		t.Error("expected error for edge to unknown node")
	}
}

func TestGraph_NoEdge(t *testing.T) {
	g := New[counter, delta]("n")
	g.AddNode("a", step("a"))
	if _, err := g.Next("a", counter{}); !errors.Is(err, ErrNoEdge) {
		t.Errorf("expected ErrNoEdge, got %v", err)
	}
}

func TestGraph_RouteRegistry(t *testing.T) {
	g := New[counter, delta]("r")
	g.AddNode("a", step("a"))
	route := func(s counter) string {
		if s.n > 0 {
			return "a"
		}
		return "stop"
	}
	g.AddConditionalEdge("a", "after_a", route, map[string]string{"a": "a", "stop": End})

	fn, ok := g.Route("after_a")
	if !ok {
		t.Fatal("route not registered")
	}
	if fn(counter{n: 1}) != "a" || fn(counter{}) != "stop" {
		t.Error("registered route returned unexpected labels")
	}
	if ids := g.EdgeIDs(); len(ids) != 1 || ids[0] != "after_a" {
		t.Errorf("EdgeIDs = %v", ids)
	}
}

func TestRunner_StepLimit(t *testing.T) {
	g := New[counter, delta]("spin")
	g.AddNode("a", step("a"))
	g.AddEdge("a", "a")
	g.SetEntry("a")

	r := &Runner[counter, delta]{Graph: g, Merge: mergeCounter, MaxSteps: 5}
	out, err := r.Run(context.Background(), counter{})
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("expected ErrStepLimit, got %v", err)
	}
	if out.n != 5 {
		t.Errorf("expected 5 steps, got %d", out.n)
	}
}

func TestRunner_Recover(t *testing.T) {
	boom := errors.New("boom")
	g := New[counter, delta]("rec")
	g.AddNode("fail", NodeFunc[counter, delta](func(ctx context.Context, s counter) (delta, error) {
		return delta{}, boom
	}))
	g.AddEdge("fail", End)
	g.SetEntry("fail")

	r := &Runner[counter, delta]{Graph: g, Merge: mergeCounter}
	if _, err := r.Run(context.Background(), counter{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	r.Recover = func(node string, s counter, err error) (delta, bool) {
		return delta{note: "recovered " + node}, true
	}
	out, err := r.Run(context.Background(), counter{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out.log) != 1 || out.log[0] != "recovered fail" {
		t.Errorf("log = %v", out.log)
	}
}
