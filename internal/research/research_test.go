package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/vinayprograms/taskloop/internal/memory"
	"github.com/vinayprograms/taskloop/internal/plan"
	"github.com/vinayprograms/taskloop/internal/state"
)

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	empty   bool
}

func (f *fakeSearcher) Search(ctx context.Context, query string, max int) ([]Source, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.empty {
		return nil, nil
	}
	return []Source{
		{Title: "About " + query, URL: "https://example.com/" + strings.ReplaceAll(query, " ", "-"), Snippet: "facts on " + query},
	}, nil
}

type countingPlanner struct {
	calls int
}

func (p *countingPlanner) PlanQueries(ctx context.Context, req QueryRequest) ([]string, error) {
	p.calls++
	var out []string
	for i := 0; i < req.Count; i++ {
		out = append(out, fmt.Sprintf("%s q%d.%d", req.Topic, req.Depth, i))
	}
	return out, nil
}

// alwaysContinue recommends another cycle every time.
type alwaysContinue struct{ calls int }

func (r *alwaysContinue) Reflect(ctx context.Context, req ReflectRequest) (Reflection, error) {
	r.calls++
	return Reflection{Gaps: []string{"more detail"}, Continue: true, Reasoning: "keep going"}, nil
}

type failingReflector struct{}

func (failingReflector) Reflect(ctx context.Context, req ReflectRequest) (Reflection, error) {
	return Reflection{}, errors.New("model unavailable")
}

func TestController_DepthBounded(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("max_depth=%d", n), func(t *testing.T) {
			planner := &countingPlanner{}
			reflector := &alwaysContinue{}
			c, err := New(Config{MaxDepth: n}, Deps{
				Planner:   planner,
				Searcher:  &fakeSearcher{},
				Reflector: reflector,
			})
			if err != nil {
				t.Fatal(err)
			}
			out, err := c.Run(context.Background(), "solar")
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if planner.calls != n {
				t.Errorf("cycles = %d, want %d", planner.calls, n)
			}
			if out.Depth != n {
				t.Errorf("depth = %d, want %d", out.Depth, n)
			}
			if out.Report == "" {
				t.Error("no report after finalize")
			}
		})
	}
}

func TestController_ReflectionFailureStops(t *testing.T) {
	planner := &countingPlanner{}
	c, err := New(Config{MaxDepth: 5}, Deps{
		Planner:   planner,
		Searcher:  &fakeSearcher{},
		Reflector: failingReflector{},
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Run(context.Background(), "solar")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if planner.calls != 1 || out.Depth != 1 {
		t.Errorf("calls=%d depth=%d, want 1 cycle", planner.calls, out.Depth)
	}
	found := false
	for _, m := range out.Messages {
		if strings.HasPrefix(m, "[REFLECTION FAILED]") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing failure message in %v", out.Messages)
	}
}

func TestController_NoFindings(t *testing.T) {
	c, err := New(Config{MaxDepth: 2}, Deps{Searcher: &fakeSearcher{empty: true}, Reflector: &alwaysContinue{}})
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Run(context.Background(), "nothing")
	if err != nil {
		t.Fatal(err)
	}
	if out.Depth != 2 {
		t.Errorf("depth = %d, want 2", out.Depth)
	}
	if len(out.KnowledgeGaps) != 1 || out.KnowledgeGaps[0] != NoDataGap {
		t.Errorf("gaps = %v", out.KnowledgeGaps)
	}
}

func TestController_FindingsNumbered(t *testing.T) {
	c, err := New(Config{MaxDepth: 2, InitialQueries: 3, FollowupQueries: 2}, Deps{
		Planner:   &countingPlanner{},
		Searcher:  &fakeSearcher{},
		Reflector: &alwaysContinue{},
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Run(context.Background(), "wind")
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Findings) != 5 {
		t.Fatalf("findings = %d, want 5", len(out.Findings))
	}
	for i, f := range out.Findings {
		if f.SourceIndex != i+1 {
			t.Errorf("finding %d has index %d", i, f.SourceIndex)
		}
	}
	if !strings.Contains(out.Report, "[5]") {
		t.Errorf("report missing citation: %s", out.Report)
	}
}

func TestController_FallbackQueries(t *testing.T) {
	s := &fakeSearcher{}
	c, err := New(Config{MaxDepth: 1}, Deps{Searcher: s})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Run(context.Background(), "tidal power"); err != nil {
		t.Fatal(err)
	}
	if len(s.queries) != 1 || s.queries[0] != "tidal power" {
		t.Errorf("queries = %v", s.queries)
	}
}

func TestController_SkipsCoveredQueries(t *testing.T) {
	idx, err := memory.NewMemFindingsIndex()
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()
	if _, err := idx.Add(ctx, memory.Finding{Query: "geo q0.0", Content: "old"}); err != nil {
		t.Fatal(err)
	}

	s := &fakeSearcher{}
	c, err := New(Config{MaxDepth: 1, InitialQueries: 2}, Deps{Planner: &countingPlanner{}, Searcher: s, Index: idx})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Run(ctx, "geo"); err != nil {
		t.Fatal(err)
	}
	if len(s.queries) != 1 || s.queries[0] != "geo q0.1" {
		t.Errorf("queries = %v, want only the uncovered one", s.queries)
	}
	n, _ := idx.Count()
	if n != 2 {
		t.Errorf("index count = %d, want 2", n)
	}
}

func TestAfterReflect(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{State{Depth: 3, MaxDepth: 3, ShouldContinue: true, KnowledgeGaps: []string{"g"}}, NodeFinalize},
		{State{Depth: 1, MaxDepth: 3, ShouldContinue: false, KnowledgeGaps: []string{"g"}}, NodeFinalize},
		{State{Depth: 1, MaxDepth: 3, ShouldContinue: true}, NodeFinalize},
		{State{Depth: 1, MaxDepth: 3, ShouldContinue: true, KnowledgeGaps: []string{"g"}}, NodePlanQueries},
	}
	for _, tt := range tests {
		if got := AfterReflect(tt.s); got != tt.want {
			t.Errorf("AfterReflect(%+v) = %s, want %s", tt.s, got, tt.want)
		}
	}
}

type recordingSaver struct{ saved []plan.Findings }

func (r *recordingSaver) SaveFindings(ctx context.Context, f plan.Findings) error {
	r.saved = append(r.saved, f)
	return nil
}

func TestNode_AdaptsToTaskState(t *testing.T) {
	c, err := New(Config{MaxDepth: 1, InitialQueries: 2}, Deps{Planner: &countingPlanner{}, Searcher: &fakeSearcher{}})
	if err != nil {
		t.Fatal(err)
	}
	saver := &recordingSaver{}
	n := NewNode(c, saver)

	s := state.New("t1", "energy", 30, state.ModeModerate)
	s.CurrentAction = "deep_research"
	s.ActionDetails = "battery storage"
	s.ActionsSinceSave = 1

	u, err := n.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := state.Apply(s, u)
	if out.FinalReport == "" || out.LastOutput != out.FinalReport {
		t.Error("report not surfaced")
	}
	if out.CurrentAction != "" {
		t.Errorf("current action = %q", out.CurrentAction)
	}
	if out.ActionsSinceSave != 2 || out.ActionsSinceRefresh != 1 {
		t.Errorf("counters = %d/%d", out.ActionsSinceRefresh, out.ActionsSinceSave)
	}
	if len(saver.saved) != 1 || saver.saved[0].Query != "battery storage" || len(saver.saved[0].Links) != 2 {
		t.Errorf("saved = %+v", saver.saved)
	}
}
