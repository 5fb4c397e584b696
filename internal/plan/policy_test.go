package plan

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/taskloop/internal/state"
)

func TestPolicy_ShouldRefresh(t *testing.T) {
	p := DefaultPolicy()
	base := state.TaskState{PlanFileReference: "ref"}

	tests := []struct {
		name   string
		mutate func(*state.TaskState)
		want   bool
	}{
		{"fresh", func(s *state.TaskState) {}, false},
		{"at threshold", func(s *state.TaskState) { s.ActionsSinceRefresh = 10 }, false},
		{"past threshold", func(s *state.TaskState) { s.ActionsSinceRefresh = 11 }, true},
		{"critical action", func(s *state.TaskState) { s.CurrentAction = "bash" }, true},
		{"deploy is critical", func(s *state.TaskState) { s.CurrentAction = "deploy" }, true},
		{"search not critical", func(s *state.TaskState) { s.CurrentAction = "search" }, false},
		{"stale plan", func(s *state.TaskState) { s.PlanStale = true }, true},
		{"no plan", func(s *state.TaskState) { s.PlanFileReference = ""; s.CurrentAction = "bash" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			if got := p.ShouldRefresh(s); got != tt.want {
				t.Errorf("ShouldRefresh = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_TwoActionRule(t *testing.T) {
	p := DefaultPolicy()
	s := state.TaskState{CurrentAction: "search", ActionsSinceSave: 1}
	if p.ShouldSaveFindings(s) {
		t.Error("one research action should not force a save")
	}
	s.ActionsSinceSave = 2
	if !p.ShouldSaveFindings(s) {
		t.Error("two research actions should force a save")
	}
	s.CurrentAction = "bash"
	if p.ShouldSaveFindings(s) {
		t.Error("non-research action should not force a save")
	}
}

func TestPolicy_CustomResearchSet(t *testing.T) {
	p := NewPolicy(5, 3, []string{"rm"}, []string{"scrape"})
	if !p.IsResearch("scrape") || p.IsResearch("search") {
		t.Error("custom research set not applied")
	}
	if !p.IsCritical("rm") || p.IsCritical("bash") {
		t.Error("custom critical set not applied")
	}
	s := state.TaskState{CurrentAction: "scrape", ActionsSinceSave: 2}
	if p.ShouldSaveFindings(s) {
		t.Error("SaveEvery=3 should not trigger at 2")
	}
}

func TestRefreshMessage(t *testing.T) {
	msg := RefreshMessage(Snapshot{
		Goal:           "ship it",
		CurrentPhase:   "Phase 2: Test",
		CompletedCount: 1,
		TotalPhases:    3,
		Errors:         []ErrorEntry{{Description: "tests red"}},
	})
	if !strings.HasPrefix(msg, "[GOAL REFRESH] Current objective: ship it") {
		t.Errorf("unexpected prefix: %q", msg)
	}
	for _, want := range []string{"Phase 2: Test", "1/3", "tests red"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q: %q", want, msg)
		}
	}
}

func TestWatcher_DetectsExternalGoalEdit(t *testing.T) {
	ctx := t.Context()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	m := NewManager("w", store, nil)
	if _, err := m.Initialize(ctx, "original goal", nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	w, err := Watch(store.Path("w"))
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()
	if err := w.Ack(); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}

	// Session writes that leave the goal alone are not edits.
	m.LogAction(ctx, "bash", "ok", true)
	time.Sleep(100 * time.Millisecond)
	if w.Stale() {
		t.Fatal("own progress write marked plan stale")
	}

	data, err := os.ReadFile(store.Path("w"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	edited := strings.Replace(string(data), "original goal", "edited goal", 1)
	if err := os.WriteFile(store.Path("w"), []byte(edited), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !w.Stale() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if !w.Stale() {
		t.Fatal("external edit not detected")
	}
	if err := w.Ack(); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if w.Stale() {
		t.Error("Ack should clear stale")
	}
}
