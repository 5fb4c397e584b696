package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newManager(t *testing.T) (*Manager, *FileStore) {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store error: %v", err)
	}
	return NewManager(store), store
}

func TestSession_Create(t *testing.T) {
	mgr, store := newManager(t)

	sess, err := mgr.Create("thread-1", "find EV trends")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if sess.ID != "thread-1" || sess.Query != "find EV trends" {
		t.Errorf("session = %s %q", sess.ID, sess.Query)
	}
	if sess.Status != StatusRunning {
		t.Errorf("expected status running, got %s", sess.Status)
	}
	if _, err := os.Stat(store.Path("thread-1")); err != nil {
		t.Errorf("session file not written: %v", err)
	}
}

func TestSession_GeneratedIDs(t *testing.T) {
	mgr, _ := newManager(t)
	ids := make(map[string]bool)
	for i := 0; i < 50; i++ {
		sess, err := mgr.Create("", "q")
		if err != nil {
			t.Fatal(err)
		}
		if sess.ID == "" || ids[sess.ID] {
			t.Errorf("bad or duplicate session ID: %q", sess.ID)
		}
		ids[sess.ID] = true
	}
}

func TestSession_Finish(t *testing.T) {
	mgr, _ := newManager(t)
	sess, _ := mgr.Create("t1", "q")

	sess.Finish(StatusFailed, "", "planner: rate limited")
	if err := mgr.Update(sess); err != nil {
		t.Fatalf("update error: %v", err)
	}

	loaded, err := mgr.Get("t1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != StatusFailed || loaded.Error != "planner: rate limited" {
		t.Errorf("loaded = %s %q", loaded.Status, loaded.Error)
	}
}

func TestSession_EventsRoundTrip(t *testing.T) {
	mgr, _ := newManager(t)
	sess, _ := mgr.Create("t1", "q")

	ok := false
	corr := StartCorrelation()
	sess.AddEvent(Event{Type: EventNodeStart, Node: "bash_executor", Step: 4, CorrelationID: corr})
	sess.AddEvent(Event{Type: EventNodeEnd, Node: "bash_executor", Step: 4, CorrelationID: corr,
		Success: &ok, Error: "exit status 1", DurationMs: 12})
	sess.AddEvent(Event{Type: EventRoute, Node: "bash_executor", Next: "planner"})
	sess.AddEvent(Event{Type: EventIntervention, Breakpoint: "bash_command", Decision: "reject", Risk: "high"})
	sess.Finish(StatusCompleted, "done", "")
	if err := mgr.Update(sess); err != nil {
		t.Fatal(err)
	}

	loaded, err := mgr.Get("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(loaded.Events))
	}
	end := loaded.Events[1]
	if end.SeqID != 2 || end.CorrelationID != corr || end.Error != "exit status 1" {
		t.Errorf("node_end = %+v", end)
	}
	if end.Success == nil || *end.Success {
		t.Error("success flag lost")
	}
	if loaded.Events[2].Next != "planner" || loaded.Events[3].Decision != "reject" {
		t.Errorf("events = %+v", loaded.Events)
	}
	if loaded.Status != StatusCompleted || loaded.Result != "done" || loaded.Error != "" {
		t.Errorf("footer = %s %q %q", loaded.Status, loaded.Result, loaded.Error)
	}

	// Sequencing continues after a reload.
	if seq := loaded.AddEvent(Event{Type: EventWorkflowEnd}); seq != 5 {
		t.Errorf("next seq = %d, want 5", seq)
	}
}

func TestSession_SequenceIDs(t *testing.T) {
	sess := New("t", "q")
	if sess.CurrentSeqID() != 0 {
		t.Error("new session should start at 0")
	}
	for i := 1; i <= 3; i++ {
		if got := sess.AddEvent(Event{Type: EventCheckpoint}); got != uint64(i) {
			t.Errorf("seq = %d, want %d", got, i)
		}
	}
	if sess.Events[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestManager_Open(t *testing.T) {
	mgr, _ := newManager(t)
	sess, _ := mgr.Create("t1", "original")
	sess.AddEvent(Event{Type: EventWorkflowStart})
	sess.Finish(StatusPaused, "", "")
	mgr.Update(sess)

	reopened, err := mgr.Open("t1", "ignored")
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Query != "original" || len(reopened.Events) != 1 || reopened.Status != StatusRunning {
		t.Errorf("reopened = %+v", reopened)
	}

	fresh, err := mgr.Open("t2", "new")
	if err != nil || fresh.ID != "t2" || fresh.Query != "new" {
		t.Errorf("fresh = %+v, %v", fresh, err)
	}
}

func TestFileStore_GetNotFound(t *testing.T) {
	_, store := newManager(t)
	if _, err := store.Load("missing"); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestFileStore_JSONLLayout(t *testing.T) {
	mgr, store := newManager(t)
	sess, _ := mgr.Create("t1", "q")
	sess.AddEvent(Event{Type: EventNodeStart, Node: "planner"})
	mgr.Update(sess)

	data, err := os.ReadFile(store.Path("t1"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header, event, footer; got %d lines", len(lines))
	}
	for i, want := range []string{`"_type":"header"`, `"_type":"event"`, `"_type":"footer"`} {
		if !strings.Contains(lines[i], want) {
			t.Errorf("line %d = %s", i, lines[i])
		}
	}
	if _, err := os.Stat(store.Path("t1") + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestFileStore_LargeLine(t *testing.T) {
	mgr, store := newManager(t)
	sess, _ := mgr.Create("t1", "q")
	big := strings.Repeat("x", 1<<20)
	sess.AddEvent(Event{Type: EventNodeEnd, Content: big})
	mgr.Update(sess)

	loaded, err := store.Load("t1")
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if len(loaded.Events) != 1 || len(loaded.Events[0].Content) != len(big) {
		t.Error("large event not preserved")
	}
}

func TestFileStore_CorruptLine(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(dir)
	os.WriteFile(filepath.Join(dir, "bad.jsonl"), []byte("{\"_type\":\"header\",\"id\":\"bad\"}\nnot json\n"), 0644)
	if _, err := store.Load("bad"); err == nil {
		t.Error("expected parse error")
	}
}
