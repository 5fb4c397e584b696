package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/taskloop/internal/config"
	"github.com/vinayprograms/taskloop/internal/hitl"
	"github.com/vinayprograms/taskloop/internal/plan"
)

func TestRunCmd_Apply(t *testing.T) {
	tests := []struct {
		name    string
		cmd     RunCmd
		wantErr string
	}{
		{"query", RunCmd{Query: "do it"}, ""},
		{"no query", RunCmd{}, "query is required"},
		{"resume without thread", RunCmd{Resume: true}, "requires --thread"},
		{"decision without resume", RunCmd{Query: "q", Decision: "approve"}, "requires --resume"},
		{"unknown decision", RunCmd{Resume: true, Thread: "t", Decision: "maybe"}, "unknown decision"},
		{"resume with decision", RunCmd{Resume: true, Thread: "t", Decision: "skip"}, ""},
		{"bad mode", RunCmd{Query: "q", HITLMode: "loose"}, "mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.apply(config.New())
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRunCmd_ApplyOverrides(t *testing.T) {
	cfg := config.New()
	cmd := RunCmd{Query: "q", HITLMode: "STRICT", MaxIterations: 7}
	if err := cmd.apply(cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.HITL.Mode != "strict" {
		t.Errorf("Mode = %q, want strict", cfg.HITL.Mode)
	}
	if cfg.Engine.MaxIterations != 7 {
		t.Errorf("MaxIterations = %d, want 7", cfg.Engine.MaxIterations)
	}
}

func TestAnswer(t *testing.T) {
	src := hitl.FixedSource{Decision: hitl.Decision{Action: hitl.Approve}}
	d := answer(context.Background(), src, hitl.Request{ID: "r1", Breakpoint: "plan_approval"})
	if d.Action != hitl.Approve || d.RequestID != "r1" {
		t.Errorf("decision = %+v", d)
	}
}

func TestAnswer_Timeout(t *testing.T) {
	src := hitl.NewChannelSource()
	d := answer(context.Background(), src, hitl.Request{ID: "r1", Timeout: 20 * time.Millisecond})
	if d.Action != hitl.Reject {
		t.Errorf("Action = %q, want reject", d.Action)
	}
	if d.Feedback == "" {
		t.Error("expected the timeout reason as feedback")
	}
}

func TestPrintPlan(t *testing.T) {
	snap := plan.Snapshot{
		Goal:           "ship the release",
		CompletedCount: 1,
		TotalPhases:    2,
		Phases: []plan.Phase{
			{Index: 1, Name: "Build", Completed: true},
			{Index: 2, Name: "Publish", Description: "push tags"},
		},
		Errors: []plan.ErrorEntry{{Description: "tests flaked", Resolution: "reran"}},
	}
	progress := []plan.ProgressEntry{
		{Action: "bash", Result: "ok\nmore", Success: true},
		{Action: "search", Result: "timeout", Success: false},
	}

	var buf bytes.Buffer
	printPlan(&buf, snap, progress, 1, 1)
	out := buf.String()
	for _, want := range []string{
		"ship the release",
		"1/2",
		"1. Build",
		"2. Publish",
		"push tags",
		"tests flaked",
		"resolved: reran",
		"1 passed, 1 failed",
		"bash",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "more") {
		t.Error("progress results should be cut at the first line")
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("a\nb", 10); got != "a" {
		t.Errorf("firstLine = %q", got)
	}
	if got := firstLine("abcdef", 3); got != "abc..." {
		t.Errorf("firstLine = %q", got)
	}
}
