// Package main provides the plan commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vinayprograms/taskloop/internal/plan"
)

// withPlan opens the plan manager for thread and runs fn.
func withPlan(g *Globals, thread string, fn func(ctx context.Context, m *plan.Manager) error) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := os.MkdirAll(cfg.Plan.Workspace, 0755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	var closers []func()
	defer func() {
		for _, c := range closers {
			c()
		}
	}()
	ctx := context.Background()
	store, err := openPlanStore(ctx, cfg, func(c func()) { closers = append(closers, c) })
	if err != nil {
		return err
	}
	return fn(ctx, plan.NewManager(thread, store, nil))
}

// Run creates a plan.
func (c *PlanInitCmd) Run(g *Globals) error {
	var phases []plan.PhaseSpec
	if c.Phases != "" {
		var err error
		if phases, err = loadPhases(c.Phases); err != nil {
			return err
		}
	}
	return withPlan(g, c.Thread, func(ctx context.Context, m *plan.Manager) error {
		ref, err := m.Initialize(ctx, c.Goal, phases)
		if err != nil {
			return err
		}
		fmt.Printf("Plan created for thread %s\n", ref)
		return nil
	})
}

// Run prints a plan.
func (c *PlanShowCmd) Run(g *Globals) error {
	return withPlan(g, c.Thread, func(ctx context.Context, m *plan.Manager) error {
		snap, err := m.Refresh(ctx)
		if err != nil {
			return err
		}
		progress, passed, failed, err := m.Progress(ctx)
		if err != nil {
			return err
		}
		if c.JSON {
			out, _ := json.MarshalIndent(snap, "", "  ")
			fmt.Println(string(out))
			return nil
		}
		printPlan(os.Stdout, snap, progress, passed, failed)
		return nil
	})
}

// Run updates a phase.
func (c *PlanPhaseCmd) Run(g *Globals) error {
	return withPlan(g, c.Thread, func(ctx context.Context, m *plan.Manager) error {
		snap, err := m.UpdatePhaseStatus(ctx, c.Index, !c.Incomplete)
		if err != nil {
			return err
		}
		fmt.Printf("Phase %d updated (%d/%d complete)\n", c.Index, snap.CompletedCount, snap.TotalPhases)
		return nil
	})
}

// Run logs an error.
func (c *PlanLogErrorCmd) Run(g *Globals) error {
	return withPlan(g, c.Thread, func(ctx context.Context, m *plan.Manager) error {
		return m.LogError(ctx, c.Description, c.Resolution)
	})
}

// printPlan renders a plan snapshot and its progress log.
func printPlan(w io.Writer, snap plan.Snapshot, progress []plan.ProgressEntry, passed, failed int) {
	fmt.Fprintln(w, titleStyle.Render("Goal: ")+snap.Goal)
	fmt.Fprintf(w, "%s %d/%d\n\n", dimStyle.Render("Phases complete:"), snap.CompletedCount, snap.TotalPhases)
	for _, ph := range snap.Phases {
		mark := dimStyle.Render("[ ]")
		if ph.Completed {
			mark = successStyle.Render("[x]")
		}
		fmt.Fprintf(w, "%s %d. %s", mark, ph.Index, ph.Name)
		if ph.Description != "" {
			fmt.Fprint(w, dimStyle.Render(" - "+ph.Description))
		}
		fmt.Fprintln(w)
	}
	if len(snap.Errors) > 0 {
		fmt.Fprintln(w, "\n"+titleStyle.Render("Errors"))
		for _, e := range snap.Errors {
			line := "  " + errorStyle.Render("✗ ") + e.Description
			if e.Resolution != "" {
				line += dimStyle.Render(" (resolved: " + e.Resolution + ")")
			}
			fmt.Fprintln(w, line)
		}
	}
	if len(progress) > 0 {
		fmt.Fprintf(w, "\n%s %s\n", titleStyle.Render("Progress"),
			dimStyle.Render(fmt.Sprintf("(%d passed, %d failed)", passed, failed)))
		for _, p := range progress {
			mark := successStyle.Render("✓")
			if !p.Success {
				mark = errorStyle.Render("✗")
			}
			fmt.Fprintf(w, "  %s %s %s\n", mark, p.Action, dimStyle.Render(firstLine(p.Result, 80)))
		}
	}
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
