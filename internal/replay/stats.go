package replay

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/vinayprograms/taskloop/internal/session"
)

// NodeStats aggregates the runs of one node.
type NodeStats struct {
	Runs     int
	Failures int
	TotalMs  int64
}

// AvgMs returns the mean run duration.
func (n NodeStats) AvgMs() int64 {
	if n.Runs == 0 {
		return 0
	}
	return n.TotalMs / int64(n.Runs)
}

// Stats holds aggregate statistics for a session.
type Stats struct {
	TotalDurationMs int64

	Nodes map[string]*NodeStats

	Breakpoints   int
	Interventions map[string]int // decision -> count
	ResponseMs    int64          // total human response time
	Checkpoints   int
	Errors        int
}

// ComputeStats calculates aggregate statistics from session events.
func ComputeStats(sess *session.Session) *Stats {
	stats := &Stats{
		Nodes:         make(map[string]*NodeStats),
		Interventions: make(map[string]int),
	}

	var firstEvent, lastEvent time.Time
	for _, event := range sess.Events {
		if firstEvent.IsZero() || event.Timestamp.Before(firstEvent) {
			firstEvent = event.Timestamp
		}
		if lastEvent.IsZero() || event.Timestamp.After(lastEvent) {
			lastEvent = event.Timestamp
		}

		switch event.Type {
		case session.EventNodeEnd:
			ns := stats.Nodes[event.Node]
			if ns == nil {
				ns = &NodeStats{}
				stats.Nodes[event.Node] = ns
			}
			ns.Runs++
			ns.TotalMs += event.DurationMs
			if event.Success != nil && !*event.Success {
				ns.Failures++
			}
		case session.EventBreakpoint:
			stats.Breakpoints++
		case session.EventIntervention:
			stats.Interventions[event.Decision]++
			stats.ResponseMs += event.DurationMs
		case session.EventCheckpoint:
			stats.Checkpoints++
		case session.EventError:
			stats.Errors++
		}
	}

	if !firstEvent.IsZero() && !lastEvent.IsZero() {
		stats.TotalDurationMs = lastEvent.Sub(firstEvent).Milliseconds()
	}
	return stats
}

// PrintStats outputs the statistics to the writer.
func PrintStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("STATISTICS"))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Total Duration:"), valueStyle.Render(formatDuration(stats.TotalDurationMs)))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Checkpoints:   "), valueStyle.Render(fmt.Sprintf("%d", stats.Checkpoints)))
	if stats.Errors > 0 {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Errors:        "), errorStyle.Render(fmt.Sprintf("%d", stats.Errors)))
	}

	if len(stats.Nodes) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Nodes:"))
		names := make([]string, 0, len(stats.Nodes))
		for n := range stats.Nodes {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			ns := stats.Nodes[n]
			line := fmt.Sprintf("  %s %s", labelStyle.Render(fmt.Sprintf("%-22s", n)),
				valueStyle.Render(fmt.Sprintf("%3d runs, avg %s", ns.Runs, formatDuration(ns.AvgMs()))))
			if ns.Failures > 0 {
				line += errorStyle.Render(fmt.Sprintf(", %d failed", ns.Failures))
			}
			fmt.Fprintln(w, line)
		}
	}

	if stats.Breakpoints > 0 || len(stats.Interventions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Human Review:"))
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Asked:"), valueStyle.Render(fmt.Sprintf("%d", stats.Breakpoints)))
		decisions := make([]string, 0, len(stats.Interventions))
		for d := range stats.Interventions {
			decisions = append(decisions, d)
		}
		sort.Strings(decisions)
		for _, d := range decisions {
			fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(d+":"), valueStyle.Render(fmt.Sprintf("%d", stats.Interventions[d])))
		}
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Response time:"), valueStyle.Render(formatDuration(stats.ResponseMs)))
	}
}
