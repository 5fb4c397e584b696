package replay

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/vinayprograms/taskloop/internal/session"
)

// Replayer formats session events.
type Replayer struct {
	output         io.Writer
	verbosity      int // 0=normal, 1=verbose (-v), 2=very verbose (-vv)
	maxContentSize int // Maximum size for Content fields (0 = unlimited)
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// WithMaxContentSize limits the Content shown per event.
func WithMaxContentSize(size int) ReplayerOption {
	return func(r *Replayer) {
		r.maxContentSize = size
	}
}

// New creates a new Replayer.
func New(output io.Writer, verbosity int, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		output:         output,
		verbosity:      verbosity,
		maxContentSize: 50 * 1024,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reads a session log. ref is either a path to a .jsonl file or a
// thread id looked up in dir.
func Load(dir, ref string) (*session.Session, error) {
	if strings.HasSuffix(ref, ".jsonl") {
		dir = filepath.Dir(ref)
		ref = strings.TrimSuffix(filepath.Base(ref), ".jsonl")
	}
	store, err := session.NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	sess, err := store.Load(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", ref, err)
	}
	return sess, nil
}

// Replay outputs a formatted timeline of session events.
func (r *Replayer) Replay(sess *session.Session) error {
	r.printHeader(sess)
	r.printTimeline(sess)
	r.printSummary(sess)
	return nil
}

func (r *Replayer) printHeader(sess *session.Session) {
	fmt.Fprintln(r.output)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("THREAD"), valueStyle.Render(sess.ID))
	fmt.Fprintln(r.output, divider)
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Query:   "), valueStyle.Render(sess.Query))
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Status:  "), statusStyle(sess.Status).Render(sess.Status))
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Created: "), valueStyle.Render(sess.CreatedAt.Format(time.RFC3339)))
	fmt.Fprintln(r.output)
}

func (r *Replayer) printTimeline(sess *session.Session) {
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("TIMELINE"), dimStyle.Render(fmt.Sprintf("(%d events)", len(sess.Events))))
	fmt.Fprintln(r.output, divider)
	for i := range sess.Events {
		r.formatEvent(&sess.Events[i])
	}
}

func (r *Replayer) printSummary(sess *session.Session) {
	fmt.Fprintln(r.output)
	fmt.Fprintln(r.output, divider)

	switch sess.Status {
	case session.StatusCompleted:
		fmt.Fprintln(r.output, successStyle.Render("COMPLETED"))
	case session.StatusFailed:
		fmt.Fprintf(r.output, "%s %s\n", errorStyle.Render("FAILED:"), valueStyle.Render(sess.Error))
	case session.StatusPaused:
		fmt.Fprintln(r.output, warnStyle.Render("PAUSED"))
	case session.StatusHaltedOnLimit:
		fmt.Fprintln(r.output, warnStyle.Render("HALTED ON ITERATION LIMIT"))
	default:
		fmt.Fprintln(r.output, warnStyle.Render("RUNNING"))
	}
	if sess.Result != "" && r.verbosity > 0 {
		fmt.Fprintln(r.output, contentStyle.Render(wordwrap.String(r.clip(sess.Result), 100)))
	}

	PrintStats(r.output, ComputeStats(sess))
}

// formatEvent prints one timeline line, plus content at higher verbosity.
func (r *Replayer) formatEvent(evt *session.Event) {
	prefix := fmt.Sprintf("%s %s ", seqStyle.Render(fmt.Sprintf("#%d", evt.SeqID)),
		dimStyle.Render(evt.Timestamp.Format("15:04:05")))

	var line string
	showContent := r.verbosity > 1
	switch evt.Type {
	case session.EventWorkflowStart:
		line = titleStyle.Render("▶ run started")
	case session.EventWorkflowEnd:
		line = titleStyle.Render("■ run ended") + dimStyle.Render(" ("+evt.Content+")")
	case session.EventNodeStart:
		if r.verbosity == 0 {
			return
		}
		line = nodeStyle.Render("→ " + evt.Node)
	case session.EventNodeEnd:
		line = nodeStyle.Render("✓ "+evt.Node) + dimStyle.Render(" "+formatDuration(evt.DurationMs))
		if evt.Success != nil && !*evt.Success {
			line = errorStyle.Render("✗ "+evt.Node) + " " + errorStyle.Render(evt.Error)
		}
		showContent = r.verbosity > 0
	case session.EventRoute:
		line = routeStyle.Render(fmt.Sprintf("  %s ⇒ %s", evt.Node, evt.Next))
	case session.EventBreakpoint:
		line = humanStyle.Render("? "+evt.Breakpoint) + dimStyle.Render(" risk="+evt.Risk)
		showContent = true
	case session.EventIntervention:
		line = humanStyle.Render("✋ "+evt.Breakpoint+": "+evt.Decision) + dimStyle.Render(" after "+formatDuration(evt.DurationMs))
		showContent = evt.Content != ""
	case session.EventCheckpoint:
		if r.verbosity == 0 {
			return
		}
		line = dimStyle.Render(fmt.Sprintf("  checkpoint step %d → %s", evt.Step, evt.Next))
	case session.EventError:
		line = errorStyle.Render("✗ error: " + evt.Error)
	default:
		line = dimStyle.Render(evt.Type)
	}

	fmt.Fprintln(r.output, prefix+line)
	if showContent && evt.Content != "" && evt.Type != session.EventWorkflowEnd {
		text := wordwrap.String(r.clip(evt.Content), 90)
		for _, l := range strings.Split(text, "\n") {
			fmt.Fprintln(r.output, "                 "+contentStyle.Render(l))
		}
	}
}

func (r *Replayer) clip(s string) string {
	if r.maxContentSize > 0 && len(s) > r.maxContentSize {
		return s[:r.maxContentSize] + fmt.Sprintf("\n... [truncated, %d bytes total]", len(s))
	}
	return s
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case session.StatusCompleted:
		return successStyle
	case session.StatusFailed:
		return errorStyle
	default:
		return warnStyle
	}
}

// formatDuration renders milliseconds compactly.
func formatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", ms)
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}
