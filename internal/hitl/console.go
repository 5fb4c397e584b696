package hitl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11")) // Yellow

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray

	payloadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			PaddingLeft(2)

	riskStyles = map[string]lipgloss.Style{
		"low":      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		"medium":   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"high":     lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		"critical": lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
)

const wrapWidth = 80

// ConsoleSource prompts on a terminal. Lines are read by a background
// goroutine so a prompt can time out without leaking a blocked read into the
// next prompt.
type ConsoleSource struct {
	out io.Writer

	once  sync.Once
	in    io.Reader
	lines chan string
}

// NewConsoleSource creates a console source reading answers from in.
func NewConsoleSource(in io.Reader, out io.Writer) *ConsoleSource {
	return &ConsoleSource{in: in, out: out, lines: make(chan string)}
}

func (c *ConsoleSource) start() {
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			c.lines <- scanner.Text()
		}
		close(c.lines)
	}()
}

// Prompt renders req and reads answers until one parses or ctx ends.
func (c *ConsoleSource) Prompt(ctx context.Context, req Request) (Decision, error) {
	c.once.Do(c.start)
	fmt.Fprint(c.out, Render(req))

	for {
		fmt.Fprint(c.out, dimStyle.Render(choices(req.AllowSkip))+" ")
		select {
		case line, ok := <-c.lines:
			if !ok {
				return Decision{}, fmt.Errorf("console input closed")
			}
			d, err := ParseDecision(line, req.AllowSkip)
			if err != nil {
				fmt.Fprintln(c.out, riskStyles["critical"].Render(err.Error()))
				continue
			}
			d.RequestID = req.ID
			return d, nil
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return Decision{}, waitErr(ctx)
		}
	}
}

// Ask shows a free-form question and returns the next line typed. It shares
// the reader with Prompt.
func (c *ConsoleSource) Ask(ctx context.Context, question string) (string, error) {
	c.once.Do(c.start)
	fmt.Fprintf(c.out, "\n%s\n\n%s\n%s ", headerStyle.Render("? Question from the agent"),
		payloadStyle.Render(wordwrap.String(question, wrapWidth)), dimStyle.Render(">"))
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", fmt.Errorf("console input closed")
		}
		return strings.TrimSpace(line), nil
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return "", waitErr(ctx)
	}
}

// Render formats a request for a terminal.
func Render(req Request) string {
	var b strings.Builder
	risk, ok := riskStyles[string(req.Risk)]
	if !ok {
		risk = dimStyle
	}
	b.WriteString("\n")
	b.WriteString(headerStyle.Render("⏸ " + req.Description))
	b.WriteString("  ")
	b.WriteString(risk.Render(string(req.Risk)))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  [%s, %s, timeout %s]", req.Breakpoint, req.Mode, req.Timeout)))
	b.WriteString("\n\n")
	b.WriteString(payloadStyle.Render(wordwrap.String(req.Payload, wrapWidth)))
	b.WriteString("\n")
	if req.Details != "" {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(wordwrap.String(req.Details, wrapWidth)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func choices(allowSkip bool) string {
	s := "[a]pprove  [r]eject <reason>  [m]odify <text>"
	if allowSkip {
		s += "  [s]kip"
	}
	return s + "  [q]uit >"
}
