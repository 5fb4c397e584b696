package hitl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/taskloop/internal/state"
)

var (
	// ErrTimeout is returned by a decision source when no decision arrived in
	// time.
	ErrTimeout = errors.New("decision timeout")
	// ErrPaused is returned by the gate when no decision source is attached.
	// The caller resumes the task with a decision later.
	ErrPaused = errors.New("awaiting human decision")
)

// Request is what a decision source shows to the human.
type Request struct {
	ID          string          `json:"id"`
	ThreadID    string          `json:"thread_id,omitempty"`
	Breakpoint  string          `json:"breakpoint"`
	Description string          `json:"description"`
	Payload     string          `json:"payload"`
	Details     string          `json:"details,omitempty"`
	Risk        state.RiskLevel `json:"risk"`
	Mode        state.HITLMode  `json:"mode"`
	Timeout     time.Duration   `json:"timeout"`
	AllowSkip   bool            `json:"allow_skip"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DecisionSource collects a decision from a human. Implementations must
// return ErrTimeout, or honor ctx's deadline, when no decision arrives.
type DecisionSource interface {
	Prompt(ctx context.Context, req Request) (Decision, error)
}

// waitErr maps a finished context to the source error contract.
func waitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

// FixedSource always returns the same decision. It is used for unattended
// runs and tests.
type FixedSource struct {
	Decision Decision
}

// Prompt returns the fixed decision.
func (f FixedSource) Prompt(ctx context.Context, req Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, waitErr(ctx)
	}
	d := f.Decision
	d.RequestID = req.ID
	return d, nil
}

// ChannelSource hands requests to an in-process consumer and waits for its
// answer, such as a UI goroutine or a test.
type ChannelSource struct {
	requests  chan Request
	decisions chan Decision
}

// NewChannelSource creates a channel source.
func NewChannelSource() *ChannelSource {
	return &ChannelSource{
		requests:  make(chan Request, 1),
		decisions: make(chan Decision, 1),
	}
}

// Requests returns the channel of pending requests.
func (c *ChannelSource) Requests() <-chan Request {
	return c.requests
}

// Respond delivers a decision for the pending request. An earlier decision
// nobody collected is replaced.
func (c *ChannelSource) Respond(d Decision) {
	for {
		select {
		case c.decisions <- d:
			return
		default:
		}
		select {
		case <-c.decisions:
		default:
		}
	}
}

// drain discards requests and decisions left over from prompts that ended
// before they were answered.
func (c *ChannelSource) drain() {
	for {
		select {
		case <-c.requests:
		case <-c.decisions:
		default:
			return
		}
	}
}

// Prompt publishes req and waits for a matching decision. Decisions that
// arrive after a prompt ended never answer a later one.
func (c *ChannelSource) Prompt(ctx context.Context, req Request) (Decision, error) {
	c.drain()
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return Decision{}, waitErr(ctx)
	}
	for {
		select {
		case d := <-c.decisions:
			if d.RequestID != "" && d.RequestID != req.ID {
				continue
			}
			return d, nil
		case <-ctx.Done():
			return Decision{}, waitErr(ctx)
		}
	}
}

// ParseDecision parses a one-line answer: the action (or its first letter)
// followed by optional text. For modify the text is the replacement payload;
// otherwise it is feedback.
func ParseDecision(line string, allowSkip bool) (Decision, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Decision{}, fmt.Errorf("empty answer")
	}
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	var a Action
	switch strings.ToLower(word) {
	case "a", "y", "yes", "approve":
		a = Approve
	case "r", "n", "no", "reject":
		a = Reject
	case "m", "modify", "edit":
		a = Modify
	case "s", "skip":
		a = Skip
	case "q", "quit", "exit":
		a = Quit
	default:
		return Decision{}, fmt.Errorf("unknown answer %q", word)
	}
	if a == Skip && !allowSkip {
		return Decision{}, fmt.Errorf("skip is not available at this breakpoint")
	}
	if a == Modify {
		if rest == "" {
			return Decision{}, fmt.Errorf("modify needs replacement text")
		}
		return Decision{Action: a, Modification: rest}, nil
	}
	return Decision{Action: a, Feedback: rest}, nil
}
