// Package plan persists the task goal outside the running state and re-reads
// it on demand, so long loops cannot drift away from the original intent.
package plan

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a plan was never initialized.
	ErrNotFound = errors.New("plan not found")
	// ErrPhaseNotFound is returned for an unknown phase index.
	ErrPhaseNotFound = errors.New("phase not found")
)

// PhaseSpec describes a phase to create.
type PhaseSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// Phase is one step of the plan. Indices start at 1.
type Phase struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// ErrorEntry is one logged error.
type ErrorEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Resolution  string    `json:"resolution,omitempty"`
}

// ProgressEntry is one logged action outcome.
type ProgressEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Result    string    `json:"result"`
	Success   bool      `json:"success"`
}

// Plan is the persisted goal record.
type Plan struct {
	Goal        string          `json:"goal"`
	Phases      []Phase         `json:"phases"`
	ErrorLog    []ErrorEntry    `json:"error_log"`
	Progress    []ProgressEntry `json:"progress,omitempty"`
	Passed      int             `json:"passed"`
	Failed      int             `json:"failed"`
	CreatedAt   time.Time       `json:"created_at"`
	LastUpdated time.Time       `json:"last_updated"`
}

// CompletedCount counts completed phases.
func (p *Plan) CompletedCount() int {
	n := 0
	for _, ph := range p.Phases {
		if ph.Completed {
			n++
		}
	}
	return n
}

// CurrentPhase returns the first incomplete phase, or nil when all are done.
func (p *Plan) CurrentPhase() *Phase {
	for i := range p.Phases {
		if !p.Phases[i].Completed {
			return &p.Phases[i]
		}
	}
	return nil
}

// Findings is one save of research discoveries.
type Findings struct {
	Timestamp   time.Time `json:"timestamp"`
	Query       string    `json:"query"`
	Sources     []string  `json:"sources,omitempty"`
	Discoveries []string  `json:"discoveries,omitempty"`
	Links       []string  `json:"links,omitempty"`
}

// Snapshot is what Refresh returns: the plan as currently stored.
type Snapshot struct {
	Goal           string       `json:"goal"`
	CurrentPhase   string       `json:"current_phase"`
	CompletedCount int          `json:"completed_count"`
	TotalPhases    int          `json:"total_phases"`
	Phases         []Phase      `json:"phases"`
	Errors         []ErrorEntry `json:"errors"`
}

func snapshotOf(p *Plan) Snapshot {
	s := Snapshot{
		Goal:           p.Goal,
		CompletedCount: p.CompletedCount(),
		TotalPhases:    len(p.Phases),
		Phases:         append([]Phase(nil), p.Phases...),
		Errors:         append([]ErrorEntry(nil), p.ErrorLog...),
	}
	if cur := p.CurrentPhase(); cur != nil {
		s.CurrentPhase = fmt.Sprintf("Phase %d: %s", cur.Index, cur.Name)
	} else if len(p.Phases) > 0 {
		s.CurrentPhase = "All phases complete"
	}
	return s
}
