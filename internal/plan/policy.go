package plan

import (
	"fmt"
	"strings"

	"github.com/vinayprograms/taskloop/internal/state"
)

// Default action sets.
var (
	DefaultCriticalActions = []string{"bash", "write", "edit", "delete", "deploy"}
	DefaultResearchActions = []string{"search", "view", "browser", "crawl", "deep_research"}
)

// Policy decides when the plan must be re-read and when findings must be
// flushed to the store.
type Policy struct {
	RefreshEvery int
	SaveEvery    int
	critical     map[string]bool
	research     map[string]bool
}

// NewPolicy builds a policy. Empty action lists fall back to the defaults.
func NewPolicy(refreshEvery, saveEvery int, critical, research []string) *Policy {
	if refreshEvery <= 0 {
		refreshEvery = 10
	}
	if saveEvery <= 0 {
		saveEvery = 2
	}
	if len(critical) == 0 {
		critical = DefaultCriticalActions
	}
	if len(research) == 0 {
		research = DefaultResearchActions
	}
	return &Policy{
		RefreshEvery: refreshEvery,
		SaveEvery:    saveEvery,
		critical:     toSet(critical),
		research:     toSet(research),
	}
}

// DefaultPolicy returns the policy with default thresholds and sets.
func DefaultPolicy() *Policy {
	return NewPolicy(0, 0, nil, nil)
}

// ShouldRefresh reports whether the plan must be re-read before the action
// in s runs.
func (p *Policy) ShouldRefresh(s state.TaskState) bool {
	if s.PlanFileReference == "" {
		return false
	}
	return s.ActionsSinceRefresh > p.RefreshEvery || p.critical[s.CurrentAction] || s.PlanStale
}

// ShouldSaveFindings reports whether findings must be saved before the
// research action in s runs.
func (p *Policy) ShouldSaveFindings(s state.TaskState) bool {
	return p.research[s.CurrentAction] && s.ActionsSinceSave >= p.SaveEvery
}

// IsResearch reports whether action counts toward the save rule.
func (p *Policy) IsResearch(action string) bool {
	return p.research[action]
}

// IsCritical reports whether action forces a refresh.
func (p *Policy) IsCritical(action string) bool {
	return p.critical[action]
}

// RefreshMessage formats the goal reminder injected after a refresh.
func RefreshMessage(snap Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[GOAL REFRESH] Current objective: %s", snap.Goal)
	if snap.CurrentPhase != "" {
		fmt.Fprintf(&b, "\nCurrent phase: %s", snap.CurrentPhase)
	}
	fmt.Fprintf(&b, "\nProgress: %d/%d phases complete", snap.CompletedCount, snap.TotalPhases)
	if n := len(snap.Errors); n > 0 {
		fmt.Fprintf(&b, "\nRecent error: %s", snap.Errors[n-1].Description)
	}
	return b.String()
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[strings.TrimSpace(it)] = true
	}
	return m
}
