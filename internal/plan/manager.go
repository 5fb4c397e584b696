package plan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"
)

// Indexer receives saved findings for later search.
type Indexer interface {
	IndexFindings(ctx context.Context, ref string, f Findings) error
}

// Manager owns one plan reference for one session. Every read goes to the
// store; the manager caches nothing about the goal.
type Manager struct {
	ref      string
	store    Store
	findings FindingsStore
	index    Indexer
	logger   *logging.Logger
	now      func() time.Time

	mu sync.Mutex
}

// NewManager creates a manager for ref. findings may be nil when the store
// also implements FindingsStore.
func NewManager(ref string, store Store, findings FindingsStore) *Manager {
	if findings == nil {
		if fs, ok := store.(FindingsStore); ok {
			findings = fs
		}
	}
	return &Manager{
		ref:      ref,
		store:    store,
		findings: findings,
		logger:   logging.New().WithComponent("plan"),
		now:      time.Now,
	}
}

// SetIndexer enables indexing of saved findings.
func (m *Manager) SetIndexer(ix Indexer) {
	m.index = ix
}

// Ref returns the plan reference.
func (m *Manager) Ref() string { return m.ref }

// Initialize writes a new plan. With no phases a single "Execute" phase is
// created from the goal.
func (m *Manager) Initialize(ctx context.Context, goal string, phases []PhaseSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(phases) == 0 {
		phases = []PhaseSpec{{Name: "Execute", Description: truncate(goal, 100)}}
	}
	now := m.now()
	p := &Plan{
		Goal:        goal,
		Phases:      make([]Phase, len(phases)),
		ErrorLog:    []ErrorEntry{},
		CreatedAt:   now,
		LastUpdated: now,
	}
	for i, ph := range phases {
		p.Phases[i] = Phase{Index: i + 1, Name: ph.Name, Description: ph.Description}
	}
	if err := m.store.Write(ctx, m.ref, p); err != nil {
		return "", fmt.Errorf("initialize plan: %w", err)
	}
	m.logger.Info("plan initialized", map[string]interface{}{
		"ref":    m.ref,
		"phases": len(p.Phases),
	})
	return m.ref, nil
}

// Open checks that a plan exists for the reference, failing with
// ErrNotFound if there is none. Used when resuming a thread.
func (m *Manager) Open(ctx context.Context) error {
	_, err := m.store.Read(ctx, m.ref)
	return err
}

// Refresh re-reads the plan from the store.
func (m *Manager) Refresh(ctx context.Context) (Snapshot, error) {
	p, err := m.store.Read(ctx, m.ref)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(p), nil
}

// UpdatePhaseStatus marks a phase complete or incomplete. Setting the same
// value twice is a no-op.
func (m *Manager) UpdatePhaseStatus(ctx context.Context, index int, completed bool) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.store.Read(ctx, m.ref)
	if err != nil {
		return Snapshot{}, err
	}
	found := false
	for i := range p.Phases {
		if p.Phases[i].Index == index {
			p.Phases[i].Completed = completed
			found = true
			break
		}
	}
	if !found {
		return Snapshot{}, fmt.Errorf("phase %d: %w", index, ErrPhaseNotFound)
	}
	p.LastUpdated = m.now()
	if err := m.store.Write(ctx, m.ref, p); err != nil {
		return Snapshot{}, fmt.Errorf("update phase: %w", err)
	}
	return snapshotOf(p), nil
}

// LogError appends to the plan's error log.
func (m *Manager) LogError(ctx context.Context, description, resolution string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.store.Read(ctx, m.ref)
	if err != nil {
		return err
	}
	now := m.now()
	p.ErrorLog = append(p.ErrorLog, ErrorEntry{
		Timestamp:   now,
		Description: description,
		Resolution:  resolution,
	})
	p.LastUpdated = now
	if err := m.store.Write(ctx, m.ref, p); err != nil {
		return fmt.Errorf("log error: %w", err)
	}
	return nil
}

// LogAction records an action outcome and updates the pass/fail counts.
func (m *Manager) LogAction(ctx context.Context, action, result string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.store.Read(ctx, m.ref)
	if err != nil {
		return err
	}
	now := m.now()
	p.Progress = append(p.Progress, ProgressEntry{
		Timestamp: now,
		Action:    action,
		Result:    truncate(result, 500),
		Success:   success,
	})
	if success {
		p.Passed++
	} else {
		p.Failed++
	}
	p.LastUpdated = now
	if err := m.store.Write(ctx, m.ref, p); err != nil {
		return fmt.Errorf("log action: %w", err)
	}
	return nil
}

// SaveFindings appends discoveries to the findings record.
func (m *Manager) SaveFindings(ctx context.Context, f Findings) error {
	if m.findings == nil {
		return fmt.Errorf("save findings: no findings store configured")
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = m.now()
	}
	if err := m.findings.AppendFindings(ctx, m.ref, f); err != nil {
		return fmt.Errorf("save findings: %w", err)
	}
	if m.index != nil {
		if err := m.index.IndexFindings(ctx, m.ref, f); err != nil {
			m.logger.Warn("failed to index findings", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

// Findings returns all findings saved for this plan.
func (m *Manager) Findings(ctx context.Context) ([]Findings, error) {
	if m.findings == nil {
		return nil, nil
	}
	return m.findings.ReadFindings(ctx, m.ref)
}

// Progress returns the logged actions and pass/fail counts.
func (m *Manager) Progress(ctx context.Context) ([]ProgressEntry, int, int, error) {
	p, err := m.store.Read(ctx, m.ref)
	if err != nil {
		return nil, 0, 0, err
	}
	return p.Progress, p.Passed, p.Failed, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
