// Package state defines the task state threaded through every step of the
// control loop and the reducers that merge partial updates into it.
package state

import "time"

// Sentinel action values.
const (
	ActionNone        = ""
	ActionComplete    = "complete"
	ActionConsolidate = "consolidate"
)

// HITLMode controls how aggressively breakpoints trigger.
type HITLMode string

const (
	ModeStrict   HITLMode = "strict"
	ModeModerate HITLMode = "moderate"
	ModeMinimal  HITLMode = "minimal"
)

// Valid reports whether m is a known mode.
func (m HITLMode) Valid() bool {
	switch m {
	case ModeStrict, ModeModerate, ModeMinimal:
		return true
	}
	return false
}

// RiskLevel classifies a pending action.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels; unknown levels rank as low.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return 0
}

// ValidationStatus is the per-breakpoint-type outcome flag.
type ValidationStatus string

const (
	ValidationPending  ValidationStatus = "pending"
	ValidationApproved ValidationStatus = "approved"
	ValidationRejected ValidationStatus = "rejected"
	ValidationModified ValidationStatus = "modified"
	ValidationSkipped  ValidationStatus = "skipped"
)

// ExecutionStatus is the lifecycle of a task session.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusPaused    ExecutionStatus = "paused"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the message log.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Intervention is one human decision recorded at a breakpoint.
type Intervention struct {
	Timestamp    time.Time     `json:"timestamp"`
	Stage        string        `json:"stage"`
	Decision     string        `json:"decision"`
	Feedback     string        `json:"feedback,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
	TimedOut     bool          `json:"timed_out"`
}

// TaskState is the record passed by value between steps.
type TaskState struct {
	ThreadID string `json:"thread_id"`

	IterationCount int `json:"iteration_count"`
	MaxIterations  int `json:"max_iterations"`

	Query         string `json:"query"`
	EnhancedQuery string `json:"enhanced_query,omitempty"`

	CurrentAction string `json:"current_action"`
	ActionDetails string `json:"action_details"`
	StatusSummary string `json:"status_summary,omitempty"`
	LastOutput    string `json:"last_output,omitempty"`
	FinalReport   string `json:"final_report,omitempty"`

	ContextSize int       `json:"context_size"`
	MessageLog  []Message `json:"message_log"`

	HITLMode             HITLMode         `json:"hitl_mode"`
	CurrentBreakpoint    string           `json:"current_breakpoint"`
	LastBreakpoint       string           `json:"last_breakpoint,omitempty"`
	LastDecision         string           `json:"last_decision,omitempty"`
	AwaitingHumanInput   bool             `json:"awaiting_human_input"`
	RiskLevel            RiskLevel        `json:"risk_level"`
	BashValidationStatus ValidationStatus `json:"bash_validation_status"`
	PlanValidationStatus ValidationStatus `json:"plan_validation_status"`
	HumanInterventions   []Intervention   `json:"human_interventions"`

	ExecutionStatus ExecutionStatus `json:"execution_status"`

	ActionsSinceRefresh int `json:"actions_since_refresh"`
	ActionsSinceSave    int `json:"actions_since_save"`

	PlanFileReference string `json:"plan_file_reference,omitempty"`
	PlanStale         bool   `json:"plan_stale,omitempty"`
}

// New returns the initial state for a query.
func New(threadID, query string, maxIterations int, mode HITLMode) TaskState {
	return TaskState{
		ThreadID:             threadID,
		MaxIterations:        maxIterations,
		Query:                query,
		MessageLog:           []Message{{Role: RoleUser, Content: query}},
		ContextSize:          EstimateTokens(query),
		HITLMode:             mode,
		RiskLevel:            RiskLow,
		BashValidationStatus: ValidationPending,
		PlanValidationStatus: ValidationPending,
		ExecutionStatus:      StatusRunning,
	}
}

// Goal returns the working request: the enhanced query when present.
func (s TaskState) Goal() string {
	if s.EnhancedQuery != "" {
		return s.EnhancedQuery
	}
	return s.Query
}

// AtLimit reports whether the iteration cap has been reached.
func (s TaskState) AtLimit() bool {
	return s.IterationCount >= s.MaxIterations
}

// LastIntervention returns the most recent human decision, if any.
func (s TaskState) LastIntervention() (Intervention, bool) {
	if len(s.HumanInterventions) == 0 {
		return Intervention{}, false
	}
	return s.HumanInterventions[len(s.HumanInterventions)-1], true
}

// EstimateTokens approximates a token count as one token per four bytes.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// ContextSize sums the estimated tokens of a message log.
func ContextSize(log []Message) int {
	n := 0
	for _, m := range log {
		n += EstimateTokens(m.Content)
	}
	return n
}
