package state

// Compaction replaces everything but the last Keep messages with a single
// summary entry.
type Compaction struct {
	Summary string
	Keep    int
}

// Update is a sparse set of field assignments returned by a node.
// Nil pointer fields are left untouched. Messages and Interventions are
// appended, never replaced. Unless ContextSize is set, the context size grows
// by the appended messages, or is recomputed after a compaction.
type Update struct {
	IterationDelta int

	EnhancedQuery *string
	CurrentAction *string
	ActionDetails *string
	StatusSummary *string
	LastOutput    *string
	FinalReport   *string

	ContextSize *int
	Messages    []Message
	Compaction  *Compaction

	CurrentBreakpoint    *string
	LastBreakpoint       *string
	LastDecision         *string
	AwaitingHumanInput   *bool
	RiskLevel            *RiskLevel
	BashValidationStatus *ValidationStatus
	PlanValidationStatus *ValidationStatus
	Interventions        []Intervention

	ExecutionStatus *ExecutionStatus

	ActionsSinceRefresh *int
	ActionsSinceSave    *int

	PlanFileReference *string
	PlanStale         *bool
}

// Ptr returns a pointer to v. Nodes use it to build updates.
func Ptr[T any](v T) *T {
	return &v
}

// Apply merges u into s and returns the result. s is not modified.
func Apply(s TaskState, u Update) TaskState {
	out := s
	out.MessageLog = append([]Message(nil), s.MessageLog...)
	out.HumanInterventions = append([]Intervention(nil), s.HumanInterventions...)

	out.IterationCount += u.IterationDelta

	setString(&out.EnhancedQuery, u.EnhancedQuery)
	setString(&out.CurrentAction, u.CurrentAction)
	setString(&out.ActionDetails, u.ActionDetails)
	setString(&out.StatusSummary, u.StatusSummary)
	setString(&out.LastOutput, u.LastOutput)
	setString(&out.FinalReport, u.FinalReport)
	setString(&out.CurrentBreakpoint, u.CurrentBreakpoint)
	setString(&out.LastBreakpoint, u.LastBreakpoint)
	setString(&out.LastDecision, u.LastDecision)
	setString(&out.PlanFileReference, u.PlanFileReference)

	if u.Compaction != nil {
		out.MessageLog = compact(out.MessageLog, *u.Compaction)
	}
	out.MessageLog = append(out.MessageLog, u.Messages...)
	switch {
	case u.ContextSize != nil:
		out.ContextSize = *u.ContextSize
	case u.Compaction != nil:
		out.ContextSize = ContextSize(out.MessageLog)
	default:
		out.ContextSize += ContextSize(u.Messages)
	}

	if u.AwaitingHumanInput != nil {
		out.AwaitingHumanInput = *u.AwaitingHumanInput
	}
	if u.RiskLevel != nil {
		out.RiskLevel = *u.RiskLevel
	}
	if u.BashValidationStatus != nil {
		out.BashValidationStatus = *u.BashValidationStatus
	}
	if u.PlanValidationStatus != nil {
		out.PlanValidationStatus = *u.PlanValidationStatus
	}
	out.HumanInterventions = append(out.HumanInterventions, u.Interventions...)

	if u.ExecutionStatus != nil {
		out.ExecutionStatus = *u.ExecutionStatus
	}
	if u.ActionsSinceRefresh != nil {
		out.ActionsSinceRefresh = *u.ActionsSinceRefresh
	}
	if u.ActionsSinceSave != nil {
		out.ActionsSinceSave = *u.ActionsSinceSave
	}
	if u.PlanStale != nil {
		out.PlanStale = *u.PlanStale
	}
	return out
}

// Merge folds a sequence of updates into one. Replace fields take the last
// value set; appended fields keep their order.
func Merge(updates ...Update) Update {
	var out Update
	for _, u := range updates {
		out.IterationDelta += u.IterationDelta
		pick(&out.EnhancedQuery, u.EnhancedQuery)
		pick(&out.CurrentAction, u.CurrentAction)
		pick(&out.ActionDetails, u.ActionDetails)
		pick(&out.StatusSummary, u.StatusSummary)
		pick(&out.LastOutput, u.LastOutput)
		pick(&out.FinalReport, u.FinalReport)
		pick(&out.ContextSize, u.ContextSize)
		out.Messages = append(out.Messages, u.Messages...)
		pick(&out.Compaction, u.Compaction)
		pick(&out.CurrentBreakpoint, u.CurrentBreakpoint)
		pick(&out.LastBreakpoint, u.LastBreakpoint)
		pick(&out.LastDecision, u.LastDecision)
		pick(&out.AwaitingHumanInput, u.AwaitingHumanInput)
		pick(&out.RiskLevel, u.RiskLevel)
		pick(&out.BashValidationStatus, u.BashValidationStatus)
		pick(&out.PlanValidationStatus, u.PlanValidationStatus)
		out.Interventions = append(out.Interventions, u.Interventions...)
		pick(&out.ExecutionStatus, u.ExecutionStatus)
		pick(&out.ActionsSinceRefresh, u.ActionsSinceRefresh)
		pick(&out.ActionsSinceSave, u.ActionsSinceSave)
		pick(&out.PlanFileReference, u.PlanFileReference)
		pick(&out.PlanStale, u.PlanStale)
	}
	return out
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func pick[T any](dst **T, v *T) {
	if v != nil {
		*dst = v
	}
}

func compact(log []Message, c Compaction) []Message {
	keep := c.Keep
	if keep < 0 {
		keep = 0
	}
	if len(log) <= keep {
		return log
	}
	out := make([]Message, 0, keep+1)
	out = append(out, Message{Role: RoleSystem, Content: c.Summary})
	return append(out, log[len(log)-keep:]...)
}
