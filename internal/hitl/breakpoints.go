// Package hitl implements the human-in-the-loop breakpoint gate: when to
// pause, how to ask, and how a human decision rewrites task state.
package hitl

import (
	"fmt"
	"time"

	"github.com/vinayprograms/taskloop/internal/state"
)

// Breakpoint types.
const (
	BreakpointEnhancedQuery = "enhanced_query"
	BreakpointPlan          = "plan"
	BreakpointBashCommand   = "bash_command"
)

// Action is a human decision.
type Action string

const (
	Approve Action = "approve"
	Reject  Action = "reject"
	Modify  Action = "modify"
	Skip    Action = "skip"
	Quit    Action = "quit"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case Approve, Reject, Modify, Skip, Quit:
		return true
	}
	return false
}

// TimeoutDefault reports whether a can be applied when no human answers.
// Modify needs a replacement and quit ends the task, so neither qualifies.
func (a Action) TimeoutDefault() bool {
	switch a {
	case Approve, Reject, Skip:
		return true
	}
	return false
}

// Decision is what a decision source returns.
type Decision struct {
	RequestID    string `json:"request_id,omitempty"`
	Action       Action `json:"action"`
	Feedback     string `json:"feedback,omitempty"`
	Modification string `json:"modification,omitempty"`
}

// BreakpointConfig configures one breakpoint type.
type BreakpointConfig struct {
	Type              string
	Description       string
	TimeoutSeconds    int
	DefaultOnTimeout  Action
	AlwaysTrigger     bool
	TriggerRiskLevels []state.RiskLevel
	// CommandType enables sensitive-keyword matching on the payload.
	CommandType bool
	// AllowSkip permits the skip decision.
	AllowSkip bool
}

// Timeout returns the configured timeout.
func (c BreakpointConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c BreakpointConfig) triggersOn(risk state.RiskLevel) bool {
	for _, r := range c.TriggerRiskLevels {
		if r == risk {
			return true
		}
	}
	return false
}

// DefaultBreakpoints returns the built-in breakpoint configuration.
func DefaultBreakpoints() map[string]BreakpointConfig {
	return map[string]BreakpointConfig{
		BreakpointEnhancedQuery: {
			Type:              BreakpointEnhancedQuery,
			Description:       "Review the enhanced request before planning",
			TimeoutSeconds:    300,
			DefaultOnTimeout:  Approve,
			AlwaysTrigger:     true,
			TriggerRiskLevels: []state.RiskLevel{state.RiskMedium, state.RiskHigh, state.RiskCritical},
		},
		BreakpointPlan: {
			Type:              BreakpointPlan,
			Description:       "Review the execution plan",
			TimeoutSeconds:    180,
			DefaultOnTimeout:  Approve,
			AlwaysTrigger:     true,
			TriggerRiskLevels: []state.RiskLevel{state.RiskMedium, state.RiskHigh, state.RiskCritical},
			AllowSkip:         true,
		},
		BreakpointBashCommand: {
			Type:              BreakpointBashCommand,
			Description:       "Approve a shell command",
			TimeoutSeconds:    60,
			DefaultOnTimeout:  Reject,
			TriggerRiskLevels: []state.RiskLevel{state.RiskMedium, state.RiskHigh, state.RiskCritical},
			CommandType:       true,
		},
	}
}

// ConfigError reports a gate configuration defect, such as a breakpoint
// type with no configuration. It is never converted into task state.
type ConfigError struct {
	Breakpoint string
	Reason     string
}

func (e *ConfigError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("breakpoint %q: %s", e.Breakpoint, e.Reason)
	}
	return fmt.Sprintf("unknown breakpoint type %q", e.Breakpoint)
}

// ShouldTrigger decides whether a breakpoint pauses for a human.
func ShouldTrigger(cfg BreakpointConfig, mode state.HITLMode, risk state.RiskLevel, payload string) bool {
	if mode == state.ModeStrict {
		return true
	}
	if cfg.AlwaysTrigger {
		return !(mode == state.ModeMinimal && risk == state.RiskLow)
	}
	if cfg.triggersOn(risk) {
		return true
	}
	if cfg.CommandType {
		if _, ok := MatchSensitive(payload); ok {
			return true
		}
	}
	if mode == state.ModeMinimal {
		return false
	}
	return risk.Rank() >= state.RiskMedium.Rank()
}
