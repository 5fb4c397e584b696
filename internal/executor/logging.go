// Session event logging functions for the executor.
package executor

import (
	"time"

	"github.com/vinayprograms/taskloop/internal/session"
	"github.com/vinayprograms/taskloop/internal/state"
)

// event appends an event to the session. Nothing is written until flush.
func (e *Executor) event(evt session.Event) {
	if e.session == nil {
		return
	}
	if evt.Step == 0 {
		evt.Step = e.step
	}
	if evt.Iteration == 0 {
		evt.Iteration = e.state.IterationCount
	}
	e.session.AddEvent(evt)
}

// flush persists the session log.
func (e *Executor) flush() {
	if e.session == nil || e.opts.Sessions == nil {
		return
	}
	if err := e.opts.Sessions.Update(e.session); err != nil {
		e.logger.Warn("failed to write session log", map[string]interface{}{"error": err.Error()})
	}
}

// nodeEnd logs the end of a node run.
func (e *Executor) nodeEnd(node, corr string, duration time.Duration, err error) {
	ok := err == nil
	evt := session.Event{
		Type:          session.EventNodeEnd,
		Node:          node,
		CorrelationID: corr,
		Success:       &ok,
		DurationMs:    duration.Milliseconds(),
		Content:       truncateForLog(e.state.LastOutput, 500),
	}
	if err != nil {
		evt.Error = err.Error()
	}
	e.event(evt)
}

// interventions logs every human decision carried by an update.
func (e *Executor) interventions(node string, u state.Update) {
	for _, iv := range u.Interventions {
		e.event(session.Event{
			Type:       session.EventIntervention,
			Node:       node,
			Breakpoint: iv.Stage,
			Decision:   iv.Decision,
			Content:    iv.Feedback,
			DurationMs: iv.ResponseTime.Milliseconds(),
		})
	}
}

// truncateForLog truncates a string for logging purposes.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
