// Tracing instrumentation for the executor.
package executor

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startRunSpan starts a span for one Run call.
func (e *Executor) startRunSpan(ctx context.Context) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "task.run")
	span.SetAttributes(
		attribute.String("task.thread", e.state.ThreadID),
		attribute.String("task.hitl_mode", string(e.state.HITLMode)),
		attribute.Int("task.max_iterations", e.state.MaxIterations),
		attribute.String("task.entry", e.current),
	)
	return ctx, span
}

// endRunSpan ends the run span with the exit status.
func (e *Executor) endRunSpan(span trace.Span, res *Result, err error) {
	span.SetAttributes(
		attribute.String("task.status", string(res.Status)),
		attribute.Int("task.steps", res.Steps),
		attribute.Int("task.iterations", res.State.IterationCount),
	)
	tracer := telemetry.GetTracer()
	if tracer.Debug() && res.State.FinalReport != "" {
		span.SetAttributes(attribute.String("task.report", truncateForLog(res.State.FinalReport, 2000)))
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// startNodeSpan starts a span for one node run.
func (e *Executor) startNodeSpan(ctx context.Context, node string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "node."+node)
	span.SetAttributes(
		attribute.String("node.name", node),
		attribute.Int("node.step", e.step),
		attribute.Int("task.iteration", e.state.IterationCount),
	)
	return ctx, span
}

// endNodeSpan ends the node span.
func (e *Executor) endNodeSpan(span trace.Span, result string, err error) {
	span.SetAttributes(
		attribute.String("node.result", result),
		attribute.String("node.next", e.current),
		attribute.String("task.action", e.state.CurrentAction),
	)
	tracer := telemetry.GetTracer()
	if tracer.Debug() && e.state.LastOutput != "" {
		span.SetAttributes(attribute.String("node.output", truncateForLog(e.state.LastOutput, 2000)))
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
