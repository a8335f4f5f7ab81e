// Tracing instrumentation for the engine.
package pipeline

import (
	"context"

	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"
	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/hackmate/internal/conversation"
)

// startRunSpan starts a span covering one Run call.
func (e *Engine) startRunSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "pipeline.run")
	span.SetAttributes(attribute.String("session.id", sessionID))
	return ctx, span
}

// endRunSpan ends the run span with the node the run stopped at.
func (e *Engine) endRunSpan(span trace.Span, node Node, err error) {
	span.SetAttributes(attribute.String("pipeline.stopped_at", string(node)))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// startNodeSpan starts a span for one node execution.
func (e *Engine) startNodeSpan(ctx context.Context, sessionID string, node Node) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "node."+string(node))
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("node.name", string(node)),
	)
	return ctx, span
}

// endNodeSpan ends the node span with its outcome.
func (e *Engine) endNodeSpan(span trace.Span, res *StepResult, err error) {
	if res != nil {
		span.SetAttributes(
			attribute.String("node.next", string(res.Next)),
			attribute.Int("node.turns", len(res.Turns)),
		)
		if res.Decision != nil {
			span.SetAttributes(
				attribute.String("route.stage", string(res.Decision.Stage)),
				attribute.Bool("route.overridden", res.Decision.Overridden),
			)
		}
		if telemetry.GetTracer().Debug() {
			if last, ok := lastTurn(res.Turns); ok {
				span.SetAttributes(attribute.String("node.output", clip(last.Content, 2000)))
			}
		}
		if res.Err != nil {
			span.RecordError(res.Err)
		}
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

func lastTurn(turns []conversation.Turn) (conversation.Turn, bool) {
	if len(turns) == 0 {
		return conversation.Turn{}, false
	}
	return turns[len(turns)-1], true
}

// clip shortens s to n columns without splitting a rune.
func clip(s string, n int) string {
	if ansi.PrintableRuneWidth(s) <= n {
		return s
	}
	return truncate.String(s, uint(n)) + "..."
}
