package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName — имя инструментации для всех spans Conveyor.
const TracerName = "github.com/shaiso/Conveyor"

// Tracer возвращает tracer из глобального провайдера.
// Без настроенного SDK провайдер no-op, spans ничего не стоят.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartRunSpan открывает span на весь run workflow.
func StartRunSpan(ctx context.Context, tracer trace.Tracer, runID, workflowID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("conveyor.run_id", runID),
			attribute.String("conveyor.workflow_id", workflowID),
		),
	)
}

// StartStepSpan открывает span на одну попытку шага.
func StartStepSpan(ctx context.Context, tracer trace.Tracer, stepID, stepType string, attempt int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "workflow.step "+stepType,
		trace.WithAttributes(
			attribute.String("conveyor.step_id", stepID),
			attribute.String("conveyor.step_type", stepType),
			attribute.Int("conveyor.attempt", attempt),
		),
	)
}

// EndSpan закрывает span, записывая ошибку, если она есть.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
