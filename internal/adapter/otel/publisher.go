package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/backoffice/internal/domain"
)

// TracingPublisher wraps a domain.TicketEventPublisher with OpenTelemetry tracing.
type TracingPublisher struct {
	next   domain.TicketEventPublisher
	tracer trace.Tracer
}

// Compile-time check: TracingPublisher implements domain.TicketEventPublisher.
var _ domain.TicketEventPublisher = (*TracingPublisher)(nil)

// NewTracingPublisher creates a tracing decorator around the given publisher.
func NewTracingPublisher(next domain.TicketEventPublisher) *TracingPublisher {
	return &TracingPublisher{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (p *TracingPublisher) Publish(ctx context.Context, kind domain.TicketEventKind, ticket domain.Ticket) error {
	ctx, span := p.tracer.Start(ctx, "TicketEventPublisher.Publish",
		trace.WithAttributes(
			attribute.String("event.kind", string(kind)),
			attribute.String("ticket.id", ticket.ID),
			attribute.String("ticket.no", ticket.TicketNo),
		),
	)
	defer span.End()

	err := p.next.Publish(ctx, kind, ticket)
	recordError(span, err)
	return err
}
