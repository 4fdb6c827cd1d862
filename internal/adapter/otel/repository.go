package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/backoffice/internal/domain"
)

const tracerName = "github.com/neomorfeo/backoffice/internal/adapter/otel"

// TracingTicketRepository wraps a domain.TicketRepository with OpenTelemetry
// tracing. Each method creates a span with semantic attributes and records
// errors.
type TracingTicketRepository struct {
	next   domain.TicketRepository
	tracer trace.Tracer
}

// Compile-time check: TracingTicketRepository implements domain.TicketRepository.
var _ domain.TicketRepository = (*TracingTicketRepository)(nil)

// NewTracingTicketRepository creates a tracing decorator around the given
// repository.
func NewTracingTicketRepository(next domain.TicketRepository) *TracingTicketRepository {
	return &TracingTicketRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingTicketRepository) Create(ctx context.Context, ticket domain.Ticket) error {
	ctx, span := r.tracer.Start(ctx, "TicketRepository.Create",
		trace.WithAttributes(
			attribute.String("ticket.id", ticket.ID),
			attribute.String("ticket.no", ticket.TicketNo),
			attribute.Bool("ticket.admin", ticket.IsAdminTicket),
		),
	)
	defer span.End()

	err := r.next.Create(ctx, ticket)
	recordError(span, err)
	return err
}

func (r *TracingTicketRepository) GetByID(ctx context.Context, id string) (domain.Ticket, error) {
	ctx, span := r.tracer.Start(ctx, "TicketRepository.GetByID",
		trace.WithAttributes(attribute.String("ticket.id", id)),
	)
	defer span.End()

	ticket, err := r.next.GetByID(ctx, id)
	recordError(span, err)
	return ticket, err
}

func (r *TracingTicketRepository) List(ctx context.Context, filter domain.TicketFilter) ([]domain.Ticket, error) {
	ctx, span := r.tracer.Start(ctx, "TicketRepository.List")
	defer span.End()

	if filter.EnterpriseID != "" {
		span.SetAttributes(attribute.String("filter.enterprise_id", filter.EnterpriseID))
	}
	if filter.ForwardedToSuperAdmin != nil {
		span.SetAttributes(attribute.Bool("filter.forwarded", *filter.ForwardedToSuperAdmin))
	}

	tickets, err := r.next.List(ctx, filter)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(tickets)))
	}
	return tickets, err
}

func (r *TracingTicketRepository) UpdateStatus(ctx context.Context, id string, status domain.TicketStatus, expectedVersion int64) error {
	ctx, span := r.tracer.Start(ctx, "TicketRepository.UpdateStatus",
		trace.WithAttributes(
			attribute.String("ticket.id", id),
			attribute.String("ticket.status", string(status)),
			attribute.Int64("ticket.version", expectedVersion),
		),
	)
	defer span.End()

	err := r.next.UpdateStatus(ctx, id, status, expectedVersion)
	recordError(span, err)
	return err
}

func (r *TracingTicketRepository) AppendResponse(ctx context.Context, ticketID string, response domain.Response) error {
	ctx, span := r.tracer.Start(ctx, "TicketRepository.AppendResponse",
		trace.WithAttributes(
			attribute.String("ticket.id", ticketID),
			attribute.String("response.role", string(response.Role)),
		),
	)
	defer span.End()

	err := r.next.AppendResponse(ctx, ticketID, response)
	recordError(span, err)
	return err
}

func (r *TracingTicketRepository) UpdateResponse(ctx context.Context, ticketID, responseID, message string) error {
	ctx, span := r.tracer.Start(ctx, "TicketRepository.UpdateResponse",
		trace.WithAttributes(
			attribute.String("ticket.id", ticketID),
			attribute.String("response.id", responseID),
		),
	)
	defer span.End()

	err := r.next.UpdateResponse(ctx, ticketID, responseID, message)
	recordError(span, err)
	return err
}

func (r *TracingTicketRepository) DeleteResponse(ctx context.Context, ticketID, responseID string) error {
	ctx, span := r.tracer.Start(ctx, "TicketRepository.DeleteResponse",
		trace.WithAttributes(
			attribute.String("ticket.id", ticketID),
			attribute.String("response.id", responseID),
		),
	)
	defer span.End()

	err := r.next.DeleteResponse(ctx, ticketID, responseID)
	recordError(span, err)
	return err
}

func (r *TracingTicketRepository) BackfillResponseRoles(ctx context.Context, ticketID string, role domain.Role) error {
	ctx, span := r.tracer.Start(ctx, "TicketRepository.BackfillResponseRoles",
		trace.WithAttributes(attribute.String("ticket.id", ticketID)),
	)
	defer span.End()

	err := r.next.BackfillResponseRoles(ctx, ticketID, role)
	recordError(span, err)
	return err
}

func (r *TracingTicketRepository) MarkForwarded(ctx context.Context, id, forwardedBy string, at time.Time) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "TicketRepository.MarkForwarded",
		trace.WithAttributes(
			attribute.String("ticket.id", id),
			attribute.String("ticket.forwarded_by", forwardedBy),
		),
	)
	defer span.End()

	changed, err := r.next.MarkForwarded(ctx, id, forwardedBy, at)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Bool("result.changed", changed))
	}
	return changed, err
}

func (r *TracingTicketRepository) Delete(ctx context.Context, id string) error {
	ctx, span := r.tracer.Start(ctx, "TicketRepository.Delete",
		trace.WithAttributes(attribute.String("ticket.id", id)),
	)
	defer span.End()

	err := r.next.Delete(ctx, id)
	recordError(span, err)
	return err
}

func (r *TracingTicketRepository) Stats(ctx context.Context, filter domain.TicketFilter) (domain.TicketStats, error) {
	ctx, span := r.tracer.Start(ctx, "TicketRepository.Stats")
	defer span.End()

	stats, err := r.next.Stats(ctx, filter)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int64("result.total", stats.Total))
	}
	return stats, err
}

func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
