package river

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/backoffice/internal/app"
	"github.com/neomorfeo/backoffice/internal/domain"
)

// EventWorker processes ticket event jobs from the River queue and hands
// them to the notification fan-out.
type EventWorker struct {
	river.WorkerDefaults[EventJobArgs]

	fanout *app.Fanout
}

// NewEventWorker creates a worker delivering events through the given fan-out.
func NewEventWorker(fanout *app.Fanout) *EventWorker {
	return &EventWorker{fanout: fanout}
}

// Work processes a single ticket event job. The job args carry a full
// snapshot, so the ticket is rebuilt without a storage read.
func (w *EventWorker) Work(ctx context.Context, job *river.Job[EventJobArgs]) error {
	slog.InfoContext(ctx, "processing ticket event",
		"kind", job.Args.Event,
		"ticket_id", job.Args.TicketID,
		"ticket_no", job.Args.TicketNo,
		"job_id", job.ID,
	)

	ticket := domain.Ticket{
		ID:                    job.Args.TicketID,
		TicketNo:              job.Args.TicketNo,
		Subject:               job.Args.Subject,
		Status:                domain.TicketStatus(job.Args.Status),
		Priority:              domain.Priority(job.Args.Priority),
		EnterpriseID:          job.Args.EnterpriseID,
		SubmittedBy:           job.Args.SubmittedBy,
		SubmitterRole:         domain.Role(job.Args.SubmitterRole),
		ForwardedToSuperAdmin: job.Args.Forwarded,
		ForwardedAt:           job.Args.ForwardedAt,
	}

	w.fanout.OnTicketEvent(ctx, domain.TicketEventKind(job.Args.Event), ticket)
	return nil
}
