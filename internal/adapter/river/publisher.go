package river

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/backoffice/internal/domain"
)

// Compile-time check: Publisher implements domain.TicketEventPublisher.
var _ domain.TicketEventPublisher = (*Publisher)(nil)

// EventJobArgs carries the data needed to fan out a ticket event
// asynchronously. River serializes this as JSON into its job queue table.
// It includes a snapshot of the ticket at the time the event was published,
// so the worker never needs to query the database.
type EventJobArgs struct {
	Event         string     `json:"kind"`
	TicketID      string     `json:"ticket_id"`
	TicketNo      string     `json:"ticket_no"`
	Subject       string     `json:"subject"`
	Status        string     `json:"status"`
	Priority      string     `json:"priority"`
	EnterpriseID  string     `json:"enterprise_id"`
	SubmittedBy   string     `json:"submitted_by"`
	SubmitterRole string     `json:"submitter_role"`
	Forwarded     bool       `json:"forwarded"`
	ForwardedAt   *time.Time `json:"forwarded_at,omitempty"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (EventJobArgs) Kind() string { return "ticket.event" }

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Publisher implements domain.TicketEventPublisher by enqueuing River jobs.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher backed by the given River client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish enqueues a ticket event as an async job in River. Jobs run at
// most once: the notification channel is best-effort and a redelivered
// event would duplicate what subscribers already saw.
func (p *Publisher) Publish(ctx context.Context, kind domain.TicketEventKind, ticket domain.Ticket) error {
	_, err := p.client.Insert(ctx, EventJobArgs{
		Event:         string(kind),
		TicketID:      ticket.ID,
		TicketNo:      ticket.TicketNo,
		Subject:       ticket.Subject,
		Status:        string(ticket.Status),
		Priority:      string(ticket.Priority),
		EnterpriseID:  ticket.EnterpriseID,
		SubmittedBy:   ticket.SubmittedBy,
		SubmitterRole: string(ticket.SubmitterRole),
		Forwarded:     ticket.ForwardedToSuperAdmin,
		ForwardedAt:   ticket.ForwardedAt,
	}, &river.InsertOpts{MaxAttempts: 1})
	if err != nil {
		return fmt.Errorf("enqueuing ticket event job: %w", err)
	}
	return nil
}
