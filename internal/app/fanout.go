package app

import (
	"context"
	"time"

	"github.com/neomorfeo/backoffice/internal/domain"
)

// TicketEventPayload is the wire shape delivered to real-time subscribers.
// It is a snapshot: subscribers never need a follow-up read to render it.
type TicketEventPayload struct {
	TicketID     string     `json:"ticket_id"`
	TicketNo     string     `json:"ticket_no"`
	Subject      string     `json:"subject"`
	Status       string     `json:"status"`
	Priority     string     `json:"priority"`
	EnterpriseID string     `json:"enterprise_id,omitempty"`
	SubmittedBy  string     `json:"submitted_by"`
	Forwarded    bool       `json:"forwarded"`
	ForwardedAt  *time.Time `json:"forwarded_at,omitempty"`
}

// Fanout resolves the audience of a committed ticket mutation and delivers
// the event to every interested principal's open channels. Delivery is
// fire-and-forget: the registry isolates per-recipient failures and an
// absent channel is not an error.
type Fanout struct {
	notifier domain.Notifier
}

// NewFanout creates a fan-out over the given channel registry.
func NewFanout(notifier domain.Notifier) *Fanout {
	return &Fanout{notifier: notifier}
}

// OnTicketEvent delivers one event. Audiences are fixed per event kind:
//
//	created:   the owning enterprise's admins + the submitter
//	updated:   the owning enterprise's admins + the submitter
//	forwarded: the owning enterprise's admins + all superadmins + the submitter
//
// An admin submitting a normal ticket is already covered by the enterprise
// broadcast, so the created acknowledgment goes to non-admin submitters only.
func (f *Fanout) OnTicketEvent(ctx context.Context, kind domain.TicketEventKind, ticket domain.Ticket) {
	payload := TicketEventPayload{
		TicketID:     ticket.ID,
		TicketNo:     ticket.TicketNo,
		Subject:      ticket.Subject,
		Status:       string(ticket.Status),
		Priority:     string(ticket.Priority),
		EnterpriseID: ticket.EnterpriseID,
		SubmittedBy:  ticket.SubmittedBy,
		Forwarded:    ticket.ForwardedToSuperAdmin,
		ForwardedAt:  ticket.ForwardedAt,
	}

	switch kind {
	case domain.TicketCreated:
		f.notifier.BroadcastToEnterpriseAdmins(ctx, ticket.EnterpriseID, "ticket_created", payload)
		if ticket.SubmitterRole != domain.RoleAdmin {
			f.notifier.Send(ctx, ticket.SubmittedBy, "ticket_created", payload)
		}

	case domain.TicketUpdated:
		f.notifier.BroadcastToEnterpriseAdmins(ctx, ticket.EnterpriseID, "ticket_updated", payload)
		f.notifier.Send(ctx, ticket.SubmittedBy, "ticket_updated", payload)

	case domain.TicketForwarded:
		f.notifier.BroadcastToEnterpriseAdmins(ctx, ticket.EnterpriseID, "ticket_forwarded", payload)
		f.notifier.BroadcastToSuperadmins(ctx, "ticket_forwarded", payload)
		f.notifier.Send(ctx, ticket.SubmittedBy, "ticket_forwarded", payload)
	}
}
