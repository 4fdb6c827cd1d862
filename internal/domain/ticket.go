package domain

import "time"

// TicketStatus represents the lifecycle state of a support ticket.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketClosed     TicketStatus = "closed"
)

// ParseTicketStatus validates a raw status string against the closed enum.
func ParseTicketStatus(s string) (TicketStatus, bool) {
	switch TicketStatus(s) {
	case TicketOpen, TicketInProgress, TicketResolved, TicketClosed:
		return TicketStatus(s), true
	}
	return "", false
}

// Event represents an action that triggers a ticket status transition.
type Event string

const (
	EventReopen        Event = "reopen"
	EventStartProgress Event = "start_progress"
	EventResolve       Event = "resolve"
	EventClose         Event = "close"
)

// Transition defines a valid status change: an event moves a ticket from
// Src to Dst.
type Transition struct {
	Event Event
	Src   TicketStatus
	Dst   TicketStatus
}

// Transitions defines all valid status changes. Any status is reachable
// from any other, including reopening a closed ticket, but only through
// the explicit event for the destination. This is domain knowledge
// consumed by the FSM adapter.
var Transitions = []Transition{
	{Event: EventReopen, Src: TicketInProgress, Dst: TicketOpen},
	{Event: EventReopen, Src: TicketResolved, Dst: TicketOpen},
	{Event: EventReopen, Src: TicketClosed, Dst: TicketOpen},
	{Event: EventStartProgress, Src: TicketOpen, Dst: TicketInProgress},
	{Event: EventStartProgress, Src: TicketResolved, Dst: TicketInProgress},
	{Event: EventStartProgress, Src: TicketClosed, Dst: TicketInProgress},
	{Event: EventResolve, Src: TicketOpen, Dst: TicketResolved},
	{Event: EventResolve, Src: TicketInProgress, Dst: TicketResolved},
	{Event: EventResolve, Src: TicketClosed, Dst: TicketResolved},
	{Event: EventClose, Src: TicketOpen, Dst: TicketClosed},
	{Event: EventClose, Src: TicketInProgress, Dst: TicketClosed},
	{Event: EventClose, Src: TicketResolved, Dst: TicketClosed},
}

// EventForStatus maps a requested destination status to the event that
// reaches it.
func EventForStatus(status TicketStatus) (Event, bool) {
	switch status {
	case TicketOpen:
		return EventReopen, true
	case TicketInProgress:
		return EventStartProgress, true
	case TicketResolved:
		return EventResolve, true
	case TicketClosed:
		return EventClose, true
	}
	return "", false
}

// Priority is the advisory urgency of a ticket.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority validates a raw priority string against the closed enum.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return Priority(s), true
	}
	return "", false
}

// Response is one entry in a ticket's conversation. It is owned by its
// parent ticket and only a superadmin may edit or remove it.
type Response struct {
	ID        string
	Role      Role
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ticket is a support request routed between a sub-user, their enterprise
// admin, and the superadmins.
//
// Exactly one of two shapes holds: a ticket submitted by a user and
// assigned to the admin owning the submitter's enterprise, or a ticket
// submitted by an admin with IsAdminTicket set, forwarded to the
// superadmins with no assignee.
type Ticket struct {
	ID            string
	TicketNo      string
	SubmittedBy   string
	SubmitterRole Role
	// AssignedAdmin is empty for admin-originated tickets.
	AssignedAdmin string
	EnterpriseID  string
	Subject       string
	Body          string
	Category      string
	Priority      Priority
	Status        TicketStatus
	Responses     []Response

	IsAdminTicket         bool
	ForwardedToSuperAdmin bool
	ForwardedBy           string
	ForwardedAt           *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	// Version guards read-modify-write cycles; conditional updates bump it.
	Version int64
}

// TicketEventKind classifies a committed ticket mutation for fan-out.
type TicketEventKind string

const (
	TicketCreated   TicketEventKind = "ticket_created"
	TicketUpdated   TicketEventKind = "ticket_updated"
	TicketForwarded TicketEventKind = "ticket_forwarded"
)
