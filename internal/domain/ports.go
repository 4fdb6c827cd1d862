package domain

import (
	"context"
	"time"
)

// PrincipalRepository defines the persistence contract for principals and
// their product grants.
type PrincipalRepository interface {
	GetByID(ctx context.Context, id string) (Principal, error)

	// GetAdminByEnterprise resolves the unique admin owning the given
	// enterprise identifier. Returns ErrPrincipalNotFound when no admin
	// holds it.
	GetAdminByEnterprise(ctx context.Context, enterpriseID string) (Principal, error)
	ListAdminsByEnterprise(ctx context.Context, enterpriseID string) ([]Principal, error)
	ListSuperadmins(ctx context.Context) ([]Principal, error)

	// GetByGrantLink resolves an access link to its owning principal and
	// grant, regardless of the grant's active flag. The ledger decides
	// whether a revoked grant is an error.
	GetByGrantLink(ctx context.Context, link string) (Principal, ProductGrant, error)

	// SaveGrant upserts the grant for (principalID, grant.ProductID) in a
	// single transaction. When legacyCRM is non-nil the legacy CRM flag is
	// written in the same transaction so the two permission sources never
	// disagree.
	SaveGrant(ctx context.Context, principalID string, grant ProductGrant, legacyCRM *bool) error

	// TouchGrantUsage atomically bumps the usage counters of an access link.
	TouchGrantUsage(ctx context.Context, principalID, productID string, at time.Time) error
}

// TicketFilter holds optional criteria for listing tickets.
type TicketFilter struct {
	SubmittedBy           string
	AssignedAdmin         string
	EnterpriseID          string
	IsAdminTicket         *bool
	ForwardedToSuperAdmin *bool
}

// TicketStats aggregates forwarded-ticket counts for the superadmin view.
type TicketStats struct {
	Total      int64
	ByStatus   map[TicketStatus]int64
	ByPriority map[Priority]int64
}

// TicketRepository defines the persistence contract for tickets. Mutations
// are atomic: status writes are conditional on the ticket version and
// response appends are single-row inserts, so two concurrent writers never
// silently clobber each other.
type TicketRepository interface {
	Create(ctx context.Context, ticket Ticket) error
	GetByID(ctx context.Context, id string) (Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]Ticket, error)

	// UpdateStatus is a conditional write: it fails with ConflictError when
	// the stored version no longer matches expectedVersion.
	UpdateStatus(ctx context.Context, id string, status TicketStatus, expectedVersion int64) error

	AppendResponse(ctx context.Context, ticketID string, response Response) error
	UpdateResponse(ctx context.Context, ticketID, responseID, message string) error
	DeleteResponse(ctx context.Context, ticketID, responseID string) error

	// BackfillResponseRoles assigns the given role to every response of the
	// ticket that has none (compatibility migration for pre-role data).
	BackfillResponseRoles(ctx context.Context, ticketID string, role Role) error

	// MarkForwarded stamps forwarding metadata unless the ticket is already
	// forwarded. Returns false without error on the idempotent re-forward.
	MarkForwarded(ctx context.Context, id, forwardedBy string, at time.Time) (bool, error)

	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context, filter TicketFilter) (TicketStats, error)
}

// TicketEventPublisher defines the contract for dispatching committed
// ticket mutations to the notification fan-out. Publishing happens only
// after the storage write commits.
type TicketEventPublisher interface {
	Publish(ctx context.Context, kind TicketEventKind, ticket Ticket) error
}

// Notifier is the real-time channel registry. Delivery is best-effort: a
// recipient without an open channel is not an error, and one recipient's
// failure never blocks the others.
type Notifier interface {
	Send(ctx context.Context, principalID string, event string, payload any)
	BroadcastToEnterpriseAdmins(ctx context.Context, enterpriseID, event string, payload any)
	BroadcastToSuperadmins(ctx context.Context, event string, payload any)
}

// AuditSink records actions for compliance. It is write-only; callers
// ignore its failures.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// AuditEntry is one audit record.
type AuditEntry struct {
	EnterpriseID string
	ActorID      string
	Action       string
	Target       string
	TargetID     string
	Details      map[string]any
}

// CredentialVerifier authenticates a bearer credential and resolves it to
// a principal. Consumed, never implemented, by the core services.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// TransitionValidator checks whether a ticket status event is valid from
// the current status and returns the destination status.
type TransitionValidator interface {
	Apply(ctx context.Context, current TicketStatus, event Event) (TicketStatus, error)
}
