package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neomorfeo/backoffice/internal/domain"
)

// CreateTicketInput carries the caller-supplied fields of a new ticket.
// Routing fields (assignee, admin/forward flags) are never accepted from
// the caller; they are derived from the authenticated submitter once, at
// creation.
type CreateTicketInput struct {
	Subject  string
	Body     string
	Category string
	Priority string
	// RaiseToSuperAdmin marks an admin's own ticket for the superadmins
	// instead of self-assignment. Ignored for non-admin submitters.
	RaiseToSuperAdmin bool
}

// UpdateTicketInput carries an optional status change and an optional
// response message. Both may be combined in one call; appending a response
// never changes the status implicitly.
type UpdateTicketInput struct {
	Status  string
	Message string
}

// TicketService implements ticket routing, the status state machine, and
// event dispatch to the notification fan-out.
type TicketService struct {
	tickets    domain.TicketRepository
	principals domain.PrincipalRepository
	validator  domain.TransitionValidator
	publisher  domain.TicketEventPublisher
	audit      domain.AuditSink
}

// NewTicketService creates a service with the given adapters.
func NewTicketService(
	tickets domain.TicketRepository,
	principals domain.PrincipalRepository,
	validator domain.TransitionValidator,
	publisher domain.TicketEventPublisher,
	audit domain.AuditSink,
) *TicketService {
	return &TicketService{
		tickets:    tickets,
		principals: principals,
		validator:  validator,
		publisher:  publisher,
		audit:      audit,
	}
}

// Create validates the input, decides routing, persists the ticket, and
// dispatches the creation event. Routing is decided exactly once and never
// re-derived:
//
//   - user submitter: resolve the enterprise (own, else creator's), assign
//     to the unique admin owning it. No resolvable enterprise or admin
//     means no ticket is created.
//   - admin raising to the superadmins: admin ticket, forwarded, unassigned.
//   - admin otherwise: a normal ticket assigned to themselves.
func (s *TicketService) Create(ctx context.Context, submitter domain.Principal, in CreateTicketInput) (domain.Ticket, error) {
	if strings.TrimSpace(in.Subject) == "" {
		return domain.Ticket{}, &domain.ValidationError{Field: "subject", Reason: "must not be empty"}
	}
	if strings.TrimSpace(in.Body) == "" {
		return domain.Ticket{}, &domain.ValidationError{Field: "message", Reason: "must not be empty"}
	}

	priority := domain.PriorityMedium
	if in.Priority != "" {
		p, ok := domain.ParsePriority(in.Priority)
		if !ok {
			return domain.Ticket{}, &domain.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown value %q", in.Priority)}
		}
		priority = p
	}

	category := in.Category
	if category == "" {
		category = "other"
	}

	id, err := generateID()
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("generating ticket id: %w", err)
	}
	no, err := randomHex(4)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("generating ticket number: %w", err)
	}

	now := time.Now().UTC()
	ticket := domain.Ticket{
		ID:            id,
		TicketNo:      "TKT-" + strings.ToUpper(no),
		SubmittedBy:   submitter.ID,
		SubmitterRole: submitter.Role,
		Subject:       in.Subject,
		Body:          in.Body,
		Category:      category,
		Priority:      priority,
		Status:        domain.TicketOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}

	switch submitter.Role {
	case domain.RoleUser:
		admin, err := s.resolveEnterpriseAdmin(ctx, submitter)
		if err != nil {
			return domain.Ticket{}, err
		}
		ticket.AssignedAdmin = admin.ID
		ticket.EnterpriseID = admin.Enterprise.EnterpriseID

	case domain.RoleAdmin:
		ticket.EnterpriseID = submitter.EnterpriseID()
		if in.RaiseToSuperAdmin {
			ticket.IsAdminTicket = true
			ticket.ForwardedToSuperAdmin = true
		} else {
			// Self-service record: the admin files and handles it.
			ticket.AssignedAdmin = submitter.ID
		}

	default:
		ticket.EnterpriseID = submitter.EnterpriseID()
		ticket.AssignedAdmin = submitter.ID
	}

	if err := s.tickets.Create(ctx, ticket); err != nil {
		return domain.Ticket{}, fmt.Errorf("creating ticket: %w", err)
	}

	s.recordAudit(ctx, submitter, ticket, "ticket.create", nil)
	s.publish(ctx, domain.TicketCreated, ticket)
	return ticket, nil
}

// resolveEnterpriseAdmin finds the admin a sub-user's tickets route to. The
// submitter's own enterprise wins; a submitter without one inherits the
// creator's enterprise.
func (s *TicketService) resolveEnterpriseAdmin(ctx context.Context, submitter domain.Principal) (domain.Principal, error) {
	enterpriseID := submitter.EnterpriseID()
	if enterpriseID == "" && submitter.CreatedBy != "" {
		creator, err := s.principals.GetByID(ctx, submitter.CreatedBy)
		if err == nil {
			enterpriseID = creator.EnterpriseID()
		} else if !errors.Is(err, domain.ErrPrincipalNotFound) {
			return domain.Principal{}, fmt.Errorf("loading creator: %w", err)
		}
	}
	if enterpriseID == "" {
		return domain.Principal{}, domain.ErrEnterpriseNotConfigured
	}

	admin, err := s.principals.GetAdminByEnterprise(ctx, enterpriseID)
	if errors.Is(err, domain.ErrPrincipalNotFound) {
		return domain.Principal{}, domain.ErrEnterpriseNotConfigured
	}
	if err != nil {
		return domain.Principal{}, fmt.Errorf("resolving enterprise admin: %w", err)
	}
	return admin, nil
}

// Get returns a ticket the actor is allowed to see.
func (s *TicketService) Get(ctx context.Context, actor domain.Principal, id string) (domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return domain.Ticket{}, err
	}
	if !canView(actor, ticket) {
		return domain.Ticket{}, &domain.ForbiddenError{}
	}
	return ticket, nil
}

func canView(actor domain.Principal, t domain.Ticket) bool {
	switch actor.Role {
	case domain.RoleSuperadmin:
		return true
	case domain.RoleAdmin:
		return t.AssignedAdmin == actor.ID || t.SubmittedBy == actor.ID ||
			(t.EnterpriseID != "" && t.EnterpriseID == actor.EnterpriseID())
	default:
		return t.SubmittedBy == actor.ID
	}
}

// Update applies an optional status change and/or appends a response, in
// one call. Permission rule for both: superadmin always; admin only for a
// non-admin ticket assigned to them.
func (s *TicketService) Update(ctx context.Context, actor domain.Principal, id string, in UpdateTicketInput) (domain.Ticket, error) {
	var status domain.TicketStatus
	if in.Status != "" {
		parsed, ok := domain.ParseTicketStatus(in.Status)
		if !ok {
			return domain.Ticket{}, &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", in.Status)}
		}
		status = parsed
	}

	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return domain.Ticket{}, err
	}

	if err := checkMutate(actor, ticket); err != nil {
		return domain.Ticket{}, err
	}

	message := strings.TrimSpace(in.Message)
	changingStatus := status != "" && status != ticket.Status

	// All rule checks come before the first write: a rejected transition
	// must not leave an appended response behind.
	if changingStatus {
		event, _ := domain.EventForStatus(status)
		if _, err := s.validator.Apply(ctx, ticket.Status, event); err != nil {
			return domain.Ticket{}, err
		}
	}

	if !changingStatus && message == "" {
		// Nothing to change: no write, no audit, no event.
		return ticket, nil
	}

	if message != "" {
		// Pre-role responses get the acting role stamped at save time.
		// Compatibility migration, not an invariant going forward.
		if err := s.tickets.BackfillResponseRoles(ctx, id, actor.Role); err != nil {
			return domain.Ticket{}, fmt.Errorf("backfilling response roles: %w", err)
		}

		resp, err := newResponse(actor.Role, message)
		if err != nil {
			return domain.Ticket{}, err
		}
		if err := s.tickets.AppendResponse(ctx, id, resp); err != nil {
			return domain.Ticket{}, fmt.Errorf("appending response: %w", err)
		}
	}

	if changingStatus {
		if err := s.tickets.UpdateStatus(ctx, id, status, ticket.Version); err != nil {
			return domain.Ticket{}, err
		}
	}

	updated, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return domain.Ticket{}, err
	}

	s.recordAudit(ctx, actor, updated, "ticket.update", map[string]any{
		"status":         string(updated.Status),
		"response_added": message != "",
	})
	s.publish(ctx, domain.TicketUpdated, updated)
	return updated, nil
}

// SetStatus changes only the ticket status.
func (s *TicketService) SetStatus(ctx context.Context, actor domain.Principal, id, status string) (domain.Ticket, error) {
	if status == "" {
		return domain.Ticket{}, &domain.ValidationError{Field: "status", Reason: "must not be empty"}
	}
	return s.Update(ctx, actor, id, UpdateTicketInput{Status: status})
}

// AppendUserMessage lets a user follow up on a ticket they submitted.
func (s *TicketService) AppendUserMessage(ctx context.Context, actor domain.Principal, id, message string) (domain.Ticket, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return domain.Ticket{}, &domain.ValidationError{Field: "message", Reason: "must not be empty"}
	}

	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return domain.Ticket{}, err
	}
	if ticket.SubmittedBy != actor.ID {
		return domain.Ticket{}, &domain.ForbiddenError{Reason: "you can only add messages to your own tickets"}
	}

	if err := s.tickets.BackfillResponseRoles(ctx, id, actor.Role); err != nil {
		return domain.Ticket{}, fmt.Errorf("backfilling response roles: %w", err)
	}

	resp, err := newResponse(actor.Role, message)
	if err != nil {
		return domain.Ticket{}, err
	}
	if err := s.tickets.AppendResponse(ctx, id, resp); err != nil {
		return domain.Ticket{}, fmt.Errorf("appending message: %w", err)
	}

	updated, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return domain.Ticket{}, err
	}
	s.publish(ctx, domain.TicketUpdated, updated)
	return updated, nil
}

// EditResponse rewrites a response message. Superadmin only: responses are
// owned by the ticket and nobody else may rewrite history.
func (s *TicketService) EditResponse(ctx context.Context, actor domain.Principal, ticketID, responseID, message string) (domain.Ticket, error) {
	if actor.Role != domain.RoleSuperadmin {
		return domain.Ticket{}, &domain.ForbiddenError{Reason: "only a superadmin can edit responses"}
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return domain.Ticket{}, &domain.ValidationError{Field: "message", Reason: "must not be empty"}
	}

	if err := s.tickets.UpdateResponse(ctx, ticketID, responseID, message); err != nil {
		return domain.Ticket{}, err
	}
	return s.tickets.GetByID(ctx, ticketID)
}

// RemoveResponse deletes a response. Superadmin only.
func (s *TicketService) RemoveResponse(ctx context.Context, actor domain.Principal, ticketID, responseID string) (domain.Ticket, error) {
	if actor.Role != domain.RoleSuperadmin {
		return domain.Ticket{}, &domain.ForbiddenError{Reason: "only a superadmin can delete responses"}
	}
	if err := s.tickets.DeleteResponse(ctx, ticketID, responseID); err != nil {
		return domain.Ticket{}, err
	}
	return s.tickets.GetByID(ctx, ticketID)
}

// Forward escalates a ticket to the superadmins. Only an admin whose
// enterprise matches the ticket's may forward; the operation is one-way
// and idempotent: re-forwarding succeeds without touching the original
// forwarder or timestamp.
func (s *TicketService) Forward(ctx context.Context, actor domain.Principal, id string) (domain.Ticket, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.Ticket{}, &domain.ForbiddenError{Reason: "only an enterprise admin can forward tickets"}
	}

	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return domain.Ticket{}, err
	}
	if ticket.EnterpriseID == "" || ticket.EnterpriseID != actor.EnterpriseID() {
		return domain.Ticket{}, &domain.ForbiddenError{Reason: "you can only forward tickets from your enterprise"}
	}

	changed, err := s.tickets.MarkForwarded(ctx, id, actor.ID, time.Now().UTC())
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("forwarding ticket: %w", err)
	}

	updated, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return domain.Ticket{}, err
	}

	if changed {
		s.recordAudit(ctx, actor, updated, "ticket.forward", nil)
		s.publish(ctx, domain.TicketForwarded, updated)
	}
	return updated, nil
}

// Delete removes a ticket. A superadmin may delete any ticket; an admin
// only one that is not admin-originated, not forwarded, and assigned to
// them. Everyone else is denied.
func (s *TicketService) Delete(ctx context.Context, actor domain.Principal, id string) error {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return err
	}

	switch actor.Role {
	case domain.RoleSuperadmin:
	case domain.RoleAdmin:
		if ticket.IsAdminTicket {
			return &domain.ForbiddenError{Reason: "admins cannot delete admin-originated tickets"}
		}
		if ticket.ForwardedToSuperAdmin {
			return &domain.ForbiddenError{Reason: "admins cannot delete forwarded tickets"}
		}
		if ticket.AssignedAdmin != actor.ID {
			return &domain.ForbiddenError{Reason: "admins can only delete tickets assigned to them"}
		}
	default:
		return &domain.ForbiddenError{}
	}

	if err := s.tickets.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting ticket: %w", err)
	}
	s.recordAudit(ctx, actor, ticket, "ticket.delete", nil)
	return nil
}

// ListForwarded returns the tickets escalated to the superadmins.
func (s *TicketService) ListForwarded(ctx context.Context) ([]domain.Ticket, error) {
	forwarded := true
	return s.tickets.List(ctx, domain.TicketFilter{ForwardedToSuperAdmin: &forwarded})
}

// ListForEnterprise returns the tickets of an admin's enterprise.
func (s *TicketService) ListForEnterprise(ctx context.Context, actor domain.Principal) ([]domain.Ticket, error) {
	if actor.EnterpriseID() == "" {
		return nil, &domain.ForbiddenError{Reason: "enterprise information not found for this admin"}
	}
	return s.tickets.List(ctx, domain.TicketFilter{EnterpriseID: actor.EnterpriseID()})
}

// ListAssigned returns the user tickets assigned to an admin.
func (s *TicketService) ListAssigned(ctx context.Context, actor domain.Principal) ([]domain.Ticket, error) {
	adminTicket := false
	return s.tickets.List(ctx, domain.TicketFilter{AssignedAdmin: actor.ID, IsAdminTicket: &adminTicket})
}

// ListSubmitted returns the non-admin tickets a principal submitted.
func (s *TicketService) ListSubmitted(ctx context.Context, actor domain.Principal) ([]domain.Ticket, error) {
	adminTicket := false
	return s.tickets.List(ctx, domain.TicketFilter{SubmittedBy: actor.ID, IsAdminTicket: &adminTicket})
}

// ListRaised returns the tickets an admin raised to the superadmins.
func (s *TicketService) ListRaised(ctx context.Context, actor domain.Principal) ([]domain.Ticket, error) {
	adminTicket := true
	return s.tickets.List(ctx, domain.TicketFilter{SubmittedBy: actor.ID, IsAdminTicket: &adminTicket})
}

// Stats aggregates forwarded-ticket counts for the superadmin dashboard.
func (s *TicketService) Stats(ctx context.Context) (domain.TicketStats, error) {
	forwarded := true
	return s.tickets.Stats(ctx, domain.TicketFilter{ForwardedToSuperAdmin: &forwarded})
}

// checkMutate enforces the shared mutation rule for status changes and
// response appends.
func checkMutate(actor domain.Principal, t domain.Ticket) error {
	switch actor.Role {
	case domain.RoleSuperadmin:
		return nil
	case domain.RoleAdmin:
		if t.IsAdminTicket || t.AssignedAdmin != actor.ID {
			return &domain.ForbiddenError{Reason: "admins can only update tickets assigned to them from users"}
		}
		return nil
	default:
		return &domain.ForbiddenError{}
	}
}

func newResponse(role domain.Role, message string) (domain.Response, error) {
	id, err := generateID()
	if err != nil {
		return domain.Response{}, fmt.Errorf("generating response id: %w", err)
	}
	now := time.Now().UTC()
	return domain.Response{
		ID:        id,
		Role:      role,
		Message:   message,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// publish dispatches a committed mutation to the fan-out. Dispatch failure
// after the commit is logged and swallowed: a ticket update must not undo
// because a notification failed.
func (s *TicketService) publish(ctx context.Context, kind domain.TicketEventKind, ticket domain.Ticket) {
	if err := s.publisher.Publish(ctx, kind, ticket); err != nil {
		slog.ErrorContext(ctx, "publishing ticket event failed",
			"kind", string(kind),
			"ticket_id", ticket.ID,
			"error", err,
		)
	}
}

func (s *TicketService) recordAudit(ctx context.Context, actor domain.Principal, t domain.Ticket, action string, details map[string]any) {
	err := s.audit.Record(ctx, domain.AuditEntry{
		EnterpriseID: t.EnterpriseID,
		ActorID:      actor.ID,
		Action:       action,
		Target:       "ticket",
		TargetID:     t.ID,
		Details:      details,
	})
	if err != nil {
		slog.WarnContext(ctx, "audit record failed", "action", action, "error", err)
	}
}
