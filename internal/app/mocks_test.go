package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neomorfeo/backoffice/internal/domain"
)

// memPrincipals is an in-memory PrincipalRepository.
type memPrincipals struct {
	mu         sync.Mutex
	principals map[string]domain.Principal
	saveErr    error
	// crmWrites records the legacyCRM values passed to SaveGrant, in order.
	crmWrites []*bool
}

func newMemPrincipals(seed ...domain.Principal) *memPrincipals {
	m := &memPrincipals{principals: make(map[string]domain.Principal)}
	for _, p := range seed {
		m.principals[p.ID] = p
	}
	return m
}

func (m *memPrincipals) GetByID(_ context.Context, id string) (domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return domain.Principal{}, domain.ErrPrincipalNotFound
	}
	return p, nil
}

func (m *memPrincipals) GetAdminByEnterprise(_ context.Context, enterpriseID string) (domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.principals {
		if p.Role == domain.RoleAdmin && p.EnterpriseID() == enterpriseID {
			return p, nil
		}
	}
	return domain.Principal{}, domain.ErrPrincipalNotFound
}

func (m *memPrincipals) ListAdminsByEnterprise(_ context.Context, enterpriseID string) ([]domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Principal
	for _, p := range m.principals {
		if p.Role == domain.RoleAdmin && p.EnterpriseID() == enterpriseID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPrincipals) ListSuperadmins(_ context.Context) ([]domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Principal
	for _, p := range m.principals {
		if p.Role == domain.RoleSuperadmin {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPrincipals) GetByGrantLink(_ context.Context, link string) (domain.Principal, domain.ProductGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.principals {
		for _, g := range p.Grants {
			if g.AccessLink == link {
				return p, g, nil
			}
		}
	}
	return domain.Principal{}, domain.ProductGrant{}, domain.ErrPrincipalNotFound
}

func (m *memPrincipals) SaveGrant(_ context.Context, principalID string, grant domain.ProductGrant, legacyCRM *bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	p, ok := m.principals[principalID]
	if !ok {
		return domain.ErrPrincipalNotFound
	}

	replaced := false
	for i, g := range p.Grants {
		if g.ProductID == grant.ProductID {
			p.Grants[i] = grant
			replaced = true
			break
		}
	}
	if !replaced {
		p.Grants = append(p.Grants, grant)
	}
	if legacyCRM != nil {
		p.Legacy.CRMAccess = *legacyCRM
	}
	m.principals[principalID] = p
	m.crmWrites = append(m.crmWrites, legacyCRM)
	return nil
}

func (m *memPrincipals) TouchGrantUsage(_ context.Context, principalID, productID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[principalID]
	if !ok {
		return domain.ErrPrincipalNotFound
	}
	for i, g := range p.Grants {
		if g.ProductID == productID {
			p.Grants[i].AccessCount++
			p.Grants[i].LastAccessed = &at
			m.principals[principalID] = p
			return nil
		}
	}
	return errors.New("grant not found")
}

// memTickets is an in-memory TicketRepository with the same version and
// forward-once semantics as the SQLite implementation.
type memTickets struct {
	mu      sync.Mutex
	tickets map[string]domain.Ticket
}

func newMemTickets() *memTickets {
	return &memTickets{tickets: make(map[string]domain.Ticket)}
}

func (m *memTickets) Create(_ context.Context, t domain.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[t.ID] = t
	return nil
}

func (m *memTickets) GetByID(_ context.Context, id string) (domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	return t, nil
}

func (m *memTickets) List(_ context.Context, filter domain.TicketFilter) ([]domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Ticket
	for _, t := range m.tickets {
		if filter.SubmittedBy != "" && t.SubmittedBy != filter.SubmittedBy {
			continue
		}
		if filter.AssignedAdmin != "" && t.AssignedAdmin != filter.AssignedAdmin {
			continue
		}
		if filter.EnterpriseID != "" && t.EnterpriseID != filter.EnterpriseID {
			continue
		}
		if filter.IsAdminTicket != nil && t.IsAdminTicket != *filter.IsAdminTicket {
			continue
		}
		if filter.ForwardedToSuperAdmin != nil && t.ForwardedToSuperAdmin != *filter.ForwardedToSuperAdmin {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *memTickets) UpdateStatus(_ context.Context, id string, status domain.TicketStatus, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return domain.ErrTicketNotFound
	}
	if t.Version != expectedVersion {
		return &domain.ConflictError{Entity: "ticket", ID: id}
	}
	t.Status = status
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	m.tickets[id] = t
	return nil
}

func (m *memTickets) AppendResponse(_ context.Context, ticketID string, r domain.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return domain.ErrTicketNotFound
	}
	t.Responses = append(t.Responses, r)
	m.tickets[ticketID] = t
	return nil
}

func (m *memTickets) UpdateResponse(_ context.Context, ticketID, responseID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return domain.ErrTicketNotFound
	}
	for i, r := range t.Responses {
		if r.ID == responseID {
			t.Responses[i].Message = message
			t.Responses[i].UpdatedAt = time.Now().UTC()
			m.tickets[ticketID] = t
			return nil
		}
	}
	return domain.ErrResponseNotFound
}

func (m *memTickets) DeleteResponse(_ context.Context, ticketID, responseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return domain.ErrTicketNotFound
	}
	for i, r := range t.Responses {
		if r.ID == responseID {
			t.Responses = append(t.Responses[:i], t.Responses[i+1:]...)
			m.tickets[ticketID] = t
			return nil
		}
	}
	return domain.ErrResponseNotFound
}

func (m *memTickets) BackfillResponseRoles(_ context.Context, ticketID string, role domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return domain.ErrTicketNotFound
	}
	for i, r := range t.Responses {
		if r.Role == "" {
			t.Responses[i].Role = role
		}
	}
	m.tickets[ticketID] = t
	return nil
}

func (m *memTickets) MarkForwarded(_ context.Context, id, forwardedBy string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return false, domain.ErrTicketNotFound
	}
	if t.ForwardedToSuperAdmin {
		return false, nil
	}
	t.ForwardedToSuperAdmin = true
	t.ForwardedBy = forwardedBy
	t.ForwardedAt = &at
	t.Version++
	m.tickets[id] = t
	return true, nil
}

func (m *memTickets) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[id]; !ok {
		return domain.ErrTicketNotFound
	}
	delete(m.tickets, id)
	return nil
}

func (m *memTickets) Stats(_ context.Context, filter domain.TicketFilter) (domain.TicketStats, error) {
	list, _ := m.List(context.Background(), filter)
	stats := domain.TicketStats{
		ByStatus:   make(map[domain.TicketStatus]int64),
		ByPriority: make(map[domain.Priority]int64),
	}
	for _, t := range list {
		stats.Total++
		stats.ByStatus[t.Status]++
		stats.ByPriority[t.Priority]++
	}
	return stats, nil
}

// capturePublisher records published events.
type capturePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

type publishedEvent struct {
	kind   domain.TicketEventKind
	ticket domain.Ticket
}

func (p *capturePublisher) Publish(_ context.Context, kind domain.TicketEventKind, t domain.Ticket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{kind: kind, ticket: t})
	return nil
}

func (p *capturePublisher) kinds() []domain.TicketEventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.TicketEventKind, len(p.events))
	for i, e := range p.events {
		out[i] = e.kind
	}
	return out
}

// captureAudit records audit entries.
type captureAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	err     error
}

func (a *captureAudit) Record(_ context.Context, entry domain.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, entry)
	return nil
}

// tableValidator validates transitions directly against the domain table.
type tableValidator struct{}

func (tableValidator) Apply(_ context.Context, current domain.TicketStatus, event domain.Event) (domain.TicketStatus, error) {
	for _, tr := range domain.Transitions {
		if tr.Event == event && tr.Src == current {
			return tr.Dst, nil
		}
	}
	return "", &domain.TransitionError{Event: event, Current: current}
}

// wrappingPrincipals decorates a PrincipalRepository, wrapping every lookup
// error the way a storage adapter would.
type wrappingPrincipals struct {
	domain.PrincipalRepository
}

func (w wrappingPrincipals) GetByID(ctx context.Context, id string) (domain.Principal, error) {
	p, err := w.PrincipalRepository.GetByID(ctx, id)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("loading principal: %w", err)
	}
	return p, nil
}

func (w wrappingPrincipals) GetAdminByEnterprise(ctx context.Context, enterpriseID string) (domain.Principal, error) {
	p, err := w.PrincipalRepository.GetAdminByEnterprise(ctx, enterpriseID)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("loading enterprise admin: %w", err)
	}
	return p, nil
}

// rejectingValidator refuses every transition.
type rejectingValidator struct{}

func (rejectingValidator) Apply(_ context.Context, current domain.TicketStatus, event domain.Event) (domain.TicketStatus, error) {
	return "", &domain.TransitionError{Event: event, Current: current}
}
