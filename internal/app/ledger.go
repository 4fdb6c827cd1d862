package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neomorfeo/backoffice/internal/domain"
)

// AccessLedger tracks which products a principal has been granted, with
// grant/revoke history and rotating access links.
type AccessLedger struct {
	repo  domain.PrincipalRepository
	audit domain.AuditSink

	// locks serializes grant mutations per principal. A grant racing a
	// revoke on the same document must not interleave between the read and
	// the write; the mutex is held only for that window.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAccessLedger creates a ledger with the given adapters.
func NewAccessLedger(repo domain.PrincipalRepository, audit domain.AuditSink) *AccessLedger {
	return &AccessLedger{
		repo:  repo,
		audit: audit,
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *AccessLedger) lockFor(principalID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[principalID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[principalID] = m
	}
	return m
}

// Grant activates product access for a principal. Idempotent: an inactive
// grant is reactivated with a fresh token and link, an absent one is
// created. Grant metadata is stamped on every call.
func (l *AccessLedger) Grant(ctx context.Context, actor domain.Principal, principalID, productID string) (domain.ProductGrant, error) {
	lock := l.lockFor(principalID)
	lock.Lock()
	defer lock.Unlock()

	principal, err := l.repo.GetByID(ctx, principalID)
	if err != nil {
		return domain.ProductGrant{}, err
	}

	now := time.Now().UTC()
	grant, _ := principal.Grant(productID)
	grant.ProductID = productID
	grant.Active = true
	grant.GrantedAt = now
	grant.GrantedBy = actor.ID
	grant.RevokedAt = nil
	grant.RevokedBy = ""
	grant.UpdatedAt = now

	if err := l.rotateLink(&grant, principal); err != nil {
		return domain.ProductGrant{}, err
	}

	// The legacy CRM flag is written in the same transaction as the grant
	// so the two permission sources never disagree.
	var legacyCRM *bool
	if productID == domain.ProductCRM {
		v := true
		legacyCRM = &v
	}

	if err := l.repo.SaveGrant(ctx, principalID, grant, legacyCRM); err != nil {
		return domain.ProductGrant{}, fmt.Errorf("saving grant: %w", err)
	}

	l.recordAudit(ctx, actor, principal, "product_access.grant", productID, nil)
	return grant, nil
}

// Revoke deactivates product access. The token and link are retained for
// history but treated as invalid while the grant is inactive.
func (l *AccessLedger) Revoke(ctx context.Context, actor domain.Principal, principalID, productID string) (domain.ProductGrant, error) {
	lock := l.lockFor(principalID)
	lock.Lock()
	defer lock.Unlock()

	principal, err := l.repo.GetByID(ctx, principalID)
	if err != nil {
		return domain.ProductGrant{}, err
	}

	grant, ok := principal.Grant(productID)
	if !ok {
		return domain.ProductGrant{}, &domain.NotGrantedError{PrincipalID: principalID, ProductID: productID}
	}

	now := time.Now().UTC()
	grant.Active = false
	grant.RevokedAt = &now
	grant.RevokedBy = actor.ID
	grant.UpdatedAt = now

	var legacyCRM *bool
	if productID == domain.ProductCRM {
		v := false
		legacyCRM = &v
	}

	if err := l.repo.SaveGrant(ctx, principalID, grant, legacyCRM); err != nil {
		return domain.ProductGrant{}, fmt.Errorf("saving revoked grant: %w", err)
	}

	l.recordAudit(ctx, actor, principal, "product_access.revoke", productID, nil)
	return grant, nil
}

// RegenerateLink replaces the token and link of an active grant, keeping
// the grant history intact. Fails with NotGrantedError when no active
// grant exists; it never mutates state in that case.
func (l *AccessLedger) RegenerateLink(ctx context.Context, actor domain.Principal, principalID, productID string) (domain.ProductGrant, error) {
	lock := l.lockFor(principalID)
	lock.Lock()
	defer lock.Unlock()

	principal, err := l.repo.GetByID(ctx, principalID)
	if err != nil {
		return domain.ProductGrant{}, err
	}

	grant, ok := principal.Grant(productID)
	if !ok || !grant.Active {
		return domain.ProductGrant{}, &domain.NotGrantedError{PrincipalID: principalID, ProductID: productID}
	}

	if err := l.rotateLink(&grant, principal); err != nil {
		return domain.ProductGrant{}, err
	}
	grant.UpdatedAt = time.Now().UTC()

	if err := l.repo.SaveGrant(ctx, principalID, grant, nil); err != nil {
		return domain.ProductGrant{}, fmt.Errorf("saving regenerated grant: %w", err)
	}

	l.recordAudit(ctx, actor, principal, "product_access.regenerate", productID, map[string]any{
		"access_link": grant.AccessLink,
	})
	return grant, nil
}

// ResolveByLink is the unauthenticated product-access entry point. It maps
// an access link back to its principal and grant, failing with
// ErrAccessRevoked when the grant is no longer active, and bumps the usage
// counters on success.
func (l *AccessLedger) ResolveByLink(ctx context.Context, link string) (domain.Principal, domain.ProductGrant, error) {
	principal, grant, err := l.repo.GetByGrantLink(ctx, link)
	if err != nil {
		return domain.Principal{}, domain.ProductGrant{}, err
	}

	if !grant.Active {
		return domain.Principal{}, domain.ProductGrant{}, domain.ErrAccessRevoked
	}

	now := time.Now().UTC()
	if err := l.repo.TouchGrantUsage(ctx, principal.ID, grant.ProductID, now); err != nil {
		// Usage counters are advisory; resolution already succeeded.
		slog.WarnContext(ctx, "touching grant usage failed",
			"principal_id", principal.ID,
			"product_id", grant.ProductID,
			"error", err,
		)
	}
	grant.AccessCount++
	grant.LastAccessed = &now

	return principal, grant, nil
}

func (l *AccessLedger) rotateLink(grant *domain.ProductGrant, owner domain.Principal) error {
	token, err := newAccessToken()
	if err != nil {
		return fmt.Errorf("generating access token: %w", err)
	}

	company := ""
	if owner.Enterprise != nil {
		company = owner.Enterprise.CompanyName
	}
	link, err := newAccessLink(company)
	if err != nil {
		return fmt.Errorf("generating access link: %w", err)
	}

	grant.AccessToken = token
	grant.AccessLink = link
	return nil
}

func (l *AccessLedger) recordAudit(ctx context.Context, actor, target domain.Principal, action, productID string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["product_id"] = productID

	err := l.audit.Record(ctx, domain.AuditEntry{
		EnterpriseID: target.EnterpriseID(),
		ActorID:      actor.ID,
		Action:       action,
		Target:       "principal",
		TargetID:     target.ID,
		Details:      details,
	})
	if err != nil {
		// The audit sink is write-only; its failures never fail the mutation.
		slog.WarnContext(ctx, "audit record failed", "action", action, "error", err)
	}
}
