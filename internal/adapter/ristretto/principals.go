// Package ristretto decorates the principal repository with an in-process
// L1 cache for the hot enterprise-admin lookup on the ticket-routing path.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/neomorfeo/backoffice/internal/domain"
)

// Compile-time check: CachedPrincipals implements the domain port.
var _ domain.PrincipalRepository = (*CachedPrincipals)(nil)

// adminTTL bounds staleness of the enterprise -> admin mapping. Admin
// ownership of an enterprise changes rarely; routing tolerates a short lag.
const adminTTL = 30 * time.Second

// CachedPrincipals caches GetAdminByEnterprise results in front of the
// underlying repository. All other calls, and every mutation, pass
// through; grant writes invalidate the owning admin's cache entry.
type CachedPrincipals struct {
	next  domain.PrincipalRepository
	cache *ristretto.Cache[string, domain.Principal]
}

// New creates a cached decorator around the given repository.
func New(next domain.PrincipalRepository) (*CachedPrincipals, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, domain.Principal]{
		NumCounters: 10_000, // ~10x expected enterprises
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedPrincipals{next: next, cache: cache}, nil
}

// Close releases cache resources.
func (c *CachedPrincipals) Close() {
	c.cache.Close()
}

// Wait blocks until buffered cache writes have been applied.
func (c *CachedPrincipals) Wait() {
	c.cache.Wait()
}

func (c *CachedPrincipals) GetAdminByEnterprise(ctx context.Context, enterpriseID string) (domain.Principal, error) {
	if admin, ok := c.cache.Get(enterpriseID); ok {
		return admin, nil
	}

	admin, err := c.next.GetAdminByEnterprise(ctx, enterpriseID)
	if err != nil {
		return domain.Principal{}, err
	}
	c.cache.SetWithTTL(enterpriseID, admin, 1, adminTTL)
	return admin, nil
}

func (c *CachedPrincipals) GetByID(ctx context.Context, id string) (domain.Principal, error) {
	return c.next.GetByID(ctx, id)
}

func (c *CachedPrincipals) ListAdminsByEnterprise(ctx context.Context, enterpriseID string) ([]domain.Principal, error) {
	return c.next.ListAdminsByEnterprise(ctx, enterpriseID)
}

func (c *CachedPrincipals) ListSuperadmins(ctx context.Context) ([]domain.Principal, error) {
	return c.next.ListSuperadmins(ctx)
}

func (c *CachedPrincipals) GetByGrantLink(ctx context.Context, link string) (domain.Principal, domain.ProductGrant, error) {
	return c.next.GetByGrantLink(ctx, link)
}

func (c *CachedPrincipals) SaveGrant(ctx context.Context, principalID string, grant domain.ProductGrant, legacyCRM *bool) error {
	if err := c.next.SaveGrant(ctx, principalID, grant, legacyCRM); err != nil {
		return err
	}
	// The principal may be a cached enterprise admin; drop any entry that
	// now carries stale grants.
	if p, err := c.next.GetByID(ctx, principalID); err == nil && p.Role == domain.RoleAdmin {
		c.cache.Del(p.EnterpriseID())
	}
	return nil
}

func (c *CachedPrincipals) TouchGrantUsage(ctx context.Context, principalID, productID string, at time.Time) error {
	return c.next.TouchGrantUsage(ctx, principalID, productID, at)
}
