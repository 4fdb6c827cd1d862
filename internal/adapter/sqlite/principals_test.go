package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neomorfeo/backoffice/internal/adapter/sqlite"
	"github.com/neomorfeo/backoffice/internal/domain"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testAdmin(id, enterpriseID, company string) domain.Principal {
	now := time.Now().UTC()
	return domain.Principal{
		ID:         id,
		Email:      id + "@example.com",
		Role:       domain.RoleAdmin,
		Enterprise: &domain.Enterprise{EnterpriseID: enterpriseID, CompanyName: company},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func testUser(id, createdBy string) domain.Principal {
	now := time.Now().UTC()
	return domain.Principal{
		ID:        id,
		Email:     id + "@example.com",
		Role:      domain.RoleUser,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func activeGrant(by string) domain.ProductGrant {
	now := time.Now().UTC()
	return domain.ProductGrant{
		ProductID:   domain.ProductCRM,
		Active:      true,
		GrantedAt:   now,
		GrantedBy:   by,
		AccessToken: "token-1",
		AccessLink:  "acme-abcdef",
		UpdatedAt:   now,
	}
}

func TestPrincipals_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	repo := store.Principals()
	ctx := context.Background()

	admin := testAdmin("adm-1", "ent-1", "Acme")
	admin.Legacy.CRMAccess = true
	admin.Matrix = domain.PermissionMatrix{domain.ModuleTickets: {domain.ActionView: true}}
	if err := repo.Create(ctx, admin); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.GetByID(ctx, "adm-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Role != domain.RoleAdmin {
		t.Errorf("Role = %q, want admin", got.Role)
	}
	if got.EnterpriseID() != "ent-1" {
		t.Errorf("EnterpriseID = %q, want ent-1", got.EnterpriseID())
	}
	if !got.Legacy.CRMAccess {
		t.Error("legacy CRM flag lost")
	}
	if !got.Matrix.Allows(domain.ModuleTickets, domain.ActionView) {
		t.Error("matrix entry lost")
	}
}

func TestPrincipals_GetByID_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Principals().GetByID(context.Background(), "nope")
	if !errors.Is(err, domain.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestPrincipals_UserRequiresCreator(t *testing.T) {
	store := newTestStore(t)

	err := store.Principals().Create(context.Background(), domain.Principal{
		ID: "u-1", Email: "u@example.com", Role: domain.RoleUser,
	})
	var valErr *domain.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestPrincipals_OneAdminPerEnterprise(t *testing.T) {
	store := newTestStore(t)
	repo := store.Principals()
	ctx := context.Background()

	if err := repo.Create(ctx, testAdmin("adm-1", "ent-1", "Acme")); err != nil {
		t.Fatalf("first admin: %v", err)
	}

	err := repo.Create(ctx, testAdmin("adm-2", "ent-1", "Acme Too"))
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError for second admin of ent-1, got %v", err)
	}

	// A different enterprise is fine, as is a superadmin without one.
	if err := repo.Create(ctx, testAdmin("adm-3", "ent-2", "Globex")); err != nil {
		t.Fatalf("admin of other enterprise: %v", err)
	}
	sa := domain.Principal{ID: "sa-1", Email: "root@example.com", Role: domain.RoleSuperadmin}
	if err := repo.Create(ctx, sa); err != nil {
		t.Fatalf("superadmin: %v", err)
	}
}

func TestPrincipals_GetAdminByEnterprise(t *testing.T) {
	store := newTestStore(t)
	repo := store.Principals()
	ctx := context.Background()

	if err := repo.Create(ctx, testAdmin("adm-1", "ent-1", "Acme")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	admin, err := repo.GetAdminByEnterprise(ctx, "ent-1")
	if err != nil {
		t.Fatalf("GetAdminByEnterprise failed: %v", err)
	}
	if admin.ID != "adm-1" {
		t.Errorf("ID = %q, want adm-1", admin.ID)
	}

	_, err = repo.GetAdminByEnterprise(ctx, "ent-void")
	if !errors.Is(err, domain.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestPrincipals_SaveGrant_UpsertKeepsOneRow(t *testing.T) {
	store := newTestStore(t)
	repo := store.Principals()
	ctx := context.Background()

	if err := repo.Create(ctx, testAdmin("adm-1", "ent-1", "Acme")); err != nil {
		t.Fatalf("admin: %v", err)
	}
	if err := repo.Create(ctx, testUser("u-1", "adm-1")); err != nil {
		t.Fatalf("user: %v", err)
	}

	g := activeGrant("adm-1")
	if err := repo.SaveGrant(ctx, "u-1", g, nil); err != nil {
		t.Fatalf("first save: %v", err)
	}

	g.Active = false
	now := time.Now().UTC()
	g.RevokedAt = &now
	g.RevokedBy = "adm-1"
	if err := repo.SaveGrant(ctx, "u-1", g, nil); err != nil {
		t.Fatalf("second save: %v", err)
	}

	p, err := repo.GetByID(ctx, "u-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if len(p.Grants) != 1 {
		t.Fatalf("got %d grants, want 1", len(p.Grants))
	}
	if p.Grants[0].Active {
		t.Error("grant should be inactive after revoke")
	}
	if p.Grants[0].RevokedAt == nil {
		t.Error("RevokedAt lost in upsert")
	}
}

func TestPrincipals_SaveGrant_MirrorsLegacyCRM(t *testing.T) {
	store := newTestStore(t)
	repo := store.Principals()
	ctx := context.Background()

	if err := repo.Create(ctx, testAdmin("adm-1", "ent-1", "Acme")); err != nil {
		t.Fatalf("admin: %v", err)
	}
	if err := repo.Create(ctx, testUser("u-1", "adm-1")); err != nil {
		t.Fatalf("user: %v", err)
	}

	on := true
	if err := repo.SaveGrant(ctx, "u-1", activeGrant("adm-1"), &on); err != nil {
		t.Fatalf("SaveGrant failed: %v", err)
	}

	p, _ := repo.GetByID(ctx, "u-1")
	if !p.Legacy.CRMAccess {
		t.Error("legacy CRM flag not set with grant")
	}

	off := false
	g := activeGrant("adm-1")
	g.Active = false
	if err := repo.SaveGrant(ctx, "u-1", g, &off); err != nil {
		t.Fatalf("SaveGrant failed: %v", err)
	}

	p, _ = repo.GetByID(ctx, "u-1")
	if p.Legacy.CRMAccess {
		t.Error("legacy CRM flag not cleared with revoke")
	}
}

func TestPrincipals_SaveGrant_UnknownPrincipalRollsBack(t *testing.T) {
	store := newTestStore(t)
	repo := store.Principals()
	ctx := context.Background()

	on := true
	if err := repo.SaveGrant(ctx, "ghost", activeGrant("adm-1"), &on); err == nil {
		t.Fatal("expected error saving grant for unknown principal")
	}

	// The grant row must not survive the rolled-back transaction.
	_, _, err := repo.GetByGrantLink(ctx, "acme-abcdef")
	if !errors.Is(err, domain.ErrPrincipalNotFound) {
		t.Fatalf("grant row leaked: %v", err)
	}
}

func TestPrincipals_GetByGrantLink(t *testing.T) {
	store := newTestStore(t)
	repo := store.Principals()
	ctx := context.Background()

	if err := repo.Create(ctx, testAdmin("adm-1", "ent-1", "Acme")); err != nil {
		t.Fatalf("admin: %v", err)
	}
	if err := repo.Create(ctx, testUser("u-1", "adm-1")); err != nil {
		t.Fatalf("user: %v", err)
	}
	if err := repo.SaveGrant(ctx, "u-1", activeGrant("adm-1"), nil); err != nil {
		t.Fatalf("SaveGrant failed: %v", err)
	}

	p, g, err := repo.GetByGrantLink(ctx, "acme-abcdef")
	if err != nil {
		t.Fatalf("GetByGrantLink failed: %v", err)
	}
	if p.ID != "u-1" {
		t.Errorf("principal = %q, want u-1", p.ID)
	}
	if g.ProductID != domain.ProductCRM {
		t.Errorf("product = %q, want crm", g.ProductID)
	}
}

func TestPrincipals_TouchGrantUsage(t *testing.T) {
	store := newTestStore(t)
	repo := store.Principals()
	ctx := context.Background()

	if err := repo.Create(ctx, testAdmin("adm-1", "ent-1", "Acme")); err != nil {
		t.Fatalf("admin: %v", err)
	}
	if err := repo.Create(ctx, testUser("u-1", "adm-1")); err != nil {
		t.Fatalf("user: %v", err)
	}
	if err := repo.SaveGrant(ctx, "u-1", activeGrant("adm-1"), nil); err != nil {
		t.Fatalf("SaveGrant failed: %v", err)
	}

	at := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := repo.TouchGrantUsage(ctx, "u-1", domain.ProductCRM, at); err != nil {
			t.Fatalf("TouchGrantUsage failed: %v", err)
		}
	}

	p, _ := repo.GetByID(ctx, "u-1")
	g, _ := p.Grant(domain.ProductCRM)
	if g.AccessCount != 3 {
		t.Errorf("AccessCount = %d, want 3", g.AccessCount)
	}
	if g.LastAccessed == nil {
		t.Error("LastAccessed not stamped")
	}

	// Re-saving the grant must not reset usage counters.
	if err := repo.SaveGrant(ctx, "u-1", activeGrant("adm-1"), nil); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	p, _ = repo.GetByID(ctx, "u-1")
	g, _ = p.Grant(domain.ProductCRM)
	if g.AccessCount != 3 {
		t.Errorf("AccessCount after re-save = %d, want 3", g.AccessCount)
	}
}

func TestPrincipals_UpdateMatrix(t *testing.T) {
	store := newTestStore(t)
	repo := store.Principals()
	ctx := context.Background()

	if err := repo.Create(ctx, testAdmin("adm-1", "ent-1", "Acme")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	matrix := domain.PermissionMatrix{domain.ModuleLeads: {domain.ActionAdd: true}}
	if err := repo.UpdateMatrix(ctx, "adm-1", matrix); err != nil {
		t.Fatalf("UpdateMatrix failed: %v", err)
	}

	p, _ := repo.GetByID(ctx, "adm-1")
	if !p.Matrix.Allows(domain.ModuleLeads, domain.ActionAdd) {
		t.Error("matrix update lost")
	}

	if err := repo.UpdateMatrix(ctx, "ghost", matrix); !errors.Is(err, domain.ErrPrincipalNotFound) {
		t.Fatalf("expected ErrPrincipalNotFound, got %v", err)
	}
}

func TestPrincipals_ListSuperadmins(t *testing.T) {
	store := newTestStore(t)
	repo := store.Principals()
	ctx := context.Background()

	seed := []domain.Principal{
		{ID: "sa-1", Email: "a@example.com", Role: domain.RoleSuperadmin},
		{ID: "sa-2", Email: "b@example.com", Role: domain.RoleSuperadmin},
		testAdmin("adm-1", "ent-1", "Acme"),
	}
	for _, p := range seed {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create %s failed: %v", p.ID, err)
		}
	}

	supers, err := repo.ListSuperadmins(ctx)
	if err != nil {
		t.Fatalf("ListSuperadmins failed: %v", err)
	}
	if len(supers) != 2 {
		t.Errorf("got %d superadmins, want 2", len(supers))
	}
}
