package domain_test

import (
	"testing"

	"github.com/neomorfeo/backoffice/internal/domain"
)

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"superadmin", "admin", "user"} {
		if _, ok := domain.ParseRole(valid); !ok {
			t.Errorf("ParseRole(%q) rejected a valid role", valid)
		}
	}
	for _, invalid := range []string{"", "root", "Admin", "ADMIN"} {
		if _, ok := domain.ParseRole(invalid); ok {
			t.Errorf("ParseRole(%q) accepted an invalid role", invalid)
		}
	}
}

func TestPermissionMatrix_Allows(t *testing.T) {
	m := domain.PermissionMatrix{
		domain.ModuleLeads: {domain.ActionView: true, domain.ActionAdd: false},
	}

	if !m.Allows(domain.ModuleLeads, domain.ActionView) {
		t.Error("explicit true entry denied")
	}
	if m.Allows(domain.ModuleLeads, domain.ActionAdd) {
		t.Error("explicit false entry allowed")
	}
	if m.Allows(domain.ModuleLeads, domain.ActionDelete) {
		t.Error("absent action allowed")
	}
	if m.Allows(domain.ModuleUsers, domain.ActionView) {
		t.Error("absent module allowed")
	}

	var nilMatrix domain.PermissionMatrix
	if nilMatrix.Allows(domain.ModuleLeads, domain.ActionView) {
		t.Error("nil matrix allowed")
	}
}

func TestPrincipal_Grant(t *testing.T) {
	p := domain.Principal{
		Grants: []domain.ProductGrant{
			{ProductID: "crm", Active: true},
			{ProductID: "hrm", Active: false},
		},
	}

	if g, ok := p.Grant("crm"); !ok || g.ProductID != "crm" {
		t.Error("Grant(crm) not found")
	}
	if _, ok := p.Grant("jobportal"); ok {
		t.Error("Grant(jobportal) found unexpectedly")
	}

	if !p.HasActiveGrant("crm") {
		t.Error("active grant not reported")
	}
	if p.HasActiveGrant("hrm") {
		t.Error("inactive grant reported as active")
	}
	if p.HasActiveGrant("jobportal") {
		t.Error("absent grant reported as active")
	}
}

func TestPrincipal_EnterpriseID(t *testing.T) {
	withEnterprise := domain.Principal{
		Enterprise: &domain.Enterprise{EnterpriseID: "ent-1", CompanyName: "Acme"},
	}
	if got := withEnterprise.EnterpriseID(); got != "ent-1" {
		t.Errorf("EnterpriseID() = %q, want %q", got, "ent-1")
	}

	var without domain.Principal
	if got := without.EnterpriseID(); got != "" {
		t.Errorf("EnterpriseID() = %q, want empty", got)
	}
}
