package app

import "github.com/neomorfeo/backoffice/internal/domain"

// legacyAdminModules are the core modules an admin may operate on through
// the coarse legacy CRM flag, without a matrix entry.
var legacyAdminModules = map[domain.Module]bool{
	domain.ModuleProducts: true,
	domain.ModuleUsers:    true,
	domain.ModuleLeads:    true,
}

// grantDefaultAllowList is the minimal capability set of a sub-user holding
// an active CRM grant, so a freshly-granted user is never fully locked out
// before an admin configures the matrix.
var grantDefaultAllowList = map[domain.Module]map[domain.Action]bool{
	domain.ModuleProducts: {domain.ActionView: true},
	domain.ModuleServices: {domain.ActionView: true},
	domain.ModuleLeads:    {domain.ActionView: true, domain.ActionAdd: true},
}

// Authorize is the single permission decision for the whole system. It is
// pure: callers emit the 403-equivalent on deny.
//
// Resolution order, first match wins:
//  1. superadmin: allow unconditionally.
//  2. admin with the legacy CRM flag: allow for the core modules.
//  3. user with an active CRM grant: allow for the default allow-list.
//  4. the custom permission matrix.
//  5. deny.
//
// The legacy flag predates the matrix and must keep working for existing
// admins; the matrix is consulted last so an explicit entry can only widen
// access, never narrow a rule above it.
func Authorize(p domain.Principal, module domain.Module, action domain.Action) bool {
	if p.Role == domain.RoleSuperadmin {
		return true
	}

	if p.Role == domain.RoleAdmin && p.Legacy.CRMAccess && legacyAdminModules[module] {
		return true
	}

	if p.Role == domain.RoleUser && p.HasActiveGrant(domain.ProductCRM) &&
		grantDefaultAllowList[module][action] {
		return true
	}

	return p.Matrix.Allows(module, action)
}
