package domain

import "time"

// Role classifies a principal. The set is closed: every authorization
// decision switches over exactly these three values.
type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleUser       Role = "user"
)

// ParseRole validates a raw role string against the closed enum.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleSuperadmin, RoleAdmin, RoleUser:
		return Role(s), true
	}
	return "", false
}

// Module identifies a functional area guarded by the permission matrix.
type Module string

const (
	ModuleProducts Module = "products"
	ModuleServices Module = "services"
	ModuleUsers    Module = "users"
	ModuleLeads    Module = "leads"
	ModuleTickets  Module = "tickets"
)

// Action is an operation on a module.
type Action string

const (
	ActionView   Action = "view"
	ActionAdd    Action = "add"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// PermissionMatrix maps module -> action -> allowed. Absent entries mean
// denied; lookups never fail.
type PermissionMatrix map[Module]map[Action]bool

// Allows reports whether the matrix explicitly grants the action.
func (m PermissionMatrix) Allows(module Module, action Action) bool {
	actions, ok := m[module]
	if !ok {
		return false
	}
	return actions[action]
}

// LegacyPermissions are the coarse per-product booleans that predate the
// permission matrix. They are kept in sync with the grant ledger for the
// CRM product and still drive the admin override in the resolver.
type LegacyPermissions struct {
	CRMAccess               bool
	HRMAccess               bool
	JobPortalAccess         bool
	JobBoardAccess          bool
	ProjectManagementAccess bool
}

// ProductCRM is the product whose grant state mirrors into
// LegacyPermissions.CRMAccess.
const ProductCRM = "crm"

// ProductGrant records whether a principal may use a product, with full
// grant/revoke history. There is at most one grant per (principal, product);
// revoking flips Active and stamps metadata, it never deletes the record.
type ProductGrant struct {
	ProductID    string
	Active       bool
	GrantedAt    time.Time
	GrantedBy    string
	RevokedAt    *time.Time
	RevokedBy    string
	AccessToken  string
	AccessLink   string
	AccessCount  int64
	LastAccessed *time.Time
	UpdatedAt    time.Time
}

// Enterprise is the tenant boundary an admin principal owns. Sub-users
// reference it transitively through their creator.
type Enterprise struct {
	EnterpriseID string
	CompanyName  string
}

// Principal is any authenticated account.
type Principal struct {
	ID         string
	Email      string
	Role       Role
	Enterprise *Enterprise
	// CreatedBy is required for user-role principals; their effective
	// enterprise is the creator's, never self-declared.
	CreatedBy string
	Legacy    LegacyPermissions
	Matrix    PermissionMatrix
	Grants    []ProductGrant
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Grant returns the grant for the given product, if any.
func (p Principal) Grant(productID string) (ProductGrant, bool) {
	for _, g := range p.Grants {
		if g.ProductID == productID {
			return g, true
		}
	}
	return ProductGrant{}, false
}

// HasActiveGrant reports whether the principal holds an active grant for
// the product.
func (p Principal) HasActiveGrant(productID string) bool {
	g, ok := p.Grant(productID)
	return ok && g.Active
}

// EnterpriseID returns the principal's own enterprise identifier, or ""
// when none is configured. For user-role principals the router falls back
// to the creator's enterprise.
func (p Principal) EnterpriseID() string {
	if p.Enterprise == nil {
		return ""
	}
	return p.Enterprise.EnterpriseID
}
