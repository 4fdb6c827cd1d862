package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neomorfeo/backoffice/internal/domain"
)

// Compile-time check: PrincipalRepository implements the domain port.
var _ domain.PrincipalRepository = (*PrincipalRepository)(nil)

// PrincipalRepository implements domain.PrincipalRepository using SQLite.
type PrincipalRepository struct {
	db *sql.DB
}

const principalColumns = `id, email, role, enterprise_id, company_name, created_by,
	crm_access, hrm_access, job_portal_access, job_board_access, project_management_access,
	matrix, created_at, updated_at`

// Create inserts a principal. A user-role principal must carry its creator;
// an admin's enterprise identifier must not collide with another admin's.
func (r *PrincipalRepository) Create(ctx context.Context, p domain.Principal) error {
	if p.Role == domain.RoleUser && p.CreatedBy == "" {
		return &domain.ValidationError{Field: "created_by", Reason: "required for user-role principals"}
	}

	matrix, err := json.Marshal(p.Matrix)
	if err != nil {
		return fmt.Errorf("encoding permission matrix: %w", err)
	}

	var enterpriseID any
	companyName := ""
	if p.Enterprise != nil {
		if p.Enterprise.EnterpriseID != "" {
			enterpriseID = p.Enterprise.EnterpriseID
		}
		companyName = p.Enterprise.CompanyName
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO principals (`+principalColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Email, string(p.Role), enterpriseID, companyName, p.CreatedBy,
		p.Legacy.CRMAccess, p.Legacy.HRMAccess, p.Legacy.JobPortalAccess,
		p.Legacy.JobBoardAccess, p.Legacy.ProjectManagementAccess,
		string(matrix),
		p.CreatedAt.Format(timeFormat), p.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ConflictError{Entity: "principal", ID: p.ID}
		}
		return fmt.Errorf("inserting principal: %w", err)
	}
	return nil
}

// UpdateMatrix replaces a principal's custom permission matrix.
func (r *PrincipalRepository) UpdateMatrix(ctx context.Context, id string, matrix domain.PermissionMatrix) error {
	encoded, err := json.Marshal(matrix)
	if err != nil {
		return fmt.Errorf("encoding permission matrix: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE principals SET matrix = ?, updated_at = ? WHERE id = ?`,
		string(encoded), time.Now().UTC().Format(timeFormat), id,
	)
	if err != nil {
		return fmt.Errorf("updating permission matrix: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrPrincipalNotFound
	}
	return nil
}

func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (domain.Principal, error) {
	p, err := r.scanPrincipal(r.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE id = ?`, id,
	))
	if err != nil {
		return domain.Principal{}, err
	}
	return r.withGrants(ctx, p)
}

func (r *PrincipalRepository) GetAdminByEnterprise(ctx context.Context, enterpriseID string) (domain.Principal, error) {
	p, err := r.scanPrincipal(r.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE role = ? AND enterprise_id = ?`,
		string(domain.RoleAdmin), enterpriseID,
	))
	if err != nil {
		return domain.Principal{}, err
	}
	return r.withGrants(ctx, p)
}

func (r *PrincipalRepository) ListAdminsByEnterprise(ctx context.Context, enterpriseID string) ([]domain.Principal, error) {
	return r.list(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE role = ? AND enterprise_id = ?`,
		string(domain.RoleAdmin), enterpriseID,
	)
}

func (r *PrincipalRepository) ListSuperadmins(ctx context.Context) ([]domain.Principal, error) {
	return r.list(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE role = ?`,
		string(domain.RoleSuperadmin),
	)
}

func (r *PrincipalRepository) GetByGrantLink(ctx context.Context, link string) (domain.Principal, domain.ProductGrant, error) {
	var principalID string
	err := r.db.QueryRowContext(ctx,
		`SELECT principal_id FROM product_grants WHERE access_link = ?`, link,
	).Scan(&principalID)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Principal{}, domain.ProductGrant{}, domain.ErrPrincipalNotFound
		}
		return domain.Principal{}, domain.ProductGrant{}, fmt.Errorf("resolving access link: %w", err)
	}

	principal, err := r.GetByID(ctx, principalID)
	if err != nil {
		return domain.Principal{}, domain.ProductGrant{}, err
	}

	for _, g := range principal.Grants {
		if g.AccessLink == link {
			return principal, g, nil
		}
	}
	return domain.Principal{}, domain.ProductGrant{}, domain.ErrPrincipalNotFound
}

// SaveGrant upserts a grant and, when legacyCRM is set, mirrors the legacy
// CRM flag in the same transaction. The two permission sources must never
// disagree, so a failure of either write rolls back both.
func (r *PrincipalRepository) SaveGrant(ctx context.Context, principalID string, g domain.ProductGrant, legacyCRM *bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning grant transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO product_grants (principal_id, product_id, active, granted_at, granted_by,
		     revoked_at, revoked_by, access_token, access_link, access_count, last_accessed, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (principal_id, product_id) DO UPDATE SET
		     active = excluded.active,
		     granted_at = excluded.granted_at,
		     granted_by = excluded.granted_by,
		     revoked_at = excluded.revoked_at,
		     revoked_by = excluded.revoked_by,
		     access_token = excluded.access_token,
		     access_link = excluded.access_link,
		     updated_at = excluded.updated_at`,
		principalID, g.ProductID, g.Active,
		g.GrantedAt.Format(timeFormat), g.GrantedBy,
		formatTimePtr(g.RevokedAt), g.RevokedBy,
		g.AccessToken, g.AccessLink,
		g.AccessCount, formatTimePtr(g.LastAccessed),
		g.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upserting grant: %w", err)
	}

	if legacyCRM != nil {
		result, err := tx.ExecContext(ctx,
			`UPDATE principals SET crm_access = ?, updated_at = ? WHERE id = ?`,
			*legacyCRM, time.Now().UTC().Format(timeFormat), principalID,
		)
		if err != nil {
			return fmt.Errorf("mirroring legacy crm flag: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrPrincipalNotFound
		}
	}

	return tx.Commit()
}

func (r *PrincipalRepository) TouchGrantUsage(ctx context.Context, principalID, productID string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE product_grants
		 SET access_count = access_count + 1, last_accessed = ?
		 WHERE principal_id = ? AND product_id = ?`,
		at.Format(timeFormat), principalID, productID,
	)
	if err != nil {
		return fmt.Errorf("touching grant usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrPrincipalNotFound
	}
	return nil
}

func (r *PrincipalRepository) list(ctx context.Context, query string, args ...any) ([]domain.Principal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing principals: %w", err)
	}
	defer rows.Close()

	var principals []domain.Principal
	for rows.Next() {
		p, err := r.scanPrincipalFromRows(rows)
		if err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Attach grants after the cursor is exhausted: the pool is capped at a
	// single connection, so a nested query while rows are open would block.
	for i, p := range principals {
		p, err := r.withGrants(ctx, p)
		if err != nil {
			return nil, err
		}
		principals[i] = p
	}
	return principals, nil
}

func (r *PrincipalRepository) withGrants(ctx context.Context, p domain.Principal) (domain.Principal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT product_id, active, granted_at, granted_by, revoked_at, revoked_by,
		        access_token, access_link, access_count, last_accessed, updated_at
		 FROM product_grants WHERE principal_id = ? ORDER BY granted_at`,
		p.ID,
	)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("loading grants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g domain.ProductGrant
		var grantedAt, updatedAt string
		var revokedAt, lastAccessed sql.NullString
		err := rows.Scan(&g.ProductID, &g.Active, &grantedAt, &g.GrantedBy,
			&revokedAt, &g.RevokedBy, &g.AccessToken, &g.AccessLink,
			&g.AccessCount, &lastAccessed, &updatedAt)
		if err != nil {
			return domain.Principal{}, fmt.Errorf("scanning grant: %w", err)
		}
		g.GrantedAt, _ = time.Parse(timeFormat, grantedAt)
		g.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
		g.RevokedAt = parseTimePtr(revokedAt)
		g.LastAccessed = parseTimePtr(lastAccessed)
		p.Grants = append(p.Grants, g)
	}
	return p, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PrincipalRepository) scanPrincipal(row *sql.Row) (domain.Principal, error) {
	p, err := scanPrincipalRow(row)
	if err == sql.ErrNoRows {
		return domain.Principal{}, domain.ErrPrincipalNotFound
	}
	if err != nil {
		return domain.Principal{}, fmt.Errorf("scanning principal: %w", err)
	}
	return p, nil
}

func (r *PrincipalRepository) scanPrincipalFromRows(rows *sql.Rows) (domain.Principal, error) {
	p, err := scanPrincipalRow(rows)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("scanning principal row: %w", err)
	}
	return p, nil
}

func scanPrincipalRow(row rowScanner) (domain.Principal, error) {
	var p domain.Principal
	var role, matrix, createdAt, updatedAt, companyName string
	var enterpriseID sql.NullString

	err := row.Scan(&p.ID, &p.Email, &role, &enterpriseID, &companyName, &p.CreatedBy,
		&p.Legacy.CRMAccess, &p.Legacy.HRMAccess, &p.Legacy.JobPortalAccess,
		&p.Legacy.JobBoardAccess, &p.Legacy.ProjectManagementAccess,
		&matrix, &createdAt, &updatedAt)
	if err != nil {
		return domain.Principal{}, err
	}

	p.Role = domain.Role(role)
	if enterpriseID.Valid || companyName != "" {
		p.Enterprise = &domain.Enterprise{
			EnterpriseID: enterpriseID.String,
			CompanyName:  companyName,
		}
	}
	if err := json.Unmarshal([]byte(matrix), &p.Matrix); err != nil {
		return domain.Principal{}, fmt.Errorf("decoding permission matrix: %w", err)
	}
	p.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	p.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return p, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(timeFormat)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(timeFormat, s.String)
	if err != nil {
		return nil
	}
	return &t
}
