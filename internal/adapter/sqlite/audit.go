package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/neomorfeo/backoffice/internal/domain"
)

// Compile-time check: AuditLog implements the domain sink.
var _ domain.AuditSink = (*AuditLog)(nil)

// AuditLog implements domain.AuditSink using SQLite. It is append-only;
// callers ignore its failures.
type AuditLog struct {
	db *sql.DB
}

// Record inserts one audit entry.
func (a *AuditLog) Record(ctx context.Context, entry domain.AuditEntry) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encoding audit details: %w", err)
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, enterprise_id, actor_id, action, target, target_id, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), entry.EnterpriseID, entry.ActorID, entry.Action,
		entry.Target, entry.TargetID, string(encoded),
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// CountByEnterprise returns the number of audit entries recorded for an
// enterprise.
func (a *AuditLog) CountByEnterprise(ctx context.Context, enterpriseID string) (int64, error) {
	var count int64
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE enterprise_id = ?`, enterpriseID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting audit entries: %w", err)
	}
	return count, nil
}
