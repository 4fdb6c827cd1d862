package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/neomorfeo/backoffice/internal/domain"
)

// Compile-time check: TicketRepository implements the domain port.
var _ domain.TicketRepository = (*TicketRepository)(nil)

// TicketRepository implements domain.TicketRepository using SQLite.
// Status writes are conditional on the ticket version and responses live
// in their own table, so concurrent writers never clobber each other's
// appends.
type TicketRepository struct {
	db *sql.DB
}

const ticketColumns = `id, ticket_no, submitted_by, submitter_role, assigned_admin, enterprise_id,
	subject, body, category, priority, status, is_admin_ticket, forwarded_to_superadmin,
	forwarded_by, forwarded_at, created_at, updated_at, version`

func (r *TicketRepository) Create(ctx context.Context, t domain.Ticket) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tickets (`+ticketColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TicketNo, t.SubmittedBy, string(t.SubmitterRole), t.AssignedAdmin, t.EnterpriseID,
		t.Subject, t.Body, t.Category, string(t.Priority), string(t.Status),
		t.IsAdminTicket, t.ForwardedToSuperAdmin,
		t.ForwardedBy, formatTimePtr(t.ForwardedAt),
		t.CreatedAt.Format(timeFormat), t.UpdatedAt.Format(timeFormat), t.Version,
	)
	if err != nil {
		return fmt.Errorf("inserting ticket: %w", err)
	}
	return nil
}

func (r *TicketRepository) GetByID(ctx context.Context, id string) (domain.Ticket, error) {
	t, err := scanTicketRow(r.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Ticket{}, domain.ErrTicketNotFound
		}
		return domain.Ticket{}, fmt.Errorf("scanning ticket: %w", err)
	}
	return r.withResponses(ctx, t)
}

func (r *TicketRepository) List(ctx context.Context, filter domain.TicketFilter) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var clauses []string
	var args []any

	if filter.SubmittedBy != "" {
		clauses = append(clauses, "submitted_by = ?")
		args = append(args, filter.SubmittedBy)
	}
	if filter.AssignedAdmin != "" {
		clauses = append(clauses, "assigned_admin = ?")
		args = append(args, filter.AssignedAdmin)
	}
	if filter.EnterpriseID != "" {
		clauses = append(clauses, "enterprise_id = ?")
		args = append(args, filter.EnterpriseID)
	}
	if filter.IsAdminTicket != nil {
		clauses = append(clauses, "is_admin_ticket = ?")
		args = append(args, *filter.IsAdminTicket)
	}
	if filter.ForwardedToSuperAdmin != nil {
		clauses = append(clauses, "forwarded_to_superadmin = ?")
		args = append(args, *filter.ForwardedToSuperAdmin)
	}

	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		t, err := scanTicketRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ticket row: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Attach responses after the cursor is exhausted: the pool is capped at
	// a single connection, so a nested query while rows are open would block.
	for i, t := range tickets {
		t, err := r.withResponses(ctx, t)
		if err != nil {
			return nil, err
		}
		tickets[i] = t
	}
	return tickets, nil
}

// UpdateStatus performs a conditional write: the row changes only when the
// stored version still matches, so a losing concurrent writer surfaces as
// ConflictError instead of a silent overwrite.
func (r *TicketRepository) UpdateStatus(ctx context.Context, id string, status domain.TicketStatus, expectedVersion int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET status = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		string(status), time.Now().UTC().Format(timeFormat), id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("updating ticket status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM tickets WHERE id = ?)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("checking ticket existence: %w", err)
		}
		if !exists {
			return domain.ErrTicketNotFound
		}
		return &domain.ConflictError{Entity: "ticket", ID: id}
	}
	return nil
}

// AppendResponse inserts the response as its own row: an atomic push that
// cannot clobber a concurrent append.
func (r *TicketRepository) AppendResponse(ctx context.Context, ticketID string, resp domain.Response) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO ticket_responses (id, ticket_id, role, message, created_at, updated_at)
		 SELECT ?, id, ?, ?, ?, ? FROM tickets WHERE id = ?`,
		resp.ID, string(resp.Role), resp.Message,
		resp.CreatedAt.Format(timeFormat), resp.UpdatedAt.Format(timeFormat),
		ticketID,
	)
	if err != nil {
		return fmt.Errorf("inserting response: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrTicketNotFound
	}
	return nil
}

func (r *TicketRepository) UpdateResponse(ctx context.Context, ticketID, responseID, message string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE ticket_responses SET message = ?, updated_at = ?
		 WHERE id = ? AND ticket_id = ?`,
		message, time.Now().UTC().Format(timeFormat), responseID, ticketID,
	)
	if err != nil {
		return fmt.Errorf("updating response: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrResponseNotFound
	}
	return nil
}

func (r *TicketRepository) DeleteResponse(ctx context.Context, ticketID, responseID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM ticket_responses WHERE id = ? AND ticket_id = ?`,
		responseID, ticketID,
	)
	if err != nil {
		return fmt.Errorf("deleting response: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrResponseNotFound
	}
	return nil
}

func (r *TicketRepository) BackfillResponseRoles(ctx context.Context, ticketID string, role domain.Role) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE ticket_responses SET role = ? WHERE ticket_id = ? AND role = ''`,
		string(role), ticketID,
	)
	if err != nil {
		return fmt.Errorf("backfilling response roles: %w", err)
	}
	return nil
}

// MarkForwarded stamps forwarding metadata once. The WHERE clause skips an
// already-forwarded ticket, which keeps re-forwarding idempotent and the
// original forwarder and timestamp stable.
func (r *TicketRepository) MarkForwarded(ctx context.Context, id, forwardedBy string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tickets
		 SET forwarded_to_superadmin = 1, forwarded_by = ?, forwarded_at = ?,
		     updated_at = ?, version = version + 1
		 WHERE id = ? AND forwarded_to_superadmin = 0`,
		forwardedBy, at.Format(timeFormat), at.Format(timeFormat), id,
	)
	if err != nil {
		return false, fmt.Errorf("marking ticket forwarded: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM tickets WHERE id = ?)`, id,
		).Scan(&exists); err != nil {
			return false, fmt.Errorf("checking ticket existence: %w", err)
		}
		if !exists {
			return false, domain.ErrTicketNotFound
		}
		return false, nil
	}
	return true, nil
}

func (r *TicketRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting ticket: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrTicketNotFound
	}
	return nil
}

func (r *TicketRepository) Stats(ctx context.Context, filter domain.TicketFilter) (domain.TicketStats, error) {
	query := `SELECT status, priority, COUNT(*) FROM tickets`
	var args []any
	if filter.ForwardedToSuperAdmin != nil {
		query += ` WHERE forwarded_to_superadmin = ?`
		args = append(args, *filter.ForwardedToSuperAdmin)
	}
	query += ` GROUP BY status, priority`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.TicketStats{}, fmt.Errorf("aggregating ticket stats: %w", err)
	}
	defer rows.Close()

	stats := domain.TicketStats{
		ByStatus:   make(map[domain.TicketStatus]int64),
		ByPriority: make(map[domain.Priority]int64),
	}
	for rows.Next() {
		var status, priority string
		var count int64
		if err := rows.Scan(&status, &priority, &count); err != nil {
			return domain.TicketStats{}, fmt.Errorf("scanning stats row: %w", err)
		}
		stats.Total += count
		stats.ByStatus[domain.TicketStatus(status)] += count
		stats.ByPriority[domain.Priority(priority)] += count
	}
	return stats, rows.Err()
}

func (r *TicketRepository) withResponses(ctx context.Context, t domain.Ticket) (domain.Ticket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, role, message, created_at, updated_at
		 FROM ticket_responses WHERE ticket_id = ? ORDER BY created_at, id`,
		t.ID,
	)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("loading responses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var resp domain.Response
		var role, createdAt, updatedAt string
		if err := rows.Scan(&resp.ID, &role, &resp.Message, &createdAt, &updatedAt); err != nil {
			return domain.Ticket{}, fmt.Errorf("scanning response: %w", err)
		}
		resp.Role = domain.Role(role)
		resp.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		resp.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
		t.Responses = append(t.Responses, resp)
	}
	return t, rows.Err()
}

func scanTicketRow(row rowScanner) (domain.Ticket, error) {
	var t domain.Ticket
	var submitterRole, priority, status, createdAt, updatedAt string
	var forwardedAt sql.NullString

	err := row.Scan(&t.ID, &t.TicketNo, &t.SubmittedBy, &submitterRole, &t.AssignedAdmin,
		&t.EnterpriseID, &t.Subject, &t.Body, &t.Category, &priority, &status,
		&t.IsAdminTicket, &t.ForwardedToSuperAdmin, &t.ForwardedBy, &forwardedAt,
		&createdAt, &updatedAt, &t.Version)
	if err != nil {
		return domain.Ticket{}, err
	}

	t.SubmitterRole = domain.Role(submitterRole)
	t.Priority = domain.Priority(priority)
	t.Status = domain.TicketStatus(status)
	t.ForwardedAt = parseTimePtr(forwardedAt)
	t.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	t.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return t, nil
}
