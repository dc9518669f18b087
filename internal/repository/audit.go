package repository

import (
	"context"

	"github.com/blocklist-app/blocklist-server/internal/db"
	"github.com/blocklist-app/blocklist-server/internal/models"
)

// AuditLogs is the PostgreSQL AuditRepository. Rows are append-only; a
// trigger rejects UPDATE and DELETE with db.ErrImmutableRecord.
type AuditLogs struct {
	*Store
}

// Create appends an entry. Details are stored as text.
func (r *AuditLogs) Create(ctx context.Context, entry *models.AuditEntry) error {
	var details *string
	if len(entry.Details) > 0 {
		s := string(entry.Details)
		details = &s
	}
	err := r.q(ctx).QueryRow(ctx, `
		INSERT INTO audit_logs (action, actor, target, details)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		entry.Action, entry.Actor, entry.Target, details,
	).Scan(&entry.ID, &entry.CreatedAt)
	return db.WrapError(err, "create audit entry")
}

// List returns entries newest first.
func (r *AuditLogs) List(ctx context.Context, limit, offset int) ([]models.AuditEntry, int64, error) {
	var total int64
	if err := r.q(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs").Scan(&total); err != nil {
		return nil, 0, db.WrapError(err, "count audit entries")
	}

	rows, err := r.q(ctx).Query(ctx, `
		SELECT id, action, actor, target, details, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, db.WrapError(err, "list audit entries")
	}
	defer rows.Close()

	entries := make([]models.AuditEntry, 0, limit)
	for rows.Next() {
		var (
			e       models.AuditEntry
			details *string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &e.Target, &details, &e.CreatedAt); err != nil {
			return nil, 0, db.WrapError(err, "scan audit entry")
		}
		if details != nil {
			e.Details = models.DetailsJSON(*details)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.WrapError(err, "iterate audit entries")
	}
	return entries, total, nil
}
