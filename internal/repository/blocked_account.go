package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/blocklist-app/blocklist-server/internal/db"
	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/internal/query"
)

const blockedColumns = "id, username, profile_url, created_at, updated_at"

// BlockedAccounts is the PostgreSQL BlockedAccountRepository.
type BlockedAccounts struct {
	*Store
}

func scanBlocked(row pgx.Row) (*models.BlockedAccount, error) {
	var a models.BlockedAccount
	if err := row.Scan(&a.ID, &a.Username, &a.ProfileURL, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns one page of entries and the total count matching the filters.
func (r *BlockedAccounts) List(ctx context.Context, params query.ListParams) ([]models.BlockedAccount, int64, error) {
	var (
		where []string
		args  []any
	)
	if params.Search != "" {
		args = append(args, "%"+query.EscapeLike(params.Search)+"%")
		where = append(where, fmt.Sprintf(`username ILIKE $%d ESCAPE '\'`, len(args)))
	}
	if params.Since != nil {
		args = append(args, *params.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.q(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM blocked_users"+clause, args...).Scan(&total); err != nil {
		return nil, 0, db.WrapError(err, "count blocked accounts")
	}

	// Sort and order come from allow-lists in package query.
	sql := fmt.Sprintf("SELECT %s FROM blocked_users%s ORDER BY %s %s, id ASC LIMIT $%d OFFSET $%d",
		blockedColumns, clause, params.Sort, params.Order, len(args)+1, len(args)+2)
	args = append(args, params.Limit, params.Offset())

	rows, err := r.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, db.WrapError(err, "list blocked accounts")
	}
	defer rows.Close()

	accounts := make([]models.BlockedAccount, 0, params.Limit)
	for rows.Next() {
		a, err := scanBlocked(rows)
		if err != nil {
			return nil, 0, db.WrapError(err, "scan blocked account")
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.WrapError(err, "iterate blocked accounts")
	}

	return accounts, total, nil
}

// GetByID retrieves an entry by id.
func (r *BlockedAccounts) GetByID(ctx context.Context, id int64) (*models.BlockedAccount, error) {
	a, err := scanBlocked(r.q(ctx).QueryRow(ctx,
		"SELECT "+blockedColumns+" FROM blocked_users WHERE id = $1", id))
	if err != nil {
		return nil, db.WrapError(err, "get blocked account")
	}
	return a, nil
}

// Create inserts a new entry. A taken username yields db.ErrDuplicateKey.
func (r *BlockedAccounts) Create(ctx context.Context, username, profileURL string) (*models.BlockedAccount, error) {
	a, err := scanBlocked(r.q(ctx).QueryRow(ctx, `
		INSERT INTO blocked_users (username, profile_url)
		VALUES ($1, $2)
		RETURNING `+blockedColumns, username, profileURL))
	if err != nil {
		return nil, db.WrapError(err, "create blocked account")
	}
	return a, nil
}

// Update replaces username and profile URL and bumps updated_at.
func (r *BlockedAccounts) Update(ctx context.Context, id int64, username, profileURL string) (*models.BlockedAccount, error) {
	a, err := scanBlocked(r.q(ctx).QueryRow(ctx, `
		UPDATE blocked_users
		SET username = $2, profile_url = $3, updated_at = clock_timestamp()
		WHERE id = $1
		RETURNING `+blockedColumns, id, username, profileURL))
	if err != nil {
		return nil, db.WrapError(err, "update blocked account")
	}
	return a, nil
}

// Delete removes an entry and returns the deleted row.
func (r *BlockedAccounts) Delete(ctx context.Context, id int64) (*models.BlockedAccount, error) {
	a, err := scanBlocked(r.q(ctx).QueryRow(ctx,
		"DELETE FROM blocked_users WHERE id = $1 RETURNING "+blockedColumns, id))
	if err != nil {
		return nil, db.WrapError(err, "delete blocked account")
	}
	return a, nil
}

// InsertIgnore inserts the entry unless the username is already present.
func (r *BlockedAccounts) InsertIgnore(ctx context.Context, username, profileURL string) (bool, error) {
	tag, err := r.q(ctx).Exec(ctx, `
		INSERT INTO blocked_users (username, profile_url)
		VALUES ($1, $2)
		ON CONFLICT (username) DO NOTHING`, username, profileURL)
	if err != nil {
		return false, db.WrapError(err, "insert blocked account")
	}
	return tag.RowsAffected() > 0, nil
}

// Upsert inserts the entry or replaces the profile URL of an existing one.
func (r *BlockedAccounts) Upsert(ctx context.Context, username, profileURL string) (bool, error) {
	var inserted bool
	err := r.q(ctx).QueryRow(ctx, `
		INSERT INTO blocked_users (username, profile_url)
		VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE
		SET profile_url = EXCLUDED.profile_url, updated_at = clock_timestamp()
		RETURNING (xmax = 0)`, username, profileURL).Scan(&inserted)
	if err != nil {
		return false, db.WrapError(err, "upsert blocked account")
	}
	return inserted, nil
}

// Count returns the number of registry entries.
func (r *BlockedAccounts) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM blocked_users").Scan(&n); err != nil {
		return 0, db.WrapError(err, "count blocked accounts")
	}
	return n, nil
}
