package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blocklist-app/blocklist-server/internal/db"
	"github.com/blocklist-app/blocklist-server/internal/models"
)

// Identities is the PostgreSQL IdentityRepository. The same implementation
// serves the local database and the external identity provider's database.
type Identities struct {
	*Store
}

// NewIdentities creates an IdentityRepository over an arbitrary pool.
func NewIdentities(pool *pgxpool.Pool) *Identities {
	return &Identities{NewStore(pool)}
}

// Lookup finds one row of table whose field equals value.
func (r *Identities) Lookup(ctx context.Context, table IdentityTable, field IdentityField, value string) (*IdentityRecord, error) {
	var roleExpr string
	switch table {
	case TableUsers:
		roleExpr = "NULL::text"
	case TableAdminUsers:
		roleExpr = "role"
	default:
		return nil, fmt.Errorf("lookup identity: unknown table %q", table)
	}
	if field != FieldEmail && field != FieldUsername {
		return nil, fmt.Errorf("lookup identity: unknown field %q", field)
	}

	sql := fmt.Sprintf("SELECT id::text, username, email, %s FROM %s WHERE %s = $1 LIMIT 1",
		roleExpr, table, field)

	var rec IdentityRecord
	if err := r.q(ctx).QueryRow(ctx, sql, value).Scan(&rec.ID, &rec.Username, &rec.Email, &rec.Role); err != nil {
		return nil, db.WrapError(err, fmt.Sprintf("lookup %s by %s", table, field))
	}
	return &rec, nil
}

// Users is the PostgreSQL UserRepository.
type Users struct {
	*Store
}

// Create inserts a registered user. Username or email collisions yield db.ErrDuplicateKey.
func (r *Users) Create(ctx context.Context, u *models.User) error {
	err := r.q(ctx).QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		u.Username, u.Email, u.PasswordHash,
	).Scan(&u.ID, &u.CreatedAt)
	return db.WrapError(err, "create user")
}

// GetByLogin finds a user with a password by username or email.
func (r *Users) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	var u models.User
	err := r.q(ctx).QueryRow(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE (username = $1 OR lower(email) = lower($1)) AND password_hash IS NOT NULL
		LIMIT 1`, login,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, db.WrapError(err, "get user by login")
	}
	return &u, nil
}
