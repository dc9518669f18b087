// Package repository provides the persistence layer of the blocklist service.
// Interfaces are implemented here for PostgreSQL and in memstore for memory.
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/internal/query"
)

type ctxKey string

const txKey ctxKey = "tx"

// TxManager runs multi-step operations in one transaction. BeginTx returns a
// context carrying the transaction; repositories called with it join it.
type TxManager interface {
	BeginTx(ctx context.Context) (context.Context, error)
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error
}

// BlockedAccountRepository persists registry entries.
type BlockedAccountRepository interface {
	List(ctx context.Context, params query.ListParams) ([]models.BlockedAccount, int64, error)
	GetByID(ctx context.Context, id int64) (*models.BlockedAccount, error)
	Create(ctx context.Context, username, profileURL string) (*models.BlockedAccount, error)
	Update(ctx context.Context, id int64, username, profileURL string) (*models.BlockedAccount, error)
	// Delete removes the entry and returns it as it was.
	Delete(ctx context.Context, id int64) (*models.BlockedAccount, error)
	// InsertIgnore inserts unless the username exists; it reports whether a row was added.
	InsertIgnore(ctx context.Context, username, profileURL string) (bool, error)
	// Upsert inserts or replaces the profile URL; it reports whether a row was added.
	Upsert(ctx context.Context, username, profileURL string) (bool, error)
	Count(ctx context.Context) (int64, error)
}

// SuggestionRepository persists suggestions and their review state.
type SuggestionRepository interface {
	Create(ctx context.Context, s *models.Suggestion) error
	List(ctx context.Context, status models.SuggestionStatus, limit, offset int) ([]models.Suggestion, int64, error)
	// Transition moves a pending suggestion to a terminal status. It returns
	// db.ErrNotFound when the id is unknown and db.ErrStateConflict when the
	// suggestion has already been reviewed.
	Transition(ctx context.Context, id int64, to models.SuggestionStatus, reviewer string) (*models.Suggestion, error)
}

// AuditRepository appends and reads audit entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditEntry) error
	List(ctx context.Context, limit, offset int) ([]models.AuditEntry, int64, error)
}

// UserRepository persists locally registered accounts.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	// GetByLogin finds a user by username or email.
	GetByLogin(ctx context.Context, login string) (*models.User, error)
}

// IdentityTable names a table consulted during identity resolution.
type IdentityTable string

// IdentityField names the column matched during identity resolution.
type IdentityField string

const (
	TableUsers      IdentityTable = "users"
	TableAdminUsers IdentityTable = "admin_users"

	FieldEmail    IdentityField = "email"
	FieldUsername IdentityField = "username"
)

// IdentityRecord is a row found in one of the identity tables. Role is nil for users.
type IdentityRecord struct {
	ID       string
	Username string
	Email    string
	Role     *string
}

// IdentityRepository looks up identities in the users and admin_users tables.
// It returns db.ErrNotFound when no row matches.
type IdentityRepository interface {
	Lookup(ctx context.Context, table IdentityTable, field IdentityField, value string) (*IdentityRecord, error)
	Ping(ctx context.Context) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns the pool and hands out the transaction-aware querier.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a Store over pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey).(pgx.Tx); ok {
		return tx
	}
	return s.db
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// BeginTx starts a new database transaction and returns a context with the transaction.
func (s *Store) BeginTx(ctx context.Context) (context.Context, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return context.WithValue(ctx, txKey, tx), nil
}

// CommitTx commits the transaction stored in the context.
func (s *Store) CommitTx(ctx context.Context) error {
	tx, ok := ctx.Value(txKey).(pgx.Tx)
	if !ok {
		return fmt.Errorf("no transaction in context")
	}
	return tx.Commit(ctx)
}

// RollbackTx rolls back the transaction stored in the context.
func (s *Store) RollbackTx(ctx context.Context) error {
	tx, ok := ctx.Value(txKey).(pgx.Tx)
	if !ok {
		return fmt.Errorf("no transaction in context")
	}
	return tx.Rollback(ctx)
}

// Repositories bundles every repository implementation behind one backend.
type Repositories struct {
	Tx          TxManager
	Blocked     BlockedAccountRepository
	Suggestions SuggestionRepository
	Audit       AuditRepository
	Users       UserRepository
	Identities  IdentityRepository
	Ping        func(ctx context.Context) error
}

// NewPostgres wires the PostgreSQL repositories over pool.
func NewPostgres(pool *pgxpool.Pool) *Repositories {
	store := NewStore(pool)
	return &Repositories{
		Tx:          store,
		Blocked:     &BlockedAccounts{store},
		Suggestions: &Suggestions{store},
		Audit:       &AuditLogs{store},
		Users:       &Users{store},
		Identities:  &Identities{store},
		Ping:        store.Ping,
	}
}
