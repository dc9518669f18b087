package auth

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/blocklist-app/blocklist-server/internal/db"
	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/internal/repository"
	"github.com/blocklist-app/blocklist-server/pkg/logger"
)

// Strategy is one identity lookup: a table and the claim matched against it.
type Strategy struct {
	Table repository.IdentityTable
	Field repository.IdentityField
}

// DefaultStrategies is the lookup order: regular users before admins, email before username.
var DefaultStrategies = []Strategy{
	{repository.TableUsers, repository.FieldEmail},
	{repository.TableUsers, repository.FieldUsername},
	{repository.TableAdminUsers, repository.FieldEmail},
	{repository.TableAdminUsers, repository.FieldUsername},
}

// Outcome tags a LookupResult.
type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeNotFound
	OutcomeUnavailable
)

// LookupResult is the result of running every strategy against one store.
type LookupResult struct {
	Outcome  Outcome
	Identity *models.Identity
	Err      error
}

// Subject holds the verified claims of an external token.
type Subject struct {
	ID       string
	Email    string
	Username string
}

// Directory resolves the role of an externally authenticated subject. The
// external store is authoritative when reachable; otherwise the local tables
// are consulted and unknown subjects get the user role.
type Directory struct {
	external   repository.IdentityRepository
	local      repository.IdentityRepository
	strategies []Strategy
}

// NewDirectory creates a Directory. external may be nil.
func NewDirectory(external, local repository.IdentityRepository) *Directory {
	return &Directory{external: external, local: local, strategies: DefaultStrategies}
}

// Lookup runs the strategies in order against store. The first hit wins; any
// error other than not-found stops the search and reports the store unavailable.
func (d *Directory) Lookup(ctx context.Context, store repository.IdentityRepository, subject Subject) LookupResult {
	for _, s := range d.strategies {
		value := subject.Email
		if s.Field == repository.FieldUsername {
			value = subject.Username
		}
		if value == "" {
			continue
		}

		rec, err := store.Lookup(ctx, s.Table, s.Field, value)
		if err == nil {
			return LookupResult{Outcome: OutcomeFound, Identity: identityFromRecord(s.Table, rec)}
		}
		if !db.IsNotFound(err) {
			return LookupResult{Outcome: OutcomeUnavailable, Err: err}
		}
	}
	return LookupResult{Outcome: OutcomeNotFound}
}

// Resolve returns the identity of subject.
func (d *Directory) Resolve(ctx context.Context, subject Subject) (*models.Identity, error) {
	if d.external != nil {
		res := d.Lookup(ctx, d.external, subject)
		switch res.Outcome {
		case OutcomeFound:
			return res.Identity, nil
		case OutcomeNotFound:
			return nil, ErrNotRegistered
		case OutcomeUnavailable:
			logger.Log.Warn("External identity store unreachable, falling back to local tables",
				zap.Error(res.Err))
		}
	}

	res := d.Lookup(ctx, d.local, subject)
	switch res.Outcome {
	case OutcomeFound:
		return res.Identity, nil
	case OutcomeNotFound:
		return &models.Identity{
			ID:       subject.ID,
			Username: subject.Username,
			Email:    subject.Email,
			Role:     models.RoleUser,
		}, nil
	default:
		return nil, errors.Join(ErrStoreUnavailable, res.Err)
	}
}

func identityFromRecord(table repository.IdentityTable, rec *repository.IdentityRecord) *models.Identity {
	identity := &models.Identity{
		ID:       rec.ID,
		Username: rec.Username,
		Email:    rec.Email,
		Role:     models.RoleUser,
	}
	if table == repository.TableAdminUsers {
		identity.Role = models.RoleAdmin
		if rec.Role != nil && *rec.Role != "" {
			identity.Role = models.Role(*rec.Role)
		}
	}
	return identity
}
