// Package memstore is an in-memory implementation of the repository
// interfaces, used by tests and the "memory" database driver.
package memstore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blocklist-app/blocklist-server/internal/db"
	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/internal/query"
	"github.com/blocklist-app/blocklist-server/internal/repository"
)

// Store holds every table in memory behind one mutex. Transactions are not
// isolated, but writes made through a transactional context are journaled
// and RollbackTx undoes them in reverse order.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	blocked     map[int64]*models.BlockedAccount
	suggestions map[int64]*models.Suggestion
	audit       []models.AuditEntry
	users       map[int64]*models.User
	admins      []repository.IdentityRecord
	nextID      int64

	// Fail, when set, is returned by every operation. Tests use it to simulate outages.
	Fail error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:         time.Now,
		blocked:     make(map[int64]*models.BlockedAccount),
		suggestions: make(map[int64]*models.Suggestion),
		users:       make(map[int64]*models.User),
	}
}

// SetClock replaces the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Tx:          s,
		Blocked:     (*blockedRepo)(s),
		Suggestions: (*suggestionRepo)(s),
		Audit:       (*auditRepo)(s),
		Users:       (*userRepo)(s),
		Identities:  (*identityRepo)(s),
		Ping:        s.Ping,
	}
}

// Ping reports the injected failure, if any.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Fail
}

type txMarker struct{}

var (
	errNoTx     = errors.New("no transaction in context")
	errTxClosed = errors.New("transaction already closed")
)

// txLog holds the undo steps of one transaction. Steps run with Store.mu held;
// Store.mu is always taken before txLog.mu.
type txLog struct {
	mu     sync.Mutex
	undo   []func()
	closed bool
}

// BeginTx marks the context as transactional.
func (s *Store) BeginTx(ctx context.Context) (context.Context, error) {
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	return context.WithValue(ctx, txMarker{}, &txLog{}), nil
}

// CommitTx keeps the journaled writes.
func (s *Store) CommitTx(ctx context.Context) error {
	l, ok := ctx.Value(txMarker{}).(*txLog)
	if !ok {
		return errNoTx
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errTxClosed
	}
	l.closed = true
	l.undo = nil
	return nil
}

// RollbackTx undoes the journaled writes, newest first.
func (s *Store) RollbackTx(ctx context.Context) error {
	l, ok := ctx.Value(txMarker{}).(*txLog)
	if !ok {
		return errNoTx
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errTxClosed
	}
	l.closed = true

	for i := len(l.undo) - 1; i >= 0; i-- {
		l.undo[i]()
	}
	l.undo = nil
	return nil
}

// journal registers undo for a write made through ctx. Callers hold s.mu.
func (s *Store) journal(ctx context.Context, undo func()) {
	l, ok := ctx.Value(txMarker{}).(*txLog)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.undo = append(l.undo, undo)
	}
}

// AddAdmin seeds an admin_users row.
func (s *Store) AddAdmin(id, username, email, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := role
	s.admins = append(s.admins, repository.IdentityRecord{ID: id, Username: username, Email: email, Role: &r})
}

// AuditEntries returns a copy of the audit log in insertion order.
func (s *Store) AuditEntries() []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditEntry(nil), s.audit...)
}

// SuggestionsByStatus returns the number of suggestions in each status.
func (s *Store) SuggestionsByStatus() map[models.SuggestionStatus]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.SuggestionStatus]int)
	for _, sg := range s.suggestions {
		out[sg.Status]++
	}
	return out
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) check(ctx context.Context) error {
	if s.Fail != nil {
		return s.Fail
	}
	if err := ctx.Err(); err != nil {
		return db.WrapError(err, "memstore")
	}
	return nil
}

type blockedRepo Store

func (r *blockedRepo) store() *Store { return (*Store)(r) }

func (r *blockedRepo) byUsername(username string) *models.BlockedAccount {
	for _, a := range r.blocked {
		if a.Username == username {
			return a
		}
	}
	return nil
}

func (r *blockedRepo) List(ctx context.Context, params query.ListParams) ([]models.BlockedAccount, int64, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, 0, err
	}

	needle := strings.ToLower(params.Search)
	matched := make([]models.BlockedAccount, 0, len(s.blocked))
	for _, a := range s.blocked {
		if needle != "" && !strings.Contains(strings.ToLower(a.Username), needle) {
			continue
		}
		if params.Since != nil && a.CreatedAt.Before(*params.Since) {
			continue
		}
		matched = append(matched, *a)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less, equal bool
		switch params.Sort {
		case "created_at":
			less, equal = a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		case "updated_at":
			less, equal = a.UpdatedAt.Before(b.UpdatedAt), a.UpdatedAt.Equal(b.UpdatedAt)
		case "id":
			less, equal = a.ID < b.ID, a.ID == b.ID
		default:
			less, equal = a.Username < b.Username, a.Username == b.Username
		}
		if equal {
			return a.ID < b.ID
		}
		if params.Order == "DESC" {
			return !less
		}
		return less
	})

	total := int64(len(matched))
	start := params.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + params.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *blockedRepo) GetByID(ctx context.Context, id int64) (*models.BlockedAccount, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	a, ok := s.blocked[id]
	if !ok {
		return nil, db.WrapError(db.ErrNotFound, "get blocked account")
	}
	cp := *a
	return &cp, nil
}

func (r *blockedRepo) Create(ctx context.Context, username, profileURL string) (*models.BlockedAccount, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if r.byUsername(username) != nil {
		return nil, db.WrapError(db.ErrDuplicateKey, "create blocked account")
	}
	now := s.now()
	a := &models.BlockedAccount{ID: s.id(), Username: username, ProfileURL: profileURL, CreatedAt: now, UpdatedAt: now}
	s.blocked[a.ID] = a
	s.journal(ctx, func() { delete(s.blocked, a.ID) })
	cp := *a
	return &cp, nil
}

func (r *blockedRepo) Update(ctx context.Context, id int64, username, profileURL string) (*models.BlockedAccount, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	a, ok := s.blocked[id]
	if !ok {
		return nil, db.WrapError(db.ErrNotFound, "update blocked account")
	}
	if other := r.byUsername(username); other != nil && other.ID != id {
		return nil, db.WrapError(db.ErrDuplicateKey, "update blocked account")
	}
	prev := *a
	s.journal(ctx, func() { *a = prev })
	a.Username = username
	a.ProfileURL = profileURL
	now := s.now()
	if !now.After(a.UpdatedAt) {
		now = a.UpdatedAt.Add(time.Microsecond)
	}
	a.UpdatedAt = now
	cp := *a
	return &cp, nil
}

func (r *blockedRepo) Delete(ctx context.Context, id int64) (*models.BlockedAccount, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	a, ok := s.blocked[id]
	if !ok {
		return nil, db.WrapError(db.ErrNotFound, "delete blocked account")
	}
	delete(s.blocked, id)
	s.journal(ctx, func() { s.blocked[id] = a })
	return a, nil
}

func (r *blockedRepo) InsertIgnore(ctx context.Context, username, profileURL string) (bool, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	if r.byUsername(username) != nil {
		return false, nil
	}
	now := s.now()
	a := &models.BlockedAccount{ID: s.id(), Username: username, ProfileURL: profileURL, CreatedAt: now, UpdatedAt: now}
	s.blocked[a.ID] = a
	s.journal(ctx, func() { delete(s.blocked, a.ID) })
	return true, nil
}

func (r *blockedRepo) Upsert(ctx context.Context, username, profileURL string) (bool, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	now := s.now()
	if existing := r.byUsername(username); existing != nil {
		prev := *existing
		s.journal(ctx, func() { *existing = prev })
		existing.ProfileURL = profileURL
		existing.UpdatedAt = now
		return false, nil
	}
	a := &models.BlockedAccount{ID: s.id(), Username: username, ProfileURL: profileURL, CreatedAt: now, UpdatedAt: now}
	s.blocked[a.ID] = a
	s.journal(ctx, func() { delete(s.blocked, a.ID) })
	return true, nil
}

func (r *blockedRepo) Count(ctx context.Context) (int64, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	return int64(len(s.blocked)), nil
}

type suggestionRepo Store

func (r *suggestionRepo) Create(ctx context.Context, sg *models.Suggestion) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	sg.ID = s.id()
	sg.Status = models.SuggestionStatusPending
	sg.CreatedAt = s.now()
	cp := *sg
	s.suggestions[sg.ID] = &cp
	id := sg.ID
	s.journal(ctx, func() { delete(s.suggestions, id) })
	return nil
}

func (r *suggestionRepo) List(ctx context.Context, status models.SuggestionStatus, limit, offset int) ([]models.Suggestion, int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, 0, err
	}
	matched := make([]models.Suggestion, 0)
	for _, sg := range s.suggestions {
		if sg.Status == status {
			matched = append(matched, *sg)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := int64(len(matched))
	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *suggestionRepo) Transition(ctx context.Context, id int64, to models.SuggestionStatus, reviewer string) (*models.Suggestion, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	sg, ok := s.suggestions[id]
	if !ok {
		return nil, db.WrapError(db.ErrNotFound, "transition suggestion")
	}
	if sg.Status != models.SuggestionStatusPending {
		return nil, db.WrapError(db.ErrStateConflict, "transition suggestion")
	}
	prev := *sg
	s.journal(ctx, func() { *sg = prev })
	now := s.now()
	sg.Status = to
	sg.ReviewedAt = &now
	sg.ReviewedBy = &reviewer
	cp := *sg
	return &cp, nil
}

type auditRepo Store

func (r *auditRepo) Create(ctx context.Context, entry *models.AuditEntry) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	entry.ID = s.id()
	entry.CreatedAt = s.now()
	s.audit = append(s.audit, *entry)
	id := entry.ID
	s.journal(ctx, func() {
		for i := range s.audit {
			if s.audit[i].ID == id {
				s.audit = append(s.audit[:i], s.audit[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r *auditRepo) List(ctx context.Context, limit, offset int) ([]models.AuditEntry, int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, 0, err
	}
	out := make([]models.AuditEntry, 0, limit)
	total := len(s.audit)
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		e := s.audit[i]
		e.Details = models.DetailsJSON(string(e.Details))
		out = append(out, e)
	}
	return out, int64(total), nil
}

type userRepo Store

func (r *userRepo) Create(ctx context.Context, u *models.User) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	for _, existing := range s.users {
		if existing.Username == u.Username || strings.EqualFold(existing.Email, u.Email) {
			return db.WrapError(db.ErrDuplicateKey, "create user")
		}
	}
	u.ID = s.id()
	u.CreatedAt = s.now()
	cp := *u
	s.users[u.ID] = &cp
	id := u.ID
	s.journal(ctx, func() { delete(s.users, id) })
	return nil
}

func (r *userRepo) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	for _, u := range s.users {
		if u.PasswordHash != "" && (u.Username == login || strings.EqualFold(u.Email, login)) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, db.WrapError(db.ErrNotFound, "get user by login")
}

type identityRepo Store

func (r *identityRepo) Ping(ctx context.Context) error {
	return (*Store)(r).Ping(ctx)
}

func (r *identityRepo) Lookup(ctx context.Context, table repository.IdentityTable, field repository.IdentityField, value string) (*repository.IdentityRecord, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	match := func(username, email string) bool {
		if field == repository.FieldEmail {
			return email == value
		}
		return username == value
	}

	switch table {
	case repository.TableUsers:
		for _, u := range s.users {
			if match(u.Username, u.Email) {
				return &repository.IdentityRecord{
					ID:       formatID(u.ID),
					Username: u.Username,
					Email:    u.Email,
				}, nil
			}
		}
	case repository.TableAdminUsers:
		for _, a := range s.admins {
			if match(a.Username, a.Email) {
				cp := a
				return &cp, nil
			}
		}
	}
	return nil, db.WrapError(db.ErrNotFound, "lookup identity")
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
