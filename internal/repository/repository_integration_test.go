//go:build integration
// +build integration

package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocklist-app/blocklist-server/internal/db"
	"github.com/blocklist-app/blocklist-server/internal/db/testutil"
	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/internal/query"
)

func TestBlockedAccounts_CRUD(t *testing.T) {
	td := testutil.SetupTestDatabase(t)
	defer td.Cleanup(t)

	repos := NewPostgres(td.Pool)
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		td.TruncateTables(t)

		a, err := repos.Blocked.Create(ctx, "spammer", "https://x.com/spammer")
		require.NoError(t, err)
		assert.NotZero(t, a.ID)
		assert.False(t, a.CreatedAt.IsZero())

		got, err := repos.Blocked.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "spammer", got.Username)
	})

	t.Run("duplicate username", func(t *testing.T) {
		td.TruncateTables(t)

		_, err := repos.Blocked.Create(ctx, "dup", "https://x.com/dup")
		require.NoError(t, err)
		_, err = repos.Blocked.Create(ctx, "dup", "https://x.com/dup2")
		assert.True(t, db.IsDuplicateKey(err))
	})

	t.Run("update bumps updated_at", func(t *testing.T) {
		td.TruncateTables(t)

		a, err := repos.Blocked.Create(ctx, "old", "https://x.com/old")
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		updated, err := repos.Blocked.Update(ctx, a.ID, "new", "https://twitter.com/new")
		require.NoError(t, err)
		assert.Equal(t, "new", updated.Username)
		assert.True(t, updated.UpdatedAt.After(a.UpdatedAt))
		assert.Equal(t, a.CreatedAt.Unix(), updated.CreatedAt.Unix())
	})

	t.Run("missing rows", func(t *testing.T) {
		td.TruncateTables(t)

		_, err := repos.Blocked.GetByID(ctx, 42)
		assert.True(t, db.IsNotFound(err))
		_, err = repos.Blocked.Update(ctx, 42, "a", "https://x.com/a")
		assert.True(t, db.IsNotFound(err))
		_, err = repos.Blocked.Delete(ctx, 42)
		assert.True(t, db.IsNotFound(err))
	})

	t.Run("delete returns row", func(t *testing.T) {
		td.TruncateTables(t)

		a, err := repos.Blocked.Create(ctx, "gone", "https://x.com/gone")
		require.NoError(t, err)
		deleted, err := repos.Blocked.Delete(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "gone", deleted.Username)

		n, err := repos.Blocked.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestBlockedAccounts_InsertIgnoreAndUpsert(t *testing.T) {
	td := testutil.SetupTestDatabase(t)
	defer td.Cleanup(t)

	repos := NewPostgres(td.Pool)
	ctx := context.Background()

	added, err := repos.Blocked.InsertIgnore(ctx, "a", "https://x.com/a")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = repos.Blocked.InsertIgnore(ctx, "a", "https://x.com/other")
	require.NoError(t, err)
	assert.False(t, added)

	inserted, err := repos.Blocked.Upsert(ctx, "a", "https://twitter.com/a")
	require.NoError(t, err)
	assert.False(t, inserted)

	inserted, err = repos.Blocked.Upsert(ctx, "b", "https://x.com/b")
	require.NoError(t, err)
	assert.True(t, inserted)

	list, total, err := repos.Blocked.List(ctx, query.ListParams{Page: 1, Limit: 10, Sort: "username", Order: "ASC"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, list, 2)
	assert.Equal(t, "https://twitter.com/a", list[0].ProfileURL)
}

func TestBlockedAccounts_List(t *testing.T) {
	td := testutil.SetupTestDatabase(t)
	defer td.Cleanup(t)

	repos := NewPostgres(td.Pool)
	ctx := context.Background()

	for _, u := range []string{"alpha", "Beta", "gamma_bot", "100%real"} {
		_, err := repos.Blocked.Create(ctx, u, "https://x.com/"+u)
		require.NoError(t, err)
	}

	tests := []struct {
		name      string
		params    query.ListParams
		wantTotal int64
		wantFirst string
		wantLen   int
	}{
		{name: "all by username", params: query.ListParams{Page: 1, Limit: 10, Sort: "username", Order: "ASC"}, wantTotal: 4, wantLen: 4, wantFirst: "100%real"},
		{name: "case-insensitive search", params: query.ListParams{Page: 1, Limit: 10, Sort: "username", Order: "ASC", Search: "BETA"}, wantTotal: 1, wantLen: 1, wantFirst: "Beta"},
		{name: "percent is literal", params: query.ListParams{Page: 1, Limit: 10, Sort: "username", Order: "ASC", Search: "%"}, wantTotal: 1, wantLen: 1, wantFirst: "100%real"},
		{name: "underscore is literal", params: query.ListParams{Page: 1, Limit: 10, Sort: "username", Order: "ASC", Search: "a_b"}, wantTotal: 1, wantLen: 1, wantFirst: "gamma_bot"},
		{name: "second page", params: query.ListParams{Page: 2, Limit: 3, Sort: "username", Order: "ASC"}, wantTotal: 4, wantLen: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, total, err := repos.Blocked.List(ctx, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, total)
			require.Len(t, list, tt.wantLen)
			if tt.wantFirst != "" {
				assert.Equal(t, tt.wantFirst, list[0].Username)
			}
		})
	}

	t.Run("since excludes older rows", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		_, total, err := repos.Blocked.List(ctx, query.ListParams{Page: 1, Limit: 10, Sort: "created_at", Order: "DESC", Since: &future})
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}

func TestSuggestions_Transition(t *testing.T) {
	td := testutil.SetupTestDatabase(t)
	defer td.Cleanup(t)

	repos := NewPostgres(td.Pool)
	ctx := context.Background()

	reason := "spam"
	s := &models.Suggestion{Username: "a", ProfileURL: "https://x.com/a", Reason: &reason, SuggestedBy: "reporter"}
	require.NoError(t, repos.Suggestions.Create(ctx, s))
	assert.Equal(t, models.SuggestionStatusPending, s.Status)

	reviewed, err := repos.Suggestions.Transition(ctx, s.ID, models.SuggestionStatusApproved, "root")
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStatusApproved, reviewed.Status)
	require.NotNil(t, reviewed.ReviewedBy)
	assert.Equal(t, "root", *reviewed.ReviewedBy)
	assert.NotNil(t, reviewed.ReviewedAt)

	_, err = repos.Suggestions.Transition(ctx, s.ID, models.SuggestionStatusRejected, "root")
	assert.True(t, db.IsStateConflict(err))

	_, err = repos.Suggestions.Transition(ctx, 9999, models.SuggestionStatusRejected, "root")
	assert.True(t, db.IsNotFound(err))

	pending, total, err := repos.Suggestions.List(ctx, models.SuggestionStatusPending, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, pending)

	_, err = td.Pool.Exec(ctx, "UPDATE user_suggestions SET status = 'bogus' WHERE id = $1", s.ID)
	assert.True(t, errors.Is(db.WrapError(err, "force status"), db.ErrCheckViolation))
}

func TestSuggestions_ConcurrentTransitionInTransactions(t *testing.T) {
	td := testutil.SetupTestDatabase(t)
	defer td.Cleanup(t)

	repos := NewPostgres(td.Pool)
	ctx := context.Background()

	s := &models.Suggestion{Username: "race", ProfileURL: "https://x.com/race", SuggestedBy: "reporter"}
	require.NoError(t, repos.Suggestions.Create(ctx, s))

	const workers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			txCtx, err := repos.Tx.BeginTx(ctx)
			if !assert.NoError(t, err) {
				return
			}
			_, err = repos.Suggestions.Transition(txCtx, s.ID, models.SuggestionStatusApproved, "root")
			if err == nil {
				_, err = repos.Blocked.InsertIgnore(txCtx, s.Username, s.ProfileURL)
			}
			if err != nil {
				_ = repos.Tx.RollbackTx(txCtx)
			} else {
				err = repos.Tx.CommitTx(txCtx)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case db.IsStateConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)

	n, err := repos.Blocked.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTransaction_RollbackDiscardsWrites(t *testing.T) {
	td := testutil.SetupTestDatabase(t)
	defer td.Cleanup(t)

	repos := NewPostgres(td.Pool)
	ctx := context.Background()

	txCtx, err := repos.Tx.BeginTx(ctx)
	require.NoError(t, err)
	_, err = repos.Blocked.Create(txCtx, "temp", "https://x.com/temp")
	require.NoError(t, err)
	require.NoError(t, repos.Tx.RollbackTx(txCtx))

	n, err := repos.Blocked.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAuditLogs_AppendOnly(t *testing.T) {
	td := testutil.SetupTestDatabase(t)
	defer td.Cleanup(t)

	repos := NewPostgres(td.Pool)
	ctx := context.Background()

	target := "7"
	first := &models.AuditEntry{Action: "users.create", Actor: "root", Target: &target, Details: []byte(`{"username":"a"}`)}
	require.NoError(t, repos.Audit.Create(ctx, first))
	second := &models.AuditEntry{Action: "users.delete", Actor: "root", Details: []byte(`{"username":"a"`)}
	require.NoError(t, repos.Audit.Create(ctx, second))

	entries, total, err := repos.Audit.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, entries, 2)
	assert.Equal(t, "users.delete", entries[0].Action)
	assert.JSONEq(t, `"{\"username\":\"a\""`, string(entries[0].Details))
	assert.JSONEq(t, `{"username":"a"}`, string(entries[1].Details))

	_, err = td.Pool.Exec(ctx, "UPDATE audit_logs SET actor = 'intruder' WHERE id = $1", first.ID)
	assert.ErrorIs(t, db.WrapError(err, "tamper"), db.ErrImmutableRecord)

	_, err = td.Pool.Exec(ctx, "DELETE FROM audit_logs WHERE id = $1", first.ID)
	assert.ErrorIs(t, db.WrapError(err, "tamper"), db.ErrImmutableRecord)
}

func TestIdentities_Lookup(t *testing.T) {
	td := testutil.SetupTestDatabase(t)
	defer td.Cleanup(t)

	repos := NewPostgres(td.Pool)
	ctx := context.Background()

	hash := "$2a$10$abcdefghijklmnopqrstuv"
	require.NoError(t, repos.Users.Create(ctx, &models.User{Username: "alice", Email: "Alice@Example.com", PasswordHash: hash}))
	_, err := td.Pool.Exec(ctx, "INSERT INTO admin_users (username, email, role) VALUES ('root', 'root@example.com', 'admin')")
	require.NoError(t, err)

	rec, err := repos.Identities.Lookup(ctx, TableAdminUsers, FieldEmail, "root@example.com")
	require.NoError(t, err)
	require.NotNil(t, rec.Role)
	assert.Equal(t, "admin", *rec.Role)

	rec, err = repos.Identities.Lookup(ctx, TableUsers, FieldUsername, "alice")
	require.NoError(t, err)
	assert.Nil(t, rec.Role)

	_, err = repos.Identities.Lookup(ctx, TableAdminUsers, FieldUsername, "alice")
	assert.True(t, db.IsNotFound(err))

	u, err := repos.Users.GetByLogin(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	err = repos.Users.Create(ctx, &models.User{Username: "alice", Email: "other@example.com", PasswordHash: hash})
	assert.True(t, db.IsDuplicateKey(err))

	require.NoError(t, repos.Ping(ctx))
}
