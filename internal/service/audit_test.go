package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/internal/repository/memstore"
)

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "abc", n: 5, want: "abc"},
		{name: "exact", in: "abcde", n: 5, want: "abcde"},
		{name: "cut", in: "abcdef", n: 3, want: "abc"},
		{name: "multibyte", in: "ééééé", n: 2, want: "éé"},
		{name: "disabled", in: "abcdef", n: 0, want: "abcdef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateRunes(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestAuditService_Record(t *testing.T) {
	store := memstore.New()
	pub := &recordingPublisher{}
	svc := NewAuditService(store.Repositories().Audit, pub, 2000, testTimeout)

	svc.Record(context.Background(), ActionUserCreate, "", "alice", map[string]int{"id": 1})
	require.NoError(t, svc.Close(context.Background()))

	entries := store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.SystemActor, entries[0].Actor)
	require.NotNil(t, entries[0].Target)
	assert.Equal(t, "alice", *entries[0].Target)
	assert.JSONEq(t, `{"id":1}`, string(entries[0].Details))

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, RoutingKeyAudit, events[0].routingKey)
	entry, ok := events[0].payload.(models.AuditEntry)
	require.True(t, ok)
	assert.Equal(t, ActionUserCreate, entry.Action)
}

func TestAuditService_RecordTruncatesDetails(t *testing.T) {
	store := memstore.New()
	svc := NewAuditService(store.Repositories().Audit, nil, 2000, testTimeout)

	svc.Record(context.Background(), ActionUserImport, "admin", "", map[string]string{"blob": strings.Repeat("x", 5000)})

	entries := store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, 2000, utf8.RuneCount(entries[0].Details))
	assert.Nil(t, entries[0].Target)

	list, err := svc.List(context.Background(), 1, 20)
	require.NoError(t, err)
	require.Len(t, list.Logs, 1)

	var asString string
	require.NoError(t, json.Unmarshal(list.Logs[0].Details, &asString))
	assert.True(t, strings.HasPrefix(asString, `{"blob":"xxx`))
}

func TestAuditService_RecordSwallowsStoreFailure(t *testing.T) {
	store := memstore.New()
	pub := &recordingPublisher{}
	svc := NewAuditService(store.Repositories().Audit, pub, 2000, testTimeout)
	store.Fail = errors.New("read-only transaction")

	assert.NotPanics(t, func() {
		svc.Record(context.Background(), ActionUserDelete, "admin", "alice", nil)
	})
	require.NoError(t, svc.Close(context.Background()))
	assert.Empty(t, pub.snapshot())
}

func TestAuditService_RecordIgnoresPublishFailure(t *testing.T) {
	store := memstore.New()
	svc := NewAuditService(store.Repositories().Audit, &recordingPublisher{err: errors.New("broker down")}, 2000, testTimeout)

	svc.Record(context.Background(), ActionUserDelete, "admin", "alice", nil)
	require.NoError(t, svc.Close(context.Background()))
	assert.Len(t, store.AuditEntries(), 1)
}

// blockingPublisher holds every Publish until release is closed.
type blockingPublisher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	count   atomic.Int32
}

func newBlockingPublisher() *blockingPublisher {
	return &blockingPublisher{started: make(chan struct{}), release: make(chan struct{})}
}

func (p *blockingPublisher) Publish(ctx context.Context, _, _ string, _ any) error {
	p.once.Do(func() { close(p.started) })
	select {
	case <-p.release:
		p.count.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestAuditService_SlowPublisherDoesNotBlockRecord(t *testing.T) {
	store := memstore.New()
	pub := newBlockingPublisher()
	svc := NewAuditService(store.Repositories().Audit, pub, 2000, testTimeout)

	svc.Record(context.Background(), ActionUserCreate, "admin", "alice", nil)
	select {
	case <-pub.started:
	case <-time.After(testTimeout):
		t.Fatal("publisher was never called")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < auditQueueSize+10; i++ {
			svc.Record(context.Background(), ActionUserUpdate, "admin", "alice", nil)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record waited on a blocked publisher")
	}
	assert.Len(t, store.AuditEntries(), auditQueueSize+11)

	close(pub.release)
	require.NoError(t, svc.Close(context.Background()))
	assert.Equal(t, int32(auditQueueSize+1), pub.count.Load())
}

func TestAuditService_CloseIsIdempotent(t *testing.T) {
	store := memstore.New()
	pub := &recordingPublisher{}
	svc := NewAuditService(store.Repositories().Audit, pub, 2000, testTimeout)

	require.NoError(t, svc.Close(context.Background()))
	require.NoError(t, svc.Close(context.Background()))

	svc.Record(context.Background(), ActionUserDelete, "admin", "alice", nil)
	assert.Len(t, store.AuditEntries(), 1)
	assert.Empty(t, pub.snapshot())

	assert.NoError(t, NewAuditService(store.Repositories().Audit, nil, 2000, testTimeout).Close(context.Background()))
}

func TestAuditService_ListNewestFirst(t *testing.T) {
	store := memstore.New()
	svc := NewAuditService(store.Repositories().Audit, nil, 2000, testTimeout)

	for _, action := range []string{ActionUserCreate, ActionUserUpdate, ActionUserDelete} {
		svc.Record(context.Background(), action, "admin", "alice", nil)
	}

	list, err := svc.List(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, list.Logs, 2)
	assert.Equal(t, ActionUserDelete, list.Logs[0].Action)
	assert.Equal(t, ActionUserUpdate, list.Logs[1].Action)
	assert.Equal(t, int64(3), list.Pagination.Total)
	assert.Equal(t, 2, list.Pagination.Pages)
}
