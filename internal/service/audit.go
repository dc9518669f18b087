package service

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/blocklist-app/blocklist-server/internal/metrics"
	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/internal/query"
	"github.com/blocklist-app/blocklist-server/internal/repository"
	"github.com/blocklist-app/blocklist-server/pkg/logger"
)

// Audit actions.
const (
	ActionUserCreate        = "users.create"
	ActionUserUpdate        = "users.update"
	ActionUserDelete        = "users.delete"
	ActionUserImport        = "users.import"
	ActionSuggestionCreate  = "suggestions.create"
	ActionSuggestionApprove = "suggestions.approve"
	ActionSuggestionReject  = "suggestions.reject"
	ActionAccountRegister   = "auth.register"
)

const (
	auditQueueSize      = 256
	auditPublishTimeout = 10 * time.Second
)

type auditEvent struct {
	messageID string
	entry     models.AuditEntry
}

// AuditService records privileged mutations. Recording never fails the caller.
// Stored entries are published by a background worker through a bounded queue;
// events that do not fit are dropped.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type AuditService struct {
	repo         repository.AuditRepository
	publisher    EventPublisher
	maxDetails   int
	queryTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	events chan auditEvent
	done   chan struct{}
}

// NewAuditService creates an AuditService. publisher may be nil, in which case
// no worker is started.
func NewAuditService(repo repository.AuditRepository, publisher EventPublisher, maxDetails int, queryTimeout time.Duration) *AuditService {
	s := &AuditService{repo: repo, publisher: publisher, maxDetails: maxDetails, queryTimeout: queryTimeout}
	if _, nop := publisher.(NopPublisher); publisher == nil || nop {
		return s
	}
	s.events = make(chan auditEvent, auditQueueSize)
	s.done = make(chan struct{})
	go s.publishLoop()
	return s
}

func (s *AuditService) publishLoop() {
	defer close(s.done)
	for ev := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), auditPublishTimeout)
		if err := s.publisher.Publish(ctx, RoutingKeyAudit, ev.messageID, ev.entry); err != nil {
			logger.Log.Warn("Failed to publish audit entry",
				zap.Error(err),
				zap.String("auditId", ev.messageID),
			)
		}
		cancel()
	}
}

// Close stops accepting events and waits until queued events are published
// or ctx is done.
func (s *AuditService) Close(ctx context.Context) error {
	if s.events == nil {
		return nil
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record stores an audit entry. details is JSON encoded and truncated to the
// configured number of characters; the entry is then queued for publishing.
func (s *AuditService) Record(ctx context.Context, action, actor, target string, details any) {
	if actor == "" {
		actor = models.SystemActor
	}

	entry := &models.AuditEntry{
		Action:  action,
		Actor:   actor,
		Details: json.RawMessage(s.encodeDetails(details)),
	}
	if target != "" {
		entry.Target = &target
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		metrics.AuditWriteFailures.Inc()
		logger.Log.Error("Failed to write audit entry",
			zap.Error(err),
			zap.String("action", action),
			zap.String("actor", actor),
		)
		return
	}

	s.enqueue(entry)
}

func (s *AuditService) enqueue(entry *models.AuditEntry) {
	if s.events == nil {
		return
	}
	ev := auditEvent{messageID: strconv.FormatInt(entry.ID, 10), entry: *entry}
	ev.entry.Details = models.DetailsJSON(string(entry.Details))

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		metrics.EventsPublished.WithLabelValues("rabbitmq", "dropped").Inc()
		logger.Log.Warn("Audit event queue full, dropping event",
			zap.Int64("auditId", entry.ID),
			zap.String("action", entry.Action),
		)
	}
}

func (s *AuditService) encodeDetails(details any) string {
	if details == nil {
		return ""
	}
	data, err := json.Marshal(details)
	if err != nil {
		logger.Log.Warn("Failed to encode audit details", zap.Error(err))
		return ""
	}
	return truncateRunes(string(data), s.maxDetails)
}

// truncateRunes cuts s to at most n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// List returns one page of the audit log, newest first.
func (s *AuditService) List(ctx context.Context, page, limit int) (*models.AuditList, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	entries, total, err := s.repo.List(ctx, limit, query.Offset(page, limit))
	if err != nil {
		return nil, storeError(err, "failed to list audit log", "", "")
	}
	return &models.AuditList{
		Logs: entries,
		Pagination: models.Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: query.Pages(total, limit),
		},
	}, nil
}
