package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blocklist-app/blocklist-server/internal/metrics"
	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/internal/query"
	"github.com/blocklist-app/blocklist-server/internal/repository"
	"github.com/blocklist-app/blocklist-server/internal/validation"
	"github.com/blocklist-app/blocklist-server/pkg/logger"
)

// SuggestionService runs suggestion intake and the review workflow.
type SuggestionService struct {
	tx              repository.TxManager
	suggestions     repository.SuggestionRepository
	blocked         repository.BlockedAccountRepository
	audit           *AuditService
	captcha         CaptchaVerifier
	captchaRequired bool
	queryTimeout    time.Duration
}

// NewSuggestionService creates a SuggestionService. captcha is consulted only when required.
func NewSuggestionService(repos *repository.Repositories, audit *AuditService, captcha CaptchaVerifier, captchaRequired bool, queryTimeout time.Duration) *SuggestionService {
	return &SuggestionService{
		tx:              repos.Tx,
		suggestions:     repos.Suggestions,
		blocked:         repos.Blocked,
		audit:           audit,
		captcha:         captcha,
		captchaRequired: captchaRequired,
		queryTimeout:    queryTimeout,
	}
}

// Submit stores every acceptable item as a pending suggestion. Items whose
// profile URL is not on an allowed host are skipped; store failures are
// counted per item.
func (s *SuggestionService) Submit(ctx context.Context, submitter *models.Identity, req *models.SubmitSuggestionsRequest, clientIP string) (*models.SubmitResult, error) {
	if s.captchaRequired {
		if s.captcha == nil {
			return nil, &CaptchaError{}
		}
		if err := s.captcha.Verify(ctx, req.CaptchaToken, clientIP); err != nil {
			logger.Log.Warn("Captcha verification failed", zap.String("ip", clientIP), zap.Error(err))
			return nil, &CaptchaError{Cause: err}
		}
	}

	suggestedBy := models.AnonymousSubmitter
	if submitter != nil && submitter.Username != "" {
		suggestedBy = submitter.Username
	}

	result := &models.SubmitResult{Total: len(req.Suggestions)}
	accepted := make([]models.Suggestion, 0, len(req.Suggestions))
	for _, item := range req.Suggestions {
		username := validation.NormalizeUsername(item.Username)
		profileURL := strings.TrimSpace(item.ProfileURL)
		if !validation.IsValidUsername(username) || !validation.IsAllowedProfileURL(profileURL) {
			result.Skipped++
			continue
		}
		sg := models.Suggestion{Username: username, ProfileURL: profileURL, SuggestedBy: suggestedBy}
		if reason := strings.TrimSpace(item.Reason); reason != "" {
			sg.Reason = &reason
		}
		accepted = append(accepted, sg)
	}

	if len(accepted) == 0 {
		metrics.SuggestionsSubmitted.WithLabelValues("skipped").Add(float64(result.Skipped))
		return nil, &ValidationError{Message: "No valid items found"}
	}

	for i := range accepted {
		if err := s.suggestions.Create(ctx, &accepted[i]); err != nil {
			logger.Log.Warn("Failed to store suggestion",
				zap.String("username", accepted[i].Username), zap.Error(err))
			result.Errors++
			continue
		}
		result.Inserted++
	}

	metrics.SuggestionsSubmitted.WithLabelValues("inserted").Add(float64(result.Inserted))
	metrics.SuggestionsSubmitted.WithLabelValues("error").Add(float64(result.Errors))
	metrics.SuggestionsSubmitted.WithLabelValues("skipped").Add(float64(result.Skipped))

	s.audit.Record(ctx, ActionSuggestionCreate, suggestedBy, strconv.Itoa(result.Inserted), map[string]int{
		"errors":  result.Errors,
		"skipped": result.Skipped,
		"total":   result.Total,
	})
	return result, nil
}

// List returns suggestions with status, newest first.
func (s *SuggestionService) List(ctx context.Context, status models.SuggestionStatus, page, limit int) (*models.SuggestionList, error) {
	if status == "" {
		status = models.SuggestionStatusPending
	}
	if !status.Valid() {
		return nil, &ValidationError{Message: "Invalid status"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	items, total, err := s.suggestions.List(ctx, status, limit, query.Offset(page, limit))
	if err != nil {
		return nil, storeError(err, "failed to list suggestions", "", "")
	}
	return &models.SuggestionList{
		Suggestions: items,
		Pagination: models.Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: query.Pages(total, limit),
		},
	}, nil
}

// Approve marks a pending suggestion approved and adds it to the registry in
// one transaction. An already present username is not an error.
func (s *SuggestionService) Approve(ctx context.Context, id int64, reviewer string) (result *models.ApproveResult, err error) {
	txCtx, err := s.tx.BeginTx(ctx)
	if err != nil {
		return nil, &ProcessingError{Message: "failed to begin transaction", Cause: err}
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := s.tx.RollbackTx(txCtx); rbErr != nil {
				logger.Log.Warn("Rollback failed", zap.Int64("suggestionId", id), zap.Error(rbErr))
			}
		}
	}()

	sg, err := s.suggestions.Transition(txCtx, id, models.SuggestionStatusApproved, reviewer)
	if err != nil {
		return nil, storeError(err, "failed to approve suggestion", "Suggestion not found", "Suggestion already processed")
	}

	added, err := s.blocked.InsertIgnore(txCtx, sg.Username, sg.ProfileURL)
	if err != nil {
		return nil, &ProcessingError{Message: "failed to add approved account", Cause: err}
	}

	if err := s.tx.CommitTx(txCtx); err != nil {
		return nil, &ProcessingError{Message: "failed to commit approval", Cause: err}
	}
	committed = true

	metrics.SuggestionDecisions.WithLabelValues("approved").Inc()
	logger.Log.Info("Suggestion approved",
		zap.Int64("suggestionId", id),
		zap.String("username", sg.Username),
		zap.Bool("addedToBlocked", added),
		zap.String("reviewer", reviewer),
	)
	s.audit.Record(ctx, ActionSuggestionApprove, reviewer, strconv.FormatInt(id, 10),
		map[string]bool{"addedToBlocked": added})

	return &models.ApproveResult{AddedToBlocked: added}, nil
}

// Reject marks a pending suggestion rejected.
func (s *SuggestionService) Reject(ctx context.Context, id int64, reviewer string) error {
	sg, err := s.suggestions.Transition(ctx, id, models.SuggestionStatusRejected, reviewer)
	if err != nil {
		return storeError(err, "failed to reject suggestion", "Suggestion not found", "Suggestion already processed")
	}

	metrics.SuggestionDecisions.WithLabelValues("rejected").Inc()
	logger.Log.Info("Suggestion rejected",
		zap.Int64("suggestionId", id),
		zap.String("username", sg.Username),
		zap.String("reviewer", reviewer),
	)
	s.audit.Record(ctx, ActionSuggestionReject, reviewer, strconv.FormatInt(id, 10), nil)
	return nil
}
