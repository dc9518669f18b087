package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/blocklist-app/blocklist-server/internal/metrics"
	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/internal/query"
	"github.com/blocklist-app/blocklist-server/internal/repository"
	"github.com/blocklist-app/blocklist-server/internal/validation"
	"github.com/blocklist-app/blocklist-server/pkg/logger"
)

// Duplicate policies for bulk import.
const (
	DuplicatePolicyIgnore  = "ignore"
	DuplicatePolicyReplace = "replace"
)

// RegistryOptions configures a RegistryService.
type RegistryOptions struct {
	QueryTimeout    time.Duration
	MaxRecords      int
	DuplicatePolicy string
}

// RegistryService serves the blocked-account registry.
type RegistryService struct {
	repo    repository.BlockedAccountRepository
	audit   *AuditService
	opts    RegistryOptions
	nowFunc func() time.Time
}

// NewRegistryService creates a RegistryService.
func NewRegistryService(repo repository.BlockedAccountRepository, audit *AuditService, opts RegistryOptions) *RegistryService {
	if opts.DuplicatePolicy == "" {
		opts.DuplicatePolicy = DuplicatePolicyIgnore
	}
	return &RegistryService{repo: repo, audit: audit, opts: opts, nowFunc: time.Now}
}

// List returns one page of the registry under the query timeout.
func (s *RegistryService) List(ctx context.Context, params query.ListParams) (*models.BlockedAccountList, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	accounts, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, storeError(err, "failed to list users", "", "")
	}

	return &models.BlockedAccountList{
		Users: accounts,
		Pagination: models.Pagination{
			Page:  params.Page,
			Limit: params.Limit,
			Total: total,
			Pages: query.Pages(total, params.Limit),
		},
	}, nil
}

// Get returns one entry.
func (s *RegistryService) Get(ctx context.Context, id int64) (*models.BlockedAccount, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "failed to get user", "User not found", "")
	}
	return a, nil
}

func normalizeEntry(username, profileURL string) (string, error) {
	username = validation.NormalizeUsername(username)
	if !validation.IsValidUsername(username) {
		return "", &ValidationError{Message: "Invalid username"}
	}
	if !validation.IsAllowedProfileURL(profileURL) {
		return "", &ValidationError{Message: "Invalid profile URL"}
	}
	return username, nil
}

// Create adds an entry.
func (s *RegistryService) Create(ctx context.Context, actor, username, profileURL string) (*models.BlockedAccount, error) {
	username, err := normalizeEntry(username, profileURL)
	if err != nil {
		return nil, err
	}

	a, err := s.repo.Create(ctx, username, profileURL)
	if err != nil {
		return nil, storeError(err, "failed to create user", "", "User already exists")
	}

	logger.Log.Info("Blocked account created",
		zap.Int64("id", a.ID), zap.String("username", a.Username), zap.String("actor", actor))
	s.audit.Record(ctx, ActionUserCreate, actor, a.Username, map[string]any{"id": a.ID})
	return a, nil
}

// Update replaces an entry's username and profile URL.
func (s *RegistryService) Update(ctx context.Context, actor string, id int64, username, profileURL string) (*models.BlockedAccount, error) {
	username, err := normalizeEntry(username, profileURL)
	if err != nil {
		return nil, err
	}

	a, err := s.repo.Update(ctx, id, username, profileURL)
	if err != nil {
		return nil, storeError(err, "failed to update user", "User not found", "User already exists")
	}

	s.audit.Record(ctx, ActionUserUpdate, actor, a.Username, map[string]any{"id": a.ID})
	return a, nil
}

// Delete removes an entry.
func (s *RegistryService) Delete(ctx context.Context, actor string, id int64) error {
	a, err := s.repo.Delete(ctx, id)
	if err != nil {
		return storeError(err, "failed to delete user", "User not found", "")
	}

	logger.Log.Info("Blocked account deleted",
		zap.Int64("id", a.ID), zap.String("username", a.Username), zap.String("actor", actor))
	s.audit.Record(ctx, ActionUserDelete, actor, a.Username, map[string]any{"id": a.ID})
	return nil
}

// Stats returns the registry size and the time of the response.
func (s *RegistryService) Stats(ctx context.Context) (*models.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	n, err := s.repo.Count(ctx)
	if err != nil {
		return nil, storeError(err, "failed to count users", "", "")
	}
	return &models.Stats{
		TotalUsers:  n,
		LastUpdated: s.nowFunc().UTC().Format(time.RFC3339),
	}, nil
}

// Import loads a JSON array of {username, profile_url} records. Structural
// problems reject the whole batch; bad records are counted and skipped.
func (s *RegistryService) Import(ctx context.Context, actor string, data []byte) (*models.ImportResult, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ValidationError{Message: "Invalid JSON file"}
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, &ValidationError{Message: "Expected a JSON array of users"}
	}
	records := root.Array()
	if s.opts.MaxRecords > 0 && len(records) > s.opts.MaxRecords {
		return nil, &ValidationError{Message: fmt.Sprintf("Too many records (max %d)", s.opts.MaxRecords)}
	}

	result := &models.ImportResult{Total: len(records)}
	for i, rec := range records {
		username, profileURL, ok := importRecord(rec)
		if !ok {
			result.Errors++
			continue
		}

		var inserted bool
		var err error
		if s.opts.DuplicatePolicy == DuplicatePolicyReplace {
			inserted, err = s.repo.Upsert(ctx, username, profileURL)
		} else {
			inserted, err = s.repo.InsertIgnore(ctx, username, profileURL)
		}
		if err != nil {
			logger.Log.Warn("Import record failed",
				zap.Int("index", i), zap.String("username", username), zap.Error(err))
			result.Errors++
			continue
		}

		result.Imported++
		if !inserted {
			result.Duplicates++
		}
	}

	metrics.ImportRecords.WithLabelValues("imported").Add(float64(result.Imported - result.Duplicates))
	metrics.ImportRecords.WithLabelValues("duplicate").Add(float64(result.Duplicates))
	metrics.ImportRecords.WithLabelValues("error").Add(float64(result.Errors))

	digest := ContentHash(data)
	logger.Log.Info("Import completed",
		zap.String("actor", actor),
		zap.String("sha256", digest),
		zap.Int("imported", result.Imported),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("errors", result.Errors),
		zap.Int("total", result.Total),
	)
	s.audit.Record(ctx, ActionUserImport, actor, strconv.Itoa(result.Imported), importAudit{
		ImportResult: *result,
		SHA256:       digest,
	})
	return result, nil
}

// importAudit is the details payload of an import audit entry.
type importAudit struct {
	models.ImportResult
	SHA256 string `json:"sha256"`
}

func importRecord(rec gjson.Result) (string, string, bool) {
	if !rec.IsObject() {
		return "", "", false
	}
	u := rec.Get("username")
	p := rec.Get("profile_url")
	if u.Type != gjson.String || p.Type != gjson.String {
		return "", "", false
	}
	username := validation.NormalizeUsername(u.String())
	if !validation.IsValidUsername(username) || !validation.IsAllowedProfileURL(p.String()) {
		return "", "", false
	}
	return username, p.String(), true
}

// SeedFromFile imports path into an empty registry. A non-empty registry or
// an empty path is left untouched.
func (s *RegistryService) SeedFromFile(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}

	n, err := s.repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("count registry: %w", err)
	}
	if n > 0 {
		logger.Log.Debug("Registry not empty, skipping seed", zap.Int64("count", n))
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	result, err := s.Import(ctx, models.SystemActor, data)
	if err != nil {
		return fmt.Errorf("import seed file: %w", err)
	}

	logger.Log.Info("Seeded registry", zap.String("file", path), zap.Int("imported", result.Imported))
	return nil
}
