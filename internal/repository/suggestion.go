package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/blocklist-app/blocklist-server/internal/db"
	"github.com/blocklist-app/blocklist-server/internal/models"
)

const suggestionColumns = "id, username, profile_url, reason, suggested_by, status, created_at, reviewed_at, reviewed_by"

// Suggestions is the PostgreSQL SuggestionRepository.
type Suggestions struct {
	*Store
}

func scanSuggestion(row pgx.Row) (*models.Suggestion, error) {
	var s models.Suggestion
	if err := row.Scan(&s.ID, &s.Username, &s.ProfileURL, &s.Reason, &s.SuggestedBy,
		&s.Status, &s.CreatedAt, &s.ReviewedAt, &s.ReviewedBy); err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a pending suggestion and fills in id, status and created_at.
func (r *Suggestions) Create(ctx context.Context, s *models.Suggestion) error {
	err := r.q(ctx).QueryRow(ctx, `
		INSERT INTO user_suggestions (username, profile_url, reason, suggested_by, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING id, status, created_at`,
		s.Username, s.ProfileURL, s.Reason, s.SuggestedBy,
	).Scan(&s.ID, &s.Status, &s.CreatedAt)
	return db.WrapError(err, "create suggestion")
}

// List returns suggestions with the given status, newest first.
func (r *Suggestions) List(ctx context.Context, status models.SuggestionStatus, limit, offset int) ([]models.Suggestion, int64, error) {
	var total int64
	if err := r.q(ctx).QueryRow(ctx,
		"SELECT COUNT(*) FROM user_suggestions WHERE status = $1", status).Scan(&total); err != nil {
		return nil, 0, db.WrapError(err, "count suggestions")
	}

	rows, err := r.q(ctx).Query(ctx, `
		SELECT `+suggestionColumns+`
		FROM user_suggestions
		WHERE status = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, db.WrapError(err, "list suggestions")
	}
	defer rows.Close()

	suggestions := make([]models.Suggestion, 0, limit)
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, 0, db.WrapError(err, "scan suggestion")
		}
		suggestions = append(suggestions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.WrapError(err, "iterate suggestions")
	}
	return suggestions, total, nil
}

// Transition applies a conditional update guarded by status = 'pending'. The
// row lock taken by UPDATE makes a concurrent reviewer wait for this
// transaction and then match no row.
func (r *Suggestions) Transition(ctx context.Context, id int64, to models.SuggestionStatus, reviewer string) (*models.Suggestion, error) {
	s, err := scanSuggestion(r.q(ctx).QueryRow(ctx, `
		UPDATE user_suggestions
		SET status = $2, reviewed_at = now(), reviewed_by = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING `+suggestionColumns, id, to, reviewer))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, db.WrapError(err, "transition suggestion")
	}

	var exists bool
	if err := r.q(ctx).QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM user_suggestions WHERE id = $1)", id).Scan(&exists); err != nil {
		return nil, db.WrapError(err, "probe suggestion")
	}
	if exists {
		return nil, db.WrapError(db.ErrStateConflict, "transition suggestion")
	}
	return nil, db.WrapError(pgx.ErrNoRows, "transition suggestion")
}
