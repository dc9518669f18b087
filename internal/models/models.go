// Package models contains the data models and DTOs for the blocklist service.
package models

import (
	"encoding/json"
	"time"
)

// SuggestionStatus represents the review state of a suggestion.
type SuggestionStatus string

// SuggestionStatus constants. Approved and rejected are terminal.
const (
	SuggestionStatusPending  SuggestionStatus = "pending"
	SuggestionStatusApproved SuggestionStatus = "approved"
	SuggestionStatusRejected SuggestionStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s SuggestionStatus) Valid() bool {
	switch s {
	case SuggestionStatusPending, SuggestionStatusApproved, SuggestionStatusRejected:
		return true
	}
	return false
}

// Role is the privilege level of an authenticated identity.
type Role string

// Role constants.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// AnonymousSubmitter is recorded when a suggestion has no known submitter.
const AnonymousSubmitter = "Anonymous"

// SystemActor is recorded for audit entries without a human actor.
const SystemActor = "system"

// BlockedAccount is a registry entry.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type BlockedAccount struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	ProfileURL string    `json:"profile_url"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Suggestion is a community-submitted candidate for the registry.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Suggestion struct {
	ID          int64            `json:"id"`
	Username    string           `json:"username"`
	ProfileURL  string           `json:"profile_url"`
	Reason      *string          `json:"reason"`
	SuggestedBy string           `json:"suggested_by"`
	Status      SuggestionStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	ReviewedAt  *time.Time       `json:"reviewed_at"`
	ReviewedBy  *string          `json:"reviewed_by"`
}

// Identity is the authenticated principal of a request.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

// IsAdmin reports whether the identity holds the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// User is a locally registered account.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditEntry is an append-only record of a privileged mutation.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type AuditEntry struct {
	ID        int64           `json:"id"`
	Action    string          `json:"action"`
	Actor     string          `json:"actor"`
	Target    *string         `json:"target"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
}

// Pagination describes the window returned by a list endpoint.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// BlockedAccountRequest is the body of create and update.
type BlockedAccountRequest struct {
	Username   string `json:"username" binding:"required,max=50"`
	ProfileURL string `json:"profile_url" binding:"required,url,profileurl"`
}

// SuggestionItem is one entry of a submission batch. The host allow-list is
// applied after binding so that disallowed items are skipped, not rejected.
type SuggestionItem struct {
	Username   string `json:"username" binding:"required,max=50"`
	ProfileURL string `json:"profile_url" binding:"required,url"`
	Reason     string `json:"reason" binding:"max=500"`
}

// SubmitSuggestionsRequest is the body of a suggestion submission.
type SubmitSuggestionsRequest struct {
	Suggestions  []SuggestionItem `json:"suggestions" binding:"required,min=1,max=50,dive"`
	CaptchaToken string           `json:"captchaToken"`
}

// RegisterRequest is the body of local registration. It carries no role.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

// LoginRequest is the body of local login; Login accepts username or email.
type LoginRequest struct {
	Login    string `json:"login" binding:"required,max=254"`
	Password string `json:"password" binding:"required,max=128"`
}

// BlockedAccountList is the registry list response.
type BlockedAccountList struct {
	Users      []BlockedAccount `json:"users"`
	Pagination Pagination       `json:"pagination"`
}

// SuggestionList is the admin review list response.
type SuggestionList struct {
	Suggestions []Suggestion `json:"suggestions"`
	Pagination  Pagination   `json:"pagination"`
}

// AuditList is the audit log response.
type AuditList struct {
	Logs       []AuditEntry `json:"logs"`
	Pagination Pagination   `json:"pagination"`
}

// SubmitResult aggregates per-item outcomes of a suggestion batch.
type SubmitResult struct {
	Inserted int `json:"inserted"`
	Errors   int `json:"errors"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}

// ImportResult aggregates per-record outcomes of a bulk import.
type ImportResult struct {
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
	Total      int `json:"total"`
}

// ApproveResult reports whether approval created a registry entry.
type ApproveResult struct {
	AddedToBlocked bool `json:"addedToBlocked"`
}

// Stats is the public statistics response.
type Stats struct {
	TotalUsers  int64  `json:"totalUsers"`
	LastUpdated string `json:"lastUpdated"`
}

// TokenResponse is returned by register and login.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      Identity  `json:"user"`
}

// ErrorResponse represents an error response.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type ErrorResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Path      string    `json:"path"`
}

// DetailsJSON returns stored audit details as JSON: verbatim when they are
// valid JSON (untruncated), otherwise encoded as a JSON string.
func DetailsJSON(stored string) json.RawMessage {
	if json.Valid([]byte(stored)) {
		return json.RawMessage(stored)
	}
	encoded, err := json.Marshal(stored)
	if err != nil {
		return nil
	}
	return encoded
}

// Alert is an operational notification, such as a rate-limit trip.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Alert struct {
	Type      string    `json:"type"`
	Path      string    `json:"path"`
	IP        string    `json:"ip"`
	RequestID string    `json:"reqId"`
	Limit     int       `json:"limit"`
	Timestamp time.Time `json:"timestamp"`
}
