package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/blocklist-app/blocklist-server/internal/auth"
	"github.com/blocklist-app/blocklist-server/internal/db"
	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/internal/repository"
	"github.com/blocklist-app/blocklist-server/pkg/logger"
)

const invalidCredentials = "Invalid credentials"

// AccountService handles local registration and login.
type AccountService struct {
	users      repository.UserRepository
	issuer     *auth.Issuer
	audit      *AuditService
	bcryptCost int
}

// NewAccountService creates an AccountService.
func NewAccountService(users repository.UserRepository, issuer *auth.Issuer, audit *AuditService, bcryptCost int) *AccountService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AccountService{users: users, issuer: issuer, audit: audit, bcryptCost: bcryptCost}
}

// Register creates a user account and returns a token for it. Registered
// accounts always have the user role.
func (s *AccountService) Register(ctx context.Context, req *models.RegisterRequest) (*models.TokenResponse, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if username == "" || email == "" {
		return nil, &ValidationError{Message: "Invalid payload"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, &ProcessingError{Message: "failed to hash password", Cause: err}
	}

	u := &models.User{Username: username, Email: email, PasswordHash: string(hash)}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, storeError(err, "failed to register user", "", "Username or email already registered")
	}

	logger.Log.Info("User registered", zap.Int64("userId", u.ID), zap.String("username", u.Username))
	s.audit.Record(ctx, ActionAccountRegister, u.Username, strconv.FormatInt(u.ID, 10), nil)

	return s.issue(u)
}

// Login checks credentials by username or email and returns a token.
func (s *AccountService) Login(ctx context.Context, req *models.LoginRequest) (*models.TokenResponse, error) {
	u, err := s.users.GetByLogin(ctx, strings.TrimSpace(req.Login))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, &AuthenticationError{Message: invalidCredentials}
		}
		return nil, storeError(err, "failed to look up user", "", "")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		logger.Log.Debug("Login rejected", zap.String("username", u.Username))
		return nil, &AuthenticationError{Message: invalidCredentials}
	}

	return s.issue(u)
}

func (s *AccountService) issue(u *models.User) (*models.TokenResponse, error) {
	identity := models.Identity{
		ID:       strconv.FormatInt(u.ID, 10),
		Username: u.Username,
		Email:    u.Email,
		Role:     models.RoleUser,
	}
	token, expiresAt, err := s.issuer.Generate(identity)
	if err != nil {
		return nil, &ProcessingError{Message: "failed to issue token", Cause: err}
	}
	return &models.TokenResponse{Token: token, ExpiresAt: expiresAt, User: identity}, nil
}
