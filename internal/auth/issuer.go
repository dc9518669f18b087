package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/blocklist-app/blocklist-server/internal/models"
)

const issuerName = "blocklist-server"

// LocalClaims is the payload of locally issued HS256 tokens.
type LocalClaims struct {
	UserID   string      `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Issuer creates and verifies HS256 tokens for locally registered users.
type Issuer struct {
	secret  []byte
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewIssuer creates an Issuer signing with secret.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, nowFunc: time.Now}
}

// Generate signs a token for identity. It returns the token and its expiry.
func (i *Issuer) Generate(identity models.Identity) (string, time.Time, error) {
	now := i.nowFunc()
	expiresAt := now.Add(i.ttl)

	claims := LocalClaims{
		UserID:   identity.ID,
		Username: identity.Username,
		Email:    identity.Email,
		Role:     identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature and expiry and returns the identity carried by the token.
func (i *Issuer) Verify(token string) (*models.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &LocalClaims{}, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.nowFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*LocalClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != models.RoleAdmin && claims.Role != models.RoleUser {
		return nil, errors.Join(ErrInvalidToken, fmt.Errorf("unknown role %q", claims.Role))
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	return &models.Identity{
		ID:       id,
		Username: claims.Username,
		Email:    claims.Email,
		Role:     claims.Role,
	}, nil
}
