package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/blocklist-app/blocklist-server/internal/metrics"
	"github.com/blocklist-app/blocklist-server/internal/models"
)

// KeySource returns the RSA key that signed a token.
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// Authenticator verifies bearer tokens: RS256 tokens from the identity
// provider against its JWKS, HS256 tokens against the local secret.
type Authenticator struct {
	keys      KeySource
	issuer    *Issuer
	directory *Directory
	nowFunc   func() time.Time
}

// NewAuthenticator creates an Authenticator. keys may be nil to refuse RS256.
func NewAuthenticator(keys KeySource, issuer *Issuer, directory *Directory) *Authenticator {
	return &Authenticator{keys: keys, issuer: issuer, directory: directory, nowFunc: time.Now}
}

// Authenticate returns the identity carried by token.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		metrics.AuthFailures.WithLabelValues("missing").Inc()
		return nil, ErrUnauthorized
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		metrics.AuthFailures.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	alg, _ := unverified.Header["alg"].(string)
	switch alg {
	case jwt.SigningMethodRS256.Alg():
		identity, err := a.authenticateExternal(ctx, token)
		if err != nil {
			metrics.AuthFailures.WithLabelValues("external").Inc()
		}
		return identity, err
	case jwt.SigningMethodHS256.Alg():
		identity, err := a.issuer.Verify(token)
		if err != nil {
			metrics.AuthFailures.WithLabelValues("local").Inc()
		}
		return identity, err
	default:
		metrics.AuthFailures.WithLabelValues("algorithm").Inc()
		return nil, ErrUnsupportedAlgorithm
	}
}

func (a *Authenticator) authenticateExternal(ctx context.Context, token string) (*models.Identity, error) {
	if a.keys == nil {
		return nil, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return a.keys.Key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(a.nowFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return a.directory.Resolve(ctx, subjectFromClaims(claims))
}

func subjectFromClaims(claims jwt.MapClaims) Subject {
	s := Subject{}
	s.ID, _ = claims["sub"].(string)
	s.Email, _ = claims["email"].(string)
	if meta, ok := claims["user_metadata"].(map[string]interface{}); ok {
		s.Username, _ = meta["username"].(string)
	}
	if s.Username == "" && s.Email != "" {
		s.Username, _, _ = strings.Cut(s.Email, "@")
	}
	return s
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
