package middleware

import (
	"context"
	"errors"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/blocklist-app/blocklist-server/internal/auth"
	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/pkg/logger"
)

const (
	msgTokenRequired   = "Access token required"
	msgInvalidToken    = "Invalid or expired token"
	msgNotRegistered   = "User not authorized. Please register through the application."
	msgUnsupportedAlg  = "Unsupported JWT algorithm"
	msgStoreDown       = "Database unavailable"
	msgAdminRequired   = "Admin access required"
	msgForbidden       = "Forbidden"
	msgUnsupportedType = "Unsupported Media Type"
)

// TokenAuthenticator resolves a bearer token to an identity.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Identity, error)
}

// Authenticate requires a valid bearer token and attaches the caller's identity.
func Authenticate(authenticator TokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))

		identity, err := authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			status, message := authFailure(err)
			logger.Log.Warn("Authentication failed",
				zap.Error(err),
				zap.Int("status", status),
				zap.String("path", c.Request.URL.Path),
				zap.String("ip", ClientIP(c)),
				zap.String("requestId", GetRequestID(c)),
			)
			Abort(c, status, message)
			return
		}

		SetIdentity(c, identity)
		c.Next()
	}
}

func authFailure(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, msgTokenRequired
	case errors.Is(err, auth.ErrUnsupportedAlgorithm):
		return http.StatusBadRequest, msgUnsupportedAlg
	case errors.Is(err, auth.ErrNotRegistered):
		return http.StatusForbidden, msgNotRegistered
	case errors.Is(err, auth.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, msgStoreDown
	default:
		return http.StatusForbidden, msgInvalidToken
	}
}

// RequireAdmin admits only identities with the admin role. It must run after Authenticate.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := GetIdentity(c)
		if identity == nil {
			Abort(c, http.StatusUnauthorized, msgTokenRequired)
			return
		}
		if !identity.IsAdmin() {
			logger.Log.Warn("Admin access denied",
				zap.String("username", identity.Username),
				zap.String("path", c.Request.URL.Path),
			)
			Abort(c, http.StatusForbidden, msgAdminRequired)
			return
		}
		c.Next()
	}
}

// RequireAdminIP admits only listed client IPs. An empty list admits everyone.
func RequireAdminIP(ips []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		if ip != "" {
			allowed[ip] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}
		ip := ClientIP(c)
		if _, ok := allowed[ip]; !ok {
			logger.Log.Warn("Admin request from unlisted IP",
				zap.String("ip", ip),
				zap.String("path", c.Request.URL.Path),
			)
			Abort(c, http.StatusForbidden, msgForbidden)
			return
		}
		c.Next()
	}
}

// RequireJSON rejects requests whose Content-Type is not application/json.
func RequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		mediaType, _, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
		if err != nil || mediaType != "application/json" {
			Abort(c, http.StatusUnsupportedMediaType, msgUnsupportedType)
			return
		}
		c.Next()
	}
}
