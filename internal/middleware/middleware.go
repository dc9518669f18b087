// Package middleware provides the gin middleware chain of the HTTP server.
package middleware

import (
	"net"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blocklist-app/blocklist-server/internal/models"
)

const (
	identityKey  = "identity"
	requestIDKey = "requestId"
)

// Abort writes the standard error body and stops the chain.
func Abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Error:     message,
		Path:      c.Request.URL.Path,
	})
}

// ClientIP returns the caller address. Forwarding headers are honored only
// when the socket peer is one of the engine's trusted proxies.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(c.Request.RemoteAddr)
	}
	return host
}

// GetIdentity returns the identity attached by Authenticate, or nil.
func GetIdentity(c *gin.Context) *models.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, _ := v.(*models.Identity)
	return identity
}

// SetIdentity attaches identity to the request.
func SetIdentity(c *gin.Context, identity *models.Identity) {
	c.Set(identityKey, identity)
}

// GetRequestID returns the id assigned by RequestID.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
