package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/blocklist-app/blocklist-server/internal/middleware"
	"github.com/blocklist-app/blocklist-server/internal/service"
	"github.com/blocklist-app/blocklist-server/pkg/logger"
)

const (
	msgInvalidPayload = "Invalid payload"
	msgInvalidID      = "Invalid ID"
	msgTimeout        = "Database query timeout"
	msgCaptcha        = "Captcha verification failed"
	msgInternal       = "Internal server error"
	msgNotFound       = "Not found"
)

// handleError maps service errors onto status codes. Internal causes are
// logged, never returned.
func handleError(c *gin.Context, err error) {
	var (
		validationErr *service.ValidationError
		notFoundErr   *service.NotFoundError
		conflictErr   *service.ConflictError
		timeoutErr    *service.TimeoutError
		captchaErr    *service.CaptchaError
		authErr       *service.AuthenticationError
	)

	fields := []zap.Field{
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
		zap.String("requestId", middleware.GetRequestID(c)),
	}

	switch {
	case errors.As(err, &validationErr):
		middleware.Abort(c, http.StatusBadRequest, validationErr.Message)
	case errors.As(err, &notFoundErr):
		middleware.Abort(c, http.StatusNotFound, notFoundErr.Message)
	case errors.As(err, &conflictErr):
		middleware.Abort(c, http.StatusConflict, conflictErr.Message)
	case errors.As(err, &captchaErr):
		logger.Log.Warn("Captcha rejected", fields...)
		middleware.Abort(c, http.StatusBadRequest, msgCaptcha)
	case errors.As(err, &authErr):
		middleware.Abort(c, http.StatusUnauthorized, authErr.Message)
	case errors.As(err, &timeoutErr):
		logger.Log.Error("Query timeout", fields...)
		middleware.Abort(c, http.StatusGatewayTimeout, msgTimeout)
	default:
		logger.Log.Error("Request failed", fields...)
		middleware.Abort(c, http.StatusInternalServerError, msgInternal)
	}
}

func badPayload(c *gin.Context, err error) {
	logger.Log.Debug("Invalid request payload",
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
	)
	middleware.Abort(c, http.StatusBadRequest, msgInvalidPayload)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.Abort(c, http.StatusBadRequest, msgInvalidID)
		return 0, false
	}
	return id, true
}

func actorOf(c *gin.Context) string {
	if identity := middleware.GetIdentity(c); identity != nil {
		return identity.Username
	}
	return ""
}
