package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/blocklist-app/blocklist-server/internal/middleware"
	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/internal/query"
	"github.com/blocklist-app/blocklist-server/internal/service"
	"github.com/blocklist-app/blocklist-server/pkg/logger"
)

const (
	importField       = "file"
	msgNoFile         = "No file uploaded"
	msgFileTooLarge   = "File too large"
	multipartOverhead = 64 << 10
)

// RegistryHandler serves the blocked-account registry.
type RegistryHandler struct {
	registry    *service.RegistryService
	maxFileSize int64
}

// NewRegistryHandler creates a RegistryHandler. maxFileSize bounds import uploads.
func NewRegistryHandler(registry *service.RegistryService, maxFileSize int64) *RegistryHandler {
	return &RegistryHandler{registry: registry, maxFileSize: maxFileSize}
}

// List handles GET /api/users.
func (h *RegistryHandler) List(c *gin.Context) {
	params := query.ParseList(c.Request.URL.Query(), time.Now())

	list, err := h.registry.List(c.Request.Context(), params)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Get handles GET /api/users/:id.
func (h *RegistryHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	account, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// Create handles POST /api/users.
func (h *RegistryHandler) Create(c *gin.Context) {
	var req models.BlockedAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	account, err := h.registry.Create(c.Request.Context(), actorOf(c), req.Username, req.ProfileURL)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

// Update handles PUT /api/users/:id.
func (h *RegistryHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req models.BlockedAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	account, err := h.registry.Update(c.Request.Context(), actorOf(c), id, req.Username, req.ProfileURL)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// Delete handles DELETE /api/users/:id.
func (h *RegistryHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.registry.Delete(c.Request.Context(), actorOf(c), id); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User deleted"})
}

// Stats handles GET /api/stats.
func (h *RegistryHandler) Stats(c *gin.Context) {
	stats, err := h.registry.Stats(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Import handles the multipart JSON upload of POST /api/users/import.
func (h *RegistryHandler) Import(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+multipartOverhead)

	header, err := c.FormFile(importField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.Abort(c, http.StatusRequestEntityTooLarge, msgFileTooLarge)
			return
		}
		middleware.Abort(c, http.StatusBadRequest, msgNoFile)
		return
	}
	if header.Size > h.maxFileSize {
		middleware.Abort(c, http.StatusRequestEntityTooLarge, msgFileTooLarge)
		return
	}

	f, err := header.Open()
	if err != nil {
		handleError(c, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxFileSize+1))
	if err != nil {
		handleError(c, err)
		return
	}
	if int64(len(data)) > h.maxFileSize {
		middleware.Abort(c, http.StatusRequestEntityTooLarge, msgFileTooLarge)
		return
	}

	logger.Log.Info("Import upload received",
		zap.String("filename", header.Filename),
		zap.Int("bytes", len(data)),
		zap.String("actor", actorOf(c)),
	)

	result, err := h.registry.Import(c.Request.Context(), actorOf(c), data)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
