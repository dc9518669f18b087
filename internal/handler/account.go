package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/internal/service"
)

// AccountHandler serves local registration and login.
type AccountHandler struct {
	accounts *service.AccountService
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts *service.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// Register handles POST /api/auth/register.
func (h *AccountHandler) Register(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	resp, err := h.accounts.Register(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Login handles POST /api/auth/login.
func (h *AccountHandler) Login(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	resp, err := h.accounts.Login(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
