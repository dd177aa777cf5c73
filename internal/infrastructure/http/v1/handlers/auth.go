package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fiscalseq/internal/domain/auth"
	"fiscalseq/internal/infrastructure/http/v1/dto"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	*BaseHandler
	service *auth.Service
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(base *BaseHandler, service *auth.Service) *AuthHandler {
	return &AuthHandler{
		BaseHandler: base,
		service:     service,
	}
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.LoginRequest
	if !h.BindJSON(c, &req) {
		return
	}

	result, err := h.service.Login(ctx, req.Email, req.Password)
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromLoginResult(result))
}

// GenerateAPIKey handles POST /auth/api-key. The returned key replaces the
// caller's previous one and is never shown again.
func (h *AuthHandler) GenerateAPIKey(c *gin.Context) {
	ctx := c.Request.Context()

	userID, err := h.CallerID(c)
	if err != nil {
		h.Error(c, err)
		return
	}

	key, err := h.service.GenerateAPIKey(ctx, userID)
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.APIKeyResponse{
		APIKey:    key,
		CreatedAt: time.Now().UTC(),
	})
}

// RegisterRoutes registers auth routes.
func (h *AuthHandler) RegisterRoutes(public, protected *gin.RouterGroup) {
	public.POST("/login", h.Login)
	protected.POST("/api-key", h.GenerateAPIKey)
}
