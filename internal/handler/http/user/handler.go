package user

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatrelay-backend/internal/domain"
	"chatrelay-backend/internal/handler/http/params"
	"chatrelay-backend/pkg/response"
)

// Service is the profile service as used over HTTP
type Service interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetPublicProfile(ctx context.Context, userID uuid.UUID) (*domain.UserResponse, error)
	UpdateSettings(ctx context.Context, userID uuid.UUID, settings domain.UserConfiguration) (*domain.User, error)
}

// Handler handles user HTTP requests
type Handler struct {
	userService Service
}

func NewHandler(userService Service) *Handler {
	return &Handler{
		userService: userService,
	}
}

// RegisterRoutes mounts the user endpoints on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	users := rg.Group("/users")
	users.GET("/me", h.GetMe)
	users.PUT("/me/settings", h.UpdateSettings)
	users.GET("/:id", h.GetUser)
}

// GetMe returns the caller's account with its privacy settings
// GET /v1/users/me
func (h *Handler) GetMe(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}

	user, err := h.userService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// UpdateSettings replaces the caller's privacy settings
// PUT /v1/users/me/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	var settings domain.UserConfiguration
	if err := c.ShouldBindJSON(&settings); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	user, err := h.userService.UpdateSettings(c.Request.Context(), userID, settings)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// GetUser returns another user's public profile
// GET /v1/users/:id
func (h *Handler) GetUser(c *gin.Context) {
	if _, ok := params.CurrentUser(c); !ok {
		return
	}
	userID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}

	profile, err := h.userService.GetPublicProfile(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, profile)
}
