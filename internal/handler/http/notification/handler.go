package notification

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatrelay-backend/internal/domain"
	"chatrelay-backend/internal/handler/http/params"
	"chatrelay-backend/pkg/response"
)

// Service is the notification store as used over HTTP
type Service interface {
	GetNotifications(ctx context.Context, userID uuid.UUID, limit int) (*domain.NotificationListResponse, error)
	MarkAllSeen(ctx context.Context, userID uuid.UUID) error
	RemoveSeen(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Handler handles notification HTTP requests
type Handler struct {
	notificationService Service
}

func NewHandler(notificationService Service) *Handler {
	return &Handler{
		notificationService: notificationService,
	}
}

// RegisterRoutes mounts the notification endpoints on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	notifications := rg.Group("/notifications")
	notifications.GET("", h.GetNotifications)
	notifications.POST("/seen", h.MarkAllSeen)
	notifications.DELETE("/seen", h.RemoveSeen)
}

// GetNotifications returns the newest notifications with the unseen count
// GET /v1/notifications?limit=50
func (h *Handler) GetNotifications(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	limit, ok := params.Limit(c)
	if !ok {
		return
	}

	result, err := h.notificationService.GetNotifications(c.Request.Context(), userID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// MarkAllSeen marks every notification of the caller as seen
// POST /v1/notifications/seen
func (h *Handler) MarkAllSeen(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}

	if err := h.notificationService.MarkAllSeen(c.Request.Context(), userID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Notifications marked as seen"})
}

// RemoveSeen deletes the caller's seen notifications
// DELETE /v1/notifications/seen
func (h *Handler) RemoveSeen(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}

	removed, err := h.notificationService.RemoveSeen(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": removed})
}
