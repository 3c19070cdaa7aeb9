package friendship

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatrelay-backend/internal/domain"
	"chatrelay-backend/internal/handler/http/params"
	"chatrelay-backend/pkg/response"
)

// Service is the friendship graph as used over HTTP
type Service interface {
	AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error)
	HasBlocked(ctx context.Context, a, b uuid.UUID) (bool, error)
	HasBeenBlockedBy(ctx context.Context, a, b uuid.UUID) (bool, error)
	HasRequested(ctx context.Context, a, b uuid.UUID) (bool, error)
	SendFriendRequest(ctx context.Context, senderID, receiverID uuid.UUID) (domain.FriendRequestOutcome, error)
	AcceptRequest(ctx context.Context, friendshipID, actingUserID uuid.UUID) (*domain.Friendship, error)
	DeclineRequest(ctx context.Context, friendshipID, actingUserID uuid.UUID) (*domain.Friendship, error)
	CancelRequest(ctx context.Context, friendshipID, actingUserID uuid.UUID) error
	BlockUser(ctx context.Context, blockerID, blockedID uuid.UUID) (domain.BlockOutcome, error)
	UnblockUser(ctx context.Context, blockerID, blockedID uuid.UUID) error
	UnfriendUser(ctx context.Context, a, b uuid.UUID) error
	DeleteDeclined(ctx context.Context, userID uuid.UUID) (int64, error)
	GetFriends(ctx context.Context, userID uuid.UUID) ([]*domain.UserResponse, error)
	GetBlocked(ctx context.Context, userID uuid.UUID) ([]*domain.UserResponse, error)
	GetPending(ctx context.Context, userID uuid.UUID) ([]*domain.FriendshipResponse, error)
}

// Handler handles friendship HTTP requests
type Handler struct {
	friendshipService Service
}

func NewHandler(friendshipService Service) *Handler {
	return &Handler{
		friendshipService: friendshipService,
	}
}

// RegisterRoutes mounts the friendship endpoints on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	friends := rg.Group("/friends")
	friends.GET("", h.GetFriends)
	friends.DELETE("/:user_id", h.Unfriend)
	friends.GET("/status/:user_id", h.GetStatus)
	friends.GET("/blocked", h.GetBlocked)
	friends.POST("/blocks", h.Block)
	friends.DELETE("/blocks/:user_id", h.Unblock)
	friends.DELETE("/declined", h.DeleteDeclined)

	requests := friends.Group("/requests")
	requests.GET("", h.GetPending)
	requests.POST("", h.SendRequest)
	requests.POST("/:id/accept", h.AcceptRequest)
	requests.POST("/:id/decline", h.DeclineRequest)
	requests.DELETE("/:id", h.CancelRequest)
}

// TargetUserRequest names the other user of a friendship operation
type TargetUserRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// StatusResponse describes the relationship between the caller and another user
type StatusResponse struct {
	AreFriends       bool `json:"are_friends"`
	HasBlocked       bool `json:"has_blocked"`
	HasBeenBlockedBy bool `json:"has_been_blocked_by"`
	HasRequested     bool `json:"has_requested"`
}

// GetFriends lists the caller's friends
// GET /v1/friends
func (h *Handler) GetFriends(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}

	friends, err := h.friendshipService.GetFriends(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, friends)
}

// GetBlocked lists users the caller blocked
// GET /v1/friends/blocked
func (h *Handler) GetBlocked(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}

	blocked, err := h.friendshipService.GetBlocked(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, blocked)
}

// GetPending lists incoming friend requests
// GET /v1/friends/requests
func (h *Handler) GetPending(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}

	pending, err := h.friendshipService.GetPending(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, pending)
}

// GetStatus reports the relationship flags between the caller and user_id
// GET /v1/friends/status/:user_id
func (h *Handler) GetStatus(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	otherID, ok := params.PathUUID(c, "user_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var status StatusResponse
	var err error
	if status.AreFriends, err = h.friendshipService.AreFriends(ctx, userID, otherID); err != nil {
		response.FromError(c, err)
		return
	}
	if status.HasBlocked, err = h.friendshipService.HasBlocked(ctx, userID, otherID); err != nil {
		response.FromError(c, err)
		return
	}
	if status.HasBeenBlockedBy, err = h.friendshipService.HasBeenBlockedBy(ctx, userID, otherID); err != nil {
		response.FromError(c, err)
		return
	}
	if status.HasRequested, err = h.friendshipService.HasRequested(ctx, userID, otherID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

// SendRequest sends a friend request. Every outcome other than a created
// request is reported with 200 and the outcome code.
// POST /v1/friends/requests
func (h *Handler) SendRequest(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	var req TargetUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	outcome, err := h.friendshipService.SendFriendRequest(c.Request.Context(), userID, req.UserID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	status := http.StatusOK
	if outcome == domain.FriendRequestOk {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{"outcome": outcome})
}

// AcceptRequest accepts an incoming friend request
// POST /v1/friends/requests/:id/accept
func (h *Handler) AcceptRequest(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	friendshipID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}

	f, err := h.friendshipService.AcceptRequest(c.Request.Context(), friendshipID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, f)
}

// DeclineRequest declines an incoming friend request
// POST /v1/friends/requests/:id/decline
func (h *Handler) DeclineRequest(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	friendshipID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}

	f, err := h.friendshipService.DeclineRequest(c.Request.Context(), friendshipID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, f)
}

// CancelRequest withdraws a friend request the caller sent
// DELETE /v1/friends/requests/:id
func (h *Handler) CancelRequest(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	friendshipID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.friendshipService.CancelRequest(c.Request.Context(), friendshipID, userID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Friend request cancelled"})
}

// Block blocks another user. Repeated or refused blocks answer 200 with the outcome.
// POST /v1/friends/blocks
func (h *Handler) Block(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	var req TargetUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	outcome, err := h.friendshipService.BlockUser(c.Request.Context(), userID, req.UserID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	status := http.StatusOK
	if outcome == domain.BlockOk {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{"outcome": outcome})
}

// Unblock lifts a block the caller placed
// DELETE /v1/friends/blocks/:user_id
func (h *Handler) Unblock(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	blockedID, ok := params.PathUUID(c, "user_id")
	if !ok {
		return
	}

	if err := h.friendshipService.UnblockUser(c.Request.Context(), userID, blockedID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "User unblocked"})
}

// Unfriend removes an accepted friendship
// DELETE /v1/friends/:user_id
func (h *Handler) Unfriend(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	friendID, ok := params.PathUUID(c, "user_id")
	if !ok {
		return
	}

	if err := h.friendshipService.UnfriendUser(c.Request.Context(), userID, friendID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Friend removed"})
}

// DeleteDeclined purges declined requests touching the caller
// DELETE /v1/friends/declined
func (h *Handler) DeleteDeclined(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}

	deleted, err := h.friendshipService.DeleteDeclined(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": deleted})
}
