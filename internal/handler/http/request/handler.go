package request

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatrelay-backend/internal/domain"
	"chatrelay-backend/internal/handler/http/params"
	"chatrelay-backend/pkg/response"
	"chatrelay-backend/pkg/sanitize"
)

// Service is the conversation request protocol as used over HTTP
type Service interface {
	SendConversationRequest(ctx context.Context, requesterID uuid.UUID, input *domain.ConversationRequestCreate) (*domain.ConversationRequest, error)
	AcceptRequest(ctx context.Context, requestID, actingUserID uuid.UUID) (*domain.RequestResolution, error)
	DeclineRequest(ctx context.Context, requestID, actingUserID uuid.UUID) (*domain.RequestResolution, error)
	CancelRequest(ctx context.Context, requestID, actingUserID uuid.UUID) error
	GetRequestByID(ctx context.Context, requestID, userID uuid.UUID) (*domain.ConversationRequest, error)
	HasPendingRequest(ctx context.Context, requesterID, receiverID uuid.UUID, convType domain.ConversationType, groupName string) (bool, error)
	GetPendingRequests(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationRequest, error)
	GetSentRequests(ctx context.Context, userID uuid.UUID) ([]*domain.ConversationRequest, error)
	InviteToGroup(ctx context.Context, creatorID uuid.UUID, groupName string, userIDs []uuid.UUID) (*domain.GroupInviteResult, error)
}

// Handler handles conversation request HTTP requests
type Handler struct {
	requestService Service
}

func NewHandler(requestService Service) *Handler {
	return &Handler{
		requestService: requestService,
	}
}

// RegisterRoutes mounts the request endpoints on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	requests := rg.Group("/conversation-requests")
	requests.POST("", h.SendRequest)
	requests.GET("/incoming", h.GetIncoming)
	requests.GET("/outgoing", h.GetOutgoing)
	requests.GET("/pending", h.HasPending)
	requests.GET("/:id", h.GetRequest)
	requests.POST("/:id/accept", h.Accept)
	requests.POST("/:id/decline", h.Decline)
	requests.DELETE("/:id", h.Cancel)

	rg.POST("/groups/invite", h.InviteToGroup)
}

// SendRequest invites another user to a private or group conversation
// POST /v1/conversation-requests
func (h *Handler) SendRequest(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	var input domain.ConversationRequestCreate
	if err := c.ShouldBindJSON(&input); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	req, err := h.requestService.SendConversationRequest(c.Request.Context(), userID, &input)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, req)
}

// GetIncoming lists pending requests addressed to the caller
// GET /v1/conversation-requests/incoming
func (h *Handler) GetIncoming(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}

	requests, err := h.requestService.GetPendingRequests(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, requests)
}

// GetOutgoing lists pending requests the caller sent
// GET /v1/conversation-requests/outgoing
func (h *Handler) GetOutgoing(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}

	requests, err := h.requestService.GetSentRequests(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, requests)
}

// HasPending reports whether the caller already has a matching pending request
// GET /v1/conversation-requests/pending?receiver_id=&type=&group_name=
func (h *Handler) HasPending(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	receiverID, err := uuid.Parse(c.Query("receiver_id"))
	if err != nil {
		response.ValidationError(c, "Invalid receiver_id")
		return
	}
	convType := domain.ConversationType(c.DefaultQuery("type", string(domain.ConversationPrivate)))
	if !convType.Valid() {
		response.ValidationError(c, "Invalid conversation type")
		return
	}

	pending, err := h.requestService.HasPendingRequest(c.Request.Context(), userID, receiverID, convType, sanitize.Name(c.Query("group_name")))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"pending": pending})
}

// GetRequest returns one request to either of its parties
// GET /v1/conversation-requests/:id
func (h *Handler) GetRequest(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	requestID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}

	req, err := h.requestService.GetRequestByID(c.Request.Context(), requestID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, req)
}

// Accept accepts a request and returns the materialized conversation
// POST /v1/conversation-requests/:id/accept
func (h *Handler) Accept(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	requestID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}

	resolution, err := h.requestService.AcceptRequest(c.Request.Context(), requestID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resolution)
}

// Decline declines a request
// POST /v1/conversation-requests/:id/decline
func (h *Handler) Decline(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	requestID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}

	resolution, err := h.requestService.DeclineRequest(c.Request.Context(), requestID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, resolution)
}

// Cancel withdraws a request the caller sent
// DELETE /v1/conversation-requests/:id
func (h *Handler) Cancel(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	requestID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.requestService.CancelRequest(c.Request.Context(), requestID, userID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Request cancelled"})
}

// InviteToGroup creates a group with the caller's friends and sends requests
// to everyone else
// POST /v1/groups/invite
func (h *Handler) InviteToGroup(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	var invite domain.GroupInvite
	if err := c.ShouldBindJSON(&invite); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	result, err := h.requestService.InviteToGroup(c.Request.Context(), userID, invite.GroupName, invite.UserIDs)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}
