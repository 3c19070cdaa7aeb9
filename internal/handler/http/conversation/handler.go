package conversation

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatrelay-backend/internal/domain"
	"chatrelay-backend/internal/handler/http/params"
	"chatrelay-backend/internal/service/conversation"
	"chatrelay-backend/pkg/response"
	"chatrelay-backend/pkg/sanitize"
)

// Service is the conversation core as used over HTTP
type Service interface {
	GetPrivateConversation(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error)
	CreateGroupConversation(ctx context.Context, name string, creatorID uuid.UUID, memberIDs []uuid.UUID) (*domain.Conversation, error)
	GetConversation(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error)
	GetUserConversations(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error)
	AddParticipant(ctx context.Context, conversationID, actorID, userID uuid.UUID) (*domain.ConversationParticipant, error)
	RemoveParticipant(ctx context.Context, conversationID, actorID, userID uuid.UUID) error
	AssignAdmin(ctx context.Context, conversationID, actorID, userID uuid.UUID) error
	UpdateGroupInfo(ctx context.Context, conversationID, actorID uuid.UUID, name *string, picture *conversation.PictureUpload) (*domain.Conversation, error)
	LeaveGroup(ctx context.Context, conversationID, userID uuid.UUID) error
	DeleteConversation(ctx context.Context, conversationID, actorID uuid.UUID) error
	EnsureAiConversation(ctx context.Context, userID uuid.UUID) (*domain.Conversation, error)
	SendMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) ([]*domain.Message, error)
	GetMessages(ctx context.Context, conversationID, userID uuid.UUID, limit int) ([]*domain.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
	GetDashboardStats(ctx context.Context, userID uuid.UUID) (*domain.DashboardStats, error)
	GetRecentConversations(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ConversationSummary, error)
}

// Realtime is the hub as seen by HTTP writes that live connections must observe
type Realtime interface {
	PublishMessages(ctx context.Context, conversationID, senderID uuid.UUID, senderName string, messages []*domain.Message)
	AttachToConversation(ctx context.Context, conversationID uuid.UUID, userIDs ...uuid.UUID)
}

// Handler handles conversation HTTP requests
type Handler struct {
	conversationService Service
	realtime            Realtime
}

func NewHandler(conversationService Service, realtime Realtime) *Handler {
	return &Handler{
		conversationService: conversationService,
		realtime:            realtime,
	}
}

// RegisterRoutes mounts the conversation endpoints on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/dashboard", h.GetDashboard)

	conversations := rg.Group("/conversations")
	conversations.GET("", h.GetConversations)
	conversations.GET("/recent", h.GetRecent)
	conversations.POST("/ai", h.EnsureAiConversation)
	conversations.GET("/private/:user_id", h.GetPrivateConversation)
	conversations.POST("/groups", h.CreateGroup)

	conversations.GET("/:id", h.GetConversation)
	conversations.PATCH("/:id", h.UpdateGroupInfo)
	conversations.DELETE("/:id", h.DeleteConversation)
	conversations.GET("/:id/messages", h.GetMessages)
	conversations.POST("/:id/messages", h.SendMessage)
	conversations.POST("/:id/read", h.MarkRead)
	conversations.POST("/:id/participants", h.AddParticipant)
	conversations.DELETE("/:id/participants/:user_id", h.RemoveParticipant)
	conversations.POST("/:id/admins", h.AssignAdmin)
	conversations.POST("/:id/leave", h.LeaveGroup)
}

// ParticipantRequest names the user a membership operation targets
type ParticipantRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// SendMessageRequest is the body of an HTTP message send
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// GetConversations lists the caller's conversations, newest activity first
// GET /v1/conversations
func (h *Handler) GetConversations(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}

	conversations, err := h.conversationService.GetUserConversations(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, conversations)
}

// GetRecent returns conversation summaries with previews and unread counts
// GET /v1/conversations/recent?limit=20
func (h *Handler) GetRecent(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	limit, ok := params.Limit(c)
	if !ok {
		return
	}

	summaries, err := h.conversationService.GetRecentConversations(c.Request.Context(), userID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, summaries)
}

// GetDashboard returns the caller's home counters
// GET /v1/dashboard
func (h *Handler) GetDashboard(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}

	stats, err := h.conversationService.GetDashboardStats(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// EnsureAiConversation returns the caller's conversation with the AI account
// POST /v1/conversations/ai
func (h *Handler) EnsureAiConversation(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}

	conv, err := h.conversationService.EnsureAiConversation(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	h.realtime.AttachToConversation(c.Request.Context(), conv.ConversationID, userID)
	response.Success(c, http.StatusOK, conv)
}

// GetPrivateConversation returns the private conversation with user_id
// GET /v1/conversations/private/:user_id
func (h *Handler) GetPrivateConversation(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	otherID, ok := params.PathUUID(c, "user_id")
	if !ok {
		return
	}

	conv, err := h.conversationService.GetPrivateConversation(c.Request.Context(), userID, otherID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, conv)
}

// CreateGroup creates a group with the caller as creator
// POST /v1/conversations/groups
func (h *Handler) CreateGroup(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	var req domain.GroupCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	conv, err := h.conversationService.CreateGroupConversation(c.Request.Context(), req.Name, userID, req.MemberIDs)
	if err != nil {
		response.FromError(c, err)
		return
	}
	h.realtime.AttachToConversation(c.Request.Context(), conv.ConversationID, conv.ParticipantIDs()...)
	response.Success(c, http.StatusCreated, conv)
}

// GetConversation returns one conversation the caller belongs to
// GET /v1/conversations/:id
func (h *Handler) GetConversation(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}

	conv, err := h.conversationService.GetConversation(c.Request.Context(), conversationID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, conv)
}

// UpdateGroupInfo renames a group and/or replaces its picture. Accepts JSON
// ({"name": ...}) or multipart with optional "name" and "picture" parts.
// PATCH /v1/conversations/:id
func (h *Handler) UpdateGroupInfo(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}

	var name *string
	var picture *conversation.PictureUpload

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if value, exists := c.GetPostForm("name"); exists {
			name = &value
		}
		if header, err := c.FormFile("picture"); err == nil {
			file, err := header.Open()
			if err != nil {
				response.ValidationError(c, "Unreadable picture upload")
				return
			}
			defer file.Close()

			picture = &conversation.PictureUpload{
				Filename:    sanitize.Filename(header.Filename),
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
				Reader:      file,
			}
		} else if err != http.ErrMissingFile {
			response.ValidationError(c, "Invalid picture upload")
			return
		}
	} else {
		var req domain.GroupInfoUpdate
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
		name = req.Name
	}

	if name == nil && picture == nil {
		response.ValidationError(c, "Nothing to update")
		return
	}

	conv, err := h.conversationService.UpdateGroupInfo(c.Request.Context(), conversationID, userID, name, picture)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, conv)
}

// DeleteConversation deletes a conversation and its history
// DELETE /v1/conversations/:id
func (h *Handler) DeleteConversation(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.conversationService.DeleteConversation(c.Request.Context(), conversationID, userID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Conversation deleted"})
}

// GetMessages pulls history, used by clients to reconcile after reconnecting
// GET /v1/conversations/:id/messages?limit=50
func (h *Handler) GetMessages(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}
	limit, ok := params.Limit(c)
	if !ok {
		return
	}

	messages, err := h.conversationService.GetMessages(c.Request.Context(), conversationID, userID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, messages)
}

// SendMessage persists a message (plus any AI reply) and pushes it to live
// connections of the conversation
// POST /v1/conversations/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	messages, err := h.conversationService.SendMessage(ctx, conversationID, userID, req.Content)
	if err != nil {
		response.FromError(c, err)
		return
	}

	senderName := c.GetString("username")
	if len(messages) > 0 && messages[0].SenderName != "" {
		senderName = messages[0].SenderName
	}
	h.realtime.PublishMessages(ctx, conversationID, userID, senderName, messages)
	response.Success(c, http.StatusCreated, messages)
}

// MarkRead marks the conversation read for the caller
// POST /v1/conversations/:id/read
func (h *Handler) MarkRead(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}

	marked, err := h.conversationService.MarkConversationRead(c.Request.Context(), conversationID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"marked": marked})
}

// AddParticipant adds a user to a group
// POST /v1/conversations/:id/participants
func (h *Handler) AddParticipant(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}
	var req ParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	participant, err := h.conversationService.AddParticipant(c.Request.Context(), conversationID, userID, req.UserID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	h.realtime.AttachToConversation(c.Request.Context(), conversationID, req.UserID)
	response.Success(c, http.StatusCreated, participant)
}

// RemoveParticipant removes a member from a group
// DELETE /v1/conversations/:id/participants/:user_id
func (h *Handler) RemoveParticipant(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}
	memberID, ok := params.PathUUID(c, "user_id")
	if !ok {
		return
	}

	if err := h.conversationService.RemoveParticipant(c.Request.Context(), conversationID, userID, memberID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Participant removed"})
}

// AssignAdmin promotes a member to admin
// POST /v1/conversations/:id/admins
func (h *Handler) AssignAdmin(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}
	var req ParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.conversationService.AssignAdmin(c.Request.Context(), conversationID, userID, req.UserID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Admin assigned"})
}

// LeaveGroup removes the caller from a group
// POST /v1/conversations/:id/leave
func (h *Handler) LeaveGroup(c *gin.Context) {
	userID, ok := params.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := params.PathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.conversationService.LeaveGroup(c.Request.Context(), conversationID, userID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Left group"})
}
