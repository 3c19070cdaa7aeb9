package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatrelay-backend/internal/domain"
	apperrors "chatrelay-backend/pkg/errors"
	"chatrelay-backend/pkg/logger"
	"chatrelay-backend/pkg/metrics"
)

// Client commands
const (
	CommandJoinConversation  = "joinConversation"
	CommandLeaveConversation = "leaveConversation"
	CommandSendMessage       = "sendMessage"
	CommandRequestResponse   = "requestResponse"
)

// command is a frame sent by a client. Ref is echoed back in the ack or error.
type command struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type conversationPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type sendMessagePayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Content        string    `json:"content"`
}

type requestResponsePayload struct {
	RequestID uuid.UUID `json:"request_id"`
	Accepted  bool      `json:"accepted"`
}

// dispatch runs one client command. Failures are reported to the caller only.
func (h *Hub) dispatch(c *Client, data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.sendError(c, &cmd, apperrors.ValidationError("Malformed command"))
		metrics.HubCommandsTotal.WithLabelValues("unknown", "error").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	ctx = logger.WithUserID(ctx, c.userID.String())

	var (
		result any
		err    error
	)
	switch cmd.Type {
	case CommandJoinConversation:
		result, err = h.joinConversation(ctx, c, cmd.Payload)
	case CommandLeaveConversation:
		result, err = h.leaveConversation(c, cmd.Payload)
	case CommandSendMessage:
		result, err = h.sendMessage(ctx, c, cmd.Payload)
	case CommandRequestResponse:
		result, err = h.requestResponse(ctx, c, cmd.Payload)
	default:
		err = apperrors.ValidationError(fmt.Sprintf("Unknown command %q", cmd.Type))
		cmd.Type = "unknown"
	}

	if err != nil {
		metrics.HubCommandsTotal.WithLabelValues(cmd.Type, "error").Inc()
		h.sendError(c, &cmd, err)
		return
	}
	metrics.HubCommandsTotal.WithLabelValues(cmd.Type, "ok").Inc()
	h.sendTo(c, domain.AckPayload{Command: cmd.Type, Ref: cmd.Ref, Data: result})
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return apperrors.MissingFieldError("payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.ValidationError("Malformed payload")
	}
	return nil
}

func (h *Hub) joinConversation(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p conversationPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	member, err := h.conversations.IsUserInConversation(ctx, p.ConversationID, c.userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, apperrors.ForbiddenError("You are not a participant of this conversation")
	}
	h.registry.Join(c.id, conversationGroup(p.ConversationID))
	return p, nil
}

func (h *Hub) leaveConversation(c *Client, raw json.RawMessage) (any, error) {
	var p conversationPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	h.registry.Leave(c.id, conversationGroup(p.ConversationID))
	return p, nil
}

// sendMessage persists through the conversation core and publishes the result
func (h *Hub) sendMessage(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p sendMessagePayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if p.ConversationID == uuid.Nil {
		return nil, apperrors.MissingFieldError("conversation_id")
	}

	messages, err := h.conversations.SendMessage(ctx, p.ConversationID, c.userID, p.Content)
	if err != nil {
		return nil, err
	}
	h.PublishMessages(ctx, p.ConversationID, c.userID, c.name, messages)

	ids := make([]uuid.UUID, len(messages))
	for i, m := range messages {
		ids[i] = m.MessageID
	}
	return map[string]any{"message_ids": ids}, nil
}

// PublishMessages broadcasts every message to the conversation in order and
// notifies the other human participants. Used by both the socket and HTTP paths.
func (h *Hub) PublishMessages(ctx context.Context, conversationID, senderID uuid.UUID, senderName string, messages []*domain.Message) {
	for _, m := range messages {
		h.BroadcastToConversation(ctx, conversationID, domain.ReceiveMessagePayload{Message: m})
	}
	h.notifyParticipants(ctx, conversationID, senderID, senderName)
}

func (h *Hub) notifyParticipants(ctx context.Context, conversationID, senderID uuid.UUID, senderName string) {
	if h.notifier == nil {
		return
	}
	participants, err := h.conversations.GetParticipantIDs(ctx, conversationID)
	if err != nil {
		logger.Warn("Failed to load participants for notification",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err))
		return
	}
	ai := h.conversations.AIUserID()
	text := fmt.Sprintf("New message from %s.", senderName)
	for _, id := range participants {
		if id == senderID || id == ai {
			continue
		}
		h.notifier.Notify(ctx, id, text, domain.NotificationMessage)
	}
}

// requestResponse accepts or declines a conversation request; the request
// protocol pushes the outcome to the requester
func (h *Hub) requestResponse(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var p requestResponsePayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if p.RequestID == uuid.Nil {
		return nil, apperrors.MissingFieldError("request_id")
	}
	return h.requests.RespondToRequest(ctx, p.RequestID, c.userID, p.Accepted)
}
