package domain

import (
	"time"

	"github.com/google/uuid"

	"chatrelay-backend/pkg/sanitize"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
)

// ConversationRequest is an invitation to a conversation that does not exist yet.
// At most one pending row exists per (requester, receiver, type, group name).
// Maps to CockroachDB conversation_requests table
type ConversationRequest struct {
	RequestID         uuid.UUID        `json:"request_id" db:"request_id"`
	RequesterID       uuid.UUID        `json:"requester_id" db:"requester_id"`
	ReceiverID        uuid.UUID        `json:"receiver_id" db:"receiver_id"`
	Type              ConversationType `json:"type" db:"type"`
	GroupName         *string          `json:"group_name,omitempty" db:"group_name"`
	AdditionalUserIDs []uuid.UUID      `json:"additional_user_ids,omitempty" db:"additional_user_ids"`
	Status            RequestStatus    `json:"status" db:"status"`
	Message           *string          `json:"message,omitempty" db:"message"`
	RequestedAt       time.Time        `json:"requested_at" db:"requested_at"`
	RespondedAt       *time.Time       `json:"responded_at,omitempty" db:"responded_at"`
}

// GroupNameValue returns the group name or "" for private requests
func (r *ConversationRequest) GroupNameValue() string {
	if r.GroupName == nil {
		return ""
	}
	return *r.GroupName
}

// ConversationRequestCreate is the payload of SendConversationRequest
type ConversationRequestCreate struct {
	ReceiverID        uuid.UUID        `json:"receiver_id" binding:"required"`
	Type              ConversationType `json:"type" binding:"required,oneof=private group"`
	GroupName         *string          `json:"group_name,omitempty"`
	AdditionalUserIDs []uuid.UUID      `json:"additional_user_ids,omitempty"`
	Message           *string          `json:"message,omitempty"`
}

// Normalize trims the group name and drops it for private requests
func (c *ConversationRequestCreate) Normalize() {
	if c.Type == ConversationPrivate {
		c.GroupName = nil
		c.AdditionalUserIDs = nil
		return
	}
	if c.GroupName != nil {
		name := sanitize.Name(*c.GroupName)
		c.GroupName = &name
	}
}

// RequestResolution is what accepting or declining yields
type RequestResolution struct {
	Request      *ConversationRequest `json:"request"`
	Conversation *Conversation        `json:"conversation,omitempty"`
}

// GroupInvite is the payload of the group invite fan-out helper
type GroupInvite struct {
	GroupName string      `json:"group_name" binding:"required"`
	UserIDs   []uuid.UUID `json:"user_ids" binding:"required,min=1"`
}

// GroupInviteResult reports who joined directly and who got a request
type GroupInviteResult struct {
	Conversation *Conversation          `json:"conversation"`
	Joined       []uuid.UUID            `json:"joined"`
	Requested    []*ConversationRequest `json:"requested"`
	Skipped      []uuid.UUID            `json:"skipped"`
}
