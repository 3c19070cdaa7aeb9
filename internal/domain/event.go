package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a server push delivered over the realtime connection
type EventType string

const (
	EventReceiveMessage             EventType = "receiveMessage"
	EventUserOnline                 EventType = "userOnline"
	EventUserOffline                EventType = "userOffline"
	EventReceiveConversationRequest EventType = "receiveConversationRequest"
	EventRequestAccepted            EventType = "requestAccepted"
	EventRequestDeclined            EventType = "requestDeclined"
	EventAck                        EventType = "ack"
	EventError                      EventType = "error"
)

// EventPayload is implemented by every push payload; the payload decides its tag
type EventPayload interface {
	EventType() EventType
}

// Event is the envelope written to clients
type Event struct {
	Type    EventType    `json:"type"`
	Payload EventPayload `json:"payload"`
}

func NewEvent(payload EventPayload) Event {
	return Event{Type: payload.EventType(), Payload: payload}
}

// ReceiveMessagePayload carries one persisted message
type ReceiveMessagePayload struct {
	*Message
}

func (ReceiveMessagePayload) EventType() EventType { return EventReceiveMessage }

// PresencePayload announces a user going online or offline
type PresencePayload struct {
	UserID   uuid.UUID `json:"user_id"`
	Name     string    `json:"name"`
	Online   bool      `json:"-"`
	LastSeen time.Time `json:"last_seen"`
}

func (p PresencePayload) EventType() EventType {
	if p.Online {
		return EventUserOnline
	}
	return EventUserOffline
}

// ConversationRequestPayload is pushed to the receiver of a new request
type ConversationRequestPayload struct {
	Request       *ConversationRequest `json:"request"`
	RequesterName string               `json:"requester_name"`
}

func (ConversationRequestPayload) EventType() EventType { return EventReceiveConversationRequest }

// RequestResponsePayload is pushed to the requester once the receiver decided
type RequestResponsePayload struct {
	RequestID      uuid.UUID        `json:"request_id"`
	Type           ConversationType `json:"type"`
	GroupName      *string          `json:"group_name,omitempty"`
	ResponderID    uuid.UUID        `json:"responder_id"`
	ResponderName  string           `json:"responder_name"`
	ConversationID *uuid.UUID       `json:"conversation_id,omitempty"`
	Accepted       bool             `json:"accepted"`
}

func (p RequestResponsePayload) EventType() EventType {
	if p.Accepted {
		return EventRequestAccepted
	}
	return EventRequestDeclined
}

// AckPayload confirms a client command to the calling connection only
type AckPayload struct {
	Command string `json:"command"`
	Ref     string `json:"ref,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (AckPayload) EventType() EventType { return EventAck }

// ErrorPayload reports a failed client command to the calling connection only
type ErrorPayload struct {
	Command string `json:"command,omitempty"`
	Ref     string `json:"ref,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ErrorPayload) EventType() EventType { return EventError }
