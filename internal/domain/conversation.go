package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

// Valid reports whether t is a known conversation type
func (t ConversationType) Valid() bool {
	return t == ConversationPrivate || t == ConversationGroup
}

type ParticipantRole string

const (
	RoleMember  ParticipantRole = "member"
	RoleAdmin   ParticipantRole = "admin"
	RoleCreator ParticipantRole = "creator"
)

// CanManage reports whether the role may add/remove participants or edit group info
func (r ParticipantRole) CanManage() bool {
	return r == RoleAdmin || r == RoleCreator
}

// Conversation represents a private or group conversation
// Maps to CockroachDB conversations table
type Conversation struct {
	ConversationID uuid.UUID                  `json:"conversation_id" db:"conversation_id"`
	Type           ConversationType           `json:"type" db:"type"`
	Name           *string                    `json:"name,omitempty" db:"name"` // required for groups
	PictureURL     *string                    `json:"picture_url,omitempty" db:"picture_url"`
	CreatedAt      time.Time                  `json:"created_at" db:"created_at"`
	LastMessageAt  *time.Time                 `json:"last_message_at,omitempty" db:"last_message_at"`
	Participants   []*ConversationParticipant `json:"participants,omitempty"`
}

// ConversationParticipant is a user's membership row
// Maps to CockroachDB conversation_participants table
type ConversationParticipant struct {
	ConversationID uuid.UUID       `json:"conversation_id" db:"conversation_id"`
	UserID         uuid.UUID       `json:"user_id" db:"user_id"`
	Role           ParticipantRole `json:"role" db:"role"`
	JoinedAt       time.Time       `json:"joined_at" db:"joined_at"`
}

// Participant returns the membership row for userID
func (c *Conversation) Participant(userID uuid.UUID) (*ConversationParticipant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return nil, false
}

func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	_, ok := c.Participant(userID)
	return ok
}

// ParticipantIDs returns participant ids in join order
func (c *Conversation) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// Creator returns the creator's user id, uuid.Nil if none is loaded
func (c *Conversation) Creator() uuid.UUID {
	for _, p := range c.Participants {
		if p.Role == RoleCreator {
			return p.UserID
		}
	}
	return uuid.Nil
}

// DisplayName is the group name, or for private conversations empty
func (c *Conversation) DisplayName() string {
	if c.Name != nil {
		return *c.Name
	}
	return ""
}

// LastActivity is the last message time, or creation time for silent conversations
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// SortParticipants orders participants by join time then id
func (c *Conversation) SortParticipants() {
	sort.SliceStable(c.Participants, func(i, j int) bool {
		a, b := c.Participants[i], c.Participants[j]
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.UserID.String() < b.UserID.String()
	})
}

// GroupCreate is the payload to create a group directly
type GroupCreate struct {
	Name      string      `json:"name" binding:"required"`
	MemberIDs []uuid.UUID `json:"member_ids"`
}

// GroupInfoUpdate renames a group; the picture is uploaded separately
type GroupInfoUpdate struct {
	Name *string `json:"name,omitempty"`
}

// ConversationSummary is a row of the recent conversations view
type ConversationSummary struct {
	ConversationID  uuid.UUID        `json:"conversation_id"`
	Type            ConversationType `json:"type"`
	Title           string           `json:"title"`
	PictureURL      *string          `json:"picture_url,omitempty"`
	Participants    []*UserResponse  `json:"participants"`
	LastMessage     *MessagePreview  `json:"last_message,omitempty"`
	UnreadCount     int              `json:"unread_count"`
	LastActivity    time.Time        `json:"last_activity"`
	LastActivityAgo string           `json:"last_activity_ago"`
}

// MessagePreview is the truncated last message of a conversation
type MessagePreview struct {
	SenderID uuid.UUID `json:"sender_id"`
	Content  string    `json:"content"`
	IsAI     bool      `json:"is_ai"`
	SentAt   time.Time `json:"sent_at"`
}

// DashboardStats aggregates counters for a user's home view
type DashboardStats struct {
	UnreadLast24h      int `json:"unread_last_24h"`
	UnreadLast7d       int `json:"unread_last_7d"`
	OnlineFriends      int `json:"online_friends"`
	TotalFriends       int `json:"total_friends"`
	TotalConversations int `json:"total_conversations"`
	PendingRequests    int `json:"pending_requests"`
}
