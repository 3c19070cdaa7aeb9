package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a chat account
// Maps to CockroachDB users table
type User struct {
	UserID      uuid.UUID         `json:"user_id" db:"user_id"`
	Email       string            `json:"email" db:"email"`
	Username    string            `json:"username" db:"username"`
	DisplayName string            `json:"display_name" db:"display_name"`
	AvatarURL   *string           `json:"avatar_url,omitempty" db:"avatar_url"`
	IsOnline    bool              `json:"is_online" db:"is_online"`
	LastSeen    *time.Time        `json:"last_seen,omitempty" db:"last_seen"`
	IsSystem    bool              `json:"-" db:"is_system"` // AI participant account
	Settings    UserConfiguration `json:"settings"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// UserConfiguration holds the per-user privacy gates
type UserConfiguration struct {
	AllowRequest           bool `json:"allow_request" db:"allow_request"`
	AllowBeingAddedToGroup bool `json:"allow_being_added_to_group" db:"allow_being_added_to_group"`
	AllowOnlyFriendsChat   bool `json:"allow_only_friends_chat" db:"allow_only_friends_chat"`
}

// Name is what other users see
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// UserResponse is the public projection of a user
type UserResponse struct {
	UserID      uuid.UUID  `json:"user_id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	AvatarURL   *string    `json:"avatar_url,omitempty"`
	IsOnline    bool       `json:"is_online"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		UserID:      u.UserID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		IsOnline:    u.IsOnline,
		LastSeen:    u.LastSeen,
	}
}

// UsersToResponses projects a slice of users
func UsersToResponses(users []*User) []*UserResponse {
	out := make([]*UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, u.ToResponse())
	}
	return out
}
