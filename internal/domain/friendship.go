package domain

import (
	"time"

	"github.com/google/uuid"
)

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipDeclined FriendshipStatus = "declined"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Friendship is the single edge between an unordered pair of users.
// For a Blocked edge the requester is the user who blocked.
// Maps to CockroachDB friendships table
type Friendship struct {
	FriendshipID uuid.UUID        `json:"friendship_id" db:"friendship_id"`
	RequesterID  uuid.UUID        `json:"requester_id" db:"requester_id"`
	AddresseeID  uuid.UUID        `json:"addressee_id" db:"addressee_id"`
	Status       FriendshipStatus `json:"status" db:"status"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// Involves reports whether userID is either end of the edge
func (f *Friendship) Involves(userID uuid.UUID) bool {
	return f.RequesterID == userID || f.AddresseeID == userID
}

// OtherParty returns the end of the edge that is not userID
func (f *Friendship) OtherParty(userID uuid.UUID) uuid.UUID {
	if f.RequesterID == userID {
		return f.AddresseeID
	}
	return f.RequesterID
}

// FriendRequestOutcome is the result of SendFriendRequest
type FriendRequestOutcome string

const (
	FriendRequestOk               FriendRequestOutcome = "ok"
	FriendRequestAlreadyFriends   FriendRequestOutcome = "already_friends"
	FriendRequestAlreadySent      FriendRequestOutcome = "already_sent"
	FriendRequestBlocked          FriendRequestOutcome = "blocked"
	FriendRequestDeclined         FriendRequestOutcome = "declined"
	FriendRequestRequestsDisabled FriendRequestOutcome = "requests_disabled"
)

// BlockOutcome is the result of BlockUser
type BlockOutcome string

const (
	BlockOk             BlockOutcome = "ok"
	BlockAlreadyBlocked BlockOutcome = "already_blocked"
	BlockAlreadyFriends BlockOutcome = "already_friends"
)

// FriendshipResponse is an edge with the other party resolved
type FriendshipResponse struct {
	FriendshipID uuid.UUID        `json:"friendship_id"`
	Status       FriendshipStatus `json:"status"`
	User         *UserResponse    `json:"user"`
	CreatedAt    time.Time        `json:"created_at"`
}
