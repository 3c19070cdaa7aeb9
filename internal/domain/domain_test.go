package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateBucket(t *testing.T) {
	assert.Equal(t, 202610, CalculateBucket(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, 202601, CalculateBucket(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestBucketsBetweenSpansYearBoundary(t *testing.T) {
	from := time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, []int{202601, 202512, 202511}, BucketsBetween(from, to))
	assert.Nil(t, BucketsBetween(to, from))
}

func TestFriendshipParties(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	f := &Friendship{RequesterID: a, AddresseeID: b}

	assert.True(t, f.Involves(a))
	assert.True(t, f.Involves(b))
	assert.False(t, f.Involves(c))
	assert.Equal(t, b, f.OtherParty(a))
	assert.Equal(t, a, f.OtherParty(b))
}

func TestConversationHelpers(t *testing.T) {
	creator, member := uuid.New(), uuid.New()
	now := time.Now()
	conv := &Conversation{
		Type: ConversationGroup,
		Participants: []*ConversationParticipant{
			{UserID: member, Role: RoleMember, JoinedAt: now.Add(time.Second)},
			{UserID: creator, Role: RoleCreator, JoinedAt: now},
		},
	}

	conv.SortParticipants()
	assert.Equal(t, []uuid.UUID{creator, member}, conv.ParticipantIDs())
	assert.Equal(t, creator, conv.Creator())
	assert.True(t, conv.HasParticipant(member))
	assert.False(t, conv.HasParticipant(uuid.New()))
	assert.True(t, RoleCreator.CanManage())
	assert.False(t, RoleMember.CanManage())
}

func TestEventEnvelopeTags(t *testing.T) {
	msg := &Message{MessageID: uuid.New(), Content: "hi"}
	tests := []struct {
		payload EventPayload
		want    EventType
	}{
		{ReceiveMessagePayload{Message: msg}, EventReceiveMessage},
		{PresencePayload{Online: true}, EventUserOnline},
		{PresencePayload{Online: false}, EventUserOffline},
		{ConversationRequestPayload{}, EventReceiveConversationRequest},
		{RequestResponsePayload{Accepted: true}, EventRequestAccepted},
		{RequestResponsePayload{Accepted: false}, EventRequestDeclined},
		{ErrorPayload{Code: "NOT_FOUND"}, EventError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NewEvent(tt.payload).Type)
	}
}

func TestReceiveMessageEventFlattensMessage(t *testing.T) {
	msg := &Message{MessageID: uuid.New(), Content: "hello", IsAI: true}
	raw, err := json.Marshal(NewEvent(ReceiveMessagePayload{Message: msg}))
	require.NoError(t, err)

	var decoded struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "receiveMessage", decoded.Type)
	assert.Equal(t, "hello", decoded.Payload["content"])
	assert.Equal(t, true, decoded.Payload["is_ai"])
}

func TestRequestNormalize(t *testing.T) {
	name := "  Weekend trip  "
	private := &ConversationRequestCreate{Type: ConversationPrivate, GroupName: &name, AdditionalUserIDs: []uuid.UUID{uuid.New()}}
	private.Normalize()
	assert.Nil(t, private.GroupName)
	assert.Nil(t, private.AdditionalUserIDs)

	group := &ConversationRequestCreate{Type: ConversationGroup, GroupName: &name}
	group.Normalize()
	require.NotNil(t, group.GroupName)
	assert.Equal(t, "Weekend trip", *group.GroupName)
}
