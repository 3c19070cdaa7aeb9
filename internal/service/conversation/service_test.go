package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatrelay-backend/internal/domain"
	"chatrelay-backend/internal/repository/memorytest"
	apperrors "chatrelay-backend/pkg/errors"
)

type MockResponder struct {
	mock.Mock
}

func (m *MockResponder) GetReply(ctx context.Context, text string) (string, error) {
	args := m.Called(ctx, text)
	return args.String(0), args.Error(1)
}

type MockPictureStore struct {
	mock.Mock
}

func (m *MockPictureStore) UploadGroupPicture(ctx context.Context, conversationID uuid.UUID, upload *PictureUpload) (string, error) {
	args := m.Called(ctx, conversationID, upload)
	return args.String(0), args.Error(1)
}

func (m *MockPictureStore) RemoveGroupPicture(ctx context.Context, pictureURL string) error {
	args := m.Called(ctx, pictureURL)
	return args.Error(0)
}

// staticFriends treats the listed pairs as friends
type staticFriends map[[2]uuid.UUID]bool

func (f staticFriends) AreFriends(_ context.Context, a, b uuid.UUID) (bool, error) {
	return f[[2]uuid.UUID{a, b}] || f[[2]uuid.UUID{b, a}], nil
}

func (f staticFriends) GetFriends(_ context.Context, userID uuid.UUID) ([]*domain.UserResponse, error) {
	var out []*domain.UserResponse
	for pair := range f {
		switch userID {
		case pair[0]:
			out = append(out, &domain.UserResponse{UserID: pair[1]})
		case pair[1]:
			out = append(out, &domain.UserResponse{UserID: pair[0]})
		}
	}
	return out, nil
}

type localLocker struct {
	mu    sync.Mutex
	names sync.Map
	fail  bool
}

func (l *localLocker) Lock(_ context.Context, name string) (func(), error) {
	if l.fail {
		return nil, errors.New("lock backend unreachable")
	}
	l.names.Store(name, true)
	l.mu.Lock()
	return l.mu.Unlock, nil
}

func (l *localLocker) taken() []string {
	var out []string
	l.names.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	return out
}

type fixture struct {
	service       *Service
	conversations *memorytest.Conversations
	messages      *memorytest.Messages
	users         *memorytest.Users
	responder     *MockResponder
	pictures      *MockPictureStore
	locker        *localLocker
	friends       staticFriends
	ai            uuid.UUID
}

func newUser(name string, allowGroups bool) *domain.User {
	return &domain.User{
		UserID:      uuid.New(),
		DisplayName: name,
		Settings: domain.UserConfiguration{
			AllowRequest:           true,
			AllowBeingAddedToGroup: allowGroups,
		},
	}
}

func newFixture(users ...*domain.User) *fixture {
	ai := &domain.User{UserID: uuid.New(), DisplayName: "Assistant", IsSystem: true}
	f := &fixture{
		conversations: memorytest.NewConversations(),
		messages:      memorytest.NewMessages(),
		users:         memorytest.NewUsers(append(users, ai)...),
		responder:     new(MockResponder),
		pictures:      new(MockPictureStore),
		locker:        &localLocker{},
		friends:       staticFriends{},
		ai:            ai.UserID,
	}
	f.service = NewService(Dependencies{
		Conversations: f.conversations,
		Messages:      f.messages,
		Users:         f.users,
		Friendships:   f.friends,
		Requests:      memorytest.NewRequests(),
		Responder:     f.responder,
		Pictures:      f.pictures,
		Locker:        f.locker,
	}, ai.UserID)
	return f
}

func TestPrivateConversation_RoundTrip(t *testing.T) {
	a, b := newUser("alice", true), newUser("bob", true)
	f := newFixture(a, b)
	ctx := context.Background()

	created, err := f.service.CreatePrivateConversation(ctx, a.UserID, b.UserID)
	require.NoError(t, err)
	assert.Equal(t, a.UserID, created.Creator())

	found, err := f.service.GetPrivateConversation(ctx, b.UserID, a.UserID)
	require.NoError(t, err)
	assert.Equal(t, created.ConversationID, found.ConversationID)
	assert.ElementsMatch(t, []uuid.UUID{a.UserID, b.UserID}, found.ParticipantIDs())

	_, err = f.service.GetPrivateConversation(ctx, a.UserID, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestGetOrCreatePrivateConversation_EitherOrderSharesOne(t *testing.T) {
	a, b := newUser("alice", true), newUser("bob", true)
	f := newFixture(a, b)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a.UserID, b.UserID
			if i%2 == 1 {
				from, to = to, from
			}
			conv, err := f.service.GetOrCreatePrivateConversation(ctx, from, to)
			if assert.NoError(t, err) {
				ids[i] = conv.ConversationID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.conversations.Count())
	assert.Equal(t, []string{privatePairLock(a.UserID, b.UserID)}, f.locker.taken())
	assert.Equal(t, privatePairLock(a.UserID, b.UserID), privatePairLock(b.UserID, a.UserID))
}

func TestGetOrCreatePrivateConversation_LockUnavailable(t *testing.T) {
	a, b := newUser("alice", true), newUser("bob", true)
	f := newFixture(a, b)
	f.locker.fail = true

	_, err := f.service.GetOrCreatePrivateConversation(context.Background(), a.UserID, b.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeServiceUnavail))
	assert.Equal(t, 0, f.conversations.Count())
}

func TestCreateGroupConversation(t *testing.T) {
	a, b, c := newUser("alice", true), newUser("bob", true), newUser("carol", true)
	f := newFixture(a, b, c)
	ctx := context.Background()

	_, err := f.service.CreateGroupConversation(ctx, "   ", a.UserID, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))

	group, err := f.service.CreateGroupConversation(ctx, " team ", a.UserID, []uuid.UUID{b.UserID, a.UserID, b.UserID, c.UserID})
	require.NoError(t, err)
	assert.Equal(t, "team", group.DisplayName())
	require.Len(t, group.Participants, 3)
	assert.Equal(t, domain.RoleCreator, group.Participants[0].Role)
	assert.Equal(t, domain.RoleMember, group.Participants[1].Role)
}

func TestSendMessage_WithAIParticipant(t *testing.T) {
	a := newUser("alice", true)
	f := newFixture(a)
	ctx := context.Background()

	conv, err := f.service.EnsureAiConversation(ctx, a.UserID)
	require.NoError(t, err)

	f.responder.On("GetReply", mock.Anything, "hello").Return("hi alice", nil).Once()

	messages, err := f.service.SendMessage(ctx, conv.ConversationID, a.UserID, "hello")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, a.UserID, messages[0].SenderID)
	assert.False(t, messages[0].IsAI)
	assert.Equal(t, f.ai, messages[1].SenderID)
	assert.True(t, messages[1].IsAI)
	assert.Equal(t, "hi alice", messages[1].Content)
	assert.Equal(t, "Assistant", messages[1].SenderName)
	assert.Len(t, f.messages.All(conv.ConversationID), 2)
	f.responder.AssertExpectations(t)
}

func TestSendMessage_AIUnavailableDegrades(t *testing.T) {
	a := newUser("alice", true)
	f := newFixture(a)
	ctx := context.Background()

	conv, err := f.service.EnsureAiConversation(ctx, a.UserID)
	require.NoError(t, err)

	f.responder.On("GetReply", mock.Anything, "hello").
		Return("", apperrors.UpstreamError("AI responder", errors.New("timeout"))).Once()

	messages, err := f.service.SendMessage(ctx, conv.ConversationID, a.UserID, "hello")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.False(t, messages[0].IsAI)
}

func TestSendMessage_FromAIGetsNoReply(t *testing.T) {
	a := newUser("alice", true)
	f := newFixture(a)
	ctx := context.Background()

	conv, err := f.service.EnsureAiConversation(ctx, a.UserID)
	require.NoError(t, err)

	messages, err := f.service.SendMessage(ctx, conv.ConversationID, f.ai, "proactive hello")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	f.responder.AssertNotCalled(t, "GetReply", mock.Anything, mock.Anything)
}

func TestSendMessage_Rejections(t *testing.T) {
	a, b, outsider := newUser("alice", true), newUser("bob", true), newUser("eve", true)
	f := newFixture(a, b, outsider)
	ctx := context.Background()

	conv, err := f.service.CreatePrivateConversation(ctx, a.UserID, b.UserID)
	require.NoError(t, err)

	_, err = f.service.SendMessage(ctx, conv.ConversationID, outsider.UserID, "hi")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	_, err = f.service.SendMessage(ctx, uuid.New(), a.UserID, "hi")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	_, err = f.service.SendMessage(ctx, conv.ConversationID, a.UserID, "  ")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	_, err = f.service.SendMessage(ctx, conv.ConversationID, a.UserID, strings.Repeat("x", MaxMessageLength+1))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	messages, err := f.service.SendMessage(ctx, conv.ConversationID, a.UserID, "hi")
	require.NoError(t, err)
	assert.Len(t, messages, 1, "no AI participant, no reply")
}

func TestEnsureAiConversation_Idempotent(t *testing.T) {
	a := newUser("alice", true)
	f := newFixture(a)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := f.service.EnsureAiConversation(ctx, a.UserID)
			if err == nil {
				ids[i] = conv.ConversationID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.conversations.Count())
}

func TestGroupMembership_RoleGates(t *testing.T) {
	creator, admin, member, newcomer := newUser("c", true), newUser("a", true), newUser("m", true), newUser("n", true)
	f := newFixture(creator, admin, member, newcomer)
	ctx := context.Background()

	group, err := f.service.CreateGroupConversation(ctx, "g", creator.UserID, []uuid.UUID{admin.UserID, member.UserID})
	require.NoError(t, err)
	id := group.ConversationID

	err = f.service.AssignAdmin(ctx, id, member.UserID, admin.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden), "members cannot promote")

	require.NoError(t, f.service.AssignAdmin(ctx, id, creator.UserID, admin.UserID))

	err = f.service.AssignAdmin(ctx, id, admin.UserID, member.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden), "only the creator promotes")

	_, err = f.service.AddParticipant(ctx, id, member.UserID, newcomer.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	_, err = f.service.AddParticipant(ctx, id, admin.UserID, newcomer.UserID)
	require.NoError(t, err)

	_, err = f.service.AddParticipant(ctx, id, admin.UserID, newcomer.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))

	require.NoError(t, f.service.RemoveParticipant(ctx, id, admin.UserID, newcomer.UserID))

	err = f.service.RemoveParticipant(ctx, id, admin.UserID, newcomer.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict), "already absent")
}

func TestAddParticipant_RespectsGroupPreference(t *testing.T) {
	creator, shy := newUser("c", true), newUser("shy", false)
	f := newFixture(creator, shy)
	ctx := context.Background()

	group, err := f.service.CreateGroupConversation(ctx, "g", creator.UserID, nil)
	require.NoError(t, err)

	_, err = f.service.AddParticipant(ctx, group.ConversationID, creator.UserID, shy.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	f.friends[[2]uuid.UUID{creator.UserID, shy.UserID}] = true
	_, err = f.service.AddParticipant(ctx, group.ConversationID, creator.UserID, shy.UserID)
	assert.NoError(t, err)
}

func TestCreatorIsNeverRemovedOrDemoted(t *testing.T) {
	creator, admin := newUser("c", true), newUser("a", true)
	f := newFixture(creator, admin)
	ctx := context.Background()

	group, err := f.service.CreateGroupConversation(ctx, "g", creator.UserID, []uuid.UUID{admin.UserID})
	require.NoError(t, err)
	id := group.ConversationID
	require.NoError(t, f.service.AssignAdmin(ctx, id, creator.UserID, admin.UserID))

	err = f.service.RemoveParticipant(ctx, id, admin.UserID, creator.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))

	err = f.service.AssignAdmin(ctx, id, creator.UserID, creator.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))

	err = f.service.LeaveGroup(ctx, id, creator.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))

	require.NoError(t, f.service.LeaveGroup(ctx, id, admin.UserID))

	stored, err := f.conversations.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, creator.UserID, stored.Creator())
	assert.Len(t, stored.Participants, 1)
}

func TestUpdateGroupInfo(t *testing.T) {
	creator, member := newUser("c", true), newUser("m", true)
	f := newFixture(creator, member)
	ctx := context.Background()

	group, err := f.service.CreateGroupConversation(ctx, "old", creator.UserID, []uuid.UUID{member.UserID})
	require.NoError(t, err)
	id := group.ConversationID

	name := "new"
	_, err = f.service.UpdateGroupInfo(ctx, id, member.UserID, &name, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	upload := &PictureUpload{Filename: "p.png", ContentType: "image/png", Size: 3, Reader: strings.NewReader("png")}
	f.pictures.On("UploadGroupPicture", ctx, id, upload).Return("http://cdn/p.png", nil).Once()

	updated, err := f.service.UpdateGroupInfo(ctx, id, creator.UserID, &name, upload)
	require.NoError(t, err)
	assert.Equal(t, "new", updated.DisplayName())
	require.NotNil(t, updated.PictureURL)
	assert.Equal(t, "http://cdn/p.png", *updated.PictureURL)
	f.pictures.AssertNotCalled(t, "RemoveGroupPicture", mock.Anything, mock.Anything)

	// replacing the picture drops the previous object
	second := &PictureUpload{Filename: "q.png", ContentType: "image/png", Size: 3, Reader: strings.NewReader("png")}
	f.pictures.On("UploadGroupPicture", ctx, id, second).Return("http://cdn/q.png", nil).Once()
	f.pictures.On("RemoveGroupPicture", ctx, "http://cdn/p.png").Return(nil).Once()

	updated, err = f.service.UpdateGroupInfo(ctx, id, creator.UserID, nil, second)
	require.NoError(t, err)
	assert.Equal(t, "new", updated.DisplayName())
	assert.Equal(t, "http://cdn/q.png", *updated.PictureURL)

	f.pictures.On("RemoveGroupPicture", ctx, "http://cdn/q.png").Return(errors.New("storage down")).Once()
	require.NoError(t, f.service.DeleteConversation(ctx, id, creator.UserID))
	f.pictures.AssertExpectations(t)
}

func TestDeleteConversation(t *testing.T) {
	creator, member := newUser("c", true), newUser("m", true)
	f := newFixture(creator, member)
	ctx := context.Background()

	group, err := f.service.CreateGroupConversation(ctx, "g", creator.UserID, []uuid.UUID{member.UserID})
	require.NoError(t, err)
	err = f.service.DeleteConversation(ctx, group.ConversationID, member.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	require.NoError(t, f.service.DeleteConversation(ctx, group.ConversationID, creator.UserID))

	private, err := f.service.CreatePrivateConversation(ctx, creator.UserID, member.UserID)
	require.NoError(t, err)
	_, err = f.service.SendMessage(ctx, private.ConversationID, creator.UserID, "bye")
	require.NoError(t, err)
	require.NoError(t, f.service.DeleteConversation(ctx, private.ConversationID, member.UserID))

	assert.Equal(t, 0, f.conversations.Count())
	assert.Empty(t, f.messages.All(private.ConversationID))
}

func TestGetMessagesAndMarkRead(t *testing.T) {
	a, b := newUser("alice", true), newUser("bob", true)
	f := newFixture(a, b)
	ctx := context.Background()

	conv, err := f.service.CreatePrivateConversation(ctx, a.UserID, b.UserID)
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		_, err := f.service.SendMessage(ctx, conv.ConversationID, a.UserID, text)
		require.NoError(t, err)
	}

	messages, err := f.service.GetMessages(ctx, conv.ConversationID, b.UserID, 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "two", messages[0].Content)
	assert.Equal(t, "three", messages[1].Content)
	assert.Equal(t, "alice", messages[1].SenderName)

	recent, err := f.service.GetRecentConversations(ctx, b.UserID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "alice", recent[0].Title)
	assert.Equal(t, 3, recent[0].UnreadCount)
	require.NotNil(t, recent[0].LastMessage)
	assert.Equal(t, "three", recent[0].LastMessage.Content)

	n, err := f.service.MarkConversationRead(ctx, conv.ConversationID, b.UserID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stats, err := f.service.GetDashboardStats(ctx, b.UserID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.UnreadLast24h)
	assert.Equal(t, 1, stats.TotalConversations)
}

func TestGetDashboardStats(t *testing.T) {
	a, b, c := newUser("alice", true), newUser("bob", true), newUser("carol", true)
	f := newFixture(a, b, c)
	f.friends[[2]uuid.UUID{a.UserID, b.UserID}] = true
	ctx := context.Background()

	conv, err := f.service.CreatePrivateConversation(ctx, a.UserID, b.UserID)
	require.NoError(t, err)
	_, err = f.service.CreateGroupConversation(ctx, "quiet", c.UserID, []uuid.UUID{b.UserID})
	require.NoError(t, err)
	for _, text := range []string{"ping", "pong"} {
		_, err := f.service.SendMessage(ctx, conv.ConversationID, a.UserID, text)
		require.NoError(t, err)
	}

	stats, err := f.service.GetDashboardStats(ctx, b.UserID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalConversations)
	assert.Equal(t, 2, stats.UnreadLast24h)
	assert.Equal(t, 2, stats.UnreadLast7d)
	assert.Equal(t, 1, stats.TotalFriends)
	assert.Zero(t, stats.OnlineFriends)
	assert.Zero(t, stats.PendingRequests)

	stats, err = f.service.GetDashboardStats(ctx, a.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalConversations)
	assert.Zero(t, stats.UnreadLast7d)
}
