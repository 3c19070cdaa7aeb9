package request

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay-backend/internal/domain"
	"chatrelay-backend/internal/repository/memorytest"
	"chatrelay-backend/internal/service/conversation"
	apperrors "chatrelay-backend/pkg/errors"
)

// graph is a friendship fake: friends are symmetric, blocks are directed
type graph struct {
	mu      sync.RWMutex
	friends map[[2]uuid.UUID]bool
	blocks  map[[2]uuid.UUID]bool
}

func newGraph() *graph {
	return &graph{friends: map[[2]uuid.UUID]bool{}, blocks: map[[2]uuid.UUID]bool{}}
}

func (g *graph) befriend(a, b uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.friends[[2]uuid.UUID{a, b}] = true
	g.friends[[2]uuid.UUID{b, a}] = true
}

func (g *graph) block(blocker, blocked uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocks[[2]uuid.UUID{blocker, blocked}] = true
}

func (g *graph) AreFriends(_ context.Context, a, b uuid.UUID) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.friends[[2]uuid.UUID{a, b}], nil
}

func (g *graph) HasBlocked(_ context.Context, a, b uuid.UUID) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.blocks[[2]uuid.UUID{a, b}], nil
}

func (g *graph) GetFriends(context.Context, uuid.UUID) ([]*domain.UserResponse, error) {
	return nil, nil
}

type namedLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *namedLocker) Lock(_ context.Context, name string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*sync.Mutex{}
	}
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

type unavailableLocker struct{}

func (unavailableLocker) Lock(context.Context, string) (func(), error) {
	return nil, errors.New("lock backend unreachable")
}

type pushed struct {
	userID  uuid.UUID
	payload domain.EventPayload
}

type recordingPusher struct {
	mu       sync.Mutex
	events   []pushed
	attached map[uuid.UUID][]uuid.UUID
}

func (p *recordingPusher) AttachToConversation(_ context.Context, conversationID uuid.UUID, userIDs ...uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attached == nil {
		p.attached = map[uuid.UUID][]uuid.UUID{}
	}
	p.attached[conversationID] = append(p.attached[conversationID], userIDs...)
}

func (p *recordingPusher) PushToUser(_ context.Context, userID uuid.UUID, payload domain.EventPayload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, pushed{userID: userID, payload: payload})
}

func (p *recordingPusher) of(userID uuid.UUID, eventType domain.EventType) []domain.EventPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.EventPayload
	for _, e := range p.events {
		if e.userID == userID && e.payload.EventType() == eventType {
			out = append(out, e.payload)
		}
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	count map[uuid.UUID]int
}

func (n *recordingNotifier) Notify(_ context.Context, userID uuid.UUID, _ string, _ domain.NotificationType) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.count == nil {
		n.count = map[uuid.UUID]int{}
	}
	n.count[userID]++
}

type fixture struct {
	service       *Service
	conversations *memorytest.Conversations
	requests      *memorytest.Requests
	users         *memorytest.Users
	graph         *graph
	pusher        *recordingPusher
	notifier      *recordingNotifier
}

func newUser(name string) *domain.User {
	return &domain.User{
		UserID:   uuid.New(),
		Username: name,
		Settings: domain.UserConfiguration{
			AllowRequest:           true,
			AllowBeingAddedToGroup: true,
		},
		CreatedAt: time.Now(),
	}
}

func newFixture(users ...*domain.User) *fixture {
	f := &fixture{
		conversations: memorytest.NewConversations(),
		requests:      memorytest.NewRequests(),
		users:         memorytest.NewUsers(users...),
		graph:         newGraph(),
		pusher:        &recordingPusher{},
		notifier:      &recordingNotifier{},
	}
	locker := &namedLocker{}
	conversations := conversation.NewService(conversation.Dependencies{
		Conversations: f.conversations,
		Messages:      memorytest.NewMessages(),
		Users:         f.users,
		Friendships:   f.graph,
		Requests:      f.requests,
		Locker:        locker,
	}, uuid.Nil)
	f.service = NewService(Dependencies{
		Requests:      f.requests,
		Users:         f.users,
		Friendships:   f.graph,
		Conversations: conversations,
		Locker:        locker,
		Notifier:      f.notifier,
	})
	f.service.SetPusher(f.pusher)
	return f
}

func groupRequest(receiver uuid.UUID, name string, others ...uuid.UUID) *domain.ConversationRequestCreate {
	return &domain.ConversationRequestCreate{
		ReceiverID:        receiver,
		Type:              domain.ConversationGroup,
		GroupName:         &name,
		AdditionalUserIDs: others,
	}
}

func privateRequest(receiver uuid.UUID) *domain.ConversationRequestCreate {
	return &domain.ConversationRequestCreate{ReceiverID: receiver, Type: domain.ConversationPrivate}
}

func TestSendConversationRequest_PushesToReceiver(t *testing.T) {
	a, b := newUser("alice"), newUser("bob")
	f := newFixture(a, b)
	ctx := context.Background()

	req, err := f.service.SendConversationRequest(ctx, a.UserID, privateRequest(b.UserID))
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, req.Status)
	assert.Nil(t, req.GroupName)

	events := f.pusher.of(b.UserID, domain.EventReceiveConversationRequest)
	require.Len(t, events, 1)
	payload := events[0].(domain.ConversationRequestPayload)
	assert.Equal(t, req.RequestID, payload.Request.RequestID)
	assert.Equal(t, "alice", payload.RequesterName)
	assert.Equal(t, 1, f.notifier.count[b.UserID])

	pending, err := f.service.GetPendingRequests(ctx, b.UserID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	sent, err := f.service.GetSentRequests(ctx, a.UserID)
	require.NoError(t, err)
	assert.Len(t, sent, 1)
}

func TestSendConversationRequest_Duplicate(t *testing.T) {
	a, b := newUser("alice"), newUser("bob")
	f := newFixture(a, b)
	ctx := context.Background()

	_, err := f.service.SendConversationRequest(ctx, a.UserID, groupRequest(b.UserID, "team"))
	require.NoError(t, err)

	_, err = f.service.SendConversationRequest(ctx, a.UserID, groupRequest(b.UserID, "  team "))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDuplicateRequest))

	// a different group name is a different request
	_, err = f.service.SendConversationRequest(ctx, a.UserID, groupRequest(b.UserID, "other"))
	assert.NoError(t, err)

	has, err := f.service.HasPendingRequest(ctx, a.UserID, b.UserID, domain.ConversationGroup, "team")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = f.service.HasPendingRequest(ctx, a.UserID, b.UserID, domain.ConversationPrivate, "")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSendConversationRequest_ConcurrentDuplicates(t *testing.T) {
	a, b := newUser("alice"), newUser("bob")
	f := newFixture(a, b)

	const senders = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	created, duplicates := 0, 0
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.SendConversationRequest(context.Background(), a.UserID, privateRequest(b.UserID))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if apperrors.HasCode(err, apperrors.ErrCodeDuplicateRequest) {
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, senders-1, duplicates)
}

func TestSendConversationRequest_Rejections(t *testing.T) {
	a, b := newUser("alice"), newUser("bob")
	friendsOnly := newUser("carol")
	friendsOnly.Settings.AllowOnlyFriendsChat = true
	noGroups := newUser("dave")
	noGroups.Settings.AllowBeingAddedToGroup = false
	f := newFixture(a, b, friendsOnly, noGroups)
	ctx := context.Background()

	_, err := f.service.SendConversationRequest(ctx, a.UserID, privateRequest(a.UserID))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	_, err = f.service.SendConversationRequest(ctx, a.UserID, groupRequest(b.UserID, "   "))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))

	_, err = f.service.SendConversationRequest(ctx, a.UserID, privateRequest(uuid.New()))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserNotFound))

	_, err = f.service.SendConversationRequest(ctx, a.UserID, privateRequest(friendsOnly.UserID))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	f.graph.befriend(a.UserID, friendsOnly.UserID)
	_, err = f.service.SendConversationRequest(ctx, a.UserID, privateRequest(friendsOnly.UserID))
	assert.NoError(t, err)

	_, err = f.service.SendConversationRequest(ctx, a.UserID, groupRequest(noGroups.UserID, "team"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	f.graph.block(b.UserID, a.UserID)
	_, err = f.service.SendConversationRequest(ctx, a.UserID, privateRequest(b.UserID))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	_, err = f.service.SendConversationRequest(ctx, b.UserID, privateRequest(a.UserID))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
}

func TestAcceptRequest_Private(t *testing.T) {
	a, b := newUser("alice"), newUser("bob")
	f := newFixture(a, b)
	ctx := context.Background()

	req, err := f.service.SendConversationRequest(ctx, a.UserID, privateRequest(b.UserID))
	require.NoError(t, err)

	_, err = f.service.AcceptRequest(ctx, req.RequestID, a.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden), "requester cannot accept")

	res, err := f.service.AcceptRequest(ctx, req.RequestID, b.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestAccepted, res.Request.Status)
	require.NotNil(t, res.Request.RespondedAt)
	require.NotNil(t, res.Conversation)
	assert.Equal(t, domain.ConversationPrivate, res.Conversation.Type)
	assert.ElementsMatch(t, []uuid.UUID{a.UserID, b.UserID}, res.Conversation.ParticipantIDs())

	_, err = f.service.AcceptRequest(ctx, req.RequestID, b.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))

	events := f.pusher.of(a.UserID, domain.EventRequestAccepted)
	require.Len(t, events, 1)
	payload := events[0].(domain.RequestResponsePayload)
	assert.Equal(t, "bob", payload.ResponderName)
	require.NotNil(t, payload.ConversationID)
	assert.Equal(t, res.Conversation.ConversationID, *payload.ConversationID)
	assert.ElementsMatch(t, []uuid.UUID{a.UserID, b.UserID}, f.pusher.attached[res.Conversation.ConversationID])

	// a second private request reuses the existing conversation
	again, err := f.service.SendConversationRequest(ctx, b.UserID, privateRequest(a.UserID))
	require.NoError(t, err)
	res2, err := f.service.AcceptRequest(ctx, again.RequestID, a.UserID)
	require.NoError(t, err)
	assert.Equal(t, res.Conversation.ConversationID, res2.Conversation.ConversationID)
	assert.Equal(t, 1, f.conversations.Count())
}

func TestDeclineAndCancel(t *testing.T) {
	a, b := newUser("alice"), newUser("bob")
	f := newFixture(a, b)
	ctx := context.Background()

	req, err := f.service.SendConversationRequest(ctx, a.UserID, privateRequest(b.UserID))
	require.NoError(t, err)

	res, err := f.service.RespondToRequest(ctx, req.RequestID, b.UserID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestDeclined, res.Request.Status)
	assert.Nil(t, res.Conversation)
	assert.Len(t, f.pusher.of(a.UserID, domain.EventRequestDeclined), 1)
	assert.Equal(t, 0, f.conversations.Count())

	// the declined row is kept and no longer blocks a new request
	stored, err := f.service.GetRequestByID(ctx, req.RequestID, a.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestDeclined, stored.Status)

	next, err := f.service.SendConversationRequest(ctx, a.UserID, privateRequest(b.UserID))
	require.NoError(t, err)

	err = f.service.CancelRequest(ctx, next.RequestID, b.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	require.NoError(t, f.service.CancelRequest(ctx, next.RequestID, a.UserID))

	_, err = f.service.GetRequestByID(ctx, next.RequestID, a.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	_, err = f.service.GetRequestByID(ctx, req.RequestID, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
}

func TestAcceptRequest_GroupInviteBatchConvergesInEitherOrder(t *testing.T) {
	for _, order := range []string{"bob first", "carol first"} {
		t.Run(order, func(t *testing.T) {
			a, b, c := newUser("alice"), newUser("bob"), newUser("carol")
			f := newFixture(a, b, c)
			ctx := context.Background()

			toB, err := f.service.SendConversationRequest(ctx, a.UserID, groupRequest(b.UserID, "hiking", c.UserID))
			require.NoError(t, err)
			toC, err := f.service.SendConversationRequest(ctx, a.UserID, groupRequest(c.UserID, "hiking", b.UserID))
			require.NoError(t, err)

			first, second := toB, toC
			if order == "carol first" {
				first, second = toC, toB
			}
			res1, err := f.service.AcceptRequest(ctx, first.RequestID, first.ReceiverID)
			require.NoError(t, err)
			res2, err := f.service.AcceptRequest(ctx, second.RequestID, second.ReceiverID)
			require.NoError(t, err)

			assert.Equal(t, res1.Conversation.ConversationID, res2.Conversation.ConversationID)
			assert.Equal(t, 1, f.conversations.Count())
			assert.ElementsMatch(t, []uuid.UUID{a.UserID, b.UserID, c.UserID}, res2.Conversation.ParticipantIDs())
			assert.Equal(t, a.UserID, res2.Conversation.Creator())
		})
	}
}

func TestAcceptRequest_ConcurrentGroupAcceptanceCreatesOneGroup(t *testing.T) {
	a := newUser("alice")
	invitees := []*domain.User{newUser("b"), newUser("c"), newUser("d"), newUser("e")}
	f := newFixture(append([]*domain.User{a}, invitees...)...)
	ctx := context.Background()

	var ids []uuid.UUID
	for _, u := range invitees {
		ids = append(ids, u.UserID)
	}
	var requests []*domain.ConversationRequest
	for _, u := range invitees {
		req, err := f.service.SendConversationRequest(ctx, a.UserID, groupRequest(u.UserID, "launch", ids...))
		require.NoError(t, err)
		requests = append(requests, req)
	}
	for _, req := range requests {
		assert.NotContains(t, req.AdditionalUserIDs, req.ReceiverID)
	}

	var wg sync.WaitGroup
	for _, req := range requests {
		wg.Add(1)
		go func(req *domain.ConversationRequest) {
			defer wg.Done()
			_, err := f.service.AcceptRequest(ctx, req.RequestID, req.ReceiverID)
			assert.NoError(t, err)
		}(req)
	}
	wg.Wait()

	require.Equal(t, 1, f.conversations.Count())
	groups, err := f.conversations.ListGroupsByName(ctx, a.UserID, "launch")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Participants, len(invitees)+1)
}

func TestAcceptRequest_LockFailureKeepsRequestPending(t *testing.T) {
	a, b := newUser("alice"), newUser("bob")
	f := newFixture(a, b)
	ctx := context.Background()

	req, err := f.service.SendConversationRequest(ctx, a.UserID, groupRequest(b.UserID, "chess"))
	require.NoError(t, err)

	working := f.service.locker
	f.service.locker = unavailableLocker{}
	_, err = f.service.AcceptRequest(ctx, req.RequestID, b.UserID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeServiceUnavail))

	stored, err := f.requests.GetByID(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, stored.Status)
	assert.Nil(t, stored.RespondedAt)
	assert.Equal(t, 0, f.conversations.Count())
	assert.Empty(t, f.pusher.of(a.UserID, domain.EventRequestAccepted))

	f.service.locker = working
	res, err := f.service.AcceptRequest(ctx, req.RequestID, b.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestAccepted, res.Request.Status)
	assert.ElementsMatch(t, []uuid.UUID{a.UserID, b.UserID}, res.Conversation.ParticipantIDs())
	assert.Equal(t, 1, f.conversations.Count())
}

func TestAcceptRequest_GroupDoesNotEnrollOthers(t *testing.T) {
	a, b, c := newUser("alice"), newUser("bob"), newUser("carol")
	f := newFixture(a, b, c)
	ctx := context.Background()

	req, err := f.service.SendConversationRequest(ctx, a.UserID, groupRequest(b.UserID, "book club", c.UserID))
	require.NoError(t, err)
	res, err := f.service.AcceptRequest(ctx, req.RequestID, b.UserID)
	require.NoError(t, err)

	assert.ElementsMatch(t, []uuid.UUID{a.UserID, b.UserID}, res.Conversation.ParticipantIDs())
	assert.Equal(t, "book club", res.Conversation.DisplayName())
}

func TestInviteToGroup(t *testing.T) {
	a, friend, stranger, shy := newUser("alice"), newUser("bob"), newUser("carol"), newUser("dave")
	shy.Settings.AllowBeingAddedToGroup = false
	f := newFixture(a, friend, stranger, shy)
	f.graph.befriend(a.UserID, friend.UserID)
	ctx := context.Background()

	_, err := f.service.InviteToGroup(ctx, a.UserID, " ", []uuid.UUID{friend.UserID})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))
	_, err = f.service.InviteToGroup(ctx, a.UserID, "crew", []uuid.UUID{a.UserID})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	result, err := f.service.InviteToGroup(ctx, a.UserID, "crew",
		[]uuid.UUID{friend.UserID, stranger.UserID, shy.UserID, stranger.UserID})
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{friend.UserID}, result.Joined)
	assert.Equal(t, []uuid.UUID{shy.UserID}, result.Skipped)
	require.Len(t, result.Requested, 1)
	assert.Equal(t, stranger.UserID, result.Requested[0].ReceiverID)
	assert.ElementsMatch(t, []uuid.UUID{friend.UserID, shy.UserID}, result.Requested[0].AdditionalUserIDs)
	assert.ElementsMatch(t, []uuid.UUID{a.UserID, friend.UserID}, result.Conversation.ParticipantIDs())
	assert.ElementsMatch(t, []uuid.UUID{a.UserID, friend.UserID}, f.pusher.attached[result.Conversation.ConversationID])

	res, err := f.service.AcceptRequest(ctx, result.Requested[0].RequestID, stranger.UserID)
	require.NoError(t, err)
	assert.Equal(t, result.Conversation.ConversationID, res.Conversation.ConversationID)
	assert.Len(t, res.Conversation.Participants, 3)
	assert.Equal(t, 1, f.conversations.Count())
}

func TestMatchGroup(t *testing.T) {
	b, c, d := uuid.New(), uuid.New(), uuid.New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	group := func(created time.Time, members ...uuid.UUID) *domain.Conversation {
		conv := &domain.Conversation{ConversationID: uuid.New(), Type: domain.ConversationGroup, CreatedAt: created}
		for _, m := range members {
			conv.Participants = append(conv.Participants, &domain.ConversationParticipant{UserID: m})
		}
		return conv
	}
	req := &domain.ConversationRequest{AdditionalUserIDs: []uuid.UUID{b, c}}

	assert.Nil(t, MatchGroup(req, nil))

	only := group(base)
	assert.Same(t, only, MatchGroup(req, []*domain.Conversation{only}), "a single candidate is always used")

	one := group(base, b)
	two := group(base.Add(time.Hour), b, c)
	assert.Same(t, two, MatchGroup(req, []*domain.Conversation{one, two}))

	older := group(base, d, c)
	newer := group(base.Add(time.Minute), b)
	assert.Same(t, older, MatchGroup(req, []*domain.Conversation{newer, older}))

	assert.Nil(t, MatchGroup(req, []*domain.Conversation{group(base, d), group(base)}))

	x := group(base, b)
	y := group(base, c)
	want := x
	if string(y.ConversationID[:]) < string(x.ConversationID[:]) {
		want = y
	}
	assert.Same(t, want, MatchGroup(req, []*domain.Conversation{x, y}))
}
