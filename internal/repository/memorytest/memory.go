// Package memorytest holds in-process repositories with the same uniqueness
// rules as the database schema. It is imported only by tests.
package memorytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay-backend/internal/domain"
)

// Users is a user table keyed by id
type Users struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.User
}

func NewUsers(users ...*domain.User) *Users {
	u := &Users{users: make(map[uuid.UUID]*domain.User)}
	for _, user := range users {
		u.Put(user)
	}
	return u
}

// Put inserts or replaces a user
func (u *Users) Put(user *domain.User) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users[user.UserID] = user
}

func (u *Users) GetByID(_ context.Context, userID uuid.UUID) (*domain.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (u *Users) GetByIDs(_ context.Context, userIDs []uuid.UUID) ([]*domain.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	var users []*domain.User
	for _, id := range userIDs {
		if user, ok := u.users[id]; ok {
			cp := *user
			users = append(users, &cp)
		}
	}
	return users, nil
}

func (u *Users) SetPresence(_ context.Context, userID uuid.UUID, online bool, lastSeen time.Time) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	user.IsOnline = online
	user.LastSeen = &lastSeen
	return nil
}

// Conversations stores conversations with their participants
type Conversations struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]*domain.Conversation
}

func NewConversations() *Conversations {
	return &Conversations{conversations: make(map[uuid.UUID]*domain.Conversation)}
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	cp := *c
	cp.Participants = make([]*domain.ConversationParticipant, 0, len(c.Participants))
	for _, p := range c.Participants {
		pc := *p
		cp.Participants = append(cp.Participants, &pc)
	}
	return &cp
}

// Count returns the number of stored conversations
func (r *Conversations) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conversations)
}

func (r *Conversations) Create(_ context.Context, conversation *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[conversation.ConversationID]; ok {
		return domain.ErrDuplicate
	}
	r.conversations[conversation.ConversationID] = cloneConversation(conversation)
	return nil
}

func (r *Conversations) GetByID(_ context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneConversation(c), nil
}

// sorted returns clones matching keep, ordered by created_at then id
func (r *Conversations) sorted(keep func(*domain.Conversation) bool) []*domain.Conversation {
	var out []*domain.Conversation
	for _, c := range r.conversations {
		if keep(c) {
			out = append(out, cloneConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ConversationID.String() < out[j].ConversationID.String()
	})
	return out
}

func (r *Conversations) GetPrivateBetween(_ context.Context, a, b uuid.UUID) (*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matches := r.sorted(func(c *domain.Conversation) bool {
		return c.Type == domain.ConversationPrivate && c.HasParticipant(a) && c.HasParticipant(b)
	})
	if len(matches) == 0 {
		return nil, domain.ErrNotFound
	}
	return matches[0], nil
}

func (r *Conversations) ListForUser(_ context.Context, userID uuid.UUID) ([]*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.sorted(func(c *domain.Conversation) bool { return c.HasParticipant(userID) })
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity().After(out[j].LastActivity())
	})
	return out, nil
}

func (r *Conversations) ListGroupsByName(_ context.Context, memberID uuid.UUID, name string) ([]*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(func(c *domain.Conversation) bool {
		return c.Type == domain.ConversationGroup && c.DisplayName() == name && c.HasParticipant(memberID)
	}), nil
}

func (r *Conversations) ListConversationIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []uuid.UUID
	for _, c := range r.sorted(func(c *domain.Conversation) bool { return c.HasParticipant(userID) }) {
		ids = append(ids, c.ConversationID)
	}
	return ids, nil
}

func (r *Conversations) AddParticipant(_ context.Context, p *domain.ConversationParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[p.ConversationID]
	if !ok {
		return domain.ErrNotFound
	}
	if c.HasParticipant(p.UserID) || (p.Role == domain.RoleCreator && c.Creator() != uuid.Nil) {
		return domain.ErrDuplicate
	}
	pc := *p
	c.Participants = append(c.Participants, &pc)
	return nil
}

func (r *Conversations) RemoveParticipant(_ context.Context, conversationID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return domain.ErrNotFound
	}
	for i, p := range c.Participants {
		if p.UserID == userID && p.Role != domain.RoleCreator {
			c.Participants = append(c.Participants[:i], c.Participants[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *Conversations) UpdateRole(_ context.Context, conversationID, userID uuid.UUID, role domain.ParticipantRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return domain.ErrNotFound
	}
	p, ok := c.Participant(userID)
	if !ok || p.Role == domain.RoleCreator {
		return domain.ErrNotFound
	}
	p.Role = role
	return nil
}

func (r *Conversations) UpdateInfo(_ context.Context, conversationID uuid.UUID, name, pictureURL *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return domain.ErrNotFound
	}
	if name != nil {
		n := *name
		c.Name = &n
	}
	if pictureURL != nil {
		u := *pictureURL
		c.PictureURL = &u
	}
	return nil
}

func (r *Conversations) TouchActivity(_ context.Context, conversationID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return nil
	}
	if c.LastMessageAt == nil || c.LastMessageAt.Before(at) {
		t := at
		c.LastMessageAt = &t
	}
	return nil
}

func (r *Conversations) Delete(_ context.Context, conversationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[conversationID]; !ok {
		return domain.ErrNotFound
	}
	delete(r.conversations, conversationID)
	return nil
}

// Messages is an append-only log per conversation
type Messages struct {
	mu       sync.RWMutex
	messages map[uuid.UUID][]*domain.Message
}

func NewMessages() *Messages {
	return &Messages{messages: make(map[uuid.UUID][]*domain.Message)}
}

func (r *Messages) Save(_ context.Context, message *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	message.Bucket = domain.CalculateBucket(message.SentAt)
	cp := *message
	r.messages[message.ConversationID] = append(r.messages[message.ConversationID], &cp)
	return nil
}

// All returns a conversation's messages in append order
func (r *Messages) All(conversationID uuid.UUID) []*domain.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Message, 0, len(r.messages[conversationID]))
	for _, m := range r.messages[conversationID] {
		cp := *m
		out = append(out, &cp)
	}
	return out
}

func (r *Messages) GetLatest(_ context.Context, conversationID uuid.UUID, floor time.Time, limit int) ([]*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	log := r.messages[conversationID]
	var out []*domain.Message
	for i := len(log) - 1; i >= 0 && len(out) < limit; i-- {
		if log[i].SentAt.Before(floor) {
			break
		}
		cp := *log[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (r *Messages) unread(conversationID, readerID uuid.UUID, since time.Time) []*domain.Message {
	var out []*domain.Message
	for _, m := range r.messages[conversationID] {
		if !m.IsRead && m.SenderID != readerID && !m.SentAt.Before(since) {
			out = append(out, m)
		}
	}
	return out
}

func (r *Messages) CountUnread(_ context.Context, conversationID, readerID uuid.UUID, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.unread(conversationID, readerID, since)), nil
}

func (r *Messages) MarkRead(_ context.Context, conversationID, readerID uuid.UUID, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	unread := r.unread(conversationID, readerID, since)
	for _, m := range unread {
		m.IsRead = true
	}
	return len(unread), nil
}

func (r *Messages) DeleteConversation(_ context.Context, conversationID uuid.UUID, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, conversationID)
	return nil
}

// Requests enforces one pending request per (requester, receiver, type, group name)
type Requests struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*domain.ConversationRequest
}

func NewRequests() *Requests {
	return &Requests{requests: make(map[uuid.UUID]*domain.ConversationRequest)}
}

func cloneRequest(req *domain.ConversationRequest) *domain.ConversationRequest {
	cp := *req
	cp.AdditionalUserIDs = append([]uuid.UUID(nil), req.AdditionalUserIDs...)
	return &cp
}

func samePending(a, b *domain.ConversationRequest) bool {
	return a.Status == domain.RequestPending &&
		a.RequesterID == b.RequesterID &&
		a.ReceiverID == b.ReceiverID &&
		a.Type == b.Type &&
		a.GroupNameValue() == b.GroupNameValue()
}

func (r *Requests) Create(_ context.Context, req *domain.ConversationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.requests {
		if samePending(existing, req) {
			return domain.ErrDuplicate
		}
	}
	r.requests[req.RequestID] = cloneRequest(req)
	return nil
}

func (r *Requests) GetByID(_ context.Context, requestID uuid.UUID) (*domain.ConversationRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[requestID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRequest(req), nil
}

func (r *Requests) FindPending(_ context.Context, requesterID, receiverID uuid.UUID, convType domain.ConversationType, groupName string) (*domain.ConversationRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := &domain.ConversationRequest{RequesterID: requesterID, ReceiverID: receiverID, Type: convType}
	if groupName != "" {
		want.GroupName = &groupName
	}
	for _, req := range r.requests {
		if samePending(req, want) {
			return cloneRequest(req), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *Requests) Resolve(_ context.Context, requestID uuid.UUID, status domain.RequestStatus, respondedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok || req.Status != domain.RequestPending {
		return domain.ErrStaleState
	}
	req.Status = status
	req.RespondedAt = &respondedAt
	return nil
}

func (r *Requests) DeletePending(_ context.Context, requestID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok || req.Status != domain.RequestPending {
		return domain.ErrStaleState
	}
	delete(r.requests, requestID)
	return nil
}

func (r *Requests) list(keep func(*domain.ConversationRequest) bool) []*domain.ConversationRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.ConversationRequest
	for _, req := range r.requests {
		if keep(req) {
			out = append(out, cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out
}

func (r *Requests) ListIncomingPending(_ context.Context, userID uuid.UUID) ([]*domain.ConversationRequest, error) {
	return r.list(func(req *domain.ConversationRequest) bool {
		return req.ReceiverID == userID && req.Status == domain.RequestPending
	}), nil
}

func (r *Requests) ListOutgoingPending(_ context.Context, userID uuid.UUID) ([]*domain.ConversationRequest, error) {
	return r.list(func(req *domain.ConversationRequest) bool {
		return req.RequesterID == userID && req.Status == domain.RequestPending
	}), nil
}
