package ws

import (
	"sync"

	"github.com/google/uuid"
)

// Broadcast group names. Every connection is in everyoneGroup and in the
// group of its own user.
const everyoneGroup = "everyone"

func userGroup(userID uuid.UUID) string {
	return "user:" + userID.String()
}

func conversationGroup(conversationID uuid.UUID) string {
	return "conversation:" + conversationID.String()
}

// Registry tracks live connections of this instance by id, by user and by
// broadcast group. Lookups of removed connections simply find nothing.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	users   map[uuid.UUID]map[string]*Client
	groups  map[string]map[string]*Client
	joined  map[string]map[string]struct{} // connection id -> groups
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		users:   make(map[uuid.UUID]map[string]*Client),
		groups:  make(map[string]map[string]*Client),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Add registers a connection and returns how many this user now has here
func (r *Registry) Add(c *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[c.id] = c
	conns, ok := r.users[c.userID]
	if !ok {
		conns = make(map[string]*Client)
		r.users[c.userID] = conns
	}
	conns[c.id] = c
	r.joined[c.id] = make(map[string]struct{})
	return len(conns)
}

// Remove drops a connection from every map and returns how many connections
// its user still has here. Removing twice is a no-op reporting false.
func (r *Registry) Remove(connID string) (remaining int, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[connID]
	if !ok {
		return 0, false
	}
	delete(r.clients, connID)

	for group := range r.joined[connID] {
		r.leaveLocked(connID, group)
	}
	delete(r.joined, connID)

	conns := r.users[c.userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.users, c.userID)
	}
	return len(conns), true
}

// Join subscribes a connection to a group; false if the connection is gone
func (r *Registry) Join(connID, group string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[connID]
	if !ok {
		return false
	}
	members, ok := r.groups[group]
	if !ok {
		members = make(map[string]*Client)
		r.groups[group] = members
	}
	members[connID] = c
	r.joined[connID][group] = struct{}{}
	return true
}

// Leave unsubscribes a connection from a group
func (r *Registry) Leave(connID, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, group)
}

func (r *Registry) leaveLocked(connID, group string) {
	if members, ok := r.groups[group]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.groups, group)
		}
	}
	if groups, ok := r.joined[connID]; ok {
		delete(groups, group)
	}
}

// Members returns the connections of a group, minus exclude
func (r *Registry) Members(group, exclude string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.groups[group]
	out := make([]*Client, 0, len(members))
	for id, c := range members {
		if id != exclude {
			out = append(out, c)
		}
	}
	return out
}

// InGroup reports whether a connection is subscribed to a group
func (r *Registry) InGroup(connID, group string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[group][connID]
	return ok
}

func (r *Registry) Lookup(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// UserIDs lists users with at least one connection here
func (r *Registry) UserIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
