package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay-backend/pkg/config"
)

func testHubConfig() config.HubConfig {
	return config.HubConfig{
		SendBuffer:     16,
		PingInterval:   50 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

func bareClient(userID uuid.UUID) *Client {
	h := &Hub{cfg: testHubConfig()}
	return newClient(h, nil, userID, "user")
}

func TestRegistry_GroupsAndRemoval(t *testing.T) {
	r := NewRegistry()
	user := uuid.New()
	a, b := bareClient(user), bareClient(user)
	other := bareClient(uuid.New())

	assert.Equal(t, 1, r.Add(a))
	assert.Equal(t, 2, r.Add(b))
	assert.Equal(t, 1, r.Add(other))

	group := conversationGroup(uuid.New())
	require.True(t, r.Join(a.id, group))
	require.True(t, r.Join(other.id, group))

	assert.ElementsMatch(t, []*Client{a, other}, r.Members(group, ""))
	assert.ElementsMatch(t, []*Client{other}, r.Members(group, a.id))
	assert.True(t, r.InGroup(a.id, group))
	assert.False(t, r.InGroup(b.id, group))

	remaining, removed := r.Remove(a.id)
	assert.True(t, removed)
	assert.Equal(t, 1, remaining)
	assert.ElementsMatch(t, []*Client{other}, r.Members(group, ""))

	_, removed = r.Remove(a.id)
	assert.False(t, removed, "second removal is a no-op")
	assert.False(t, r.Join(a.id, group), "removed connections cannot join")
	_, ok := r.Lookup(a.id)
	assert.False(t, ok)

	r.Leave(other.id, group)
	assert.Empty(t, r.Members(group, ""))
	assert.NotContains(t, r.groups, group, "empty groups are dropped")

	remaining, _ = r.Remove(b.id)
	assert.Equal(t, 0, remaining)
	assert.ElementsMatch(t, []uuid.UUID{other.userID}, r.UserIDs())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	r := NewRegistry()
	group := everyoneGroup

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		c := bareClient(uuid.New())
		go func() {
			defer wg.Done()
			r.Add(c)
			r.Join(c.id, group)
			r.Join(c.id, userGroup(c.userID))
			r.Remove(c.id)
		}()
		go func() {
			defer wg.Done()
			for _, m := range r.Members(group, "") {
				m.trySend([]byte("{}"), "test")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.groups)
	assert.Empty(t, r.users)
	assert.Empty(t, r.joined)
}

func TestClient_TrySendDropsWhenFull(t *testing.T) {
	h := &Hub{cfg: testHubConfig()}
	h.cfg.SendBuffer = 1
	c := newClient(h, nil, uuid.New(), "user")

	assert.True(t, c.trySend([]byte("1"), "test"))
	assert.False(t, c.trySend([]byte("2"), "test"), "full buffer drops instead of blocking")

	c.close()
	c.close()
	assert.False(t, c.trySend([]byte("3"), "test"))
}
