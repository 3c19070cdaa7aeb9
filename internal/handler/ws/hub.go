// Package ws is the realtime hub: live connections, presence, broadcast groups
// and client commands over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatrelay-backend/internal/domain"
	"chatrelay-backend/pkg/config"
	apperrors "chatrelay-backend/pkg/errors"
	"chatrelay-backend/pkg/jwt"
	"chatrelay-backend/pkg/logger"
	"chatrelay-backend/pkg/metrics"
	"chatrelay-backend/pkg/response"
)

const (
	// commandTimeout bounds one client command, AI reply included
	commandTimeout = 30 * time.Second
	// presenceRefreshInterval keeps presence counters of live users from expiring
	presenceRefreshInterval = time.Minute
	resubscribeDelay        = 5 * time.Second
)

// Conversations is the part of the conversation core the hub drives
type Conversations interface {
	GetUserConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	IsUserInConversation(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	SendMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) ([]*domain.Message, error)
	GetParticipantIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
	AIUserID() uuid.UUID
}

// Requests resolves conversation requests answered over the socket
type Requests interface {
	RespondToRequest(ctx context.Context, requestID, actingUserID uuid.UUID, accepted bool) (*domain.RequestResolution, error)
}

// PresenceTracker counts connections per user across instances
type PresenceTracker interface {
	Connect(ctx context.Context, userID uuid.UUID) (int64, error)
	Disconnect(ctx context.Context, userID uuid.UUID) (int64, error)
	Refresh(ctx context.Context, userID uuid.UUID) error
}

// PresenceStore persists the online flag and last-seen time
type PresenceStore interface {
	SetPresence(ctx context.Context, userID uuid.UUID, online bool, lastSeen time.Time) error
}

// Fanout relays frames to every hub instance, this one included
type Fanout interface {
	Publish(ctx context.Context, group string, frame []byte) error
	Subscribe(ctx context.Context, handle func(group string, frame []byte)) error
}

type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message string, notificationType domain.NotificationType)
}

// Dependencies wires the hub. Presence, Fanout and Notifier may be nil; without
// Fanout every frame is delivered on this instance only.
type Dependencies struct {
	Conversations Conversations
	Requests      Requests
	Presence      PresenceTracker
	Users         PresenceStore
	Fanout        Fanout
	Notifier      Notifier
	Tokens        *jwt.JWTManager
}

// envelope is what travels between instances
type envelope struct {
	Exclude string          `json:"exclude,omitempty"`
	Join    string          `json:"join,omitempty"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Hub owns the connections of this instance
type Hub struct {
	registry      *Registry
	conversations Conversations
	requests      Requests
	presence      PresenceTracker
	users         PresenceStore
	fanout        Fanout
	notifier      Notifier
	tokens        *jwt.JWTManager

	cfg      config.HubConfig
	upgrader websocket.Upgrader
	now      func() time.Time
}

func NewHub(deps Dependencies, cfg config.HubConfig) *Hub {
	h := &Hub{
		registry:      NewRegistry(),
		conversations: deps.Conversations,
		requests:      deps.Requests,
		presence:      deps.Presence,
		users:         deps.Users,
		fanout:        deps.Fanout,
		notifier:      deps.Notifier,
		tokens:        deps.Tokens,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin allows any origin unless WS_ALLOWED_ORIGINS is set
func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// tokenFromRequest reads the session token from the Authorization header or,
// for browsers that cannot set headers on a WebSocket, the token query param
func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}

// ServeWS authenticates and upgrades a connection. The token is checked once here.
func (h *Hub) ServeWS(c *gin.Context) {
	token := tokenFromRequest(c.Request)
	if token == "" {
		metrics.HubConnectionTotal.WithLabelValues("unauthorized").Inc()
		response.Unauthorized(c, "Missing session token")
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		metrics.HubConnectionTotal.WithLabelValues("unauthorized").Inc()
		response.Unauthorized(c, "Invalid session token")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		metrics.HubConnectionTotal.WithLabelValues("upgrade_failed").Inc()
		logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	metrics.HubConnectionTotal.WithLabelValues("accepted").Inc()

	name := claims.DisplayName
	if name == "" {
		name = claims.Username
	}
	client := newClient(h, conn, claims.UserID, name)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	h.connect(ctx, client)
	cancel()

	go client.writePump()
	go client.readPump()
}

// connect registers the client, subscribes it to its groups and announces the
// user when this is their first connection anywhere
func (h *Hub) connect(ctx context.Context, c *Client) {
	local := h.registry.Add(c)
	metrics.HubConnections.Inc()

	h.registry.Join(c.id, everyoneGroup)
	h.registry.Join(c.id, userGroup(c.userID))

	ids, err := h.conversations.GetUserConversationIDs(ctx, c.userID)
	if err != nil {
		logger.Warn("Failed to load conversations for connection",
			zap.String("user_id", c.userID.String()),
			zap.Error(err))
	}
	for _, id := range ids {
		h.registry.Join(c.id, conversationGroup(id))
	}

	count := int64(local)
	if h.presence != nil {
		if n, err := h.presence.Connect(ctx, c.userID); err != nil {
			logger.Warn("Presence tracker unavailable, using local count",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
		} else {
			count = n
		}
	}

	logger.Info("Client connected",
		zap.String("conn_id", c.id),
		zap.String("user_id", c.userID.String()),
		zap.Int64("connections", count))

	if count == 1 {
		h.announcePresence(ctx, c, true)
	}
}

// disconnect unregisters the client; the last connection of a user marks them offline
func (h *Hub) disconnect(c *Client, reason string) {
	local, removed := h.registry.Remove(c.id)
	if !removed {
		return
	}
	metrics.HubConnections.Dec()
	metrics.HubDisconnectionTotal.WithLabelValues(reason).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	remaining := int64(local)
	if h.presence != nil {
		if n, err := h.presence.Disconnect(ctx, c.userID); err != nil {
			logger.Warn("Presence tracker unavailable, using local count",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
		} else {
			remaining = n
		}
	}

	logger.Info("Client disconnected",
		zap.String("conn_id", c.id),
		zap.String("user_id", c.userID.String()),
		zap.String("reason", reason))

	if remaining <= 0 {
		h.announcePresence(ctx, c, false)
	}
}

func (h *Hub) announcePresence(ctx context.Context, c *Client, online bool) {
	seen := h.now()
	if h.users != nil {
		if err := h.users.SetPresence(ctx, c.userID, online, seen); err != nil {
			logger.Warn("Failed to persist presence",
				zap.String("user_id", c.userID.String()),
				zap.Bool("online", online),
				zap.Error(err))
		}
	}
	h.publish(ctx, everyoneGroup, c.id, "", domain.PresencePayload{
		UserID:   c.userID,
		Name:     c.name,
		Online:   online,
		LastSeen: seen,
	})
}

// PushToUser delivers an event to every live connection of userID
func (h *Hub) PushToUser(ctx context.Context, userID uuid.UUID, payload domain.EventPayload) {
	h.publish(ctx, userGroup(userID), "", "", payload)
}

// AttachToConversation subscribes the users' live connections to a conversation
func (h *Hub) AttachToConversation(ctx context.Context, conversationID uuid.UUID, userIDs ...uuid.UUID) {
	for _, id := range userIDs {
		h.publish(ctx, userGroup(id), "", conversationGroup(conversationID), nil)
	}
}

// BroadcastToConversation delivers an event to every connection subscribed to the conversation
func (h *Hub) BroadcastToConversation(ctx context.Context, conversationID uuid.UUID, payload domain.EventPayload) {
	h.publish(ctx, conversationGroup(conversationID), "", "", payload)
}

// publish encodes the event once and hands it to the fan-out, or straight to
// local delivery when there is no fan-out or it failed
func (h *Hub) publish(ctx context.Context, group, exclude, join string, payload domain.EventPayload) {
	env := envelope{Exclude: exclude, Join: join}
	if payload != nil {
		data, err := json.Marshal(domain.NewEvent(payload))
		if err != nil {
			metrics.HubEventsDroppedTotal.WithLabelValues("marshal").Inc()
			logger.Error("Failed to encode event", zap.String("event", string(payload.EventType())), zap.Error(err))
			return
		}
		env.Event = string(payload.EventType())
		env.Data = data
	}

	if h.fanout != nil {
		frame, err := json.Marshal(env)
		if err == nil {
			if err = h.fanout.Publish(ctx, group, frame); err == nil {
				metrics.HubPubSubPublishTotal.WithLabelValues("success").Inc()
				return
			}
		}
		metrics.HubPubSubPublishTotal.WithLabelValues("local_fallback").Inc()
		logger.Warn("Fan-out publish failed, delivering locally",
			zap.String("group", group),
			zap.Error(err))
	}
	h.deliver(group, &env)
}

// deliver hands an envelope to the matching connections of this instance
func (h *Hub) deliver(group string, env *envelope) {
	members := h.registry.Members(group, env.Exclude)
	for _, c := range members {
		if env.Join != "" {
			h.registry.Join(c.id, env.Join)
		}
		if len(env.Data) > 0 {
			c.trySend(env.Data, env.Event)
		}
	}
}

// onFanout is the subscription handler for frames from any instance
func (h *Hub) onFanout(group string, frame []byte) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		metrics.HubEventsDroppedTotal.WithLabelValues("decode").Inc()
		logger.Warn("Dropping malformed fan-out frame", zap.String("group", group), zap.Error(err))
		return
	}
	h.deliver(group, &env)
}

// Run keeps the fan-out subscription and presence counters alive until ctx is done
func (h *Hub) Run(ctx context.Context) {
	if h.fanout != nil {
		go h.subscribeLoop(ctx)
	}

	ticker := time.NewTicker(presenceRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.refreshPresence(ctx)
		}
	}
}

func (h *Hub) subscribeLoop(ctx context.Context) {
	for {
		err := h.fanout.Subscribe(ctx, h.onFanout)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Fan-out subscription lost, retrying",
			zap.Duration("delay", resubscribeDelay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (h *Hub) refreshPresence(ctx context.Context) {
	if h.presence == nil {
		return
	}
	for _, id := range h.registry.UserIDs() {
		if err := h.presence.Refresh(ctx, id); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Debug("Presence refresh failed", zap.String("user_id", id.String()), zap.Error(err))
			}
		}
	}
}

// Close disconnects every client of this instance
func (h *Hub) Close() {
	for _, c := range h.registry.Clients() {
		c.close()
	}
}

// sendError reports a failed command to the calling connection only
func (h *Hub) sendError(c *Client, cmd *command, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.Error("Hub command failed",
			zap.String("command", cmd.Type),
			zap.String("user_id", c.userID.String()),
			zap.Error(err))
	}
	h.sendTo(c, domain.ErrorPayload{
		Command: cmd.Type,
		Ref:     cmd.Ref,
		Code:    string(appErr.Code),
		Message: appErr.Message,
	})
}

// sendTo writes an event to one connection, bypassing the fan-out
func (h *Hub) sendTo(c *Client, payload domain.EventPayload) {
	data, err := json.Marshal(domain.NewEvent(payload))
	if err != nil {
		metrics.HubEventsDroppedTotal.WithLabelValues("marshal").Inc()
		return
	}
	c.trySend(data, string(payload.EventType()))
}
