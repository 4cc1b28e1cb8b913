package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"roomchat/internal/logger"
	"roomchat/internal/metrics"
	"roomchat/internal/presence"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrNoSession is returned by Push when the user has no session on this node.
var ErrNoSession = errors.New("no live session on this node")

const presenceTimeout = 5 * time.Second

// UserFeed streams events addressed to a user from other nodes. The returned
// cancel stops the stream.
type UserFeed interface {
	Subscribe(userID uuid.UUID) (<-chan []byte, func(), error)
}

type Hub struct {
	// Registered clients: UserID -> SessionID -> Client
	clients map[uuid.UUID]map[string]*Client

	Register   chan *Client
	Unregister chan *Client

	registry presence.Registry
	feed     UserFeed
	handler  CommandHandler
	nodeID   string
	// 0 disables refresh; TTL-based registries need it below their TTL
	refreshEvery time.Duration
	upgrader websocket.Upgrader

	// feed subscriptions: UserID -> cancel
	consumers map[uuid.UUID]func()

	done     chan struct{}
	doneOnce sync.Once

	mu sync.RWMutex
}

func NewHub(registry presence.Registry, feed UserFeed, nodeID string) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		registry:   registry,
		feed:       feed,
		nodeID:     nodeID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		consumers: make(map[uuid.UUID]func()),
		done:      make(chan struct{}),
	}
}

// SetHandler installs the command handler. Call before Run.
func (h *Hub) SetHandler(handler CommandHandler) {
	h.handler = handler
}

// SetPresenceRefresh makes Run re-register every live session each interval.
// Call before Run.
func (h *Hub) SetPresenceRefresh(interval time.Duration) {
	h.refreshEvery = interval
}

// Run serves registrations until ctx ends, then drops every session.
func (h *Hub) Run(ctx context.Context) {
	var refresh <-chan time.Time
	if h.refreshEvery > 0 {
		ticker := time.NewTicker(h.refreshEvery)
		defer ticker.Stop()
		refresh = ticker.C
	}
	for {
		select {
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case <-refresh:
			h.refreshPresence()
		case <-ctx.Done():
			h.doneOnce.Do(func() { close(h.done) })
			h.shutdown()
			return
		}
	}
}

func (h *Hub) register(client *Client) {
	client.connectedAt = time.Now()
	h.mu.Lock()
	sessions, ok := h.clients[client.UserID]
	if !ok {
		sessions = make(map[string]*Client)
		h.clients[client.UserID] = sessions
		h.subscribeLocked(client.UserID)
	}
	sessions[client.ID] = client
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.registry.Register(ctx, h.sessionOf(client)); err != nil {
		logger.Error("session_register_failed", "user_id", client.UserID, "session_id", client.ID, "error", err)
	}
	metrics.ActiveSessions.Inc()
	logger.Info("client_registered", "user_id", client.UserID, "session_id", client.ID)
}

func (h *Hub) sessionOf(client *Client) presence.Session {
	return presence.Session{
		ID:          client.ID,
		UserID:      client.UserID,
		NodeID:      h.nodeID,
		ConnectedAt: client.connectedAt,
	}
}

// refreshPresence re-registers local sessions so registry entries with a TTL
// outlive long connections. It runs on the Run goroutine, so a session
// unregistered there is never refreshed back.
func (h *Hub) refreshPresence() {
	h.mu.RLock()
	var live []*Client
	for _, sessions := range h.clients {
		for _, c := range sessions {
			live = append(live, c)
		}
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	for _, c := range live {
		if err := h.registry.Register(ctx, h.sessionOf(c)); err != nil {
			logger.Warn("session_refresh_failed", "user_id", c.UserID, "session_id", c.ID, "error", err)
		}
	}
	logger.Debug("presence_refreshed", "sessions", len(live))
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	stop := h.removeLocked(client)
	h.mu.Unlock()
	if stop != nil {
		stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.registry.Unregister(ctx, client.ID); err != nil {
		logger.Error("session_unregister_failed", "user_id", client.UserID, "session_id", client.ID, "error", err)
	}
	metrics.ActiveSessions.Dec()
	logger.Info("client_unregistered", "user_id", client.UserID, "session_id", client.ID)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	var stops []func()
	var all []*Client
	for _, sessions := range h.clients {
		for _, c := range sessions {
			all = append(all, c)
		}
	}
	for _, c := range all {
		if stop := h.removeLocked(c); stop != nil {
			stops = append(stops, stop)
		}
	}
	h.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	for _, c := range all {
		if err := h.registry.Unregister(ctx, c.ID); err != nil {
			logger.Warn("session_unregister_failed", "session_id", c.ID, "error", err)
		}
	}
}

// removeLocked drops client and closes its send channel. It returns the feed
// cancel to run after unlocking when the user has no sessions left.
func (h *Hub) removeLocked(client *Client) func() {
	sessions, ok := h.clients[client.UserID]
	if !ok {
		return nil
	}
	if cur, ok := sessions[client.ID]; ok && cur == client {
		delete(sessions, client.ID)
		close(client.Send)
	}
	if len(sessions) > 0 {
		return nil
	}
	delete(h.clients, client.UserID)
	stop := h.consumers[client.UserID]
	delete(h.consumers, client.UserID)
	return stop
}

func (h *Hub) subscribeLocked(userID uuid.UUID) {
	if h.feed == nil {
		return
	}
	msgs, cancel, err := h.feed.Subscribe(userID)
	if err != nil {
		logger.Error("user_feed_subscribe_failed", "user_id", userID, "error", err)
		return
	}
	h.consumers[userID] = cancel
	go func() {
		for data := range msgs {
			if err := h.deliverLocal(userID, data); err != nil {
				logger.Debug("user_feed_undelivered", "user_id", userID, "error", err)
			}
		}
	}()
}

// Push hands data to every local session of userID.
func (h *Hub) Push(ctx context.Context, userID uuid.UUID, data []byte) error {
	return h.deliverLocal(userID, data)
}

func (h *Hub) deliverLocal(userID uuid.UUID, data []byte) error {
	var stops []func()
	defer func() {
		for _, stop := range stops {
			stop()
		}
	}()

	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, ok := h.clients[userID]
	if !ok {
		return ErrNoSession
	}
	delivered := 0
	for _, client := range sessions {
		select {
		case client.Send <- data:
			delivered++
		default:
			// slow consumer; its pumps wind down once Send is closed
			logger.Warn("client_send_buffer_full", "user_id", userID, "session_id", client.ID)
			if stop := h.removeLocked(client); stop != nil {
				stops = append(stops, stop)
			}
		}
	}
	if delivered == 0 {
		return ErrNoSession
	}
	return nil
}

// SessionCount returns how many sessions userID holds on this node.
func (h *Hub) SessionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// ServeWS upgrades the request and attaches a session for userID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "user_id", userID, "error", err)
		return
	}
	client := &Client{
		Hub:    h,
		Conn:   conn,
		ID:     uuid.NewString(),
		UserID: userID,
		Send:   make(chan []byte, sendBuffer),
	}
	select {
	case h.Register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
