package hub

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/alumni-chat/internal/audit"
	"github.com/weiawesome/alumni-chat/internal/config"
	"github.com/weiawesome/alumni-chat/internal/metrics"
	"github.com/weiawesome/alumni-chat/pkg/log"
)

// SessionObserver is told when an identity gains or loses a local session.
// Each client produces exactly one opened and at most one closed call.
type SessionObserver interface {
	SessionOpened(ctx context.Context, userID string)
	SessionClosed(ctx context.Context, userID string)
}

// Hub tracks the live sessions held by this instance.
type Hub struct {
	clients     map[string]*Client            // clientID -> client
	userClients map[string]map[string]*Client // userID -> clientID -> client
	unregister  chan *Client
	observer    SessionObserver
	mu          sync.RWMutex
	config      config.WebSocketConfig
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		userClients: make(map[string]map[string]*Client),
		unregister:  make(chan *Client, 64),
		config:      cfg,
	}
}

// SetObserver must be called before the first Register.
func (h *Hub) SetObserver(o SessionObserver) {
	h.observer = o
}

// Run processes asynchronous removals (slow clients) until ctx is done,
// then closes every remaining session.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case client := <-h.unregister:
			h.Unregister(client)
		}
	}
}

// Register adds an authenticated client.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	set, ok := h.userClients[client.UserID]
	if !ok {
		set = make(map[string]*Client)
		h.userClients[client.UserID] = set
	}
	set[client.ID] = client
	h.updateGauges()
	h.mu.Unlock()

	l := log.L()
	l.Debug().Str(log.FieldClientID, client.ID).Str(log.FieldUserID, client.UserID).Msg("client registered")

	if h.observer != nil {
		h.observer.SessionOpened(context.Background(), client.UserID)
	}
}

// Unregister removes a client and closes its send queue. It reports
// whether the client was present; repeated calls are no-ops.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, client.ID)
	if set, ok := h.userClients[client.UserID]; ok {
		delete(set, client.ID)
		if len(set) == 0 {
			delete(h.userClients, client.UserID)
		}
	}
	h.updateGauges()
	h.mu.Unlock()

	client.closeSend()

	audit.Log(context.Background(), audit.ActionSessionClosed, client.UserID, client.ID, "live session closed")

	if h.observer != nil {
		h.observer.SessionClosed(context.Background(), client.UserID)
	}
	return true
}

// SendToUser queues data on every local session of userID and returns how
// many sessions accepted it. A session whose queue is full is dropped.
func (h *Hub) SendToUser(userID string, data []byte) int {
	h.mu.RLock()
	set := h.userClients[userID]
	targets := make([]*Client, 0, len(set))
	for _, c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		switch c.enqueue(data) {
		case enqueueOK:
			delivered++
		case enqueueFull:
			metrics.SlowClientsDropped.Inc()
			l := log.L()
			l.Warn().Str(log.FieldClientID, c.ID).Str(log.FieldUserID, userID).Msg("send buffer full, dropping client")
			h.removeClient(c)
		}
	}
	return delivered
}

// HasUser reports whether userID has a session on this instance.
func (h *Hub) HasUser(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients[userID]) > 0
}

// UserClients returns the local sessions of userID.
func (h *Hub) UserClients(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.userClients[userID]))
	for _, c := range h.userClients[userID] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients)
}

// Shutdown closes every session with a going-away frame.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.CloseWith(websocket.CloseGoingAway, "server shutting down")
		h.Unregister(c)
	}
}

func (h *Hub) removeClient(client *Client) {
	select {
	case h.unregister <- client:
	default:
		go h.Unregister(client)
	}
}

// updateGauges must be called with mu held.
func (h *Hub) updateGauges() {
	metrics.ActiveSessions.Set(float64(len(h.clients)))
	metrics.OnlineUsers.Set(float64(len(h.userClients)))
}
