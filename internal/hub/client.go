package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/alumni-chat/internal/audit"
	"github.com/weiawesome/alumni-chat/internal/config"
	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/internal/metrics"
	"github.com/weiawesome/alumni-chat/pkg/log"
)

type enqueueResult int

const (
	enqueueOK enqueueResult = iota
	enqueueFull
	enqueueClosed
)

type Client struct {
	ID      string
	UserID  string
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	Session *domain.ChannelSession
	config  config.WebSocketConfig

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, session *domain.ChannelSession, cfg config.WebSocketConfig) *Client {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	return &Client{
		ID:      session.ID,
		UserID:  session.UserID,
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, buf),
		Session: session,
		config:  cfg,
	}
}

// ReadPump reads frames until the connection fails, then unregisters.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	if c.config.MaxMessageSize > 0 {
		c.Conn.SetReadLimit(c.config.MaxMessageSize)
	}
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				l := log.L()
				l.Debug().Err(err).Str(log.FieldClientID, c.ID).Msg("websocket read error")
			}
			return
		}

		c.Session.UpdateActivity()
		handler(c, message)
	}
}

// WritePump drains Send. The credential expiry is re-checked before every
// write and on every ping tick; an expired session is told why and closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if c.expireIfDue() {
				return
			}

			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if c.expireIfDue() {
				return
			}
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) expireIfDue() bool {
	if !c.Session.Expired(time.Now()) {
		return false
	}

	metrics.AuthFailures.WithLabelValues(domain.ErrCodeTokenExpired).Inc()
	audit.Log(context.Background(), audit.ActionForceDisconnect, c.UserID, c.ID, "session credential expired")

	if data, err := json.Marshal(domain.NewAuthErrorMessage(domain.ErrCodeTokenExpired, "session expired, please sign in again")); err == nil {
		c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
		c.Conn.WriteMessage(websocket.TextMessage, data)
	}
	c.CloseWith(websocket.ClosePolicyViolation, "credential expired")
	return true
}

// SendMessage queues a JSON-encoded message for this client only.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if c.enqueue(data) == enqueueFull {
		metrics.SlowClientsDropped.Inc()
		c.Hub.removeClient(c)
	}
	return nil
}

// CloseWith sends a close frame and closes the connection. Safe to call
// from any goroutine.
func (c *Client) CloseWith(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(c.config.WriteWait)
		c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		c.Conn.Close()
	})
}

func (c *Client) enqueue(data []byte) enqueueResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return enqueueClosed
	}
	select {
	case c.Send <- data:
		return enqueueOK
	default:
		return enqueueFull
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
