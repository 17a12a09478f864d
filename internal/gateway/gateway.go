package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/alumni-chat/internal/audit"
	"github.com/weiawesome/alumni-chat/internal/config"
	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/internal/hub"
	"github.com/weiawesome/alumni-chat/internal/metrics"
	pkgjwt "github.com/weiawesome/alumni-chat/pkg/jwt"
	"github.com/weiawesome/alumni-chat/pkg/log"
	"github.com/weiawesome/alumni-chat/pkg/pubsub"
)

// Sender delivers a live event to every session of an identity, on
// whichever instance holds them. Delivery is best effort.
type Sender interface {
	SendToUser(ctx context.Context, userID string, event interface{}) error
}

// TokenValidator validates bearer credentials.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*pkgjwt.Claims, error)
}

// Gateway authenticates live connections and routes events to them.
type Gateway struct {
	hub        *hub.Hub
	validator  TokenValidator
	bus        pubsub.PubSub
	instanceID string
	wsCfg      config.WebSocketConfig
}

func New(h *hub.Hub, validator TokenValidator, bus pubsub.PubSub, instanceID string, wsCfg config.WebSocketConfig) *Gateway {
	return &Gateway{
		hub:        h,
		validator:  validator,
		bus:        bus,
		instanceID: instanceID,
		wsCfg:      wsCfg,
	}
}

// Connect validates token and registers conn as a session of its identity.
// On a bad credential the client receives auth_error and a policy-violation
// close; the returned error wraps domain.ErrAuthentication.
func (g *Gateway) Connect(ctx context.Context, token string, conn *websocket.Conn) (*hub.Client, error) {
	claims, code, err := g.authenticate(ctx, token)
	if err != nil {
		metrics.AuthFailures.WithLabelValues(code).Inc()
		audit.LogWithDetail(ctx, audit.ActionAuthFailed, "", "", code, "live channel credential rejected")
		g.reject(conn, code)
		return nil, err
	}

	session := domain.NewChannelSession(uuid.NewString(), claims.UserID, claims.Username, claims.Roles, claims.Expiry())
	client := hub.NewClient(g.hub, conn, session, g.wsCfg)
	g.hub.Register(client)

	audit.Log(ctx, audit.ActionSessionOpened, claims.UserID, client.ID, "live session opened")
	return client, nil
}

// Disconnect closes the client's session. Calling it twice is harmless.
func (g *Gateway) Disconnect(ctx context.Context, client *hub.Client) {
	client.CloseWith(websocket.CloseNormalClosure, "")
	g.hub.Unregister(client)
}

func (g *Gateway) authenticate(ctx context.Context, token string) (*pkgjwt.Claims, string, error) {
	if token == "" {
		return nil, domain.ErrCodeUnauthorized, fmt.Errorf("%w: missing token", domain.ErrAuthentication)
	}
	claims, err := g.validator.ValidateToken(ctx, token)
	if err == nil {
		return claims, "", nil
	}
	switch {
	case errors.Is(err, pkgjwt.ErrExpiredToken):
		return nil, domain.ErrCodeTokenExpired, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	case errors.Is(err, pkgjwt.ErrRevokedToken):
		return nil, domain.ErrCodeTokenRevoked, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	case errors.Is(err, pkgjwt.ErrInvalidToken):
		return nil, domain.ErrCodeUnauthorized, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	default:
		// Revocation lookup failed; refuse rather than admit unchecked.
		return nil, domain.ErrCodeUnauthorized, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
}

func (g *Gateway) reject(conn *websocket.Conn, code string) {
	deadline := time.Now().Add(g.wsCfg.WriteWait)
	if data, err := json.Marshal(domain.NewAuthErrorMessage(code, "authentication failed")); err == nil {
		conn.SetWriteDeadline(deadline)
		conn.WriteMessage(websocket.TextMessage, data)
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), deadline)
	conn.Close()
}

// SendToUser publishes event on the identity's channel. Every instance
// receives it and writes it to the sessions it holds.
func (g *Gateway) SendToUser(ctx context.Context, userID string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	var base domain.BaseMessage
	_ = json.Unmarshal(data, &base)

	ev := &pubsub.Event{
		Type:      base.Type,
		UserID:    userID,
		Payload:   data,
		Origin:    g.instanceID,
		Timestamp: time.Now(),
	}
	if err := g.bus.Publish(ctx, pubsub.UserEventsChannel(userID), ev); err != nil {
		return fmt.Errorf("publish to %s: %w", userID, err)
	}
	return nil
}

// Run consumes the per-user event pattern until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	events, err := g.bus.SubscribePattern(ctx, pubsub.ChannelUserEventsPattern)
	if err != nil {
		return fmt.Errorf("subscribe user events: %w", err)
	}

	l := log.L()
	l.Info().Str(log.FieldInstanceID, g.instanceID).Msg("gateway event loop started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("user events subscription closed")
			}
			g.deliver(ev)
		}
	}
}

func (g *Gateway) deliver(ev *pubsub.Event) {
	if ev == nil || ev.UserID == "" {
		return
	}
	if n := g.hub.SendToUser(ev.UserID, ev.Payload); n > 0 {
		metrics.EventsDelivered.WithLabelValues(ev.Type).Add(float64(n))
	}
}

// Hub exposes the local session registry.
func (g *Gateway) Hub() *hub.Hub { return g.hub }

var _ Sender = (*Gateway)(nil)
