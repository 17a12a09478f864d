package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/alumni-chat/internal/config"
	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/internal/gateway"
	"github.com/weiawesome/alumni-chat/internal/hub"
	"github.com/weiawesome/alumni-chat/internal/service"
	"github.com/weiawesome/alumni-chat/pkg/log"
	"github.com/weiawesome/alumni-chat/pkg/middleware"
)

// OnlinePeerLister lists the online peers of an identity.
type OnlinePeerLister interface {
	OnlinePeers(ctx context.Context, userID string) ([]string, error)
}

type WSHandler struct {
	gateway  *gateway.Gateway
	chat     service.ChatService
	presence OnlinePeerLister
	upgrader websocket.Upgrader
}

func NewWSHandler(gw *gateway.Gateway, chat service.ChatService, presence OnlinePeerLister, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		gateway:  gw,
		chat:     chat,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(wsCfg.AllowedOrigins),
		},
	}
}

// checkOrigin allows any origin when the list is empty or contains "*".
func checkOrigin(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimSuffix(o, "/"))] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades the request and hands the transport to the
// gateway, which authenticates it before anything else is exchanged.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	l := log.Ctx(c.Request.Context())
	token := middleware.ExtractToken(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	// The request context ends when this handler returns; the session
	// outlives it.
	base := log.WithLogger(context.Background(), log.L())
	client, err := h.gateway.Connect(base, token, conn)
	if err != nil {
		l.Info().Err(err).Msg("websocket authentication failed")
		return
	}

	ctx := log.WithLogger(context.Background(), log.L().With().
		Str(log.FieldUserID, client.UserID).
		Str(log.FieldClientID, client.ID).
		Logger())

	go client.WritePump()
	h.sendOnlineSnapshot(ctx, client)
	go func() {
		client.ReadPump(func(c *hub.Client, raw []byte) { h.handleMessage(ctx, c, raw) })
		h.gateway.Disconnect(ctx, client)
	}()
}

func (h *WSHandler) sendOnlineSnapshot(ctx context.Context, client *hub.Client) {
	online, err := h.presence.OnlinePeers(ctx, client.UserID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to build online users snapshot")
		return
	}
	if online == nil {
		online = []string{}
	}
	client.SendMessage(&domain.OnlineUsersOut{Type: domain.MsgTypeOnlineUsers, UserIDs: online})
}

func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, message []byte) {
	// The write pump closes expired sessions; drop anything they send meanwhile.
	if client.Session.Expired(time.Now()) {
		return
	}

	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	switch base.Type {
	case domain.MsgTypeSendMessage:
		var msg domain.SendMessageWS
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid send_message"))
			return
		}
		sent, err := h.chat.SendMessage(ctx, client.UserID, msg.RecipientID, msg.Content, msg.MessageType)
		if err != nil {
			client.SendMessage(wsError(ctx, err))
			return
		}
		client.SendMessage(&domain.MessageSentOut{
			Type:            domain.MsgTypeMessageSent,
			Message:         sent,
			ClientMessageID: msg.ClientMessageID,
		})

	case domain.MsgTypeTyping, domain.MsgTypeStopTyping:
		var msg domain.TypingWS
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid typing message"))
			return
		}
		var err error
		if base.Type == domain.MsgTypeTyping {
			err = h.chat.EmitTyping(ctx, client.UserID, msg.RecipientID)
		} else {
			err = h.chat.EmitStopTyping(ctx, client.UserID, msg.RecipientID)
		}
		if err != nil {
			client.SendMessage(wsError(ctx, err))
		}

	case domain.MsgTypeJoinChat, domain.MsgTypeLeaveChat:
		var msg domain.ChatRoomWS
		if err := json.Unmarshal(message, &msg); err != nil || msg.OtherUserID == "" {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "otherUserId is required"))
			return
		}
		reply := domain.MsgTypeChatJoined
		if base.Type == domain.MsgTypeJoinChat {
			client.Session.JoinChat(msg.OtherUserID)
		} else {
			client.Session.LeaveChat(msg.OtherUserID)
			reply = domain.MsgTypeChatLeft
		}
		client.SendMessage(&domain.ChatRoomOut{Type: reply, OtherUserID: msg.OtherUserID})

	case domain.MsgTypeMarkMessagesRead:
		var msg domain.MarkMessagesReadWS
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid mark_messages_read"))
			return
		}
		if _, err := h.chat.MarkRead(ctx, client.UserID, msg.SenderID); err != nil {
			client.SendMessage(wsError(ctx, err))
		}

	case domain.MsgTypePing:
		client.SendMessage(&domain.BaseMessage{Type: domain.MsgTypePong})

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
	}
}

func wsError(ctx context.Context, err error) *domain.ErrorMessage {
	status, code := errorCode(err)
	if status == http.StatusInternalServerError {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("live channel request failed")
		return domain.NewErrorMessage(code, "Internal error, please retry")
	}
	return domain.NewErrorMessage(code, err.Error())
}
