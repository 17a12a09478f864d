package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/internal/service"
	"github.com/weiawesome/alumni-chat/pkg/log"
	"github.com/weiawesome/alumni-chat/pkg/middleware"
	"github.com/weiawesome/alumni-chat/pkg/response"
)

// PresenceQuerier answers online queries for the presence endpoint.
type PresenceQuerier interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// Handler handles HTTP requests for the chat API.
type Handler struct {
	connections    service.ConnectionService
	chat           service.ChatService
	attachments    service.AttachmentService
	presence       PresenceQuerier
	authMiddleware *middleware.AuthMiddleware
	maxUploadSize  int64
}

// NewHandler creates a new HTTP handler.
func NewHandler(
	connections service.ConnectionService,
	chat service.ChatService,
	attachments service.AttachmentService,
	presence PresenceQuerier,
	authMiddleware *middleware.AuthMiddleware,
	maxUploadSize int64,
) *Handler {
	return &Handler{
		connections:    connections,
		chat:           chat,
		attachments:    attachments,
		presence:       presence,
		authMiddleware: authMiddleware,
		maxUploadSize:  maxUploadSize,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	{
		// Attachment bytes are addressed by unguessable keys so they can be
		// embedded without a bearer header.
		api.GET("/files/*key", h.GetAttachment)

		conns := api.Group("/connections")
		conns.Use(h.authMiddleware.RequireAuth())
		{
			conns.POST("/request", h.ProposeConnection)
			conns.PUT("/request/:id/respond", h.RespondConnection)
			conns.GET("", h.ListConnections)
			conns.GET("/requests/received", h.ListReceived)
			conns.GET("/requests/sent", h.ListSent)
			conns.DELETE("/:id", h.RemoveConnection)
		}

		chat := api.Group("/chat")
		chat.Use(h.authMiddleware.RequireAuth())
		{
			chat.POST("/send", h.SendMessage)
			chat.POST("/attachments", h.UploadAttachment)
			chat.GET("/conversations", h.ListConversations)
			chat.GET("/unread-count", h.UnreadCount)
			chat.GET("/:userId", h.GetConversation)
			chat.PUT("/:messageId/read", h.MarkMessageRead)
		}

		presence := api.Group("/presence")
		presence.Use(h.authMiddleware.RequireAuth())
		{
			presence.GET("/:userId", h.GetPresence)
		}
	}
}

func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

type proposeRequest struct {
	ReceiverID string `json:"receiverId" binding:"required"`
	Message    string `json:"message"`
}

// ProposeConnection sends a connection request. Duplicates are a 400.
func (h *Handler) ProposeConnection(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	userID := middleware.GetUserID(c)

	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid connection request")
		response.BadRequest(c, err.Error())
		return
	}

	conn, err := h.connections.Propose(ctx, userID, req.ReceiverID, req.Message)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			response.Error(c, http.StatusBadRequest, domain.ErrCodeConflict, err.Error())
			return
		}
		writeError(c, err, "failed to send connection request")
		return
	}

	response.Created(c, conn)
}

type respondRequest struct {
	Status          domain.ConnectionStatus `json:"status" binding:"required"`
	ResponseMessage string                  `json:"responseMessage"`
}

func (h *Handler) RespondConnection(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	userID := middleware.GetUserID(c)

	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid respond request")
		response.BadRequest(c, err.Error())
		return
	}

	conn, err := h.connections.Respond(ctx, c.Param("id"), userID, req.Status, req.ResponseMessage)
	if err != nil {
		writeError(c, err, "failed to respond to connection request")
		return
	}

	response.Success(c, conn)
}

func (h *Handler) ListConnections(c *gin.Context) {
	ctx := c.Request.Context()
	peers, err := h.connections.ListPeers(ctx, middleware.GetUserID(c))
	if err != nil {
		writeError(c, err, "failed to list connections")
		return
	}
	if peers == nil {
		peers = []domain.Peer{}
	}
	response.Success(c, peers)
}

func (h *Handler) ListReceived(c *gin.Context) {
	ctx := c.Request.Context()
	status := domain.ConnectionStatus(c.DefaultQuery("status", string(domain.StatusPending)))
	list, err := h.connections.ListReceived(ctx, middleware.GetUserID(c), status)
	if err != nil {
		writeError(c, err, "failed to list received requests")
		return
	}
	response.Success(c, list)
}

func (h *Handler) ListSent(c *gin.Context) {
	ctx := c.Request.Context()
	status := domain.ConnectionStatus(c.Query("status"))
	list, err := h.connections.ListSent(ctx, middleware.GetUserID(c), status)
	if err != nil {
		writeError(c, err, "failed to list sent requests")
		return
	}
	response.Success(c, list)
}

func (h *Handler) RemoveConnection(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.connections.Unlink(ctx, c.Param("id"), middleware.GetUserID(c)); err != nil {
		writeError(c, err, "failed to remove connection")
		return
	}
	response.NoContent(c)
}

type sendRequest struct {
	ReceiverID  string             `json:"receiverId" binding:"required"`
	Content     string             `json:"content" binding:"required"`
	MessageType domain.MessageType `json:"messageType"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid send request")
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.chat.SendMessage(ctx, middleware.GetUserID(c), req.ReceiverID, req.Content, req.MessageType)
	if err != nil {
		writeError(c, err, "failed to send message")
		return
	}
	response.Created(c, msg)
}

func (h *Handler) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	list, err := h.chat.ListConversations(ctx, middleware.GetUserID(c))
	if err != nil {
		writeError(c, err, "failed to list conversations")
		return
	}
	response.Success(c, list)
}

func (h *Handler) UnreadCount(c *gin.Context) {
	ctx := c.Request.Context()
	n, err := h.chat.UnreadCount(ctx, middleware.GetUserID(c))
	if err != nil {
		writeError(c, err, "failed to count unread messages")
		return
	}
	response.Success(c, gin.H{"count": n})
}

// GetConversation returns one page of history and marks it read.
func (h *Handler) GetConversation(c *gin.Context) {
	ctx := c.Request.Context()

	page, err := queryInt(c, "page", 1)
	if err != nil {
		response.BadRequest(c, "page must be a positive integer")
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		response.BadRequest(c, "limit must be a positive integer")
		return
	}

	result, err := h.chat.FetchConversation(ctx, middleware.GetUserID(c), c.Param("userId"), page, limit)
	if err != nil {
		writeError(c, err, "failed to fetch conversation")
		return
	}
	response.Success(c, result)
}

func (h *Handler) MarkMessageRead(c *gin.Context) {
	ctx := c.Request.Context()
	msg, err := h.chat.MarkMessageRead(ctx, middleware.GetUserID(c), c.Param("messageId"))
	if err != nil {
		writeError(c, err, "failed to mark message read")
		return
	}
	response.Success(c, msg)
}

func (h *Handler) UploadAttachment(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	if h.maxUploadSize > 0 {
		// Leave headroom for the multipart envelope.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+1<<20)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		l.Warn().Err(err).Msg("invalid attachment upload")
		response.BadRequest(c, "file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, err, "failed to read upload")
		return
	}
	defer f.Close()

	att, err := h.attachments.Upload(ctx, middleware.GetUserID(c), fh.Filename, fh.Header.Get("Content-Type"), fh.Size, f)
	if err != nil {
		writeError(c, err, "failed to store attachment")
		return
	}
	response.Created(c, att)
}

func (h *Handler) GetAttachment(c *gin.Context) {
	ctx := c.Request.Context()
	key := strings.TrimPrefix(c.Param("key"), "/")

	rc, err := h.attachments.Open(ctx, key)
	if err != nil {
		writeError(c, err, "failed to read attachment")
		return
	}
	defer rc.Close()

	c.Status(http.StatusOK)
	c.Header("Cache-Control", "private, max-age=86400")
	if _, err := io.Copy(c.Writer, rc); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("key", key).Msg("attachment stream interrupted")
	}
}

// GetPresence reports whether a peer is online. Only accepted peers may ask.
func (h *Handler) GetPresence(c *gin.Context) {
	ctx := c.Request.Context()
	viewerID := middleware.GetUserID(c)
	targetID := c.Param("userId")

	if targetID != viewerID {
		ok, err := h.connections.IsConnected(ctx, viewerID, targetID)
		if err != nil {
			writeError(c, err, "failed to check connection")
			return
		}
		if !ok {
			response.Forbidden(c, "presence is only visible to connections")
			return
		}
	}

	online, err := h.presence.IsOnline(ctx, targetID)
	if err != nil {
		writeError(c, err, "failed to read presence")
		return
	}
	response.Success(c, gin.H{"userId": targetID, "online": online})
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
