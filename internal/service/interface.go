package service

import (
	"context"
	"io"

	"github.com/weiawesome/alumni-chat/internal/domain"
)

// ConnectionService manages the connection graph: proposals, responses,
// unlinking and the eligibility queries the rest of the system relies on.
type ConnectionService interface {
	Propose(ctx context.Context, requesterID, recipientID, message string) (*domain.Connection, error)
	Respond(ctx context.Context, connectionID, responderID string, status domain.ConnectionStatus, responseMessage string) (*domain.Connection, error)
	Unlink(ctx context.Context, connectionID, userID string) error
	Get(ctx context.Context, connectionID, viewerID string) (*domain.Connection, error)

	ListPeers(ctx context.Context, userID string) ([]domain.Peer, error)
	ListPeerIDs(ctx context.Context, userID string) ([]string, error)
	IsConnected(ctx context.Context, a, b string) (bool, error)
	ListReceived(ctx context.Context, userID string, status domain.ConnectionStatus) ([]*domain.Connection, error)
	ListSent(ctx context.Context, userID string, status domain.ConnectionStatus) ([]*domain.Connection, error)
}

// ChatService handles direct messages between connected identities.
type ChatService interface {
	SendMessage(ctx context.Context, senderID, recipientID, content string, msgType domain.MessageType) (*domain.Message, error)
	EmitTyping(ctx context.Context, senderID, recipientID string) error
	EmitStopTyping(ctx context.Context, senderID, recipientID string) error
	MarkRead(ctx context.Context, viewerID, counterpartyID string) (int64, error)
	MarkMessageRead(ctx context.Context, viewerID, messageID string) (*domain.Message, error)
	FetchConversation(ctx context.Context, viewerID, counterpartyID string, page, limit int) (*domain.MessagePage, error)
	ListConversations(ctx context.Context, viewerID string) ([]*domain.ConversationSummary, error)
	UnreadCount(ctx context.Context, viewerID string) (int64, error)
}

// Attachment describes an uploaded file.
type Attachment struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// AttachmentService stores files referenced by image and file messages.
type AttachmentService interface {
	Upload(ctx context.Context, userID, filename, contentType string, size int64, r io.Reader) (*Attachment, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// PresenceReader answers online queries.
type PresenceReader interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineAmong(ctx context.Context, userIDs []string) ([]string, error)
}

// TypingState tracks ephemeral typing indicators.
type TypingState interface {
	Typing(ctx context.Context, senderID, recipientID string)
	StopTyping(ctx context.Context, senderID, recipientID string)
	MessageSent(ctx context.Context, senderID, recipientID string)
}

// GraphNotifier announces connection graph transitions.
type GraphNotifier interface {
	ConnectionRequested(ctx context.Context, conn *domain.Connection)
	ConnectionAccepted(ctx context.Context, conn *domain.Connection)
	ConnectionRejected(ctx context.Context, conn *domain.Connection)
	ConnectionRemoved(ctx context.Context, conn *domain.Connection, by string)
}
