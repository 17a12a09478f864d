package repository

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/alumni-chat/internal/domain"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionExists   = errors.New("connection already exists for this pair")
	ErrNotPending         = errors.New("connection is not pending")
	ErrNotAccepted        = errors.New("connection is not accepted")
	ErrMessageNotFound    = errors.New("message not found")
)

// ConnectionRepository persists connection edges and the membership relation.
type ConnectionRepository interface {
	// Create inserts a pending edge. ErrConnectionExists if the unordered
	// pair already has an edge in any state.
	Create(ctx context.Context, conn *domain.Connection) error
	GetByID(ctx context.Context, id string) (*domain.Connection, error)
	GetByPair(ctx context.Context, a, b string) (*domain.Connection, error)

	// Respond moves a pending edge to status. Only one concurrent caller
	// wins; the rest get ErrNotPending. Accepting writes both membership
	// rows in the same transaction.
	Respond(ctx context.Context, id string, status domain.ConnectionStatus, responseMessage string, at time.Time) (*domain.Connection, error)

	// Delete removes an accepted edge and its membership rows.
	Delete(ctx context.Context, id string) error

	ListPeers(ctx context.Context, userID string) ([]domain.Peer, error)
	IsConnected(ctx context.Context, a, b string) (bool, error)
	ListReceived(ctx context.Context, userID string, status domain.ConnectionStatus) ([]*domain.Connection, error)
	ListSent(ctx context.Context, userID string, status domain.ConnectionStatus) ([]*domain.Connection, error)
}

// MessageRepository is the durable conversation store.
type MessageRepository interface {
	Save(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)

	// ListConversation returns the messages between a and b skipping the
	// newest offset messages, at most limit of them, oldest first, along
	// with the conversation total.
	ListConversation(ctx context.Context, a, b string, offset, limit int) ([]*domain.Message, int64, error)
	LastMessage(ctx context.Context, a, b string) (*domain.Message, error)

	// MarkConversationRead marks every unread message from senderID to
	// readerID read and returns how many changed.
	MarkConversationRead(ctx context.Context, readerID, senderID string, at time.Time) (int64, error)
	// MarkRead marks the given messages read when readerID is their
	// recipient. Already-read messages are left untouched.
	MarkRead(ctx context.Context, readerID string, ids []string, at time.Time) (int64, error)

	// CountUnread counts unread messages addressed to recipientID, from
	// senderID only when it is non-empty.
	CountUnread(ctx context.Context, recipientID, senderID string) (int64, error)

	Close() error
}
