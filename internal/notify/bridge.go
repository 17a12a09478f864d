package notify

import (
	"context"
	"time"

	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/internal/gateway"
	"github.com/weiawesome/alumni-chat/internal/kafka"
	"github.com/weiawesome/alumni-chat/internal/metrics"
	"github.com/weiawesome/alumni-chat/pkg/log"
)

// Bridge turns connection graph transitions into live signals for the
// parties involved and domain events for everyone else. Every send is
// best effort: failures are logged and counted, never returned.
type Bridge struct {
	sender   gateway.Sender
	producer kafka.EventProducer
}

func NewBridge(sender gateway.Sender, producer kafka.EventProducer) *Bridge {
	if producer == nil {
		producer = kafka.NoopProducer{}
	}
	return &Bridge{sender: sender, producer: producer}
}

// ConnectionRequested tells the recipient about a new pending request.
func (b *Bridge) ConnectionRequested(ctx context.Context, conn *domain.Connection) {
	b.send(ctx, conn.RecipientID, &domain.ConnectionRequestOut{
		Type:       domain.MsgTypeConnectionRequest,
		Connection: conn,
	})
	b.publish(ctx, domain.EventConnectionRequested, conn.RequesterID, conn)
}

// ConnectionAccepted sends a single new_chat_available to each party,
// naming the other one. Clients refetch their chat list on receipt.
func (b *Bridge) ConnectionAccepted(ctx context.Context, conn *domain.Connection) {
	b.send(ctx, conn.RequesterID, &domain.NewChatAvailableOut{
		Type:         domain.MsgTypeNewChatAvailable,
		User:         conn.RecipientID,
		ConnectionID: conn.ID,
	})
	b.send(ctx, conn.RecipientID, &domain.NewChatAvailableOut{
		Type:         domain.MsgTypeNewChatAvailable,
		User:         conn.RequesterID,
		ConnectionID: conn.ID,
	})
	b.publish(ctx, domain.EventConnectionAccepted, conn.RecipientID, conn)
}

// ConnectionRejected tells the requester their request was declined.
func (b *Bridge) ConnectionRejected(ctx context.Context, conn *domain.Connection) {
	b.send(ctx, conn.RequesterID, &domain.ConnectionRejectedOut{
		Type:         domain.MsgTypeConnectionRejected,
		ConnectionID: conn.ID,
		By:           conn.RecipientID,
	})
	b.publish(ctx, domain.EventConnectionRejected, conn.RecipientID, conn)
}

// ConnectionRemoved asks both parties to refresh their chat list.
func (b *Bridge) ConnectionRemoved(ctx context.Context, conn *domain.Connection, by string) {
	refresh := &domain.ChatListRefreshOut{Type: domain.MsgTypeChatListRefresh}
	b.send(ctx, conn.RequesterID, refresh)
	b.send(ctx, conn.RecipientID, refresh)
	b.publish(ctx, domain.EventConnectionRemoved, by, conn)
}

func (b *Bridge) send(ctx context.Context, userID string, event interface{}) {
	if err := b.sender.SendToUser(ctx, userID, event); err != nil {
		metrics.ForwardFailures.WithLabelValues(eventType(event)).Inc()
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to forward graph notification")
	}
}

func (b *Bridge) publish(ctx context.Context, eventType, actorID string, conn *domain.Connection) {
	ev := &domain.DomainEvent{
		Type:       eventType,
		Key:        domain.PairKey(conn.RequesterID, conn.RecipientID),
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
		Data:       conn,
	}
	if err := b.producer.Produce(ctx, ev); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldEventType, eventType).Str(log.FieldConnectionID, conn.ID).Msg("failed to publish domain event")
	}
}

func eventType(event interface{}) string {
	switch event.(type) {
	case *domain.ConnectionRequestOut:
		return domain.MsgTypeConnectionRequest
	case *domain.NewChatAvailableOut:
		return domain.MsgTypeNewChatAvailable
	case *domain.ConnectionRejectedOut:
		return domain.MsgTypeConnectionRejected
	case *domain.ChatListRefreshOut:
		return domain.MsgTypeChatListRefresh
	}
	return "unknown"
}
