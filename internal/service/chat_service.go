package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/alumni-chat/internal/audit"
	"github.com/weiawesome/alumni-chat/internal/config"
	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/internal/gateway"
	"github.com/weiawesome/alumni-chat/internal/idgen"
	"github.com/weiawesome/alumni-chat/internal/kafka"
	"github.com/weiawesome/alumni-chat/internal/metrics"
	"github.com/weiawesome/alumni-chat/internal/repository"
	"github.com/weiawesome/alumni-chat/pkg/log"
)

const summaryConcurrency = 8

type chatService struct {
	repo     repository.MessageRepository
	conns    ConnectionService
	presence PresenceReader
	typing   TypingState
	sender   gateway.Sender
	producer kafka.EventProducer
	ids      *idgen.ULIDGenerator
	cfg      config.ChatConfig
	sf       singleflight.Group
}

func NewChatService(
	repo repository.MessageRepository,
	conns ConnectionService,
	presence PresenceReader,
	typing TypingState,
	sender gateway.Sender,
	producer kafka.EventProducer,
	cfg config.ChatConfig,
) ChatService {
	if producer == nil {
		producer = kafka.NoopProducer{}
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 5000
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &chatService{
		repo:     repo,
		conns:    conns,
		presence: presence,
		typing:   typing,
		sender:   sender,
		producer: producer,
		ids:      idgen.NewULIDGenerator(),
		cfg:      cfg,
	}
}

// SendMessage persists a message between connected identities and then
// forwards it to the recipient's live sessions. The message is sent once
// it is durably stored; forwarding failures are only logged.
func (s *chatService) SendMessage(ctx context.Context, senderID, recipientID, content string, msgType domain.MessageType) (*domain.Message, error) {
	l := log.Ctx(ctx)

	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	recipientID = strings.TrimSpace(recipientID)
	switch {
	case recipientID == "":
		return nil, fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	case recipientID == senderID:
		return nil, fmt.Errorf("%w: cannot message yourself", domain.ErrValidation)
	case !msgType.Valid():
		return nil, fmt.Errorf("%w: unknown message type %q", domain.ErrValidation, msgType)
	case strings.TrimSpace(content) == "":
		return nil, fmt.Errorf("%w: content is required", domain.ErrValidation)
	case utf8.RuneCountInString(content) > s.cfg.MaxContentLength:
		return nil, fmt.Errorf("%w: content exceeds %d characters", domain.ErrValidation, s.cfg.MaxContentLength)
	}

	ok, err := s.conns.IsConnected(ctx, senderID, recipientID)
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, senderID).Str(log.FieldPeerID, recipientID).Msg("failed to check connection")
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: you can only message your connections", domain.ErrAuthorization)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	id, err := s.ids.Generate(now)
	if err != nil {
		return nil, err
	}
	msg := &domain.Message{
		ID:          id,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		MessageType: msgType,
		CreatedAt:   now,
	}

	// The write must not be abandoned if the sender's transport drops.
	dctx := context.WithoutCancel(ctx)
	pctx, cancel := context.WithTimeout(dctx, s.cfg.PersistTimeout)
	start := time.Now()
	err = s.repo.Save(pctx, msg)
	cancel()
	metrics.StoreLatency.WithLabelValues("save").Observe(time.Since(start).Seconds())
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, senderID).Str(log.FieldMessageID, id).Msg("failed to persist message")
		return nil, fmt.Errorf("persist message: %w", err)
	}
	metrics.MessagesPersisted.WithLabelValues(string(msgType)).Inc()

	s.forward(dctx, recipientID, &domain.NewMessageOut{Type: domain.MsgTypeNewMessage, Message: msg})
	s.typing.MessageSent(dctx, senderID, recipientID)
	s.publish(dctx, domain.EventMessageSent, senderID, senderID, recipientID, msg)
	audit.LogWithDetail(ctx, audit.ActionSendMessage, senderID, recipientID, msg.ID, "message sent")

	return msg, nil
}

// EmitTyping arms the typing indicator. It is silently ignored unless the
// pair is connected and the recipient is online.
func (s *chatService) EmitTyping(ctx context.Context, senderID, recipientID string) error {
	if recipientID == "" || recipientID == senderID {
		return fmt.Errorf("%w: invalid recipient", domain.ErrValidation)
	}
	ok, err := s.conns.IsConnected(ctx, senderID, recipientID)
	if err != nil || !ok {
		return err
	}
	online, err := s.presence.IsOnline(ctx, recipientID)
	if err != nil || !online {
		return err
	}
	s.typing.Typing(ctx, senderID, recipientID)
	return nil
}

func (s *chatService) EmitStopTyping(ctx context.Context, senderID, recipientID string) error {
	if recipientID == "" || recipientID == senderID {
		return fmt.Errorf("%w: invalid recipient", domain.ErrValidation)
	}
	s.typing.StopTyping(ctx, senderID, recipientID)
	return nil
}

// MarkRead marks everything counterpartyID sent to viewerID as read.
func (s *chatService) MarkRead(ctx context.Context, viewerID, counterpartyID string) (int64, error) {
	if counterpartyID == "" || counterpartyID == viewerID {
		return 0, fmt.Errorf("%w: invalid sender", domain.ErrValidation)
	}

	at := time.Now().UTC()
	n, err := s.repo.MarkConversationRead(ctx, viewerID, counterpartyID, at)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldUserID, viewerID).Str(log.FieldPeerID, counterpartyID).Msg("failed to mark conversation read")
		return 0, err
	}
	if n > 0 {
		s.receipt(ctx, viewerID, counterpartyID, n, at)
	}
	return n, nil
}

// MarkMessageRead marks one message read. Only its recipient may do so;
// repeating the call changes nothing.
func (s *chatService) MarkMessageRead(ctx context.Context, viewerID, messageID string) (*domain.Message, error) {
	msg, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return nil, fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
		}
		return nil, err
	}
	if msg.RecipientID != viewerID {
		return nil, fmt.Errorf("%w: only the recipient can mark a message read", domain.ErrAuthorization)
	}
	if msg.Read {
		return msg, nil
	}

	at := time.Now().UTC()
	n, err := s.repo.MarkRead(ctx, viewerID, []string{messageID}, at)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldUserID, viewerID).Str(log.FieldMessageID, messageID).Msg("failed to mark message read")
		return nil, err
	}
	if n > 0 {
		msg.Read = true
		msg.ReadAt = &at
		s.receipt(ctx, viewerID, msg.SenderID, n, at)
	}
	return msg, nil
}

// FetchConversation returns one page of history, page 1 being the newest.
// Unread messages in the page addressed to the viewer are marked read.
func (s *chatService) FetchConversation(ctx context.Context, viewerID, counterpartyID string, page, limit int) (*domain.MessagePage, error) {
	if counterpartyID == "" || counterpartyID == viewerID {
		return nil, fmt.Errorf("%w: invalid conversation", domain.ErrValidation)
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	key := fmt.Sprintf("%s|%s|%d|%d", viewerID, counterpartyID, page, limit)
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		// Every waiter on key shares this fetch, so it outlives the caller
		// that started it.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
		defer cancel()
		return s.fetchPage(fctx, viewerID, counterpartyID, page, limit)
	})
	if err != nil {
		return nil, err
	}
	p, ok := result.(*domain.MessagePage)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	return p, nil
}

func (s *chatService) fetchPage(ctx context.Context, viewerID, counterpartyID string, page, limit int) (*domain.MessagePage, error) {
	l := log.Ctx(ctx)
	offset := (page - 1) * limit

	start := time.Now()
	msgs, total, err := s.repo.ListConversation(ctx, viewerID, counterpartyID, offset, limit)
	metrics.StoreLatency.WithLabelValues("list").Observe(time.Since(start).Seconds())
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, viewerID).Str(log.FieldPeerID, counterpartyID).Msg("failed to fetch conversation")
		return nil, err
	}

	var unread []string
	for _, m := range msgs {
		if m.RecipientID == viewerID && !m.Read {
			unread = append(unread, m.ID)
		}
	}
	if len(unread) > 0 {
		at := time.Now().UTC()
		n, err := s.repo.MarkRead(ctx, viewerID, unread, at)
		if err != nil {
			l.Warn().Err(err).Str(log.FieldUserID, viewerID).Msg("failed to mark fetched page read")
		} else if n > 0 {
			for _, m := range msgs {
				if m.RecipientID == viewerID && !m.Read {
					m.Read = true
					m.ReadAt = &at
				}
			}
			s.receipt(ctx, viewerID, counterpartyID, n, at)
		}
	}

	if msgs == nil {
		msgs = []*domain.Message{}
	}
	return &domain.MessagePage{
		Messages: msgs,
		Page:     page,
		Limit:    limit,
		Total:    total,
		HasMore:  int64(offset+len(msgs)) < total,
	}, nil
}

// ListConversations builds the viewer's chat list, most recent first.
func (s *chatService) ListConversations(ctx context.Context, viewerID string) ([]*domain.ConversationSummary, error) {
	l := log.Ctx(ctx)

	peers, err := s.conns.ListPeers(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		return []*domain.ConversationSummary{}, nil
	}

	ids := make([]string, len(peers))
	for i, p := range peers {
		ids[i] = p.UserID
	}
	onlineSet := make(map[string]bool, len(ids))
	if online, err := s.presence.OnlineAmong(ctx, ids); err != nil {
		l.Warn().Err(err).Str(log.FieldUserID, viewerID).Msg("failed to resolve online peers")
	} else {
		for _, id := range online {
			onlineSet[id] = true
		}
	}

	out := make([]*domain.ConversationSummary, len(peers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)
	for i, p := range peers {
		i, p := i, p
		g.Go(func() error {
			last, err := s.repo.LastMessage(gctx, viewerID, p.UserID)
			if err != nil {
				return fmt.Errorf("last message with %s: %w", p.UserID, err)
			}
			unread, err := s.repo.CountUnread(gctx, viewerID, p.UserID)
			if err != nil {
				return fmt.Errorf("unread count from %s: %w", p.UserID, err)
			}
			out[i] = &domain.ConversationSummary{
				PeerID:       p.UserID,
				ConnectionID: p.ConnectionID,
				LastMessage:  last,
				UnreadCount:  unread,
				Online:       onlineSet[p.UserID],
				Since:        p.Since,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.Error().Err(err).Str(log.FieldUserID, viewerID).Msg("failed to build conversation list")
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].MoreRecent(out[j])
	})
	return out, nil
}

func (s *chatService) UnreadCount(ctx context.Context, viewerID string) (int64, error) {
	return s.repo.CountUnread(ctx, viewerID, "")
}

// receipt tells the sender their messages were read, if they are online.
func (s *chatService) receipt(ctx context.Context, readerID, senderID string, count int64, at time.Time) {
	audit.LogWithDetail(ctx, audit.ActionMarkRead, readerID, senderID, fmt.Sprintf("%d", count), "messages read")
	s.publish(ctx, domain.EventMessagesRead, readerID, readerID, senderID, map[string]interface{}{
		"readBy": readerID,
		"sender": senderID,
		"count":  count,
		"readAt": at,
	})

	online, err := s.presence.IsOnline(ctx, senderID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, senderID).Msg("failed to check presence for read receipt")
		return
	}
	if !online {
		return
	}
	s.forward(ctx, senderID, &domain.MessagesReadOut{
		Type:   domain.MsgTypeMessagesRead,
		ReadBy: readerID,
		Count:  count,
		ReadAt: at,
	})
}

func (s *chatService) forward(ctx context.Context, userID string, event interface{}) {
	if err := s.sender.SendToUser(ctx, userID, event); err != nil {
		typ := domain.MsgTypeNewMessage
		if _, ok := event.(*domain.MessagesReadOut); ok {
			typ = domain.MsgTypeMessagesRead
		}
		metrics.ForwardFailures.WithLabelValues(typ).Inc()
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, userID).Str(log.FieldEventType, typ).Msg("failed to forward live event")
	}
}

func (s *chatService) publish(ctx context.Context, eventType, actorID, a, b string, data interface{}) {
	ev := &domain.DomainEvent{
		Type:       eventType,
		Key:        domain.PairKey(a, b),
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	if err := s.producer.Produce(ctx, ev); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldEventType, eventType).Msg("failed to publish domain event")
	}
}

var _ ChatService = (*chatService)(nil)
