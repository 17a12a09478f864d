package presence

import (
	"context"

	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/internal/gateway"
	"github.com/weiawesome/alumni-chat/internal/hub"
	"github.com/weiawesome/alumni-chat/internal/store"
	"github.com/weiawesome/alumni-chat/pkg/log"
)

// PeerLister resolves the accepted peers of an identity.
type PeerLister interface {
	ListPeerIDs(ctx context.Context, userID string) ([]string, error)
}

// Tracker derives online state from session counts and announces the
// 0→1 and 1→0 transitions to the identity's online peers.
type Tracker struct {
	store  store.PresenceStore
	peers  PeerLister
	sender gateway.Sender
	locks  *keyedMutex
}

func NewTracker(s store.PresenceStore, peers PeerLister, sender gateway.Sender) *Tracker {
	return &Tracker{
		store:  s,
		peers:  peers,
		sender: sender,
		locks:  newKeyedMutex(),
	}
}

// SessionOpened records a new session for userID.
func (t *Tracker) SessionOpened(ctx context.Context, userID string) {
	unlock := t.locks.Lock(userID)
	defer unlock()

	total, err := t.store.Incr(ctx, userID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to record session open")
		return
	}
	if total == 1 {
		t.broadcast(ctx, userID, domain.StatusOnline)
	}
}

// SessionClosed records a closed session for userID. A close with no
// recorded session is logged and otherwise ignored.
func (t *Tracker) SessionClosed(ctx context.Context, userID string) {
	unlock := t.locks.Lock(userID)
	defer unlock()

	l := log.Ctx(ctx)
	total, clamped, err := t.store.Decr(ctx, userID)
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to record session close")
		return
	}
	if clamped {
		l.Warn().Str(log.FieldUserID, userID).Msg("session close without matching open, count clamped at zero")
		return
	}
	if total == 0 {
		t.broadcast(ctx, userID, domain.StatusOffline)
	}
}

// IsOnline reports whether userID has at least one live session.
func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := t.store.Count(ctx, userID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// OnlineAmong filters userIDs down to those online.
func (t *Tracker) OnlineAmong(ctx context.Context, userIDs []string) ([]string, error) {
	return t.store.Online(ctx, userIDs)
}

// OnlinePeers returns the accepted peers of userID that are online.
func (t *Tracker) OnlinePeers(ctx context.Context, userID string) ([]string, error) {
	peers, err := t.peers.ListPeerIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	return t.store.Online(ctx, peers)
}

func (t *Tracker) broadcast(ctx context.Context, userID, status string) {
	l := log.Ctx(ctx)

	online, err := t.OnlinePeers(ctx, userID)
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to resolve peers for status change")
		return
	}

	msg := &domain.UserStatusChangeOut{
		Type:   domain.MsgTypeUserStatusChange,
		UserID: userID,
		Status: status,
	}
	for _, peerID := range online {
		if err := t.sender.SendToUser(ctx, peerID, msg); err != nil {
			l.Warn().Err(err).Str(log.FieldUserID, userID).Str(log.FieldPeerID, peerID).Msg("failed to forward status change")
		}
	}
	l.Debug().Str(log.FieldUserID, userID).Str("presence", status).Int("notified", len(online)).Msg("presence transition")
}

var _ hub.SessionObserver = (*Tracker)(nil)
