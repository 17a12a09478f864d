package typing

import (
	"context"
	"sync"
	"time"

	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/internal/gateway"
	"github.com/weiawesome/alumni-chat/internal/metrics"
	"github.com/weiawesome/alumni-chat/pkg/log"
)

const DefaultTimeout = 3 * time.Second

type pairKey struct {
	sender    string
	recipient string
}

type entry struct {
	timer *time.Timer
}

// Tracker holds server-side typing state per (sender, recipient). A typing
// signal that is not renewed within the timeout expires on its own, so a
// sender that vanishes never leaves a stuck indicator.
type Tracker struct {
	sender  gateway.Sender
	timeout time.Duration

	mu      sync.Mutex
	entries map[pairKey]*entry
	closed  bool
}

func NewTracker(sender gateway.Sender, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		sender:  sender,
		timeout: timeout,
		entries: make(map[pairKey]*entry),
	}
}

// Typing arms or renews the timer. The recipient is told only when the
// pair starts typing; renewals are silent.
func (t *Tracker) Typing(ctx context.Context, senderID, recipientID string) {
	key := pairKey{senderID, recipientID}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if e, ok := t.entries[key]; ok {
		// Replace rather than Reset: if e already fired, its callback is
		// waiting on mu and finds the replacement, so it stays silent.
		e.timer.Stop()
		t.entries[key] = t.arm(key)
		t.mu.Unlock()
		return
	}
	t.entries[key] = t.arm(key)
	t.mu.Unlock()

	metrics.TypingEvents.WithLabelValues("typing").Inc()
	t.emit(ctx, key, true)
}

// StopTyping clears the pair's state and tells the recipient.
func (t *Tracker) StopTyping(ctx context.Context, senderID, recipientID string) {
	if t.clear(pairKey{senderID, recipientID}) {
		metrics.TypingEvents.WithLabelValues("stop").Inc()
		t.emit(ctx, pairKey{senderID, recipientID}, false)
	}
}

// MessageSent clears the pair's state after a successful send.
func (t *Tracker) MessageSent(ctx context.Context, senderID, recipientID string) {
	if t.clear(pairKey{senderID, recipientID}) {
		metrics.TypingEvents.WithLabelValues("sent").Inc()
		t.emit(ctx, pairKey{senderID, recipientID}, false)
	}
}

// IsTyping reports whether senderID is currently typing to recipientID.
func (t *Tracker) IsTyping(senderID, recipientID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[pairKey{senderID, recipientID}]
	return ok
}

// Close stops every timer without notifying anyone.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for k, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, k)
	}
}

// arm must be called with mu held.
func (t *Tracker) arm(key pairKey) *entry {
	e := &entry{}
	e.timer = time.AfterFunc(t.timeout, func() { t.expire(key, e) })
	return e
}

func (t *Tracker) clear(key pairKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, key)
	return true
}

func (t *Tracker) expire(key pairKey, e *entry) {
	t.mu.Lock()
	// A newer entry may have replaced e after a stop and restart.
	if cur, ok := t.entries[key]; !ok || cur != e {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	metrics.TypingEvents.WithLabelValues("expired").Inc()
	t.emit(context.Background(), key, false)
}

func (t *Tracker) emit(ctx context.Context, key pairKey, typing bool) {
	msg := &domain.UserTypingOut{
		Type:     domain.MsgTypeUserTyping,
		UserID:   key.sender,
		IsTyping: typing,
	}
	if err := t.sender.SendToUser(ctx, key.recipient, msg); err != nil {
		metrics.ForwardFailures.WithLabelValues(domain.MsgTypeUserTyping).Inc()
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, key.sender).Str(log.FieldPeerID, key.recipient).Msg("failed to forward typing state")
	}
}
