package typing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/weiawesome/alumni-chat/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	events []*domain.UserTypingOut
	to     []string
}

func (r *recordingSender) SendToUser(_ context.Context, userID string, event interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.(*domain.UserTypingOut))
	r.to = append(r.to, userID)
	return nil
}

func (r *recordingSender) snapshot() []*domain.UserTypingOut {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.UserTypingOut(nil), r.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestTypingExpiresWithoutStop(t *testing.T) {
	ctx := context.Background()
	s := &recordingSender{}
	tr := NewTracker(s, 30*time.Millisecond)
	defer tr.Close()

	tr.Typing(ctx, "alice", "bob")
	if !tr.IsTyping("alice", "bob") {
		t.Fatal("expected typing")
	}

	waitFor(t, func() bool { return len(s.snapshot()) == 2 })
	ev := s.snapshot()
	if !ev[0].IsTyping || ev[1].IsTyping || ev[1].UserID != "alice" {
		t.Fatalf("unexpected events %+v %+v", ev[0], ev[1])
	}
	if tr.IsTyping("alice", "bob") {
		t.Fatal("typing state survived expiry")
	}
}

func TestTypingRenewalIsSilent(t *testing.T) {
	ctx := context.Background()
	s := &recordingSender{}
	tr := NewTracker(s, 80*time.Millisecond)
	defer tr.Close()

	tr.Typing(ctx, "alice", "bob")
	for i := 0; i < 3; i++ {
		time.Sleep(40 * time.Millisecond)
		tr.Typing(ctx, "alice", "bob")
	}
	// Renewals kept it alive past the original deadline.
	if !tr.IsTyping("alice", "bob") {
		t.Fatal("renewal did not extend typing")
	}
	if n := len(s.snapshot()); n != 1 {
		t.Fatalf("renewals emitted %d events", n)
	}
}

func TestStopAndMessageSentClearState(t *testing.T) {
	ctx := context.Background()
	s := &recordingSender{}
	tr := NewTracker(s, time.Minute)
	defer tr.Close()

	// Stop without start sends nothing.
	tr.StopTyping(ctx, "alice", "bob")
	if n := len(s.snapshot()); n != 0 {
		t.Fatalf("stop without typing emitted %d events", n)
	}

	tr.Typing(ctx, "alice", "bob")
	tr.StopTyping(ctx, "alice", "bob")
	tr.Typing(ctx, "alice", "bob")
	tr.MessageSent(ctx, "alice", "bob")

	ev := s.snapshot()
	want := []bool{true, false, true, false}
	if len(ev) != len(want) {
		t.Fatalf("got %d events", len(ev))
	}
	for i, w := range want {
		if ev[i].IsTyping != w {
			t.Errorf("event %d IsTyping = %v", i, ev[i].IsTyping)
		}
	}
	if tr.IsTyping("alice", "bob") {
		t.Fatal("state not cleared")
	}
}

func TestCloseSilencesTimers(t *testing.T) {
	s := &recordingSender{}
	tr := NewTracker(s, 20*time.Millisecond)

	tr.Typing(context.Background(), "a", "b")
	tr.Close()
	tr.Typing(context.Background(), "a", "c")
	time.Sleep(60 * time.Millisecond)

	if n := len(s.snapshot()); n != 1 {
		t.Fatalf("expected only the initial event, got %d", n)
	}
}
