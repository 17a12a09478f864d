package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/weiawesome/alumni-chat/internal/domain"
)

type recordingSender struct {
	mu   sync.Mutex
	to   []string
	evts []interface{}
	err  error
}

func (r *recordingSender) SendToUser(_ context.Context, userID string, event interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.to = append(r.to, userID)
	r.evts = append(r.evts, event)
	return r.err
}

type recordingProducer struct {
	events []*domain.DomainEvent
}

func (p *recordingProducer) Produce(_ context.Context, ev *domain.DomainEvent) error {
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func testConn() *domain.Connection {
	return &domain.Connection{ID: "c1", RequesterID: "alice", RecipientID: "bob", Status: domain.StatusAccepted}
}

func TestConnectionAcceptedNotifiesBothOnce(t *testing.T) {
	s := &recordingSender{}
	p := &recordingProducer{}
	b := NewBridge(s, p)

	b.ConnectionAccepted(context.Background(), testConn())

	if len(s.evts) != 2 {
		t.Fatalf("sent %d events, want 2", len(s.evts))
	}
	want := map[string]string{"alice": "bob", "bob": "alice"}
	for i, to := range s.to {
		ev, ok := s.evts[i].(*domain.NewChatAvailableOut)
		if !ok {
			t.Fatalf("event %d is %T", i, s.evts[i])
		}
		if ev.User != want[to] || ev.ConnectionID != "c1" || ev.Type != domain.MsgTypeNewChatAvailable {
			t.Errorf("event to %s = %+v", to, ev)
		}
	}

	if len(p.events) != 1 {
		t.Fatalf("published %d events", len(p.events))
	}
	if ev := p.events[0]; ev.Type != domain.EventConnectionAccepted || ev.Key != "alice|bob" || ev.ActorID != "bob" {
		t.Errorf("domain event %+v", ev)
	}
}

func TestRequestRejectRemove(t *testing.T) {
	ctx := context.Background()
	s := &recordingSender{}
	b := NewBridge(s, nil)
	conn := testConn()

	b.ConnectionRequested(ctx, conn)
	b.ConnectionRejected(ctx, conn)
	b.ConnectionRemoved(ctx, conn, "alice")

	if len(s.to) != 4 {
		t.Fatalf("sent %d events", len(s.to))
	}
	if s.to[0] != "bob" {
		t.Errorf("request went to %s", s.to[0])
	}
	if _, ok := s.evts[0].(*domain.ConnectionRequestOut); !ok {
		t.Errorf("event 0 is %T", s.evts[0])
	}
	rej, ok := s.evts[1].(*domain.ConnectionRejectedOut)
	if !ok || s.to[1] != "alice" || rej.By != "bob" {
		t.Errorf("rejection = %s %+v", s.to[1], s.evts[1])
	}
	for i := 2; i < 4; i++ {
		if _, ok := s.evts[i].(*domain.ChatListRefreshOut); !ok {
			t.Errorf("event %d is %T", i, s.evts[i])
		}
	}
}

func TestSendFailuresAreSwallowed(t *testing.T) {
	s := &recordingSender{err: errors.New("gone")}
	p := &recordingProducer{}
	b := NewBridge(s, p)

	b.ConnectionRemoved(context.Background(), testConn(), "bob")

	// Both parties are attempted and the event is still published.
	if len(s.to) != 2 || len(p.events) != 1 {
		t.Fatalf("sends=%d published=%d", len(s.to), len(p.events))
	}
	if eventType(s.evts[0]) != domain.MsgTypeChatListRefresh {
		t.Errorf("eventType = %s", eventType(s.evts[0]))
	}
}
