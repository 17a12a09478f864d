package service

import (
	"context"
	"testing"
	"time"

	"github.com/weiawesome/alumni-chat/internal/config"
	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/internal/repository"
)

// gatedMessageRepo holds ListConversation until release is closed.
type gatedMessageRepo struct {
	repository.MessageRepository
	entered chan struct{}
	release chan struct{}
}

func (r *gatedMessageRepo) ListConversation(ctx context.Context, a, b string, offset, limit int) ([]*domain.Message, int64, error) {
	select {
	case r.entered <- struct{}{}:
	default:
	}
	<-r.release
	return r.MessageRepository.ListConversation(ctx, a, b, offset, limit)
}

func TestCoalescedFetchSurvivesFirstCallerCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "alice", "bob")
	if _, err := f.chat.SendMessage(ctx, "bob", "alice", "hello", ""); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	repo := &gatedMessageRepo{
		MessageRepository: f.msgs,
		entered:           make(chan struct{}, 1),
		release:           make(chan struct{}),
	}
	chat := NewChatService(repo, f.conns, f.presence, f.typing, f.sender, nil, config.ChatConfig{
		DefaultPageSize: 2,
		MaxPageSize:     3,
	})

	type result struct {
		page *domain.MessagePage
		err  error
	}
	firstCtx, cancelFirst := context.WithCancel(ctx)
	first := make(chan result, 1)
	go func() {
		p, err := chat.FetchConversation(firstCtx, "alice", "bob", 1, 2)
		first <- result{p, err}
	}()

	select {
	case <-repo.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never reached the store")
	}

	second := make(chan result, 1)
	go func() {
		p, err := chat.FetchConversation(ctx, "alice", "bob", 1, 2)
		second <- result{p, err}
	}()
	// Let the second caller join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	cancelFirst()
	close(repo.release)

	for name, ch := range map[string]chan result{"first": first, "second": second} {
		select {
		case r := <-ch:
			if r.err != nil {
				t.Fatalf("%s caller: %v", name, r.err)
			}
			if len(r.page.Messages) != 1 || r.page.Messages[0].Content != "hello" {
				t.Fatalf("%s caller page = %+v", name, r.page)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s caller never returned", name)
		}
	}
}
