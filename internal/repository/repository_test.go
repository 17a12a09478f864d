package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/pkg/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.New(&database.Config{Driver: "sqlite", FilePath: ":memory:", LogLevel: "silent"})
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	if err := database.AutoMigrate(db, &domain.ConnectionModel{}, &domain.MembershipModel{}, &domain.MessageModel{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestConnectionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewGormConnectionRepository(newTestDB(t))

	conn := &domain.Connection{RequesterID: "alice", RecipientID: "bob", Message: "hi"}
	if err := repo.Create(ctx, conn); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conn.ID == "" || conn.Status != domain.StatusPending {
		t.Fatalf("unexpected connection after create: %+v", conn)
	}

	// Either direction of the same pair conflicts.
	if err := repo.Create(ctx, &domain.Connection{RequesterID: "bob", RecipientID: "alice"}); !errors.Is(err, ErrConnectionExists) {
		t.Fatalf("expected ErrConnectionExists, got %v", err)
	}

	got, err := repo.GetByPair(ctx, "bob", "alice")
	if err != nil || got.ID != conn.ID {
		t.Fatalf("GetByPair = %+v, %v", got, err)
	}

	if ok, _ := repo.IsConnected(ctx, "alice", "bob"); ok {
		t.Fatal("pending edge must not connect")
	}

	accepted, err := repo.Respond(ctx, conn.ID, domain.StatusAccepted, "sure", time.Now())
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if accepted.Status != domain.StatusAccepted || accepted.RespondedAt == nil || accepted.ResponseMessage != "sure" {
		t.Fatalf("unexpected accepted edge: %+v", accepted)
	}

	// A second responder loses and no extra membership rows appear.
	if _, err := repo.Respond(ctx, conn.ID, domain.StatusRejected, "", time.Now()); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
	var members int64
	repo.db.Model(&domain.MembershipModel{}).Where("connection_id = ?", conn.ID).Count(&members)
	if members != 2 {
		t.Fatalf("membership rows = %d, want 2", members)
	}

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		ok, err := repo.IsConnected(ctx, pair[0], pair[1])
		if err != nil || !ok {
			t.Errorf("IsConnected(%s, %s) = %v, %v", pair[0], pair[1], ok, err)
		}
	}

	peers, err := repo.ListPeers(ctx, "bob")
	if err != nil || len(peers) != 1 || peers[0].UserID != "alice" || peers[0].ConnectionID != conn.ID {
		t.Fatalf("ListPeers = %+v, %v", peers, err)
	}

	if err := repo.Delete(ctx, conn.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := repo.IsConnected(ctx, "alice", "bob"); ok {
		t.Fatal("still connected after delete")
	}
	if err := repo.Delete(ctx, conn.ID); !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("expected ErrConnectionNotFound, got %v", err)
	}

	// The pair can be proposed again once unlinked.
	if err := repo.Create(ctx, &domain.Connection{RequesterID: "bob", RecipientID: "alice"}); err != nil {
		t.Fatalf("re-propose after delete: %v", err)
	}
}

func TestConnectionRespondErrors(t *testing.T) {
	ctx := context.Background()
	repo := NewGormConnectionRepository(newTestDB(t))

	if _, err := repo.Respond(ctx, "missing", domain.StatusAccepted, "", time.Now()); !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("expected ErrConnectionNotFound, got %v", err)
	}

	conn := &domain.Connection{RequesterID: "a", RecipientID: "b"}
	if err := repo.Create(ctx, conn); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Delete(ctx, conn.ID); !errors.Is(err, ErrNotAccepted) {
		t.Fatalf("expected ErrNotAccepted deleting a pending edge, got %v", err)
	}

	rejected, err := repo.Respond(ctx, conn.ID, domain.StatusRejected, "no", time.Now())
	if err != nil || rejected.Status != domain.StatusRejected {
		t.Fatalf("Respond reject = %+v, %v", rejected, err)
	}
	var members int64
	repo.db.Model(&domain.MembershipModel{}).Count(&members)
	if members != 0 {
		t.Fatalf("rejection created %d membership rows", members)
	}
}

func TestConnectionListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewGormConnectionRepository(newTestDB(t))

	for _, from := range []string{"u1", "u2", "u3"} {
		if err := repo.Create(ctx, &domain.Connection{RequesterID: from, RecipientID: "me"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := repo.Create(ctx, &domain.Connection{RequesterID: "me", RecipientID: "u4"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	received, err := repo.ListReceived(ctx, "me", domain.StatusPending)
	if err != nil || len(received) != 3 {
		t.Fatalf("ListReceived = %d, %v", len(received), err)
	}
	if _, err := repo.Respond(ctx, received[0].ID, domain.StatusAccepted, "", time.Now()); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	pending, _ := repo.ListReceived(ctx, "me", domain.StatusPending)
	all, _ := repo.ListReceived(ctx, "me", "")
	if len(pending) != 2 || len(all) != 3 {
		t.Fatalf("pending=%d all=%d", len(pending), len(all))
	}

	sent, err := repo.ListSent(ctx, "me", "")
	if err != nil || len(sent) != 1 || sent[0].RecipientID != "u4" {
		t.Fatalf("ListSent = %+v, %v", sent, err)
	}
}

func saveAt(t *testing.T, repo *GormMessageRepository, id, from, to string, at time.Time) {
	t.Helper()
	err := repo.Save(context.Background(), &domain.Message{
		ID: id, SenderID: from, RecipientID: to, Content: "m" + id,
		MessageType: domain.MessageTypeText, CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("Save %s: %v", id, err)
	}
}

func TestMessageOrderingAndPaging(t *testing.T) {
	ctx := context.Background()
	repo := NewGormMessageRepository(newTestDB(t))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Two messages share a timestamp; id breaks the tie.
	saveAt(t, repo, "01", "a", "b", base)
	saveAt(t, repo, "02", "b", "a", base.Add(time.Second))
	saveAt(t, repo, "04", "a", "b", base.Add(2*time.Second))
	saveAt(t, repo, "03", "a", "b", base.Add(2*time.Second))
	saveAt(t, repo, "05", "b", "a", base.Add(3*time.Second))
	saveAt(t, repo, "99", "a", "c", base.Add(4*time.Second))

	ids := func(ms []*domain.Message) string {
		s := ""
		for _, m := range ms {
			s += m.ID + ","
		}
		return s
	}

	first, total, err := repo.ListConversation(ctx, "b", "a", 0, 3)
	if err != nil {
		t.Fatalf("ListConversation: %v", err)
	}
	if total != 5 || ids(first) != "03,04,05," {
		t.Fatalf("page 1 = %s total %d", ids(first), total)
	}

	second, _, err := repo.ListConversation(ctx, "a", "b", 3, 3)
	if err != nil || ids(second) != "01,02," {
		t.Fatalf("page 2 = %s, %v", ids(second), err)
	}

	last, err := repo.LastMessage(ctx, "a", "b")
	if err != nil || last == nil || last.ID != "05" {
		t.Fatalf("LastMessage = %+v, %v", last, err)
	}
	none, err := repo.LastMessage(ctx, "b", "c")
	if err != nil || none != nil {
		t.Fatalf("LastMessage on empty conversation = %+v, %v", none, err)
	}

	if _, err := repo.GetByID(ctx, "nope"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestMessageReadMonotonic(t *testing.T) {
	ctx := context.Background()
	repo := NewGormMessageRepository(newTestDB(t))
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		saveAt(t, repo, fmt.Sprintf("a%d", i), "alice", "bob", base.Add(time.Duration(i)*time.Millisecond))
	}
	saveAt(t, repo, "b0", "bob", "alice", base)

	if n, _ := repo.CountUnread(ctx, "bob", ""); n != 3 {
		t.Fatalf("unread for bob = %d, want 3", n)
	}

	// Only the recipient can mark a message read.
	n, err := repo.MarkRead(ctx, "alice", []string{"a0"}, time.Now())
	if err != nil || n != 0 {
		t.Fatalf("MarkRead by sender = %d, %v", n, err)
	}

	n, err = repo.MarkRead(ctx, "bob", []string{"a0"}, time.Now())
	if err != nil || n != 1 {
		t.Fatalf("MarkRead = %d, %v", n, err)
	}
	first, _ := repo.GetByID(ctx, "a0")
	if !first.Read || first.ReadAt == nil {
		t.Fatalf("a0 not read: %+v", first)
	}

	n, err = repo.MarkConversationRead(ctx, "bob", "alice", time.Now().Add(time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("MarkConversationRead = %d, %v", n, err)
	}

	// Already-read messages keep their original read time.
	again, _ := repo.GetByID(ctx, "a0")
	if !again.ReadAt.Equal(*first.ReadAt) {
		t.Errorf("read_at moved from %v to %v", first.ReadAt, again.ReadAt)
	}
	if n, _ := repo.MarkConversationRead(ctx, "bob", "alice", time.Now()); n != 0 {
		t.Errorf("second MarkConversationRead changed %d rows", n)
	}

	if n, _ := repo.CountUnread(ctx, "bob", "alice"); n != 0 {
		t.Errorf("unread for bob from alice = %d", n)
	}
	if n, _ := repo.CountUnread(ctx, "alice", "bob"); n != 1 {
		t.Errorf("unread for alice from bob = %d", n)
	}
}
