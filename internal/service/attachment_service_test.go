package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/pkg/storage"
)

func TestAttachmentUploadAndOpen(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir(), URLPrefix: "/api/v1/files"})
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	svc := NewAttachmentService(store, 16, time.Minute)

	att, err := svc.Upload(ctx, "alice", "Photo.PNG", "image/png", 5, strings.NewReader("image-bytes-beyond-size"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(att.Key, "attachments/alice/") || !strings.HasSuffix(att.Key, ".png") {
		t.Fatalf("key = %s", att.Key)
	}
	if att.URL != "/api/v1/files/"+att.Key || att.Size != 5 {
		t.Fatalf("attachment = %+v", att)
	}

	rc, err := svc.Open(ctx, att.Key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "image" {
		t.Fatalf("stored %q, want only the declared size", b)
	}

	for _, key := range []string{"attachments/alice/missing.png", "secrets/x", "attachments/../x"} {
		if _, err := svc.Open(ctx, key); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Open(%s) = %v", key, err)
		}
	}
}

func TestAttachmentSizeLimits(t *testing.T) {
	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	svc := NewAttachmentService(store, 4, 0)

	for _, size := range []int64{0, 5} {
		if _, err := svc.Upload(context.Background(), "u", "f.txt", "", size, strings.NewReader("xxxxx")); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("size %d: %v", size, err)
		}
	}
}
