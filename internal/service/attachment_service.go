package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/weiawesome/alumni-chat/internal/audit"
	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/internal/idgen"
	"github.com/weiawesome/alumni-chat/pkg/log"
	"github.com/weiawesome/alumni-chat/pkg/storage"
)

const attachmentPrefix = "attachments"

type attachmentService struct {
	store     storage.Storage
	ids       *idgen.ULIDGenerator
	maxSize   int64
	urlExpiry time.Duration
}

func NewAttachmentService(store storage.Storage, maxSize int64, urlExpiry time.Duration) AttachmentService {
	if maxSize <= 0 {
		maxSize = 10 << 20
	}
	if urlExpiry <= 0 {
		urlExpiry = time.Hour
	}
	return &attachmentService{
		store:     store,
		ids:       idgen.NewULIDGenerator(),
		maxSize:   maxSize,
		urlExpiry: urlExpiry,
	}
}

// Upload stores the file under attachments/{user}/{id}{ext} and returns a
// URL suitable for an image or file message.
func (s *attachmentService) Upload(ctx context.Context, userID, filename, contentType string, size int64, r io.Reader) (*Attachment, error) {
	l := log.Ctx(ctx)

	if size <= 0 {
		return nil, fmt.Errorf("%w: empty file", domain.ErrValidation)
	}
	if size > s.maxSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", domain.ErrValidation, s.maxSize)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id, err := s.ids.Generate(time.Now())
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 10 {
		ext = ""
	}
	key := fmt.Sprintf("%s/%s/%s%s", attachmentPrefix, userID, id, ext)

	if err := s.store.Write(ctx, key, io.LimitReader(r, size), size, contentType); err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Str("key", key).Msg("failed to store attachment")
		return nil, err
	}

	url, err := s.store.GetURL(ctx, key, s.urlExpiry)
	if err != nil {
		l.Error().Err(err).Str("key", key).Msg("failed to build attachment url")
		return nil, err
	}

	audit.LogWithDetail(ctx, audit.ActionUploadAttachment, userID, key, contentType, "attachment uploaded")
	return &Attachment{
		Key:         key,
		URL:         url,
		ContentType: contentType,
		Size:        size,
	}, nil
}

// Open streams a stored attachment. The caller closes the reader.
func (s *attachmentService) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !strings.HasPrefix(key, attachmentPrefix+"/") || strings.Contains(key, "..") {
		return nil, fmt.Errorf("%w: attachment %s", domain.ErrNotFound, key)
	}
	rc, err := s.store.Read(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: attachment %s", domain.ErrNotFound, key)
		}
		return nil, err
	}
	return rc, nil
}

var _ AttachmentService = (*attachmentService)(nil)
