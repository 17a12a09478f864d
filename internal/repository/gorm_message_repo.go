package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/alumni-chat/internal/domain"
)

// GormMessageRepository implements MessageRepository on a relational store.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-backed message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	return r.db.WithContext(ctx).Create(domain.MessageModelFrom(msg)).Error
}

func (r *GormMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var model domain.MessageModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

func (r *GormMessageRepository) ListConversation(ctx context.Context, a, b string, offset, limit int) ([]*domain.Message, int64, error) {
	key := domain.PairKey(a, b)
	db := r.db.WithContext(ctx)

	var total int64
	if err := db.Model(&domain.MessageModel{}).Where("conversation_key = ?", key).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []domain.MessageModel
	err := db.Where("conversation_key = ?", key).
		Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	// Fetched newest first; the page is returned oldest first.
	out := make([]*domain.Message, len(models))
	for i := range models {
		out[len(models)-1-i] = models[i].ToDomain()
	}
	return out, total, nil
}

func (r *GormMessageRepository) LastMessage(ctx context.Context, a, b string) (*domain.Message, error) {
	var models []domain.MessageModel
	err := r.db.WithContext(ctx).
		Where("conversation_key = ?", domain.PairKey(a, b)).
		Order("created_at DESC").Order("id DESC").
		Limit(1).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	return models[0].ToDomain(), nil
}

func (r *GormMessageRepository) MarkConversationRead(ctx context.Context, readerID, senderID string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("recipient_id = ? AND sender_id = ? AND is_read = ?", readerID, senderID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	return result.RowsAffected, result.Error
}

func (r *GormMessageRepository) MarkRead(ctx context.Context, readerID string, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("id IN ? AND recipient_id = ? AND is_read = ?", ids, readerID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	return result.RowsAffected, result.Error
}

func (r *GormMessageRepository) CountUnread(ctx context.Context, recipientID, senderID string) (int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false)
	if senderID != "" {
		q = q.Where("sender_id = ?", senderID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Close is a no-op; the *gorm.DB is owned by the caller.
func (r *GormMessageRepository) Close() error { return nil }

var _ MessageRepository = (*GormMessageRepository)(nil)
