package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/weiawesome/alumni-chat/internal/domain"
)

// isUniqueViolation reports whether err is a unique-constraint violation.
// Requires gorm.Config.TranslateError, which pkg/database sets.
func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// GormConnectionRepository implements ConnectionRepository using GORM.
type GormConnectionRepository struct {
	db *gorm.DB
}

// NewGormConnectionRepository creates a new GORM-backed connection repository.
func NewGormConnectionRepository(db *gorm.DB) *GormConnectionRepository {
	return &GormConnectionRepository{db: db}
}

func (r *GormConnectionRepository) Create(ctx context.Context, conn *domain.Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	model := domain.ConnectionModel{
		ID:          conn.ID,
		PairKey:     domain.PairKey(conn.RequesterID, conn.RecipientID),
		RequesterID: conn.RequesterID,
		RecipientID: conn.RecipientID,
		Status:      string(domain.StatusPending),
		Message:     conn.Message,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConnectionExists
		}
		return err
	}
	conn.Status = domain.StatusPending
	conn.CreatedAt = model.CreatedAt
	return nil
}

func (r *GormConnectionRepository) GetByID(ctx context.Context, id string) (*domain.Connection, error) {
	var model domain.ConnectionModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

func (r *GormConnectionRepository) GetByPair(ctx context.Context, a, b string) (*domain.Connection, error) {
	var model domain.ConnectionModel
	if err := r.db.WithContext(ctx).Where("pair_key = ?", domain.PairKey(a, b)).First(&model).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

func (r *GormConnectionRepository) Respond(ctx context.Context, id string, status domain.ConnectionStatus, responseMessage string, at time.Time) (*domain.Connection, error) {
	var out *domain.Connection
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Conditional update: the status guard serializes racing responders.
		result := tx.Model(&domain.ConnectionModel{}).
			Where("id = ? AND status = ?", id, string(domain.StatusPending)).
			Updates(map[string]interface{}{
				"status":           string(status),
				"response_message": responseMessage,
				"responded_at":     at,
			})
		if result.Error != nil {
			return result.Error
		}

		var model domain.ConnectionModel
		if err := tx.Where("id = ?", id).First(&model).Error; err != nil {
			if isNotFound(err) {
				return ErrConnectionNotFound
			}
			return err
		}
		if result.RowsAffected == 0 {
			return ErrNotPending
		}

		if status == domain.StatusAccepted {
			since := at.UTC().Truncate(time.Millisecond)
			members := []domain.MembershipModel{
				{UserID: model.RequesterID, PeerID: model.RecipientID, ConnectionID: model.ID, CreatedAt: since},
				{UserID: model.RecipientID, PeerID: model.RequesterID, ConnectionID: model.ID, CreatedAt: since},
			}
			if err := tx.Create(&members).Error; err != nil {
				return err
			}
		}

		out = model.ToDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormConnectionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND status = ?", id, string(domain.StatusAccepted)).
			Delete(&domain.ConnectionModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&domain.ConnectionModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrConnectionNotFound
			}
			return ErrNotAccepted
		}
		return tx.Where("connection_id = ?", id).Delete(&domain.MembershipModel{}).Error
	})
}

func (r *GormConnectionRepository) ListPeers(ctx context.Context, userID string) ([]domain.Peer, error) {
	var models []domain.MembershipModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	peers := make([]domain.Peer, 0, len(models))
	for _, m := range models {
		peers = append(peers, domain.Peer{UserID: m.PeerID, ConnectionID: m.ConnectionID, Since: m.CreatedAt})
	}
	return peers, nil
}

func (r *GormConnectionRepository) IsConnected(ctx context.Context, a, b string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.MembershipModel{}).
		Where("user_id = ? AND peer_id = ?", a, b).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormConnectionRepository) ListReceived(ctx context.Context, userID string, status domain.ConnectionStatus) ([]*domain.Connection, error) {
	return r.list(ctx, "recipient_id = ?", userID, status)
}

func (r *GormConnectionRepository) ListSent(ctx context.Context, userID string, status domain.ConnectionStatus) ([]*domain.Connection, error) {
	return r.list(ctx, "requester_id = ?", userID, status)
}

func (r *GormConnectionRepository) list(ctx context.Context, cond, userID string, status domain.ConnectionStatus) ([]*domain.Connection, error) {
	q := r.db.WithContext(ctx).Where(cond, userID)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var models []domain.ConnectionModel
	if err := q.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Connection, 0, len(models))
	for i := range models {
		out = append(out, models[i].ToDomain())
	}
	return out, nil
}

// Ensure interface is satisfied at compile time.
var _ ConnectionRepository = (*GormConnectionRepository)(nil)
