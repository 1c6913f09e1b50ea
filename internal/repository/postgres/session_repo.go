package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/dom/livechat/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type refreshSessionRepository struct {
	db *gorm.DB
}

func NewRefreshSessionRepository(db *gorm.DB) *refreshSessionRepository {
	return &refreshSessionRepository{db: db}
}

func (r *refreshSessionRepository) Create(ctx context.Context, session *domain.RefreshSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return storeErr("create refresh session", err)
	}
	return nil
}

func (r *refreshSessionRepository) Get(ctx context.Context, id, userID uuid.UUID) (*domain.RefreshSession, error) {
	var session domain.RefreshSession
	err := r.db.WithContext(ctx).First(&session, "id = ? AND user_id = ?", id, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, storeErr("get refresh session", err)
	}
	return &session, nil
}

func (r *refreshSessionRepository) UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&domain.RefreshSession{}).
		Where("id = ?", id).
		Update("expires_at", expiresAt)
	if res.Error != nil {
		return storeErr("extend refresh session", res.Error)
	}
	if res.RowsAffected == 0 {
		// Revoked between lookup and rotation.
		return domain.ErrUnauthorized
	}
	return nil
}

func (r *refreshSessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&domain.RefreshSession{}, "id = ?", id).Error; err != nil {
		return storeErr("delete refresh session", err)
	}
	return nil
}
