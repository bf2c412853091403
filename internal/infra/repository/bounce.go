package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opencivics/dispatch/internal/domain"
	"github.com/opencivics/dispatch/internal/infra/database/models"
	"github.com/opencivics/dispatch/internal/usecase"
)

type BounceRepository struct {
	db *gorm.DB
}

func NewBounceRepository(db *gorm.DB) *BounceRepository {
	return &BounceRepository{db: db}
}

func (r *BounceRepository) IsBounced(ctx context.Context, subscriberID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.BouncedAddress{}).
		Where("subscriber_id = ?", subscriberID).
		Count(&count).Error
	return count > 0, err
}

func (r *BounceRepository) RecordBounce(ctx context.Context, subscriberID, address, reason string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subscriber_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"bounces": gorm.Expr("bounced_addresses.bounces + 1"),
			"reason":  reason,
		}),
	}).Create(&models.BouncedAddress{
		SubscriberID: subscriberID,
		Address:      address,
		Reason:       reason,
	}).Error
}

func (r *BounceRepository) GetBounce(ctx context.Context, subscriberID string) (*domain.Bounce, error) {
	var row models.BouncedAddress
	err := r.db.WithContext(ctx).
		Take(&row, "subscriber_id = ?", subscriberID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, domain.NotFoundError{Resource: "bounce"}
	}
	if err != nil {
		return nil, err
	}
	return &domain.Bounce{
		SubscriberID:    row.SubscriberID,
		Address:         row.Address,
		Reason:          row.Reason,
		FirstBounceTime: row.FirstBounceTime,
		Count:           row.Bounces,
	}, nil
}

var _ usecase.BounceRepository = (*BounceRepository)(nil)
