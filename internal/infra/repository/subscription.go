package repository

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opencivics/dispatch/internal/domain"
	"github.com/opencivics/dispatch/internal/infra/database/models"
	"github.com/opencivics/dispatch/internal/usecase"
)

// DefaultListName is the list lazily created for a subscriber's first
// subscription.
const DefaultListName = "Email Updates"

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) CandidatesByFrequency(ctx context.Context, freqs []domain.Frequency) ([]domain.Subscriber, error) {
	ints := make([]int, 0, len(freqs))
	for _, f := range freqs {
		ints = append(ints, int(f))
	}

	var subRows []models.Subscriber
	err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&models.SubscriptionList{}).
			Select("subscriber_id").
			Where("frequency IN ?", ints)).
		Order("id ASC").
		Find(&subRows).Error
	if err != nil {
		return nil, err
	}

	subscribers := make([]domain.Subscriber, 0, len(subRows))
	for _, row := range subRows {
		sub, err := r.assemble(ctx, row)
		if err != nil {
			return nil, err
		}
		subscribers = append(subscribers, sub)
	}
	return subscribers, nil
}

func (r *SubscriptionRepository) GetSubscriber(ctx context.Context, subscriberID string) (domain.Subscriber, error) {
	var row models.Subscriber
	err := r.db.WithContext(ctx).Take(&row, "id = ?", subscriberID).Error
	if err == gorm.ErrRecordNotFound {
		return domain.Subscriber{}, domain.NotFoundError{Resource: "subscriber"}
	}
	if err != nil {
		return domain.Subscriber{}, err
	}
	return r.assemble(ctx, row)
}

// assemble loads all of the subscriber's lists with their trackers. The
// pipeline filters by frequency itself; loading everything keeps the full
// tracker set available as rendering context.
func (r *SubscriptionRepository) assemble(ctx context.Context, row models.Subscriber) (domain.Subscriber, error) {
	var listRows []models.SubscriptionList
	err := r.db.WithContext(ctx).
		Where("subscriber_id = ?", row.ID).
		Order("name ASC").
		Find(&listRows).Error
	if err != nil {
		return domain.Subscriber{}, err
	}

	sub := domain.Subscriber{ID: row.ID, Address: row.Address}
	for _, lr := range listRows {
		var trackers []models.SubscriptionTracker
		err := r.db.WithContext(ctx).
			Where("list_id = ?", lr.ID).
			Find(&trackers).Error
		if err != nil {
			return domain.Subscriber{}, err
		}
		names := make([]string, 0, len(trackers))
		for _, t := range trackers {
			names = append(names, t.Feed)
		}
		sort.Strings(names)

		sub.Lists = append(sub.Lists, domain.SubscriptionList{
			ID:                 lr.ID,
			SubscriberID:       lr.SubscriberID,
			Name:               lr.Name,
			IsDefault:          lr.IsDefault,
			Frequency:          domain.Frequency(lr.Frequency),
			Trackers:           names,
			LastEventDelivered: lr.LastEventDelivered,
			LastDeliveryTime:   lr.LastDeliveryTime,
		})
	}
	return sub, nil
}

// AdvanceCursor moves a list's cursor forward and stamps the delivery time.
// The guard keeps cursors monotonic even if a stale run settles late.
func (r *SubscriptionRepository) AdvanceCursor(ctx context.Context, listID int64, cursor int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.SubscriptionList{}).
		Where("id = ?", listID).
		Where("last_event_delivered IS NULL OR last_event_delivered <= ?", cursor).
		Updates(map[string]any{
			"last_event_delivered": cursor,
			"last_delivery_time":   at,
		}).Error
}

// Subscribe adds a feed to the subscriber's default list, creating the
// subscriber's default list on first use.
func (r *SubscriptionRepository) Subscribe(ctx context.Context, subscriberID, feedName string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var list models.SubscriptionList
		err := tx.Where("subscriber_id = ? AND is_default = true", subscriberID).
			Take(&list).Error
		if err == gorm.ErrRecordNotFound {
			list = models.SubscriptionList{
				SubscriberID: subscriberID,
				Name:         DefaultListName,
				IsDefault:    true,
				Frequency:    int(domain.FreqDaily),
			}
			err = tx.Create(&list).Error
		}
		if err != nil {
			return err
		}

		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.SubscriptionTracker{ListID: list.ID, Feed: feedName}).Error
	})
}

// Unsubscribe removes a feed from every list the subscriber owns. Lists
// left empty are deleted unless they are the default list.
func (r *SubscriptionRepository) Unsubscribe(ctx context.Context, subscriberID, feedName string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lists []models.SubscriptionList
		if err := tx.Where("subscriber_id = ?", subscriberID).Find(&lists).Error; err != nil {
			return err
		}
		for _, list := range lists {
			err := tx.Delete(&models.SubscriptionTracker{}, "list_id = ? AND feed = ?", list.ID, feedName).Error
			if err != nil {
				return err
			}
			if list.IsDefault {
				continue
			}
			var remaining int64
			err = tx.Model(&models.SubscriptionTracker{}).
				Where("list_id = ?", list.ID).
				Count(&remaining).Error
			if err != nil {
				return err
			}
			if remaining == 0 {
				if err := tx.Delete(&models.SubscriptionList{}, "id = ?", list.ID).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

var _ usecase.SubscriptionRepository = (*SubscriptionRepository)(nil)
var _ usecase.SubscriptionManager = (*SubscriptionRepository)(nil)
