package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/opencivics/dispatch/internal/usecase"
)

var tracer = otel.Tracer("engagement")

const pingKeyPrefix = "ping:"

// EngagementService tracks when a subscriber was last seen on the site and
// answers whether they are still worth emailing. Pings live in redis; a
// subscriber with no ping on record is treated as active, since absence
// usually means the front end never reported rather than years of silence.
type EngagementService struct {
	rdb    *redis.Client
	cutoff time.Duration

	now func() time.Time
}

func NewEngagementService(rdb *redis.Client, cutoff time.Duration) *EngagementService {
	return &EngagementService{
		rdb:    rdb,
		cutoff: cutoff,
		now:    time.Now,
	}
}

// Touch records site activity for a subscriber.
func (s *EngagementService) Touch(ctx context.Context, subscriberID string) error {
	ctx, span := tracer.Start(ctx, "Engagement.Service.Touch")
	defer span.End()

	err := s.rdb.Set(ctx, pingKeyPrefix+subscriberID, s.now().UTC().Format(time.RFC3339), 0).Err()
	if err != nil {
		span.RecordError(errors.Wrap(err, "recording ping failed"))
		return err
	}
	return nil
}

// IsActive reports whether the subscriber has been seen within the cutoff.
func (s *EngagementService) IsActive(ctx context.Context, subscriberID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Engagement.Service.IsActive")
	defer span.End()

	val, err := s.rdb.Get(ctx, pingKeyPrefix+subscriberID).Result()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		span.RecordError(errors.Wrap(err, "ping lookup failed"))
		return false, err
	}

	last, err := time.Parse(time.RFC3339, val)
	if err != nil {
		span.RecordError(err)
		return true, nil
	}
	return s.now().Sub(last) <= s.cutoff, nil
}

var _ usecase.EngagementPolicy = (*EngagementService)(nil)
