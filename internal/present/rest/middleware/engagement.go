package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opencivics/dispatch/internal/service"
)

var tracer = otel.Tracer("middleware")

// SubscriberIDHeader carries the subscriber identity on API calls made on a
// subscriber's behalf. Any request bearing it counts as subscriber activity.
const SubscriberIDHeader = "X-Subscriber-Id"

type EngagementMiddleware struct {
	engagement *service.EngagementService
}

func NewEngagementMiddleware(engagement *service.EngagementService) *EngagementMiddleware {
	return &EngagementMiddleware{
		engagement: engagement,
	}
}

// TrackActivity refreshes the subscriber's activity marker on every request
// carrying a subscriber id. Failures are recorded and swallowed; engagement
// tracking must never break an API call.
func (s *EngagementMiddleware) TrackActivity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Middleware.TrackActivity")
		defer span.End()

		subscriberID := c.Request().Header.Get(SubscriberIDHeader)
		if subscriberID != "" {
			span.SetAttributes(attribute.String("SubscriberId", subscriberID))
			if err := s.engagement.Touch(ctx, subscriberID); err != nil {
				span.RecordError(errors.Wrap(err, "EngagementMiddleware.TrackActivity: engagement.Touch failed"))
			}
		}

		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}
