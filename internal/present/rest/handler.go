package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/labstack/echo/v4"

	"github.com/opencivics/dispatch"
	"github.com/opencivics/dispatch/internal/domain"
	"github.com/opencivics/dispatch/internal/present/rest/presenter"
	"github.com/opencivics/dispatch/internal/service"
	"github.com/opencivics/dispatch/internal/usecase"
)

const (
	defaultEventCount = 20
	maxEventCount     = 100
	eventCacheSeconds = 60
)

type Handler struct {
	registry   *domain.Registry
	events     *usecase.EventUsecase
	delivery   *usecase.DeliveryUsecase
	subs       usecase.SubscriptionManager
	engagement *service.EngagementService
	mc         *memcache.Client
}

func NewHandler(
	registry *domain.Registry,
	events *usecase.EventUsecase,
	delivery *usecase.DeliveryUsecase,
	subs usecase.SubscriptionManager,
	engagement *service.EngagementService,
	mc *memcache.Client,
) *Handler {
	return &Handler{
		registry:   registry,
		events:     events,
		delivery:   delivery,
		subs:       subs,
		engagement: engagement,
		mc:         mc,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.handleHealth)
	e.POST("/api/v1/sources/:kind/:id/events", h.handlePublish)
	e.GET("/api/v1/feeds/:name", h.handleFeed)
	e.GET("/api/v1/feeds/:name/events", h.handleFeedEvents)
	e.GET("/api/v1/events", h.handleEvents)
	e.GET("/api/v1/subscribers/:id/status", h.handleSubscriberStatus)
	e.POST("/api/v1/subscribers/:id/ping", h.handlePing)
	e.POST("/api/v1/subscribers/:id/trackers/:feed", h.handleSubscribe)
	e.DELETE("/api/v1/subscribers/:id/trackers/:feed", h.handleUnsubscribe)
}

func (h *Handler) handleHealth(c echo.Context) error {
	return presenter.OK(c, echo.Map{"status": "ok"})
}

// handlePublish reconciles a source's asserted events. Producers call this
// with their full current event set; anything missing from the body is
// retracted.
func (h *Handler) handlePublish(c echo.Context) error {
	ctx := c.Request().Context()

	src := dispatch.SourceRef{
		Kind: c.Param("kind"),
		ID:   c.Param("id"),
	}

	var assertions []domain.Assertion
	if err := c.Bind(&assertions); err != nil {
		return presenter.BadRequest(c, err)
	}

	deleted, err := h.events.Publish(ctx, src, assertions)
	if err != nil {
		if errors.Is(err, domain.UnknownFeedError{}) {
			return presenter.BadRequest(c, err)
		}
		var rerr domain.ReconciliationError
		if errors.As(err, &rerr) {
			return presenter.InternalError(c, err)
		}
		return presenter.BadRequest(c, err)
	}
	return presenter.OK(c, echo.Map{
		"status":  "ok",
		"deleted": len(deleted),
	})
}

type feedResponse struct {
	Name            string `json:"name"`
	Title           string `json:"title"`
	Meta            bool   `json:"meta"`
	SingleEventType bool   `json:"singleEventType"`
}

func (h *Handler) handleFeed(c echo.Context) error {
	feed, err := h.registry.Resolve(c.Param("name"))
	if err != nil {
		return presenter.NotFound(c, err.Error())
	}
	return presenter.OK(c, feedResponse{
		Name:            feed.Name,
		Title:           feed.Title(),
		Meta:            feed.Meta(),
		SingleEventType: feed.SingleEventType(),
	})
}

func (h *Handler) handleFeedEvents(c echo.Context) error {
	return h.respondEvents(c, []string{c.Param("name")})
}

func (h *Handler) handleEvents(c echo.Context) error {
	var names []string
	if raw := c.QueryParam("feeds"); raw != "" {
		names = strings.Split(raw, ",")
	}
	return h.respondEvents(c, names)
}

func (h *Handler) respondEvents(c echo.Context, names []string) error {
	ctx := c.Request().Context()

	count := defaultEventCount
	if raw := c.QueryParam("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return presenter.BadRequestMessage(c, "count must be a positive integer")
		}
		count = parsed
	}
	if count > maxEventCount {
		count = maxEventCount
	}

	cacheKey := fmt.Sprintf("events:%s:%d", strings.Join(names, ","), count)
	if h.mc != nil {
		if cached, err := h.mc.Get(cacheKey); err == nil {
			return c.JSONBlob(200, cached.Value)
		}
	}

	items, err := h.events.MostRecentByNames(ctx, names, count)
	if err != nil {
		if errors.Is(err, domain.UnknownFeedError{}) {
			return presenter.NotFound(c, err.Error())
		}
		return presenter.InternalError(c, err)
	}
	if items == nil {
		items = []domain.Item{}
	}

	if h.mc != nil {
		if body, err := json.Marshal(items); err == nil {
			_ = h.mc.Set(&memcache.Item{
				Key:        cacheKey,
				Value:      body,
				Expiration: eventCacheSeconds,
			})
		}
	}
	return presenter.OK(c, items)
}

func (h *Handler) handleSubscriberStatus(c echo.Context) error {
	ctx := c.Request().Context()

	status, err := h.delivery.Status(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFound(c, err.Error())
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, status)
}

func (h *Handler) handlePing(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.engagement.Touch(ctx, c.Param("id")); err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleSubscribe(c echo.Context) error {
	ctx := c.Request().Context()

	name := c.Param("feed")
	if _, err := h.registry.Resolve(name); err != nil {
		return presenter.NotFound(c, err.Error())
	}
	if err := h.subs.Subscribe(ctx, c.Param("id"), name); err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleUnsubscribe(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.subs.Unsubscribe(ctx, c.Param("id"), c.Param("feed")); err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}
