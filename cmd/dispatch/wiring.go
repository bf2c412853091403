package main

import (
	"log/slog"

	"github.com/bradfitz/gomemcache/memcache"
	"gorm.io/gorm"

	"github.com/opencivics/dispatch"
	"github.com/opencivics/dispatch/internal/config"
	"github.com/opencivics/dispatch/internal/domain"
	"github.com/opencivics/dispatch/internal/infra/database"
	"github.com/opencivics/dispatch/internal/infra/gateway"
	"github.com/opencivics/dispatch/internal/infra/mail"
	"github.com/opencivics/dispatch/internal/infra/repository"
	"github.com/opencivics/dispatch/internal/render"
	"github.com/opencivics/dispatch/internal/service"
	"github.com/opencivics/dispatch/internal/usecase"
)

// dependencies is the wired object graph shared by serve and send.
type dependencies struct {
	registry   *domain.Registry
	sources    *dispatch.SourceRegistry
	events     *usecase.EventUsecase
	delivery   *usecase.DeliveryUsecase
	subs       *repository.SubscriptionRepository
	engagement *service.EngagementService
	mc         *memcache.Client
}

func buildDependencies(conf config.Config, db *gorm.DB) (*dependencies, error) {
	registry := newFeedRegistry()

	// Producer kinds register here when they are linked into the binary.
	// Events published for kinds without a registration still flow through
	// storage and digests with stub rendering.
	sources := dispatch.NewSourceRegistry()

	eventRepo := repository.NewEventRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	bounceRepo := repository.NewBounceRepository(db)

	events := usecase.NewEventUsecase(registry, eventRepo)
	digest := usecase.NewDigestUsecase(registry, eventRepo)

	engagement := newEngagementService(conf)

	mailFactory := mail.Factory(mail.Config{
		Host: conf.Mail.SMTPHost,
		Port: conf.Mail.SMTPPort,
		From: conf.Mail.From,
	})
	rendererFactory := func() usecase.SourceRenderer {
		return gateway.NewSourceGateway(sources)
	}

	delivery := usecase.NewDeliveryUsecase(
		digest,
		subRepo,
		bounceRepo,
		engagement,
		mailFactory,
		rendererFactory,
		render.New(),
		usecase.DeliveryConfig{
			Workers:      conf.Delivery.Workers,
			QueueDepth:   conf.Delivery.QueueDepth,
			Announcement: conf.Delivery.Announcement,
		},
		slog.Default(),
	)

	var mc *memcache.Client
	if conf.Server.MemcachedAddr != "" {
		mc = database.NewMemcached(conf.Server.MemcachedAddr)
	}

	return &dependencies{
		registry:   registry,
		sources:    sources,
		events:     events,
		delivery:   delivery,
		subs:       subRepo,
		engagement: engagement,
		mc:         mc,
	}, nil
}
