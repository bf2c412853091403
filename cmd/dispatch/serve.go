package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/opencivics/dispatch/internal/config"
	"github.com/opencivics/dispatch/internal/infra/database"
	"github.com/opencivics/dispatch/internal/present/rest"
	"github.com/opencivics/dispatch/internal/present/rest/middleware"
	"github.com/opencivics/dispatch/internal/service"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), conf)
		},
	}
}

func runServe(ctx context.Context, conf config.Config) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if conf.Server.EnableTrace {
		cleanup, err := setupTraceProvider(ctx, conf.Server.TraceEndpoint)
		if err != nil {
			return err
		}
		defer cleanup(ctx)
	}

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		return err
	}

	deps, err := buildDependencies(conf, db)
	if err != nil {
		return err
	}

	handler := rest.NewHandler(
		deps.registry,
		deps.events,
		deps.delivery,
		deps.subs,
		deps.engagement,
		deps.mc,
	)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware("dispatch"))
	}
	e.Use(middleware.NewEngagementMiddleware(deps.engagement).TrackActivity)

	handler.RegisterRoutes(e)

	slog.Info("starting server",
		slog.String("addr", conf.Server.ListenAddr),
		slog.String("module", "serve"),
	)
	return e.Start(conf.Server.ListenAddr)
}

func setupTraceProvider(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	resource := sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("dispatch"),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(resource),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

func newEngagementService(conf config.Config) *service.EngagementService {
	rdb := database.NewRedis(conf.Server.RedisAddr, "", conf.Server.RedisDB)
	cutoff := time.Duration(conf.Delivery.InactiveAfterDays) * 24 * time.Hour
	return service.NewEngagementService(rdb, cutoff)
}
