// Package main provides the flowdef API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/flowdef/pkg/metrics"
	"github.com/dukex/flowdef/pkg/services"
	"github.com/dukex/flowdef/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	deps     services.Dependencies
	metrics  *metrics.Metrics
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, deps services.Dependencies) *API {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	deps.Logger = logger

	return &API{
		logger:   logger,
		deps:     deps,
		metrics:  deps.Metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		services.NewDefinition(a.deps),
		services.NewLifecycle(a.deps),
		services.NewStructure(a.deps),
		services.NewMigration(a.deps),
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowdef API")
	})

	app.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
