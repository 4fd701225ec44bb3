package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/dukex/flowdef/pkg/cmd"
	"github.com/dukex/flowdef/pkg/log"
	"github.com/dukex/flowdef/pkg/metrics"
	"github.com/dukex/flowdef/pkg/otelhelper"
	"github.com/dukex/flowdef/pkg/services"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "flowdef-api",
		Usage:                 "Create, version and release workflow definitions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file://dir or postgres://...)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for cluster-wide locks and codes; in-process when empty",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.Int64Flag{
				Name:    "node-id",
				Usage:   "Node id of the snowflake code generator (0-1023)",
				Value:   1,
				Sources: cli.EnvVars("NODE_ID"),
			},
			&cli.StringFlag{
				Name:    "projects-file",
				Usage:   "YAML file listing known projects and tenants; all are accepted when empty",
				Sources: cli.EnvVars("PROJECTS_FILE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Flowdef API")

			deps, cleanup, err := buildDependencies(ctx, command, logger)
			defer cleanup()

			if err != nil {
				return err
			}

			api := NewAPI(logger, deps)

			err = api.Start(int(command.Int("port")))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return err
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("flowdef-api stopped", "error", err)
		os.Exit(1)
	}
}

// buildDependencies wires the collaborators selected by the flags. cleanup is always safe to call.
func buildDependencies(ctx context.Context, command *cli.Command, logger *slog.Logger) (services.Dependencies, func(), error) {
	var closers []func()

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return services.Dependencies{}, cleanup, err
	}

	closers = append(closers, func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	})

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		return services.Dependencies{}, cleanup, err
	}

	closers = append(closers, func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	})

	redisClient, err := cmd.NewRedisClient(command.String("redis-url"))
	if err != nil {
		return services.Dependencies{}, cleanup, err
	}

	if redisClient != nil {
		closers = append(closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close redis client", "error", err)
			}
		})
	}

	codes, err := cmd.NewCodeGenerator(redisClient, command.Int64("node-id"))
	if err != nil {
		return services.Dependencies{}, cleanup, err
	}

	oracle, err := cmd.NewProjects(command.String("projects-file"))
	if err != nil {
		return services.Dependencies{}, cleanup, err
	}

	tracer := otelhelper.NoopTracer()

	if command.Bool("tracing") {
		t, shutdown, err := otelhelper.NewTracer(ctx, "flowdef-api")
		if err != nil {
			return services.Dependencies{}, cleanup, err
		}

		tracer = t

		closers = append(closers, func() {
			if err := shutdown(context.Background()); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		})
	}

	return services.Dependencies{
		Persistence: persistence,
		Codes:       codes,
		Locker:      cmd.NewLocker(redisClient, logger),
		Projects:    oracle,
		History:     cmd.NewHistory(persistence, logger),
		Events:      eventBus,
		Metrics:     metrics.New(),
		Tracer:      tracer,
		Logger:      logger,
	}, cleanup, nil
}
