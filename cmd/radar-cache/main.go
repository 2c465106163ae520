package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	httpapi "github.com/i474232898/radar-cache/internal/api/http"
	"github.com/i474232898/radar-cache/internal/cache"
	"github.com/i474232898/radar-cache/internal/config"
	"github.com/i474232898/radar-cache/internal/radar"
	"github.com/i474232898/radar-cache/internal/radar/source"
	"github.com/i474232898/radar-cache/internal/scheduler"
	"github.com/i474232898/radar-cache/internal/scraping"
	"github.com/i474232898/radar-cache/internal/scraping/workflows"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "radar-cache").Logger()

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(lvl)
	}

	// Filesystem cache with configured retention.
	store, err := cache.NewStore(cache.Config{
		Root:        cfg.CacheDirectory,
		FrameCounts: map[radar.DataType]int{radar.DataTypeRadar: cfg.RadarFrameCount},
		MaxFolders:  cfg.CacheMaxFolders,
		MaxAge:      cfg.CacheRetention,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open cache")
	}
	if err := store.CleanStaging(); err != nil {
		log.Warn().Err(err).Msg("failed to clean staging folders")
	}

	// Remote radar source with resilience (backoff + circuit breaker).
	src, err := source.NewHTTPSource(source.Config{
		BaseURL: cfg.RadarSourceURL,
		Timeout: cfg.HTTPTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create radar source")
	}

	// Steps are registered explicitly; the engine and workflows share one registry.
	registry := scraping.NewRegistry(log)
	workflows.RegisterRadarSteps(registry, src, cfg.RadarFrameCount)
	engine := scraping.NewEngine(registry, log)
	factory := workflows.NewFactory(workflows.NewRadarWorkflow(engine, store, log))

	// Lifecycle manager that periodically refreshes stale locations.
	manager, err := scheduler.New(scheduler.Config{
		Locations:      cfg.Locations,
		CheckInterval:  cfg.CheckInterval,
		Expiration:     cfg.CacheExpiration,
		RefreshTimeout: cfg.RefreshTimeout,
		Concurrency:    cfg.RefreshConcurrency,
	}, store, factory, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create cache manager")
	}
	if err := manager.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start cache manager")
	}
	defer manager.Stop()

	service := radar.NewService(store, manager, log)

	app := fiber.New(fiber.Config{
		AppName:               "radar-cache",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSAllowedOrigins}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":             "ok",
			"service":            "radar-cache",
			"trackedLocations":   len(manager.Locations()),
			"refreshesInFlight":  manager.InFlight(),
			"availableWorkflows": factory.Names(),
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, service)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("fiber server stopped")
		}
	}()
	log.Info().Str("port", cfg.Port).Msg("radar-cache listening")

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}
