package main

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"

	kyc "github.com/goliatone/go-kyc"
	"github.com/goliatone/go-kyc/activitymap"
	"github.com/goliatone/go-kyc/config"
	"github.com/goliatone/go-kyc/storage"
)

//go:embed data/fixtures/*.yml
var fixturesFS embed.FS

type server struct {
	http   router.Server[*fiber.App]
	client *persistence.Client
}

func (s *server) Close() {
	if s.client != nil {
		_ = s.client.DB().Close()
	}
}

func openSQL(cfg config.PersistenceConfig) (*sql.DB, schema.Dialect, error) {
	switch cfg.GetDriver() {
	case "postgres":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.GetDSN())))
		return sqldb, pgdialect.New(), nil
	case "sqlite":
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.GetDSN())
		if err != nil {
			return nil, nil, err
		}
		// sqlite allows a single writer
		sqldb.SetMaxOpenConns(1)
		return sqldb, sqlitedialect.New(), nil
	default:
		return nil, nil, fmt.Errorf("unsupported persistence driver %q", cfg.GetDriver())
	}
}

// setupPersistence opens the configured database, applies the embedded
// migrations and loads the account fixtures when enabled.
func setupPersistence(ctx context.Context, cfg config.PersistenceConfig, logger *slog.Logger) (*persistence.Client, error) {
	sqldb, dialect, err := openSQL(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	kyc.RegisterModels()

	client, err := persistence.New(cfg, sqldb, dialect)
	if err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.GetPingTimeout())
	defer cancel()
	if err := client.DB().PingContext(pingCtx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Migrate {
		if err := kyc.Migrate(ctx, client); err != nil {
			_ = sqldb.Close()
			return nil, err
		}
	}

	if cfg.Seed {
		client.RegisterFixtures(fixturesFS).AddOptions(persistence.WithTrucateTables())
		if err := client.Seed(ctx); err != nil {
			_ = sqldb.Close()
			return nil, fmt.Errorf("seed fixtures: %w", err)
		}
	}

	if report := client.Report(); report != nil && !report.IsZero() {
		logger.Info("persistence ready", "report", report.String())
	}

	return client, nil
}

func build(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*server, error) {
	client, err := setupPersistence(ctx, cfg.Persistence, logger)
	if err != nil {
		return nil, err
	}
	srv := &server{client: client}
	db := client.DB()

	repos := kyc.NewRepositoryManager(db)
	repos.MustValidate()

	store, err := storage.New(ctx, storage.Options{
		Backend: cfg.Files.Backend,
		Root:    cfg.Files.Root,
		S3:      cfg.Files.S3,
	})
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("init file storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := kyc.NewMetrics(registry)

	sink := activitymap.Sink(func(ctx context.Context, record activitymap.Record) error {
		logger.InfoContext(ctx, "activity",
			"verb", record.Verb,
			"actor_id", record.ActorID,
			"object_type", record.ObjectType,
			"object_id", record.ObjectID,
			"metadata", record.Metadata,
		)
		return nil
	}, activitymap.WithChannel(cfg.ServiceName))

	attacher := kyc.NewFileAttacher(store, repos.MediaFiles(),
		kyc.WithMaxFileBytes(cfg.Files.MaxBytes),
		kyc.WithAllowedExtensions(cfg.Files.AllowedExtensions...),
		kyc.WithFileAttacherLogger(logger),
	)

	controller := kyc.NewController(repos, attacher,
		[]kyc.ControllerOption{
			kyc.WithControllerLogger(logger),
			kyc.WithControllerDebug(cfg.Debug),
			kyc.WithStaffSigningKey([]byte(cfg.Auth.SigningKey), cfg.Auth.Issuer),
		},
		kyc.WithLogger(logger),
		kyc.WithMetrics(metrics),
		kyc.WithActivitySink(sink),
		kyc.WithIDGenerator(kyc.NewRandomIDGenerator(cfg.Requests.IDPrefix, cfg.Requests.IDLength)),
		kyc.WithMaxIDAttempts(cfg.Requests.MaxIDAttempts),
		kyc.WithTokenTTL(
			time.Duration(cfg.Tokens.DefaultTTLHours)*time.Hour,
			time.Duration(cfg.Tokens.MaxTTLHours)*time.Hour,
		),
	)

	if cfg.Auth.SigningKey == "" {
		logger.Warn("auth.signing_key is empty, internal routes are not protected", "env", cfg.Env)
	}

	srv.http = router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		app := router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:               cfg.ServiceName,
			ReadTimeout:           cfg.HTTP.ReadTimeout,
			WriteTimeout:          cfg.HTTP.WriteTimeout,
			BodyLimit:             cfg.HTTP.BodyLimit,
			DisableStartupMessage: true,
		}))
		app.Use(recover.New())
		app.Use(requestid.New())
		app.Use(requestLogger(logger))
		return app
	})

	srv.http.Router().Get("/health", func(ctx router.Context) error {
		if err := db.PingContext(ctx.Context()); err != nil {
			return ctx.JSON(http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		}
		return ctx.JSON(router.StatusOK, map[string]any{"status": "ok"})
	}).SetName("health")

	srv.http.WrappedRouter().Get(cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	kyc.RegisterRoutes(srv.http.Router(), controller)

	return srv, nil
}

func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Info("http request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
		)
		return err
	}
}
