// Command portal-server runs the portal's chat backend.
//
// Usage:
//
//	portal-server serve [--migrate]
//	portal-server migrate
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"commerce-portal-backend/internal/config"
	"commerce-portal-backend/internal/db"
	"commerce-portal-backend/internal/dedupe"
	"commerce-portal-backend/internal/gateway"
	"commerce-portal-backend/internal/logging"
	"commerce-portal-backend/internal/server"
	"commerce-portal-backend/internal/store"
)

func main() {
	app := &cli.App{
		Name:  "portal-server",
		Usage: "Commerce portal chat backend",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve the HTTP API",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "migrate", Usage: "apply database migrations before serving"},
				},
				Action: serveAction,
			},
			{
				Name:   "migrate",
				Usage:  "Apply database migrations and exit",
				Action: migrateAction,
			},
		},
		DefaultCommand: "serve",
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *zap.Logger {
	return logging.New("portal-server", logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
}

func migrateAction(c *cli.Context) error {
	cfg := config.Load()
	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	if cfg.DatabaseURL == "" {
		return cli.Exit("DB_URL is required to run migrations", 1)
	}
	database, err := db.New(c.Context, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	return database.RunMigrations(c.Context, db.Migrations())
}

func serveAction(c *cli.Context) error {
	cfg := config.Load()
	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{
		Logger: logger,
		Gateway: gateway.New(gateway.Config{
			URL:          cfg.GatewayURL,
			APIKey:       cfg.GatewayAPIKey,
			ClientID:     cfg.GatewayClientID,
			ClientSecret: cfg.GatewayClientSecret,
			TokenURL:     cfg.GatewayTokenURL,
			Timeout:      cfg.GatewayTimeout,
			Production:   cfg.IsProduction(),
		}, logger.With(zap.String("component", "gateway"))),
	}

	if cfg.PersistenceEnabled {
		if cfg.DatabaseURL != "" {
			database, err := db.New(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer database.Close()
			if c.Bool("migrate") {
				if err := database.RunMigrations(ctx, db.Migrations()); err != nil {
					return fmt.Errorf("failed to run migrations: %w", err)
				}
			}
			deps.Store = store.NewDatabaseStore(database)
			deps.Health = database
		} else {
			logger.Warn("DB_URL not provided, chat history is kept in memory only")
			deps.Store = store.NewMemoryStore(cfg.MaxThreadMessages)
		}

		if cfg.RedisURL != "" {
			seen, err := dedupe.NewRedisSet(dedupe.RedisConfig{URL: cfg.RedisURL, TTL: cfg.SeenTTL})
			if err != nil {
				return fmt.Errorf("failed to configure redis: %w", err)
			}
			defer seen.Close()
			if err := seen.Ping(ctx); err != nil {
				logger.Warn("redis unreachable at startup; duplicate detection may degrade", zap.Error(err))
			}
			deps.Seen = seen
		} else {
			deps.Seen = dedupe.NewMemorySet(cfg.SeenCapacity, cfg.SeenTTL)
		}
	} else {
		logger.Info("persistence disabled")
	}

	s, err := server.NewServer(cfg, deps)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("portal server listening", zap.String("addr", srv.Addr), zap.String("environment", cfg.Environment))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
