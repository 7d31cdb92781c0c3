package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"pdf2html/internal/app"
	"pdf2html/internal/artifacts"
	"pdf2html/internal/converter"
	"pdf2html/internal/fetch"
	"pdf2html/internal/handlers"
	"pdf2html/internal/metrics"
	u "pdf2html/internal/utils"
)

func main() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		u.Warn("Failed to load .env", "error", err)
	}

	cfg := u.LoadConfig()
	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	idleConnsClosed := make(chan struct{})
	loadTokens(cfg, idleConnsClosed)

	rdb := newRedisClient(cfg)
	deps, pool, err := buildDeps(cfg, rdb)
	if err != nil {
		u.Error("Failed to initialise service", "error", err)
		os.Exit(1)
	}

	fiberApp := app.SetupApp(cfg, deps)
	u.Info("Starting server",
		"addr", cfg.Server.Host+cfg.Server.Port,
		"backend", pool.Name(),
		"artifact_dir", cfg.Storage.ArtifactDir,
	)

	startServer(fiberApp, cfg, idleConnsClosed)
	<-idleConnsClosed

	pool.Close()
	if rdb != nil {
		_ = rdb.Close()
	}
}

// newRedisClient returns nil when the HTML mirror is disabled.
func newRedisClient(cfg u.Config) *redis.Client {
	if !cfg.Cache.HTMLCacheEnabled || cfg.Cache.RedisHost == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr: cfg.Cache.RedisHost,
		DB:   cfg.Cache.HTMLCacheDB,
	})
}

// loadTokens fills the API token cache. Without a database every presented
// key is rejected.
func loadTokens(cfg u.Config, stop <-chan struct{}) {
	if cfg.Auth.Postgres.Host == "" {
		u.LoadTokensFromMap(map[string]int{})
		return
	}
	if err := u.LoadTokensFromPostgres(context.Background(), cfg.Auth.Postgres); err != nil {
		u.Error("Failed to load API tokens", "error", err)
	}
	go u.RefreshTokensPeriodically(cfg.Auth.Postgres, time.Minute, stop)
}

func buildDeps(cfg u.Config, rdb *redis.Client) (app.Deps, *converter.Pool, error) {
	store, err := artifacts.NewStore(cfg.Storage.ArtifactDir)
	if err != nil {
		return app.Deps{}, nil, err
	}
	pool, err := converter.New(cfg)
	if err != nil {
		return app.Deps{}, nil, err
	}
	m := metrics.New("pdf2html")

	svc := handlers.NewConvertService(cfg, handlers.Deps{
		Store:  store,
		Mirror: artifacts.NewMirror(rdb, cfg.Cache.HTMLCacheTTL),
		Fetcher: fetch.New(fetch.Config{
			Timeout:    cfg.Fetch.Timeout,
			MaxRetries: cfg.Fetch.MaxRetries,
			UserAgent:  cfg.Fetch.UserAgent,
		}),
		Converter: pool,
		Metrics:   m,
	})
	return app.Deps{Service: svc, Metrics: m}, pool, nil
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg u.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			u.Error("Server error", "error", err)
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	<-sigint

	u.Warn("Shutdown signal received, closing server...")

	// In-flight conversions may hold the connection for a while.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		u.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	u.Info("Server stopped cleanly")
}
