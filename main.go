package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"todo-api/api"
	"todo-api/config"
	"todo-api/storage"
)

type closer interface {
	Close(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	var store api.Storage = backend
	var deduper api.Deduper
	if cfg.Redis.ConnectionString != "" {
		redisOpts, err := cfg.Redis.RedisOptions()
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(redisOpts)
		store = storage.NewCache(backend, rc, cfg.Redis.TTL.Duration)
		deduper = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL.Duration)
		logger.WithField("ttl", cfg.Redis.TTL.Duration.String()).Info("read cache enabled")
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.JSONSerializer{}
	e.HTTPErrorHandler = api.ErrorHandler(logger)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, api.HeaderIdempotencyKey},
	}))
	e.Use(api.RequestLogger(logger))
	e.Use(echoprometheus.NewMiddleware("todo_api"))
	e.GET("/metrics", echoprometheus.NewHandler())
	e.Static("/", cfg.AssetsDir)

	api.Register(e, store, deduper, logger)

	go func() {
		logger.WithFields(log.Fields{"port": cfg.Port, "driver": cfg.Driver}).Info("listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	if c, ok := backend.(closer); ok {
		if err := c.Close(shutdownCtx); err != nil {
			logger.WithError(err).Error("storage close")
		}
	}
}

func openBackend(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return storage.NewMemory()
	case config.DriverTables:
		return storage.NewTables(ctx, cfg.Tables.ConnectionString, cfg.Tables.Table)
	default:
		return storage.NewMongo(ctx, storage.MongoConfig{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			Collection:     cfg.Mongo.Collection,
			ConnectTimeout: cfg.Mongo.ConnectTimeout.Duration,
			PingTimeout:    cfg.Mongo.PingTimeout.Duration,
		})
	}
}
