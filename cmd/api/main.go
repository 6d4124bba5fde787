package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/SergeiKhy/shortlink-analytics/internal/config"
	"github.com/SergeiKhy/shortlink-analytics/internal/geo"
	"github.com/SergeiKhy/shortlink-analytics/internal/handler"
	"github.com/SergeiKhy/shortlink-analytics/internal/metrics"
	"github.com/SergeiKhy/shortlink-analytics/internal/middleware"
	"github.com/SergeiKhy/shortlink-analytics/internal/repository"
	"github.com/SergeiKhy/shortlink-analytics/internal/repository/migrations"
	"github.com/SergeiKhy/shortlink-analytics/internal/service"
)

func main() {
	// Загрузка конфига
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server exited")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	if lvl == zapcore.DebugLevel {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	checks := map[string]handler.HealthCheck{}

	// Хранилище ссылок
	var (
		linkRepo  repository.LinkRepository
		cacheRepo repository.CacheRepository
		redisDB   *repository.RedisDB
	)
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		logger.Warn("Using in-memory storage, data is lost on restart")
		linkRepo = repository.NewMemoryLinkRepository()

	default:
		if cfg.DB.Migrate {
			if err := migrate(cfg.DB, logger); err != nil {
				return err
			}
		}

		// Подключение к БД (postgres)
		db, err := repository.NewPostgresDB(ctx, cfg.DB)
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info("Connected to PostgreSQL")

		linkRepo = repository.NewLinkRepository(db)
		checks["postgres"] = db.Pool.Ping
	}

	// Подключение к Redis: кэш ссылок и кэш геолокации. In-memory хранилищу кэш не нужен.
	if cfg.Cache.Enabled && cfg.Storage.Driver != config.StorageDriverMemory {
		var err error
		redisDB, err = repository.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisDB.Close()
		logger.Info("Connected to Redis")

		cacheRepo = repository.NewCacheRepository(redisDB)
		checks["redis"] = func(ctx context.Context) error { return redisDB.Client.Ping(ctx).Err() }
	}

	// Геолокация
	var geoResolver geo.Resolver
	if cfg.Geo.Enabled {
		client := geo.NewIPAPIClient(geo.IPAPIConfig{
			BaseURL: cfg.Geo.BaseURL,
			Timeout: cfg.Geo.Timeout,
		}, m, logger)
		if redisDB != nil {
			geoResolver = geo.NewCachedResolver(client, redisDB.Client, cfg.Geo.CacheTTL, logger)
		} else {
			geoResolver = geo.NewCachedResolver(client, nil, cfg.Geo.CacheTTL, logger)
		}
	}

	// Инициализация сервисов
	linkService := service.NewLinkService(linkRepo, cacheRepo, service.LinkServiceConfig{
		CacheTTL:       cfg.Cache.TTL,
		BlockedDomains: cfg.Links.BlockedDomains,
		ReservedCodes:  cfg.App.ReservedRoutes,
		Metrics:        m,
	}, logger)

	// Инициализация процессора кликов (Worker Pool)
	recorder := service.NewClickRecorder(linkRepo, geoResolver, service.ClickRecorderConfig{
		Workers:       cfg.Click.Workers,
		Buffer:        cfg.Click.Buffer,
		RecordTimeout: cfg.Click.RecordTimeout,
		GeoTimeout:    cfg.Geo.Timeout,
	}, m, logger)
	recorder.Start()

	resolver := service.NewRedirectResolver(linkService, recorder, cfg.App.ReservedRoutes, cfg.App.FallbackURL, m, logger)

	// Инициализация middleware
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
		CleanupInterval:   time.Minute,
	})
	defer rateLimiter.Close()

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET is empty, JWT authentication disabled")
	}
	if len(cfg.Auth.APIKeys) > 0 {
		logger.Info("API key authentication enabled", zap.Int("keys_count", len(cfg.Auth.APIKeys)))
	}

	// Настройка роутера
	router := handler.NewRouter(handler.RouterDeps{
		Links:  handler.NewLinkHandler(linkService, resolver, cfg.App.BaseURL, logger),
		Health: handler.NewHealthHandler(checks, recorder),
		Auth:   middleware.NewAuth(cfg.Auth.JWTSecret),
		APIKey: middleware.NewAPIKey(middleware.APIKeyConfig{
			ValidKeys: cfg.Auth.APIKeys,
			Optional:  true,
		}),
		RateLimiter: rateLimiter,
		Metrics:     m,
		Gatherer:    prometheus.DefaultGatherer,
		Logger:      logger,
	})

	// Запуск сервера
	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			zap.String("port", cfg.App.Port),
			zap.String("storage", cfg.Storage.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutting down server...", zap.String("signal", sig.String()))
	case err := <-serverErr:
		_ = recorder.Stop(ctx)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	// Сервер больше не принимает запросы: дописываем клики из очереди
	if err := recorder.Stop(shutdownCtx); err != nil {
		logger.Warn("Click queue was not fully drained", zap.Error(err))
	}
	return nil
}

func migrate(cfg config.DBConfig, logger *zap.Logger) error {
	migrator, err := migrations.New(cfg.DSN(), logger)
	if err != nil {
		return err
	}
	defer func() { _ = migrator.Close() }()
	return migrator.Up()
}
