package app

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/naigate/server/internal/module/generation"
	"github.com/naigate/server/internal/module/metering"
	sharedcache "github.com/naigate/server/internal/shared/cache"
	"github.com/naigate/server/internal/shared/config"
	"github.com/naigate/server/internal/shared/kv"
	"github.com/naigate/server/internal/shared/logger"
	"github.com/naigate/server/internal/shared/middleware"
	"github.com/naigate/server/internal/utils/metrics"
)

// App represents the application.
type App struct {
	config    *config.Config
	redis     redis.UniversalClient
	router    *gin.Engine
	logger    *logger.Logger
	zapLogger *zap.Logger
	metrics   *metrics.Metrics

	quotas   *metering.QuotaLedger
	credits  *metering.CreditStore
	resolver *metering.Resolver
	service  *generation.Service
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	zapLog, err := logger.NewZapLogger(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init zap logger: %w", err)
	}

	app := &App{
		config:    cfg,
		logger:    log,
		zapLogger: zapLog,
		metrics:   metrics.New("naigate", prometheus.DefaultRegisterer),
	}

	// The store is optional: without it the gateway fails open and admits
	// all free-tier traffic.
	var store kv.Store
	if cfg.Redis.Address != "" {
		redisClient, err := sharedcache.NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		app.redis = redisClient
		store = kv.NewRedisStore(redisClient)
	} else {
		log.Warn("no quota/credit store configured, free tier is unmetered")
	}

	if store != nil {
		app.quotas = metering.NewQuotaLedger(store, zapLog.Named("quota"))
		app.credits = metering.NewCreditStore(store)
	}

	app.resolver = metering.NewResolver(metering.ResolverConfig{
		AdminToken:    cfg.Metering.AdminToken,
		Quotas:        app.quotas,
		Credits:       app.credits,
		GlobalLimit:   cfg.Metering.GlobalDailyLimit,
		IdentityLimit: cfg.Metering.IdentityDailyLimit,
		Logger:        zapLog.Named("resolver"),
	})

	novelai := generation.NewNovelAIClient(
		cfg.NovelAI.BaseURL, cfg.NovelAI.APIKey, cfg.NovelAI.Timeout, zapLog.Named("novelai"))
	mj := generation.NewMJClient(
		cfg.Midjourney.BaseURL, cfg.Midjourney.APIKey, cfg.Midjourney.Timeout)

	app.service = generation.NewService(
		app.resolver, app.credits, novelai, mj, app.metrics, zapLog.Named("generation"))

	app.router = app.setupRouter()

	return app, nil
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	generation.NewHandler(a.service).RegisterRoutes(api)

	if a.credits != nil {
		admin := r.Group("/admin")
		generation.NewAdminHandler(a.credits, a.config.Metering.AdminToken).RegisterRoutes(admin)
	}

	return r
}

// Stop drains pending quota writes and closes shared resources.
func (a *App) Stop() {
	if a.quotas != nil {
		a.quotas.Wait()
	}
	if a.redis != nil {
		if err := sharedcache.Close(a.redis); err != nil {
			a.logger.Error("close redis", "error", err)
		}
	}
	_ = a.zapLogger.Sync()
}
