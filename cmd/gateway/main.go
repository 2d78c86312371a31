package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/presencepro/platform/api/swagger"
	"github.com/presencepro/platform/internal/gateway"
	"github.com/presencepro/platform/internal/middleware"
	"github.com/presencepro/platform/internal/models"
	"github.com/presencepro/platform/internal/service"
	"github.com/presencepro/platform/pkg/cache"
	"github.com/presencepro/platform/pkg/config"
	appErrors "github.com/presencepro/platform/pkg/errors"
	"github.com/presencepro/platform/pkg/logger"
	corsmiddleware "github.com/presencepro/platform/pkg/middleware/cors"
	reqidmiddleware "github.com/presencepro/platform/pkg/middleware/requestid"
	"github.com/presencepro/platform/pkg/response"
)

// @title PresencePro Gateway
// @version 1.0.0
// @description Edge gateway routing client traffic to the PresencePro services
// @BasePath /
// @schemes http

var serviceVersion = "1.0.0"

func main() {
	started := time.Now()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := service.NewMetricsService()

	// The limiter tolerates an absent redis, so connect lazily and keep
	// serving when it is down.
	rdb := cache.NewRedisLazy(cfg.Redis)
	limiter := gateway.NewRateLimiter(rdb, cfg.RateLimit)

	table := gateway.BuildRouteTable(cfg.Gateway)
	verifier := gateway.NewTokenVerifier(cfg.JWT)
	proxy := gateway.NewProxy(table, cfg.Gateway, logr, metrics)
	health := gateway.NewHealthAggregator(cfg.Gateway.HealthTimeout)

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logr.Error("panic recovered", zap.Any("panic", recovered))
		response.Error(c, appErrors.ErrBadGateway)
	}))
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.RateLimit(limiter, metrics))
	r.Use(middleware.Identity(verifier, cfg.Gateway.StrictAuth, logr))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/health/services", func(c *gin.Context) {
		report := health.Check(c.Request.Context(), proxy.Table().Routes())
		status := http.StatusOK
		if report.Status == models.HealthUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/gateway/info", func(c *gin.Context) {
		response.JSON(c, http.StatusOK, gin.H{
			"version":        serviceVersion,
			"uptime_seconds": int64(time.Since(started).Seconds()),
			"strict_auth":    cfg.Gateway.StrictAuth,
			"routes":         proxy.Table().Routes(),
		}, nil)
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Everything that is not a local endpoint is proxied upstream.
	r.NoRoute(proxy.Handle)

	addr := fmt.Sprintf(":%d", cfg.Gateway.Port)
	logr.Sugar().Infow("gateway starting", "addr", addr, "env", cfg.Env, "routes", len(proxy.Table().Routes()))
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("gateway failed", "error", err)
	}
}
