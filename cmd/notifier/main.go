package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/presencepro/platform/api/swagger"
	"github.com/presencepro/platform/internal/handler"
	"github.com/presencepro/platform/internal/middleware"
	"github.com/presencepro/platform/internal/models"
	"github.com/presencepro/platform/internal/notify"
	"github.com/presencepro/platform/internal/repository"
	"github.com/presencepro/platform/internal/service"
	"github.com/presencepro/platform/internal/worker"
	"github.com/presencepro/platform/pkg/cache"
	"github.com/presencepro/platform/pkg/config"
	"github.com/presencepro/platform/pkg/database"
	"github.com/presencepro/platform/pkg/logger"
	corsmiddleware "github.com/presencepro/platform/pkg/middleware/cors"
	reqidmiddleware "github.com/presencepro/platform/pkg/middleware/requestid"
)

// @title PresencePro Notifier
// @version 1.0.0
// @description Event dispatch and notification delivery service
// @BasePath /api/v1
// @schemes http

func main() {
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	rdb, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer rdb.Close()

	renderer, err := notify.NewTemplateRenderer()
	if err != nil {
		logr.Sugar().Fatalw("failed to compile templates", "error", err)
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	eventRepo := repository.NewEventRepository(db)
	taskRepo := repository.NewNotificationRepository(db)
	prefRepo := repository.NewPreferenceRepository(db)

	queue := worker.NewClient(cfg.Redis)
	defer queue.Close()

	senders := buildSenders(cfg, logr)

	notifications := service.NewNotificationService(taskRepo, prefRepo, queue, senders, renderer, metrics, logr, cfg.Notifier)
	dispatch := service.NewDispatchService(eventRepo, notifications, validate, metrics, logr, cfg.Notifier)
	signature := service.NewSignatureVerifier(cfg.Notifier.SigningSecret, cfg.Notifier.AllowUnsigned)

	pool := worker.NewWorker(*cfg, notifications, logr)
	if err := pool.Start(); err != nil {
		logr.Sugar().Fatalw("failed to start worker pool", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := worker.NewSweeper(notifications, dispatch, metrics, rdb, logr, cfg.Notifier)
	go sweeper.Run(ctx)

	eventHandler := handler.NewEventHandler(dispatch, signature)
	notificationHandler := handler.NewNotificationHandler(notifications)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/events", eventHandler.Ingest)
		v1.GET("/events", eventHandler.List)
		v1.GET("/events/:id", eventHandler.Get)
		v1.POST("/events/:id/replay", eventHandler.Replay)

		v1.GET("/notifications", notificationHandler.List)
		v1.GET("/notifications/:id", notificationHandler.Get)
		v1.POST("/notifications/:id/cancel", notificationHandler.Cancel)

		v1.GET("/preferences/:recipient", notificationHandler.GetPreference)
		v1.PUT("/preferences/:recipient", notificationHandler.UpdatePreference)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Notifier.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("notifier starting", "addr", srv.Addr, "env", cfg.Env, "concurrency", cfg.Notifier.WorkerConcurrency)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("notifier failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("http shutdown failed", "error", err)
	}
	pool.Shutdown()
}

// buildSenders wires one sender per channel. Missing provider config falls
// back to the console sender so local development works out of the box.
func buildSenders(cfg *config.Config, logr *zap.Logger) map[models.Channel]notify.Sender {
	senders := map[models.Channel]notify.Sender{}

	senders[models.ChannelEmail] = notify.NewEmailSender(cfg.SMTP, logr)

	if cfg.SMS.URL != "" {
		senders[models.ChannelSMS] = notify.NewSMSSender(cfg.SMS.URL, cfg.SMS.Token)
	} else {
		senders[models.ChannelSMS] = notify.NewConsoleSender(logr)
	}

	if cfg.Push.URL != "" {
		senders[models.ChannelPush] = notify.NewPushSender(cfg.Push.URL, cfg.Push.Token)
	} else {
		senders[models.ChannelPush] = notify.NewConsoleSender(logr)
	}

	return senders
}
