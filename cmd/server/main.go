// Package main runs the tutorial platform HTTP server with the watch WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/learnlens/backend/config"
	"github.com/learnlens/backend/internal/auth"
	"github.com/learnlens/backend/internal/engagement"
	"github.com/learnlens/backend/internal/middleware"
	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/internal/notifications"
	"github.com/learnlens/backend/internal/realtime"
	"github.com/learnlens/backend/internal/tutorials"
	"github.com/learnlens/backend/internal/watchtime"
	"github.com/learnlens/backend/internal/worker"
	"github.com/learnlens/backend/pkg/database"
	"github.com/learnlens/backend/pkg/queue"
	"github.com/learnlens/backend/pkg/redis"
	"github.com/learnlens/backend/pkg/response"
	"github.com/learnlens/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	store, closeStore, err := database.OpenStore(ctx, cfg, redis.NewChangeFeed(rdb, logger), logger)
	if err != nil {
		logger.Fatal("document store", zap.Error(err))
	}
	defer closeStore()

	// Exports stay disabled without AWS; the handler answers 503.
	var (
		presigner engagement.Presigner
		uploader  worker.Uploader
	)
	if cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ExportsBucket:        cfg.AWS.ExportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			presigner, uploader = s3Client, s3Client
		}
	}

	jobQueue := queue.NewQueue(rdb, logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	authRepo := auth.NewRepository(store)
	tutorialRepo := tutorials.NewRepository(store)

	// Engagement: full scan by default, Redis sorted sets fed by every tick in summary mode.
	scanAgg := engagement.NewScanAggregator(store, tutorialRepo, authRepo, cfg.Engagement.Concurrency, logger)
	var (
		aggregator engagement.Aggregator = scanAgg
		sink       watchtime.SummarySink
		rebuilder  worker.Rebuilder
	)
	if cfg.Engagement.Mode == "summary" {
		summary := engagement.NewSummaryAggregator(rdb, tutorialRepo, logger)
		aggregator, sink, rebuilder = summary, summary, summary
		if err := jobQueue.EnqueueEngagementRebuild(ctx, queue.EngagementRebuildPayload{}); err != nil {
			logger.Warn("enqueue summary rebuild", zap.Error(err))
		}
	}

	notificationRepo := notifications.NewRepository(store)
	exportRepo := engagement.NewExportRepository(store)

	// The standalone worker can't reach an in-memory store, so jobs run here.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Store.Driver == "memory" {
		processor := worker.NewProcessor(worker.Config{
			Queue:      jobQueue,
			Notifier:   notifications.NewNotifier(notificationRepo, authRepo, logger),
			Exports:    exportRepo,
			Uploader:   uploader,
			Aggregator: aggregator,
			Tutorials:  tutorialRepo,
			Sessions:   scanAgg,
			Rebuilder:  rebuilder,
			Logger:     logger,
		})
		go processor.Run(workerCtx)
		logger.Info("in-process job worker started")
	}

	recorder := watchtime.NewRecorder(store, sink, logger)
	registry := watchtime.NewRegistry()

	authHandler := auth.NewHandler(authRepo, jwtService, registry, logger)
	tutorialHandler := tutorials.NewHandler(tutorialRepo, jobQueue, logger)
	watchHandler := watchtime.NewHandler(recorder, tutorialRepo, logger)
	notificationHandler := notifications.NewHandler(notificationRepo, logger)
	engagementHandler := engagement.NewHandler(engagement.HandlerConfig{
		Aggregator: aggregator,
		Tutorials:  tutorialRepo,
		Store:      store,
		Exports:    exportRepo,
		Queue:      jobQueue,
		Presigner:  presigner,
		Logger:     logger,
	})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", authHandler.Me)
		api.POST("/auth/logout", authHandler.Logout)

		// Tutorials
		api.GET("/tutorials", tutorialHandler.List)
		api.POST("/tutorials", middleware.RequireRole(models.RoleInstructor), tutorialHandler.Create)
		api.GET("/tutorials/:id", tutorialHandler.Get)
		api.DELETE("/tutorials/:id", middleware.RequireRole(models.RoleInstructor), tutorialHandler.Delete)

		// Watch time
		api.POST("/tutorials/:id/watch/tick", middleware.RequireRole(models.RoleStudent), watchHandler.Tick)
		api.GET("/tutorials/:id/watch", watchHandler.Session)

		// Engagement
		instructor := middleware.RequireRole(models.RoleInstructor)
		api.GET("/tutorials/:id/engagement", instructor, engagementHandler.Tutorial)
		api.GET("/tutorials/:id/activity", instructor, engagementHandler.Activity)
		api.GET("/engagement/tutorials", instructor, engagementHandler.Tutorials)
		api.GET("/engagement/students/:id", engagementHandler.Student)
		api.POST("/engagement/exports", instructor, engagementHandler.CreateExport)
		api.GET("/engagement/exports/:id", instructor, engagementHandler.GetExport)

		// Notifications
		api.GET("/notifications", notificationHandler.List)
		api.GET("/notifications/stream", notificationHandler.Stream)
		api.PATCH("/notifications/:id/read", notificationHandler.MarkRead)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws/watch", realtime.ServeWatch(realtime.WatchConfig{
		Identities:     jwtService,
		Tutorials:      tutorialRepo,
		Ticker:         recorder,
		Registry:       registry,
		Interval:       cfg.Watch.TickInterval,
		TickTimeout:    cfg.Watch.TickTimeout,
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		Logger:         logger,
	}))

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// SSE and WebSocket responses stay open, so no WriteTimeout here;
		// WRITE_TIMEOUT_SEC bounds shutdown instead.
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver), zap.String("engagement", cfg.Engagement.Mode))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Stop ticking before the stores close so no tick lands on a closed pool.
	registry.StopAll()
	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.WriteTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
