// Package main runs the background job worker (notifications, engagement exports, summary rebuilds).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/learnlens/backend/config"
	"github.com/learnlens/backend/internal/auth"
	"github.com/learnlens/backend/internal/engagement"
	"github.com/learnlens/backend/internal/notifications"
	"github.com/learnlens/backend/internal/tutorials"
	"github.com/learnlens/backend/internal/worker"
	"github.com/learnlens/backend/pkg/database"
	"github.com/learnlens/backend/pkg/queue"
	"github.com/learnlens/backend/pkg/redis"
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

	store, closeStore, err := database.OpenSharedStore(ctx, cfg, redis.NewChangeFeed(rdb, logger), logger)
	if err != nil {
		logger.Fatal("document store", zap.Error(err))
	}
	defer closeStore()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ExportsBucket:        cfg.AWS.ExportsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	authRepo := auth.NewRepository(store)
	tutorialRepo := tutorials.NewRepository(store)
	scanAgg := engagement.NewScanAggregator(store, tutorialRepo, authRepo, cfg.Engagement.Concurrency, logger)

	var (
		aggregator engagement.Aggregator = scanAgg
		rebuilder  worker.Rebuilder
	)
	if cfg.Engagement.Mode == "summary" {
		summary := engagement.NewSummaryAggregator(rdb, tutorialRepo, logger)
		aggregator, rebuilder = summary, summary
	}

	processor := worker.NewProcessor(worker.Config{
		Queue:      queue.NewQueue(rdb, logger),
		Notifier:   notifications.NewNotifier(notifications.NewRepository(store), authRepo, logger),
		Exports:    engagement.NewExportRepository(store),
		Uploader:   s3Client,
		Aggregator: aggregator,
		Tutorials:  tutorialRepo,
		Sessions:   scanAgg,
		Rebuilder:  rebuilder,
		Logger:     logger,
	})

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started", zap.String("engagement", cfg.Engagement.Mode))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
