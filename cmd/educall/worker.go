package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/worker"
	"github.com/educonnect/videocall/pkg/queue"
	"github.com/educonnect/videocall/pkg/redis"
	"github.com/educonnect/videocall/pkg/storage"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the telemetry archive worker (Redis queue to S3)",
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Redis.Addr == "" || cfg.AWS.TelemetryBucket == "" {
		return errors.New("worker needs REDIS_ADDR and AWS_S3_TELEMETRY_BUCKET")
	}

	ctx := context.Background()
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Error("redis", zap.Error(err))
		return err
	}
	defer rdb.Close()

	awsCfg, err := loadAWS(ctx, cfg, logger)
	if err != nil {
		logger.Error("aws", zap.Error(err))
		return err
	}
	store := storage.NewS3Archive(awsCfg, cfg.AWS.TelemetryBucket, cfg.AWS.TelemetryPrefix, logger)
	processor := worker.NewArchiveProcessor(queue.NewQueue(rdb.Client, logger), store, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(workerCtx)
	}()
	logger.Info("worker started", zap.String("bucket", cfg.AWS.TelemetryBucket))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	<-done
	logger.Info("worker stopped")
	return nil
}
