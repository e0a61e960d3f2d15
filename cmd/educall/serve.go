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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/educonnect/videocall/config"
	"github.com/educonnect/videocall/internal/ingest"
	"github.com/educonnect/videocall/internal/meetings"
	"github.com/educonnect/videocall/internal/middleware"
	"github.com/educonnect/videocall/internal/realtime"
	"github.com/educonnect/videocall/internal/worker"
	"github.com/educonnect/videocall/pkg/queue"
	"github.com/educonnect/videocall/pkg/redis"
	"github.com/educonnect/videocall/pkg/response"
	"github.com/educonnect/videocall/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the meeting bootstrap, signaling and telemetry ingestion server",
	RunE:  runServe,
}

// services is everything the HTTP server needs, built from configuration.
type services struct {
	router    *gin.Engine
	processor *worker.ArchiveProcessor // nil when archiving is disabled
	closers   []func() error
}

func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		logger.Error("build services", zap.Error(err))
		return err
	}
	defer svc.close()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      svc.router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (telemetry archive to S3)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if svc.processor != nil {
		go svc.processor.Run(workerCtx)
		logger.Info("archive worker started")
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("provider", cfg.Meetings.Provider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error("server", zap.Error(err))
		return err
	}

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}

func buildServices(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*services, error) {
	svc := &services{}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		var err error
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, rdb.Close)
	} else {
		logger.Info("redis disabled: in-memory meeting registry, single-instance signaling, no archive")
	}

	// Signaling
	var hub *realtime.Hub
	if rdb != nil {
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, pubsub, pubsub)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}
	sfu := realtime.NewSFU(logger, realtime.ParseICEServers(cfg.WebRTC.ICEUrls))
	verifier := meetings.NewTokenVerifier(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret)

	// Meetings
	provider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		svc.close()
		return nil, err
	}
	var registry meetings.Registry = meetings.NewMemoryRegistry(cfg.Meetings.RegistryTTL)
	if rdb != nil {
		registry = meetings.NewRedisRegistry(rdb.Client, cfg.Meetings.RegistryTTL)
	}
	meetingHandler := meetings.NewHandler(meetings.NewService(provider, registry, cfg.Meetings.DefaultRegion, logger), logger)

	// Telemetry ingestion
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := ingest.NewMetrics(reg)
	hub.SetPresenceChangeHandler(metrics.SetConnections)

	var archive ingest.Enqueuer
	if rdb != nil && cfg.AWS.TelemetryBucket != "" {
		jobQueue := queue.NewQueue(rdb.Client, logger)
		awsCfg, err := loadAWS(ctx, cfg, logger)
		if err != nil {
			svc.close()
			return nil, err
		}
		store := storage.NewS3Archive(awsCfg, cfg.AWS.TelemetryBucket, cfg.AWS.TelemetryPrefix, logger)
		svc.processor = worker.NewArchiveProcessor(jobQueue, store, logger)
		archive = jobQueue
	}
	ingestHandler := ingest.NewHandler(metrics, archive, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger, "/health", "/metrics"))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	meetingHandler.Register(router)
	ingestHandler.Register(router)

	// WebSocket (join token in query)
	router.GET("/ws", realtime.ServeWs(hub, sfu, verifier, logger))

	svc.router = router
	return svc, nil
}

func newProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (meetings.Provider, error) {
	switch cfg.Meetings.Provider {
	case "", "sfu":
		return meetings.NewSFUProvider(meetings.SFUConfig{
			SignalingURL: cfg.Meetings.SignalingURL,
			APIKey:       cfg.LiveKit.APIKey,
			APISecret:    cfg.LiveKit.APISecret,
			TokenTTL:     cfg.LiveKit.TokenTTL,
		}, logger)
	case "chime":
		awsCfg, err := loadAWS(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return meetings.NewChimeProviderFromConfig(awsCfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown meeting provider %q", cfg.Meetings.Provider)
	}
}
