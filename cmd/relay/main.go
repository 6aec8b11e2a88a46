package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"
	"teamdesk/internal/core/services"
	httphandlers "teamdesk/internal/handlers/http"
	"teamdesk/internal/infrastructure/distributed"
	"teamdesk/internal/infrastructure/middleware"
	"teamdesk/internal/infrastructure/monitoring"
	"teamdesk/internal/infrastructure/reliability"
	"teamdesk/internal/infrastructure/repositories"
	wsrelay "teamdesk/internal/infrastructure/signal"
	"teamdesk/pkg/circuitbreaker"
	"teamdesk/pkg/config"
	"teamdesk/pkg/logger"
	"teamdesk/pkg/retry"
	"teamdesk/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, string) {
	configPaths := []string{
		os.Getenv("TEAMDESK_CONFIG"),
		"configs/config.yaml",
		"/etc/teamdesk/config.yaml",
		"config.yaml",
	}
	for _, path := range configPaths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if cfg, err := config.Load(path); err == nil {
			return cfg, path
		}
	}
	cfg, err := config.Load("")
	if err != nil {
		return config.DefaultConfig(), ""
	}
	return cfg, ""
}

func main() {
	startTime := time.Now()
	cfg, cfgPath := loadConfig()

	zapLogger := logger.New(cfg.Logging.Level)
	defer func() { _ = zapLogger.Sync() }()
	log := zapLogger.Sugar()
	if cfgPath != "" {
		log.Infow("loaded config", "path", cfgPath)
	} else {
		log.Info("no config file found, using defaults")
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: tracing.DefaultConfig().ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	instanceID := uuid.NewString()
	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, instanceID, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := monitoring.NewPrometheusCollector(registry)

	rooms := repoFactory.CreateRoomRepository()
	hub := wsrelay.NewHub(log)

	opts := []services.RelayOption{services.WithMetrics(collector)}
	var counter ports.RoomCounter = rooms
	directory := repoFactory.CreateRoomDirectory()
	if directory != nil {
		guarded := reliability.NewDirectoryWrapper(directory, retry.Config{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
			Multiplier:   2,
			Jitter:       true,
		}, circuitbreaker.DefaultConfig(), log)
		opts = append(opts, services.WithDirectory(guarded))
		counter = guarded
	}
	bus := repoFactory.CreateEventBus()
	if bus != nil {
		opts = append(opts, services.WithPublisher(bus))
	}

	relay := services.NewRelayService(rooms, hub, log, opts...)
	wsServer := wsrelay.NewWebSocketServer(hub, relay, collector, wsrelay.OptionsFromConfig(cfg), log)

	if bus != nil {
		go func() {
			err := bus.Subscribe(ctx, func(ctx context.Context, b *domain.Broadcast) error {
				return relay.HandleBroadcast(ctx, b)
			})
			if err != nil && ctx.Err() == nil {
				log.Errorw("relay event bus stopped", "error", err)
			}
		}()
	}
	if directory != nil {
		go refreshDirectory(ctx, directory, cfg.Redis.MembershipTTL/2, log)
	}

	health := monitoring.NewHealthChecker()
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 2*time.Second)
	}

	roomHandler := httphandlers.NewRoomHandler(counter, cfg.Relay.RoomStatsTTL, log)
	defer roomHandler.Close()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(collector),
		middleware.RequestLogMiddleware(zapLogger),
		middleware.ErrorHandlerMiddleware(log),
	)

	router.GET(cfg.Relay.Path, gin.WrapF(wsServer.HandleWebSocket))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": wsServer.ConnectionCount(),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if !status.Healthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		log.Info("prometheus metrics enabled")
	}

	api := router.Group("")
	api.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	roomHandler.SetupRoutes(api)

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting teamdesk relay",
			"address", cfg.Server.Address,
			"path", cfg.Relay.Path,
			"instance_id", instanceID,
			"clustered", bus != nil,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("websocket shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		_ = srv.Close()
	}
	cancel()

	if directory != nil {
		if err := directory.CleanupInstance(shutdownCtx); err != nil {
			log.Warnw("failed to clean up room directory", "error", err)
		}
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("failed to flush traces", "error", err)
	}

	log.Info("teamdesk relay stopped")
}

// refreshDirectory keeps this instance's memberships alive in Redis.
func refreshDirectory(ctx context.Context, d *distributed.RoomDirectory, every time.Duration, log *zap.SugaredLogger) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil {
				log.Warnw("failed to refresh room directory", "error", err)
			}
		}
	}
}
