package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"biometric-stream-monitor/analytics"
	"biometric-stream-monitor/cache"
	"biometric-stream-monitor/config"
	"biometric-stream-monitor/handlers"
	"biometric-stream-monitor/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Global().Fatal("Failed to load config", "error", err)
	}

	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		logging.Global().Fatal("Failed to create logger", "error", err)
	}
	logging.SetGlobal(logger)

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 5*time.Second)
	redisClient, err := cache.NewRedisClient(connectCtx, cfg.Redis)
	cancelConnect()
	if err != nil {
		logger.Fatal("Failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	detector, err := analytics.NewSlidingWindowDetector(analytics.DetectorConfig{
		WindowSize: cfg.Detector.WindowSize,
		ZThreshold: cfg.Detector.ZThreshold,
	})
	if err != nil {
		logger.Fatal("Invalid detector configuration", "error", err)
	}

	engine := analytics.NewAnalyticsEngine(
		detector,
		redisClient,
		analytics.EngineConfig{Workers: cfg.Engine.Workers, QueueSize: cfg.Engine.QueueSize},
		handlers.EngineHooks(detector),
		logger,
	)

	readingHandler := handlers.NewReadingHandler(engine, redisClient, logger)

	srv := &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        handlers.NewRouter(readingHandler, logger),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("Server starting",
			"addr", cfg.Server.Addr,
			"window_size", cfg.Detector.WindowSize,
			"z_threshold", cfg.Detector.ZThreshold)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Drain queued readings so their verdicts reach Redis before it closes.
	engine.Close()

	logger.Info("Server exited")
}
