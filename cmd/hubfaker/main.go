package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/matchsync/internal/config"
	"github.com/dgnsrekt/matchsync/internal/hub"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Setup logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	// Load config
	cfg, err := config.LoadHubServerConfig()
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return 1
	}

	logger.Info("configuration loaded",
		zap.String("port", cfg.Port),
		zap.String("name", cfg.Name),
		zap.String("recording", cfg.Recording),
		zap.Duration("replayInterval", cfg.ReplayInterval),
		zap.String("replayGroup", cfg.ReplayGroup),
		zap.Bool("replayLoop", cfg.ReplayLoop),
		zap.Bool("dropReplies", cfg.DropReplies),
		zap.Bool("echoResults", cfg.EchoResults),
		zap.Bool("rejectSubmissions", cfg.RejectSubmissions),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := hub.NewHub(cfg.Name, hub.Options{
		DropReplies:       cfg.DropReplies,
		EchoResults:       cfg.EchoResults,
		RejectSubmissions: cfg.RejectSubmissions,
	}, logger)
	go h.Run(ctx)

	// Replay recorded frames (optional)
	if cfg.Recording != "" {
		start := time.Now()
		frames, err := hub.LoadRecording(cfg.Recording)
		if err != nil {
			logger.Error("failed to load recording", zap.Error(err))
			return 1
		}
		logger.Info("recording loaded",
			zap.Int("frames", len(frames)),
			zap.Duration("duration", time.Since(start)),
		)
		replayer := hub.NewReplayer(h, frames, cfg.ReplayGroup, cfg.ReplayInterval, cfg.ReplayLoop, logger)
		go replayer.Run(ctx)
	}

	// Setup HTTP server
	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     hub.NewRouter(h, logger),
		ReadTimeout: 30 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting hub", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down hub...")

	// Cancel context to close client connections
	cancel()

	// Graceful HTTP server shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("hub stopped")
	return 0
}
