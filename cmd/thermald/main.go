package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Stanislav1275/thermal-detecteion-backend/internal/async"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/common"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/detector"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/export"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/processor"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/server"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewJobStorage(cfg.Storage.BaseDir, logger)
	if err != nil {
		logger.Error("failed to open job storage", "error", err, "base_dir", cfg.Storage.BaseDir)
		os.Exit(1)
	}

	// A missing model is a degraded-but-running state: uploads are rejected
	// until a model is available, everything else keeps working.
	var det detector.Detector
	dnn, err := detector.NewDNNDetector(cfg.Detector.ModelPath, cfg.Detector.ModelConfigPath, logger)
	if err != nil {
		logger.Warn("detector not initialized, running degraded", "error", err, "model_path", cfg.Detector.ModelPath)
	} else {
		det = dnn
		defer func() {
			_ = dnn.Close()
		}()
	}

	proc := processor.New(store, det, logger)
	queue := async.NewProcessorQueue(proc, logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.ProcessTimeout),
	)

	exports := export.NewService(store, logger)
	srv := server.New(store, queue, proc, exports, server.Config{
		DefaultConfidence: cfg.Detector.DefaultConfidence,
		MaxUploadBytes:    cfg.Server.MaxUploadBytes,
	}, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: srv.Router(),
	}

	logger.Info("thermald listening", "addr", cfg.Server.HTTPAddr)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http serve error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	queue.Shutdown(shutdownCtx)
}
