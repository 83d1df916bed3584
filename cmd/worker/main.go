package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cs-joeguo/MinerUVision/internal/convert"
	"github.com/cs-joeguo/MinerUVision/internal/extract"
	"github.com/cs-joeguo/MinerUVision/internal/objstore"
	"github.com/cs-joeguo/MinerUVision/internal/pipeline"
	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/execx"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
	"github.com/cs-joeguo/MinerUVision/internal/vision"
	"github.com/cs-joeguo/MinerUVision/internal/worker/api/rest"
	"github.com/cs-joeguo/MinerUVision/internal/worker/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Local development convenience; real environment variables win.
	godotenv.Load()

	cfg, err := config.LoadWorker(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	capabilities, err := core.ParseKinds(cfg.Capabilities)
	if err != nil {
		logger.Fatal("Invalid capabilities", "error", err)
	}

	ctx := context.Background()
	s3, err := objstore.New(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Failed to connect to object storage", "error", err)
	}

	runner := execx.NewExecRunner(logger)
	converter := convert.NewOfficeConverter(cfg.Convert, runner, logger)
	extractor := extract.NewRunner(cfg.Extract, runner, logger)
	renderer := vision.NewRenderer(cfg.Vision, runner, logger)
	describer := vision.NewDescriber(vision.NewClient(cfg.Vision, logger), renderer, cfg.Vision, logger)
	pipe := pipeline.New(converter, extractor, describer, s3, filepath.Join(cfg.DataDir, "work"), logger)

	processor := service.NewProcessor(pipe, cfg.GPUOrdinal, capabilities, logger)
	api := rest.NewAPI(processor, cfg.DataDir, logger)
	server := rest.NewServer(cfg.Server, api, logger)

	go func() {
		logger.Info("Worker listening",
			"addr", cfg.Server.Addr,
			"gpu_ordinal", cfg.GPUOrdinal,
			"capabilities", cfg.Capabilities,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker")

	// An in-flight job is abandoned past the grace period; the hub's
	// deadline requeues it elsewhere.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Worker stopped")
}
