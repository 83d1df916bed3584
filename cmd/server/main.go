package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cs-joeguo/MinerUVision/internal/convert"
	"github.com/cs-joeguo/MinerUVision/internal/extract"
	"github.com/cs-joeguo/MinerUVision/internal/objstore"
	"github.com/cs-joeguo/MinerUVision/internal/pipeline"
	"github.com/cs-joeguo/MinerUVision/internal/server/api/rest"
	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/server/executor"
	"github.com/cs-joeguo/MinerUVision/internal/server/service"
	"github.com/cs-joeguo/MinerUVision/internal/server/storage"
	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/execx"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
	"github.com/cs-joeguo/MinerUVision/internal/vision"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Local development convenience; real environment variables win.
	godotenv.Load()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := buildStore(cfg, logger)
	defer store.Close()

	queues := core.NewQueueSet(cfg.Queue.Capacity)
	refillQueues(ctx, store, queues, logger)

	runner := execx.NewExecRunner(logger)
	registry := buildRegistry(ctx, cfg, runner, logger)

	s3, err := objstore.New(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Failed to connect to object storage", "error", err)
	}

	converter := convert.NewOfficeConverter(cfg.Convert, runner, logger)
	extractor := extract.NewRunner(cfg.Extract, runner, logger)
	renderer := vision.NewRenderer(cfg.Vision, runner, logger)
	describer := vision.NewDescriber(vision.NewClient(cfg.Vision, logger), renderer, cfg.Vision, logger)
	pipe := pipeline.New(converter, extractor, describer, s3, filepath.Join(cfg.DataDir, "work"), logger)

	local := executor.NewLocal(pipe, cfg.Extract.Timeout, cfg.Vision.Timeout, logger)
	client := executor.NewClient(cfg.Remote, logger)
	remote := executor.NewRemote(client, logger)

	jobs := service.NewJobService(store, queues, cfg.Store.JobTTL, logger)
	dispatcher := service.NewDispatcher(store, registry, queues, local, remote, cfg.Dispatcher, logger)
	prober := service.NewDeviceProber(cfg.Prober, registry, client, logger)
	sweeper := service.NewSweeper(cfg.Store.GCInterval, store, logger)

	go dispatcher.Start(ctx)
	go prober.Start(ctx)
	go sweeper.Start(ctx)

	checks := []rest.HealthCheck{
		{Name: "storage", Check: s3.Ping},
		{Name: "store", Check: storeCheck(store)},
		{Name: "converter", Check: converterCheck(converter)},
	}
	api := rest.NewAPI(jobs, registry, cfg.DataDir, cfg.REST.MaxPollWait, checks, logger)
	server := rest.NewServer(cfg.REST, api, logger)

	go func() {
		logger.Info("Hub API listening", "addr", cfg.REST.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down hub")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	cancel()
	logger.Info("Hub stopped")
}

func buildStore(cfg *config.ServerConfig, logger logging.Logger) core.JobStore {
	switch cfg.Store.Backend {
	case "memory":
		return storage.NewInMemoryJobStore(cfg.Store.JobTTL)
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0o755); err != nil {
			logger.Fatal("Failed to create store directory", "error", err)
		}
		store, err := storage.NewSQLiteJobStore(cfg.Store.SQLitePath, cfg.Store.JobTTL)
		if err != nil {
			logger.Fatal("Failed to open job store", "path", cfg.Store.SQLitePath, "error", err)
		}
		recovered, err := store.RecoverRunning(context.Background())
		if err != nil {
			logger.Fatal("Failed to recover interrupted jobs", "error", err)
		}
		if recovered > 0 {
			logger.Info("Recovered interrupted jobs", "count", recovered)
		}
		return store
	default:
		logger.Fatal("Unknown store backend", "backend", cfg.Store.Backend)
		return nil
	}
}

// refillQueues re-enqueues pending jobs after a restart. Only the
// durable backend has anything to refill.
func refillQueues(ctx context.Context, store core.JobStore, queues *core.QueueSet, logger logging.Logger) {
	durable, ok := store.(*storage.SQLiteJobStore)
	if !ok {
		return
	}

	pending, err := durable.PendingJobs(ctx)
	if err != nil {
		logger.Fatal("Failed to list pending jobs", "error", err)
	}
	requeued := 0
	for _, job := range pending {
		if err := queues.For(job.Kind).Enqueue(core.QueueEntry{JobID: job.ID, EnqueuedAt: time.Now().UTC()}); err != nil {
			logger.Warn("Could not requeue job after restart", "job_id", job.ID, "error", err)
			continue
		}
		requeued++
	}
	if requeued > 0 {
		logger.Info("Requeued pending jobs", "count", requeued)
	}
}

func buildRegistry(ctx context.Context, cfg *config.ServerConfig, runner execx.Runner, logger logging.Logger) core.DeviceRegistry {
	registry := storage.NewInMemoryDeviceRegistry()

	if cfg.Devices.AutoDetect {
		devices := service.DiscoverLocalGPUs(ctx, runner, nil, logger)
		for i := range devices {
			if err := registry.Add(&devices[i]); err != nil {
				logger.Warn("Skipping local device", "device", devices[i].ID, "error", err)
			}
		}
	}
	for _, ordinal := range cfg.Devices.LocalGPUs {
		device := &core.Device{
			ID:      fmt.Sprintf("gpu-%d", ordinal),
			Kind:    core.DeviceLocalGPU,
			Ordinal: ordinal,
		}
		if err := registry.Add(device); err != nil {
			logger.Warn("Skipping local device", "device", device.ID, "error", err)
		}
	}

	for _, remote := range cfg.Devices.Remote {
		capabilities, err := core.ParseKinds(remote.Capabilities)
		if err != nil {
			logger.Fatal("Invalid remote device capabilities", "device", remote.ID, "error", err)
		}
		id := remote.ID
		if id == "" {
			id = remote.Addr
		}
		// Remotes start unreachable; the prober's startup pass flips
		// them idle once they answer.
		device := &core.Device{
			ID:           id,
			Kind:         core.DeviceRemote,
			Status:       core.DeviceUnreachable,
			Addr:         remote.Addr,
			Capabilities: capabilities,
		}
		if err := registry.Add(device); err != nil {
			logger.Fatal("Failed to register remote device", "device", id, "error", err)
		}
	}

	devices := registry.All()
	logger.Info("Device registry built", "devices", len(devices))
	if len(devices) == 0 {
		logger.Warn("No devices registered, jobs will fail until one appears")
	}
	return registry
}

func storeCheck(store core.JobStore) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := store.Get(ctx, uuid.Nil)
		if errors.Is(err, core.ErrJobNotFound) {
			return nil
		}
		return err
	}
}

// converterCheck reports a missing LibreOffice install. Office uploads
// fail at conversion time without it; PDF and image jobs still work.
func converterCheck(converter *convert.OfficeConverter) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if !converter.Available() {
			return errors.New("libreoffice not found")
		}
		return nil
	}
}
