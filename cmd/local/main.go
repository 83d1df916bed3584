package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
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
)

// Runs one document job in-process, without a hub or a queue. Handy for
// debugging the pipeline against a single file.
func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		configPath = flag.String("config", "", "path to worker config file")
		file       = flag.String("file", "", "document to process")
		kindName   = flag.String("kind", string(core.KindTextExtraction), "job kind: text_extraction, image_description, combined")
		gpu        = flag.Int("gpu", -1, "GPU ordinal (overrides config)")
	)
	flag.Parse()

	godotenv.Load()

	if *file == "" {
		log.Fatal("Input file must be specified using the -file flag")
	}
	kind := core.JobKind(*kindName)
	if !kind.Valid() {
		log.Fatalf("Unknown kind %q. Available kinds: %v", *kindName, core.Kinds())
	}
	if core.ClassifyInput(*file) == core.InputUnknown {
		log.Fatalf("Unsupported file type %q. Supported extensions: %v", filepath.Ext(*file), core.SupportedExtensions())
	}

	info, err := os.Stat(*file)
	if err != nil {
		log.Fatalf("Cannot read input file: %v", err)
	}

	cfg, err := config.LoadWorker(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	ordinal := cfg.GPUOrdinal
	if *gpu >= 0 {
		ordinal = *gpu
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	ctx := context.Background()

	s3, err := objstore.New(ctx, cfg.Storage, logger)
	if err != nil {
		log.Fatalf("Failed to connect to object storage: %v", err)
	}

	runner := execx.NewExecRunner(logger)
	converter := convert.NewOfficeConverter(cfg.Convert, runner, logger)
	extractor := extract.NewRunner(cfg.Extract, runner, logger)
	renderer := vision.NewRenderer(cfg.Vision, runner, logger)
	describer := vision.NewDescriber(vision.NewClient(cfg.Vision, logger), renderer, cfg.Vision, logger)
	pipe := pipeline.New(converter, extractor, describer, s3, filepath.Join(cfg.DataDir, "work"), logger)

	job := &core.Job{
		ID:   uuid.New(),
		Kind: kind,
		Params: core.Params{
			Extract: core.DefaultExtractParams(),
			Vision:  core.DefaultVisionParams(),
		},
		Input: core.InputFile{
			Name: filepath.Base(*file),
			Path: *file,
			Size: info.Size(),
		},
	}

	log.Printf("Processing %s as %s on GPU %d (request %s)", *file, kind, ordinal, job.ID)

	result, err := pipe.Run(ctx, job, ordinal)
	if err != nil {
		log.Fatalf("Job failed: %v", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
	fmt.Println(string(out))
}
