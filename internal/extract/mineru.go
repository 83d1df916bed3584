// Package extract runs the MinerU CLI over a staged document and
// collects the core result files it leaves behind.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/execx"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

// Runner shells out to mineru. One invocation owns one GPU: the ordinal
// is pinned through CUDA_VISIBLE_DEVICES so the process only ever sees
// cuda:0.
type Runner struct {
	mineruPath  string
	modelSource string
	sglangURL   string
	timeout     time.Duration
	runner      execx.Runner
	log         logging.Logger
}

func NewRunner(cfg config.ExtractConfig, runner execx.Runner, log logging.Logger) *Runner {
	return &Runner{
		mineruPath:  cfg.MinerUPath,
		modelSource: cfg.ModelSource,
		sglangURL:   cfg.SglangURL,
		timeout:     cfg.Timeout,
		runner:      runner,
		log:         log,
	}
}

// Request describes one extraction run. OutputDir receives the MinerU
// output tree; a combined process.log lands next to it.
type Request struct {
	InputPath  string
	OutputDir  string
	Params     core.ExtractParams
	GPUOrdinal int
}

// Run executes mineru and waits for it to finish. The CLI's stdout and
// stderr are written to process.log in the parent of OutputDir so failed
// runs leave something to read.
func (r *Runner) Run(ctx context.Context, req Request) error {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd, err := r.buildCommand(req)
	if err != nil {
		return err
	}

	r.log.Info("running mineru",
		"input", filepath.Base(req.InputPath),
		"backend", req.Params.Backend,
		"method", req.Params.Method,
		"gpu", req.GPUOrdinal,
	)

	start := time.Now()
	stdout, stderr, runErr := r.runner.Run(ctx, cmd)

	logPath := filepath.Join(filepath.Dir(req.OutputDir), "process.log")
	if err := os.WriteFile(logPath, append(stdout, stderr...), 0o644); err != nil {
		r.log.Warn("could not write mineru log", "path", logPath, "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("mineru failed after %s: %w: %s",
			time.Since(start).Round(time.Millisecond), runErr, tail(stderr, 2048))
	}

	r.log.Info("mineru finished",
		"input", filepath.Base(req.InputPath),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (r *Runner) buildCommand(req Request) (execx.Command, error) {
	p := req.Params
	args := []string{
		"-p", req.InputPath,
		"-o", req.OutputDir,
		"-m", p.Method,
		"-b", p.Backend,
		"-l", p.Lang,
		"--formula", strconv.FormatBool(p.Formula),
		"--table", strconv.FormatBool(p.Table),
		"--device", "cuda:0",
		"--source", r.modelSource,
	}
	if p.StartPage != nil {
		args = append(args, "-s", strconv.Itoa(*p.StartPage))
	}
	if p.EndPage != nil {
		args = append(args, "-e", strconv.Itoa(*p.EndPage))
	}
	if p.Backend == "vlm-sglang-client" {
		u := p.SglangURL
		if u == "" {
			u = r.sglangURL
		}
		if u == "" {
			return execx.Command{}, fmt.Errorf("backend vlm-sglang-client needs a sglang url")
		}
		args = append(args, "-u", u)
	}

	env := map[string]string{
		"PYTORCH_CUDA_ALLOC_CONF": "expandable_segments:True",
		"CUDA_LAUNCH_BLOCKING":    "1",
	}
	if req.GPUOrdinal >= 0 {
		env["CUDA_VISIBLE_DEVICES"] = strconv.Itoa(req.GPUOrdinal)
	}

	return execx.Command{Name: r.mineruPath, Args: args, Env: env}, nil
}

func tail(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return "..." + string(b[len(b)-max:])
}
