package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

type jobRunner interface {
	Run(ctx context.Context, job *core.Job, gpuOrdinal int) (*core.Result, error)
}

// Processor runs jobs for the hub one at a time. The busy flag is the
// worker-side half of the one-job-per-device rule; while it is set the
// HTTP layer answers 409 and the hub tries another device.
type Processor struct {
	pipe         jobRunner
	gpuOrdinal   int
	capabilities []core.JobKind
	busy         atomic.Bool
	logger       logging.Logger
}

func NewProcessor(pipe jobRunner, gpuOrdinal int, capabilities []core.JobKind, logger logging.Logger) *Processor {
	return &Processor{
		pipe:         pipe,
		gpuOrdinal:   gpuOrdinal,
		capabilities: capabilities,
		logger:       logger,
	}
}

// TryBegin reserves the worker for one job. It returns false when a job
// is already running; the caller must call End after a successful
// reservation.
func (p *Processor) TryBegin() bool {
	return p.busy.CompareAndSwap(false, true)
}

func (p *Processor) End() {
	p.busy.Store(false)
}

func (p *Processor) Busy() bool {
	return p.busy.Load()
}

func (p *Processor) GPUOrdinal() int {
	return p.gpuOrdinal
}

func (p *Processor) Capabilities() []core.JobKind {
	return p.capabilities
}

// Process runs one job on the worker's GPU and returns its result. The
// caller owns the busy reservation and the staged input file.
func (p *Processor) Process(ctx context.Context, job *core.Job) (*core.Result, error) {
	started := time.Now()
	p.logger.Info("Processing job",
		"request_id", job.ID,
		"kind", job.Kind,
		"file", job.Input.Name,
	)

	result, err := p.pipe.Run(ctx, job, p.gpuOrdinal)
	if err != nil {
		p.logger.Warn("Job failed",
			"request_id", job.ID,
			"kind", job.Kind,
			"duration", time.Since(started),
			"error", err,
		)
		return nil, err
	}

	p.logger.Info("Job completed",
		"request_id", job.ID,
		"kind", job.Kind,
		"duration", time.Since(started),
	)
	return result, nil
}
