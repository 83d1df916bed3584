package executor

import (
	"context"
	"time"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

type jobRunner interface {
	Run(ctx context.Context, job *core.Job, gpuOrdinal int) (*core.Result, error)
}

// Local executes jobs in-process on the device's GPU ordinal.
type Local struct {
	pipe           jobRunner
	extractTimeout time.Duration
	visionTimeout  time.Duration
	log            logging.Logger
}

// NewLocal wires the pipeline behind the Executor interface. Extraction
// and combined jobs run under extractTimeout, image description under
// visionTimeout; zero disables the limit.
func NewLocal(pipe jobRunner, extractTimeout, visionTimeout time.Duration, log logging.Logger) *Local {
	return &Local{
		pipe:           pipe,
		extractTimeout: extractTimeout,
		visionTimeout:  visionTimeout,
		log:            log,
	}
}

func (l *Local) Execute(ctx context.Context, job *core.Job, device *core.Device) (*core.Result, error) {
	limit := l.extractTimeout
	if job.Kind == core.KindImageDescription {
		limit = l.visionTimeout
	}
	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	l.log.Debug("executing job locally", "job_id", job.ID, "device", device.ID, "gpu", device.Ordinal)
	return l.pipe.Run(ctx, job, device.Ordinal)
}
