package executor

import (
	"context"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

type processClient interface {
	Process(ctx context.Context, addr string, job *core.Job) (*core.Result, error)
}

// Remote executes jobs by shipping them to the claimed device's worker
// node.
type Remote struct {
	client processClient
	log    logging.Logger
}

func NewRemote(client processClient, log logging.Logger) *Remote {
	return &Remote{client: client, log: log}
}

func (r *Remote) Execute(ctx context.Context, job *core.Job, device *core.Device) (*core.Result, error) {
	r.log.Debug("executing job remotely", "job_id", job.ID, "device", device.ID, "addr", device.Addr)
	return r.client.Process(ctx, device.Addr, job)
}
