// Package executor runs claimed jobs on devices. The local executor
// drives the in-process pipeline pinned to a GPU ordinal; the remote
// executor ships the job to a worker node over the worker protocol.
package executor

import (
	"context"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
)

// Executor runs one job on one device. Implementations must be safe
// for concurrent use; the dispatcher calls Execute from every loop.
type Executor interface {
	Execute(ctx context.Context, job *core.Job, device *core.Device) (*core.Result, error)
}
