package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/shared/execx"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

// DiscoverLocalGPUs probes nvidia-smi for GPU ordinals and returns one
// local device per GPU, named gpu-<ordinal>. A missing binary or a
// failed probe is not an error: a hub without local GPUs runs
// remote-only.
func DiscoverLocalGPUs(ctx context.Context, runner execx.Runner, capabilities []core.JobKind, log logging.Logger) []core.Device {
	stdout, _, err := runner.Run(ctx, execx.Command{
		Name: "nvidia-smi",
		Args: []string{"--query-gpu=index", "--format=csv,noheader"},
	})
	if err != nil {
		log.Warn("No local GPUs discovered", "error", err)
		return nil
	}

	now := time.Now().UTC()
	var devices []core.Device
	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ordinal, err := strconv.Atoi(line)
		if err != nil {
			log.Warn("Skipping unparsable nvidia-smi output", "line", line)
			continue
		}
		devices = append(devices, core.Device{
			ID:            fmt.Sprintf("gpu-%d", ordinal),
			Kind:          core.DeviceLocalGPU,
			Status:        core.DeviceIdle,
			Capabilities:  capabilities,
			Ordinal:       ordinal,
			LastHeartbeat: now,
		})
	}

	log.Info("Local GPU discovery finished", "count", len(devices))
	return devices
}
