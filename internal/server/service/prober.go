package service

import (
	"context"
	"time"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
	"github.com/cs-joeguo/MinerUVision/pkg/protocol"
)

type workerProber interface {
	Probe(ctx context.Context, addr string) (*protocol.HealthResponse, error)
}

// DeviceProber keeps the registry's view of remote devices honest. It
// hits each remote worker's health endpoint on a fixed interval and
// flips the device between idle and unreachable accordingly. Busy
// devices are left alone: their state belongs to the dispatcher.
type DeviceProber struct {
	interval time.Duration
	timeout  time.Duration
	registry core.DeviceRegistry
	client   workerProber
	logger   logging.Logger
}

func NewDeviceProber(
	cfg config.ProberConfig,
	registry core.DeviceRegistry,
	client workerProber,
	logger logging.Logger,
) *DeviceProber {
	return &DeviceProber{
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		registry: registry,
		client:   client,
		logger:   logger,
	}
}

// Start probes once up front, so configured remotes reach a known state
// before the first dispatch, then keeps probing until ctx is canceled.
func (p *DeviceProber) Start(ctx context.Context) {
	p.probeAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Device prober stopped")
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *DeviceProber) probeAll(ctx context.Context) {
	for _, device := range p.registry.All() {
		if device.Kind != core.DeviceRemote || device.Status == core.DeviceBusy {
			continue
		}
		p.probe(ctx, device)
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *DeviceProber) probe(ctx context.Context, device *core.Device) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	health, err := p.client.Probe(probeCtx, device.Addr)
	if err != nil {
		if device.Status != core.DeviceUnreachable {
			p.logger.Warn("Remote device unreachable", "device", device.ID, "addr", device.Addr, "error", err)
		}
		if err := p.registry.MarkUnreachable(device.ID); err != nil {
			p.logger.Error("Failed to mark device unreachable", "device", device.ID, "error", err)
		}
		return
	}

	// A worker that answers but is mid-job keeps its current state; a
	// later probe returns it to the pool once it frees up.
	if health.Busy {
		return
	}

	if device.Status == core.DeviceUnreachable {
		p.logger.Info("Remote device recovered", "device", device.ID, "addr", device.Addr)
	}
	if err := p.registry.MarkIdle(device.ID, time.Now().UTC()); err != nil {
		p.logger.Error("Failed to mark device idle", "device", device.ID, "error", err)
	}
}
