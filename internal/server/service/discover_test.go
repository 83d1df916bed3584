package service

import (
	"context"
	"errors"
	"testing"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/shared/execx"
)

type fakeRunner struct {
	stdout string
	err    error
	cmds   []execx.Command
}

func (f *fakeRunner) Run(ctx context.Context, cmd execx.Command) ([]byte, []byte, error) {
	f.cmds = append(f.cmds, cmd)
	return []byte(f.stdout), nil, f.err
}

func TestDiscoverLocalGPUs(t *testing.T) {
	t.Run("one device per ordinal", func(t *testing.T) {
		runner := &fakeRunner{stdout: "0\n1\n"}

		devices := DiscoverLocalGPUs(context.Background(), runner, nil, &mockLogger{})

		if len(devices) != 2 {
			t.Fatalf("expected 2 devices, got %d", len(devices))
		}
		if devices[0].ID != "gpu-0" || devices[1].ID != "gpu-1" {
			t.Errorf("unexpected device ids: %s, %s", devices[0].ID, devices[1].ID)
		}
		if devices[1].Ordinal != 1 {
			t.Errorf("expected ordinal 1, got %d", devices[1].Ordinal)
		}
		for _, d := range devices {
			if d.Kind != core.DeviceLocalGPU {
				t.Errorf("device %s has kind %s", d.ID, d.Kind)
			}
			if d.Status != core.DeviceIdle {
				t.Errorf("device %s starts in status %s", d.ID, d.Status)
			}
		}
		if len(runner.cmds) != 1 || runner.cmds[0].Name != "nvidia-smi" {
			t.Errorf("expected one nvidia-smi invocation, got %+v", runner.cmds)
		}
	})

	t.Run("no nvidia-smi means no local devices", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("exec: nvidia-smi: not found")}

		devices := DiscoverLocalGPUs(context.Background(), runner, nil, &mockLogger{})

		if devices != nil {
			t.Errorf("expected nil devices, got %v", devices)
		}
	})

	t.Run("garbage lines are skipped", func(t *testing.T) {
		runner := &fakeRunner{stdout: "0\nNVIDIA-SMI has failed\n\n"}

		devices := DiscoverLocalGPUs(context.Background(), runner, nil, &mockLogger{})

		if len(devices) != 1 {
			t.Fatalf("expected 1 device, got %d", len(devices))
		}
		if devices[0].ID != "gpu-0" {
			t.Errorf("expected gpu-0, got %s", devices[0].ID)
		}
	})
}
