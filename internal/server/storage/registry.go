package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
)

// InMemoryDeviceRegistry tracks device occupancy under one mutex so that
// acquire and release are atomic. At most one job holds a device.
type InMemoryDeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]*core.Device
}

func NewInMemoryDeviceRegistry() *InMemoryDeviceRegistry {
	return &InMemoryDeviceRegistry{
		devices: make(map[string]*core.Device),
	}
}

func (r *InMemoryDeviceRegistry) Add(device *core.Device) error {
	if device.ID == "" {
		return fmt.Errorf("device id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[device.ID]; exists {
		return fmt.Errorf("device %s already registered", device.ID)
	}
	stored := cloneDevice(device)
	if stored.Status == "" {
		stored.Status = core.DeviceIdle
	}
	if stored.LastHeartbeat.IsZero() {
		stored.LastHeartbeat = time.Now()
	}
	r.devices[device.ID] = stored
	return nil
}

func (r *InMemoryDeviceRegistry) Get(id string) (*core.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, exists := r.devices[id]
	if !exists {
		return nil, core.ErrDeviceNotFound
	}
	return cloneDevice(device), nil
}

func (r *InMemoryDeviceRegistry) All() []*core.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Device, 0, len(r.devices))
	for _, device := range r.devices {
		out = append(out, cloneDevice(device))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Candidates lists idle devices capable of the kind, local devices first,
// then freshest heartbeat, then id as the final tiebreak.
func (r *InMemoryDeviceRegistry) Candidates(kind core.JobKind) []*core.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*core.Device
	for _, device := range r.devices {
		if device.Status != core.DeviceIdle || !device.Capable(kind) {
			continue
		}
		out = append(out, cloneDevice(device))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		localA, localB := a.Kind == core.DeviceLocalGPU, b.Kind == core.DeviceLocalGPU
		if localA != localB {
			return localA
		}
		if !a.LastHeartbeat.Equal(b.LastHeartbeat) {
			return a.LastHeartbeat.After(b.LastHeartbeat)
		}
		return a.ID < b.ID
	})
	return out
}

// TryAcquire moves an idle device to busy on behalf of jobID. It reports
// false when the device is missing or not idle; the caller moves on to
// the next candidate.
func (r *InMemoryDeviceRegistry) TryAcquire(id string, jobID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, exists := r.devices[id]
	if !exists || device.Status != core.DeviceIdle {
		return false
	}
	device.Status = core.DeviceBusy
	held := jobID
	device.JobID = &held
	return true
}

// Release frees a busy device. Healthy devices return to idle; unhealthy
// ones are parked unreachable until a probe revives them.
func (r *InMemoryDeviceRegistry) Release(id string, healthy bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, exists := r.devices[id]
	if !exists {
		return core.ErrDeviceNotFound
	}
	if device.Status != core.DeviceBusy {
		return nil
	}
	device.JobID = nil
	if healthy {
		// A finished job counts as a heartbeat.
		device.Status = core.DeviceIdle
		device.LastHeartbeat = time.Now().UTC()
	} else {
		device.Status = core.DeviceUnreachable
	}
	return nil
}

// MarkIdle records a successful probe: refreshes the heartbeat and
// revives unreachable devices. Busy devices are left alone.
func (r *InMemoryDeviceRegistry) MarkIdle(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, exists := r.devices[id]
	if !exists {
		return core.ErrDeviceNotFound
	}
	if device.Status == core.DeviceBusy {
		return nil
	}
	device.Status = core.DeviceIdle
	device.LastHeartbeat = at
	return nil
}

// MarkUnreachable records a failed probe. Busy devices are left alone;
// the dispatcher decides their fate when the job returns.
func (r *InMemoryDeviceRegistry) MarkUnreachable(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, exists := r.devices[id]
	if !exists {
		return core.ErrDeviceNotFound
	}
	if device.Status == core.DeviceBusy {
		return nil
	}
	device.Status = core.DeviceUnreachable
	return nil
}

func cloneDevice(device *core.Device) *core.Device {
	out := *device
	out.Capabilities = append([]core.JobKind(nil), device.Capabilities...)
	if device.JobID != nil {
		held := *device.JobID
		out.JobID = &held
	}
	return &out
}
