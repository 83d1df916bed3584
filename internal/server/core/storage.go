package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobUpdate carries the fields a transition may set alongside the status
// change. Nil fields are left untouched.
type JobUpdate struct {
	AssignedDevice *string
	StartedAt      *time.Time
	FinishedAt     *time.Time
	Result         *Result
	Failure        *Failure
}

// JobStore owns job records and their lifecycle.
//
// Transition is a compare-and-swap: the status moves from `from` to `to`
// atomically, or ErrStaleStatus is returned and nothing changes. Forward
// transitions only; terminal states never change again.
//
// Sweep deletes records whose expiry has passed, except Running jobs,
// whose expiry is pushed out instead.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	Transition(ctx context.Context, id uuid.UUID, from, to JobStatus, update JobUpdate) (*Job, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// DeviceRegistry tracks compute devices and their occupancy. TryAcquire
// and Release bracket exactly one job per device; probe results go
// through MarkIdle and MarkUnreachable, which never touch a Busy device.
type DeviceRegistry interface {
	Add(device *Device) error
	Get(id string) (*Device, error)
	All() []*Device
	Candidates(kind JobKind) []*Device
	TryAcquire(id string, jobID uuid.UUID) bool
	Release(id string, healthy bool) error
	MarkIdle(id string, at time.Time) error
	MarkUnreachable(id string) error
}
