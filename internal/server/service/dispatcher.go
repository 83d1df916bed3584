package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/server/executor"
	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

// Dispatcher runs the dispatch loops that move queued jobs onto devices.
// Each job kind gets its own queue and its own set of loops, so a burst
// of one kind cannot starve the others. A device executes at most one
// job at a time; TryAcquire on the registry is the arbiter when several
// loops chase the same device.
type Dispatcher struct {
	store        core.JobStore
	registry     core.DeviceRegistry
	queues       *core.QueueSet
	local        executor.Executor
	remote       executor.Executor
	loopsPerKind int
	maxAttempts  int
	backoffBase  time.Duration
	backoffMax   time.Duration
	logger       logging.Logger
}

func NewDispatcher(
	store core.JobStore,
	registry core.DeviceRegistry,
	queues *core.QueueSet,
	local executor.Executor,
	remote executor.Executor,
	cfg config.DispatcherConfig,
	logger logging.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:        store,
		registry:     registry,
		queues:       queues,
		local:        local,
		remote:       remote,
		loopsPerKind: cfg.WorkersPerKind,
		maxAttempts:  cfg.MaxAttempts,
		backoffBase:  cfg.BackoffBase,
		backoffMax:   cfg.BackoffMax,
		logger:       logger,
	}
}

// Start launches the dispatch loops and blocks until ctx is canceled and
// every loop has drained out.
func (d *Dispatcher) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, kind := range core.Kinds() {
		queue := d.queues.For(kind)
		for i := 0; i < d.loopsPerKind; i++ {
			wg.Add(1)
			go func(kind core.JobKind, queue core.JobQueue, loop int) {
				defer wg.Done()
				d.runLoop(ctx, kind, queue, loop)
			}(kind, queue, i)
		}
	}
	wg.Wait()
}

func (d *Dispatcher) runLoop(ctx context.Context, kind core.JobKind, queue core.JobQueue, loop int) {
	log := d.logger.With("kind", kind, "loop", loop)
	log.Info("Dispatch loop started")
	for {
		entry, err := queue.Dequeue(ctx)
		if err != nil {
			log.Info("Dispatch loop stopped")
			return
		}
		d.dispatch(ctx, kind, queue, entry, log)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, kind core.JobKind, queue core.JobQueue, entry core.QueueEntry, log logging.Logger) {
	job, err := d.store.Get(ctx, entry.JobID)
	if err != nil {
		if !errors.Is(err, core.ErrJobNotFound) {
			log.Error("Failed to load queued job", "job_id", entry.JobID, "error", err)
		}
		return
	}

	// A fresh entry expects a pending job. An entry requeued after a
	// remote timeout expects the job still running: it never went back to
	// pending, so the claim below is skipped for it. Anything else means
	// the record moved on without us and the entry is stale.
	expectFrom := core.StatusPending
	if entry.RemoteTimeouts > 0 {
		expectFrom = core.StatusRunning
	}
	if job.Status != expectFrom {
		log.Debug("Dropping stale queue entry", "job_id", job.ID, "status", job.Status)
		return
	}

	device := d.acquireDevice(kind, job.ID)
	if device == nil {
		d.requeue(ctx, queue, entry, log)
		return
	}

	if entry.RemoteTimeouts == 0 {
		update := core.JobUpdate{AssignedDevice: &device.ID, StartedAt: ptrTimeNow()}
		claimed, err := d.store.Transition(ctx, job.ID, core.StatusPending, core.StatusRunning, update)
		switch {
		case err == nil:
			job = claimed
		case errors.Is(err, core.ErrStaleStatus), errors.Is(err, core.ErrJobNotFound):
			// Another loop claimed it between our Get and the swap.
			d.release(device.ID, true, log)
			return
		default:
			log.Error("Failed to mark job running", "job_id", job.ID, "error", err)
			d.release(device.ID, true, log)
			d.requeue(ctx, queue, entry, log)
			return
		}
	}

	d.execute(ctx, queue, entry, job, device, log)
}

// acquireDevice walks the candidates in preference order and claims the
// first one that is still free.
func (d *Dispatcher) acquireDevice(kind core.JobKind, jobID uuid.UUID) *core.Device {
	for _, device := range d.registry.Candidates(kind) {
		if d.registry.TryAcquire(device.ID, jobID) {
			return device
		}
	}
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, queue core.JobQueue, entry core.QueueEntry, job *core.Job, device *core.Device, log logging.Logger) {
	exec := d.local
	if device.Kind == core.DeviceRemote {
		exec = d.remote
	}

	log.Info("Dispatching job", "job_id", job.ID, "device", device.ID, "attempt", entry.Attempt, "waited", time.Since(entry.EnqueuedAt))
	started := time.Now()
	result, err := exec.Execute(ctx, job, device)

	switch {
	case err == nil:
		update := core.JobUpdate{AssignedDevice: &device.ID, FinishedAt: ptrTimeNow(), Result: result}
		d.finish(ctx, job, core.StatusSucceeded, update, log)
		d.release(device.ID, true, log)
		d.removeStagedInput(job, log)
		log.Info("Job succeeded", "job_id", job.ID, "device", device.ID, "duration", time.Since(started))

	case errors.Is(err, core.ErrRemoteTimeout), errors.Is(err, core.ErrRemoteUnreachable):
		// The device may still be grinding on the job, or be gone
		// entirely. Either way it is not schedulable until a probe says
		// otherwise. The job gets exactly one shot on another device.
		d.release(device.ID, false, log)
		if entry.RemoteTimeouts == 0 {
			log.Warn("Remote device lost, requeueing job", "job_id", job.ID, "device", device.ID, "error", err)
			retry := core.QueueEntry{JobID: entry.JobID, EnqueuedAt: entry.EnqueuedAt, Attempt: entry.Attempt, RemoteTimeouts: 1}
			if qerr := queue.Enqueue(retry); qerr == nil {
				return
			}
			log.Error("Could not requeue job after remote loss", "job_id", job.ID)
		}
		update := core.JobUpdate{AssignedDevice: &device.ID, FinishedAt: ptrTimeNow(), Failure: core.FailureFromError(err)}
		d.finish(ctx, job, core.StatusFailed, update, log)
		d.removeStagedInput(job, log)
		log.Warn("Job failed after remote loss", "job_id", job.ID, "device", device.ID)

	default:
		update := core.JobUpdate{AssignedDevice: &device.ID, FinishedAt: ptrTimeNow(), Failure: core.FailureFromError(err)}
		d.finish(ctx, job, core.StatusFailed, update, log)
		d.release(device.ID, true, log)
		d.removeStagedInput(job, log)
		log.Warn("Job failed", "job_id", job.ID, "device", device.ID, "duration", time.Since(started), "error", err)
	}
}

func (d *Dispatcher) release(id string, healthy bool, log logging.Logger) {
	if err := d.registry.Release(id, healthy); err != nil {
		log.Error("Failed to release device", "device", id, "error", err)
	}
}

// finish records the terminal status. A stale or missing record at this
// point means someone else already settled the job, which is fine.
func (d *Dispatcher) finish(ctx context.Context, job *core.Job, to core.JobStatus, update core.JobUpdate, log logging.Logger) {
	_, err := d.store.Transition(ctx, job.ID, core.StatusRunning, to, update)
	if err != nil && !errors.Is(err, core.ErrStaleStatus) && !errors.Is(err, core.ErrJobNotFound) {
		log.Error("Failed to record job outcome", "job_id", job.ID, "status", to, "error", err)
	}
}

// requeue puts an entry back after no device could take it, with an
// exponential pause so an empty registry is not spun on. Attempts are
// bounded; past the bound the job fails for good.
func (d *Dispatcher) requeue(ctx context.Context, queue core.JobQueue, entry core.QueueEntry, log logging.Logger) {
	if entry.Attempt+1 >= d.maxAttempts {
		d.exhaust(ctx, entry, log)
		return
	}

	delay := backoffDelay(d.backoffBase, d.backoffMax, entry.Attempt)
	log.Debug("No device available, pausing before requeue", "job_id", entry.JobID, "attempt", entry.Attempt, "delay", delay)
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	next := entry
	next.Attempt++
	if err := queue.Enqueue(next); err != nil {
		log.Warn("Requeue rejected, queue full", "job_id", entry.JobID)
		d.exhaust(ctx, entry, log)
	}
}

// exhaust fails a job whose dispatch attempts are spent. Entries that
// lost a remote device mid-run report the timeout; entries that never
// found a device report that no device was available.
func (d *Dispatcher) exhaust(ctx context.Context, entry core.QueueEntry, log logging.Logger) {
	from := core.StatusPending
	failure := &core.Failure{
		Code:    core.FailNoDevice,
		Message: fmt.Sprintf("no capable device available after %d attempts", d.maxAttempts),
	}
	if entry.RemoteTimeouts > 0 {
		from = core.StatusRunning
		failure = &core.Failure{
			Code:    core.FailRemoteTimeout,
			Message: "remote device lost and no other device could take over",
		}
	}

	update := core.JobUpdate{FinishedAt: ptrTimeNow(), Failure: failure}
	if _, err := d.store.Transition(ctx, entry.JobID, from, core.StatusFailed, update); err != nil {
		if !errors.Is(err, core.ErrStaleStatus) && !errors.Is(err, core.ErrJobNotFound) {
			log.Error("Failed to fail exhausted job", "job_id", entry.JobID, "error", err)
		}
		return
	}
	log.Warn("Job exhausted dispatch attempts", "job_id", entry.JobID, "code", failure.Code)
	if job, err := d.store.Get(ctx, entry.JobID); err == nil {
		d.removeStagedInput(job, log)
	}
}

// removeStagedInput deletes the uploaded file once the job is terminal.
// Until then it must stay: a requeued job is re-read from disk.
func (d *Dispatcher) removeStagedInput(job *core.Job, log logging.Logger) {
	if job.Input.Path == "" {
		return
	}
	if err := os.Remove(job.Input.Path); err != nil && !os.IsNotExist(err) {
		log.Warn("Could not remove staged input", "job_id", job.ID, "path", job.Input.Path, "error", err)
	}
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}
