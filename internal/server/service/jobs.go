package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

// JobService accepts jobs into the store and queue and answers polls.
type JobService interface {
	Submit(ctx context.Context, job *core.Job) error
	Poll(ctx context.Context, id uuid.UUID, wait time.Duration) (*core.Job, error)
}

type jobService struct {
	store        core.JobStore
	queues       *core.QueueSet
	jobTTL       time.Duration
	pollInterval time.Duration
	logger       logging.Logger
}

func NewJobService(
	store core.JobStore,
	queues *core.QueueSet,
	jobTTL time.Duration,
	logger logging.Logger,
) JobService {
	return &jobService{
		store:        store,
		queues:       queues,
		jobTTL:       jobTTL,
		pollInterval: 200 * time.Millisecond,
		logger:       logger,
	}
}

// Submit validates the job, persists it as pending, and places it on the
// queue for its kind. A full queue fails the freshly created record so a
// later poll gets a terminal answer, and ErrQueueFull is returned for the
// caller to surface as backpressure.
func (s *jobService) Submit(ctx context.Context, job *core.Job) error {
	if err := validateJob(job); err != nil {
		return err
	}

	now := time.Now().UTC()
	job.Status = core.StatusPending
	job.SubmittedAt = now
	job.ExpiresAt = now.Add(s.jobTTL)

	if err := s.store.Create(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	if err := s.queues.For(job.Kind).Enqueue(core.QueueEntry{JobID: job.ID, EnqueuedAt: now}); err != nil {
		failure := &core.Failure{Code: core.FailInternal, Message: "job queue full"}
		update := core.JobUpdate{FinishedAt: ptrTimeNow(), Failure: failure}
		if _, terr := s.store.Transition(ctx, job.ID, core.StatusPending, core.StatusFailed, update); terr != nil {
			s.logger.Error("Failed to mark unqueued job failed", "job_id", job.ID, "error", terr)
		}
		s.logger.Warn("Job rejected, queue full", "job_id", job.ID, "kind", job.Kind)
		return err
	}

	s.logger.Info("Job submitted",
		"job_id", job.ID,
		"kind", job.Kind,
		"file", job.Input.Name,
		"size_bytes", job.Input.Size)
	return nil
}

// Poll returns the job immediately when it is terminal or wait is zero,
// otherwise it watches the record until it turns terminal or the wait
// elapses, whichever comes first. The non-terminal snapshot is returned
// on expiry so callers can keep reporting progress.
func (s *jobService) Poll(ctx context.Context, id uuid.UUID, wait time.Duration) (*core.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if wait <= 0 || job.Status.Terminal() {
		return job, nil
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return job, nil
		case <-ticker.C:
			job, err = s.store.Get(ctx, id)
			if err != nil {
				// The record can expire mid-wait; the caller sees the
				// same not-found as for an unknown id.
				return nil, err
			}
			if job.Status.Terminal() {
				return job, nil
			}
		}
	}
}

func validateJob(job *core.Job) error {
	if !job.Kind.Valid() {
		return fmt.Errorf("%w: unknown job kind %q", core.ErrValidation, job.Kind)
	}
	if job.Input.Name == "" || job.Input.Path == "" {
		return fmt.Errorf("%w: no input file", core.ErrValidation)
	}
	if core.ClassifyInput(job.Input.Name) == core.InputUnknown {
		return fmt.Errorf("%w: unsupported file type %q, supported: %s",
			core.ErrValidation, filepath.Ext(job.Input.Name), strings.Join(core.SupportedExtensions(), ", "))
	}
	if err := job.Params.Extract.Validate(); err != nil {
		return err
	}
	return job.Params.Vision.Validate()
}

func ptrTimeNow() *time.Time {
	now := time.Now().UTC()
	return &now
}
