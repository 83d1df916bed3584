package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
)

// InMemoryJobStore keeps job records in a mutex-guarded map. The default
// backend; state does not survive a restart.
type InMemoryJobStore struct {
	mu     sync.RWMutex
	jobs   map[uuid.UUID]*core.Job
	jobTTL time.Duration
}

func NewInMemoryJobStore(jobTTL time.Duration) *InMemoryJobStore {
	return &InMemoryJobStore{
		jobs:   make(map[uuid.UUID]*core.Job),
		jobTTL: jobTTL,
	}
}

func (s *InMemoryJobStore) Create(ctx context.Context, job *core.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	stored := cloneJob(job)
	s.jobs[job.ID] = stored
	return nil
}

func (s *InMemoryJobStore) Get(ctx context.Context, id uuid.UUID) (*core.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return nil, core.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *InMemoryJobStore) Transition(ctx context.Context, id uuid.UUID, from, to core.JobStatus, update core.JobUpdate) (*core.Job, error) {
	if !core.ValidTransition(from, to) {
		return nil, fmt.Errorf("transition %s -> %s not allowed", from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, core.ErrJobNotFound
	}
	if job.Status != from {
		return nil, core.ErrStaleStatus
	}

	job.Status = to
	applyUpdate(job, update)
	return cloneJob(job), nil
}

// Sweep drops expired records. Running jobs are never dropped: their
// expiry is pushed out by one TTL so a long run cannot be collected
// under the dispatcher.
func (s *InMemoryJobStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.ExpiresAt.After(now) {
			continue
		}
		if job.Status == core.StatusRunning {
			job.ExpiresAt = now.Add(s.jobTTL)
			continue
		}
		delete(s.jobs, id)
		removed++
	}
	return removed, nil
}

func (s *InMemoryJobStore) Close() error {
	return nil
}

func applyUpdate(job *core.Job, update core.JobUpdate) {
	if update.AssignedDevice != nil {
		job.AssignedDevice = *update.AssignedDevice
	}
	if update.StartedAt != nil {
		job.StartedAt = update.StartedAt
	}
	if update.FinishedAt != nil {
		job.FinishedAt = update.FinishedAt
	}
	if update.Result != nil {
		job.Result = update.Result
	}
	if update.Failure != nil {
		job.Failure = update.Failure
	}
}

// cloneJob copies a record so readers never observe a transition halfway
// through.
func cloneJob(job *core.Job) *core.Job {
	out := *job
	if job.StartedAt != nil {
		t := *job.StartedAt
		out.StartedAt = &t
	}
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		out.FinishedAt = &t
	}
	if job.Result != nil {
		r := *job.Result
		if job.Result.CoreFiles != nil {
			r.CoreFiles = make(map[string]string, len(job.Result.CoreFiles))
			for k, v := range job.Result.CoreFiles {
				r.CoreFiles[k] = v
			}
		}
		if job.Result.Descriptions != nil {
			r.Descriptions = append([]core.ImageDescription(nil), job.Result.Descriptions...)
		}
		out.Result = &r
	}
	if job.Failure != nil {
		f := *job.Failure
		out.Failure = &f
	}
	return &out
}
