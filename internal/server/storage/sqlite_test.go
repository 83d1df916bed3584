package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
)

func newSQLiteStore(t *testing.T) *SQLiteJobStore {
	t.Helper()
	store, err := NewSQLiteJobStore(filepath.Join(t.TempDir(), "jobs.db"), time.Hour)
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	job := pendingJob(time.Hour)
	start := 2
	job.Params.Extract.Method = "ocr"
	job.Params.Extract.StartPage = &start

	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != core.StatusPending || got.Kind != core.KindTextExtraction {
		t.Errorf("unexpected job: %+v", got)
	}
	if got.Params.Extract.Method != "ocr" {
		t.Errorf("Expected method ocr, got %q", got.Params.Extract.Method)
	}
	if got.Params.Extract.StartPage == nil || *got.Params.Extract.StartPage != 2 {
		t.Errorf("Expected start page 2, got %v", got.Params.Extract.StartPage)
	}
	if !got.SubmittedAt.Equal(job.SubmittedAt) {
		t.Errorf("Expected submitted at %v, got %v", job.SubmittedAt, got.SubmittedAt)
	}

	if _, err := store.Get(ctx, uuid.New()); !errors.Is(err, core.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestSQLiteStore_Transition(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	job := pendingJob(time.Hour)
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	device := "worker-1"
	started := time.Now().UTC()
	running, err := store.Transition(ctx, job.ID, core.StatusPending, core.StatusRunning, core.JobUpdate{
		AssignedDevice: &device,
		StartedAt:      &started,
	})
	if err != nil {
		t.Fatalf("Transition to running failed: %v", err)
	}
	if running.Status != core.StatusRunning || running.AssignedDevice != "worker-1" {
		t.Errorf("unexpected running job: %+v", running)
	}
	if running.StartedAt == nil || !running.StartedAt.Equal(started) {
		t.Errorf("Expected started at %v, got %v", started, running.StartedAt)
	}

	if _, err := store.Transition(ctx, job.ID, core.StatusPending, core.StatusRunning, core.JobUpdate{}); !errors.Is(err, core.ErrStaleStatus) {
		t.Errorf("Expected ErrStaleStatus, got %v", err)
	}

	finished := time.Now().UTC()
	failed, err := store.Transition(ctx, job.ID, core.StatusRunning, core.StatusFailed, core.JobUpdate{
		FinishedAt: &finished,
		Failure:    &core.Failure{Code: core.FailExtraction, Message: "mineru exited with status 1"},
	})
	if err != nil {
		t.Fatalf("Transition to failed failed: %v", err)
	}
	if failed.Failure == nil || failed.Failure.Code != core.FailExtraction {
		t.Errorf("Expected the failure to be recorded, got %+v", failed.Failure)
	}

	if _, err := store.Transition(ctx, job.ID, core.StatusFailed, core.StatusRunning, core.JobUpdate{}); err == nil {
		t.Error("Expected a transition out of FAILED to be rejected")
	}

	if _, err := store.Transition(ctx, uuid.New(), core.StatusPending, core.StatusRunning, core.JobUpdate{}); !errors.Is(err, core.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestSQLiteStore_Sweep(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := pendingJob(time.Hour)
	expired.ExpiresAt = now.Add(-time.Minute)
	if err := store.Create(ctx, expired); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	running := pendingJob(time.Hour)
	running.ExpiresAt = now.Add(-time.Minute)
	if err := store.Create(ctx, running); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Transition(ctx, running.ID, core.StatusPending, core.StatusRunning, core.JobUpdate{}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	removed, err := store.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed job, got %d", removed)
	}

	if _, err := store.Get(ctx, expired.ID); !errors.Is(err, core.ErrJobNotFound) {
		t.Errorf("Expected the expired job to be gone, got %v", err)
	}
	kept, err := store.Get(ctx, running.ID)
	if err != nil {
		t.Fatalf("Expected the running job to survive, got %v", err)
	}
	if !kept.ExpiresAt.After(now) {
		t.Error("Expected the running job expiry to be pushed out")
	}
}

func TestSQLiteStore_Recovery(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	oldest := pendingJob(time.Hour)
	oldest.SubmittedAt = base.Add(-2 * time.Minute)
	newest := pendingJob(time.Hour)
	newest.SubmittedAt = base.Add(-time.Minute)
	interrupted := pendingJob(time.Hour)
	interrupted.SubmittedAt = base

	for _, job := range []*core.Job{newest, oldest, interrupted} {
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	device := "gpu-0"
	if _, err := store.Transition(ctx, interrupted.ID, core.StatusPending, core.StatusRunning, core.JobUpdate{
		AssignedDevice: &device,
	}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	recovered, err := store.RecoverRunning(ctx)
	if err != nil {
		t.Fatalf("RecoverRunning failed: %v", err)
	}
	if recovered != 1 {
		t.Errorf("Expected 1 recovered job, got %d", recovered)
	}

	job, err := store.Get(ctx, interrupted.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.Status != core.StatusPending {
		t.Errorf("Expected PENDING after recovery, got %s", job.Status)
	}
	if job.AssignedDevice != "" || job.StartedAt != nil {
		t.Errorf("Expected the assignment to be cleared, got device %q started %v", job.AssignedDevice, job.StartedAt)
	}

	pending, err := store.PendingJobs(ctx)
	if err != nil {
		t.Fatalf("PendingJobs failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("Expected 3 pending jobs, got %d", len(pending))
	}
	wantOrder := []uuid.UUID{oldest.ID, newest.ID, interrupted.ID}
	for i, want := range wantOrder {
		if pending[i].ID != want {
			t.Errorf("Expected job %d to be %s, got %s", i, want, pending[i].ID)
		}
	}
}
