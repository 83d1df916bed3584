package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/server/storage"
)

func TestSweeper_RemovesExpiredJobs(t *testing.T) {
	store := storage.NewInMemoryJobStore(time.Hour)

	expired := newTestJob(t, core.KindTextExtraction)
	expired.Status = core.StatusSucceeded
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if err := store.Create(context.Background(), expired); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	live := newTestJob(t, core.KindTextExtraction)
	live.Status = core.StatusPending
	live.ExpiresAt = time.Now().UTC().Add(time.Hour)
	if err := store.Create(context.Background(), live); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	sweeper := NewSweeper(10*time.Millisecond, store, &mockLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := store.Get(context.Background(), expired.ID); errors.Is(err, core.ErrJobNotFound) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := store.Get(context.Background(), expired.ID); !errors.Is(err, core.ErrJobNotFound) {
		t.Error("expected the expired job to be swept")
	}
	if _, err := store.Get(context.Background(), live.ID); err != nil {
		t.Errorf("live job must survive the sweep: %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("sweeper did not stop on context cancel")
	}
}
