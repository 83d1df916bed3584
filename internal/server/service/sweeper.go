package service

import (
	"context"
	"time"

	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

// Sweeper removes expired job records on a fixed interval.
type Sweeper struct {
	interval time.Duration
	store    core.JobStore
	logger   logging.Logger
}

func NewSweeper(interval time.Duration, store core.JobStore, logger logging.Logger) *Sweeper {
	return &Sweeper{
		interval: interval,
		store:    store,
		logger:   logger,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Job sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	removed, err := s.store.Sweep(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("Job sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("Expired jobs removed", "count", removed)
	}
}
