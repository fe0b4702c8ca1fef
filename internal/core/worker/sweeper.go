package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/classifier/internal/core/domain"
	"github.com/vietddude/classifier/internal/infra/storage"
	"github.com/vietddude/classifier/internal/metrics"
)

// Sweeper returns claims abandoned by crashed or hung workers to the pending
// pool, for both stages, on a fixed interval.
type Sweeper struct {
	repo       storage.RecordRepository
	interval   time.Duration
	stuckAfter time.Duration
}

// NewSweeper creates a sweeper resetting claims older than stuckAfter.
func NewSweeper(repo storage.RecordRepository, interval, stuckAfter time.Duration) *Sweeper {
	return &Sweeper{repo: repo, interval: interval, stuckAfter: stuckAfter}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	olderThan := time.Now().Add(-s.stuckAfter)

	for _, stage := range []domain.Stage{domain.StageOne, domain.StageTwo} {
		swept, err := s.repo.SweepStuck(ctx, stage, olderThan)
		if err != nil {
			slog.Error("stuck sweep failed", "stage", stage, "error", err)
			continue
		}
		if swept > 0 {
			slog.Warn("reclaimed stuck records", "stage", stage, "count", swept)
			metrics.SweptRecords.WithLabelValues(string(stage)).Add(float64(swept))
		}
	}
}
