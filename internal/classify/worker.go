package classify

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/classifier/internal/core/domain"
)

// Processor is one classification stage as seen by the worker loop.
type Processor interface {
	Stage() domain.Stage
	Process(ctx context.Context, workerID string) (int, error)
	Idle(ctx context.Context)
}

// Delays tunes the worker's pacing between batches.
type Delays struct {
	Idle    time.Duration
	Batch   time.Duration
	Failure time.Duration
}

// Worker runs one stage's cooperative loop: claim a batch, process it, sleep
// the computed delay, repeat. Workers coordinate only through the store's
// atomic claims; backpressure is entirely batch sizing plus these delays.
type Worker struct {
	id     string
	proc   Processor
	delays Delays

	sleep func(ctx context.Context, d time.Duration) error
}

// NewWorker creates a worker with the given id.
func NewWorker(id string, proc Processor, delays Delays) *Worker {
	return &Worker{
		id:     id,
		proc:   proc,
		delays: delays,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

// Run loops until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log := slog.With("worker", w.id, "stage", w.proc.Stage())
	log.Info("worker started")

	for {
		if ctx.Err() != nil {
			log.Info("worker stopped")
			return
		}

		processed, err := w.proc.Process(ctx, w.id)
		var delay time.Duration
		switch {
		case err != nil:
			log.Error("batch processing failed", "error", err)
			delay = w.delays.Failure
		case processed == 0:
			w.proc.Idle(ctx)
			delay = w.delays.Idle
		default:
			log.Debug("batch processed", "records", processed)
			delay = w.delays.Batch
		}

		if err := w.sleep(ctx, delay); err != nil {
			log.Info("worker stopped")
			return
		}
	}
}
