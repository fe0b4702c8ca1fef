package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/classifier/internal/core/domain"
)

type scriptedProcessor struct {
	results []int  // per-call claimed count, -1 means error
	calls   int
	idles   int
}

func (p *scriptedProcessor) Stage() domain.Stage { return domain.StageOne }

func (p *scriptedProcessor) Process(ctx context.Context, workerID string) (int, error) {
	if p.calls >= len(p.results) {
		return 0, nil
	}
	r := p.results[p.calls]
	p.calls++
	if r < 0 {
		return 0, errors.New("boom")
	}
	return r, nil
}

func (p *scriptedProcessor) Idle(ctx context.Context) { p.idles++ }

func TestWorkerDelaySelection(t *testing.T) {
	proc := &scriptedProcessor{results: []int{5, 0, -1}}
	w := NewWorker("w1", proc, Delays{
		Idle:    10 * time.Second,
		Batch:   time.Second,
		Failure: 30 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	var delays []time.Duration
	w.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	w.Run(ctx)

	want := []time.Duration{time.Second, 10 * time.Second, 30 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("got %d sleeps, want %d", len(delays), len(want))
	}
	for i, d := range want {
		if delays[i] != d {
			t.Errorf("sleep %d = %v, want %v", i, delays[i], d)
		}
	}
	if proc.idles != 1 {
		t.Errorf("Idle called %d times, want 1 (only on empty claim)", proc.idles)
	}
}

func TestWorkerStopsOnCancelledContext(t *testing.T) {
	proc := &scriptedProcessor{}
	w := NewWorker("w1", proc, Delays{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
	if proc.calls != 0 {
		t.Errorf("cancelled worker still processed %d batches", proc.calls)
	}
}
