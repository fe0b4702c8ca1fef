package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCollectorConcurrentWriters(t *testing.T) {
	c := NewCollector(time.Hour)

	const workers = 8
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				c.RecordClassification(ClassificationSample{
					Stage:      "stage1",
					Worker:     "w",
					Size:       10,
					Latency:    time.Second,
					Classified: 10,
				})
			}
		}(w)
	}
	wg.Wait()

	stats := c.ClassificationStats(time.Hour)
	if stats.Batches != workers*perWorker {
		t.Errorf("lost samples: got %d batches, want %d", stats.Batches, workers*perWorker)
	}
	if stats.Records != workers*perWorker*10 {
		t.Errorf("got %d records, want %d", stats.Records, workers*perWorker*10)
	}
	if got := c.Snapshot(); got.BatchesProcessed != workers*perWorker {
		t.Errorf("totals out of sync: %d, want %d", got.BatchesProcessed, workers*perWorker)
	}
}

func TestCollectorWindowedStats(t *testing.T) {
	c := NewCollector(24 * time.Hour)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	c.SetClock(func() time.Time { return clock })

	c.RecordClassification(ClassificationSample{
		Stage: "stage1", Worker: "old", Size: 5, Classified: 5, Latency: time.Second,
	})
	clock = base.Add(30 * time.Minute)
	c.RecordClassification(ClassificationSample{
		Stage: "stage1", Worker: "new", Size: 3, Classified: 2, NoneClassified: 1,
		Latency: 3 * time.Second,
	})

	clock = base.Add(40 * time.Minute)
	recent := c.ClassificationStats(15 * time.Minute)
	if recent.Batches != 1 || recent.Records != 3 {
		t.Errorf("15m window: got %d batches / %d records, want 1 / 3",
			recent.Batches, recent.Records)
	}
	if recent.AvgLatency != 3*time.Second {
		t.Errorf("15m window avg latency = %v, want 3s", recent.AvgLatency)
	}

	all := c.ClassificationStats(time.Hour)
	if all.Batches != 2 || all.Records != 8 || all.AvgLatency != 2*time.Second {
		t.Errorf("1h window: %+v", all)
	}
}

func TestCollectorRetentionPruning(t *testing.T) {
	c := NewCollector(time.Hour)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	c.SetClock(func() time.Time { return clock })

	c.RecordMigration(MigrationSample{Worker: "m", Inserted: 10})

	clock = base.Add(2 * time.Hour)
	c.RecordMigration(MigrationSample{Worker: "m", Inserted: 5, Duplicates: 1})

	// The first sample fell off the retention horizon, but totals keep it.
	stats := c.MigrationStats(24 * time.Hour)
	if stats.Pages != 1 || stats.Inserted != 5 {
		t.Errorf("got %d pages / %d inserted, want 1 / 5", stats.Pages, stats.Inserted)
	}
	if got := c.Snapshot(); got.RecordsInserted != 15 || got.Duplicates != 1 {
		t.Errorf("totals = %+v, want 15 inserted / 1 duplicate", got)
	}
}

func TestWorkerLatencyEMA(t *testing.T) {
	c := NewCollector(time.Hour)

	c.RecordClassification(ClassificationSample{Worker: "w1", Latency: time.Second})
	if got := c.WorkerLatency("w1"); got != time.Second {
		t.Fatalf("first sample sets the EMA: got %v", got)
	}

	c.RecordClassification(ClassificationSample{Worker: "w1", Latency: 2 * time.Second})
	want := time.Duration(0.9*float64(time.Second) + 0.1*float64(2*time.Second))
	if got := c.WorkerLatency("w1"); got != want {
		t.Errorf("EMA = %v, want %v", got, want)
	}

	if got := c.WorkerLatency("unknown"); got != 0 {
		t.Errorf("unknown worker latency = %v, want 0", got)
	}
}
