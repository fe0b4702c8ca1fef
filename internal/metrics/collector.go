package metrics

import (
	"sync"
	"time"
)

// ClassificationSample records one processed classification batch.
type ClassificationSample struct {
	At             time.Time
	Stage          string
	Worker         string
	Size           int
	Latency        time.Duration
	Classified     int
	NoneClassified int
	Failed         int
}

// MigrationSample records one migrated page.
type MigrationSample struct {
	At         time.Time
	Worker     string
	Inserted   int64
	Duplicates int64
}

// ClassificationStats is a windowed aggregate over classification samples.
type ClassificationStats struct {
	Batches        int           `json:"batches"`
	Records        int           `json:"records"`
	Classified     int           `json:"classified"`
	NoneClassified int           `json:"none_classified"`
	Failed         int           `json:"failed"`
	AvgLatency     time.Duration `json:"avg_latency_ns"`
}

// MigrationStats is a windowed aggregate over migration samples.
type MigrationStats struct {
	Pages      int   `json:"pages"`
	Inserted   int64 `json:"inserted"`
	Duplicates int64 `json:"duplicates"`
}

// Totals are running counters unaffected by sample retention.
type Totals struct {
	BatchesProcessed int   `json:"batches_processed"`
	RecordsProcessed int   `json:"records_processed"`
	RecordsInserted  int64 `json:"records_inserted"`
	Duplicates       int64 `json:"duplicates"`
}

// Collector is the process-wide metrics accumulator. It is constructed once
// at startup and passed by reference to every component that emits events; a
// single mutex guards samples, EMA state and totals so reads see consistent
// snapshots. Samples older than the retention horizon are pruned on write.
type Collector struct {
	mu        sync.Mutex
	retention time.Duration
	now       func() time.Time

	classification []ClassificationSample
	migration      []MigrationSample
	workerLatency  map[string]time.Duration
	totals         Totals
}

// NewCollector creates a collector keeping samples for the given retention.
func NewCollector(retention time.Duration) *Collector {
	return &Collector{
		retention:     retention,
		now:           time.Now,
		workerLatency: make(map[string]time.Duration),
	}
}

// SetClock overrides the collector's clock, for tests.
func (c *Collector) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

const emaWeight = 0.9

// RecordClassification stores one batch sample, updates the worker's EMA
// latency and mirrors counts to the Prometheus vectors.
func (c *Collector) RecordClassification(s ClassificationSample) {
	c.mu.Lock()
	if s.At.IsZero() {
		s.At = c.now()
	}
	c.classification = append(c.classification, s)

	prev, ok := c.workerLatency[s.Worker]
	if !ok {
		c.workerLatency[s.Worker] = s.Latency
	} else {
		c.workerLatency[s.Worker] = time.Duration(
			emaWeight*float64(prev) + (1-emaWeight)*float64(s.Latency))
	}

	c.totals.BatchesProcessed++
	c.totals.RecordsProcessed += s.Size
	c.prune()
	c.mu.Unlock()

	outcome := "success"
	if s.Failed > 0 {
		outcome = "failed"
	}
	BatchesProcessed.WithLabelValues(s.Stage, outcome).Inc()
	RecordsProcessed.WithLabelValues(s.Stage, "classified").Add(float64(s.Classified))
	RecordsProcessed.WithLabelValues(s.Stage, "none_classified").Add(float64(s.NoneClassified))
	RecordsProcessed.WithLabelValues(s.Stage, "failed").Add(float64(s.Failed))
	ServiceLatency.WithLabelValues(s.Stage).Observe(s.Latency.Seconds())
}

// RecordMigration stores one page sample and mirrors counts to Prometheus.
func (c *Collector) RecordMigration(s MigrationSample) {
	c.mu.Lock()
	if s.At.IsZero() {
		s.At = c.now()
	}
	c.migration = append(c.migration, s)
	c.totals.RecordsInserted += s.Inserted
	c.totals.Duplicates += s.Duplicates
	c.prune()
	c.mu.Unlock()

	MigratedRecords.Add(float64(s.Inserted))
	DuplicateRecords.Add(float64(s.Duplicates))
}

// prune drops samples older than the retention horizon. Caller holds the lock.
func (c *Collector) prune() {
	horizon := c.now().Add(-c.retention)

	keep := c.classification[:0]
	for _, s := range c.classification {
		if s.At.After(horizon) {
			keep = append(keep, s)
		}
	}
	c.classification = keep

	keepM := c.migration[:0]
	for _, s := range c.migration {
		if s.At.After(horizon) {
			keepM = append(keepM, s)
		}
	}
	c.migration = keepM
}

// ClassificationStats aggregates classification samples newer than window.
func (c *Collector) ClassificationStats(window time.Duration) ClassificationStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-window)
	var stats ClassificationStats
	var latencySum time.Duration
	for _, s := range c.classification {
		if !s.At.After(cutoff) {
			continue
		}
		stats.Batches++
		stats.Records += s.Size
		stats.Classified += s.Classified
		stats.NoneClassified += s.NoneClassified
		stats.Failed += s.Failed
		latencySum += s.Latency
	}
	if stats.Batches > 0 {
		stats.AvgLatency = latencySum / time.Duration(stats.Batches)
	}
	return stats
}

// MigrationStats aggregates migration samples newer than window.
func (c *Collector) MigrationStats(window time.Duration) MigrationStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-window)
	var stats MigrationStats
	for _, s := range c.migration {
		if !s.At.After(cutoff) {
			continue
		}
		stats.Pages++
		stats.Inserted += s.Inserted
		stats.Duplicates += s.Duplicates
	}
	return stats
}

// WorkerLatency returns a worker's exponential moving average batch latency.
func (c *Collector) WorkerLatency(worker string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workerLatency[worker]
}

// Snapshot returns the running totals.
func (c *Collector) Snapshot() Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals
}
