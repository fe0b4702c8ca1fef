package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/vietddude/classifier/internal/core/domain"
	"github.com/vietddude/classifier/internal/infra/storage"
	"github.com/vietddude/classifier/internal/metrics"
)

// Lease is the advisory time-leased lock ensuring one worker drives a job.
type Lease interface {
	AcquireLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, jobID string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, jobID string) error
}

// ErrLeaseHeld is returned when another worker already drives the job.
var ErrLeaseHeld = errors.New("migration job is driven by another worker")

// Config tunes the migration engine.
type Config struct {
	BatchSize int           `yaml:"batch_size"`
	LeaseTTL  time.Duration `yaml:"lease_ttl"`
}

// Engine copies source collections into the record store. Progress is a
// single serial cursor checkpointed after every page, so a crashed job
// resumes from its last durable page instead of restarting.
type Engine struct {
	records   storage.RecordRepository
	jobs      storage.JobRepository
	source    storage.SourceReader
	lease     Lease
	collector *metrics.Collector
	cfg       Config
	workerID  string
}

// NewEngine creates a migration engine.
func NewEngine(
	records storage.RecordRepository,
	jobs storage.JobRepository,
	source storage.SourceReader,
	lease Lease,
	collector *metrics.Collector,
	cfg Config,
) *Engine {
	return &Engine{
		records:   records,
		jobs:      jobs,
		source:    source,
		lease:     lease,
		collector: collector,
		cfg:       cfg,
		workerID:  uuid.NewString(),
	}
}

// Start creates a new migration job over every source collection and runs it
// to completion. Returns the job id even when the run fails partway.
func (e *Engine) Start(ctx context.Context) (string, error) {
	job, err := e.newJob(ctx)
	if err != nil {
		return "", err
	}
	return job.JobID, e.run(ctx, job)
}

// StartAsync creates a new migration job and runs it in the background,
// returning the job id immediately. Progress is visible through the job row.
func (e *Engine) StartAsync(ctx context.Context) (string, error) {
	job, err := e.newJob(ctx)
	if err != nil {
		return "", err
	}
	go func() {
		if err := e.run(context.Background(), job); err != nil {
			slog.Error("migration run failed", "job_id", job.JobID, "error", err)
		}
	}()
	return job.JobID, nil
}

func (e *Engine) newJob(ctx context.Context) (*domain.MigrationJob, error) {
	total, err := e.sourceTotal(ctx)
	if err != nil {
		return nil, err
	}

	job := &domain.MigrationJob{
		JobID:      uuid.NewString(),
		Status:     domain.JobRunning,
		TotalCount: total,
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create migration job: %w", err)
	}

	slog.Info("migration started", "job_id", job.JobID, "total", total)
	return job, nil
}

// Resume continues a job from its last checkpoint.
func (e *Engine) Resume(ctx context.Context, jobID string) error {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == domain.JobCompleted {
		return fmt.Errorf("job %s is already completed", jobID)
	}

	if err := e.jobs.SetStatus(ctx, jobID, domain.JobRunning, ""); err != nil {
		return err
	}
	job.Status = domain.JobRunning

	slog.Info("migration resumed",
		"job_id", jobID, "cursor", job.LastCursor, "migrated", job.MigratedCount)
	return e.run(ctx, job)
}

// CheckAndStart runs a migration only when the source holds more records
// than the target, and no job is active. Returns the job id and whether a
// run happened.
func (e *Engine) CheckAndStart(ctx context.Context) (string, bool, error) {
	if active, err := e.jobs.ActiveJob(ctx); err != nil {
		return "", false, err
	} else if active != nil {
		slog.Info("migration check skipped, job already active", "job_id", active.JobID)
		return active.JobID, false, nil
	}

	sourceTotal, err := e.sourceTotal(ctx)
	if err != nil {
		return "", false, err
	}
	targetTotal, err := e.records.Count(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to count target records: %w", err)
	}
	if sourceTotal <= targetTotal {
		slog.Info("migration check found nothing new",
			"source", sourceTotal, "target", targetTotal)
		return "", false, nil
	}

	jobID, err := e.Start(ctx)
	return jobID, jobID != "", err
}

func (e *Engine) sourceTotal(ctx context.Context) (int64, error) {
	collections, err := e.source.Collections(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list source collections: %w", err)
	}
	var total int64
	for _, collection := range collections {
		count, err := e.source.Count(ctx, collection)
		if err != nil {
			return 0, fmt.Errorf("failed to count %s: %w", collection, err)
		}
		total += count
	}
	return total, nil
}

func (e *Engine) run(ctx context.Context, job *domain.MigrationJob) error {
	held, err := e.lease.AcquireLease(ctx, job.JobID, e.workerID, e.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lease: %w", err)
	}
	if !held {
		return ErrLeaseHeld
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.lease.ReleaseLease(releaseCtx, job.JobID); err != nil {
			slog.Warn("failed to release migration lease", "job_id", job.JobID, "error", err)
		}
	}()

	if err := e.runCollections(ctx, job); err != nil {
		if serr := e.jobs.SetStatus(ctx, job.JobID, domain.JobFailed, err.Error()); serr != nil {
			slog.Error("failed to mark migration job failed", "job_id", job.JobID, "error", serr)
		}
		return err
	}

	if err := e.jobs.SetStatus(ctx, job.JobID, domain.JobCompleted, ""); err != nil {
		return err
	}
	slog.Info("migration completed",
		"job_id", job.JobID, "migrated", job.MigratedCount, "duplicates", job.DuplicateCount)
	return nil
}

func (e *Engine) runCollections(ctx context.Context, job *domain.MigrationJob) error {
	collections, err := e.source.Collections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list source collections: %w", err)
	}

	cursorCollection, cursorID := parseCursor(job.LastCursor)
	skipping := cursorCollection != ""

	for _, collection := range collections {
		if skipping && collection != cursorCollection {
			continue
		}
		afterID := int64(0)
		if skipping {
			afterID = cursorID
			skipping = false
		}
		if err := e.migrateCollection(ctx, job, collection, afterID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) migrateCollection(
	ctx context.Context,
	job *domain.MigrationJob,
	collection string,
	afterID int64,
) error {
	for {
		page, err := e.fetchPage(ctx, collection, afterID)
		if err != nil {
			return fmt.Errorf("failed to read %s after id %d: %w", collection, afterID, err)
		}
		if len(page) == 0 {
			return nil
		}

		records := make([]domain.Record, len(page))
		for i, row := range page {
			records[i] = domain.Record{
				SourceID:         strconv.FormatInt(row.ID, 10),
				SourceCollection: collection,
				Title:            row.Title,
				Stage1Status:     domain.StatusPending,
			}
		}

		inserted, err := e.records.BulkInsert(ctx, records)
		if err != nil {
			return fmt.Errorf("failed to insert page from %s: %w", collection, err)
		}
		duplicates := int64(len(page)) - inserted

		afterID = page[len(page)-1].ID
		job.MigratedCount += inserted
		job.DuplicateCount += duplicates
		job.LastCursor = fmt.Sprintf("%s:%d", collection, afterID)

		if err := e.jobs.UpdateProgress(ctx, job.JobID,
			job.MigratedCount, job.DuplicateCount, job.LastCursor); err != nil {
			return fmt.Errorf("failed to checkpoint %s: %w", job.JobID, err)
		}
		if err := e.lease.RenewLease(ctx, job.JobID, e.cfg.LeaseTTL); err != nil {
			slog.Warn("failed to renew migration lease", "job_id", job.JobID, "error", err)
		}

		e.collector.RecordMigration(metrics.MigrationSample{
			Worker:     e.workerID,
			Inserted:   inserted,
			Duplicates: duplicates,
		})
		slog.Debug("migration page done",
			"job_id", job.JobID, "collection", collection,
			"inserted", inserted, "duplicates", duplicates, "cursor", job.LastCursor)
	}
}

// fetchPage reads one keyset page, retrying transient source failures with
// fibonacci backoff before giving up and failing the job.
func (e *Engine) fetchPage(
	ctx context.Context,
	collection string,
	afterID int64,
) ([]domain.SourceRow, error) {
	var page []domain.SourceRow
	backoff := retry.WithMaxRetries(4, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		rows, err := e.source.FetchPage(ctx, collection, afterID, e.cfg.BatchSize)
		if err != nil {
			return retry.RetryableError(err)
		}
		page = rows
		return nil
	})
	return page, err
}

func parseCursor(cursor string) (collection string, lastID int64) {
	i := strings.LastIndexByte(cursor, ':')
	if i < 0 {
		return "", 0
	}
	id, err := strconv.ParseInt(cursor[i+1:], 10, 64)
	if err != nil {
		return "", 0
	}
	return cursor[:i], id
}
