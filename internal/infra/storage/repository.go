package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/classifier/internal/core/domain"
)

var (
	// ErrJobNotFound is returned when a migration job doesn't exist.
	ErrJobNotFound = errors.New("migration job not found")
)

// Statistics is an aggregate count of records per stage-1 status, plus the
// stage-2 breakdown for records that reached it.
type Statistics struct {
	Total          int64 `json:"total"`
	Pending        int64 `json:"pending"`
	Processing     int64 `json:"processing"`
	Classified     int64 `json:"classified"`
	NoneClassified int64 `json:"none_classified"`
	Failed         int64 `json:"failed"`

	Stage2Pending        int64 `json:"stage2_pending"`
	Stage2Processing     int64 `json:"stage2_processing"`
	Stage2Classified     int64 `json:"stage2_classified"`
	Stage2NoneClassified int64 `json:"stage2_none_classified"`
	Stage2Failed         int64 `json:"stage2_failed"`
}

// ClassifiedUpdate carries a stage result for one record.
type ClassifiedUpdate struct {
	ID      int64
	Groups  []string // stage 1: candidate coarse groups
	Code    string   // stage 2: exact code
	Name    string   // stage 2: exact code description
	BatchID string
}

// RecordRepository is the claimable record store. Any store with atomic
// conditional update-and-return can implement it.
type RecordRepository interface {
	// ClaimBatch atomically transitions up to max matching pending records to
	// processing for the given stage, setting owner and claim time. Claims are
	// taken one record at a time, so a short batch on queue exhaustion is
	// normal. An empty result means the queue is empty, not an error.
	ClaimBatch(ctx context.Context, stage domain.Stage, workerID string, max int) ([]domain.Record, error)

	// ReleaseClassified finalizes claimed records with their stage results.
	ReleaseClassified(ctx context.Context, stage domain.Stage, updates []ClassifiedUpdate) error

	// Release sets a terminal status on claimed records and clears ownership.
	Release(ctx context.Context, stage domain.Stage, ids []int64, outcome domain.Status, errMsg string) error

	// SweepStuck resets records whose claim is older than olderThan back to
	// pending, recovering work abandoned by crashed workers.
	SweepStuck(ctx context.Context, stage domain.Stage, olderThan time.Time) (int64, error)

	// ResetFailed returns failed records of the given stage to the pending
	// pool (operator action).
	ResetFailed(ctx context.Context, stage domain.Stage) (int64, error)

	// BulkInsert inserts migrated records, ignoring unique-key conflicts.
	// Returns the number actually inserted; the remainder are duplicates.
	BulkInsert(ctx context.Context, records []domain.Record) (int64, error)

	// Count returns the total number of records in the target store.
	Count(ctx context.Context) (int64, error)

	// Statistics returns per-status record counts.
	Statistics(ctx context.Context) (*Statistics, error)
}

// JobRepository stores migration job progress.
type JobRepository interface {
	Create(ctx context.Context, job *domain.MigrationJob) error
	Get(ctx context.Context, jobID string) (*domain.MigrationJob, error)

	// UpdateProgress persists the durable checkpoint after a page.
	UpdateProgress(ctx context.Context, jobID string, migrated, duplicates int64, lastCursor string) error

	// SetStatus finalizes a job, keeping the checkpoint intact.
	SetStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) error

	// ActiveJob returns the running job, if any.
	ActiveJob(ctx context.Context) (*domain.MigrationJob, error)
}

// SourceReader reads the legacy source collections during migration.
type SourceReader interface {
	// Collections lists the source collections in migration order.
	Collections(ctx context.Context) ([]string, error)

	// Count returns the number of rows in one collection.
	Count(ctx context.Context, collection string) (int64, error)

	// FetchPage returns up to limit rows with ID greater than afterID, in
	// ascending ID order. Keyset pagination stays correct across concurrent
	// source writes.
	FetchPage(ctx context.Context, collection string, afterID int64, limit int) ([]domain.SourceRow, error)
}
