package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vietddude/classifier/internal/core/domain"
	"github.com/vietddude/classifier/internal/infra/storage"
)

// JobRepo implements storage.JobRepository on PostgreSQL.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new PostgreSQL job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

func (r *JobRepo) Create(ctx context.Context, job *domain.MigrationJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO migration_jobs (job_id, status, total_count, migrated_count, duplicate_count, last_cursor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		job.JobID, job.Status, job.TotalCount, job.MigratedCount, job.DuplicateCount, job.LastCursor)
	if err != nil {
		return fmt.Errorf("failed to create migration job: %w", err)
	}
	return nil
}

func scanJob(row *sql.Row) (*domain.MigrationJob, error) {
	var j domain.MigrationJob
	var cursor, errMsg sql.NullString
	var updatedAt sql.NullTime

	err := row.Scan(&j.JobID, &j.Status, &j.TotalCount, &j.MigratedCount,
		&j.DuplicateCount, &cursor, &errMsg, &j.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	j.LastCursor = cursor.String
	j.ErrorMessage = errMsg.String
	if updatedAt.Valid {
		j.UpdatedAt = &updatedAt.Time
	}
	return &j, nil
}

const jobCols = `job_id, status, total_count, migrated_count, duplicate_count,
	last_cursor, error_message, created_at, updated_at`

func (r *JobRepo) Get(ctx context.Context, jobID string) (*domain.MigrationJob, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM migration_jobs WHERE job_id = $1`, jobCols), jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get migration job: %w", err)
	}
	return job, nil
}

func (r *JobRepo) UpdateProgress(
	ctx context.Context,
	jobID string,
	migrated, duplicates int64,
	lastCursor string,
) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE migration_jobs
		SET migrated_count = $2, duplicate_count = $3, last_cursor = $4, updated_at = now()
		WHERE job_id = $1`,
		jobID, migrated, duplicates, lastCursor)
	if err != nil {
		return fmt.Errorf("failed to update migration progress: %w", err)
	}
	return nil
}

func (r *JobRepo) SetStatus(
	ctx context.Context,
	jobID string,
	status domain.JobStatus,
	errMsg string,
) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE migration_jobs
		SET status = $2, error_message = NULLIF($3, ''), updated_at = now()
		WHERE job_id = $1`,
		jobID, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to set migration job status: %w", err)
	}
	return nil
}

func (r *JobRepo) ActiveJob(ctx context.Context) (*domain.MigrationJob, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM migration_jobs WHERE status = 'running' ORDER BY created_at LIMIT 1`, jobCols))
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active migration job: %w", err)
	}
	return job, nil
}
