package domain

import "time"

// JobStatus is the lifecycle state of a migration job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// MigrationJob tracks one source-to-target copy run. Jobs are created once per
// run and never deleted automatically; a failed job keeps its last durable
// checkpoint so it can be resumed.
type MigrationJob struct {
	JobID          string     `db:"job_id"`
	Status         JobStatus  `db:"status"`
	TotalCount     int64      `db:"total_count"`
	MigratedCount  int64      `db:"migrated_count"`
	DuplicateCount int64      `db:"duplicate_count"`
	LastCursor     string     `db:"last_cursor"` // "collection:lastID", empty = from the start
	ErrorMessage   string     `db:"error_message"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      *time.Time `db:"updated_at"`
}

// SourceRow is one raw row read from a source collection during migration.
type SourceRow struct {
	ID    int64
	Title string
}
