package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/classifier/internal/core/domain"
	"github.com/vietddude/classifier/internal/infra/storage"
)

// RecordRepo implements storage.RecordRepository on PostgreSQL.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new PostgreSQL record repository.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

const recordCols = `id, source_id, source_collection, title,
	stage1_status, stage1_groups, stage2_status,
	exact_code, exact_code_name, owner, claimed_at,
	error_message, batch_id, created_at, updated_at`

func scanRecord(row *sql.Row) (*domain.Record, error) {
	var r domain.Record
	var groups pq.StringArray
	var stage2 sql.NullString
	var exactCode, exactName, owner, errMsg, batchID sql.NullString
	var claimedAt, updatedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.SourceID, &r.SourceCollection, &r.Title,
		&r.Stage1Status, &groups, &stage2,
		&exactCode, &exactName, &owner, &claimedAt,
		&errMsg, &batchID, &r.CreatedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Stage1Groups = []string(groups)
	if stage2.Valid {
		s := domain.Status(stage2.String)
		r.Stage2Status = &s
	}
	r.ExactCode = exactCode.String
	r.ExactCodeName = exactName.String
	r.Owner = owner.String
	r.ErrorMessage = errMsg.String
	r.BatchID = batchID.String
	if claimedAt.Valid {
		r.ClaimedAt = &claimedAt.Time
	}
	if updatedAt.Valid {
		r.UpdatedAt = &updatedAt.Time
	}
	return &r, nil
}

// claimOne is a single compare-and-swap claim: pick one eligible record,
// flip it to processing and return it. SKIP LOCKED keeps concurrent workers
// off each other's rows without a batch-wide transaction.
var claimStage1 = fmt.Sprintf(`
	UPDATE records
	SET stage1_status = 'processing', owner = $1, claimed_at = now(), updated_at = now()
	WHERE id = (
		SELECT id FROM records
		WHERE stage1_status = 'pending'
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	)
	RETURNING %s`, recordCols)

var claimStage2 = fmt.Sprintf(`
	UPDATE records
	SET stage2_status = 'processing', owner = $1, claimed_at = now(), updated_at = now()
	WHERE id = (
		SELECT id FROM records
		WHERE stage1_status = 'classified'
		  AND cardinality(stage1_groups) > 0
		  AND (stage2_status IS NULL OR stage2_status = 'pending')
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	)
	RETURNING %s`, recordCols)

// ClaimBatch claims up to max records for the given stage, one CAS update per
// record. A short batch means the queue ran dry, which is a normal outcome.
func (r *RecordRepo) ClaimBatch(
	ctx context.Context,
	stage domain.Stage,
	workerID string,
	max int,
) ([]domain.Record, error) {
	query := claimStage1
	if stage == domain.StageTwo {
		query = claimStage2
	}

	var claimed []domain.Record
	for i := 0; i < max; i++ {
		rec, err := scanRecord(r.db.QueryRowContext(ctx, query, workerID))
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return claimed, fmt.Errorf("failed to claim record: %w", err)
		}
		claimed = append(claimed, *rec)
	}
	return claimed, nil
}

// ReleaseClassified finalizes claimed records with their stage results.
func (r *RecordRepo) ReleaseClassified(
	ctx context.Context,
	stage domain.Stage,
	updates []storage.ClassifiedUpdate,
) error {
	if len(updates) == 0 {
		return nil
	}

	for _, u := range updates {
		var err error
		if stage == domain.StageOne {
			_, err = r.db.ExecContext(ctx, `
				UPDATE records
				SET stage1_status = 'classified', stage1_groups = $2, batch_id = $3,
				    owner = NULL, claimed_at = NULL, error_message = NULL, updated_at = now()
				WHERE id = $1 AND stage1_status = 'processing'`,
				u.ID, pq.Array(u.Groups), u.BatchID)
		} else {
			_, err = r.db.ExecContext(ctx, `
				UPDATE records
				SET stage2_status = 'classified', exact_code = $2, exact_code_name = $3,
				    batch_id = $4, owner = NULL, claimed_at = NULL, error_message = NULL,
				    updated_at = now()
				WHERE id = $1 AND stage2_status = 'processing'`,
				u.ID, u.Code, u.Name, u.BatchID)
		}
		if err != nil {
			return fmt.Errorf("failed to release classified record %d: %w", u.ID, err)
		}
	}
	return nil
}

// Release sets a terminal status on claimed records and clears ownership.
func (r *RecordRepo) Release(
	ctx context.Context,
	stage domain.Stage,
	ids []int64,
	outcome domain.Status,
	errMsg string,
) error {
	if len(ids) == 0 {
		return nil
	}
	if !domain.CanTransition(domain.StatusProcessing, outcome) {
		return fmt.Errorf("%w: processing -> %s", domain.ErrInvalidTransition, outcome)
	}

	statusCol := "stage1_status"
	if stage == domain.StageTwo {
		statusCol = "stage2_status"
	}

	query := fmt.Sprintf(`
		UPDATE records
		SET %s = $1, owner = NULL, claimed_at = NULL, error_message = NULLIF($2, ''),
		    updated_at = now()
		WHERE id = ANY($3) AND %s = 'processing'`, statusCol, statusCol)

	if _, err := r.db.ExecContext(ctx, query, string(outcome), errMsg, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to release records: %w", err)
	}
	return nil
}

// SweepStuck resets records claimed before olderThan back to pending.
func (r *RecordRepo) SweepStuck(
	ctx context.Context,
	stage domain.Stage,
	olderThan time.Time,
) (int64, error) {
	statusCol := "stage1_status"
	if stage == domain.StageTwo {
		statusCol = "stage2_status"
	}

	query := fmt.Sprintf(`
		UPDATE records
		SET %s = 'pending', owner = NULL, claimed_at = NULL, updated_at = now()
		WHERE %s = 'processing' AND claimed_at < $1`, statusCol, statusCol)

	res, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stuck records: %w", err)
	}
	return res.RowsAffected()
}

// ResetFailed returns failed records of the given stage to the pending pool.
func (r *RecordRepo) ResetFailed(ctx context.Context, stage domain.Stage) (int64, error) {
	statusCol := "stage1_status"
	if stage == domain.StageTwo {
		statusCol = "stage2_status"
	}

	query := fmt.Sprintf(`
		UPDATE records
		SET %s = 'pending', error_message = NULL, updated_at = now()
		WHERE %s = 'failed'`, statusCol, statusCol)

	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed records: %w", err)
	}
	return res.RowsAffected()
}

// BulkInsert inserts migrated records, counting unique-key conflicts as
// duplicates instead of errors.
func (r *RecordRepo) BulkInsert(ctx context.Context, records []domain.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`INSERT INTO records (source_id, source_collection, title, stage1_status, created_at) VALUES `)
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 3
		fmt.Fprintf(&sb, "($%d, $%d, $%d, 'pending', now())", n+1, n+2, n+3)
		args = append(args, rec.SourceID, rec.SourceCollection, rec.Title)
	}
	sb.WriteString(` ON CONFLICT (source_id, source_collection) DO NOTHING`)

	res, err := r.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk insert records: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the total number of records.
func (r *RecordRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM records`).Scan(&count)
	return count, err
}

// Statistics returns per-status record counts in one scan.
func (r *RecordRepo) Statistics(ctx context.Context) (*storage.Statistics, error) {
	var s storage.Statistics
	err := r.db.QueryRowContext(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE stage1_status = 'pending'),
			count(*) FILTER (WHERE stage1_status = 'processing'),
			count(*) FILTER (WHERE stage1_status = 'classified'),
			count(*) FILTER (WHERE stage1_status = 'none_classified'),
			count(*) FILTER (WHERE stage1_status = 'failed'),
			count(*) FILTER (WHERE stage2_status = 'pending'),
			count(*) FILTER (WHERE stage2_status = 'processing'),
			count(*) FILTER (WHERE stage2_status = 'classified'),
			count(*) FILTER (WHERE stage2_status = 'none_classified'),
			count(*) FILTER (WHERE stage2_status = 'failed')
		FROM records`).Scan(
		&s.Total, &s.Pending, &s.Processing, &s.Classified, &s.NoneClassified, &s.Failed,
		&s.Stage2Pending, &s.Stage2Processing, &s.Stage2Classified,
		&s.Stage2NoneClassified, &s.Stage2Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate statistics: %w", err)
	}
	return &s, nil
}
