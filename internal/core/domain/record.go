package domain

import "time"

// Stage identifies one of the two classification passes over a record.
type Stage string

const (
	StageOne Stage = "stage1"
	StageTwo Stage = "stage2"
)

// Record is one catalog item under classification. Identity is the
// (SourceID, SourceCollection) pair, assigned at migration time.
type Record struct {
	ID               int64      `db:"id"`
	SourceID         string     `db:"source_id"`
	SourceCollection string     `db:"source_collection"`
	Title            string     `db:"title"`
	Stage1Status     Status     `db:"stage1_status"`
	Stage1Groups     []string   `db:"stage1_groups"`
	Stage2Status     *Status    `db:"stage2_status"` // nil = not yet eligible
	ExactCode        string     `db:"exact_code"`
	ExactCodeName    string     `db:"exact_code_name"`
	Owner            string     `db:"owner"`
	ClaimedAt        *time.Time `db:"claimed_at"`
	ErrorMessage     string     `db:"error_message"`
	BatchID          string     `db:"batch_id"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        *time.Time `db:"updated_at"`
}

// Stage2Eligible reports whether the record may be claimed for stage 2:
// stage 1 classified with at least one candidate group, stage 2 not started.
func (r *Record) Stage2Eligible() bool {
	if r.Stage1Status != StatusClassified || len(r.Stage1Groups) == 0 {
		return false
	}
	return r.Stage2Status == nil || *r.Stage2Status == StatusPending
}

// StatusFor returns the record's status for the given stage. A nil stage-2
// status reads as pending for transition checks.
func (r *Record) StatusFor(stage Stage) Status {
	if stage == StageTwo {
		if r.Stage2Status == nil {
			return StatusPending
		}
		return *r.Stage2Status
	}
	return r.Stage1Status
}
