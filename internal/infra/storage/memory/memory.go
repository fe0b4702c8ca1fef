package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/classifier/internal/core/domain"
	"github.com/vietddude/classifier/internal/infra/storage"
)

// Store holds in-memory record, job and source data behind one mutex. The
// repo wrappers below implement the storage interfaces against it; it backs
// tests and local runs without a database.
type Store struct {
	mu      sync.Mutex
	records map[int64]*domain.Record
	jobs    map[string]*domain.MigrationJob
	source  map[string][]domain.SourceRow
	order   []string // source collection order
	nextID  int64

	// ClaimDelay is held inside the claim critical section. Tests use it to
	// widen the race window when probing claim exclusivity.
	ClaimDelay time.Duration

	now func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		records: make(map[int64]*domain.Record),
		jobs:    make(map[string]*domain.MigrationJob),
		source:  make(map[string][]domain.SourceRow),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddSourceCollection seeds a source collection with rows.
func (s *Store) AddSourceCollection(name string, rows []domain.SourceRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.source[name]; !ok {
		s.order = append(s.order, name)
	}
	s.source[name] = rows
}

// Seed inserts a record directly, bypassing migration. Returns its id.
func (s *Store) Seed(rec domain.Record) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	rec.CreatedAt = s.now()
	s.records[rec.ID] = &rec
	return rec.ID
}

// Record returns a copy of a record by id.
func (s *Store) Record(id int64) (domain.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.Record{}, false
	}
	return *rec, true
}

// -----------------------------------------------------------------------------
// Record Repository
// -----------------------------------------------------------------------------

type RecordRepo struct {
	store *Store
}

func NewRecordRepo(store *Store) *RecordRepo {
	return &RecordRepo{store: store}
}

func claimable(rec *domain.Record, stage domain.Stage) bool {
	if stage == domain.StageOne {
		return rec.Stage1Status == domain.StatusPending
	}
	return rec.Stage2Eligible()
}

func (r *RecordRepo) ClaimBatch(
	ctx context.Context,
	stage domain.Stage,
	workerID string,
	max int,
) ([]domain.Record, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var claimed []domain.Record
	for _, id := range ids {
		if len(claimed) >= max {
			break
		}
		rec := s.records[id]
		if !claimable(rec, stage) {
			continue
		}
		if s.ClaimDelay > 0 {
			time.Sleep(s.ClaimDelay)
		}
		now := s.now()
		if stage == domain.StageOne {
			rec.Stage1Status = domain.StatusProcessing
		} else {
			st := domain.StatusProcessing
			rec.Stage2Status = &st
		}
		rec.Owner = workerID
		rec.ClaimedAt = &now
		rec.UpdatedAt = &now
		claimed = append(claimed, *rec)
	}
	return claimed, nil
}

func (r *RecordRepo) ReleaseClassified(
	ctx context.Context,
	stage domain.Stage,
	updates []storage.ClassifiedUpdate,
) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, u := range updates {
		rec, ok := s.records[u.ID]
		if !ok {
			continue
		}
		if stage == domain.StageOne {
			rec.Stage1Status = domain.StatusClassified
			rec.Stage1Groups = u.Groups
		} else {
			st := domain.StatusClassified
			rec.Stage2Status = &st
			rec.ExactCode = u.Code
			rec.ExactCodeName = u.Name
		}
		rec.BatchID = u.BatchID
		rec.Owner = ""
		rec.ClaimedAt = nil
		rec.ErrorMessage = ""
		rec.UpdatedAt = &now
	}
	return nil
}

func (r *RecordRepo) Release(
	ctx context.Context,
	stage domain.Stage,
	ids []int64,
	outcome domain.Status,
	errMsg string,
) error {
	if !domain.CanTransition(domain.StatusProcessing, outcome) {
		return domain.ErrInvalidTransition
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range ids {
		rec, ok := s.records[id]
		if !ok || rec.StatusFor(stage) != domain.StatusProcessing {
			continue
		}
		if stage == domain.StageOne {
			rec.Stage1Status = outcome
		} else {
			st := outcome
			rec.Stage2Status = &st
		}
		rec.Owner = ""
		rec.ClaimedAt = nil
		rec.ErrorMessage = errMsg
		rec.UpdatedAt = &now
	}
	return nil
}

func (r *RecordRepo) SweepStuck(
	ctx context.Context,
	stage domain.Stage,
	olderThan time.Time,
) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var swept int64
	now := s.now()
	for _, rec := range s.records {
		if rec.StatusFor(stage) != domain.StatusProcessing {
			continue
		}
		if rec.ClaimedAt == nil || !rec.ClaimedAt.Before(olderThan) {
			continue
		}
		if stage == domain.StageOne {
			rec.Stage1Status = domain.StatusPending
		} else {
			st := domain.StatusPending
			rec.Stage2Status = &st
		}
		rec.Owner = ""
		rec.ClaimedAt = nil
		rec.UpdatedAt = &now
		swept++
	}
	return swept, nil
}

func (r *RecordRepo) ResetFailed(ctx context.Context, stage domain.Stage) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var reset int64
	now := s.now()
	for _, rec := range s.records {
		if rec.StatusFor(stage) != domain.StatusFailed {
			continue
		}
		if stage == domain.StageOne {
			rec.Stage1Status = domain.StatusPending
		} else {
			st := domain.StatusPending
			rec.Stage2Status = &st
		}
		rec.ErrorMessage = ""
		rec.UpdatedAt = &now
		reset++
	}
	return reset, nil
}

func (r *RecordRepo) BulkInsert(ctx context.Context, records []domain.Record) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[[2]string]bool, len(s.records))
	for _, existing := range s.records {
		seen[[2]string{existing.SourceID, existing.SourceCollection}] = true
	}

	var inserted int64
	for _, rec := range records {
		key := [2]string{rec.SourceID, rec.SourceCollection}
		if seen[key] {
			continue
		}
		seen[key] = true
		s.nextID++
		rec.ID = s.nextID
		rec.Stage1Status = domain.StatusPending
		rec.CreatedAt = s.now()
		s.records[rec.ID] = &rec
		inserted++
	}
	return inserted, nil
}

func (r *RecordRepo) Count(ctx context.Context) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)), nil
}

func (r *RecordRepo) Statistics(ctx context.Context) (*storage.Statistics, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var st storage.Statistics
	for _, rec := range s.records {
		st.Total++
		switch rec.Stage1Status {
		case domain.StatusPending:
			st.Pending++
		case domain.StatusProcessing:
			st.Processing++
		case domain.StatusClassified:
			st.Classified++
		case domain.StatusNoneClassified:
			st.NoneClassified++
		case domain.StatusFailed:
			st.Failed++
		}
		if rec.Stage2Status == nil {
			continue
		}
		switch *rec.Stage2Status {
		case domain.StatusPending:
			st.Stage2Pending++
		case domain.StatusProcessing:
			st.Stage2Processing++
		case domain.StatusClassified:
			st.Stage2Classified++
		case domain.StatusNoneClassified:
			st.Stage2NoneClassified++
		case domain.StatusFailed:
			st.Stage2Failed++
		}
	}
	return &st, nil
}

// -----------------------------------------------------------------------------
// Job Repository
// -----------------------------------------------------------------------------

type JobRepo struct {
	store *Store
}

func NewJobRepo(store *Store) *JobRepo {
	return &JobRepo{store: store}
}

func (r *JobRepo) Create(ctx context.Context, job *domain.MigrationJob) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	j := *job
	j.CreatedAt = s.now()
	s.jobs[job.JobID] = &j
	return nil
}

func (r *JobRepo) Get(ctx context.Context, jobID string) (*domain.MigrationJob, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	j := *job
	return &j, nil
}

func (r *JobRepo) UpdateProgress(
	ctx context.Context,
	jobID string,
	migrated, duplicates int64,
	lastCursor string,
) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return storage.ErrJobNotFound
	}
	now := s.now()
	job.MigratedCount = migrated
	job.DuplicateCount = duplicates
	job.LastCursor = lastCursor
	job.UpdatedAt = &now
	return nil
}

func (r *JobRepo) SetStatus(
	ctx context.Context,
	jobID string,
	status domain.JobStatus,
	errMsg string,
) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return storage.ErrJobNotFound
	}
	now := s.now()
	job.Status = status
	job.ErrorMessage = errMsg
	job.UpdatedAt = &now
	return nil
}

func (r *JobRepo) ActiveJob(ctx context.Context) (*domain.MigrationJob, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var active *domain.MigrationJob
	for _, job := range s.jobs {
		if job.Status != domain.JobRunning {
			continue
		}
		if active == nil || job.CreatedAt.Before(active.CreatedAt) {
			active = job
		}
	}
	if active == nil {
		return nil, nil
	}
	j := *active
	return &j, nil
}

// -----------------------------------------------------------------------------
// Source Reader
// -----------------------------------------------------------------------------

type SourceRepo struct {
	store *Store
}

func NewSourceRepo(store *Store) *SourceRepo {
	return &SourceRepo{store: store}
}

func (r *SourceRepo) Collections(ctx context.Context) ([]string, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

func (r *SourceRepo) Count(ctx context.Context, collection string) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.source[collection])), nil
}

func (r *SourceRepo) FetchPage(
	ctx context.Context,
	collection string,
	afterID int64,
	limit int,
) ([]domain.SourceRow, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := append([]domain.SourceRow(nil), s.source[collection]...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	var page []domain.SourceRow
	for _, row := range rows {
		if row.ID <= afterID {
			continue
		}
		page = append(page, row)
		if len(page) >= limit {
			break
		}
	}
	return page, nil
}
