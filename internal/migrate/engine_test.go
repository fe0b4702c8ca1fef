package migrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/classifier/internal/core/domain"
	"github.com/vietddude/classifier/internal/infra/storage"
	"github.com/vietddude/classifier/internal/infra/storage/memory"
	"github.com/vietddude/classifier/internal/metrics"
)

type fakeLease struct {
	mu       sync.Mutex
	held     map[string]string
	deny     bool
	renewals int
}

func newFakeLease() *fakeLease {
	return &fakeLease{held: make(map[string]string)}
}

func (l *fakeLease) AcquireLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deny {
		return false, nil
	}
	if _, ok := l.held[jobID]; ok {
		return false, nil
	}
	l.held[jobID] = owner
	return true, nil
}

func (l *fakeLease) RenewLease(ctx context.Context, jobID string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.renewals++
	return nil
}

func (l *fakeLease) ReleaseLease(ctx context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, jobID)
	return nil
}

func seedSource(store *memory.Store, counts map[string]int) {
	id := int64(0)
	for _, name := range []string{"products_a", "products_b", "products_c"} {
		n, ok := counts[name]
		if !ok {
			continue
		}
		rows := make([]domain.SourceRow, n)
		for i := range rows {
			id++
			rows[i] = domain.SourceRow{ID: id, Title: fmt.Sprintf("%s item %d", name, i+1)}
		}
		store.AddSourceCollection(name, rows)
	}
}

func newTestEngine(store *memory.Store, lease Lease) *Engine {
	return NewEngine(
		memory.NewRecordRepo(store),
		memory.NewJobRepo(store),
		memory.NewSourceRepo(store),
		lease,
		metrics.NewCollector(time.Hour),
		Config{BatchSize: 4, LeaseTTL: time.Minute},
	)
}

func TestMigrationThreeCollections(t *testing.T) {
	store := memory.NewStore()
	seedSource(store, map[string]int{"products_a": 10, "products_b": 0, "products_c": 5})
	engine := newTestEngine(store, newFakeLease())

	jobID, err := engine.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() = %v", err)
	}

	job, err := memory.NewJobRepo(store).Get(context.Background(), jobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobCompleted {
		t.Errorf("job status = %s, want completed", job.Status)
	}
	if job.TotalCount != 15 || job.MigratedCount != 15 || job.DuplicateCount != 0 {
		t.Errorf("job counts = total %d / migrated %d / duplicates %d, want 15 / 15 / 0",
			job.TotalCount, job.MigratedCount, job.DuplicateCount)
	}

	count, _ := memory.NewRecordRepo(store).Count(context.Background())
	if count != 15 {
		t.Errorf("target record count = %d, want 15", count)
	}
}

func TestMigrationIdempotent(t *testing.T) {
	store := memory.NewStore()
	seedSource(store, map[string]int{"products_a": 10, "products_b": 0, "products_c": 5})
	engine := newTestEngine(store, newFakeLease())
	ctx := context.Background()

	if _, err := engine.Start(ctx); err != nil {
		t.Fatal(err)
	}
	secondID, err := engine.Start(ctx)
	if err != nil {
		t.Fatalf("second Start() = %v", err)
	}

	job, _ := memory.NewJobRepo(store).Get(ctx, secondID)
	if job.MigratedCount != 0 || job.DuplicateCount != 15 {
		t.Errorf("second run: migrated %d / duplicates %d, want 0 / 15",
			job.MigratedCount, job.DuplicateCount)
	}
	count, _ := memory.NewRecordRepo(store).Count(ctx)
	if count != 15 {
		t.Errorf("second run changed target count to %d", count)
	}
}

// flakySource fails every FetchPage once armed.
type flakySource struct {
	storage.SourceReader
	mu     sync.Mutex
	broken bool
}

func (f *flakySource) FetchPage(ctx context.Context, collection string, afterID int64, limit int) ([]domain.SourceRow, error) {
	f.mu.Lock()
	broken := f.broken
	f.mu.Unlock()
	if broken {
		return nil, errors.New("source unreachable")
	}
	return f.SourceReader.FetchPage(ctx, collection, afterID, limit)
}

func (f *flakySource) setBroken(b bool) {
	f.mu.Lock()
	f.broken = b
	f.mu.Unlock()
}

func TestMigrationFailureAndResume(t *testing.T) {
	store := memory.NewStore()
	seedSource(store, map[string]int{"products_a": 10, "products_c": 5})
	source := &flakySource{SourceReader: memory.NewSourceRepo(store)}

	engine := NewEngine(
		memory.NewRecordRepo(store),
		memory.NewJobRepo(store),
		source,
		newFakeLease(),
		metrics.NewCollector(time.Hour),
		Config{BatchSize: 10, LeaseTTL: time.Minute},
	)
	ctx := context.Background()

	// products_a fits one page of 10; break the source when products_c starts.
	calls := 0
	wrapped := &countingSource{inner: source, onFetch: func() {
		calls++
		if calls == 3 { // a's page, a's empty page, then c breaks
			source.setBroken(true)
		}
	}}
	engine.source = wrapped

	jobID, err := engine.Start(ctx)
	if err == nil {
		t.Fatal("Start() should fail once the source breaks")
	}
	if jobID == "" {
		t.Fatal("failed run must still report its job id")
	}

	job, _ := memory.NewJobRepo(store).Get(ctx, jobID)
	if job.Status != domain.JobFailed {
		t.Fatalf("job status = %s, want failed", job.Status)
	}
	if job.MigratedCount != 10 || job.LastCursor == "" {
		t.Fatalf("checkpoint lost: migrated %d, cursor %q", job.MigratedCount, job.LastCursor)
	}
	if job.ErrorMessage == "" {
		t.Error("failure message not stored")
	}

	// Source recovers; resume finishes from the checkpoint.
	source.setBroken(false)
	if err := engine.Resume(ctx, jobID); err != nil {
		t.Fatalf("Resume() = %v", err)
	}
	job, _ = memory.NewJobRepo(store).Get(ctx, jobID)
	if job.Status != domain.JobCompleted || job.MigratedCount != 15 {
		t.Errorf("after resume: status %s, migrated %d, want completed / 15",
			job.Status, job.MigratedCount)
	}
}

type countingSource struct {
	inner   storage.SourceReader
	onFetch func()
}

func (c *countingSource) Collections(ctx context.Context) ([]string, error) {
	return c.inner.Collections(ctx)
}

func (c *countingSource) Count(ctx context.Context, collection string) (int64, error) {
	return c.inner.Count(ctx, collection)
}

func (c *countingSource) FetchPage(ctx context.Context, collection string, afterID int64, limit int) ([]domain.SourceRow, error) {
	c.onFetch()
	return c.inner.FetchPage(ctx, collection, afterID, limit)
}

func TestMigrationLeaseDenied(t *testing.T) {
	store := memory.NewStore()
	seedSource(store, map[string]int{"products_a": 2})
	lease := newFakeLease()
	lease.deny = true
	engine := newTestEngine(store, lease)

	_, err := engine.Start(context.Background())
	if !errors.Is(err, ErrLeaseHeld) {
		t.Errorf("Start() = %v, want ErrLeaseHeld", err)
	}
}

func TestCheckAndStart(t *testing.T) {
	store := memory.NewStore()
	seedSource(store, map[string]int{"products_a": 3})
	engine := newTestEngine(store, newFakeLease())
	ctx := context.Background()

	jobID, started, err := engine.CheckAndStart(ctx)
	if err != nil || !started || jobID == "" {
		t.Fatalf("CheckAndStart() = (%q, %v, %v), want a started job", jobID, started, err)
	}

	// Nothing new: no second job.
	_, started, err = engine.CheckAndStart(ctx)
	if err != nil || started {
		t.Errorf("CheckAndStart() with no new records = (started=%v, err=%v)", started, err)
	}
}

func TestResumeCompletedJobRejected(t *testing.T) {
	store := memory.NewStore()
	seedSource(store, map[string]int{"products_a": 1})
	engine := newTestEngine(store, newFakeLease())
	ctx := context.Background()

	jobID, err := engine.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.Resume(ctx, jobID); err == nil {
		t.Error("Resume() of a completed job should fail")
	}
}

func TestParseCursor(t *testing.T) {
	tests := []struct {
		cursor     string
		collection string
		lastID     int64
	}{
		{"products_a:42", "products_a", 42},
		{"", "", 0},
		{"garbage", "", 0},
		{"products_a:notanumber", "", 0},
	}
	for _, tt := range tests {
		collection, lastID := parseCursor(tt.cursor)
		if collection != tt.collection || lastID != tt.lastID {
			t.Errorf("parseCursor(%q) = (%q, %d), want (%q, %d)",
				tt.cursor, collection, lastID, tt.collection, tt.lastID)
		}
	}
}
