package classify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/classifier/internal/classify/llm"
	"github.com/vietddude/classifier/internal/core/domain"
	"github.com/vietddude/classifier/internal/infra/storage/memory"
	"github.com/vietddude/classifier/internal/metrics"
	"github.com/vietddude/classifier/internal/taxonomy"
	"github.com/vietddude/classifier/internal/throttle"
)

type fakeService struct {
	mu        sync.Mutex
	respond   func(prefix, body string) (string, error)
	calls     int
	refreshes []string
}

func (f *fakeService) Complete(ctx context.Context, prefix, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.respond(prefix, body)
}

func (f *fakeService) RefreshCache(ctx context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, prefix)
	return nil
}

func testTaxonomy() *taxonomy.Tree {
	return taxonomy.New(map[string]map[string]string{
		"10": {
			"10":          "Food products",
			"10.71.1.200": "Rye bread",
		},
		"25": {
			"25":      "Fabricated metal products",
			"25.11.1": "Metal frameworks",
		},
	})
}

func testController(stage string) *throttle.Controller {
	return throttle.NewController(stage, throttle.Config{InitialBatch: 50})
}

func TestStage1ClassifiesBatch(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewRecordRepo(store)
	idA := store.Seed(domain.Record{Title: "Widget A", Stage1Status: domain.StatusPending})
	idB := store.Seed(domain.Record{Title: "Widget B", Stage1Status: domain.StatusPending})

	svc := &fakeService{respond: func(prefix, body string) (string, error) {
		if !strings.Contains(prefix, "10 - Food products") {
			t.Errorf("prefix missing catalog: %q", prefix)
		}
		if !strings.Contains(body, "Widget A") || !strings.Contains(body, "Widget B") {
			t.Errorf("body missing titles: %q", body)
		}
		return "Widget A|10|25", nil
	}}

	collector := metrics.NewCollector(time.Hour)
	s1 := NewStage1(repo, svc, testTaxonomy(), testController("stage1"), collector, 4*time.Minute)

	n, err := s1.Process(context.Background(), "w1")
	if err != nil {
		t.Fatalf("Process() = %v", err)
	}
	if n != 2 {
		t.Fatalf("Process() claimed %d records, want 2", n)
	}

	a, _ := store.Record(idA)
	if a.Stage1Status != domain.StatusClassified {
		t.Errorf("Widget A status = %s, want classified", a.Stage1Status)
	}
	if len(a.Stage1Groups) != 2 || a.Stage1Groups[0] != "10" || a.Stage1Groups[1] != "25" {
		t.Errorf("Widget A groups = %v, want [10 25]", a.Stage1Groups)
	}
	if a.BatchID == "" {
		t.Error("Widget A batch id not stamped")
	}
	if a.Owner != "" || a.ClaimedAt != nil {
		t.Error("Widget A claim not cleared after release")
	}

	b, _ := store.Record(idB)
	if b.Stage1Status != domain.StatusNoneClassified {
		t.Errorf("Widget B status = %s, want none_classified (absent from response)", b.Stage1Status)
	}

	stats := collector.ClassificationStats(time.Hour)
	if stats.Batches != 1 || stats.Classified != 1 || stats.NoneClassified != 1 {
		t.Errorf("collector stats = %+v", stats)
	}
}

func TestStage1EmptyQueue(t *testing.T) {
	store := memory.NewStore()
	svc := &fakeService{respond: func(prefix, body string) (string, error) {
		t.Fatal("service called with empty queue")
		return "", nil
	}}
	s1 := NewStage1(memory.NewRecordRepo(store), svc, testTaxonomy(),
		testController("stage1"), metrics.NewCollector(time.Hour), 4*time.Minute)

	n, err := s1.Process(context.Background(), "w1")
	if err != nil || n != 0 {
		t.Errorf("Process() = (%d, %v), want (0, nil)", n, err)
	}
}

func TestStage1ServiceErrorFailsBatch(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewRecordRepo(store)
	id := store.Seed(domain.Record{Title: "Widget A", Stage1Status: domain.StatusPending})

	svc := &fakeService{respond: func(prefix, body string) (string, error) {
		return "", &llm.ServiceError{StatusCode: 400, Class: llm.ClassFatal, Message: "bad request"}
	}}
	s1 := NewStage1(repo, svc, testTaxonomy(), testController("stage1"),
		metrics.NewCollector(time.Hour), 4*time.Minute)

	if _, err := s1.Process(context.Background(), "w1"); err == nil {
		t.Fatal("Process() should surface the terminal service error")
	}

	rec, _ := store.Record(id)
	if rec.Stage1Status != domain.StatusFailed {
		t.Errorf("status = %s, want failed", rec.Stage1Status)
	}
	if rec.ErrorMessage == "" {
		t.Error("failure message not stored")
	}
}

func TestStage1IdleRefreshesStalePrefix(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewRecordRepo(store)
	store.Seed(domain.Record{Title: "Widget A", Stage1Status: domain.StatusPending})

	svc := &fakeService{respond: func(prefix, body string) (string, error) {
		return "Widget A|10", nil
	}}
	s1 := NewStage1(repo, svc, testTaxonomy(), testController("stage1"),
		metrics.NewCollector(time.Hour), time.Nanosecond)

	if _, err := s1.Process(context.Background(), "w1"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)

	s1.Idle(context.Background())
	if len(svc.refreshes) != 1 {
		t.Errorf("got %d cache refreshes, want 1", len(svc.refreshes))
	}

	// A prefix never sent is not refreshed.
	fresh := NewStage1(repo, svc, testTaxonomy(), testController("stage1"),
		metrics.NewCollector(time.Hour), time.Nanosecond)
	before := len(svc.refreshes)
	fresh.Idle(context.Background())
	if len(svc.refreshes) != before {
		t.Error("unused prefix was refreshed")
	}
}
