package classify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/classifier/internal/core/domain"
	"github.com/vietddude/classifier/internal/infra/storage"
	"github.com/vietddude/classifier/internal/metrics"
	"github.com/vietddude/classifier/internal/taxonomy"
	"github.com/vietddude/classifier/internal/throttle"
)

// Stage1 assigns candidate coarse classes to pending records. One service
// call covers a whole claimed batch: the class catalog travels as the
// cacheable prefix, the batch titles as the volatile body.
type Stage1 struct {
	repo      storage.RecordRepository
	svc       Service
	tree      *taxonomy.Tree
	ctrl      *throttle.Controller
	collector *metrics.Collector
	cache     *cacheKeeper
	prefix    string
}

// NewStage1 creates the stage-1 processor.
func NewStage1(
	repo storage.RecordRepository,
	svc Service,
	tree *taxonomy.Tree,
	ctrl *throttle.Controller,
	collector *metrics.Collector,
	cacheRefresh time.Duration,
) *Stage1 {
	return &Stage1{
		repo:      repo,
		svc:       svc,
		tree:      tree,
		ctrl:      ctrl,
		collector: collector,
		cache:     newCacheKeeper(svc, cacheRefresh),
		prefix:    Stage1Prefix(tree),
	}
}

func (s *Stage1) Stage() domain.Stage { return domain.StageOne }

// Idle keeps the catalog prefix cache warm while the queue is empty.
func (s *Stage1) Idle(ctx context.Context) {
	s.cache.refreshStale(ctx)
}

// Process claims one batch, classifies it and persists the outcome. Returns
// the number of claimed records; zero means the queue ran dry.
func (s *Stage1) Process(ctx context.Context, workerID string) (int, error) {
	recs, err := s.repo.ClaimBatch(ctx, domain.StageOne, workerID, s.ctrl.NextBatchSize())
	if err != nil {
		return 0, fmt.Errorf("stage1 claim failed: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	batchID := uuid.NewString()
	var counts batchCounts
	start := time.Now()

	runErr := s.ctrl.Run(ctx, recs, s.classify(batchID, &counts), failBatch(
		s.repo, domain.StageOne, &counts))

	s.collector.RecordClassification(metrics.ClassificationSample{
		Stage:          string(domain.StageOne),
		Worker:         workerID,
		Size:           len(recs),
		Latency:        time.Since(start),
		Classified:     counts.classified,
		NoneClassified: counts.none,
		Failed:         counts.failed,
	})
	return len(recs), runErr
}

func (s *Stage1) classify(batchID string, counts *batchCounts) throttle.ProcessFunc {
	return func(ctx context.Context, recs []domain.Record) error {
		s.cache.refreshIfNeeded(ctx, s.prefix)

		resp, err := s.svc.Complete(ctx, s.prefix, TitlesBody(titles(recs)))
		if err != nil {
			metrics.ServiceCalls.WithLabelValues(string(domain.StageOne), "error").Inc()
			return err
		}
		metrics.ServiceCalls.WithLabelValues(string(domain.StageOne), "ok").Inc()
		s.cache.touch(s.prefix)

		results := ParseResponse(resp, recs, taxonomy.ValidCoarse, 0)

		var updates []storage.ClassifiedUpdate
		var noneIDs []int64
		for _, rec := range recs {
			if groups, ok := results[rec.ID]; ok {
				updates = append(updates, storage.ClassifiedUpdate{
					ID: rec.ID, Groups: groups, BatchID: batchID,
				})
			} else {
				noneIDs = append(noneIDs, rec.ID)
			}
		}

		if err := s.repo.ReleaseClassified(ctx, domain.StageOne, updates); err != nil {
			return fmt.Errorf("stage1 release failed: %w", err)
		}
		if err := s.repo.Release(ctx, domain.StageOne, noneIDs, domain.StatusNoneClassified, ""); err != nil {
			return fmt.Errorf("stage1 release failed: %w", err)
		}
		counts.classified += len(updates)
		counts.none += len(noneIDs)
		return nil
	}
}

type batchCounts struct {
	classified int
	none       int
	failed     int
}

func titles(recs []domain.Record) []string {
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = rec.Title
	}
	return out
}

// failBatch marks records failed after retry exhaustion. It runs on a fresh
// short-lived context so records are not left processing when the worker's
// context is already gone; the sweeper is the fallback if even this fails.
func failBatch(
	repo storage.RecordRepository,
	stage domain.Stage,
	counts *batchCounts,
) throttle.FailFunc {
	return func(recs []domain.Record, err error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		ids := make([]int64, len(recs))
		for i, rec := range recs {
			ids[i] = rec.ID
		}
		if rerr := repo.Release(ctx, stage, ids, domain.StatusFailed, err.Error()); rerr != nil {
			slog.Error("failed to mark batch failed, sweeper will recover it",
				"stage", stage, "records", len(ids), "error", rerr)
			return
		}
		counts.failed += len(recs)
	}
}
