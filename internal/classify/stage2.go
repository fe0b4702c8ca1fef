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

// Stage2 resolves one fully specific code for records that passed stage 1.
// The batch is partitioned by each record's top-level class (first candidate
// group) so every partition shares one cacheable class sub-tree prefix; a
// failure in one partition leaves the others untouched.
type Stage2 struct {
	repo      storage.RecordRepository
	svc       Service
	tree      *taxonomy.Tree
	ctrl      *throttle.Controller
	collector *metrics.Collector
	cache     *cacheKeeper
}

// NewStage2 creates the stage-2 processor.
func NewStage2(
	repo storage.RecordRepository,
	svc Service,
	tree *taxonomy.Tree,
	ctrl *throttle.Controller,
	collector *metrics.Collector,
	cacheRefresh time.Duration,
) *Stage2 {
	return &Stage2{
		repo:      repo,
		svc:       svc,
		tree:      tree,
		ctrl:      ctrl,
		collector: collector,
		cache:     newCacheKeeper(svc, cacheRefresh),
	}
}

func (s *Stage2) Stage() domain.Stage { return domain.StageTwo }

// Idle keeps previously used class prefixes warm while the queue is empty.
func (s *Stage2) Idle(ctx context.Context) {
	s.cache.refreshStale(ctx)
}

// Process claims one batch of stage-2 eligible records, resolves exact codes
// per class partition and persists the outcome. Returns the number of claimed
// records; zero means no eligible records remain.
func (s *Stage2) Process(ctx context.Context, workerID string) (int, error) {
	recs, err := s.repo.ClaimBatch(ctx, domain.StageTwo, workerID, s.ctrl.NextBatchSize())
	if err != nil {
		return 0, fmt.Errorf("stage2 claim failed: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	batchID := uuid.NewString()
	var counts batchCounts
	start := time.Now()

	var runErr error
	for _, part := range partition(recs) {
		if !s.tree.HasClass(part.class) {
			slog.Warn("unknown top-level class, skipping partition",
				"class", part.class, "records", len(part.recs))
			ids := make([]int64, len(part.recs))
			for i, rec := range part.recs {
				ids[i] = rec.ID
			}
			if err := s.repo.Release(ctx, domain.StageTwo, ids, domain.StatusNoneClassified, ""); err != nil {
				return len(recs), fmt.Errorf("stage2 release failed: %w", err)
			}
			counts.none += len(ids)
			continue
		}

		err := s.ctrl.Run(ctx, part.recs, s.classify(part.class, batchID, &counts),
			failBatch(s.repo, domain.StageTwo, &counts))
		if err != nil && runErr == nil {
			runErr = err
		}
	}

	s.collector.RecordClassification(metrics.ClassificationSample{
		Stage:          string(domain.StageTwo),
		Worker:         workerID,
		Size:           len(recs),
		Latency:        time.Since(start),
		Classified:     counts.classified,
		NoneClassified: counts.none,
		Failed:         counts.failed,
	})
	return len(recs), runErr
}

type classPartition struct {
	class string
	recs  []domain.Record
}

// partition splits a batch by the top-level class of each record's first
// candidate group, preserving claim order within a partition.
func partition(recs []domain.Record) []classPartition {
	index := make(map[string]int)
	var parts []classPartition
	for _, rec := range recs {
		if len(rec.Stage1Groups) == 0 {
			continue
		}
		class := taxonomy.ClassOf(rec.Stage1Groups[0])
		i, ok := index[class]
		if !ok {
			i = len(parts)
			index[class] = i
			parts = append(parts, classPartition{class: class})
		}
		parts[i].recs = append(parts[i].recs, rec)
	}
	return parts
}

func (s *Stage2) classify(class, batchID string, counts *batchCounts) throttle.ProcessFunc {
	prefix := Stage2Prefix(s.tree, class)
	return func(ctx context.Context, recs []domain.Record) error {
		s.cache.refreshIfNeeded(ctx, prefix)

		resp, err := s.svc.Complete(ctx, prefix, TitlesBody(titles(recs)))
		if err != nil {
			metrics.ServiceCalls.WithLabelValues(string(domain.StageTwo), "error").Inc()
			return err
		}
		metrics.ServiceCalls.WithLabelValues(string(domain.StageTwo), "ok").Inc()
		s.cache.touch(prefix)

		results := ParseResponse(resp, recs, taxonomy.ValidFull, 1)

		var updates []storage.ClassifiedUpdate
		var noneIDs []int64
		for _, rec := range recs {
			codes, ok := results[rec.ID]
			if !ok {
				noneIDs = append(noneIDs, rec.ID)
				continue
			}
			code := codes[0]
			updates = append(updates, storage.ClassifiedUpdate{
				ID:      rec.ID,
				Code:    code,
				Name:    s.tree.Describe(code),
				BatchID: batchID,
			})
		}

		if err := s.repo.ReleaseClassified(ctx, domain.StageTwo, updates); err != nil {
			return fmt.Errorf("stage2 release failed: %w", err)
		}
		if err := s.repo.Release(ctx, domain.StageTwo, noneIDs, domain.StatusNoneClassified, ""); err != nil {
			return fmt.Errorf("stage2 release failed: %w", err)
		}
		counts.classified += len(updates)
		counts.none += len(noneIDs)
		return nil
	}
}
