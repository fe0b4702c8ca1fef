package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/classifier/internal/classify"
	"github.com/vietddude/classifier/internal/classify/llm"
	"github.com/vietddude/classifier/internal/core/config"
	"github.com/vietddude/classifier/internal/core/domain"
	"github.com/vietddude/classifier/internal/core/worker"
	"github.com/vietddude/classifier/internal/health"
	redisclient "github.com/vietddude/classifier/internal/infra/redis"
	"github.com/vietddude/classifier/internal/infra/storage/postgres"
	"github.com/vietddude/classifier/internal/metrics"
	"github.com/vietddude/classifier/internal/migrate"
	"github.com/vietddude/classifier/internal/taxonomy"
	"github.com/vietddude/classifier/internal/throttle"
)

// App wires storage, the classification stages, migration and the control
// plane together and manages their lifecycle.
type App struct {
	cfg config.AppConfig

	db          *postgres.DB
	sourceDB    *postgres.SourceDB
	redisClient *redisclient.Client

	engine       *migrate.Engine
	workers      []*classify.Worker
	sweeper      *worker.Sweeper
	healthServer *health.Server

	wg sync.WaitGroup
}

// NewApp creates the application with all dependencies initialized.
func NewApp(cfg config.AppConfig) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	if err := db.Migrate("migrations"); err != nil {
		return nil, err
	}
	recordRepo := postgres.NewRecordRepo(db)
	jobRepo := postgres.NewJobRepo(db)

	sourceDB, err := postgres.NewSourceDB(ctx, cfg.Source.URL, cfg.Source.Collections)
	if err != nil {
		return nil, fmt.Errorf("failed to init source database: %w", err)
	}

	redisClient, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		return nil, err
	}

	tree, err := taxonomy.Load(cfg.Taxonomy.Path)
	if err != nil {
		return nil, err
	}
	slog.Info("taxonomy loaded", "classes", len(tree.Classes()))

	svc := llm.NewClient(llm.Config{
		URL:       cfg.Service.URL,
		APIKey:    cfg.Service.APIKey,
		Model:     cfg.Service.Model,
		Timeout:   cfg.Service.Timeout,
		MaxTokens: cfg.Service.MaxTokens,
	})

	collector := metrics.NewCollector(cfg.Workers.MetricsWindow)

	engine := migrate.NewEngine(recordRepo, jobRepo, sourceDB, redisClient, collector,
		migrate.Config{
			BatchSize: cfg.Migration.BatchSize,
			LeaseTTL:  cfg.Migration.LeaseTTL,
		})

	delays := classify.Delays{
		Idle:    cfg.Workers.IdleDelay,
		Batch:   cfg.Workers.BatchDelay,
		Failure: cfg.Workers.FailureDelay,
	}

	stage1 := classify.NewStage1(recordRepo, svc, tree,
		throttle.NewController(string(domain.StageOne), cfg.Throttle),
		collector, cfg.Service.CacheRefresh)
	stage2 := classify.NewStage2(recordRepo, svc, tree,
		throttle.NewController(string(domain.StageTwo), cfg.Throttle),
		collector, cfg.Service.CacheRefresh)

	var workers []*classify.Worker
	for i := 0; i < cfg.Workers.Stage1; i++ {
		workers = append(workers,
			classify.NewWorker(fmt.Sprintf("stage1-%d", i+1), stage1, delays))
	}
	for i := 0; i < cfg.Workers.Stage2; i++ {
		workers = append(workers,
			classify.NewWorker(fmt.Sprintf("stage2-%d", i+1), stage2, delays))
	}

	healthServer := health.NewServer(recordRepo, jobRepo, engine, collector,
		cfg.Workers.MetricsWindow,
		map[string]health.Checker{
			"database": db,
			"source":   sourceDB,
			"redis":    redisClient,
		},
		cfg.Server.Port)

	return &App{
		cfg:          cfg,
		db:           db,
		sourceDB:     sourceDB,
		redisClient:  redisClient,
		engine:       engine,
		workers:      workers,
		sweeper:      worker.NewSweeper(recordRepo, cfg.Sweep.Interval, cfg.Sweep.StuckAfter),
		healthServer: healthServer,
	}, nil
}

// Start launches the control plane, sweeper and worker pool, and kicks off a
// migration run when the source holds records the target does not.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.healthServer.Start(); err != nil && ctx.Err() == nil {
			slog.Error("control plane server failed", "error", err)
		}
	}()

	go a.sweeper.Start(ctx)

	go func() {
		if _, started, err := a.engine.CheckAndStart(ctx); err != nil {
			slog.Error("startup migration check failed", "error", err)
		} else if started {
			slog.Info("startup migration run finished")
		}
	}()

	for _, w := range a.workers {
		a.wg.Add(1)
		go func(w *classify.Worker) {
			defer a.wg.Done()
			w.Run(ctx)
		}(w)
	}
	slog.Info("workers started",
		"stage1", a.cfg.Workers.Stage1, "stage2", a.cfg.Workers.Stage2)
}

// Stop waits for the workers to wind down and closes all connections.
func (a *App) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown timed out waiting for workers")
	}

	if err := a.healthServer.Stop(ctx); err != nil {
		slog.Warn("control plane shutdown failed", "error", err)
	}
	if err := a.redisClient.Close(); err != nil {
		slog.Warn("redis close failed", "error", err)
	}
	if err := a.sourceDB.Close(); err != nil {
		slog.Warn("source database close failed", "error", err)
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("database close failed", "error", err)
	}
	slog.Info("shutdown complete")
}
