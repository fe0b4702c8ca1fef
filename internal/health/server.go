package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/classifier/internal/core/domain"
	"github.com/vietddude/classifier/internal/infra/storage"
	"github.com/vietddude/classifier/internal/metrics"
	"github.com/vietddude/classifier/internal/migrate"
)

// Checker reports whether one dependency is reachable.
type Checker interface {
	Health(ctx context.Context) error
}

// Server is the thin control plane: health, metrics and the operator entry
// points into migration and statistics. Authentication lives outside it.
type Server struct {
	records   storage.RecordRepository
	jobs      storage.JobRepository
	engine    *migrate.Engine
	collector *metrics.Collector
	window    time.Duration
	checks    map[string]Checker
	server    *http.Server
}

// NewServer creates the control-plane server.
func NewServer(
	records storage.RecordRepository,
	jobs storage.JobRepository,
	engine *migrate.Engine,
	collector *metrics.Collector,
	window time.Duration,
	checks map[string]Checker,
	port int,
) *Server {
	mux := http.NewServeMux()
	s := &Server{
		records:   records,
		jobs:      jobs,
		engine:    engine,
		collector: collector,
		window:    window,
		checks:    checks,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/migration/start", s.handleMigrationStart)
	mux.HandleFunc("/migration/resume", s.handleMigrationResume)
	mux.HandleFunc("/migration/status", s.handleMigrationStatus)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/reset-failed", s.handleResetFailed)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	report := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.Health(r.Context()); err != nil {
			report[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			report[name] = "ok"
		}
	}
	writeJSON(w, status, report)
}

func (s *Server) handleMigrationStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// Migration outlives the HTTP request; the caller polls /migration/status.
	jobID, err := s.engine.StartAsync(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleMigrationResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, errors.New("job_id is required"))
		return
	}
	if _, err := s.jobs.Get(r.Context(), jobID); err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err)
		} else {
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	go func() {
		if err := s.engine.Resume(context.Background(), jobID); err != nil {
			slog.Error("migration resume failed", "job_id", jobID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, errors.New("job_id is required"))
		return
	}
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err)
		} else {
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.records.Statistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records":        stats,
		"classification": s.collector.ClassificationStats(s.window),
		"migration":      s.collector.MigrationStats(s.window),
		"totals":         s.collector.Snapshot(),
	})
}

func (s *Server) handleResetFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	reset := make(map[string]int64, 2)
	for _, stage := range []domain.Stage{domain.StageOne, domain.StageTwo} {
		n, err := s.records.ResetFailed(r.Context(), stage)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		reset[string(stage)] = n
	}
	slog.Info("failed records reset", "stage1", reset["stage1"], "stage2", reset["stage2"])
	writeJSON(w, http.StatusOK, reset)
}
