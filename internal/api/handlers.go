package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/torosent/loadpilot/internal/config"
	"github.com/torosent/loadpilot/internal/obs"
	"github.com/torosent/loadpilot/internal/plans"
	"github.com/torosent/loadpilot/internal/registry"
	"github.com/torosent/loadpilot/internal/runner"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "loadpilot",
		"endpoints": map[string]string{
			"POST /test/start":      "Start a new performance test",
			"GET /test/{id}/status": "Get test status and results",
			"POST /test/{id}/stop":  "Stop a running test",
			"GET /tests":            "List all tests",
			"GET /tests/history":    "Completed tests with summary fields",
			"POST /test/plan/save":  "Save a named test plan",
			"GET /test/plan/load":   "Load a named test plan",
			"GET /ws":               "WebSocket telemetry stream",
			"GET /health":           "Service health",
			"GET /metrics":          "Prometheus metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active := 0
	for _, rec := range s.registry.List() {
		if rec.Status == registry.StatusRunning {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.startTime).Seconds(),
		"activeTests": active,
	})
}

// handleStartTest validates the config, registers the record and launches
// the runner. It returns as soon as the runner goroutine is started.
func (s *Server) handleStartTest(w http.ResponseWriter, r *http.Request) {
	var spec config.TestSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid test configuration: "+err.Error())
		return
	}
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec := s.registry.Create(&spec)

	deps := runner.Deps{
		Registry:       s.registry,
		Bus:            s.bus,
		Results:        s.results,
		Log:            s.log,
		Tracer:         s.tracer,
		RequestTimeout: s.cfg.RequestTimeout,
		DrainGrace:     s.cfg.DrainGrace,
	}

	var tr runner.TestRunner
	switch spec.Backend {
	case config.BackendSimulated:
		tr = runner.NewSimRunner(rec.ID, &spec, deps)
	default:
		tr = runner.NewLoadRunner(rec.ID, &spec, deps)
	}

	// The runner outlives the request; it is cancelled only by Stop or
	// process shutdown.
	obs.TestsStarted.WithLabelValues(string(spec.Backend)).Inc()
	go tr.Run(context.Background())

	s.log.Info("test accepted",
		zap.String("test_id", rec.ID),
		zap.String("url", spec.URL),
		zap.Int("users", spec.Users),
		zap.Float64("target_tps", spec.TargetTPS))

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"testId":  rec.ID,
		"message": "test started successfully",
		"config":  &spec,
	})
}

func (s *Server) handleTestStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "test not found")
		return
	}
	writeJSON(w, http.StatusOK, recordDocument(rec))
}

func (s *Server) handleStopTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.registry.Stop(id)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "test not found")
	case errors.Is(err, registry.ErrNotRunning):
		writeError(w, http.StatusConflict, "test is not running")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "stop requested",
		})
	}
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	records := s.registry.List()
	tests := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		tests = append(tests, recordDocument(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tests": tests})
}

// handleTestHistory returns completed tests with flattened summary fields.
func (s *Server) handleTestHistory(w http.ResponseWriter, r *http.Request) {
	history := make([]map[string]any, 0)
	for _, rec := range s.registry.List() {
		if rec.Status != registry.StatusCompleted || rec.Results == nil {
			continue
		}
		history = append(history, map[string]any{
			"id":                rec.ID,
			"url":               rec.Spec.URL,
			"users":             rec.Spec.Users,
			"duration":          rec.Spec.Duration,
			"status":            string(rec.Status),
			"success_rate":      rec.Results.SuccessRate,
			"avg_response_time": rec.Results.AvgResponseTime,
			"peak_rps":          rec.Results.PeakRPS,
			"timestamp":         rec.StartTime.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": history})
}

func (s *Server) handleSavePlan(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string          `json:"name"`
		Plan config.TestSpec `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid plan payload: "+err.Error())
		return
	}
	if err := s.plans.Save(payload.Name, &payload.Plan); err != nil {
		if errors.Is(err, plans.ErrInvalidName) {
			writeError(w, http.StatusBadRequest, "invalid plan name")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "name": payload.Name})
}

func (s *Server) handleLoadPlan(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	spec, err := s.plans.Load(name)
	switch {
	case errors.Is(err, plans.ErrNotFound):
		writeError(w, http.StatusNotFound, "plan not found")
	case errors.Is(err, plans.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid plan name")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "name": name, "plan": spec})
	}
}

// recordDocument renders a registry record as the status wire document.
func recordDocument(rec *registry.Record) map[string]any {
	doc := map[string]any{
		"testId":    rec.ID,
		"status":    string(rec.Status),
		"startTime": rec.StartTime.Format(time.RFC3339),
		"config":    rec.Spec,
	}
	if rec.EndTime != nil {
		doc["endTime"] = rec.EndTime.Format(time.RFC3339)
	}
	if rec.Results != nil {
		doc["results"] = rec.Results
	}
	if rec.Error != "" {
		doc["error"] = rec.Error
	}
	return doc
}
