/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"

	"github.com/supercheck-io/supercheck/internal/alerting"
	"github.com/supercheck-io/supercheck/internal/capacity"
	"github.com/supercheck-io/supercheck/internal/metrics"
	"github.com/supercheck-io/supercheck/internal/probe"
	"github.com/supercheck-io/supercheck/internal/queue"
	"github.com/supercheck-io/supercheck/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Applier persists a probe outcome against a monitor and runs the
// transition and alerting pipeline. Implemented by dispatch.MonitorDispatcher.
type Applier interface {
	Apply(ctx context.Context, m *store.Monitor, result *probe.Result) error
}

// Handlers contains all API handlers
type Handlers struct {
	store     store.Store
	queue     queue.Service
	gate      *capacity.Gate
	alerts    *alerting.Engine
	applier   Applier
	startTime time.Time
	log       logr.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(st store.Store, q queue.Service, gate *capacity.Gate, alerts *alerting.Engine, applier Applier, log logr.Logger) *Handlers {
	return &Handlers{
		store:     st,
		queue:     q,
		gate:      gate,
		alerts:    alerts,
		applier:   applier,
		startTime: time.Now(),
		log:       log.WithName("api"),
	}
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// parseLimit reads the limit query parameter with a default and a cap.
func parseLimit(r *http.Request) int {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

// GetHealth handles GET /api/v1/health
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	storageStatus := "connected"
	if err := h.store.Health(r.Context()); err != nil {
		storageStatus = "error: " + err.Error()
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Storage: storageStatus,
		Version: Version,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// ListJobs handles GET /api/v1/jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.ListJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	items := make([]JobResponse, 0, len(jobs))
	for i := range jobs {
		items = append(items, toJobResponse(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetJob handles GET /api/v1/jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// ListRuns handles GET /api/v1/jobs/{id}/runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if _, err := h.store.GetJob(r.Context(), jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	runs, err := h.store.ListRunsForJob(r.Context(), jobID, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	items := make([]RunResponse, 0, len(runs))
	for i := range runs {
		items = append(items, toRunResponse(&runs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetRun handles GET /api/v1/runs/{id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// TriggerJob handles POST /api/v1/jobs/{id}/trigger. The single-running-run
// guard turns a concurrent trigger into a 409; a full execution backlog into
// a 429.
func (h *Handlers) TriggerJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := h.store.GetJob(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	if err := h.gate.CheckQueued(ctx); err != nil {
		writeError(w, http.StatusTooManyRequests, "queue_full", err.Error())
		return
	}

	run, err := h.store.CreateRun(ctx, job.ID, store.TriggerManual)
	if err != nil {
		if errors.Is(err, store.ErrConcurrentRun) {
			writeError(w, http.StatusConflict, "run_in_flight", "a run is already in progress for this job")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	_, err = h.queue.Enqueue(ctx, queue.TaskTypeJobExecute, queue.JobExecutePayload{
		JobID:   job.ID,
		RunID:   run.ID,
		Trigger: store.TriggerManual,
	}, &queue.Options{
		Queue:     queue.QueueJobExecution,
		TaskID:    run.ID,
		MaxRetry:  job.RetryLimit,
		Retention: 24 * time.Hour,
		Timeout:   30 * time.Minute,
	})
	if err != nil && !errors.Is(err, queue.ErrDuplicateTask) {
		msg := "execution enqueue failed: " + err.Error()
		if _, ferr := h.store.FinishRun(ctx, run.ID, store.RunStatusError, &msg, nil); ferr != nil {
			h.log.Error(ferr, "orphaned run cleanup failed", "run", run.ID)
		}
		writeError(w, http.StatusInternalServerError, "enqueue_error", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, TriggerResponse{RunID: run.ID, Status: store.RunStatusRunning})
}

// ListMonitors handles GET /api/v1/monitors
func (h *Handlers) ListMonitors(w http.ResponseWriter, r *http.Request) {
	monitors, err := h.store.ListMonitors(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	items := make([]MonitorResponse, 0, len(monitors))
	for i := range monitors {
		items = append(items, toMonitorResponse(&monitors[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetMonitor handles GET /api/v1/monitors/{id}
func (h *Handlers) GetMonitor(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.GetMonitor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "monitor not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toMonitorResponse(m))
}

// ListResults handles GET /api/v1/monitors/{id}/results
func (h *Handlers) ListResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetMonitor(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "monitor not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	results, err := h.store.RecentMonitorResults(r.Context(), id, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	items := make([]ResultResponse, 0, len(results))
	for i := range results {
		items = append(items, toResultResponse(&results[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// PauseMonitor handles POST /api/v1/monitors/{id}/pause
func (h *Handlers) PauseMonitor(w http.ResponseWriter, r *http.Request) {
	h.setMonitorEnabled(w, r, false, store.MonitorStatusPaused)
}

// ResumeMonitor handles POST /api/v1/monitors/{id}/resume. Status returns to
// pending; the next check decides up or down.
func (h *Handlers) ResumeMonitor(w http.ResponseWriter, r *http.Request) {
	h.setMonitorEnabled(w, r, true, store.MonitorStatusPending)
}

func (h *Handlers) setMonitorEnabled(w http.ResponseWriter, r *http.Request, enabled bool, status string) {
	id := chi.URLParam(r, "id")
	if err := h.store.SetMonitorEnabled(r.Context(), id, enabled, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "monitor not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	m, err := h.store.GetMonitor(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toMonitorResponse(m))
}

// Heartbeat handles POST and GET /api/v1/heartbeat/{token}. Idempotent:
// every ping records an up sample and advances lastPingAt.
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := h.store.GetMonitorByHeartbeatToken(ctx, chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "unknown heartbeat token")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	now := time.Now().UTC()
	if err := h.recordLastPing(ctx, m, now); err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	metrics.HeartbeatsReceived.Inc()

	// paused monitors keep accepting pings but record no samples
	if m.Enabled && m.Status != store.MonitorStatusPaused && m.Status != store.MonitorStatusMaintenance {
		result := &probe.Result{
			Status: probe.StatusUp,
			IsUp:   true,
			Details: map[string]interface{}{
				"checkType": "heartbeat_received",
			},
		}
		if err := h.applier.Apply(ctx, m, result); err != nil {
			h.log.Error(err, "heartbeat apply failed", "monitor", m.ID)
		}
	}

	writeJSON(w, http.StatusOK, HeartbeatResponse{OK: true, Monitor: m.Name, ReceivedAt: now})
}

// recordLastPing rewrites config.lastPingAt, preserving unrecognized config
// keys.
func (h *Handlers) recordLastPing(ctx context.Context, m *store.Monitor, now time.Time) error {
	cfg := map[string]interface{}{}
	if m.Config != nil && *m.Config != "" {
		if err := json.Unmarshal([]byte(*m.Config), &cfg); err != nil {
			cfg = map[string]interface{}{}
		}
	}
	cfg["lastPingAt"] = now.Format(time.RFC3339)
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	raw := string(data)
	m.Config = &raw
	return h.store.UpdateMonitor(ctx, m.ID, store.MonitorPatch{Config: &raw})
}

// ListAlertHistory handles GET /api/v1/alerts/history
func (h *Handlers) ListAlertHistory(w http.ResponseWriter, r *http.Request) {
	q := store.AlertHistoryQuery{
		Limit:      parseLimit(r),
		TargetKind: r.URL.Query().Get("targetKind"),
		TargetID:   r.URL.Query().Get("targetId"),
		Type:       r.URL.Query().Get("type"),
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			q.Offset = n
		}
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "since must be RFC3339")
			return
		}
		q.Since = &since
	}

	rows, total, err := h.store.ListAlertHistory(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	items := make([]AlertHistoryItem, 0, len(rows))
	for i := range rows {
		items = append(items, toAlertHistoryItem(&rows[i]))
	}
	writeJSON(w, http.StatusOK, AlertHistoryResponse{Items: items, Total: total})
}

// ListProviders handles GET /api/v1/providers
func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.store.ListProviders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	items := make([]ProviderResponse, 0, len(providers))
	for _, p := range providers {
		items = append(items, ProviderResponse{ID: p.ID, Name: p.Name, Type: p.Type, Enabled: p.Enabled})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// TestProvider handles POST /api/v1/providers/{id}/test
func (h *Handlers) TestProvider(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProvider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "provider not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	if err := h.alerts.SendTest(r.Context(), p); err != nil {
		writeError(w, http.StatusBadGateway, "delivery_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
