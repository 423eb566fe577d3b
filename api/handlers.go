/*
handlers.go - HTTP handlers for the sync and analytics API

PURPOSE:
  Exposes the aggregation results and snapshot operations over REST and
  proxies forecast requests to the external collaborator. Handlers parse
  and validate input, delegate to report/ingest, and map errors to status
  codes at this boundary only - the core taxonomy stays internal.

ENDPOINTS:
  GET  /api/summary              Monthly summary array
  GET  /api/snapshots            Snapshot filename list
  POST /api/snapshots/rebuild    Regenerate all snapshots
  GET  /api/forecast             Forward a snapshot to the forecasting service
  POST /api/sync/run             Manually trigger a sync pass (kind=sales|stock|prihod)
  GET  /api/sync/runs            Recent sync passes
  GET  /api/health               Liveness + last run per kind

ERROR MAPPING:
  400 missing/invalid query parameter or unknown sync kind
  404 unknown snapshot filename
  502 forecasting collaborator unreachable or failing
  500 anything else

SEE ALSO:
  - server.go: router and middleware
  - dto.go: response shapes
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/pospro/inventory-engine/ingest"
	"github.com/pospro/inventory-engine/report"
	"github.com/pospro/inventory-engine/store/sqlite"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Summary   *report.Service
	Snapshots *report.Builder
	Forecast  *ForecastClient
	Syncers   map[string]ingest.Syncer
}

// NewHandler wires a handler over the store and read services.
func NewHandler(store *sqlite.Store, summary *report.Service, snapshots *report.Builder, forecast *ForecastClient, syncers []ingest.Syncer) *Handler {
	byKind := make(map[string]ingest.Syncer, len(syncers))
	for _, s := range syncers {
		byKind[s.Kind()] = s
	}
	return &Handler{
		Store:     store,
		Summary:   summary,
		Snapshots: snapshots,
		Forecast:  forecast,
		Syncers:   byKind,
	}
}

// GetSummary returns the monthly summary array.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Summary.MonthlySummary(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute summary")
		log.Printf("[API] Summary failed: %v", err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// ListSnapshots returns the generated snapshot filenames.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	files, err := h.Snapshots.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list snapshots")
		log.Printf("[API] Snapshot listing failed: %v", err)
		return
	}
	respondJSON(w, http.StatusOK, SnapshotListDTO{Files: files, Count: len(files)})
}

// RebuildSnapshots regenerates every snapshot and returns the new listing.
func (h *Handler) RebuildSnapshots(w http.ResponseWriter, r *http.Request) {
	written, err := h.Snapshots.Rebuild(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "snapshot rebuild failed")
		log.Printf("[API] Snapshot rebuild failed: %v", err)
		return
	}
	files, err := h.Snapshots.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	respondJSON(w, http.StatusOK, RebuildResponseDTO{Written: written, Files: files})
}

// GetForecast validates the query, loads the named snapshot and relays the
// forecasting collaborator's response verbatim.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("file")
	if file == "" {
		respondError(w, http.StatusBadRequest, "missing required parameter: file")
		return
	}
	leadTime, err := strconv.Atoi(r.URL.Query().Get("lead_time"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing or invalid parameter: lead_time")
		return
	}
	reserve, err := strconv.Atoi(r.URL.Query().Get("reserve"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing or invalid parameter: reserve")
		return
	}

	snapshot, err := h.Snapshots.Read(file)
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			respondError(w, http.StatusNotFound, "unknown snapshot: "+file)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to read snapshot")
		log.Printf("[API] Snapshot read failed: %v", err)
		return
	}

	result, contentType, err := h.Forecast.Predict(r.Context(), snapshot, leadTime, reserve)
	if err != nil {
		respondError(w, http.StatusBadGateway, "forecasting service unavailable")
		log.Printf("[API] Forecast proxy failed: %v", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}

// TriggerSync starts a sync pass for one data kind in the background,
// from the first day of the current month (the scheduled default).
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	syncer, ok := h.Syncers[kind]
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown sync kind: "+kind)
		return
	}

	start := FirstOfMonth(time.Now())
	go func() {
		// Detached from the request; progress is visible via /api/sync/runs.
		if err := syncer.Sync(context.Background(), start); err != nil {
			log.Printf("[API] Manual %s sync failed: %v", kind, err)
		}
	}()

	respondJSON(w, http.StatusAccepted, SyncTriggerDTO{
		Kind:      kind,
		StartDate: start.Format("2006-01-02"),
		Status:    "started",
	})
}

// ListSyncRuns returns the most recent recorded passes.
func (h *Handler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListSyncRuns(r.Context(), 50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list sync runs")
		log.Printf("[API] Sync run listing failed: %v", err)
		return
	}
	respondJSON(w, http.StatusOK, toSyncRunDTOs(runs))
}

// GetHealth reports liveness and the latest pass per data kind.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.LastRunPerKind(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "health check failed")
		return
	}
	respondJSON(w, http.StatusOK, HealthDTO{Status: "ok", LastRuns: toSyncRunDTOs(runs)})
}

// FirstOfMonth truncates t to the first day of its month.
func FirstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func toSyncRunDTOs(runs []sqlite.SyncRun) []SyncRunDTO {
	out := make([]SyncRunDTO, 0, len(runs))
	for _, run := range runs {
		dto := SyncRunDTO{
			ID:        run.ID,
			Kind:      run.Kind,
			StartDate: run.StartDate,
			Status:    run.Status,
			Documents: run.Documents,
			Rows:      run.Rows,
			Error:     run.Error,
			StartedAt: run.StartedAt.Format(time.RFC3339),
		}
		if run.CompletedAt != nil {
			dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
		}
		out = append(out, dto)
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, ErrorDTO{Error: msg})
}
