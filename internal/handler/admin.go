package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/llmportal/orchestrator/internal/middleware"
	"github.com/llmportal/orchestrator/internal/model"
	"github.com/llmportal/orchestrator/internal/service"
	"github.com/llmportal/orchestrator/internal/worker"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// CleanupTrigger starts a reconciliation run on demand.
type CleanupTrigger interface {
	RunOnce(ctx context.Context, trigger string) (*model.CleanupRun, error)
}

// CleanupHistory lists recorded runs, newest first.
type CleanupHistory interface {
	ListCleanupRuns(ctx context.Context, limit int) ([]*model.CleanupRun, error)
}

// DirectoryWriter maintains the locally stored directory.
type DirectoryWriter interface {
	UpsertEntity(ctx context.Context, entity model.Entity) error
	DeleteEntity(ctx context.Context, ref string) error
}

// AdminHandler provides admin-only endpoints for operations.
type AdminHandler struct {
	cleanup   CleanupTrigger
	history   CleanupHistory
	directory DirectoryWriter
	logger    *slog.Logger
	startedAt time.Time
	version   string
}

// NewAdminHandler creates a new AdminHandler. directory may be nil when the
// directory is served by an external catalog.
func NewAdminHandler(cleanup CleanupTrigger, history CleanupHistory, directory DirectoryWriter, version string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		cleanup:   cleanup,
		history:   history,
		directory: directory,
		logger:    logger,
		startedAt: time.Now(),
		version:   version,
	}
}

// ManagesDirectory reports whether directory write endpoints are available.
func (h *AdminHandler) ManagesDirectory() bool {
	return h.directory != nil
}

// TriggerCleanup handles POST /api/v1/admin/cleanup.
// A run that finished with status failed is still returned with 200.
func (h *AdminHandler) TriggerCleanup(w http.ResponseWriter, r *http.Request) {
	run, err := h.cleanup.RunOnce(r.Context(), service.TriggerManual)
	switch {
	case errors.Is(err, worker.ErrCleanupInProgress):
		writeError(w, http.StatusConflict, "CLEANUP_IN_PROGRESS", "A cleanup run is already in progress")
		return
	case run == nil:
		h.logger.Error("manual cleanup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	case err != nil:
		h.logger.Warn("manual cleanup finished with error", "run_id", run.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, run)
}

// CleanupRunsResponse is the body of GET /api/v1/admin/cleanup/runs.
type CleanupRunsResponse struct {
	Runs []*model.CleanupRun `json:"runs"`
}

// ListCleanupRuns handles GET /api/v1/admin/cleanup/runs?limit={n}.
func (h *AdminHandler) ListCleanupRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxRunsLimit {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	runs, err := h.history.ListCleanupRuns(ctx, limit)
	if err != nil {
		h.logger.Error("failed to list cleanup runs", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list cleanup runs")
		return
	}
	if runs == nil {
		runs = []*model.CleanupRun{}
	}
	writeJSON(w, http.StatusOK, CleanupRunsResponse{Runs: runs})
}

// UpsertEntity handles PUT /api/v1/admin/directory/entities.
func (h *AdminHandler) UpsertEntity(w http.ResponseWriter, r *http.Request) {
	var entity model.Entity
	if err := json.NewDecoder(r.Body).Decode(&entity); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if entity.Kind == "" || entity.Metadata.Name == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ENTITY", "kind and metadata.name are required")
		return
	}
	if entity.Metadata.Namespace == "" {
		entity.Metadata.Namespace = model.DefaultNamespace
	}

	if err := h.directory.UpsertEntity(r.Context(), entity); err != nil {
		h.logger.Error("failed to upsert entity", "ref", entity.Ref(), "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to store entity")
		return
	}

	h.logger.Info("directory_entity_upserted", "ref", entity.Ref(), "relations", len(entity.Relations))
	writeJSON(w, http.StatusOK, entity)
}

// DeleteEntity handles DELETE /api/v1/admin/directory/entities/{ref}.
func (h *AdminHandler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	ref := middleware.PathParam(r, "ref")
	if err := h.directory.DeleteEntity(r.Context(), ref); err != nil {
		h.logger.Error("failed to delete entity", "ref", ref, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to delete entity")
		return
	}

	h.logger.Info("directory_entity_deleted", "ref", ref)
	w.WriteHeader(http.StatusNoContent)
}

// StatsResponse represents operational statistics.
type StatsResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
}

// Stats handles GET /api/v1/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Timestamp: time.Now().UTC(),
		Service:   "llm-orchestrator",
		Version:   h.version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
	})
}
