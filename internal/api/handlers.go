package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/maltedev/catalog-sync/internal/runs"
)

// RunService queues and reports pipeline runs.
type RunService interface {
	Create(ctx context.Context, mode runs.Mode) (*runs.Run, error)
	Get(ctx context.Context, id string) (*runs.Run, error)
	List(ctx context.Context, limit int) ([]*runs.Run, error)
}

// ChangeLister reads the change log.
type ChangeLister interface {
	ListChanges(ctx context.Context, limit int) ([]models.Change, error)
}

// BacklogReporter reports undelivered change events.
type BacklogReporter interface {
	Backlog(ctx context.Context) (pending, deadLetter int64, err error)
}

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

type Handlers struct {
	runs    RunService
	changes ChangeLister
	backlog BacklogReporter
	logger  *slog.Logger
}

// NewHandlers builds the HTTP handlers. backlog may be nil when no relay
// is running.
func NewHandlers(runs RunService, changes ChangeLister, backlog BacklogReporter, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		runs:    runs,
		changes: changes,
		backlog: backlog,
		logger:  logger.With("component", "api"),
	}
}

type CreateRunRequest struct {
	Mode string `json:"mode"`
}

type CreateRunResponse struct {
	RunID   string      `json:"run_id"`
	Mode    runs.Mode   `json:"mode"`
	Status  runs.Status `json:"status"`
	Message string      `json:"message"`
}

// CreateRun queues a pipeline run. An empty mode runs every stage.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Mode == "" {
		req.Mode = string(runs.ModeAll)
	}

	mode, err := runs.ParseMode(req.Mode)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "mode must be one of crawl, enrich, events, all")
		return
	}

	run, err := h.runs.Create(r.Context(), mode)
	if err != nil {
		h.logger.Error("failed to create run", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateRunResponse{
		RunID:   run.ID,
		Mode:    run.Mode,
		Status:  run.Status,
		Message: "run queued",
	})
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		h.respondError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	run, err := h.runs.Get(r.Context(), runID)
	if errors.Is(err, runs.ErrRunNotFound) {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get run", "run_id", runID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	h.respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}

	list, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if list == nil {
		list = []*runs.Run{}
	}

	h.respondJSON(w, http.StatusOK, list)
}

// ListChanges returns the newest change records first.
func (h *Handlers) ListChanges(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}

	changes, err := h.changes.ListChanges(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list changes", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list changes")
		return
	}
	if changes == nil {
		changes = []models.Change{}
	}

	h.respondJSON(w, http.StatusOK, changes)
}

// Health reports ok unless the outbox backlog grows past its thresholds.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.backlog != nil {
		pending, deadLetter, err := h.backlog.Backlog(r.Context())
		if err != nil {
			h.logger.Warn("failed to read outbox backlog", "error", err)
			health["status"] = "degraded"
			health["message"] = "outbox backlog unavailable"
		} else {
			health["outbox"] = map[string]int64{
				"pending":     pending,
				"dead_letter": deadLetter,
			}
			if pending > pendingWarnThreshold {
				health["status"] = "warning"
				health["message"] = "high number of pending outbox events"
			}
			if deadLetter > deadLetterFailThreshold {
				health["status"] = "error"
				health["message"] = "high number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

// limit parses the optional limit query parameter; zero means the
// service default.
func (h *Handlers) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
