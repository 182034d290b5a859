package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/lurk/internal/lurk"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	storeTimeout    = 3 * time.Second
)

// RunHandler exposes run history and the run trigger.
type RunHandler struct {
	runs    lurk.RunStore
	trigger Trigger
	limit   int
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the store, trigger and logger. A non-positive limit
// uses the default page size.
func NewRunHandler(runs lurk.RunStore, trigger Trigger, limit int, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = defaultRunLimit
	}
	return &RunHandler{
		runs:    runs,
		trigger: trigger,
		limit:   min(limit, maxRunLimit),
		timeout: storeTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/runs?limit=. It returns {"runs": [...]} newest
// first, 400 for an invalid limit, or 503 when history is disabled.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history disabled")
		return
	}
	limit, err := parseLimit(r, h.limit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.runs.ListRuns(ctx, limit)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []lurk.RunReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun handles GET /v1/runs/{run_id}.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history disabled")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.runs.GetRun(ctx, chi.URLParam(r, "run_id"))
	if err != nil {
		if errors.Is(err, lurk.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

// TriggerRun handles POST /v1/runs. It answers 202 when a run was scheduled
// and 409 when one is already pending.
func (h *RunHandler) TriggerRun(w http.ResponseWriter, _ *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	if !h.trigger.RequestRun() {
		writeError(w, http.StatusConflict, "a run is already pending")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// Ready handles GET /readyz. With history enabled it also checks the store
// answers.
func (h *RunHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.runs != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		if _, err := h.runs.ListRuns(ctx, 1); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "run history unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
