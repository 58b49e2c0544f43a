// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/mireles/canonry/internal/domain/scoring"
	"github.com/mireles/canonry/internal/domain/types"
	"github.com/mireles/canonry/internal/orchestrator"
)

// RefreshDependencies defines the interface for refresh orchestration.
type RefreshDependencies interface {
	Orchestrate(ctx context.Context, family string, configID int64) (orchestrator.Run, error)
	RetryFailed(ctx context.Context, family string, configID int64) (orchestrator.Run, error)
	Status(ctx context.Context, family string, configID int64) (types.RefreshStatus, error)
	ActiveConfig(ctx context.Context, family string) (scoring.Config, error)
}

// RefreshHandler handles refresh triggers and progress reports.
type RefreshHandler struct {
	deps RefreshDependencies
}

// NewRefreshHandler creates a new refresh handler.
func NewRefreshHandler(deps RefreshDependencies) *RefreshHandler {
	return &RefreshHandler{deps: deps}
}

// HandleRefresh dispatches /refresh/{family} requests.
// POST /refresh/{family} sweeps every partition, POST /refresh/{family}/retry
// re-enqueues only failed partitions, GET /refresh/{family}/status reports
// per-partition progress.
func (h *RefreshHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/refresh/")
	parts := strings.Split(path, "/")
	if parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	family := parts[0]

	configID, err := parseConfigurationID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodPost:
		h.trigger(w, r, family, configID, h.deps.Orchestrate)
	case len(parts) == 2 && parts[1] == "retry" && r.Method == http.MethodPost:
		h.trigger(w, r, family, configID, h.deps.RetryFailed)
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodGet:
		h.status(w, r, family, configID)
	default:
		http.NotFound(w, r)
	}
}

func (h *RefreshHandler) trigger(w http.ResponseWriter, r *http.Request, family string, configID int64,
	run func(context.Context, string, int64) (orchestrator.Run, error)) {
	configID, err := h.resolveConfiguration(r.Context(), family, configID)
	if err != nil {
		respondError(w, err)
		return
	}
	out, err := run(r.Context(), family, configID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, out)
}

func (h *RefreshHandler) status(w http.ResponseWriter, r *http.Request, family string, configID int64) {
	configID, err := h.resolveConfiguration(r.Context(), family, configID)
	if err != nil {
		respondError(w, err)
		return
	}
	report, err := h.deps.Status(r.Context(), family, configID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// resolveConfiguration substitutes the family's active configuration when
// the caller did not pin one.
func (h *RefreshHandler) resolveConfiguration(ctx context.Context, family string, configID int64) (int64, error) {
	if configID != 0 {
		return configID, nil
	}
	cfg, err := h.deps.ActiveConfig(ctx, family)
	if err != nil {
		return 0, err
	}
	return cfg.ID, nil
}
