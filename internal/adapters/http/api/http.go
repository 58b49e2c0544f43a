// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mireles/canonry/internal/adapters/mq/queue"
	"github.com/mireles/canonry/internal/adapters/repository"
	"github.com/mireles/canonry/internal/domain/scoring"
	"github.com/mireles/canonry/internal/orchestrator"
	"github.com/mireles/canonry/internal/reader"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	CacheDependencies
	RefreshDependencies
	ConfigDependencies
}

// Server wires HTTP routes for the scoring API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	cacheHandler   *CacheHandler
	refreshHandler *RefreshHandler
	configsHandler *ConfigsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		cacheHandler:   NewCacheHandler(deps),
		refreshHandler: NewRefreshHandler(deps),
		configsHandler: NewConfigsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/cache/", MetricsMiddleware(s.cacheHandler.HandleCache, "cache"))
	mux.HandleFunc("/refresh/", MetricsMiddleware(s.refreshHandler.HandleRefresh, "refresh"))
	mux.HandleFunc("/configurations", MetricsMiddleware(s.configsHandler.HandleConfigurations, "configurations"))
	mux.HandleFunc("/configurations/", MetricsMiddleware(s.configsHandler.HandleConfigurationByID, "configurations"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// respondError translates an upstream error and writes it in one step.
func respondError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err)
}

// statusFor maps upstream sentinel errors onto an HTTP status and a stable
// machine-readable code. Anything unrecognized is an internal error.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, reader.ErrUnknownFamily),
		errors.Is(err, orchestrator.ErrUnknownFamily),
		errors.Is(err, orchestrator.ErrFamilyMismatch):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, scoring.ErrInvalidConfig):
		return http.StatusUnprocessableEntity, "invalid_configuration"
	case errors.Is(err, repository.ErrConfigNotFound),
		errors.Is(err, repository.ErrNoActiveConfig),
		errors.Is(err, repository.ErrCacheMissing):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusTooManyRequests, "backpressure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// parseConfigurationID reads the optional configuration query parameter.
// Zero means the caller wants the family's active configuration.
func parseConfigurationID(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("configuration")
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: configuration must be a positive integer", ErrBadRequest)
	}
	return id, nil
}
