// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mireles/canonry/internal/domain/model"
	"github.com/mireles/canonry/internal/domain/staleness"
	"github.com/mireles/canonry/internal/domain/types"
)

// CacheDependencies defines the interface for cache read and purge
// operations.
type CacheDependencies interface {
	Read(ctx context.Context, family, partition string, configID int64) (types.ReadResult, error)
	Purge(ctx context.Context, partitionKey string, configID int64) error
}

// cacheResponse is a ReadResult plus a manual-refresh hint. An absent score
// is an answer, not an error, so missing entries still come back as 200.
type cacheResponse struct {
	types.ReadResult
	RefreshHint string `json:"refresh_hint,omitempty"`
}

// CacheHandler handles cached score lookups and administrative purges.
type CacheHandler struct {
	deps CacheDependencies
}

// NewCacheHandler creates a new cache handler.
func NewCacheHandler(deps CacheDependencies) *CacheHandler {
	return &CacheHandler{deps: deps}
}

// HandleCache dispatches /cache/{family}/{partition} requests.
// GET returns the cached payload with its staleness verdict; DELETE purges
// one entry and requires an explicit configuration id.
func (h *CacheHandler) HandleCache(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/cache/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.NotFound(w, r)
		return
	}
	family, partition := parts[0], parts[1]

	configID, err := parseConfigurationID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.read(w, r, family, partition, configID)
	case http.MethodDelete:
		h.purge(w, r, family, partition, configID)
	default:
		http.NotFound(w, r)
	}
}

func (h *CacheHandler) read(w http.ResponseWriter, r *http.Request, family, partition string, configID int64) {
	result, err := h.deps.Read(r.Context(), family, partition, configID)
	if err != nil {
		respondError(w, err)
		return
	}
	resp := cacheResponse{ReadResult: result}
	if result.Status == staleness.VerdictMissing {
		resp.RefreshHint = fmt.Sprintf("POST /refresh/%s", family)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CacheHandler) purge(w http.ResponseWriter, r *http.Request, family, partition string, configID int64) {
	if configID == 0 {
		respondError(w, fmt.Errorf("%w: purge requires an explicit configuration", ErrBadRequest))
		return
	}
	if !model.KnownFamily(family) {
		respondError(w, fmt.Errorf("%w: unknown family %q", ErrBadRequest, family))
		return
	}
	err := h.deps.Purge(r.Context(), model.PartitionKey(family, partition), configID)
	if err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
