// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mireles/canonry/internal/domain/model"
	"github.com/mireles/canonry/internal/domain/scoring"
)

// ConfigDependencies defines the interface for configuration management.
type ConfigDependencies interface {
	CreateConfig(ctx context.Context, cfg scoring.Config) (scoring.Config, error)
	GetConfig(ctx context.Context, id int64) (scoring.Config, error)
	ListConfigs(ctx context.Context, family string) ([]scoring.Config, error)
	ActivateConfig(ctx context.Context, id int64) (scoring.Config, error)
	DeactivateConfig(ctx context.Context, id int64) error
}

// ConfigsHandler handles configuration lifecycle requests.
type ConfigsHandler struct {
	deps ConfigDependencies
}

// NewConfigsHandler creates a new configurations handler.
func NewConfigsHandler(deps ConfigDependencies) *ConfigsHandler {
	return &ConfigsHandler{deps: deps}
}

// configRequest mirrors the wire schema for POST /configurations. New
// configurations are always stored as drafts; validation runs at activation.
type configRequest struct {
	Name                  string                     `json:"name"`
	Family                string                     `json:"family"`
	CategoryWeights       map[model.Category]float64 `json:"category_weights"`
	NormalizationMethod   string                     `json:"normalization_method"`
	NormalizationSettings scoring.Settings           `json:"normalization_settings"`
	MissingDataStrategies map[model.Category]string  `json:"missing_data_strategies"`
}

func (c configRequest) validate() error {
	switch {
	case strings.TrimSpace(c.Name) == "":
		return errors.New("missing name")
	case strings.TrimSpace(c.Family) == "":
		return errors.New("missing family")
	case len(c.CategoryWeights) == 0:
		return errors.New("missing category_weights")
	}
	if !model.KnownFamily(c.Family) {
		return fmt.Errorf("unknown family %q", c.Family)
	}
	return nil
}

func (c configRequest) toConfig() scoring.Config {
	strategies := make(map[model.Category]scoring.Strategy, len(c.MissingDataStrategies))
	for cat, s := range c.MissingDataStrategies {
		strategies[cat] = scoring.Strategy(s)
	}
	return scoring.Config{
		Name:                  c.Name,
		Family:                c.Family,
		CategoryWeights:       c.CategoryWeights,
		NormalizationMethod:   scoring.Method(c.NormalizationMethod),
		NormalizationSettings: c.NormalizationSettings,
		MissingDataStrategies: strategies,
	}
}

// HandleConfigurations serves the /configurations collection.
// POST stores a new draft, GET lists stored configurations with an optional
// family filter.
func (h *ConfigsHandler) HandleConfigurations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *ConfigsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, fmt.Errorf("%w: %s", ErrBadRequest, "invalid JSON body"))
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, fmt.Errorf("%w: %s", ErrBadRequest, err))
		return
	}
	stored, err := h.deps.CreateConfig(r.Context(), req.toConfig())
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *ConfigsHandler) list(w http.ResponseWriter, r *http.Request) {
	family := r.URL.Query().Get("family")
	configs, err := h.deps.ListConfigs(r.Context(), family)
	if err != nil {
		respondError(w, err)
		return
	}
	if configs == nil {
		configs = []scoring.Config{}
	}
	writeJSON(w, http.StatusOK, configs)
}

// HandleConfigurationByID serves /configurations/{id} and the activation
// transitions nested under it.
func (h *ConfigsHandler) HandleConfigurationByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/configurations/")
	parts := strings.Split(path, "/")
	if parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		respondError(w, fmt.Errorf("%w: configuration id must be a positive integer", ErrBadRequest))
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.get(w, r, id)
	case len(parts) == 2 && parts[1] == "activate" && r.Method == http.MethodPost:
		h.activate(w, r, id)
	case len(parts) == 2 && parts[1] == "deactivate" && r.Method == http.MethodPost:
		h.deactivate(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (h *ConfigsHandler) get(w http.ResponseWriter, r *http.Request, id int64) {
	cfg, err := h.deps.GetConfig(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *ConfigsHandler) activate(w http.ResponseWriter, r *http.Request, id int64) {
	cfg, err := h.deps.ActivateConfig(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *ConfigsHandler) deactivate(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.deps.DeactivateConfig(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
