package scoring

import (
	"fmt"
	"math"

	"github.com/mireles/canonry/internal/domain/model"
)

// EngineVersion is stamped into cache entry metadata so cached payloads can
// be traced back to the scoring code that produced them.
const EngineVersion = "1.0.0"

// Result is the scored outcome for one work.
type Result struct {
	// Total is the weight-summed score in [0,1].
	Total float64
	// Breakdown holds the normalized per-category values that contributed.
	Breakdown map[model.Category]float64
	// Weights holds the effective weight applied per contributing category.
	// When a category was excluded these are renormalized to sum to 1.0.
	Weights map[model.Category]float64
	// Excluded lists categories dropped by the exclude strategy.
	Excluded []model.Category
}

// Engine scores works against one validated configuration and the population
// statistics of the partition being ranked. An Engine is immutable and safe
// for concurrent use.
type Engine struct {
	cfg Config
	pop *Population
}

// needsPopulation reports whether cfg can score without partition statistics.
func needsPopulation(cfg Config) bool {
	if cfg.NormalizationMethod == MethodPercentile || cfg.NormalizationMethod == MethodZScore {
		return true
	}
	for cat := range cfg.CategoryWeights {
		if cfg.StrategyFor(cat) == StrategyAverage {
			return true
		}
	}
	return false
}

// NewEngine validates cfg and binds it to pop. pop may be nil only when
// neither the normalization method nor any missing-data strategy is relative
// to the population.
func NewEngine(cfg Config, pop *Population) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pop == nil && needsPopulation(cfg) {
		return nil, fmt.Errorf("%w: method %q", ErrNoPopulation, cfg.NormalizationMethod)
	}
	return &Engine{cfg: cfg, pop: pop}, nil
}

// Score computes the inclusion score for one work. It is pure: no I/O, no
// shared state, deterministic for a given (config, population, work).
func (e *Engine) Score(w model.Work) Result {
	res := Result{
		Breakdown: make(map[model.Category]float64, len(e.cfg.CategoryWeights)),
		Weights:   make(map[model.Category]float64, len(e.cfg.CategoryWeights)),
	}

	type contribution struct {
		cat    model.Category
		weight float64
		norm   float64
	}
	contribs := make([]contribution, 0, len(e.cfg.CategoryWeights))
	totalWeight := 0.0

	// Iterate the closed set, not the map, for deterministic ordering.
	for _, cat := range model.Categories() {
		weight, weighted := e.cfg.CategoryWeights[cat]
		if !weighted {
			continue
		}

		raw, present := w.Value(cat)
		if present && math.IsNaN(raw) {
			present = false
		}

		var norm float64
		if present {
			norm = normalize(e.cfg, cat, raw, w.SampleCount(cat), e.pop)
		} else {
			switch e.cfg.StrategyFor(cat) {
			case StrategyExclude:
				res.Excluded = append(res.Excluded, cat)
				continue
			case StrategyPenalize:
				norm = 0.0
			case StrategyAverage:
				if mean, ok := e.pop.Mean(cat); ok {
					norm = normalize(e.cfg, cat, mean, w.SampleCount(cat), e.pop)
				} else {
					norm = 0.5
				}
			default: // neutral
				norm = 0.5
			}
		}

		contribs = append(contribs, contribution{cat: cat, weight: weight, norm: norm})
		totalWeight += weight
	}

	// Every weighted category excluded: there is nothing to rank on.
	if totalWeight <= 0 {
		return res
	}

	// Renormalize so applied weights sum to 1.0 even after exclusions.
	for _, c := range contribs {
		effective := c.weight / totalWeight
		res.Breakdown[c.cat] = c.norm
		res.Weights[c.cat] = effective
		res.Total += effective * c.norm
	}
	return res
}
