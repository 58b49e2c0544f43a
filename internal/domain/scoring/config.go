// Package scoring computes curated-list inclusion scores for works under a
// versioned weighting configuration.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/mireles/canonry/internal/domain/model"
)

// Method selects how raw category values are normalized into [0,1].
type Method string

// Supported normalization methods.
const (
	MethodNone       Method = "none"
	MethodBayesian   Method = "bayesian"
	MethodPercentile Method = "percentile"
	MethodZScore     Method = "zscore"
)

// KnownMethod reports whether m is a supported normalization method.
func KnownMethod(m Method) bool {
	switch m {
	case MethodNone, MethodBayesian, MethodPercentile, MethodZScore:
		return true
	}
	return false
}

// Strategy selects how a missing category value is resolved for one work.
type Strategy string

// Supported missing-data strategies.
const (
	StrategyNeutral  Strategy = "neutral"  // substitute the normalized midpoint
	StrategyExclude  Strategy = "exclude"  // drop the category, redistribute its weight
	StrategyAverage  Strategy = "average"  // substitute the population mean
	StrategyPenalize Strategy = "penalize" // substitute the floor (worst) value
)

// KnownStrategy reports whether s is a supported missing-data strategy.
func KnownStrategy(s Strategy) bool {
	switch s {
	case StrategyNeutral, StrategyExclude, StrategyAverage, StrategyPenalize:
		return true
	}
	return false
}

// Settings carries method-specific normalization parameters. Only the fields
// for the configured method are consulted.
type Settings struct {
	// Bayesian shrinkage: raw values are pulled toward PriorMean, weighted by
	// the work's sample count against MinSamples.
	PriorMean  float64 `json:"prior_mean,omitempty"`
	MinSamples int64   `json:"min_samples,omitempty"`

	// Z-score clamp bounds. Scores are clamped to [ZFloor, ZCeiling] before
	// rescaling to [0,1]. ZFloor must be strictly below ZCeiling.
	ZFloor   float64 `json:"z_floor,omitempty"`
	ZCeiling float64 `json:"z_ceiling,omitempty"`
}

// WeightSumTolerance is the accepted deviation of the category weight sum
// from 1.0.
const WeightSumTolerance = 1e-3

// Config is one versioned scoring configuration. Instances are immutable
// once activated; changes require a new version.
type Config struct {
	ID      int64  `json:"id"`
	Version int64  `json:"version"`
	Name    string `json:"name"`
	Family  string `json:"family"`

	CategoryWeights       map[model.Category]float64  `json:"category_weights"`
	NormalizationMethod   Method                      `json:"normalization_method"`
	NormalizationSettings Settings                    `json:"normalization_settings"`
	MissingDataStrategies map[model.Category]Strategy `json:"missing_data_strategies,omitempty"`

	IsActive   bool      `json:"is_active"`
	IsDraft    bool      `json:"is_draft"`
	DeployedAt time.Time `json:"deployed_at"` // zero until activated
	CreatedAt  time.Time `json:"created_at"`
}

// StrategyFor returns the missing-data strategy for c, defaulting to neutral
// when the configuration does not pin one.
func (c Config) StrategyFor(cat model.Category) Strategy {
	if s, ok := c.MissingDataStrategies[cat]; ok {
		return s
	}
	return StrategyNeutral
}

// Validate checks the configuration against the closed category set and the
// method parameter rules. It returns an error wrapping ErrInvalidConfig on
// the first violation found; nothing is ever coerced.
func (c Config) Validate() error {
	if c.Family != "" && !model.KnownFamily(c.Family) {
		return fmt.Errorf("%w: unknown family %q", ErrInvalidConfig, c.Family)
	}
	if len(c.CategoryWeights) == 0 {
		return fmt.Errorf("%w: no category weights", ErrInvalidConfig)
	}

	sum := 0.0
	for cat, w := range c.CategoryWeights {
		if !model.KnownCategory(cat) {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidConfig, cat)
		}
		if w < 0 || w > 1 || math.IsNaN(w) {
			return fmt.Errorf("%w: weight %v for category %q out of range [0,1]", ErrInvalidConfig, w, cat)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > WeightSumTolerance {
		return fmt.Errorf("%w: category weights sum to %.4f, want 1.0±%.0e", ErrInvalidConfig, sum, WeightSumTolerance)
	}

	if !KnownMethod(c.NormalizationMethod) {
		return fmt.Errorf("%w: unknown normalization method %q", ErrInvalidConfig, c.NormalizationMethod)
	}
	switch c.NormalizationMethod {
	case MethodBayesian:
		if c.NormalizationSettings.MinSamples <= 0 {
			return fmt.Errorf("%w: bayesian min_samples must be positive, got %d", ErrInvalidConfig, c.NormalizationSettings.MinSamples)
		}
		// The prior must be expressible on every weighted category's raw scale.
		for cat := range c.CategoryWeights {
			s := model.CategoryScale(cat)
			if c.NormalizationSettings.PriorMean < s.Floor || c.NormalizationSettings.PriorMean > s.Ceiling {
				return fmt.Errorf("%w: bayesian prior_mean %v outside scale [%v,%v] of category %q",
					ErrInvalidConfig, c.NormalizationSettings.PriorMean, s.Floor, s.Ceiling, cat)
			}
		}
	case MethodZScore:
		if c.NormalizationSettings.ZFloor >= c.NormalizationSettings.ZCeiling {
			return fmt.Errorf("%w: zscore floor %v must be below ceiling %v",
				ErrInvalidConfig, c.NormalizationSettings.ZFloor, c.NormalizationSettings.ZCeiling)
		}
	}

	for cat, s := range c.MissingDataStrategies {
		if !model.KnownCategory(cat) {
			return fmt.Errorf("%w: missing-data strategy for unknown category %q", ErrInvalidConfig, cat)
		}
		if !KnownStrategy(s) {
			return fmt.Errorf("%w: unknown missing-data strategy %q for category %q", ErrInvalidConfig, s, cat)
		}
	}

	return nil
}
