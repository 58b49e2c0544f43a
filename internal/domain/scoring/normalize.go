package scoring

import (
	"math"

	"github.com/mireles/canonry/internal/domain/model"
)

// clamp01 pins v to the closed unit interval.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// rescale maps v from [floor, ceiling] onto [0,1], clamped. A degenerate
// scale maps everything to 0.
func rescale(v, floor, ceiling float64) float64 {
	if ceiling <= floor {
		return 0
	}
	return clamp01((v - floor) / (ceiling - floor))
}

// bayesianShrink pulls raw toward prior in proportion to how far the sample
// count falls short of minSamples. Plenty of samples leaves raw dominant;
// few samples lets the prior dominate.
func bayesianShrink(raw float64, samples, minSamples int64, prior float64) float64 {
	n := float64(samples)
	if n < 0 {
		n = 0
	}
	m := float64(minSamples)
	return (n*raw + m*prior) / (n + m)
}

// normalize maps one raw category value into [0,1] under the configured
// method. The population is required for the relative methods and ignored by
// the absolute ones.
func normalize(cfg Config, cat model.Category, raw float64, samples int64, pop *Population) float64 {
	scale := model.CategoryScale(cat)

	switch cfg.NormalizationMethod {
	case MethodNone:
		return rescale(raw, scale.Floor, scale.Ceiling)

	case MethodBayesian:
		shrunk := bayesianShrink(raw, samples, cfg.NormalizationSettings.MinSamples, cfg.NormalizationSettings.PriorMean)
		return rescale(shrunk, scale.Floor, scale.Ceiling)

	case MethodPercentile:
		return pop.PercentileRank(cat, raw)

	case MethodZScore:
		mean, ok := pop.Mean(cat)
		if !ok {
			return 0.5
		}
		std, _ := pop.StdDev(cat)
		var z float64
		if std > 0 {
			z = (raw - mean) / std
		}
		floor, ceiling := cfg.NormalizationSettings.ZFloor, cfg.NormalizationSettings.ZCeiling
		if z < floor {
			z = floor
		}
		if z > ceiling {
			z = ceiling
		}
		return (z - floor) / (ceiling - floor)
	}

	// Validate rejects unknown methods before any scoring runs.
	return math.NaN()
}
