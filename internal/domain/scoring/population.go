package scoring

import (
	"math"
	"sort"

	"github.com/mireles/canonry/internal/domain/model"
)

// categoryStats holds the per-category aggregates needed by the relative
// normalization methods and the average missing-data strategy.
type categoryStats struct {
	sorted []float64 // ascending raw values of works that have the category
	mean   float64
	stddev float64 // population standard deviation
}

// Population carries per-category distribution statistics for one partition.
// The percentile and zscore methods and the average strategy are relative to
// it; a work is always normalized against the population it is ranked in.
type Population struct {
	stats map[model.Category]*categoryStats
	size  int
}

// BuildPopulation computes distribution statistics over works. Works missing
// a category simply do not contribute to that category's distribution.
func BuildPopulation(works []model.Work) *Population {
	p := &Population{
		stats: make(map[model.Category]*categoryStats, len(model.Categories())),
		size:  len(works),
	}
	for _, cat := range model.Categories() {
		cs := &categoryStats{}
		for _, w := range works {
			v, ok := w.Value(cat)
			if !ok {
				continue
			}
			cs.sorted = append(cs.sorted, v)
		}
		sort.Float64s(cs.sorted)

		n := float64(len(cs.sorted))
		if n > 0 {
			sum := 0.0
			for _, v := range cs.sorted {
				sum += v
			}
			cs.mean = sum / n

			variance := 0.0
			for _, v := range cs.sorted {
				d := v - cs.mean
				variance += d * d
			}
			cs.stddev = math.Sqrt(variance / n)
		}
		p.stats[cat] = cs
	}
	return p
}

// Size returns the number of works the population was built from.
func (p *Population) Size() int {
	if p == nil {
		return 0
	}
	return p.size
}

// Count returns how many works carry a value for cat.
func (p *Population) Count(cat model.Category) int {
	if p == nil {
		return 0
	}
	if cs, ok := p.stats[cat]; ok {
		return len(cs.sorted)
	}
	return 0
}

// Mean returns the raw mean for cat and whether any values exist.
func (p *Population) Mean(cat model.Category) (float64, bool) {
	if p == nil {
		return 0, false
	}
	cs, ok := p.stats[cat]
	if !ok || len(cs.sorted) == 0 {
		return 0, false
	}
	return cs.mean, true
}

// StdDev returns the raw population standard deviation for cat and whether
// any values exist.
func (p *Population) StdDev(cat model.Category) (float64, bool) {
	if p == nil {
		return 0, false
	}
	cs, ok := p.stats[cat]
	if !ok || len(cs.sorted) == 0 {
		return 0, false
	}
	return cs.stddev, true
}

// PercentileRank returns the mid-rank percentile of v within cat's
// distribution: (count below + half the ties) / n, in [0,1]. An empty
// distribution yields the midpoint 0.5.
func (p *Population) PercentileRank(cat model.Category, v float64) float64 {
	if p == nil {
		return 0.5
	}
	cs, ok := p.stats[cat]
	if !ok || len(cs.sorted) == 0 {
		return 0.5
	}
	below := sort.SearchFloat64s(cs.sorted, v)
	upper := sort.Search(len(cs.sorted), func(i int) bool { return cs.sorted[i] > v })
	ties := upper - below
	return (float64(below) + 0.5*float64(ties)) / float64(len(cs.sorted))
}
