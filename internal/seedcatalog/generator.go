package seedcatalog

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mireles/canonry/internal/domain/model"
	"github.com/mireles/canonry/pkg/logger"
)

// Constants for random number generation.
const (
	randomFloatDivisor = 1000000
	profileDivisor     = 6
)

// Work profile cases. Each profile biases per-category values so the seeded
// catalog has a plausible spread of classics, crowd-pleasers and filler
// instead of uniform noise.
const (
	caseClassic     = 0
	caseBlockbuster = 1
	caseArthouse    = 2
	caseSleeper     = 3
	caseForgettable = 4
	caseWideRange   = 5
)

// Presence odds for optional categories, in percent. Missing keys are the
// point: they exercise the configuration's missing-data strategies.
const (
	awardsPresencePct    = 55
	culturalPresencePct  = 70
	longevityPresencePct = 80
	percentCeiling       = 100
)

// Year range and source-timestamp spread of generated works.
const (
	earliestYear    = 1950
	yearSpan        = 70
	updatedAgeHours = 2160 // source mutations spread over the last 90 days
)

// valueRange biases one category's raw values within its declared scale.
type valueRange struct {
	min  float64
	span float64
}

// intRange bounds a random integer draw.
type intRange struct {
	min  int64
	span int64
}

// profile fixes the value ranges and evidence counts for one work shape.
type profile struct {
	values  map[model.Category]valueRange
	samples intRange
}

var profiles = map[int]profile{
	caseClassic: {
		values: map[model.Category]valueRange{
			model.CategoryRatings:    {min: 7.5, span: 2.0},
			model.CategoryPopularity: {min: 40, span: 30},
			model.CategoryAwards:     {min: 8, span: 10},
			model.CategoryCultural:   {min: 60, span: 30},
			model.CategoryLongevity:  {min: 70, span: 25},
		},
		samples: intRange{min: 800, span: 4200},
	},
	caseBlockbuster: {
		values: map[model.Category]valueRange{
			model.CategoryRatings:    {min: 5.5, span: 2.0},
			model.CategoryPopularity: {min: 80, span: 20},
			model.CategoryAwards:     {min: 0, span: 6},
			model.CategoryCultural:   {min: 40, span: 40},
			model.CategoryLongevity:  {min: 30, span: 30},
		},
		samples: intRange{min: 2000, span: 18000},
	},
	caseArthouse: {
		values: map[model.Category]valueRange{
			model.CategoryRatings:    {min: 6.5, span: 2.0},
			model.CategoryPopularity: {min: 5, span: 25},
			model.CategoryAwards:     {min: 10, span: 10},
			model.CategoryCultural:   {min: 70, span: 30},
			model.CategoryLongevity:  {min: 50, span: 30},
		},
		samples: intRange{min: 50, span: 350},
	},
	caseSleeper: {
		values: map[model.Category]valueRange{
			model.CategoryRatings:    {min: 7.0, span: 1.5},
			model.CategoryPopularity: {min: 10, span: 30},
			model.CategoryAwards:     {min: 0, span: 8},
			model.CategoryCultural:   {min: 20, span: 40},
			model.CategoryLongevity:  {min: 40, span: 35},
		},
		samples: intRange{min: 40, span: 560},
	},
	caseForgettable: {
		values: map[model.Category]valueRange{
			model.CategoryRatings:    {min: 3.0, span: 3.0},
			model.CategoryPopularity: {min: 20, span: 40},
			model.CategoryAwards:     {min: 0, span: 2},
			model.CategoryCultural:   {min: 5, span: 25},
			model.CategoryLongevity:  {min: 5, span: 25},
		},
		samples: intRange{min: 100, span: 1400},
	},
	caseWideRange: {
		values: map[model.Category]valueRange{
			model.CategoryRatings:    {min: 0.5, span: 9.5},
			model.CategoryPopularity: {min: 1, span: 99},
			model.CategoryAwards:     {min: 0, span: 20},
			model.CategoryCultural:   {min: 1, span: 99},
			model.CategoryLongevity:  {min: 1, span: 99},
		},
		samples: intRange{min: 10, span: 9990},
	},
}

var studios = []string{"meridian", "northlight", "silverline", "ashgrove", "calloway", "harborrow"}

var titleAdjectives = []string{
	"Silent", "Crimson", "Last", "Hollow", "Golden", "Burning",
	"Paper", "Winter", "Glass", "Midnight", "Distant", "Borrowed",
}

var titleNouns = []string{
	"Harvest", "Frontier", "Letters", "Orchard", "Signal", "Covenant",
	"Carousel", "Lantern", "Reckoning", "Ledger", "Meridian", "Tide",
}

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// randomInt returns a random int64 in [0, n) using crypto/rand.
func randomInt(n int64) int64 {
	if n <= 0 {
		return 0
	}
	v, _ := rand.Int(rand.Reader, big.NewInt(n))
	return v.Int64()
}

// generateWorks creates the specified number of works with unique IDs.
func generateWorks(ctx context.Context, config *Config, stats *Stats) ([]model.Work, error) {
	logger.Get().Info(ctx, "generating works with unique IDs", logger.Int("numWorks", config.NumWorks))

	works := make([]model.Work, config.NumWorks)
	for i := 0; i < config.NumWorks; i++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during work generation: %w", ctx.Err())
		default:
			works[i] = generateSingleWork(uuid.New().String())
		}
	}

	stats.WorksGenerated = len(works)
	logger.Get().Info(ctx, "generated works successfully", logger.Int("count", len(works)))

	return works, nil
}

// generateSingleWork creates one work under a randomly drawn profile.
func generateSingleWork(id string) model.Work {
	p := profiles[int(randomInt(profileDivisor))]

	year := earliestYear + int(randomInt(yearSpan))
	decade := strconv.Itoa(year / 10 * 10)

	values := make(map[model.Category]float64, len(p.values))
	for cat, r := range p.values {
		if !categoryPresent(cat) {
			continue
		}
		values[cat] = r.min + getRandomFloat()*r.span
	}

	samples := make(map[model.Category]int64, 1)
	if _, ok := values[model.CategoryRatings]; ok {
		samples[model.CategoryRatings] = p.samples.min + randomInt(p.samples.span)
	}

	return model.Work{
		ID:        id,
		Title:     makeTitle(),
		Year:      year,
		Decade:    decade,
		Studio:    studios[randomInt(int64(len(studios)))],
		Values:    values,
		Samples:   samples,
		UpdatedAt: time.Now().UTC().Add(-time.Duration(randomInt(updatedAgeHours)) * time.Hour),
	}
}

// categoryPresent rolls whether an optional category is reported at all.
// Ratings and popularity are always present; the rest go missing often
// enough to matter.
func categoryPresent(cat model.Category) bool {
	switch cat {
	case model.CategoryAwards:
		return randomInt(percentCeiling) < awardsPresencePct
	case model.CategoryCultural:
		return randomInt(percentCeiling) < culturalPresencePct
	case model.CategoryLongevity:
		return randomInt(percentCeiling) < longevityPresencePct
	default:
		return true
	}
}

// makeTitle builds a plausible work title from the word lists.
func makeTitle() string {
	adj := titleAdjectives[randomInt(int64(len(titleAdjectives)))]
	noun := titleNouns[randomInt(int64(len(titleNouns)))]
	if randomInt(3) == 0 {
		return "The " + adj + " " + noun
	}
	return adj + " " + noun
}
