// Package levels plans the contour level sequence for an elevation raster.
package levels

import (
	"errors"
	"fmt"
	"math"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
)

const (
	DefaultAutoDivisor     = 15.0
	DefaultMinAutoInterval = 1.0
	DefaultMaxLevels       = 1000
)

var (
	ErrNoFiniteElevation = errors.New("no finite elevation values found in the area")
	ErrTooManyLevels     = errors.New("too many contour levels")
)

// Planner derives contour levels. Zero fields take the package defaults.
type Planner struct {
	AutoDivisor     float64
	MinAutoInterval float64
	MaxLevels       int
}

func (p Planner) withDefaults() Planner {
	if p.AutoDivisor <= 0 {
		p.AutoDivisor = DefaultAutoDivisor
	}
	if p.MinAutoInterval <= 0 {
		p.MinAutoInterval = DefaultMinAutoInterval
	}
	if p.MaxLevels <= 0 {
		p.MaxLevels = DefaultMaxLevels
	}
	return p
}

// AutoInterval is the interval chosen when the caller passes none.
func (p Planner) AutoInterval(minE, maxE float64) float64 {
	p = p.withDefaults()
	return math.Max(p.MinAutoInterval, (maxE-minE)/p.AutoDivisor)
}

// Plan computes the closed level sequence from floor(min/i)*i to ceil(max/i)*i.
// interval <= 0 selects an automatic interval.
func (p Planner) Plan(r *model.Raster, interval float64) (model.LevelSet, error) {
	p = p.withDefaults()
	if math.IsNaN(interval) || math.IsInf(interval, 0) {
		return model.LevelSet{}, fmt.Errorf("interval must be finite (got %v)", interval)
	}
	minE, maxE, n := r.Finite()
	if n == 0 {
		return model.LevelSet{}, ErrNoFiniteElevation
	}
	if interval <= 0 {
		interval = p.AutoInterval(minE, maxE)
	}

	start := math.Floor(minE/interval) * interval
	stop := math.Ceil(maxE/interval) * interval
	steps := math.Round((stop - start) / interval)
	if math.IsNaN(steps) || math.IsInf(steps, 0) || steps+1 > float64(p.MaxLevels) {
		return model.LevelSet{}, fmt.Errorf("%w: %g levels at interval %g exceeds %d", ErrTooManyLevels, steps+1, interval, p.MaxLevels)
	}
	count := int(steps) + 1

	// multiply rather than accumulate so levels stay on exact multiples
	levels := make([]float64, count)
	for i := range levels {
		levels[i] = start + float64(i)*interval
	}
	return model.LevelSet{Interval: interval, Min: minE, Max: maxE, Levels: levels}, nil
}
