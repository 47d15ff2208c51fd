// Package explore computes the group means and bootstrap confidence
// intervals drawn by the exploratory charts.
package explore

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/example/twoway-anova/pkg/dataset"
	"github.com/example/twoway-anova/pkg/summary"
)

const (
	DefaultResamples  = 1000
	DefaultConfidence = 0.95
)

// ConfidenceInterval represents a two-sided interval for a mean
type ConfidenceInterval struct {
	Level      float64 `json:"level"`      // Confidence level, e.g. 0.95
	LowerBound float64 `json:"lowerBound"` // Lower percentile of the bootstrap means
	UpperBound float64 `json:"upperBound"` // Upper percentile of the bootstrap means
}

// Bootstrapper resamples with replacement to estimate percentile intervals
// of the mean. A Bootstrapper is not safe for concurrent use.
type Bootstrapper struct {
	resamples  int
	confidence float64
	rng        *rand.Rand
}

// NewBootstrapper returns a seeded Bootstrapper. Non-positive resamples and
// confidence outside (0,1) fall back to the defaults.
func NewBootstrapper(resamples int, confidence float64, seed uint64) *Bootstrapper {
	if resamples <= 0 {
		resamples = DefaultResamples
	}
	if confidence <= 0 || confidence >= 1 {
		confidence = DefaultConfidence
	}
	return &Bootstrapper{
		resamples:  resamples,
		confidence: confidence,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// MeanCI returns the percentile bootstrap interval of the mean of values.
func (b *Bootstrapper) MeanCI(values []float64) ConfidenceInterval {
	ci := ConfidenceInterval{Level: b.confidence}
	n := len(values)
	if n == 0 {
		return ci
	}

	means := make([]float64, b.resamples)
	for r := range means {
		var sum float64
		for i := 0; i < n; i++ {
			sum += values[b.rng.IntN(n)]
		}
		means[r] = sum / float64(n)
	}
	sort.Float64s(means)

	alpha := 1 - b.confidence
	ci.LowerBound = summary.Quantile(alpha/2, means)
	ci.UpperBound = summary.Quantile(1-alpha/2, means)
	return ci
}

// GroupMean is the mean response of one group with its interval
type GroupMean struct {
	Levels []string           `json:"levels"` // One label per grouping factor
	N      int                `json:"n"`      // Observations in the group
	Mean   float64            `json:"mean"`   // Group mean
	CI     ConfidenceInterval `json:"ci"`     // Bootstrap interval of the mean
}

// Name joins the group's level labels.
func (g GroupMean) Name() string {
	return dataset.CellName(g.Levels...)
}

// GroupMeans computes the mean and bootstrap interval of y for every
// combination of levels of one or two factors. Groups are returned in level
// order with the first factor outermost; empty groups are omitted.
func GroupMeans(y []float64, factors []*dataset.Factor, b *Bootstrapper) ([]GroupMean, error) {
	if len(factors) == 0 || len(factors) > 2 {
		return nil, fmt.Errorf("group means need one or two factors, got %d", len(factors))
	}
	for _, f := range factors {
		if f.Len() != len(y) {
			return nil, fmt.Errorf("factor %q has %d observations, response has %d", f.Name(), f.Len(), len(y))
		}
	}

	inner := 1
	if len(factors) == 2 {
		inner = factors[1].NumLevels()
	}
	cells := make([][]float64, factors[0].NumLevels()*inner)
	for i, v := range y {
		idx := factors[0].Index(i) * inner
		if len(factors) == 2 {
			idx += factors[1].Index(i)
		}
		cells[idx] = append(cells[idx], v)
	}

	var out []GroupMean
	for idx, values := range cells {
		if len(values) == 0 {
			continue
		}
		levels := []string{factors[0].Levels().Level(idx / inner).Label}
		if len(factors) == 2 {
			levels = append(levels, factors[1].Levels().Level(idx%inner).Label)
		}
		out = append(out, GroupMean{
			Levels: levels,
			N:      len(values),
			Mean:   stat.Mean(values, nil),
			CI:     b.MeanCI(values),
		})
	}
	return out, nil
}
