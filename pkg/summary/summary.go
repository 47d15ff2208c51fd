// Package summary computes the descriptive statistics of an observation
// table: five-number summaries with mean, per-group summaries and
// cross-tabulations of two factors.
package summary

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/example/twoway-anova/pkg/dataset"
)

// DescriptiveStats represents the summary of one numeric sample
type DescriptiveStats struct {
	Count    int     `json:"count"`    // Number of observations
	Min      float64 `json:"min"`      // Minimum value
	Q1       float64 `json:"q1"`       // First quartile
	Median   float64 `json:"median"`   // Median
	Mean     float64 `json:"mean"`     // Arithmetic mean
	Q3       float64 `json:"q3"`       // Third quartile
	Max      float64 `json:"max"`      // Maximum value
	StdDev   float64 `json:"stdDev"`   // Sample standard deviation
	Variance float64 `json:"variance"` // Sample variance
}

// GroupStats is the summary of the observations at one factor level
type GroupStats struct {
	Level string           `json:"level"` // Level label
	Stats DescriptiveStats `json:"stats"` // Level summary
}

// Quantile returns the p-quantile of sorted data by linear interpolation
// between order statistics, h = (n-1)p.
func Quantile(p float64, sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	h := float64(n-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= n {
		return sorted[n-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// Describe calculates descriptive statistics for a sample.
func Describe(data []float64) DescriptiveStats {
	if len(data) == 0 {
		return DescriptiveStats{}
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	stats := DescriptiveStats{
		Count:  len(data),
		Min:    floats.Min(data),
		Q1:     Quantile(0.25, sorted),
		Median: Quantile(0.5, sorted),
		Mean:   stat.Mean(data, nil),
		Q3:     Quantile(0.75, sorted),
		Max:    floats.Max(data),
	}
	if len(data) > 1 {
		stats.Variance = stat.Variance(data, nil)
		stats.StdDev = math.Sqrt(stats.Variance)
	}
	return stats
}

// DescribeBy summarises values per level of f, in level order. Levels without
// observations report a zero count.
func DescribeBy(values []float64, f *dataset.Factor) []GroupStats {
	groups := Split(values, f)
	out := make([]GroupStats, len(groups))
	for i, g := range groups {
		out[i] = GroupStats{
			Level: f.Levels().Level(i).Label,
			Stats: Describe(g),
		}
	}
	return out
}

// Split partitions values by the levels of f.
func Split(values []float64, f *dataset.Factor) [][]float64 {
	groups := make([][]float64, f.NumLevels())
	for i, v := range values {
		idx := f.Index(i)
		groups[idx] = append(groups[idx], v)
	}
	return groups
}
