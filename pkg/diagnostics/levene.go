package diagnostics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/example/twoway-anova/pkg/dataset"
	"github.com/example/twoway-anova/pkg/summary"
)

// Center selects the location each cell's deviations are measured from.
type Center string

const (
	// CenterMedian is the Brown-Forsythe variant, robust to skewed cells.
	CenterMedian Center = "median"
	// CenterMean is Levene's original test.
	CenterMean Center = "mean"
)

// HomogeneityTest is the result of a Levene test
type HomogeneityTest struct {
	Method    string  `json:"method"`    // Test name
	Center    Center  `json:"center"`    // Location used for deviations
	Groups    int     `json:"groups"`    // Non-empty cells
	N         int     `json:"n"`         // Observations
	DF1       int     `json:"df1"`       // Between-cell degrees of freedom
	DF2       int     `json:"df2"`       // Within-cell degrees of freedom
	Statistic float64 `json:"statistic"` // F statistic
	PValue    float64 `json:"pValue"`    // Upper tail of F(DF1, DF2)
}

// Levene tests whether y has equal variance across every combination of the
// levels of factors. Empty cells are skipped.
func Levene(y []float64, center Center, factors ...*dataset.Factor) (HomogeneityTest, error) {
	if len(factors) == 0 {
		return HomogeneityTest{}, fmt.Errorf("levene test needs at least one factor")
	}
	if center == "" {
		center = CenterMedian
	}
	if center != CenterMedian && center != CenterMean {
		return HomogeneityTest{}, fmt.Errorf("unknown levene center %q", center)
	}
	for _, f := range factors {
		if f.Len() != len(y) {
			return HomogeneityTest{}, fmt.Errorf("factor %q has %d observations, response has %d",
				f.Name(), f.Len(), len(y))
		}
	}

	groups := cells(y, factors)
	k := len(groups)
	n := len(y)
	if k < 2 || n <= k {
		return HomogeneityTest{}, fmt.Errorf("%w: levene test needs at least two cells and more observations than cells, got %d cells and %d observations",
			ErrSampleSize, k, n)
	}

	deviations := make([][]float64, k)
	var total float64
	for g, values := range groups {
		loc := location(values, center)
		dev := make([]float64, len(values))
		for i, v := range values {
			dev[i] = math.Abs(v - loc)
			total += dev[i]
		}
		deviations[g] = dev
	}
	grand := total / float64(n)

	var between, within float64
	for _, dev := range deviations {
		mean := stat.Mean(dev, nil)
		between += float64(len(dev)) * (mean - grand) * (mean - grand)
		for _, d := range dev {
			within += (d - mean) * (d - mean)
		}
	}
	if within == 0 {
		return HomogeneityTest{}, fmt.Errorf("%w: absolute deviations are constant within every cell", ErrZeroRange)
	}

	df1, df2 := k-1, n-k
	f := (between / float64(df1)) / (within / float64(df2))
	return HomogeneityTest{
		Method:    "Levene",
		Center:    center,
		Groups:    k,
		N:         n,
		DF1:       df1,
		DF2:       df2,
		Statistic: f,
		PValue:    distuv.F{D1: float64(df1), D2: float64(df2)}.Survival(f),
	}, nil
}

// cells partitions y by the joint level of all factors, in level order with
// the first factor outermost. Empty cells are dropped.
func cells(y []float64, factors []*dataset.Factor) [][]float64 {
	size := 1
	for _, f := range factors {
		size *= f.NumLevels()
	}
	buckets := make([][]float64, size)
	for obs, v := range y {
		idx := 0
		for _, f := range factors {
			idx = idx*f.NumLevels() + f.Index(obs)
		}
		buckets[idx] = append(buckets[idx], v)
	}

	out := buckets[:0]
	for _, b := range buckets {
		if len(b) > 0 {
			out = append(out, b)
		}
	}
	return out
}

func location(values []float64, center Center) float64 {
	if center == CenterMean {
		return stat.Mean(values, nil)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return summary.Quantile(0.5, sorted)
}
