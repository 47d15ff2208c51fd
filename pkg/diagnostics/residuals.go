package diagnostics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/example/twoway-anova/pkg/anova"
)

// Point is one observation on a diagnostic plot.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ResidualsVsFitted pairs each fitted value with its raw residual, in
// observation order.
func ResidualsVsFitted(m *anova.Model) []Point {
	points := make([]Point, len(m.Fitted))
	for i := range m.Fitted {
		points[i] = Point{X: m.Fitted[i], Y: m.Residuals[i]}
	}
	return points
}

// StandardizedResiduals returns r / (sigma * sqrt(1 - h)) per observation.
// Observations with leverage 1 are fitted exactly and yield NaN.
func StandardizedResiduals(m *anova.Model) []float64 {
	out := make([]float64, len(m.Residuals))
	for i, r := range m.Residuals {
		h := 0.0
		if i < len(m.Leverage) {
			h = m.Leverage[i]
		}
		if 1-h < 1e-10 || m.Sigma == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = r / (m.Sigma * math.Sqrt(1-h))
	}
	return out
}

// QQ pairs sorted standardized residuals (Y) with theoretical standard
// normal quantiles (X).
func QQ(m *anova.Model) []Point {
	var std []float64
	for _, v := range StandardizedResiduals(m) {
		if !math.IsNaN(v) {
			std = append(std, v)
		}
	}
	sort.Float64s(std)

	theoretical := NormalQuantiles(len(std))
	points := make([]Point, len(std))
	for i := range std {
		points[i] = Point{X: theoretical[i], Y: std[i]}
	}
	return points
}

// NormalQuantiles returns the expected standard normal order statistics of a
// sample of size n, using plotting positions (i - a) / (n + 1 - 2a) with
// a = 3/8 for n <= 10 and 1/2 otherwise.
func NormalQuantiles(n int) []float64 {
	a := 0.5
	if n <= 10 {
		a = 3.0 / 8
	}
	out := make([]float64, n)
	for i := range out {
		p := (float64(i+1) - a) / (float64(n) + 1 - 2*a)
		out[i] = distuv.UnitNormal.Quantile(p)
	}
	return out
}
