// Package diagnostics checks the assumptions behind an ANOVA model:
// normally distributed residuals and equal variance across cells.
package diagnostics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrSampleSize is returned when a test is run on too few or too many
	// observations.
	ErrSampleSize = errors.New("sample size out of range")
	// ErrZeroRange is returned when all observations are identical.
	ErrZeroRange = errors.New("all observations are identical")
)

const (
	minShapiroN = 3
	maxShapiroN = 5000
)

// NormalityTest is the result of a Shapiro-Wilk test
type NormalityTest struct {
	Method    string  `json:"method"`    // Test name
	N         int     `json:"n"`         // Sample size
	Statistic float64 `json:"statistic"` // W statistic
	PValue    float64 `json:"pValue"`    // P-value
}

// Royston (1995) polynomial approximations.
var (
	swC1 = []float64{0, 0.221157, -0.147981, -2.071190, 4.434685, -2.706056}
	swC2 = []float64{0, 0.042981, -0.293762, -1.752461, 5.682633, -3.582633}
	swC3 = []float64{0.5440, -0.39978, 0.025054, -6.714e-4}
	swC4 = []float64{1.3822, -0.77857, 0.062767, -0.0020322}
	swC5 = []float64{-1.5861, -0.31082, -0.083751, 0.0038915}
	swC6 = []float64{-0.4803, -0.082676, 0.0030302}
	swG  = []float64{-2.273, 0.459}
)

// ShapiroWilk tests x for normality with Royston's approximation of the
// Shapiro-Wilk W statistic and its p-value. It accepts 3 to 5000
// observations.
func ShapiroWilk(x []float64) (NormalityTest, error) {
	n := len(x)
	if n < minShapiroN || n > maxShapiroN {
		return NormalityTest{}, fmt.Errorf("%w: shapiro-wilk needs between %d and %d observations, got %d",
			ErrSampleSize, minShapiroN, maxShapiroN, n)
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	rng := sorted[n-1] - sorted[0]
	if rng < 1e-10 {
		return NormalityTest{}, ErrZeroRange
	}

	a := swilkCoefficients(n)

	// W is the squared correlation between the coefficients and the scaled
	// order statistics.
	xs := make([]float64, n)
	var meanA, meanX float64
	for i, v := range sorted {
		xs[i] = v / rng
		meanA += a[i]
		meanX += xs[i]
	}
	meanA /= float64(n)
	meanX /= float64(n)
	var ssa, ssx, sax float64
	for i := range xs {
		da, dx := a[i]-meanA, xs[i]-meanX
		ssa += da * da
		ssx += dx * dx
		sax += da * dx
	}
	q := math.Sqrt(ssa * ssx)
	w1 := math.Max((q-sax)*(q+sax)/(ssa*ssx), 0)
	w := 1 - w1

	return NormalityTest{
		Method:    "Shapiro-Wilk",
		N:         n,
		Statistic: w,
		PValue:    swilkPValue(w, w1, n),
	}, nil
}

// swilkCoefficients returns the full antisymmetric coefficient vector for a
// sample of size n, lowest order statistic first.
func swilkCoefficients(n int) []float64 {
	half := n / 2
	an := float64(n)
	a := make([]float64, half+1) // 1-based, a[1] is the largest coefficient

	if n == 3 {
		a[1] = math.Sqrt(0.5)
	} else {
		m := make([]float64, half+1)
		var summ2 float64
		for i := 1; i <= half; i++ {
			m[i] = distuv.UnitNormal.Quantile((float64(i) - 0.375) / (an + 0.25))
			summ2 += m[i] * m[i]
		}
		summ2 *= 2
		ssumm2 := math.Sqrt(summ2)
		rsn := 1 / math.Sqrt(an)
		a1 := poly(swC1, rsn) - m[1]/ssumm2

		first := 2
		var fac float64
		if n > 5 {
			first = 3
			a2 := -m[2]/ssumm2 + poly(swC2, rsn)
			fac = math.Sqrt((summ2 - 2*m[1]*m[1] - 2*m[2]*m[2]) / (1 - 2*a1*a1 - 2*a2*a2))
			a[2] = a2
		} else {
			fac = math.Sqrt((summ2 - 2*m[1]*m[1]) / (1 - 2*a1*a1))
		}
		a[1] = a1
		for i := first; i <= half; i++ {
			a[i] = -m[i] / fac
		}
	}

	full := make([]float64, n)
	for i := 0; i < half; i++ {
		full[i] = -a[i+1]
		full[n-1-i] = a[i+1]
	}
	return full
}

func swilkPValue(w, w1 float64, n int) float64 {
	if n == 3 {
		const stqr = math.Pi / 3
		p := 6 / math.Pi * (math.Asin(math.Sqrt(w)) - stqr)
		return math.Max(p, 0)
	}

	an := float64(n)
	y := math.Log(w1)
	var mean, sd float64
	if n <= 11 {
		gamma := poly(swG, an)
		if y >= gamma {
			return 1e-99
		}
		y = -math.Log(gamma - y)
		mean = poly(swC3, an)
		sd = math.Exp(poly(swC4, an))
	} else {
		xx := math.Log(an)
		mean = poly(swC5, xx)
		sd = math.Exp(poly(swC6, xx))
	}
	return distuv.Normal{Mu: mean, Sigma: sd}.Survival(y)
}

// poly evaluates c[0] + c[1]x + c[2]x² + ...
func poly(c []float64, x float64) float64 {
	var r float64
	for i := len(c) - 1; i >= 0; i-- {
		r = r*x + c[i]
	}
	return r
}
