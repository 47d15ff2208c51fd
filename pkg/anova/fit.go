// Package anova fits linear models with categorical predictors by ordinary
// least squares and decomposes them into sequential (Type-I) analysis of
// variance tables.
package anova

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/example/twoway-anova/pkg/dataset"
)

// Coefficient is one estimated parameter under treatment contrasts.
type Coefficient struct {
	Name     string  `json:"name"`     // e.g. "(Intercept)", "courseScience", "courseScience:qualPostgraduate"
	Estimate float64 `json:"estimate"` // Least-squares estimate
}

// Model is a fitted linear model with its ANOVA decomposition. It is
// read-only once returned by Fit.
type Model struct {
	Formula      Formula           `json:"formula"`
	Coefficients []Coefficient     `json:"coefficients"`
	Table        Table             `json:"table"`
	N            int               `json:"n"`
	ResidualDF   int               `json:"residualDf"`
	TSS          float64           `json:"tss"`
	RSS          float64           `json:"rss"`
	Sigma        float64           `json:"sigma"`
	RSquared     float64           `json:"rSquared"`
	AdjRSquared  float64           `json:"adjRSquared"`
	Fitted       []float64         `json:"-"`
	Residuals    []float64         `json:"-"`
	Leverage     []float64         `json:"-"`
	Response     []float64         `json:"-"`
	Factors      []*dataset.Factor `json:"-"`
}

// design is the treatment-contrast model matrix of a formula.
type design struct {
	x        *mat.Dense
	names    []string
	termCols []int
}

// Fit estimates formula f on table t and decomposes the explained variation
// term by term in the formula's order.
func Fit(t *dataset.Table, f Formula) (*Model, error) {
	if len(f.Terms) == 0 {
		return nil, fmt.Errorf("formula %q has no terms", f.String())
	}
	if err := f.checkMarginality(); err != nil {
		return nil, fmt.Errorf("formula %q: %w", f.String(), err)
	}
	y, err := t.Numeric(f.Response)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	factorNames := f.Factors()
	factors := make(map[string]*dataset.Factor, len(factorNames))
	ordered := make([]*dataset.Factor, 0, len(factorNames))
	for _, name := range factorNames {
		fac, err := t.Factor(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read factor: %w", err)
		}
		factors[name] = fac
		ordered = append(ordered, fac)
	}

	if err := checkEstimable(ordered); err != nil {
		return nil, err
	}

	d := buildDesign(f, factors, len(y))
	n, p := d.x.Dims()
	if n <= p {
		return nil, &RankDeficiencyError{
			Reason: fmt.Sprintf("%d observations leave no residual degrees of freedom for %d parameters", n, p),
		}
	}

	yv := mat.NewVecDense(n, y)
	tss := totalSS(y)

	// Sequential fits: intercept only, then one more term at a time.
	rss := make([]float64, len(f.Terms)+1)
	cols := 1
	var full fit
	for k := 0; k <= len(f.Terms); k++ {
		if k > 0 {
			cols += d.termCols[k-1]
		}
		term := ""
		if k > 0 {
			term = f.Terms[k-1].Name()
		}
		res, err := leastSquares(d.x.Slice(0, n, 0, cols), yv, term, k == len(f.Terms))
		if err != nil {
			return nil, err
		}
		rss[k] = res.rss
		full = res
	}

	dfResid := n - p
	rssFull := rss[len(f.Terms)]
	if rssFull <= 1e-12*math.Max(tss, 1) {
		return nil, ErrPerfectFit
	}
	msResid := rssFull / float64(dfResid)

	table := Table{Rows: make([]Row, 0, len(f.Terms)+1)}
	for k, term := range f.Terms {
		ss := math.Max(rss[k]-rss[k+1], 0)
		df := d.termCols[k]
		ms := ss / float64(df)
		fStat := ms / msResid
		table.Rows = append(table.Rows, Row{
			Term:   term.Name(),
			DF:     df,
			SumSq:  ss,
			MeanSq: ms,
			F:      fStat,
			PValue: distuv.F{D1: float64(df), D2: float64(dfResid)}.Survival(fStat),
			EtaSq:  ss / tss,
		})
	}
	table.Rows = append(table.Rows, Row{
		Term:   ResidualTerm,
		DF:     dfResid,
		SumSq:  rssFull,
		MeanSq: msResid,
		F:      math.NaN(),
		PValue: math.NaN(),
		EtaSq:  rssFull / tss,
	})

	coefs := make([]Coefficient, p)
	for i := range coefs {
		coefs[i] = Coefficient{Name: d.names[i], Estimate: full.beta.AtVec(i)}
	}

	r2 := 1 - rssFull/tss
	return &Model{
		Formula:      f,
		Coefficients: coefs,
		Table:        table,
		N:            n,
		ResidualDF:   dfResid,
		TSS:          tss,
		RSS:          rssFull,
		Sigma:        math.Sqrt(msResid),
		RSquared:     r2,
		AdjRSquared:  1 - (1-r2)*float64(n-1)/float64(dfResid),
		Fitted:       full.fitted,
		Residuals:    full.residuals,
		Leverage:     full.leverage,
		Response:     y,
		Factors:      ordered,
	}, nil
}

// checkEstimable rejects designs with unobserved levels or, when several
// factors are crossed, unobserved factor-level combinations.
func checkEstimable(factors []*dataset.Factor) error {
	for _, f := range factors {
		if f.NumLevels() < 2 {
			return &RankDeficiencyError{
				Term:   f.Name(),
				Reason: "a factor needs at least two levels",
			}
		}
		for i, n := range f.Counts() {
			if n == 0 {
				return &RankDeficiencyError{
					Term:   f.Name(),
					Cell:   f.Levels().Level(i).Label,
					Reason: "level has no observations",
				}
			}
		}
	}
	if len(factors) < 2 {
		return nil
	}

	sizes := make([]int, len(factors))
	cells := 1
	for i, f := range factors {
		sizes[i] = f.NumLevels()
		cells *= sizes[i]
	}
	counts := make([]int, cells)
	for obs := 0; obs < factors[0].Len(); obs++ {
		idx := 0
		for i, f := range factors {
			idx = idx*sizes[i] + f.Index(obs)
		}
		counts[idx]++
	}
	for idx, n := range counts {
		if n > 0 {
			continue
		}
		labels := make([]string, len(factors))
		rem := idx
		for i := len(factors) - 1; i >= 0; i-- {
			labels[i] = factors[i].Levels().Level(rem % sizes[i]).Label
			rem /= sizes[i]
		}
		names := make([]string, len(factors))
		for i, f := range factors {
			names[i] = f.Name()
		}
		return &RankDeficiencyError{
			Term:   strings.Join(names, ":"),
			Cell:   dataset.CellName(labels...),
			Reason: "factor-level combination has no observations",
		}
	}
	return nil
}

// buildDesign lays out the intercept followed by each term's dummy columns.
// A term over factors with k1..km levels contributes (k1-1)...(km-1) columns,
// one per combination of non-reference levels.
func buildDesign(f Formula, factors map[string]*dataset.Factor, n int) design {
	type column struct {
		name   string
		values []float64
	}
	intercept := make([]float64, n)
	for i := range intercept {
		intercept[i] = 1
	}
	columns := []column{{name: "(Intercept)", values: intercept}}
	termCols := make([]int, len(f.Terms))

	for k, term := range f.Terms {
		facs := make([]*dataset.Factor, len(term.Factors))
		sizes := make([]int, len(term.Factors))
		combos := 1
		for i, name := range term.Factors {
			facs[i] = factors[name]
			sizes[i] = facs[i].NumLevels() - 1
			combos *= sizes[i]
		}
		termCols[k] = combos

		levels := make([]int, len(facs))
		for c := 0; c < combos; c++ {
			// First factor varies fastest.
			rem := c
			for i := range facs {
				levels[i] = rem%sizes[i] + 1
				rem /= sizes[i]
			}
			parts := make([]string, len(facs))
			for i, fac := range facs {
				parts[i] = fac.Name() + fac.Levels().Level(levels[i]).Label
			}
			values := make([]float64, n)
			for obs := 0; obs < n; obs++ {
				hit := true
				for i, fac := range facs {
					if fac.Index(obs) != levels[i] {
						hit = false
						break
					}
				}
				if hit {
					values[obs] = 1
				}
			}
			columns = append(columns, column{name: strings.Join(parts, ":"), values: values})
		}
	}

	x := mat.NewDense(n, len(columns), nil)
	names := make([]string, len(columns))
	for j, c := range columns {
		names[j] = c.name
		x.SetCol(j, c.values)
	}
	return design{x: x, names: names, termCols: termCols}
}

type fit struct {
	beta      *mat.VecDense
	fitted    []float64
	residuals []float64
	leverage  []float64
	rss       float64
}

// leastSquares solves min ||x·b - y|| through a QR factorization of x. The
// diagonal of the hat matrix is only extracted when withLeverage is set.
func leastSquares(x mat.Matrix, y *mat.VecDense, term string, withLeverage bool) (fit, error) {
	n, p := x.Dims()
	var qr mat.QR
	qr.Factorize(x)

	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, y); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) {
			return fit{}, &RankDeficiencyError{
				Term:   term,
				Reason: fmt.Sprintf("design matrix is singular (condition number %.3g)", float64(cond)),
			}
		}
		return fit{}, fmt.Errorf("failed to solve least squares: %w", err)
	}

	var fittedVec mat.VecDense
	fittedVec.MulVec(x, &beta)

	fitted := make([]float64, n)
	residuals := make([]float64, n)
	var rss float64
	for i := 0; i < n; i++ {
		fitted[i] = fittedVec.AtVec(i)
		residuals[i] = y.AtVec(i) - fitted[i]
		rss += residuals[i] * residuals[i]
	}

	res := fit{beta: &beta, fitted: fitted, residuals: residuals, rss: rss}
	if !withLeverage {
		return res, nil
	}

	// The hat diagonal is the squared row norm of the thin Q = x·R⁻¹, which
	// keeps memory at n×p instead of forming the full n×n Q.
	var rFull mat.Dense
	qr.RTo(&rFull)
	r := mat.NewTriDense(p, mat.Upper, nil)
	r.Copy(rFull.Slice(0, p, 0, p))
	var rInv mat.TriDense
	if err := rInv.InverseTri(r); err != nil {
		return fit{}, &RankDeficiencyError{
			Term:   term,
			Reason: fmt.Sprintf("triangular factor is singular: %v", err),
		}
	}
	var thinQ mat.Dense
	thinQ.Mul(x, &rInv)

	res.leverage = make([]float64, n)
	for i := 0; i < n; i++ {
		row := thinQ.RawRowView(i)
		res.leverage[i] = floats.Dot(row, row)
	}
	return res, nil
}

func totalSS(y []float64) float64 {
	mean := stat.Mean(y, nil)
	var ss float64
	for _, v := range y {
		ss += (v - mean) * (v - mean)
	}
	return ss
}
