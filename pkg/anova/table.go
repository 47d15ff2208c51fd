package anova

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ResidualTerm names the residual row of an ANOVA table.
const ResidualTerm = "Residuals"

// Row is one line of an ANOVA table. F and PValue are NaN on the residual row.
type Row struct {
	Term   string  `json:"term"`   // Term name or "Residuals"
	DF     int     `json:"df"`     // Degrees of freedom
	SumSq  float64 `json:"sumSq"`  // Sequential sum of squares
	MeanSq float64 `json:"meanSq"` // SumSq / DF
	F      float64 `json:"f"`      // MeanSq / residual MeanSq
	PValue float64 `json:"pValue"` // Upper tail of F(DF, residual DF)
	EtaSq  float64 `json:"etaSq"`  // SumSq / total sum of squares
}

// MarshalJSON writes NaN statistics as null.
func (r Row) MarshalJSON() ([]byte, error) {
	type row struct {
		Term   string   `json:"term"`
		DF     int      `json:"df"`
		SumSq  float64  `json:"sumSq"`
		MeanSq float64  `json:"meanSq"`
		F      *float64 `json:"f"`
		PValue *float64 `json:"pValue"`
		EtaSq  float64  `json:"etaSq"`
	}
	return json.Marshal(row{
		Term:   r.Term,
		DF:     r.DF,
		SumSq:  r.SumSq,
		MeanSq: r.MeanSq,
		F:      finite(r.F),
		PValue: finite(r.PValue),
		EtaSq:  r.EtaSq,
	})
}

// UnmarshalJSON restores null statistics as NaN.
func (r *Row) UnmarshalJSON(data []byte) error {
	var row struct {
		Term   string   `json:"term"`
		DF     int      `json:"df"`
		SumSq  float64  `json:"sumSq"`
		MeanSq float64  `json:"meanSq"`
		F      *float64 `json:"f"`
		PValue *float64 `json:"pValue"`
		EtaSq  float64  `json:"etaSq"`
	}
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	*r = Row{Term: row.Term, DF: row.DF, SumSq: row.SumSq, MeanSq: row.MeanSq, EtaSq: row.EtaSq, F: math.NaN(), PValue: math.NaN()}
	if row.F != nil {
		r.F = *row.F
	}
	if row.PValue != nil {
		r.PValue = *row.PValue
	}
	return nil
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Table is an ANOVA table: one row per term in formula order, then the
// residual row.
type Table struct {
	Rows []Row `json:"rows"`
}

// Row returns the row of the named term.
func (t Table) Row(term string) (Row, bool) {
	for _, r := range t.Rows {
		if r.Term == term {
			return r, true
		}
	}
	return Row{}, false
}

// Terms returns every row except the residual row.
func (t Table) Terms() []Row {
	if len(t.Rows) == 0 {
		return nil
	}
	return t.Rows[:len(t.Rows)-1]
}

// Residual returns the residual row.
func (t Table) Residual() Row {
	if len(t.Rows) == 0 {
		return Row{Term: ResidualTerm, F: math.NaN(), PValue: math.NaN()}
	}
	return t.Rows[len(t.Rows)-1]
}

// Comparison is the F test between two nested models
type Comparison struct {
	Reduced    string  `json:"reduced"`    // Formula of the smaller model
	Full       string  `json:"full"`       // Formula of the larger model
	ReducedRSS float64 `json:"reducedRss"` // Residual sum of squares of the smaller model
	FullRSS    float64 `json:"fullRss"`    // Residual sum of squares of the larger model
	DF         int     `json:"df"`         // Difference in residual degrees of freedom
	SumSq      float64 `json:"sumSq"`      // Reduction in residual sum of squares
	F          float64 `json:"f"`          // F statistic
	PValue     float64 `json:"pValue"`     // Upper tail of F(DF, full residual DF)
}

// Compare tests whether full explains significantly more variation than
// reduced. Every term of reduced must appear in full and both must be fitted
// on the same observations.
func Compare(reduced, full *Model) (Comparison, error) {
	if reduced.Formula.Response != full.Formula.Response || reduced.N != full.N {
		return Comparison{}, fmt.Errorf("models %q and %q are not fitted on the same data",
			reduced.Formula.String(), full.Formula.String())
	}
	for _, t := range reduced.Formula.Terms {
		if !full.Formula.Contains(t) {
			return Comparison{}, fmt.Errorf("model %q is not nested in %q: missing term %q",
				reduced.Formula.String(), full.Formula.String(), t.Name())
		}
	}
	df := reduced.ResidualDF - full.ResidualDF
	if df <= 0 {
		return Comparison{}, fmt.Errorf("model %q has no more parameters than %q",
			full.Formula.String(), reduced.Formula.String())
	}

	ss := math.Max(reduced.RSS-full.RSS, 0)
	f := (ss / float64(df)) / (full.RSS / float64(full.ResidualDF))
	return Comparison{
		Reduced:    reduced.Formula.String(),
		Full:       full.Formula.String(),
		ReducedRSS: reduced.RSS,
		FullRSS:    full.RSS,
		DF:         df,
		SumSq:      ss,
		F:          f,
		PValue:     distuv.F{D1: float64(df), D2: float64(full.ResidualDF)}.Survival(f),
	}, nil
}
