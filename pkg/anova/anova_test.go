package anova

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/example/twoway-anova/pkg/dataset"
)

func loadFactorized(t *testing.T, path string, factors ...string) *dataset.Table {
	t.Helper()
	table, err := dataset.Load(path, dataset.DefaultOptions())
	require.NoError(t, err)
	for _, name := range factors {
		table, err = dataset.Factorize(table, name)
		require.NoError(t, err)
	}
	return table
}

func toothGrowth(t *testing.T) *dataset.Table {
	return loadFactorized(t, "../../testdata/toothgrowth.csv", "supp", "dose")
}

func marks(t *testing.T) *dataset.Table {
	return loadFactorized(t, "../../testdata/marks.csv", "course", "qual")
}

type expectedRow struct {
	term  string
	df    int
	sumSq float64
	f     float64
	p     float64
}

func assertRows(t *testing.T, table Table, want []expectedRow) {
	t.Helper()
	require.Len(t, table.Rows, len(want)+1)
	for i, w := range want {
		row := table.Rows[i]
		assert.Equal(t, w.term, row.Term)
		assert.Equal(t, w.df, row.DF, w.term)
		assert.InDelta(t, w.sumSq, row.SumSq, 5e-3, w.term)
		assert.InDelta(t, w.f, row.F, 5e-4, w.term)
		assert.InDelta(t, w.p, row.PValue, 5e-6, w.term)
	}
}

func TestFitToothGrowthInteraction(t *testing.T) {
	model, err := Fit(toothGrowth(t), Interaction("len", "supp", "dose"))
	require.NoError(t, err)

	assertRows(t, model.Table, []expectedRow{
		{"supp", 1, 205.350, 15.572, 0.000231},
		{"dose", 2, 2426.434, 92.000, 0},
		{"supp:dose", 2, 108.319, 4.107, 0.021860},
	})
	dose, ok := model.Table.Row("dose")
	require.True(t, ok)
	assert.Less(t, dose.PValue, 1e-15)

	resid := model.Table.Residual()
	assert.Equal(t, ResidualTerm, resid.Term)
	assert.Equal(t, 54, resid.DF)
	assert.InDelta(t, 712.106, resid.SumSq, 1e-3)
	assert.True(t, math.IsNaN(resid.F))
	assert.True(t, math.IsNaN(resid.PValue))

	assert.Equal(t, 60, model.N)
	assert.Equal(t, 54, model.ResidualDF)
	assert.InDelta(t, model.TSS, model.RSS+205.350+2426.434+108.319, 1e-2)
	assert.Len(t, model.Residuals, 60)
	assert.Len(t, model.Leverage, 60)
	for _, h := range model.Leverage {
		// Six cells of ten observations each.
		assert.InDelta(t, 0.1, h, 1e-9)
	}

	want := []Coefficient{
		{"(Intercept)", 13.23},
		{"suppVC", -5.25},
		{"dose1", 9.47},
		{"dose2", 12.83},
		{"suppVC:dose1", -0.68},
		{"suppVC:dose2", 5.33},
	}
	diff := cmp.Diff(want, model.Coefficients, cmp.Comparer(func(a, b float64) bool {
		return math.Abs(a-b) < 1e-9
	}))
	assert.Empty(t, diff)
}

func TestFitToothGrowthAdditive(t *testing.T) {
	model, err := Fit(toothGrowth(t), Additive("len", "supp", "dose"))
	require.NoError(t, err)

	assertRows(t, model.Table, []expectedRow{
		{"supp", 1, 205.350, 14.0166, 0.000429},
		{"dose", 2, 2426.434, 82.811, 0},
	})
	resid := model.Table.Residual()
	assert.Equal(t, 56, resid.DF)
	assert.InDelta(t, 820.43, resid.SumSq, 1e-2)
	assert.Len(t, model.Coefficients, 4)
}

func TestFitUnbalancedOrderMatters(t *testing.T) {
	full := toothGrowth(t)
	var rows []int
	for i := 0; i < full.Len(); i++ {
		if i == 0 || i == 1 || i == 2 || i == 35 {
			continue
		}
		rows = append(rows, i)
	}
	table, err := full.Select(rows)
	require.NoError(t, err)

	suppFirst, err := Fit(table, Interaction("len", "supp", "dose"))
	require.NoError(t, err)
	assertRows(t, suppFirst.Table, []expectedRow{
		{"supp", 1, 128.770, 9.5634, 0.0032436},
		{"dose", 2, 2032.380, 75.4694, 0},
		{"supp:dose", 2, 108.665, 4.03511, 0.0237364},
	})
	assert.Equal(t, 50, suppFirst.ResidualDF)
	assert.InDelta(t, 673.246, suppFirst.RSS, 1e-2)

	doseFirst, err := Fit(table, Interaction("len", "dose", "supp"))
	require.NoError(t, err)
	assertRows(t, doseFirst.Table, []expectedRow{
		{"dose", 2, 1975.947, 73.3738, 0},
		{"supp", 1, 185.204, 13.7545, 0.000522833},
		{"dose:supp", 2, 108.665, 4.03511, 0.0237364},
	})

	// Same model, different decomposition.
	assert.InDelta(t, suppFirst.RSS, doseFirst.RSS, 1e-9)
	a, _ := suppFirst.Table.Row("supp")
	b, _ := doseFirst.Table.Row("supp")
	assert.Greater(t, math.Abs(a.SumSq-b.SumSq), 1.0)
}

func TestFitMarks(t *testing.T) {
	table := marks(t)

	additive, err := Fit(table, Additive("marks", "course", "qual"))
	require.NoError(t, err)
	assertRows(t, additive.Table, []expectedRow{
		{"course", 2, 235.5267, 0.875286, 0.417819},
		{"qual", 1, 396.75, 2.948878, 0.086983},
	})
	assert.InDelta(t, 39824.64, additive.RSS, 1e-2)

	full, err := Fit(table, Interaction("marks", "course", "qual"))
	require.NoError(t, err)
	assertRows(t, full.Table, []expectedRow{
		{"course", 2, 235.5267, 0.908005, 0.404456},
		{"qual", 1, 396.75, 3.059109, 0.081329},
		{"course:qual", 2, 1694.42, 6.532345, 0.0016760},
	})
	assert.InDelta(t, 38130.22, full.RSS, 1e-2)
	assert.Equal(t, 294, full.ResidualDF)

	names := make([]string, len(full.Coefficients))
	estimates := make([]float64, len(full.Coefficients))
	for i, c := range full.Coefficients {
		names[i] = c.Name
		estimates[i] = c.Estimate
	}
	assert.Equal(t, []string{"(Intercept)", "course2", "course3", "qual2", "course2:qual2", "course3:qual2"}, names)
	assert.InDeltaSlice(t, []float64{60.78, 5.64, 0.22, 3.72, -7.82, 3.56}, estimates, 1e-9)
}

func TestFitDeterministic(t *testing.T) {
	table := marks(t)
	a, err := Fit(table, Interaction("marks", "course", "qual"))
	require.NoError(t, err)
	b, err := Fit(table, Interaction("marks", "course", "qual"))
	require.NoError(t, err)

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(ja), string(jb))
}

func TestFitLargeDesignLeverage(t *testing.T) {
	const n = 12000
	var b strings.Builder
	b.WriteString("y,a,b\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d.%d,a%d,b%d\n", i%7+(i%3)*2, i%5, i%3, (i/3)%2)
	}
	table, err := dataset.Read(strings.NewReader(b.String()), dataset.DefaultOptions())
	require.NoError(t, err)
	table, err = dataset.Factorize(table, "a")
	require.NoError(t, err)
	table, err = dataset.Factorize(table, "b")
	require.NoError(t, err)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	model, err := Fit(table, Interaction("y", "a", "b"))
	runtime.ReadMemStats(&after)
	require.NoError(t, err)

	// A full n×n Q alone would take n*n*8 bytes.
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(n*n*8/4))

	require.Len(t, model.Leverage, n)
	assert.InDelta(t, 6.0, floats.Sum(model.Leverage), 1e-6)
	for _, h := range model.Leverage {
		assert.InDelta(t, 6.0/n, h, 1e-9)
	}
}

func TestFitUnbalancedLeverageSumsToParameters(t *testing.T) {
	full := toothGrowth(t)
	table, err := full.Select([]int{0, 1, 2, 10, 11, 20, 21, 22, 23, 30, 31, 40, 41, 42, 50, 51, 52, 53})
	require.NoError(t, err)

	model, err := Fit(table, Interaction("len", "supp", "dose"))
	require.NoError(t, err)
	assert.InDelta(t, 6.0, floats.Sum(model.Leverage), 1e-9)
	for _, h := range model.Leverage {
		assert.Greater(t, h, 0.0)
		assert.LessOrEqual(t, h, 1.0+1e-12)
	}
}

func TestFitEmptyCellIsRankDeficient(t *testing.T) {
	full := toothGrowth(t)
	var rows []int
	for i := 0; i < full.Len(); i++ {
		// Drop every VC observation at dose 2.
		if i >= 20 && i < 30 {
			continue
		}
		rows = append(rows, i)
	}
	table, err := full.Select(rows)
	require.NoError(t, err)

	_, err = Fit(table, Interaction("len", "supp", "dose"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRankDeficient))

	var rde *RankDeficiencyError
	require.True(t, errors.As(err, &rde))
	assert.Equal(t, "VC:2", rde.Cell)
}

func TestFitEmptyLevel(t *testing.T) {
	full := toothGrowth(t)
	table, err := full.Select([]int{30, 31, 32, 33, 40, 41, 42, 50, 51, 52})
	require.NoError(t, err)

	_, err = Fit(table, Additive("len", "supp", "dose"))
	assert.ErrorIs(t, err, ErrRankDeficient)
}

func TestFitSingleLevelFactor(t *testing.T) {
	table, err := dataset.Read(strings.NewReader("y,a,b\n1,x,p\n2,x,q\n3,x,p\n4,x,q\n"), dataset.DefaultOptions())
	require.NoError(t, err)
	table, err = dataset.Factorize(table, "a")
	require.NoError(t, err)
	table, err = dataset.Factorize(table, "b")
	require.NoError(t, err)

	_, err = Fit(table, Additive("y", "a", "b"))
	assert.ErrorIs(t, err, ErrRankDeficient)
}

func TestFitPerfectFit(t *testing.T) {
	table, err := dataset.Read(strings.NewReader("y,a,b\n1,x,p\n1,x,p\n2,x,q\n2,x,q\n3,z,p\n3,z,p\n4,z,q\n4,z,q\n"), dataset.DefaultOptions())
	require.NoError(t, err)
	table, err = dataset.Factorize(table, "a")
	require.NoError(t, err)
	table, err = dataset.Factorize(table, "b")
	require.NoError(t, err)

	_, err = Fit(table, Interaction("y", "a", "b"))
	assert.ErrorIs(t, err, ErrPerfectFit)
}

func TestFitRejectsBadColumns(t *testing.T) {
	table := toothGrowth(t)

	_, err := Fit(table, Additive("missing", "supp", "dose"))
	assert.ErrorIs(t, err, dataset.ErrUnknownColumn)

	_, err = Fit(table, Additive("len", "supp", "nope"))
	assert.ErrorIs(t, err, dataset.ErrUnknownColumn)

	_, err = Fit(table, Formula{Response: "len"})
	assert.Error(t, err)
}

func TestCompareNestedModels(t *testing.T) {
	table := toothGrowth(t)
	additive, err := Fit(table, Additive("len", "supp", "dose"))
	require.NoError(t, err)
	full, err := Fit(table, Interaction("len", "supp", "dose"))
	require.NoError(t, err)

	c, err := Compare(additive, full)
	require.NoError(t, err)
	assert.Equal(t, 2, c.DF)
	assert.InDelta(t, 108.319, c.SumSq, 1e-3)
	assert.InDelta(t, 4.107, c.F, 1e-3)
	assert.InDelta(t, 0.02186, c.PValue, 1e-5)
	assert.Equal(t, "len ~ supp + dose", c.Reduced)

	_, err = Compare(full, additive)
	assert.Error(t, err)
}

func TestRowJSONNaN(t *testing.T) {
	model, err := Fit(toothGrowth(t), Additive("len", "supp", "dose"))
	require.NoError(t, err)

	data, err := json.Marshal(model.Table)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"term":"Residuals"`)
	assert.Contains(t, string(data), `"f":null`)

	var back Table
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.Rows, 3)
	assert.True(t, math.IsNaN(back.Residual().F))
	assert.InDelta(t, model.Table.Rows[0].F, back.Rows[0].F, 1e-12)
}

func TestParseFormula(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"additive", "marks ~ course + qual", []string{"course", "qual"}},
		{"explicit interaction", "marks ~ course + qual + course:qual", []string{"course", "qual", "course:qual"}},
		{"crossing", "marks ~ course * qual", []string{"course", "qual", "course:qual"}},
		{"interaction written first", "y ~ a:b + a + b", []string{"a", "b", "a:b"}},
		{"duplicates dropped", "y ~ a + a + b + b:a", []string{"a", "b", "b:a"}},
		{"three way", "y ~ a * b * c", []string{"a", "b", "c", "a:b", "a:c", "b:c", "a:b:c"}},
		{"spacing", "  y~a+b ", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFormula(tt.input)
			require.NoError(t, err)
			names := make([]string, len(f.Terms))
			for i, term := range f.Terms {
				names[i] = term.Name()
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestParseFormulaErrors(t *testing.T) {
	for _, input := range []string{
		"y a + b",
		" ~ a",
		"y ~ a + ",
		"y ~ a:a",
		"y ~ a b",
		"y ~ a * ",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseFormula(input)
			assert.Error(t, err)
		})
	}
}

func TestParseFormulaRequiresMarginalTerms(t *testing.T) {
	for _, input := range []string{
		"len ~ supp:dose",
		"len ~ supp + supp:dose",
		"len ~ dose + supp:dose",
		"y ~ a + b + c + a:b + a:b:c",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseFormula(input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNotHierarchical)
		})
	}

	_, err := ParseFormula("y ~ a * b * c")
	assert.NoError(t, err)
}

func TestFitRejectsNonHierarchicalFormula(t *testing.T) {
	table := toothGrowth(t)
	f := Formula{
		Response: "len",
		Terms:    []Term{{Factors: []string{"supp"}}, {Factors: []string{"supp", "dose"}}},
	}
	_, err := Fit(table, f)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotHierarchical)
	assert.Contains(t, err.Error(), "needs dose")
}

func TestFormulaHelpers(t *testing.T) {
	f := Interaction("marks", "course", "qual")
	assert.Equal(t, "marks ~ course + qual + course:qual", f.String())
	assert.Equal(t, []string{"course", "qual"}, f.Factors())
	assert.True(t, f.Contains(Term{Factors: []string{"qual", "course"}}))
	assert.False(t, Additive("marks", "course", "qual").Contains(Term{Factors: []string{"course", "qual"}}))
}
