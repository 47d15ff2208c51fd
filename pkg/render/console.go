package render

import (
	"fmt"
	"math"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/example/twoway-anova/pkg/anova"
	"github.com/example/twoway-anova/pkg/diagnostics"
	"github.com/example/twoway-anova/pkg/explore"
	"github.com/example/twoway-anova/pkg/summary"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).MarginTop(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// newTable builds a bordered table whose first `text` columns are left
// aligned and the rest right aligned.
func newTable(text int, headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col < text:
				return cellStyle
			default:
				return numberStyle
			}
		})
}

func titled(title string, t *table.Table) string {
	if title == "" {
		return t.Render()
	}
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), t.Render())
}

// Num formats a statistic with four decimals; NaN prints as an empty cell.
func Num(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// PValue formats a p-value, switching to scientific notation below 1e-4.
func PValue(p float64) string {
	switch {
	case math.IsNaN(p):
		return ""
	case p < 1e-4:
		return strconv.FormatFloat(p, 'e', 2, 64)
	default:
		return strconv.FormatFloat(p, 'f', 4, 64)
	}
}

// Stars marks significance the conventional way.
func Stars(p float64) string {
	switch {
	case math.IsNaN(p):
		return ""
	case p < 0.001:
		return "***"
	case p < 0.01:
		return "**"
	case p < 0.05:
		return "*"
	case p < 0.1:
		return "."
	}
	return ""
}

// AnovaTable renders a sequential ANOVA table.
func AnovaTable(title string, t anova.Table) string {
	tbl := newTable(1, "Term", "Df", "Sum Sq", "Mean Sq", "F value", "Pr(>F)", "")
	for _, r := range t.Rows {
		tbl.Row(r.Term, strconv.Itoa(r.DF), Num(r.SumSq), Num(r.MeanSq), Num(r.F), PValue(r.PValue), Stars(r.PValue))
	}
	return titled(title, tbl)
}

// Coefficients renders a model's estimates with its fit statistics.
func Coefficients(title string, m *anova.Model) string {
	tbl := newTable(1, "Coefficient", "Estimate")
	for _, c := range m.Coefficients {
		tbl.Row(c.Name, Num(c.Estimate))
	}
	footer := fmt.Sprintf("Residual standard error: %s on %d degrees of freedom\nR-squared: %s, adjusted R-squared: %s",
		Num(m.Sigma), m.ResidualDF, Num(m.RSquared), Num(m.AdjRSquared))
	return lipgloss.JoinVertical(lipgloss.Left, titled(title, tbl), footer)
}

// Comparison renders a nested-model F test.
func Comparison(title string, c anova.Comparison) string {
	tbl := newTable(1, "Model", "RSS", "Df", "Sum Sq", "F", "Pr(>F)")
	tbl.Row(c.Reduced, Num(c.ReducedRSS), "", "", "", "")
	tbl.Row(c.Full, Num(c.FullRSS), strconv.Itoa(c.DF), Num(c.SumSq), Num(c.F), PValue(c.PValue))
	return titled(title, tbl)
}

// CrossTab renders a contingency table with margins.
func CrossTab(title string, c summary.CrossTab) string {
	headers := append([]string{c.RowFactor + " \\ " + c.ColFactor}, c.ColLevels...)
	headers = append(headers, "Total")
	tbl := newTable(1, headers...)
	rowTotals := c.RowTotals()
	for i, label := range c.RowLevels {
		row := []string{label}
		for _, n := range c.Counts[i] {
			row = append(row, strconv.Itoa(n))
		}
		row = append(row, strconv.Itoa(rowTotals[i]))
		tbl.Row(row...)
	}
	total := []string{"Total"}
	for _, n := range c.ColTotals() {
		total = append(total, strconv.Itoa(n))
	}
	total = append(total, strconv.Itoa(c.Total()))
	tbl.Row(total...)
	return titled(title, tbl)
}

func statsRow(label string, s summary.DescriptiveStats) []string {
	return []string{label, strconv.Itoa(s.Count), Num(s.Min), Num(s.Q1), Num(s.Median),
		Num(s.Mean), Num(s.Q3), Num(s.Max), Num(s.StdDev)}
}

var statsHeaders = []string{"N", "Min", "Q1", "Median", "Mean", "Q3", "Max", "SD"}

// Describe renders the summary of one numeric variable.
func Describe(title, name string, s summary.DescriptiveStats) string {
	tbl := newTable(1, append([]string{"Variable"}, statsHeaders...)...)
	tbl.Row(statsRow(name, s)...)
	return titled(title, tbl)
}

// DescribeBy renders per-level summaries.
func DescribeBy(title, factor string, groups []summary.GroupStats) string {
	tbl := newTable(1, append([]string{factor}, statsHeaders...)...)
	for _, g := range groups {
		tbl.Row(statsRow(g.Level, g.Stats)...)
	}
	return titled(title, tbl)
}

// Columns renders a table overview.
func Columns(title string, cols []summary.ColumnSummary) string {
	tbl := newTable(3, "Column", "Kind", "Summary")
	for _, c := range cols {
		var desc string
		switch {
		case c.Numeric != nil:
			desc = fmt.Sprintf("min %s, median %s, mean %s, max %s",
				Num(c.Numeric.Min), Num(c.Numeric.Median), Num(c.Numeric.Mean), Num(c.Numeric.Max))
		case c.Levels != nil:
			for i, l := range c.Levels {
				if i > 0 {
					desc += ", "
				}
				desc += fmt.Sprintf("%s: %d", l.Level, l.Count)
			}
		default:
			desc = fmt.Sprintf("%d distinct values", c.Distinct)
		}
		tbl.Row(c.Name, c.Kind, desc)
	}
	return titled(title, tbl)
}

// GroupMeans renders group means with their intervals.
func GroupMeans(title string, groups []explore.GroupMean) string {
	tbl := newTable(1, "Group", "N", "Mean", "Lower", "Upper")
	for _, g := range groups {
		tbl.Row(g.Name(), strconv.Itoa(g.N), Num(g.Mean), Num(g.CI.LowerBound), Num(g.CI.UpperBound))
	}
	return titled(title, tbl)
}

// Tests renders the assumption tests and their verdicts.
func Tests(title string, a *diagnostics.Assessment) string {
	tbl := newTable(2, "Assumption", "Test", "Statistic", "Df", "p-value", "Verdict")
	n := a.Normality
	h := a.Homogeneity
	verdicts := make(map[diagnostics.Assumption]diagnostics.Verdict, len(a.Verdicts))
	for _, v := range a.Verdicts {
		verdicts[v.Assumption] = v
	}
	tbl.Row(string(diagnostics.AssumptionNormality), n.Method, "W = "+Num(n.Statistic), "",
		PValue(n.PValue), verdictLabel(verdicts[diagnostics.AssumptionNormality]))
	tbl.Row(string(diagnostics.AssumptionHomogeneity), fmt.Sprintf("%s (%s)", h.Method, h.Center),
		"F = "+Num(h.Statistic), fmt.Sprintf("%d, %d", h.DF1, h.DF2),
		PValue(h.PValue), verdictLabel(verdicts[diagnostics.AssumptionHomogeneity]))
	return titled(title, tbl)
}

func verdictLabel(v diagnostics.Verdict) string {
	if v.Satisfied {
		return "ok"
	}
	return "violated"
}
