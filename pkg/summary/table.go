package summary

import (
	"github.com/example/twoway-anova/pkg/dataset"
)

// LevelCount is the number of observations at one level
type LevelCount struct {
	Level string `json:"level"` // Level label
	Code  string `json:"code"`  // Raw code of the level
	Count int    `json:"count"` // Observations at the level
}

// ColumnSummary is the overview of one table column
type ColumnSummary struct {
	Name     string            `json:"name"`               // Column name
	Kind     string            `json:"kind"`               // integer|float|string|factor
	Numeric  *DescriptiveStats `json:"numeric,omitempty"`  // Set for numeric columns
	Levels   []LevelCount      `json:"levels,omitempty"`   // Set for factor columns
	Distinct int               `json:"distinct,omitempty"` // Set for string columns
}

// LevelCounts tabulates a factor.
func LevelCounts(f *dataset.Factor) []LevelCount {
	counts := f.Counts()
	out := make([]LevelCount, len(counts))
	for i, n := range counts {
		lvl := f.Levels().Level(i)
		out[i] = LevelCount{Level: lvl.Label, Code: lvl.Code, Count: n}
	}
	return out
}

// DescribeTable summarises every column of t in column order.
func DescribeTable(t *dataset.Table) ([]ColumnSummary, error) {
	names := t.Names()
	out := make([]ColumnSummary, 0, len(names))
	for _, name := range names {
		col, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		cs := ColumnSummary{Name: name, Kind: col.Kind.String()}
		switch {
		case col.Kind.Numeric():
			stats := Describe(col.Numbers)
			cs.Numeric = &stats
		case col.Kind == dataset.KindFactor:
			cs.Levels = LevelCounts(col.Factor)
		default:
			distinct := make(map[string]struct{})
			for _, v := range col.Raw {
				distinct[v] = struct{}{}
			}
			cs.Distinct = len(distinct)
		}
		out = append(out, cs)
	}
	return out, nil
}
