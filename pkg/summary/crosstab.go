package summary

import (
	"fmt"

	"github.com/example/twoway-anova/pkg/dataset"
)

// CrossTab is a contingency table of two factors
type CrossTab struct {
	RowFactor string   `json:"rowFactor"` // Name of the factor indexing rows
	ColFactor string   `json:"colFactor"` // Name of the factor indexing columns
	RowLevels []string `json:"rowLevels"` // Row level labels in level order
	ColLevels []string `json:"colLevels"` // Column level labels in level order
	Counts    [][]int  `json:"counts"`    // Counts[row][col]
}

// CrossTabulate counts observations per (level of a, level of b).
func CrossTabulate(a, b *dataset.Factor) (CrossTab, error) {
	if a.Len() != b.Len() {
		return CrossTab{}, fmt.Errorf("factors %q and %q differ in length: %d vs %d",
			a.Name(), b.Name(), a.Len(), b.Len())
	}
	counts := make([][]int, a.NumLevels())
	for i := range counts {
		counts[i] = make([]int, b.NumLevels())
	}
	for i := 0; i < a.Len(); i++ {
		counts[a.Index(i)][b.Index(i)]++
	}
	return CrossTab{
		RowFactor: a.Name(),
		ColFactor: b.Name(),
		RowLevels: a.Levels().Labels(),
		ColLevels: b.Levels().Labels(),
		Counts:    counts,
	}, nil
}

// Count returns the count of the cell addressed by level labels.
func (c CrossTab) Count(rowLabel, colLabel string) (int, bool) {
	r, ok := indexOf(c.RowLevels, rowLabel)
	if !ok {
		return 0, false
	}
	col, ok := indexOf(c.ColLevels, colLabel)
	if !ok {
		return 0, false
	}
	return c.Counts[r][col], true
}

// RowTotals returns the margin over columns.
func (c CrossTab) RowTotals() []int {
	out := make([]int, len(c.Counts))
	for i, row := range c.Counts {
		for _, n := range row {
			out[i] += n
		}
	}
	return out
}

// ColTotals returns the margin over rows.
func (c CrossTab) ColTotals() []int {
	out := make([]int, len(c.ColLevels))
	for _, row := range c.Counts {
		for j, n := range row {
			out[j] += n
		}
	}
	return out
}

// Total returns the number of observations.
func (c CrossTab) Total() int {
	total := 0
	for _, n := range c.RowTotals() {
		total += n
	}
	return total
}

// Balanced reports whether every cell holds the same, non-zero number of
// observations, and that number.
func (c CrossTab) Balanced() (bool, int) {
	if len(c.Counts) == 0 || len(c.Counts[0]) == 0 {
		return false, 0
	}
	size := c.Counts[0][0]
	for _, row := range c.Counts {
		for _, n := range row {
			if n != size {
				return false, 0
			}
		}
	}
	return size > 0, size
}

// EmptyCells returns the label pairs of cells without observations.
func (c CrossTab) EmptyCells() [][2]string {
	var out [][2]string
	for i, row := range c.Counts {
		for j, n := range row {
			if n == 0 {
				out = append(out, [2]string{c.RowLevels[i], c.ColLevels[j]})
			}
		}
	}
	return out
}

func indexOf(labels []string, label string) (int, bool) {
	for i, l := range labels {
		if l == label {
			return i, true
		}
	}
	return -1, false
}
