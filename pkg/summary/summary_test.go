package summary

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/twoway-anova/pkg/dataset"
)

func loadToothGrowth(t *testing.T) *dataset.Table {
	t.Helper()
	raw, err := dataset.Load("../../testdata/toothgrowth.csv", dataset.DefaultOptions())
	require.NoError(t, err)
	table, err := dataset.Factorize(raw, "supp")
	require.NoError(t, err)
	table, err = dataset.Factorize(table, "dose")
	require.NoError(t, err)
	return table
}

func loadMarks(t *testing.T) *dataset.Table {
	t.Helper()
	raw, err := dataset.Load("../../testdata/marks.csv", dataset.DefaultOptions())
	require.NoError(t, err)
	table, err := dataset.Normalize(raw, map[string]dataset.Mapping{
		"course": {Codes: []string{"1", "2", "3"}, Labels: []string{"Arts", "Science", "Commerce"}},
		"qual":   {Codes: []string{"1", "2"}, Labels: []string{"Graduate", "Postgraduate"}},
	})
	require.NoError(t, err)
	return table
}

func TestQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.25, 1.75},
		{0.5, 2.5},
		{0.75, 3.25},
		{1, 4},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Quantile(tt.p, sorted), 1e-12, "p=%v", tt.p)
	}
	assert.True(t, math.IsNaN(Quantile(0.5, nil)))
	assert.Equal(t, 7.0, Quantile(0.3, []float64{7}))
}

func TestDescribe(t *testing.T) {
	table := loadToothGrowth(t)
	values, err := table.Numeric("len")
	require.NoError(t, err)

	stats := Describe(values)
	assert.Equal(t, 60, stats.Count)
	assert.InDelta(t, 4.2, stats.Min, 1e-12)
	assert.InDelta(t, 13.075, stats.Q1, 1e-9)
	assert.InDelta(t, 19.25, stats.Median, 1e-9)
	assert.InDelta(t, 18.813333, stats.Mean, 1e-6)
	assert.InDelta(t, 25.275, stats.Q3, 1e-9)
	assert.InDelta(t, 33.9, stats.Max, 1e-12)
	assert.InDelta(t, 7.649315, stats.StdDev, 1e-6)

	assert.Equal(t, DescriptiveStats{}, Describe(nil))
	single := Describe([]float64{3})
	assert.Equal(t, 1, single.Count)
	assert.Zero(t, single.Variance)
}

func TestDescribeBy(t *testing.T) {
	table := loadToothGrowth(t)
	values, err := table.Numeric("len")
	require.NoError(t, err)
	supp, err := table.Factor("supp")
	require.NoError(t, err)

	groups := DescribeBy(values, supp)
	require.Len(t, groups, 2)
	assert.Equal(t, "OJ", groups[0].Level)
	assert.Equal(t, 30, groups[0].Stats.Count)
	assert.InDelta(t, 20.663333, groups[0].Stats.Mean, 1e-6)
	assert.InDelta(t, 22.7, groups[0].Stats.Median, 1e-9)
	assert.InDelta(t, 6.605561, groups[0].Stats.StdDev, 1e-6)
	assert.Equal(t, "VC", groups[1].Level)
	assert.InDelta(t, 16.963333, groups[1].Stats.Mean, 1e-6)
}

func TestCrossTabBalancedMarks(t *testing.T) {
	table := loadMarks(t)
	course, err := table.Factor("course")
	require.NoError(t, err)
	qual, err := table.Factor("qual")
	require.NoError(t, err)

	ct, err := CrossTabulate(course, qual)
	require.NoError(t, err)

	want := [][]int{{50, 50}, {50, 50}, {50, 50}}
	if diff := cmp.Diff(want, ct.Counts); diff != "" {
		t.Fatalf("crosstab mismatch (-want +got):\n%s", diff)
	}
	balanced, size := ct.Balanced()
	assert.True(t, balanced)
	assert.Equal(t, 50, size)
	assert.Equal(t, 300, ct.Total())
	assert.Equal(t, []int{100, 100, 100}, ct.RowTotals())
	assert.Equal(t, []int{150, 150}, ct.ColTotals())
	assert.Empty(t, ct.EmptyCells())

	n, ok := ct.Count("Science", "Postgraduate")
	assert.True(t, ok)
	assert.Equal(t, 50, n)
	_, ok = ct.Count("Law", "Graduate")
	assert.False(t, ok)
}

func TestCrossTabEmptyCell(t *testing.T) {
	table := loadMarks(t)
	course, err := table.Factor("course")
	require.NoError(t, err)
	qual, err := table.Factor("qual")
	require.NoError(t, err)

	var rows []int
	for i := 0; i < table.Len(); i++ {
		if course.At(i).Label == "Arts" && qual.At(i).Label == "Graduate" {
			continue
		}
		rows = append(rows, i)
	}
	sub, err := table.Select(rows)
	require.NoError(t, err)
	course, _ = sub.Factor("course")
	qual, _ = sub.Factor("qual")

	ct, err := CrossTabulate(course, qual)
	require.NoError(t, err)
	balanced, _ := ct.Balanced()
	assert.False(t, balanced)
	assert.Equal(t, [][2]string{{"Arts", "Graduate"}}, ct.EmptyCells())
}

func TestDescribeTable(t *testing.T) {
	table := loadMarks(t)
	summaries, err := DescribeTable(table)
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	assert.Equal(t, "marks", summaries[0].Name)
	require.NotNil(t, summaries[0].Numeric)
	assert.Equal(t, 300, summaries[0].Numeric.Count)

	assert.Equal(t, "factor", summaries[1].Kind)
	assert.Equal(t, []LevelCount{
		{Level: "Arts", Code: "1", Count: 100},
		{Level: "Science", Code: "2", Count: 100},
		{Level: "Commerce", Code: "3", Count: 100},
	}, summaries[1].Levels)

	raw, err := dataset.Load("../../testdata/toothgrowth.csv", dataset.DefaultOptions())
	require.NoError(t, err)
	summaries, err = DescribeTable(raw)
	require.NoError(t, err)
	assert.Equal(t, "string", summaries[1].Kind)
	assert.Equal(t, 2, summaries[1].Distinct)
}
