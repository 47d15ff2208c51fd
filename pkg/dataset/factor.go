package dataset

import "strings"

// Level is one category of a factor. It keeps the raw code the level was
// derived from next to its display label.
type Level struct {
	Index int    `json:"index"` // Position in the level set
	Code  string `json:"code"`  // Raw code as found in the input
	Label string `json:"label"` // Display label
}

// LevelSet is an ordered dictionary of levels shared by every observation of
// a factor. It is never mutated after construction.
type LevelSet struct {
	levels []Level
	byCode map[string]int
}

func newLevelSet(codes, labels []string) *LevelSet {
	ls := &LevelSet{
		levels: make([]Level, len(codes)),
		byCode: make(map[string]int, len(codes)),
	}
	for i, code := range codes {
		ls.levels[i] = Level{Index: i, Code: code, Label: labels[i]}
		ls.byCode[code] = i
	}
	return ls
}

// Len returns the number of levels.
func (ls *LevelSet) Len() int {
	return len(ls.levels)
}

// Level returns the i-th level.
func (ls *LevelSet) Level(i int) Level {
	return ls.levels[i]
}

// Labels returns the display labels in level order.
func (ls *LevelSet) Labels() []string {
	out := make([]string, len(ls.levels))
	for i, l := range ls.levels {
		out[i] = l.Label
	}
	return out
}

// Codes returns the raw codes in level order.
func (ls *LevelSet) Codes() []string {
	out := make([]string, len(ls.levels))
	for i, l := range ls.levels {
		out[i] = l.Code
	}
	return out
}

// IndexOfLabel returns the position of the level with the given label.
func (ls *LevelSet) IndexOfLabel(label string) (int, bool) {
	for i, l := range ls.levels {
		if l.Label == label {
			return i, true
		}
	}
	return -1, false
}

// Factor is a categorical column: one level index per observation into a
// shared LevelSet.
type Factor struct {
	name   string
	levels *LevelSet
	index  []int
}

// Name returns the column name of the factor.
func (f *Factor) Name() string {
	return f.name
}

// Len returns the number of observations.
func (f *Factor) Len() int {
	return len(f.index)
}

// Levels returns the level dictionary.
func (f *Factor) Levels() *LevelSet {
	return f.levels
}

// NumLevels returns the number of levels, including levels with no observations.
func (f *Factor) NumLevels() int {
	return f.levels.Len()
}

// At returns the level of observation i.
func (f *Factor) At(i int) Level {
	return f.levels.levels[f.index[i]]
}

// Index returns the level index of observation i.
func (f *Factor) Index(i int) int {
	return f.index[i]
}

// Indices returns a copy of the per-observation level indices.
func (f *Factor) Indices() []int {
	out := make([]int, len(f.index))
	copy(out, f.index)
	return out
}

// Counts returns the number of observations per level.
func (f *Factor) Counts() []int {
	counts := make([]int, f.levels.Len())
	for _, idx := range f.index {
		counts[idx]++
	}
	return counts
}

func (f *Factor) selectRows(rows []int) *Factor {
	index := make([]int, len(rows))
	for i, r := range rows {
		index[i] = f.index[r]
	}
	return &Factor{name: f.name, levels: f.levels, index: index}
}

// CellName joins level labels into the name of a factor-level combination.
func CellName(labels ...string) string {
	return strings.Join(labels, ":")
}
