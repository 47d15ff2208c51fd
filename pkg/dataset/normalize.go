package dataset

import (
	"fmt"
	"sort"
	"strconv"
)

// Mapping relabels the raw codes of one column. Codes and Labels are parallel
// and ordered; their order becomes the level order of the factor.
type Mapping struct {
	Codes  []string `json:"codes" yaml:"codes"`
	Labels []string `json:"labels" yaml:"labels"`
}

// Validate checks the mapping contract: equal lengths, at least one level,
// unique codes and unique labels.
func (m Mapping) Validate() error {
	if len(m.Codes) == 0 {
		return fmt.Errorf("%w: no codes", ErrInvalidMapping)
	}
	if len(m.Codes) != len(m.Labels) {
		return fmt.Errorf("%w: %d codes but %d labels", ErrInvalidMapping, len(m.Codes), len(m.Labels))
	}
	codes := make(map[string]bool, len(m.Codes))
	labels := make(map[string]bool, len(m.Labels))
	for i, code := range m.Codes {
		if codes[code] {
			return fmt.Errorf("%w: duplicate code %q", ErrInvalidMapping, code)
		}
		codes[code] = true
		if labels[m.Labels[i]] {
			return fmt.Errorf("%w: duplicate label %q", ErrInvalidMapping, m.Labels[i])
		}
		labels[m.Labels[i]] = true
	}
	return nil
}

// Normalize returns a new table in which every mapped column is a factor.
// The input table is left untouched.
func Normalize(t *Table, mappings map[string]Mapping) (*Table, error) {
	names := make([]string, 0, len(mappings))
	for name := range mappings {
		names = append(names, name)
	}
	sort.Strings(names)

	out := t
	for _, name := range names {
		m := mappings[name]
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		col, err := out.lookup(name)
		if err != nil {
			return nil, err
		}
		if col.Kind == KindFactor {
			return nil, fmt.Errorf("%w: column %q is already a factor", ErrInvalidMapping, name)
		}
		factor, err := mapColumn(col, m)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		out = out.withColumn(&Column{Name: name, Kind: KindFactor, Raw: col.Raw, Factor: factor})
	}
	return out, nil
}

func mapColumn(col *Column, m Mapping) (*Factor, error) {
	levels := newLevelSet(m.Codes, m.Labels)
	index := make([]int, len(col.Raw))

	if col.Kind.Numeric() {
		byValue := make(map[float64]int, len(m.Codes))
		for i, code := range m.Codes {
			v, err := strconv.ParseFloat(code, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: code %q is not numeric", ErrInvalidMapping, code)
			}
			if _, dup := byValue[v]; dup {
				return nil, fmt.Errorf("%w: duplicate code %q", ErrInvalidMapping, code)
			}
			byValue[v] = i
		}
		for row, v := range col.Numbers {
			idx, ok := byValue[v]
			if !ok {
				return nil, fmt.Errorf("%w: row %d value %q", ErrUnknownLevel, row+1, col.Raw[row])
			}
			index[row] = idx
		}
		return &Factor{name: col.Name, levels: levels, index: index}, nil
	}

	for row, cell := range col.Raw {
		idx, ok := levels.byCode[cell]
		if !ok {
			return nil, fmt.Errorf("%w: row %d value %q", ErrUnknownLevel, row+1, cell)
		}
		index[row] = idx
	}
	return &Factor{name: col.Name, levels: levels, index: index}, nil
}

// Factorize converts a column into a factor whose levels are its distinct
// values in sorted order (numeric order for numeric columns). Labels equal the
// codes.
func Factorize(t *Table, name string) (*Table, error) {
	col, err := t.lookup(name)
	if err != nil {
		return nil, err
	}
	if col.Kind == KindFactor {
		return t, nil
	}

	var codes []string
	if col.Kind.Numeric() {
		seen := make(map[float64]string)
		for i, v := range col.Numbers {
			if _, ok := seen[v]; !ok {
				seen[v] = col.Raw[i]
			}
		}
		values := make([]float64, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		sort.Float64s(values)
		for _, v := range values {
			codes = append(codes, seen[v])
		}
	} else {
		seen := make(map[string]bool)
		for _, cell := range col.Raw {
			if !seen[cell] {
				seen[cell] = true
				codes = append(codes, cell)
			}
		}
		sort.Strings(codes)
	}

	return Normalize(t, map[string]Mapping{name: {Codes: codes, Labels: codes}})
}
