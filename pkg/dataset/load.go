package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Options controls how delimited input is parsed.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune
	// Comment, if non-zero, marks lines to skip.
	Comment rune
}

// DefaultOptions returns comma-separated parsing without comments.
func DefaultOptions() Options {
	return Options{Comma: ','}
}

// Load reads a delimited file with a header row into a Table.
func Load(path string, opts Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	defer f.Close()

	t, err := Read(f, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return t, nil
}

// Read parses delimited input with a header row into a Table, inferring each
// column's kind from its cells.
func Read(r io.Reader, opts Options) (*Table, error) {
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.Comment = opts.Comment
	cr.FieldsPerRecord = 0
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &FormatError{Reason: "missing header row"}
	}
	if err != nil {
		return nil, readError(err)
	}

	names := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			return nil, &FormatError{Line: 1, Reason: fmt.Sprintf("empty column name at position %d", i+1)}
		}
		if seen[name] {
			return nil, &FormatError{Line: 1, Reason: fmt.Sprintf("duplicate column name %q", name)}
		}
		seen[name] = true
		names[i] = name
	}

	raw := make([][]string, len(names))
	var lines []int
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readError(err)
		}
		line, _ := cr.FieldPos(0)
		lines = append(lines, line)
		for i, cell := range record {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				return nil, &FormatError{Line: line, Reason: fmt.Sprintf("empty value in column %q", names[i])}
			}
			raw[i] = append(raw[i], cell)
		}
	}

	rows := len(raw[0])
	if rows == 0 {
		return nil, &FormatError{Reason: "no data rows"}
	}

	columns := make([]*Column, len(names))
	for i, name := range names {
		if columns[i], err = inferColumn(name, raw[i], lines); err != nil {
			return nil, err
		}
	}
	return newTable(columns, rows), nil
}

func readError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &FormatError{Line: pe.Line, Reason: pe.Err.Error()}
	}
	return fmt.Errorf("%w: %w", ErrUnreadable, err)
}

// inferColumn picks the narrowest kind every cell parses as. A numeric
// column may not hold NaN or infinities.
func inferColumn(name string, cells []string, lines []int) (*Column, error) {
	col := &Column{Name: name, Kind: KindInteger, Raw: cells}
	numbers := make([]float64, len(cells))
	nonFinite := -1
	for i, cell := range cells {
		if col.Kind == KindInteger {
			if v, err := strconv.ParseInt(cell, 10, 64); err == nil {
				numbers[i] = float64(v)
				continue
			}
			col.Kind = KindFloat
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			col.Kind = KindString
			return col, nil
		}
		if nonFinite < 0 && (math.IsNaN(v) || math.IsInf(v, 0)) {
			nonFinite = i
		}
		numbers[i] = v
	}
	if nonFinite >= 0 {
		return nil, &FormatError{
			Line:   lines[nonFinite],
			Reason: fmt.Sprintf("non-finite value %q in numeric column %q", cells[nonFinite], name),
		}
	}
	col.Numbers = numbers
	return col, nil
}
