package dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreadable is returned when the input file cannot be opened or read.
	ErrUnreadable = errors.New("dataset unreadable")
	// ErrFormat is returned when the delimited input is malformed.
	ErrFormat = errors.New("malformed dataset")
	// ErrInvalidMapping is returned when a code→label mapping breaks its contract.
	ErrInvalidMapping = errors.New("invalid level mapping")
	// ErrUnknownLevel is returned when a cell matches none of the mapped codes.
	ErrUnknownLevel = errors.New("value matches no level code")
	// ErrUnknownColumn is returned for lookups of a column the table does not have.
	ErrUnknownColumn = errors.New("unknown column")
)

// FormatError describes a malformed line of the input.
type FormatError struct {
	Line   int    // 1-based line number in the input, 0 when not line specific
	Reason string // What is wrong with the line
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed dataset: line %d: %s", e.Line, e.Reason)
	}
	return "malformed dataset: " + e.Reason
}

// Unwrap lets errors.Is match ErrFormat.
func (e *FormatError) Unwrap() error {
	return ErrFormat
}

func unknownColumn(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownColumn, name)
}
