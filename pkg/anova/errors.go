package anova

import (
	"errors"
	"fmt"
)

var (
	// ErrRankDeficient is returned when the design matrix implied by a formula
	// is not of full column rank, so some effects are not estimable.
	ErrRankDeficient = errors.New("rank-deficient design")
	// ErrPerfectFit is returned when the model leaves no residual variance and
	// F statistics are undefined.
	ErrPerfectFit = errors.New("essentially perfect fit: residual variance is zero")
	// ErrNotHierarchical is returned for a formula with an interaction whose
	// lower-order terms are missing. Treatment coding of such a term is not
	// the model the formula names.
	ErrNotHierarchical = errors.New("interaction without its marginal terms")
)

// RankDeficiencyError explains why a design is not estimable.
type RankDeficiencyError struct {
	Term   string // Term whose columns are not estimable, empty when not term specific
	Cell   string // Factor-level combination without observations, if any
	Reason string // Human readable cause
}

func (e *RankDeficiencyError) Error() string {
	msg := "rank-deficient design"
	if e.Term != "" {
		msg += fmt.Sprintf(": term %q", e.Term)
	}
	if e.Cell != "" {
		msg += fmt.Sprintf(": cell %q", e.Cell)
	}
	return msg + ": " + e.Reason
}

// Unwrap lets errors.Is match ErrRankDeficient.
func (e *RankDeficiencyError) Unwrap() error {
	return ErrRankDeficient
}
