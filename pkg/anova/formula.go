package anova

import (
	"fmt"
	"sort"
	"strings"
)

// Term is one model term: a single factor is a main effect, several factors
// form their interaction.
type Term struct {
	Factors []string `json:"factors"`
}

// Name renders the term the way ANOVA tables label it, e.g. "course:qual".
func (t Term) Name() string {
	return strings.Join(t.Factors, ":")
}

// Order is the number of factors in the term.
func (t Term) Order() int {
	return len(t.Factors)
}

func (t Term) key() string {
	sorted := append([]string(nil), t.Factors...)
	sort.Strings(sorted)
	return strings.Join(sorted, ":")
}

// Formula is a response with an ordered list of terms. The order of Terms is
// the order of the sequential sums of squares.
type Formula struct {
	Response string `json:"response"`
	Terms    []Term `json:"terms"`
}

// Additive returns response ~ a + b.
func Additive(response, a, b string) Formula {
	return Formula{
		Response: response,
		Terms:    []Term{{Factors: []string{a}}, {Factors: []string{b}}},
	}
}

// Interaction returns response ~ a + b + a:b.
func Interaction(response, a, b string) Formula {
	f := Additive(response, a, b)
	f.Terms = append(f.Terms, Term{Factors: []string{a, b}})
	return f
}

// String renders the formula in expanded form.
func (f Formula) String() string {
	names := make([]string, len(f.Terms))
	for i, t := range f.Terms {
		names[i] = t.Name()
	}
	return f.Response + " ~ " + strings.Join(names, " + ")
}

// Factors returns the distinct factors of the formula in order of first use.
func (f Formula) Factors() []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range f.Terms {
		for _, name := range t.Factors {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// Contains reports whether the formula has a term over the same factors as t.
func (f Formula) Contains(t Term) bool {
	for _, term := range f.Terms {
		if term.key() == t.key() {
			return true
		}
	}
	return false
}

// ParseFormula parses "y ~ a + b", "y ~ a + b + a:b" and "y ~ a * b".
// A crossing a*b expands to all main effects and interactions of its
// factors. Terms are ordered by degree, keeping their written order within a
// degree, and duplicates are dropped.
func ParseFormula(s string) (Formula, error) {
	lhs, rhs, ok := strings.Cut(s, "~")
	if !ok {
		return Formula{}, fmt.Errorf("formula %q: missing '~'", s)
	}
	response := strings.TrimSpace(lhs)
	if !isIdent(response) {
		return Formula{}, fmt.Errorf("formula %q: invalid response %q", s, response)
	}

	var terms []Term
	seen := make(map[string]bool)
	add := func(t Term) {
		if !seen[t.key()] {
			seen[t.key()] = true
			terms = append(terms, t)
		}
	}

	for _, piece := range strings.Split(rhs, "+") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			return Formula{}, fmt.Errorf("formula %q: empty term", s)
		}
		switch {
		case strings.Contains(piece, "*"):
			factors, err := splitFactors(piece, "*")
			if err != nil {
				return Formula{}, fmt.Errorf("formula %q: %w", s, err)
			}
			for _, t := range crossing(factors) {
				add(t)
			}
		default:
			factors, err := splitFactors(piece, ":")
			if err != nil {
				return Formula{}, fmt.Errorf("formula %q: %w", s, err)
			}
			add(Term{Factors: factors})
		}
	}

	sort.SliceStable(terms, func(i, j int) bool {
		return terms[i].Order() < terms[j].Order()
	})
	f := Formula{Response: response, Terms: terms}
	if err := f.checkMarginality(); err != nil {
		return Formula{}, fmt.Errorf("formula %q: %w", s, err)
	}
	return f, nil
}

// checkMarginality requires every lower-order term of an interaction to come
// before it, e.g. a and b before a:b.
func (f Formula) checkMarginality() error {
	seen := make(map[string]bool, len(f.Terms))
	for _, t := range f.Terms {
		if t.Order() > 1 {
			for _, sub := range crossing(t.Factors) {
				if sub.Order() < t.Order() && !seen[sub.key()] {
					return fmt.Errorf("%w: %s needs %s listed before it", ErrNotHierarchical, t.Name(), sub.Name())
				}
			}
		}
		seen[t.key()] = true
	}
	return nil
}

func splitFactors(piece, sep string) ([]string, error) {
	parts := strings.Split(piece, sep)
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if !isIdent(p) {
			return nil, fmt.Errorf("invalid factor name %q in %q", p, piece)
		}
		if seen[p] {
			return nil, fmt.Errorf("factor %q repeated in %q", p, piece)
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

// crossing expands factors into every non-empty subset, ordered by size and
// then by position.
func crossing(factors []string) []Term {
	var out []Term
	n := len(factors)
	for size := 1; size <= n; size++ {
		for mask := 1; mask < 1<<n; mask++ {
			if popcount(mask) != size {
				continue
			}
			var t Term
			for i := 0; i < n; i++ {
				if mask&(1<<i) != 0 {
					t.Factors = append(t.Factors, factors[i])
				}
			}
			out = append(out, t)
		}
	}
	return out
}

func popcount(x int) int {
	n := 0
	for ; x != 0; x &= x - 1 {
		n++
	}
	return n
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r == '.' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
