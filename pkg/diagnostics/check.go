package diagnostics

import (
	"fmt"

	"github.com/example/twoway-anova/pkg/anova"
)

// Assumption names a model assumption.
type Assumption string

const (
	AssumptionNormality   Assumption = "normality"
	AssumptionHomogeneity Assumption = "homogeneity"
)

// Options configures Check.
type Options struct {
	Alpha  float64 `json:"alpha" yaml:"alpha"`   // Significance level
	Center Center  `json:"center" yaml:"center"` // Levene centre
}

// DefaultOptions tests at the 5 % level with the median-centred Levene test.
func DefaultOptions() Options {
	return Options{Alpha: 0.05, Center: CenterMedian}
}

// Verdict is the outcome for one assumption.
type Verdict struct {
	Assumption Assumption `json:"assumption"` // Assumption checked
	Test       string     `json:"test"`       // Test used
	PValue     float64    `json:"pValue"`     // P-value of the test
	Alpha      float64    `json:"alpha"`      // Significance level
	Satisfied  bool       `json:"satisfied"`  // p >= alpha
	Message    string     `json:"message"`    // Interpretation
}

// Assessment holds both assumption tests of a fitted model.
type Assessment struct {
	Normality   NormalityTest   `json:"normality"`
	Homogeneity HomogeneityTest `json:"homogeneity"`
	Verdicts    []Verdict       `json:"verdicts"`
}

// Satisfied reports whether every assumption holds.
func (a *Assessment) Satisfied() bool {
	for _, v := range a.Verdicts {
		if !v.Satisfied {
			return false
		}
	}
	return true
}

// Check runs Shapiro-Wilk on the model residuals and Levene on the response
// across the cells of the model factors.
func Check(m *anova.Model, opts Options) (*Assessment, error) {
	if opts.Alpha <= 0 || opts.Alpha >= 1 {
		return nil, fmt.Errorf("alpha must be in (0, 1), got %g", opts.Alpha)
	}

	normality, err := ShapiroWilk(m.Residuals)
	if err != nil {
		return nil, fmt.Errorf("failed to test residual normality: %w", err)
	}
	homogeneity, err := Levene(m.Response, opts.Center, m.Factors...)
	if err != nil {
		return nil, fmt.Errorf("failed to test variance homogeneity: %w", err)
	}

	return &Assessment{
		Normality:   normality,
		Homogeneity: homogeneity,
		Verdicts: []Verdict{
			verdict(AssumptionNormality, normality.Method, normality.PValue, opts.Alpha,
				"residuals are consistent with a normal distribution",
				"residuals depart from normality"),
			verdict(AssumptionHomogeneity, homogeneity.Method, homogeneity.PValue, opts.Alpha,
				"variances are homogeneous across cells",
				"variances differ across cells"),
		},
	}, nil
}

func verdict(a Assumption, test string, p, alpha float64, ok, violated string) Verdict {
	v := Verdict{Assumption: a, Test: test, PValue: p, Alpha: alpha, Satisfied: p >= alpha}
	if v.Satisfied {
		v.Message = fmt.Sprintf("%s (p = %.4f >= %.2f)", ok, p, alpha)
	} else {
		v.Message = fmt.Sprintf("%s (p = %.4f < %.2f)", violated, p, alpha)
	}
	return v
}
