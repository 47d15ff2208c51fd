package evaluation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/example/twoway-anova/pkg/anova"
	"github.com/example/twoway-anova/pkg/diagnostics"
	"github.com/example/twoway-anova/pkg/explore"
	"github.com/example/twoway-anova/pkg/summary"
)

// Report represents the complete result of one walkthrough
type Report struct {
	RunID           string                  `json:"runId"`                // Run ID
	CachedFrom      string                  `json:"cachedFrom,omitempty"` // Run whose statistics were reused
	StartedAt       time.Time               `json:"startedAt"`            // Run start
	CompletedAt     time.Time               `json:"completedAt"`          // Run end
	Dataset         DatasetInfo             `json:"dataset"`              // Input description
	Environment     Environment             `json:"environment"`          // Runtime and seed settings
	Summary         *Summary                `json:"summary"`              // Descriptive statistics
	Models          []ModelReport           `json:"models"`               // Fitted models in configured order
	Comparisons     []anova.Comparison      `json:"comparisons"`          // Nested model F tests
	Assumptions     *diagnostics.Assessment `json:"assumptions"`          // Checks of the final model
	CheckedModel    string                  `json:"checkedModel"`         // Formula whose assumptions were checked
	Warnings        []string                `json:"warnings"`             // Analysis warnings
	Recommendations []string                `json:"recommendations"`      // Plain-language next steps
}

// DatasetInfo describes the analysed table
type DatasetInfo struct {
	Path         string   `json:"path"`         // Source file
	Fingerprint  string   `json:"fingerprint"`  // Hash of the file and the analysis settings
	Observations int      `json:"observations"` // Number of rows
	Response     string   `json:"response"`     // Response column
	Factors      []string `json:"factors"`      // Factor columns in configured order
}

// Summary holds the descriptive statistics of the prepared table
type Summary struct {
	Columns    []summary.ColumnSummary  `json:"columns"`    // Per-column overview
	Response   summary.DescriptiveStats `json:"response"`   // Response summary
	ByFactor   []FactorSummary          `json:"byFactor"`   // Response summary per level, per factor
	CrossTab   summary.CrossTab         `json:"crossTab"`   // Observations per cell
	Balanced   bool                     `json:"balanced"`   // All cells have the same count
	CellMeans  []explore.GroupMean      `json:"cellMeans"`  // Means per factor combination
	EmptyCells []string                 `json:"emptyCells"` // Combinations without observations
}

// FactorSummary is the response summary and marginal means of one factor
type FactorSummary struct {
	Factor string               `json:"factor"` // Factor name
	Groups []summary.GroupStats `json:"groups"` // Per-level statistics
	Means  []explore.GroupMean  `json:"means"`  // Per-level means with intervals
}

// ModelReport is one fitted model with its interpretation
type ModelReport struct {
	Formula        string       `json:"formula"`        // Expanded formula
	Model          *anova.Model `json:"model"`          // Fit and ANOVA table
	Interpretation []string     `json:"interpretation"` // One sentence per term
}

// InterpretModel explains every term of an ANOVA table at level alpha.
func InterpretModel(m *anova.Model, alpha float64) []string {
	var out []string
	for _, r := range m.Table.Rows {
		if r.Term == anova.ResidualTerm || math.IsNaN(r.PValue) {
			continue
		}
		verdict := "not significant"
		if r.PValue < alpha {
			verdict = "significant"
		}
		kind := "main effect of " + r.Term
		if isInteraction(r.Term) {
			kind = r.Term + " interaction"
		}
		out = append(out, fmt.Sprintf("The %s is %s at the %g level (F(%d, %d) = %.3f, p = %.4g, eta² = %.3f)",
			kind, verdict, alpha, r.DF, m.ResidualDF, r.F, r.PValue, r.EtaSq))
	}
	return out
}

func isInteraction(term string) bool {
	return strings.Contains(term, ":")
}

// generateRecommendations turns the fitted models, the model comparisons and
// the assumption checks into next steps.
func generateRecommendations(r *Report, alpha float64) []string {
	var recommendations []string

	var final *anova.Model
	if len(r.Models) > 0 {
		final = r.Models[len(r.Models)-1].Model
	}

	interaction := false
	if final != nil {
		for _, row := range final.Table.Rows {
			if isInteraction(row.Term) && row.PValue < alpha {
				interaction = true
				recommendations = append(recommendations,
					fmt.Sprintf("The %s interaction is significant: interpret main effects with care and compare cell means instead", row.Term))
			}
		}
	}

	for _, c := range r.Comparisons {
		if !interaction && c.PValue >= alpha {
			recommendations = append(recommendations,
				fmt.Sprintf("%s does not improve on %s (p = %.4g): prefer the simpler model", c.Full, c.Reduced, c.PValue))
		}
	}

	if r.Summary != nil && !r.Summary.Balanced {
		recommendations = append(recommendations,
			"The design is unbalanced: sequential sums of squares depend on term order, so check the conclusions with the terms reordered")
	}

	if a := r.Assumptions; a != nil {
		for _, v := range a.Verdicts {
			if v.Satisfied {
				continue
			}
			switch v.Assumption {
			case diagnostics.AssumptionNormality:
				recommendations = append(recommendations,
					"Residuals depart from normality: consider transforming the response or a rank-based test")
			case diagnostics.AssumptionHomogeneity:
				recommendations = append(recommendations,
					"Variances differ across cells: consider a variance-stabilising transformation or a heteroscedasticity-robust test")
			}
		}
	}

	if len(recommendations) == 0 {
		recommendations = append(recommendations,
			"Model assumptions hold and no design issues were found: the F tests can be reported as they are")
	}
	return recommendations
}
