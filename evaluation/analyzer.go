// Package evaluation runs the two-way ANOVA walkthrough end to end: it
// prepares the dataset, summarises it, fits and compares the configured
// models, checks their assumptions and persists the report and charts.
package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/twoway-anova/pkg/anova"
	"github.com/example/twoway-anova/pkg/cache"
	"github.com/example/twoway-anova/pkg/config"
	"github.com/example/twoway-anova/pkg/dataset"
	"github.com/example/twoway-anova/pkg/diagnostics"
	"github.com/example/twoway-anova/pkg/explore"
	"github.com/example/twoway-anova/pkg/metrics"
	"github.com/example/twoway-anova/pkg/render"
	"github.com/example/twoway-anova/pkg/summary"
)

// Pipeline stages, used as metric labels.
const (
	StageLoad      = "load"
	StageSummarize = "summarize"
	StageFit       = "fit"
	StageCheck     = "check"
	StageCharts    = "charts"
)

const reportFile = "report.json"

// Analyzer runs the walkthrough with one configuration
type Analyzer struct {
	logger  *zap.Logger
	config  *config.Config
	cache   cache.ReportCache
	metrics *metrics.Metrics
	store   ArtifactStore
}

// Result is the outcome of Run
type Result struct {
	Report    *Report     // Computed or cached report
	Cached    bool        // Report came from the cache
	Artifacts []*Artifact // Files written by this run
}

// Prepared is a loaded table with its factors ready for modelling
type Prepared struct {
	Table    *dataset.Table
	Response []float64
	Factors  []*dataset.Factor
	Raw      []byte // File contents, for fingerprinting
}

// NewAnalyzer creates an analyzer. A nil cache disables caching and a nil
// store disables artifact output.
func NewAnalyzer(logger *zap.Logger, cfg *config.Config, reportCache cache.ReportCache,
	m *metrics.Metrics, store ArtifactStore) *Analyzer {
	if reportCache == nil {
		reportCache = cache.Nop{}
	}
	return &Analyzer{
		logger:  logger,
		config:  cfg,
		cache:   reportCache,
		metrics: m,
		store:   store,
	}
}

// timed runs fn and records its duration under stage.
func (a *Analyzer) timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	if a.metrics != nil {
		a.metrics.ObserveStage(stage, time.Since(start))
	}
	return err
}

// Prepare loads the configured dataset and turns the factor columns into
// factors, relabelling coded columns with their mappings.
func (a *Analyzer) Prepare(ctx context.Context) (*Prepared, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var p *Prepared
	err := a.timed(StageLoad, func() error {
		raw, err := os.ReadFile(a.config.Data.Path)
		if err != nil {
			return fmt.Errorf("%w: %w", dataset.ErrUnreadable, err)
		}
		p, err = a.prepareBytes(raw)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %s: %w", a.config.Data.Path, err)
	}

	if a.metrics != nil {
		a.metrics.SetObservations(p.Table.Len())
	}
	a.logger.Info("Dataset prepared",
		zap.String("path", a.config.Data.Path),
		zap.Int("observations", p.Table.Len()),
		zap.Strings("factors", a.config.FactorNames()))
	return p, nil
}

func (a *Analyzer) prepareBytes(raw []byte) (*Prepared, error) {
	opts := dataset.DefaultOptions()
	opts.Comma = a.config.DelimiterRune()
	t, err := dataset.Read(bytes.NewReader(raw), opts)
	if err != nil {
		return nil, err
	}

	t, err = dataset.Normalize(t, a.config.Mappings())
	if err != nil {
		return nil, err
	}
	for _, name := range a.config.FactorNames() {
		if t, err = dataset.Factorize(t, name); err != nil {
			return nil, err
		}
	}

	y, err := t.Numeric(a.config.Data.Response)
	if err != nil {
		return nil, err
	}
	factors := make([]*dataset.Factor, 0, len(a.config.Data.Factors))
	for _, name := range a.config.FactorNames() {
		f, err := t.Factor(name)
		if err != nil {
			return nil, err
		}
		factors = append(factors, f)
	}
	return &Prepared{Table: t, Response: y, Factors: factors, Raw: raw}, nil
}

// Summarize computes the descriptive statistics, the cross-tabulation and
// the group means with bootstrap intervals.
func (a *Analyzer) Summarize(p *Prepared) (*Summary, error) {
	var s *Summary
	err := a.timed(StageSummarize, func() error {
		columns, err := summary.DescribeTable(p.Table)
		if err != nil {
			return err
		}
		ct, err := summary.CrossTabulate(p.Factors[0], p.Factors[1])
		if err != nil {
			return err
		}
		balanced, _ := ct.Balanced()

		b := a.bootstrapper()
		cellMeans, err := explore.GroupMeans(p.Response, p.Factors, b)
		if err != nil {
			return err
		}

		s = &Summary{
			Columns:   columns,
			Response:  summary.Describe(p.Response),
			CrossTab:  ct,
			Balanced:  balanced,
			CellMeans: cellMeans,
		}
		for _, cell := range ct.EmptyCells() {
			s.EmptyCells = append(s.EmptyCells, dataset.CellName(cell[0], cell[1]))
		}
		for _, f := range p.Factors {
			means, err := explore.GroupMeans(p.Response, []*dataset.Factor{f}, b)
			if err != nil {
				return err
			}
			s.ByFactor = append(s.ByFactor, FactorSummary{
				Factor: f.Name(),
				Groups: summary.DescribeBy(p.Response, f),
				Means:  means,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to summarize: %w", err)
	}
	return s, nil
}

// bootstrapper returns a fresh seeded bootstrapper so that each call
// reproduces the same intervals.
func (a *Analyzer) bootstrapper() *explore.Bootstrapper {
	bc := a.config.Bootstrap
	return explore.NewBootstrapper(bc.Resamples, bc.Confidence, bc.Seed)
}

// FitModels fits every formula in order and compares each model with every
// earlier model nested in it.
func (a *Analyzer) FitModels(p *Prepared, formulas []anova.Formula) ([]*anova.Model, []anova.Comparison, error) {
	var models []*anova.Model
	var comparisons []anova.Comparison
	err := a.timed(StageFit, func() error {
		for _, f := range formulas {
			m, err := anova.Fit(p.Table, f)
			if err != nil {
				return fmt.Errorf("failed to fit %s: %w", f.String(), err)
			}
			if a.metrics != nil {
				a.metrics.RecordModelFit()
			}
			a.logger.Debug("Model fitted",
				zap.String("formula", f.String()),
				zap.Float64("rSquared", m.RSquared),
				zap.Int("residualDf", m.ResidualDF))
			models = append(models, m)
		}

		for j := 1; j < len(models); j++ {
			for i := 0; i < j; i++ {
				c, err := anova.Compare(models[i], models[j])
				if err != nil {
					a.logger.Debug("Skipping model comparison",
						zap.String("reduced", models[i].Formula.String()),
						zap.String("full", models[j].Formula.String()),
						zap.Error(err))
					continue
				}
				comparisons = append(comparisons, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return models, comparisons, nil
}

// Check tests the assumptions of m.
func (a *Analyzer) Check(m *anova.Model) (*diagnostics.Assessment, error) {
	var assessment *diagnostics.Assessment
	err := a.timed(StageCheck, func() error {
		var err error
		assessment, err = diagnostics.Check(m, diagnostics.Options{
			Alpha:  a.config.Diagnostics.Alpha,
			Center: diagnostics.Center(a.config.Diagnostics.LeveneCenter),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check assumptions of %s: %w", m.Formula.String(), err)
	}
	return assessment, nil
}

// Run executes the whole walkthrough. A cached report for the same dataset
// and settings is returned without refitting and without redrawing charts.
func (a *Analyzer) Run(ctx context.Context) (*Result, error) {
	result, err := a.run(ctx)
	if a.metrics != nil {
		switch {
		case err != nil:
			a.metrics.RecordRun(metrics.ResultFailure)
		case result.Cached:
			a.metrics.RecordRun(metrics.ResultCached)
		default:
			a.metrics.RecordRun(metrics.ResultSuccess)
		}
	}
	return result, err
}

func (a *Analyzer) run(ctx context.Context) (*Result, error) {
	startedAt := time.Now().UTC()
	runID := uuid.New().String()
	a.logger.Info("Starting analysis",
		zap.String("runId", runID),
		zap.String("path", a.config.Data.Path),
		zap.Strings("models", a.config.Models))

	formulas, err := a.config.Formulas()
	if err != nil {
		return nil, err
	}

	p, err := a.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	fingerprint := cache.Fingerprint(p.Raw, a.config.AnalysisKey())

	if report, ok := a.lookup(ctx, fingerprint); ok {
		a.logger.Info("Using cached report",
			zap.String("runId", runID),
			zap.String("cachedRunId", report.RunID),
			zap.String("fingerprint", fingerprint))
		// The cached statistics are reused; the run metadata is this run's.
		report.CachedFrom = report.RunID
		report.RunID = runID
		report.StartedAt = startedAt
		report.CompletedAt = time.Now().UTC()
		report.Dataset.Path = a.config.Data.Path
		report.Environment = a.captureEnvironment()
		result := &Result{Report: report, Cached: true}
		if err := a.persistReport(ctx, runID, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	report := &Report{
		RunID:       runID,
		StartedAt:   startedAt,
		Environment: a.captureEnvironment(),
		Dataset: DatasetInfo{
			Path:         a.config.Data.Path,
			Fingerprint:  fingerprint,
			Observations: p.Table.Len(),
			Response:     a.config.Data.Response,
			Factors:      a.config.FactorNames(),
		},
	}

	if report.Summary, err = a.Summarize(p); err != nil {
		return nil, err
	}
	if len(report.Summary.EmptyCells) > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("No observations in cells %v: models with the interaction are not estimable", report.Summary.EmptyCells))
	}

	models, comparisons, err := a.FitModels(p, formulas)
	if err != nil {
		return nil, err
	}
	alpha := a.config.Diagnostics.Alpha
	for _, m := range models {
		report.Models = append(report.Models, ModelReport{
			Formula:        m.Formula.String(),
			Model:          m,
			Interpretation: InterpretModel(m, alpha),
		})
	}
	report.Comparisons = comparisons

	checked := models[len(models)-1]
	if report.Assumptions, err = a.Check(checked); err != nil {
		return nil, err
	}
	report.CheckedModel = checked.Formula.String()
	for _, v := range report.Assumptions.Verdicts {
		if !v.Satisfied {
			report.Warnings = append(report.Warnings, v.Message)
		}
	}

	report.Recommendations = generateRecommendations(report, alpha)
	report.CompletedAt = time.Now().UTC()

	result := &Result{Report: report}
	if a.config.Output.Charts {
		result.Artifacts = append(result.Artifacts, a.renderCharts(ctx, runID, report, checked)...)
	}
	if err := a.persistReport(ctx, runID, result); err != nil {
		return nil, err
	}
	a.remember(ctx, fingerprint, report)

	a.logger.Info("Analysis completed",
		zap.String("runId", runID),
		zap.Int("models", len(report.Models)),
		zap.Int("comparisons", len(report.Comparisons)),
		zap.Bool("assumptionsSatisfied", report.Assumptions.Satisfied()),
		zap.Duration("duration", report.CompletedAt.Sub(startedAt)))
	return result, nil
}

// lookup returns the cached report for fingerprint. Cache failures are
// logged and treated as a miss.
func (a *Analyzer) lookup(ctx context.Context, fingerprint string) (*Report, bool) {
	payload, err := a.cache.Get(ctx, fingerprint)
	switch {
	case errors.Is(err, cache.ErrMiss):
		a.recordCache(metrics.CacheMiss)
		return nil, false
	case err != nil:
		a.recordCache(metrics.CacheError)
		a.logger.Warn("Report cache lookup failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		return nil, false
	}

	var report Report
	if err := json.Unmarshal(payload, &report); err != nil {
		a.recordCache(metrics.CacheError)
		a.logger.Warn("Discarding undecodable cached report", zap.String("fingerprint", fingerprint), zap.Error(err))
		return nil, false
	}
	a.recordCache(metrics.CacheHit)
	return &report, true
}

func (a *Analyzer) remember(ctx context.Context, fingerprint string, report *Report) {
	payload, err := json.Marshal(report)
	if err != nil {
		a.logger.Warn("Failed to encode report for caching", zap.Error(err))
		return
	}
	if err := a.cache.Set(ctx, fingerprint, payload); err != nil {
		a.logger.Warn("Failed to cache report", zap.String("fingerprint", fingerprint), zap.Error(err))
	}
}

func (a *Analyzer) recordCache(outcome string) {
	if a.metrics != nil {
		a.metrics.RecordCache(outcome)
	}
}

func (a *Analyzer) persistReport(ctx context.Context, runID string, result *Result) error {
	if a.store == nil {
		return nil
	}
	payload, err := json.MarshalIndent(result.Report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	artifact, err := a.store.Store(ctx, runID, reportFile, ArtifactReport, payload)
	if err != nil {
		return fmt.Errorf("failed to store report: %w", err)
	}
	result.Artifacts = append(result.Artifacts, artifact)
	return nil
}

// renderCharts draws the mean plots and the diagnostic plots. A chart that
// fails to render is logged and skipped.
func (a *Analyzer) renderCharts(ctx context.Context, runID string, report *Report, checked *anova.Model) []*Artifact {
	if a.store == nil {
		return nil
	}
	format, err := render.ParseFormat(a.config.Output.ChartFormat)
	if err != nil {
		a.logger.Warn("Skipping charts", zap.Error(err))
		return nil
	}

	response := a.config.Data.Response
	factors := a.config.FactorNames()
	type chartJob struct {
		name string
		draw func(*bytes.Buffer) error
	}
	jobs := []chartJob{
		{
			name: fmt.Sprintf("means-%s-%s", factors[0], factors[1]),
			draw: func(buf *bytes.Buffer) error {
				return render.MeanPlot(buf, format, render.MeanPlotOptions{
					Title:    fmt.Sprintf("Mean %s by %s and %s", response, factors[0], factors[1]),
					Response: response,
					XFactor:  factors[0],
					Trace:    factors[1],
					Groups:   report.Summary.CellMeans,
				})
			},
		},
	}
	for _, fs := range report.Summary.ByFactor {
		fs := fs
		jobs = append(jobs, chartJob{
			name: "means-" + fs.Factor,
			draw: func(buf *bytes.Buffer) error {
				return render.MeanPlot(buf, format, render.MeanPlotOptions{
					Title:    fmt.Sprintf("Mean %s by %s", response, fs.Factor),
					Response: response,
					XFactor:  fs.Factor,
					Groups:   fs.Means,
				})
			},
		})
	}
	jobs = append(jobs,
		chartJob{
			name: "residuals",
			draw: func(buf *bytes.Buffer) error {
				return render.ResidualPlot(buf, format, "Residuals vs fitted: "+checked.Formula.String(),
					diagnostics.ResidualsVsFitted(checked))
			},
		},
		chartJob{
			name: "qq",
			draw: func(buf *bytes.Buffer) error {
				return render.QQPlot(buf, format, "Normal Q-Q: "+checked.Formula.String(), diagnostics.QQ(checked))
			},
		},
	)

	var artifacts []*Artifact
	_ = a.timed(StageCharts, func() error {
		for _, job := range jobs {
			var buf bytes.Buffer
			if err := job.draw(&buf); err != nil {
				a.logger.Warn("Chart rendering failed", zap.String("chart", job.name), zap.Error(err))
				continue
			}
			artifact, err := a.store.Store(ctx, runID, job.name+format.Extension(), ArtifactChart, buf.Bytes())
			if err != nil {
				a.logger.Warn("Failed to store chart", zap.String("chart", job.name), zap.Error(err))
				continue
			}
			artifacts = append(artifacts, artifact)
		}
		return nil
	})
	return artifacts
}
