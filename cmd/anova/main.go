package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/example/twoway-anova/evaluation"
	"github.com/example/twoway-anova/pkg/cache"
	"github.com/example/twoway-anova/pkg/config"
	"github.com/example/twoway-anova/pkg/metrics"
)

var (
	verbose    bool
	noCache    bool
	configPath string
	outDir     string
	formula    string
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "anova",
	Short: "Two-way analysis of variance walkthrough",
	Long: `anova explores a dataset with one numeric response and two categorical
factors, fits additive and interaction two-way ANOVA models with sequential
(Type I) sums of squares and checks the normality and equal-variance
assumptions of the fitted model.

Settings come from a YAML file (--config, default anova.yaml) with ANOVA_*
environment overrides. A dataset path given on the command line replaces
data.path.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(cfg.GetLogLevel())
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run [data.csv]",
	Short: "Run the full walkthrough",
	Long: `Loads and normalises the dataset, prints its summaries, fits every
configured model, compares nested models, checks the assumptions of the last
model and writes the charts and report.json to the output directory.

Reports are cached by a fingerprint of the dataset and the analysis settings;
a cached report is printed without refitting or redrawing charts.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWalkthrough,
}

var summaryCmd = &cobra.Command{
	Use:   "summary [data.csv]",
	Short: "Print the descriptive summaries of a dataset",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSummary,
}

var fitCmd = &cobra.Command{
	Use:   "fit [data.csv]",
	Short: "Fit models and print their ANOVA tables",
	Long: `Fits --formula, or every configured model when no formula is given, and
prints the sequential ANOVA table and coefficients of each.

Example:
  anova fit marks.csv --formula "marks ~ course * qual"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFit,
}

var checkCmd = &cobra.Command{
	Use:   "check [data.csv]",
	Short: "Test the normality and equal-variance assumptions of a model",
	Long: `Fits --formula, or the last configured model when no formula is given,
and runs the Shapiro-Wilk test on its residuals and Levene's test across its
cells.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to --config",
	RunE:  runInit,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "Do not read or write the report cache")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "anova.yaml", "Configuration file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	runCmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory for charts and report.json (default: output.dir)")
	fitCmd.Flags().StringVarP(&formula, "formula", "f", "", `Model formula, e.g. "marks ~ course * qual"`)
	checkCmd.Flags().StringVarP(&formula, "formula", "f", "", `Model formula, e.g. "marks ~ course * qual"`)
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":9090", "Listen address")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(fitCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyArgs folds the positional dataset path and the command flags into the
// loaded configuration and validates the result.
func applyArgs(args []string) error {
	if len(args) == 1 {
		cfg.Data.Path = args[0]
	}
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if formula != "" {
		cfg.Models = []string{formula}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// openCache returns the configured report cache and a function releasing it.
func openCache(ctx context.Context) (cache.ReportCache, func()) {
	if noCache || !cfg.Cache.Enabled {
		return cache.Nop{}, func() {}
	}
	if cfg.Cache.RedisAddr == "" {
		return cache.NewMemoryCache(), func() {}
	}
	c := cache.Open(ctx, logger, cache.RedisOptions{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		Prefix:   cfg.Cache.Prefix,
		TTL:      cfg.GetCacheTTL(),
	})
	return c, func() {
		if closer, ok := c.(io.Closer); ok {
			_ = closer.Close()
		}
	}
}

// newAnalyzer wires an analyzer with a fresh metrics registry.
func newAnalyzer(c cache.ReportCache, withStore bool) (*evaluation.Analyzer, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	var store evaluation.ArtifactStore
	if withStore {
		store = evaluation.NewFileSystemArtifactStore(logger, cfg.Output.Dir)
	}
	return evaluation.NewAnalyzer(logger, cfg, c, metrics.New(reg), store), reg
}

// exportMetrics writes the textfile when one is configured. Failures are
// logged, never fatal.
func exportMetrics(reg prometheus.Gatherer) {
	if cfg.Metrics.Textfile == "" {
		return
	}
	if err := metrics.WriteTextfile(cfg.Metrics.Textfile, reg); err != nil {
		logger.Warn("Failed to export metrics", zap.Error(err))
	}
}
