// Package config loads the analysis settings from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/example/twoway-anova/pkg/anova"
	"github.com/example/twoway-anova/pkg/dataset"
	"github.com/example/twoway-anova/pkg/diagnostics"
	"github.com/example/twoway-anova/pkg/render"
)

// Config holds all analysis settings.
type Config struct {
	// Input dataset
	Data DataConfig `yaml:"data"`

	// Formulas fitted in order; nested pairs are compared
	Models []string `yaml:"models"`

	// Group mean intervals
	Bootstrap BootstrapConfig `yaml:"bootstrap"`

	// Assumption checks
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`

	// Charts and report files
	Output OutputConfig `yaml:"output"`

	// Report cache
	Cache CacheConfig `yaml:"cache"`

	// Metrics export
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DataConfig describes the input table.
type DataConfig struct {
	Path      string         `yaml:"path"`
	Delimiter string         `yaml:"delimiter"`
	Response  string         `yaml:"response"`
	Factors   []FactorConfig `yaml:"factors"` // first factor goes on the x axis of mean plots
}

// FactorConfig turns one column into a factor. Without codes the column's
// distinct values become the levels.
type FactorConfig struct {
	Column string   `yaml:"column"`
	Codes  []string `yaml:"codes,omitempty"`
	Labels []string `yaml:"labels,omitempty"`
}

// BootstrapConfig configures bootstrap confidence intervals.
type BootstrapConfig struct {
	Resamples  int     `yaml:"resamples"`
	Confidence float64 `yaml:"confidence"`
	Seed       uint64  `yaml:"seed"`
}

// DiagnosticsConfig configures the assumption tests.
type DiagnosticsConfig struct {
	Alpha        float64 `yaml:"alpha"`
	LeveneCenter string  `yaml:"levene_center"` // median, mean
}

// OutputConfig configures written artifacts.
type OutputConfig struct {
	Dir         string `yaml:"dir"`
	ChartFormat string `yaml:"chart_format"` // png, svg
	Charts      bool   `yaml:"charts"`
}

// CacheConfig configures the report cache.
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RedisAddr string `yaml:"redis_addr"` // empty keeps reports in memory
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Prefix    string `yaml:"prefix"`
	TTL       string `yaml:"ttl"`
}

// MetricsConfig configures metrics export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // node exporter textfile path, empty disables
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the settings of the course/qualification walkthrough.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Path:      "marks.csv",
			Delimiter: ",",
			Response:  "marks",
			Factors: []FactorConfig{
				{Column: "course", Codes: []string{"1", "2", "3"}, Labels: []string{"Arts", "Science", "Commerce"}},
				{Column: "qual", Codes: []string{"1", "2"}, Labels: []string{"Graduate", "Postgraduate"}},
			},
		},
		Models: []string{
			"marks ~ course + qual",
			"marks ~ course * qual",
		},
		Bootstrap: BootstrapConfig{
			Resamples:  1000,
			Confidence: 0.95,
			Seed:       1,
		},
		Diagnostics: DiagnosticsConfig{
			Alpha:        0.05,
			LeveneCenter: string(diagnostics.CenterMedian),
		},
		Output: OutputConfig{
			Dir:         "anova-output",
			ChartFormat: string(render.FormatPNG),
			Charts:      true,
		},
		Cache: CacheConfig{
			Enabled: true,
			Prefix:  "anova:report:",
			TTL:     "24h",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("ANOVA_DATA"); path != "" {
		c.Data.Path = path
	}
	if dir := os.Getenv("ANOVA_OUTPUT_DIR"); dir != "" {
		c.Output.Dir = dir
	}
	if addr := os.Getenv("ANOVA_REDIS_ADDR"); addr != "" {
		c.Cache.RedisAddr = addr
	}
	if level := os.Getenv("ANOVA_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if path := os.Getenv("ANOVA_METRICS_TEXTFILE"); path != "" {
		c.Metrics.Textfile = path
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Data.Response == "" {
		return fmt.Errorf("data.response is required")
	}
	if len(c.Data.Factors) != 2 {
		return fmt.Errorf("two-way analysis needs exactly two factors, got %d", len(c.Data.Factors))
	}
	if c.Data.Factors[0].Column == c.Data.Factors[1].Column {
		return fmt.Errorf("factors must name different columns, both are %q", c.Data.Factors[0].Column)
	}
	if len([]rune(c.Data.Delimiter)) != 1 {
		return fmt.Errorf("data.delimiter must be a single character, got %q", c.Data.Delimiter)
	}
	for _, f := range c.Data.Factors {
		if f.Column == "" {
			return fmt.Errorf("factor column name is required")
		}
		if len(f.Codes) > 0 || len(f.Labels) > 0 {
			if err := (dataset.Mapping{Codes: f.Codes, Labels: f.Labels}).Validate(); err != nil {
				return fmt.Errorf("factor %q: %w", f.Column, err)
			}
		}
	}

	if _, err := c.Formulas(); err != nil {
		return err
	}

	if c.Bootstrap.Resamples <= 0 {
		return fmt.Errorf("bootstrap.resamples must be positive, got %d", c.Bootstrap.Resamples)
	}
	if c.Bootstrap.Confidence <= 0 || c.Bootstrap.Confidence >= 1 {
		return fmt.Errorf("bootstrap.confidence must be in (0, 1), got %g", c.Bootstrap.Confidence)
	}
	if c.Diagnostics.Alpha <= 0 || c.Diagnostics.Alpha >= 1 {
		return fmt.Errorf("diagnostics.alpha must be in (0, 1), got %g", c.Diagnostics.Alpha)
	}
	switch diagnostics.Center(c.Diagnostics.LeveneCenter) {
	case diagnostics.CenterMedian, diagnostics.CenterMean:
	default:
		return fmt.Errorf("invalid diagnostics.levene_center: %s (valid: median, mean)", c.Diagnostics.LeveneCenter)
	}
	if _, err := render.ParseFormat(c.Output.ChartFormat); err != nil {
		return fmt.Errorf("invalid output.chart_format: %w", err)
	}
	if _, err := time.ParseDuration(c.Cache.TTL); c.Cache.TTL != "" && err != nil {
		return fmt.Errorf("invalid cache.ttl: %w", err)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}
	return nil
}

// Formulas parses the configured models and checks they only use the
// configured response and factors.
func (c *Config) Formulas() ([]anova.Formula, error) {
	if len(c.Models) == 0 {
		return nil, fmt.Errorf("at least one model is required")
	}
	known := make(map[string]bool, len(c.Data.Factors))
	for _, f := range c.Data.Factors {
		known[f.Column] = true
	}

	out := make([]anova.Formula, 0, len(c.Models))
	for _, m := range c.Models {
		f, err := anova.ParseFormula(m)
		if err != nil {
			return nil, fmt.Errorf("invalid model: %w", err)
		}
		if f.Response != c.Data.Response {
			return nil, fmt.Errorf("model %q: response must be %q", m, c.Data.Response)
		}
		for _, name := range f.Factors() {
			if !known[name] {
				return nil, fmt.Errorf("model %q: %q is not a configured factor", m, name)
			}
		}
		out = append(out, f)
	}
	return out, nil
}

// Mappings returns the explicit code mappings by column.
func (c *Config) Mappings() map[string]dataset.Mapping {
	out := make(map[string]dataset.Mapping)
	for _, f := range c.Data.Factors {
		if len(f.Codes) > 0 {
			out[f.Column] = dataset.Mapping{Codes: f.Codes, Labels: f.Labels}
		}
	}
	return out
}

// FactorNames returns the factor columns in configured order.
func (c *Config) FactorNames() []string {
	out := make([]string, len(c.Data.Factors))
	for i, f := range c.Data.Factors {
		out[i] = f.Column
	}
	return out
}

// DelimiterRune returns the field delimiter.
func (c *Config) DelimiterRune() rune {
	for _, r := range c.Data.Delimiter {
		return r
	}
	return ','
}

// GetCacheTTL returns the cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// GetLogLevel returns the configured log level, info when unparsable.
func (c *Config) GetLogLevel() zapcore.Level {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// AnalysisKey serialises every setting that changes the report, for use in
// cache fingerprints. Paths, cache and logging settings are excluded.
func (c *Config) AnalysisKey() string {
	key := struct {
		Delimiter   string            `yaml:"delimiter"`
		Response    string            `yaml:"response"`
		Factors     []FactorConfig    `yaml:"factors"`
		Models      []string          `yaml:"models"`
		Bootstrap   BootstrapConfig   `yaml:"bootstrap"`
		Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	}{c.Data.Delimiter, c.Data.Response, c.Data.Factors, c.Models, c.Bootstrap, c.Diagnostics}
	data, err := yaml.Marshal(key)
	if err != nil {
		return ""
	}
	return string(data)
}
