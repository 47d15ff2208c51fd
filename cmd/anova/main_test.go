package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/twoway-anova/evaluation"
	"github.com/example/twoway-anova/pkg/cache"
	"github.com/example/twoway-anova/pkg/config"
)

const toothGrowthYAML = `
data:
  path: ../../testdata/toothgrowth.csv
  response: len
  factors:
    - column: supp
    - column: dose
models:
  - len ~ supp + dose
  - len ~ supp * dose
bootstrap:
  resamples: 200
output:
  charts: false
`

// execute runs the root command with fresh flag state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	verbose, noCache, outDir, formula = false, false, "", ""
	configPath = filepath.Join(t.TempDir(), "anova.yaml")
	timeout = time.Minute
	t.Setenv("ANOVA_LOG_LEVEL", "error")

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "anova.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "run", "../../testdata/marks.csv", "--out", dir, "--no-cache")
	require.NoError(t, err)

	assert.Contains(t, out, "ANOVA: marks ~ course + qual")
	assert.Contains(t, out, "ANOVA: marks ~ course + qual + course:qual")
	assert.Contains(t, out, "Commerce")
	assert.Contains(t, out, "Model comparison")
	assert.Contains(t, out, "Shapiro-Wilk")
	assert.Contains(t, out, "Recommendations:")
	assert.Contains(t, out, "interpret main effects with care")
	assert.NotContains(t, out, "Using cached report")

	for _, name := range []string{"report.json", "index.json", "means-course-qual.png", "qq.png", "residuals.png"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestRunCommandWritesMetricsTextfile(t *testing.T) {
	textfile := filepath.Join(t.TempDir(), "anova.prom")
	t.Setenv("ANOVA_METRICS_TEXTFILE", textfile)
	t.Setenv("ANOVA_OUTPUT_DIR", t.TempDir())

	_, err := execute(t, "run", "../../testdata/marks.csv")
	require.NoError(t, err)

	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `anova_runs_total{result="success"} 1`)
	assert.Contains(t, string(data), "anova_observations 300")
}

func TestSummaryCommand(t *testing.T) {
	out, err := execute(t, "summary", "../../testdata/marks.csv")
	require.NoError(t, err)
	assert.Contains(t, out, "Observations per cell")
	assert.Contains(t, out, "Arts")
	assert.Contains(t, out, "Postgraduate")
	assert.Contains(t, out, "Cell means")
	assert.NotContains(t, out, "ANOVA:")
}

func TestFitCommand(t *testing.T) {
	path := writeConfig(t, toothGrowthYAML)
	out, err := execute(t, "fit", "--config", path, "--formula", "len ~ supp * dose")
	require.NoError(t, err)

	assert.Contains(t, out, "ANOVA: len ~ supp + dose + supp:dose")
	assert.Contains(t, out, "15.5720")
	assert.Contains(t, out, "suppVC:dose2")
	assert.Contains(t, out, "supp:dose interaction is significant")
	assert.NotContains(t, out, "Model comparison")
}

func TestFitCommandAllModels(t *testing.T) {
	path := writeConfig(t, toothGrowthYAML)
	out, err := execute(t, "fit", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ANOVA: len ~ supp + dose + supp:dose")
	assert.Contains(t, out, "Model comparison")
	assert.Contains(t, out, "4.1070")
}

func TestFitCommandRejectsUnknownFactor(t *testing.T) {
	_, err := execute(t, "fit", "../../testdata/marks.csv", "--formula", "marks ~ gender")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a configured factor")
}

func TestFitCommandRejectsInteractionWithoutMainEffects(t *testing.T) {
	path := writeConfig(t, toothGrowthYAML)
	for _, f := range []string{"len ~ supp:dose", "len ~ supp + supp:dose"} {
		_, err := execute(t, "fit", "--config", path, "--formula", f)
		require.Error(t, err, f)
		assert.Contains(t, err.Error(), "interaction without its marginal terms", f)
	}
}

func TestCheckCommand(t *testing.T) {
	out, err := execute(t, "check", "../../testdata/marks.csv")
	require.NoError(t, err)
	assert.Contains(t, out, "Assumptions of marks ~ course + qual + course:qual")
	assert.Contains(t, out, "Levene (median)")
	assert.Contains(t, out, "normality: residuals are consistent with a normal distribution")
}

func TestMissingDataset(t *testing.T) {
	_, err := execute(t, "summary", filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset unreadable")
}

func TestInitCommand(t *testing.T) {
	_, err := execute(t, "init")
	require.NoError(t, err)

	loaded, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Models, loaded.Models)
	assert.Equal(t, config.DefaultConfig().Data.Factors, loaded.Data.Factors)

	_, err = execute(t, "init", "--config", configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestServeMux(t *testing.T) {
	var err error
	cfg, err = config.Load(writeConfig(t, toothGrowthYAML))
	require.NoError(t, err)
	cfg.Output.Dir = t.TempDir()
	require.NoError(t, cfg.Validate())
	logger = zap.NewNop()
	timeout = time.Minute

	analyzer, reg := newAnalyzer(cache.NewMemoryCache(), true)
	srv := httptest.NewServer(newServeMux(analyzer, reg))
	defer srv.Close()

	post := func() *http.Response {
		resp, err := http.Post(srv.URL+"/run", "application/json", nil)
		require.NoError(t, err)
		return resp
	}

	first := post()
	defer first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, "miss", first.Header.Get("X-Anova-Cache"))
	var report evaluation.Report
	require.NoError(t, json.NewDecoder(first.Body).Decode(&report))
	assert.Len(t, report.Models, 2)

	second := post()
	defer second.Body.Close()
	assert.Equal(t, "hit", second.Header.Get("X-Anova-Cache"))

	resp, err := http.Get(srv.URL + "/run")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `anova_runs_total{result="cached"} 1`)
	assert.Contains(t, string(body), `anova_runs_total{result="success"} 1`)
	assert.Contains(t, string(body), `anova_cache_requests_total{outcome="hit"} 1`)
}
