package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/twoway-anova/evaluation"
	"github.com/example/twoway-anova/pkg/anova"
	"github.com/example/twoway-anova/pkg/cache"
	"github.com/example/twoway-anova/pkg/config"
	"github.com/example/twoway-anova/pkg/render"
)

func runWalkthrough(cmd *cobra.Command, args []string) error {
	if err := applyArgs(args); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c, release := openCache(ctx)
	defer release()
	analyzer, reg := newAnalyzer(c, true)
	defer exportMetrics(reg)

	result, err := analyzer.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	report := result.Report
	if result.Cached {
		fmt.Fprintf(out, "Using cached report from run %s\n\n", report.CachedFrom)
	}
	printSummary(out, report.Summary, report.Dataset.Response)
	for _, mr := range report.Models {
		printModel(out, mr.Model, mr.Interpretation)
	}
	for _, comparison := range report.Comparisons {
		fmt.Fprintln(out, render.Comparison("Model comparison", comparison))
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, render.Tests("Assumptions of "+report.CheckedModel, report.Assumptions))
	fmt.Fprintln(out)
	printList(out, "Warnings", report.Warnings)
	printList(out, "Recommendations", report.Recommendations)
	if len(result.Artifacts) > 0 {
		paths := make([]string, len(result.Artifacts))
		for i, a := range result.Artifacts {
			paths[i] = a.Path
		}
		printList(out, "Written", paths)
	}
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	if err := applyArgs(args); err != nil {
		return err
	}
	analyzer, reg := newAnalyzer(cache.Nop{}, false)
	defer exportMetrics(reg)

	p, err := analyzer.Prepare(cmd.Context())
	if err != nil {
		return err
	}
	s, err := analyzer.Summarize(p)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), s, cfg.Data.Response)
	return nil
}

func runFit(cmd *cobra.Command, args []string) error {
	if err := applyArgs(args); err != nil {
		return err
	}
	formulas, err := cfg.Formulas()
	if err != nil {
		return err
	}
	analyzer, reg := newAnalyzer(cache.Nop{}, false)
	defer exportMetrics(reg)

	p, err := analyzer.Prepare(cmd.Context())
	if err != nil {
		return err
	}
	models, comparisons, err := analyzer.FitModels(p, formulas)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, m := range models {
		printModel(out, m, evaluation.InterpretModel(m, cfg.Diagnostics.Alpha))
	}
	for _, comparison := range comparisons {
		fmt.Fprintln(out, render.Comparison("Model comparison", comparison))
		fmt.Fprintln(out)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := applyArgs(args); err != nil {
		return err
	}
	formulas, err := cfg.Formulas()
	if err != nil {
		return err
	}
	analyzer, reg := newAnalyzer(cache.Nop{}, false)
	defer exportMetrics(reg)

	p, err := analyzer.Prepare(cmd.Context())
	if err != nil {
		return err
	}
	models, _, err := analyzer.FitModels(p, formulas[len(formulas)-1:])
	if err != nil {
		return err
	}
	assessment, err := analyzer.Check(models[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, render.Tests("Assumptions of "+models[0].Formula.String(), assessment))
	fmt.Fprintln(out)
	for _, v := range assessment.Verdicts {
		fmt.Fprintf(out, "%s: %s\n", v.Assumption, v.Message)
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}
	if err := config.DefaultConfig().Save(configPath); err != nil {
		return err
	}
	logger.Info("Wrote default configuration", zap.String("path", configPath))
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
	return nil
}

func printSummary(out io.Writer, s *evaluation.Summary, response string) {
	fmt.Fprintln(out, render.Columns("Columns", s.Columns))
	fmt.Fprintln(out)
	fmt.Fprintln(out, render.Describe("Response", response, s.Response))
	fmt.Fprintln(out)
	for _, fs := range s.ByFactor {
		fmt.Fprintln(out, render.DescribeBy(response+" by "+fs.Factor, fs.Factor, fs.Groups))
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, render.CrossTab("Observations per cell", s.CrossTab))
	fmt.Fprintln(out)
	fmt.Fprintln(out, render.GroupMeans("Cell means", s.CellMeans))
	fmt.Fprintln(out)
}

func printModel(out io.Writer, m *anova.Model, interpretation []string) {
	fmt.Fprintln(out, render.AnovaTable("ANOVA: "+m.Formula.String(), m.Table))
	fmt.Fprintln(out)
	fmt.Fprintln(out, render.Coefficients("", m))
	fmt.Fprintln(out)
	printList(out, "", interpretation)
}

func printList(out io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	if title != "" {
		fmt.Fprintln(out, title+":")
	}
	for _, item := range items {
		fmt.Fprintln(out, "  - "+strings.TrimSpace(item))
	}
	fmt.Fprintln(out)
}
