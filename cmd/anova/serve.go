package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/twoway-anova/evaluation"
	"github.com/example/twoway-anova/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve [data.csv]",
	Short: "Serve the walkthrough and its metrics over HTTP",
	Long: `Starts an HTTP server with:
  POST /run      run the walkthrough and return report.json
  GET  /metrics  Prometheus metrics of every run served
  GET  /healthz  liveness probe

Reports are cached, so repeated runs on an unchanged dataset are answered
from the cache.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := applyArgs(args); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, release := openCache(ctx)
	defer release()
	analyzer, reg := newAnalyzer(c, true)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           newServeMux(analyzer, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", listenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	exportMetrics(reg)
	return nil
}

// newServeMux routes the walkthrough and metrics endpoints.
func newServeMux(analyzer *evaluation.Analyzer, reg prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	metrics.RegisterMetrics(mux, reg)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		result, err := analyzer.Run(ctx)
		if err != nil {
			logger.Error("Run failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if result.Cached {
			w.Header().Set("X-Anova-Cache", "hit")
		} else {
			w.Header().Set("X-Anova-Cache", "miss")
		}
		if err := json.NewEncoder(w).Encode(result.Report); err != nil {
			logger.Warn("Failed to write response", zap.Error(err))
		}
	})
	return mux
}
