package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/j-veylop/limitwatch/internal/app"
	"github.com/j-veylop/limitwatch/internal/logger"
	"github.com/j-veylop/limitwatch/internal/services"
	"github.com/j-veylop/limitwatch/internal/services/quota"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll quotas periodically and expose them over HTTP",
	Long: `Refresh every refreshInterval and serve the latest results:

  GET /metrics   Prometheus metrics (quota gauges, fetch latency, alerts)
  GET /status    Latest results as JSON
  GET /healthz   Liveness probe

Quotas crossing the alert threshold raise desktop notifications as in watch.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	addSelectionFlags(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default metricsAddr from the config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mgr, err := openManager(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	if err := mgr.Watch(); err != nil {
		logger.Warn("not watching accounts file", "error", err)
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.MetricsAddr
	}
	sel, query, showAll := readSelection(cmd)

	srv := &http.Server{
		Addr:         addr,
		Handler:      newRouter(mgr, query),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx := cmd.Context()
	go mgr.Run(ctx, sel, showAll)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", addr, "interval", cfg.RefreshInterval)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	RefreshedAt time.Time        `json:"refreshed_at"`
	Stats       quota.Stats      `json:"stats"`
	Accounts    []app.JSONResult `json:"accounts"`
}

func newRouter(mgr *services.Manager, query []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Use(mgr.Metrics().Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", mgr.Metrics().Handler())
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		results, at := mgr.Latest()
		w.Header().Set("Content-Type", "application/json")
		if at.IsZero() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "no refresh has completed yet"})
			return
		}
		_ = json.NewEncoder(w).Encode(statusResponse{
			RefreshedAt: at,
			Stats:       quota.Summarize(results),
			Accounts:    app.ToJSON(results, query),
		})
	})
	return r
}
