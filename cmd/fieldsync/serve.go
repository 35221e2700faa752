package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperengineering/fieldsync"
	"github.com/hyperengineering/fieldsync/internal/authority"
	"github.com/hyperengineering/fieldsync/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serveAddr   string
	serveAPIKey string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an in-memory remote authority for development",
	Long: `Run an in-memory remote authority over HTTP, with a websocket change
feed and Prometheus metrics at /metrics. Documents are lost on exit.

Example:
  fieldsync serve --addr :8787
  FIELDSYNC_REMOTE_URL=http://localhost:8787 fieldsync watch`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8787", "Listen address")
	serveCmd.Flags().StringVar(&serveAPIKey, "require-key", "", "Require this bearer token on document routes")
	rootCmd.AddCommand(serveCmd)
}

// newMetricsHandler serves the given collectors plus Go runtime and
// process metrics from a dedicated registry.
func newMetricsHandler(cs ...prometheus.Collector) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(cs...)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithField("err", err).Warn("http shutdown")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger := fieldsync.NewLogger(cfg.Debug, cfg.LogPath)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", newMetricsHandler(metrics.AuthorityCollectors()...))
	mux.Handle("/", authority.NewServer(authority.NewMemory(), serveAPIKey, logger))

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.WithField("addr", serveAddr).Info("serving development authority")
	printInfo(cmd.ErrOrStderr(), "Serving on %s (Ctrl-C to stop)", serveAddr)
	return serveHTTP(ctx, srv, logger)
}
