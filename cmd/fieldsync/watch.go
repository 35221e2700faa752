package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperengineering/fieldsync"
	"github.com/hyperengineering/fieldsync/internal/metrics"
	"github.com/spf13/cobra"
)

var watchMetricsAddr string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay connected: apply remote changes and sync local ones",
	Long: `Keep the client running until interrupted.

watch acquires a client identity, listens for remote changes to the
collection, probes connectivity and replays queued changes whenever the
remote authority becomes reachable.

Example:
  fieldsync watch --remote-url http://localhost:8787 --metrics-addr :9100`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	refreshed := make(chan struct{}, 1)
	client, cfg, err := openClient(fieldsync.WithRefresh(func() {
		select {
		case refreshed <- struct{}{}:
		default:
		}
	}))
	if err != nil {
		return err
	}
	defer client.Close()

	if cfg.IsOffline() {
		return errors.New("no remote authority configured (set --remote-url or FIELDSYNC_REMOTE_URL)")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", newMetricsHandler(metrics.ClientCollectors()...))
		srv := &http.Server{Addr: watchMetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		logger := fieldsync.NewLogger(cfg.Debug, cfg.LogPath)
		go func() {
			if err := serveHTTP(ctx, srv, logger); err != nil {
				logger.WithField("err", err).Error("metrics server failed")
			}
		}()
	}

	out := cmd.OutOrStdout()
	printInfo(out, "Watching %s at %s (Ctrl-C to stop)", client.Collection(), cfg.RemoteURL)
	client.Start(ctx)

	online, listening := client.Online(), client.ListenerActive()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			printMuted(out, "Stopped.")
			return nil
		case <-refreshed:
			if stats, err := client.Stats(ctx); err == nil {
				printMuted(out, "%s  %d records, %d pending",
					time.Now().Format(time.TimeOnly), stats.RecordCount, stats.PendingCount)
			}
		case <-ticker.C:
			if now := client.Online(); now != online {
				online = now
				if online {
					printSuccess(out, "Remote reachable")
				} else {
					printWarning(out, "Remote unreachable; changes will queue")
				}
			}
			if now := client.ListenerActive(); now != listening {
				listening = now
				if listening {
					printSuccess(out, "Listening for remote changes")
				} else {
					printWarning(out, "Change feed stopped")
				}
			}
		}
	}
}
