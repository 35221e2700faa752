package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/fieldsync"
	"github.com/spf13/cobra"
)

var syncTimeout time.Duration

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued changes against the remote authority",
	Long: `Replay queued local changes against the remote authority.

A client identity is issued on first sync and kept in the local store.
Changes that fail stay queued and are retried on the next sync.

Example:
  fieldsync sync --remote-url https://jobs.example.com`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 60*time.Second, "Give up after this long")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	client, cfg, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	if cfg.IsOffline() {
		return errors.New("no remote authority configured (set --remote-url or FIELDSYNC_REMOTE_URL)")
	}
	if !client.Online() {
		return fmt.Errorf("remote authority %s is unreachable", cfg.RemoteURL)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
	defer cancel()

	var res *fieldsync.DrainResult
	err = runWithSpinner(cmd.ErrOrStderr(), "Syncing with "+cfg.RemoteURL, func() error {
		if _, err := client.EnsureIdentity(ctx); err != nil {
			return err
		}
		var err error
		res, err = client.Drain(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return outputDrain(cmd, res)
}
