package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store and sync statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	client, cfg, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	stats, err := client.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	if outputJSON {
		return outputAsJSON(cmd, stats)
	}

	var sb strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&sb, "%-16s %s\n", label+":", value)
	}
	line("Collection", client.Collection())
	line("Database", cfg.LocalPath)
	line("Records", fmt.Sprintf("%d (%d not yet synced)", stats.RecordCount, stats.UnsyncedCount))
	line("Pending changes", fmt.Sprintf("%d", stats.PendingCount))
	line("Schema version", stats.SchemaVersion)
	if stats.ClientID != "" {
		line("Client ID", stats.ClientID)
	} else {
		line("Client ID", "none")
	}
	if stats.IdentityError != "" {
		line("Sign-in", "failed, changes stay queued: "+stats.IdentityError)
	}
	switch {
	case cfg.IsOffline():
		line("Remote", "not configured")
	case stats.Online:
		line("Remote", cfg.RemoteURL+" (reachable)")
	default:
		line("Remote", cfg.RemoteURL+" (unreachable)")
	}
	if stats.LastDrain.IsZero() {
		line("Last sync", "never")
	} else {
		line("Last sync", fmt.Sprintf("%s (%s ago)",
			stats.LastDrain.Local().Format(time.DateTime),
			time.Since(stats.LastDrain).Round(time.Second)))
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderPanel("fieldsync", strings.TrimRight(sb.String(), "\n")))
	return nil
}
