package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List job records, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a job record with its notes",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "Maximum number of records (0 for all)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	client, _, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	records, err := client.Records(cmd.Context())
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	if listLimit > 0 && listLimit < len(records) {
		records = records[:listLimit]
	}
	return outputRecords(cmd, records)
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := parseLocalID(args[0])
	if err != nil {
		return err
	}

	client, _, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	rec, err := client.Record(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("show record %d: %w", id, err)
	}
	if outputJSON {
		return outputAsJSON(cmd, rec)
	}

	out := cmd.OutOrStdout()
	printInfo(out, "Record %d", rec.LocalID)
	printRecordFields(out, rec)
	if rec.Notes != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderPanel("Notes", renderMarkdown(rec.Notes)))
	}
	return nil
}
