package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/fieldsync"
	"github.com/spf13/cobra"
)

// outputAsJSON writes any value as formatted JSON to the command's stdout.
func outputAsJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError prints an error to w, ensuring no API keys are leaked.
func outputError(w io.Writer, err error) {
	printError(w, "Error: %s", scrubSensitiveData(err.Error()))
}

// scrubSensitiveData removes the configured API key from messages.
func scrubSensitiveData(msg string) string {
	if key := settings.GetString(keyAPIKey); key != "" && strings.Contains(msg, key) {
		msg = strings.ReplaceAll(msg, key, "[REDACTED]")
	}
	return msg
}

// outputRecord prints a single record in the configured format.
func outputRecord(cmd *cobra.Command, verb string, r *fieldsync.Record) error {
	if outputJSON {
		return outputAsJSON(cmd, r)
	}
	out := cmd.OutOrStdout()
	printSuccess(out, "%s record %d", verb, r.LocalID)
	printRecordFields(out, r)
	return nil
}

func printRecordFields(out io.Writer, r *fieldsync.Record) {
	const width = 15
	printField(out, "Date", width, r.Date)
	printField(out, "Customer", width, r.Customer)
	printField(out, "Location", width, r.Location)
	printField(out, "Area", width, strings.TrimSpace(r.Area+" "+r.Unit))
	for i, in := range r.Inputs {
		label := ""
		if i == 0 {
			label = "Inputs"
		}
		printField(out, label, width, formatInput(in))
	}
	if r.Recommendation != "" {
		printField(out, "Recommendation", width, r.Recommendation)
	}
	printField(out, "Sync", width, syncState(r))
	if !r.CreatedAt.IsZero() {
		printField(out, "Created", width, r.CreatedAt.Local().Format(time.DateTime))
	}
}

func formatInput(in fieldsync.Input) string {
	return in.Product + " " + strconv.FormatFloat(in.Liters, 'f', -1, 64) + " L"
}

func syncState(r *fieldsync.Record) string {
	if r.RemoteID == "" {
		return "pending"
	}
	return "synced (" + r.RemoteID + ")"
}

// outputRecords prints a record listing in the configured format.
func outputRecords(cmd *cobra.Command, records []fieldsync.Record) error {
	if outputJSON {
		if records == nil {
			records = []fieldsync.Record{}
		}
		return outputAsJSON(cmd, records)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		printMuted(out, "No records.")
		return nil
	}

	headers := []string{"ID", "Date", "Customer", "Location", "Area", "Inputs", "Sync"}
	rows := make([][]string, 0, len(records))
	for i := range records {
		r := &records[i]
		inputs := make([]string, 0, len(r.Inputs))
		for _, in := range r.Inputs {
			inputs = append(inputs, formatInput(in))
		}
		sync := "pending"
		if r.RemoteID != "" {
			sync = "synced"
		}
		rows = append(rows, []string{
			strconv.FormatInt(r.LocalID, 10),
			r.Date,
			r.Customer,
			r.Location,
			strings.TrimSpace(r.Area + " " + r.Unit),
			strings.Join(inputs, ", "),
			sync,
		})
	}
	fmt.Fprint(out, renderTable(headers, rows))
	return nil
}

// outputDrain prints the outcome of a drain pass.
func outputDrain(cmd *cobra.Command, res *fieldsync.DrainResult) error {
	if outputJSON {
		return outputAsJSON(cmd, res)
	}
	out := cmd.OutOrStdout()
	if res.Skipped != "" {
		printWarning(out, "Sync skipped (%s); %d changes pending", res.Skipped, res.Remaining)
		return nil
	}
	printSuccess(out, "Sync complete (took %s)", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  Replayed:  %d\n", res.Processed)
	if res.Failed > 0 {
		printWarning(out, "Failed:    %d (kept for the next sync)", res.Failed)
	}
	fmt.Fprintf(out, "  Remaining: %d\n", res.Remaining)
	return nil
}
