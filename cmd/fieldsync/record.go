package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hyperengineering/fieldsync"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// recordFlags holds the record fields shared by add and edit.
type recordFlags struct {
	date           string
	customer       string
	location       string
	area           string
	unit           string
	inputs         []string
	recommendation string
	notes          string
}

func (f *recordFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.date, "date", "", "Job date (e.g. 2024-05-01)")
	fs.StringVar(&f.customer, "customer", "", "Customer name")
	fs.StringVar(&f.location, "location", "", "Field or site")
	fs.StringVar(&f.area, "area", "", "Treated area")
	fs.StringVar(&f.unit, "unit", "", "Area unit (e.g. ha)")
	fs.StringArrayVarP(&f.inputs, "input", "i", nil, "Applied product as product=liters (repeatable)")
	fs.StringVar(&f.recommendation, "recommendation", "", "Recommendation given")
	fs.StringVar(&f.notes, "notes", "", "Free-form notes (markdown)")
}

// apply copies every flag that was set on the command line onto r.
func (f *recordFlags) apply(fs *pflag.FlagSet, r *fieldsync.Record) error {
	set := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	set("date", &r.Date, f.date)
	set("customer", &r.Customer, f.customer)
	set("location", &r.Location, f.location)
	set("area", &r.Area, f.area)
	set("unit", &r.Unit, f.unit)
	set("recommendation", &r.Recommendation, f.recommendation)
	set("notes", &r.Notes, f.notes)

	if fs.Changed("input") {
		r.Inputs = make([]fieldsync.Input, 0, len(f.inputs))
		for _, s := range f.inputs {
			in, err := fieldsync.ParseInput(s)
			if err != nil {
				return err
			}
			r.Inputs = append(r.Inputs, in)
		}
	}
	return nil
}

func (f *recordFlags) reset() {
	*f = recordFlags{}
}

var (
	addFlags  recordFlags
	editFlags recordFlags
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a job record",
	Long: `Add a job record to the local store and queue it for sync.

Example:
  fieldsync add --date 2024-05-01 --customer "Acme Farms" --location "North field" \
    --area 12 --unit ha -i glyphosate=2.5 -i adjuvant=0.3`,
	Args: cobra.NoArgs,
	RunE: runAdd,
}

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a job record",
	Long: `Edit a job record by local id. Only the fields given are changed.

Example:
  fieldsync edit 3 --notes "Re-spray in two weeks"`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a job record",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	addFlags.register(addCmd.Flags())
	editFlags.register(editCmd.Flags())

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
}

func parseLocalID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", arg)
	}
	return id, nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	var rec fieldsync.Record
	if err := addFlags.apply(cmd.Flags(), &rec); err != nil {
		return err
	}

	client, _, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	syncOnSave(ctx, client)

	saved, err := client.SaveRecord(ctx, rec)
	if err != nil {
		return fmt.Errorf("add record: %w", err)
	}
	return outputRecord(cmd, "Added", saved)
}

func runEdit(cmd *cobra.Command, args []string) error {
	id, err := parseLocalID(args[0])
	if err != nil {
		return err
	}

	client, _, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	rec, err := client.Record(ctx, id)
	if err != nil {
		return fmt.Errorf("edit record %d: %w", id, err)
	}
	if err := editFlags.apply(cmd.Flags(), rec); err != nil {
		return err
	}

	syncOnSave(ctx, client)
	saved, err := client.SaveRecord(ctx, *rec)
	if err != nil {
		return fmt.Errorf("edit record %d: %w", id, err)
	}
	return outputRecord(cmd, "Updated", saved)
}

func runDelete(cmd *cobra.Command, args []string) error {
	id, err := parseLocalID(args[0])
	if err != nil {
		return err
	}

	client, _, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	syncOnSave(ctx, client)
	if err := client.DeleteRecord(ctx, id); err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}

	if outputJSON {
		return outputAsJSON(cmd, map[string]any{"deleted": id})
	}
	printSuccess(cmd.OutOrStdout(), "Deleted record %d", id)
	return nil
}

// syncOnSave loads or issues the client identity so a save made while
// online is replayed immediately. Failing that, the change stays queued
// for the next sync.
func syncOnSave(ctx context.Context, client *fieldsync.Client) {
	if !client.Online() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, identityTimeout)
	defer cancel()
	if _, err := client.EnsureIdentity(ctx); err != nil {
		printMuted(rootCmd.ErrOrStderr(), "sync deferred: %s", scrubSensitiveData(err.Error()))
	}
}
