package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperengineering/fieldsync"
	"github.com/hyperengineering/fieldsync/internal/authority"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// testEnv points the CLI at a temporary database and clears flag state
// left by earlier commands.
func testEnv(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	t.Setenv("HOME", dir)
	t.Setenv("FIELDSYNC_DB_PATH", dbPath)
	t.Setenv("FIELDSYNC_REMOTE_URL", "")
	t.Setenv("FIELDSYNC_API_KEY", "")
	t.Setenv("FIELDSYNC_COLLECTION", "")

	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })
	return dbPath
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
	addFlags.reset()
	editFlags.reset()
	cfgFile = ""
	outputJSON = false
	listLimit = 0
}

// run executes the CLI with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("fieldsync %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestCLI_Help_ListsAllCommands(t *testing.T) {
	testEnv(t)

	out := mustRun(t, "--help")
	for _, name := range []string{"add", "edit", "list", "show", "delete", "sync", "watch", "serve", "mcp", "stats", "version"} {
		if !strings.Contains(out, name) {
			t.Errorf("--help output should contain %q command", name)
		}
	}
}

func TestCLI_AddListShow(t *testing.T) {
	defer setMockTTY(false)()
	testEnv(t)

	out := mustRun(t, "add", "--date", "2024-05-01", "--customer", "Acme Farms",
		"--location", "North field", "--area", "12", "--unit", "ha",
		"-i", "glyphosate=2.5", "-i", "adjuvant=0.3", "--notes", "## Follow up\n- check drift")
	if !strings.Contains(out, "Added record 1") || !strings.Contains(out, "pending") {
		t.Errorf("add output = %q", out)
	}

	out = mustRun(t, "list")
	if !strings.Contains(out, "Acme Farms") || !strings.Contains(out, "glyphosate 2.5 L") {
		t.Errorf("list output = %q", out)
	}

	out = mustRun(t, "show", "1")
	if !strings.Contains(out, "North field") || !strings.Contains(out, "Follow up") {
		t.Errorf("show output = %q", out)
	}
}

func TestCLI_Add_InvalidInput(t *testing.T) {
	testEnv(t)

	if _, err := run(t, "add", "--customer", "Acme", "-i", "glyphosate"); err == nil {
		t.Fatal("expected error for malformed input")
	}
}

func TestCLI_EditOnlyChangesGivenFields(t *testing.T) {
	testEnv(t)

	mustRun(t, "add", "--customer", "Acme", "--location", "North field")
	resetFlags(rootCmd)
	mustRun(t, "edit", "1", "--location", "South field")
	resetFlags(rootCmd)

	out := mustRun(t, "show", "1", "--json")

	var rec fieldsync.Record
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("show --json: %v\n%s", err, out)
	}
	if rec.Customer != "Acme" || rec.Location != "South field" {
		t.Errorf("record = %+v", rec)
	}
}

func TestCLI_Edit_MissingRecord(t *testing.T) {
	testEnv(t)

	if _, err := run(t, "edit", "42", "--notes", "x"); err == nil {
		t.Fatal("expected error editing a missing record")
	}
	if _, err := run(t, "edit", "abc"); err == nil {
		t.Fatal("expected error for a non-numeric id")
	}
}

func TestCLI_Delete(t *testing.T) {
	testEnv(t)

	mustRun(t, "add", "--customer", "Acme")
	resetFlags(rootCmd)
	out := mustRun(t, "delete", "1")
	if !strings.Contains(out, "Deleted record 1") {
		t.Errorf("delete output = %q", out)
	}

	resetFlags(rootCmd)
	out = mustRun(t, "list", "--json")
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("list after delete = %q", out)
	}
}

func TestCLI_List_JSONOutput(t *testing.T) {
	testEnv(t)

	mustRun(t, "add", "--customer", "First")
	resetFlags(rootCmd)
	mustRun(t, "add", "--customer", "Second")
	resetFlags(rootCmd)

	out := mustRun(t, "list", "--json", "--limit", "1")
	var records []fieldsync.Record
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("list --json: %v\n%s", err, out)
	}
	if len(records) != 1 || records[0].Customer != "Second" {
		t.Errorf("records = %+v, want newest only", records)
	}
}

func TestCLI_Sync_RequiresRemote(t *testing.T) {
	testEnv(t)

	_, err := run(t, "sync")
	if err == nil || !strings.Contains(err.Error(), "no remote authority") {
		t.Fatalf("sync error = %v", err)
	}
}

func TestCLI_SyncAgainstDevAuthority(t *testing.T) {
	testEnv(t)
	mem := authority.NewMemory()
	srv := httptest.NewServer(authority.NewServer(mem, "secret", nil))
	defer srv.Close()

	mustRun(t, "add", "--customer", "Offline")
	resetFlags(rootCmd)

	t.Setenv("FIELDSYNC_REMOTE_URL", srv.URL)
	t.Setenv("FIELDSYNC_API_KEY", "secret")

	out := mustRun(t, "sync", "--json")
	var res fieldsync.DrainResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("sync --json: %v\n%s", err, out)
	}
	if res.Processed != 1 || res.Remaining != 0 {
		t.Errorf("drain result = %+v", res)
	}
	if docs := mem.Documents("jobs"); len(docs) != 1 {
		t.Errorf("remote documents = %d, want 1", len(docs))
	}

	resetFlags(rootCmd)
	out = mustRun(t, "stats", "--json")
	var stats fieldsync.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("stats --json: %v\n%s", err, out)
	}
	if stats.PendingCount != 0 || stats.ClientID == "" || stats.LastDrain.IsZero() {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCLI_UnreachableRemoteQueuesChanges(t *testing.T) {
	testEnv(t)
	srv := httptest.NewServer(authority.NewServer(authority.NewMemory(), "", nil))
	url := srv.URL
	srv.Close()
	t.Setenv("FIELDSYNC_REMOTE_URL", url)

	mustRun(t, "add", "--customer", "Acme")
	resetFlags(rootCmd)

	out := mustRun(t, "stats", "--json")
	var stats fieldsync.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.PendingCount != 1 || stats.Online {
		t.Errorf("stats = %+v, want one pending change while offline", stats)
	}

	resetFlags(rootCmd)
	if _, err := run(t, "sync"); err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Errorf("sync error = %v, want unreachable", err)
	}
}

func TestCLI_Config_FlagOverridesEnv(t *testing.T) {
	dbPath := testEnv(t)
	flagPath := filepath.Join(t.TempDir(), "flag.db")

	mustRun(t, "--db-path", flagPath, "add", "--customer", "Acme")
	if _, err := os.Stat(flagPath); err != nil {
		t.Errorf("flag database not created: %v", err)
	}
	if _, err := os.Stat(dbPath); err == nil {
		t.Error("env database should not be used when --db-path is set")
	}
}

func TestCLI_Config_File(t *testing.T) {
	testEnv(t)
	t.Setenv("FIELDSYNC_DB_PATH", "")
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "from-file.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("db_path: "+dbPath+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	mustRun(t, "--config", cfgPath, "add", "--customer", "Acme")
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("config file database not created: %v", err)
	}
}

func TestCLI_APIKey_NeverInOutput(t *testing.T) {
	testEnv(t)
	t.Setenv("FIELDSYNC_API_KEY", "super-secret-key")

	msg := scrubSensitiveData("request failed: bad token super-secret-key")
	if strings.Contains(msg, "super-secret-key") {
		t.Errorf("API key leaked: %q", msg)
	}

	var buf bytes.Buffer
	outputError(&buf, os.ErrNotExist)
	if !strings.Contains(buf.String(), "Error:") {
		t.Errorf("outputError = %q", buf.String())
	}
}

func TestCLI_StyledHelp(t *testing.T) {
	defer setMockTTY(false)()
	testEnv(t)
	initHelp(rootCmd)

	out := mustRun(t, "sync", "--help")
	for _, want := range []string{"Usage:", "fieldsync sync", "--timeout", "Global Flags:", "--remote-url"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q:\n%s", want, out)
		}
	}
}
