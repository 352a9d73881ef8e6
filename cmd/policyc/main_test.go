package main

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"policy-compiler/internal/engine"
	"policy-compiler/internal/parser"
)

// runCLI executes the root command with a private alias database and config
// path under dir.
func runCLI(t *testing.T, dir string, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	base := []string{
		"--config", filepath.Join(dir, "policyc.yaml"),
		"--alias-dsn", filepath.Join(dir, "aliases.db"),
		"--log-file", filepath.Join(dir, "policyc.log"),
	}
	cmd.SetArgs(append(base, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()
	if cmd == nil {
		t.Fatal("newRootCmd returned nil")
	}
	if cmd.Use != "policyc" {
		t.Errorf("Expected use 'policyc', got '%s'", cmd.Use)
	}
	for _, name := range []string{"compile", "shell", "batch", "alias", "services"} {
		if sub, _, err := cmd.Find([]string{name}); err != nil || sub.Name() != name {
			t.Errorf("subcommand %s not registered", name)
		}
	}
}

func TestSetupLogger(t *testing.T) {
	levels := []string{"DEBUG", "INFO", "WARN", "ERROR", "UNKNOWN"}
	for _, lvl := range levels {
		l := setupLogger(lvl, "")
		if l == nil {
			t.Errorf("setupLogger returned nil for level %s", lvl)
		}
	}

	logFile := filepath.Join(t.TempDir(), "test.log")
	if l := setupLogger("INFO", logFile); l == nil {
		t.Error("setupLogger with file returned nil")
	}

	// Test invalid log file path
	if l := setupLogger("INFO", "/nonexistent/path/to/log.log"); l == nil {
		t.Error("setupLogger should return a logger even if file fails")
	}
}

func TestCompilePreview(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "", "compile", "deny ssh from 10.0.0.5")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	want := "10.0.0.5\t-A OUTPUT -s 10.0.0.5 -p tcp --dport 22 -j DROP\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestCompileReportsRejectedClauses(t *testing.T) {
	dir := t.TempDir()
	out, errOut, err := runCLI(t, dir, "", "compile", "hello there. deny ssh from 10.0.0.5")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if !strings.Contains(errOut, "NoActionFound") {
		t.Errorf("stderr %q does not report the rejected clause", errOut)
	}
	if strings.Count(out, "\n") != 1 {
		t.Errorf("expected one rule, got %q", out)
	}
}

func TestCompileNeedsInput(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := runCLI(t, dir, "", "compile"); err == nil {
		t.Error("Expected error for empty input")
	}
}

func TestCompileFromStdin(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "on 192.168.1.1 allow http from 10.0.0.6 to 10.0.0.7\n", "compile", "-f", "-")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if !strings.Contains(out, "-A FORWARD -s 10.0.0.6 -d 10.0.0.7 -p tcp --dport 80 -j ACCEPT") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCompileUnreachableDevice(t *testing.T) {
	dir := t.TempDir()
	// Only 10.0.0.1 is connected, so the rule for 10.0.0.5 is skipped.
	out, _, err := runCLI(t, dir, "", "compile", "--device", "10.0.0.1", "deny ssh from 10.0.0.5")
	if err != nil {
		t.Fatalf("unreachable devices should not fail the command: %v", err)
	}
	if out != "" {
		t.Errorf("expected no delivered rules, got %q", out)
	}
}

func TestInvalidSettings(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := runCLI(t, dir, "", "compile", "--dispatch", "carrier-pigeon", "deny ssh from 10.0.0.5"); err == nil {
		t.Error("Expected error for unknown dispatch mode")
	}
	if _, _, err := runCLI(t, dir, "", "compile", "--target", "gateway", "deny ssh from 10.0.0.5"); err == nil {
		t.Error("Expected error for non-address preferred target")
	}
}

func TestAliasLifecycle(t *testing.T) {
	dir := t.TempDir()

	out, _, err := runCLI(t, dir, "", "alias", "set", "Core", "Gateway", "10.0.0.1")
	if err != nil {
		t.Fatalf("alias set failed: %v", err)
	}
	if out != "core gateway -> 10.0.0.1\n" {
		t.Errorf("alias set output = %q", out)
	}

	// The alias persists across invocations and is substituted before compiling.
	out, _, err = runCLI(t, dir, "", "compile", "block ssh to core gateway")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	want := "10.0.0.1\t-A INPUT -d 10.0.0.1 -p tcp --dport 22 -j DROP\t# core gateway\n"
	if out != want {
		t.Errorf("compile output = %q, want %q", out, want)
	}

	// Rebinding the address replaces the old name.
	out, _, err = runCLI(t, dir, "", "alias", "set", "edge", "10.0.0.1")
	if err != nil {
		t.Fatalf("alias set failed: %v", err)
	}
	if !strings.Contains(out, "replaced core gateway -> 10.0.0.1") {
		t.Errorf("expected conflict report, got %q", out)
	}

	out, _, err = runCLI(t, dir, "", "alias", "list")
	if err != nil {
		t.Fatalf("alias list failed: %v", err)
	}
	if out != "edge\t10.0.0.1\n" {
		t.Errorf("alias list = %q", out)
	}

	if _, _, err := runCLI(t, dir, "", "alias", "unset", "10.0.0.1"); err != nil {
		t.Fatalf("alias unset failed: %v", err)
	}
	if _, _, err := runCLI(t, dir, "", "alias", "unset", "10.0.0.1"); err == nil {
		t.Error("Expected error when unsetting a missing alias")
	}
	out, _, _ = runCLI(t, dir, "", "alias", "list")
	if out != "" {
		t.Errorf("alias list after unset = %q", out)
	}
}

func TestAliasSetRejectsBadAddress(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := runCLI(t, dir, "", "alias", "set", "gateway", "not-an-ip"); err == nil {
		t.Error("Expected error for invalid address")
	}
}

func TestAliasImport(t *testing.T) {
	dir := t.TempDir()

	csvFile := filepath.Join(dir, "aliases.csv")
	os.WriteFile(csvFile, []byte("Alias,Address\nweb,10.0.0.10\ndb,10.0.0.20\nbroken,not-an-ip\n"), 0644)
	out, _, err := runCLI(t, dir, "", "alias", "import", csvFile)
	if err != nil {
		t.Fatalf("csv import failed: %v", err)
	}
	if out != "imported 2 aliases (0 replaced)\n" {
		t.Errorf("csv import output = %q", out)
	}

	confFile := filepath.Join(dir, "fortigate.conf")
	os.WriteFile(confFile, []byte(`config firewall address
    edit "mail"
        set subnet 10.0.0.30 255.255.255.255
    next
    edit "lan"
        set subnet 10.0.0.0 255.255.255.0
    next
end
`), 0644)
	if _, _, err := runCLI(t, dir, "", "alias", "import", "--format", "fortigate", confFile); err != nil {
		t.Fatalf("fortigate import failed: %v", err)
	}

	out, _, err = runCLI(t, dir, "", "alias", "list")
	if err != nil {
		t.Fatalf("alias list failed: %v", err)
	}
	want := "db\t10.0.0.20\nmail\t10.0.0.30\nweb\t10.0.0.10\n"
	if out != want {
		t.Errorf("alias list = %q, want %q", out, want)
	}

	if _, _, err := runCLI(t, dir, "", "alias", "import", "--format", "xml", csvFile); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestBatch(t *testing.T) {
	dir := t.TempDir()
	inFile := filepath.Join(dir, "policies.txt")
	outFile := filepath.Join(dir, "out.csv")
	os.WriteFile(inFile, []byte("# nightly lockdown\ndeny ssh from 10.0.0.5\n\nhello world\nallow dns to 10.0.0.53\n"), 0644)

	if _, _, err := runCLI(t, dir, "", "batch", "--in", inFile, "--out", outFile, "--workers", "2"); err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	f, err := os.Open(outFile)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(records) == 0 || strings.Join(records[0], ",") != strings.Join(batchHeader, ",") {
		t.Fatalf("missing header: %v", records)
	}

	byLine := make(map[string][][]string)
	for _, r := range records[1:] {
		byLine[r[1]] = append(byLine[r[1]], r)
	}
	if got := byLine["2"]; len(got) != 1 || got[0][6] != "-A OUTPUT -s 10.0.0.5 -p tcp --dport 22 -j DROP" {
		t.Errorf("line 2 rows = %v", got)
	}
	if got := byLine["4"]; len(got) != 1 || got[0][7] != "NoActionFound" {
		t.Errorf("line 4 rows = %v", got)
	}
	// dns expands to udp and tcp.
	if got := byLine["5"]; len(got) != 2 {
		t.Errorf("line 5 rows = %v", got)
	}
}

func TestBatchMissingInput(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := runCLI(t, dir, "", "batch", "--in", filepath.Join(dir, "nonexistent"), "--out", filepath.Join(dir, "out.csv")); err == nil {
		t.Error("Expected error for missing policy file")
	}
}

func TestServices(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "", "services")
	if err != nil {
		t.Fatalf("services failed: %v", err)
	}
	if !strings.Contains(out, "ssh\ttcp/22\n") {
		t.Errorf("ssh missing from %q", out)
	}
	if !strings.Contains(out, "dns\tudp/53,tcp/53\n") {
		t.Errorf("dns missing from %q", out)
	}

	catalog := filepath.Join(dir, "services.yaml")
	os.WriteFile(catalog, []byte("vpn:\n  - {proto: udp, dport: 1194}\n"), 0644)
	out, _, err = runCLI(t, dir, "", "--services", catalog, "services")
	if err != nil {
		t.Fatalf("services with catalog failed: %v", err)
	}
	if out != "vpn\tudp/1194\n" {
		t.Errorf("services = %q", out)
	}
}

func TestShell(t *testing.T) {
	dir := t.TempDir()
	out, _, err := runCLI(t, dir, "deny ssh from 10.0.0.5\n\nallow http to 10.0.0.7\n", "shell")
	if err != nil {
		t.Fatalf("shell failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 rules, got %q", out)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestResultWriter(t *testing.T) {
	compiler := engine.NewCompiler(nil, nil, nil, nil)
	newResults := func() chan batchResult {
		results := make(chan batchResult, 2)
		results <- batchResult{stmt: parser.Statement{Line: 1, Text: "deny ssh from 10.0.0.5"}, result: compiler.Compile("deny ssh from 10.0.0.5", engine.Options{})}
		results <- batchResult{stmt: parser.Statement{Line: 2, Text: "hello"}, result: compiler.Compile("hello", engine.Options{})}
		close(results)
		return results
	}

	var buf bytes.Buffer
	var wg sync.WaitGroup
	var written uint64
	wg.Add(1)
	if err := resultWriter(&wg, newResults(), &buf, &written); err != nil {
		t.Fatalf("resultWriter failed: %v", err)
	}
	wg.Wait()
	if written != 2 {
		t.Errorf("expected 2 rows, got %d", written)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 3 {
		t.Errorf("expected header and 2 rows, got %d lines: %q", lines, buf.String())
	}

	// A failing destination is reported once every result has been consumed.
	results := newResults()
	wg.Add(1)
	if err := resultWriter(&wg, results, failingWriter{}, &written); err == nil {
		t.Error("expected error for failing writer")
	}
	wg.Wait()
	if _, ok := <-results; ok {
		t.Error("results channel should be fully drained")
	}
}
