package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"policy-compiler/internal/alias"
	"policy-compiler/internal/parser"
	"policy-compiler/internal/utils"
)

var importFormat string

func newAliasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alias",
		Short: "Manage device aliases used to rewrite policy text",
	}

	setCmd := &cobra.Command{
		Use:     "set NAME... ADDRESS",
		Short:   "Bind a name to an address, replacing older bindings of either",
		Example: `  policyc alias set core gateway 10.0.0.1`,
		Args:    cobra.MinimumNArgs(2),
		RunE:    runAliasSet,
	}

	unsetCmd := &cobra.Command{
		Use:   "unset ADDRESS",
		Short: "Remove the alias bound to an address",
		Args:  cobra.ExactArgs(1),
		RunE:  runAliasUnset,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List aliases",
		Args:  cobra.NoArgs,
		RunE:  runAliasList,
	}

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import aliases from a CSV file or FortiGate address objects",
		Long: `import reads alias bindings from FILE. The csv format needs "Alias" and
	"Address" columns. The fortigate format reads host objects from the
	"config firewall address" and "config firewall address6" sections.`,
		Args: cobra.ExactArgs(1),
		RunE: runAliasImport,
	}
	importCmd.Flags().StringVar(&importFormat, "format", "csv", "Input format: 'csv' or 'fortigate'")

	cmd.AddCommand(setCmd, unsetCmd, listCmd, importCmd)
	return cmd
}

func runAliasSet(cmd *cobra.Command, args []string) error {
	address := args[len(args)-1]
	name := strings.Join(args[:len(args)-1], " ")
	if !utils.IsAddress(address) {
		return fmt.Errorf("%q is not an IPv4 or IPv6 address", address)
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()
	defer writeMetrics()

	conflicts, err := s.aliases.Assign(name, address)
	if err != nil {
		return err
	}
	if err := s.store.Save(cmd.Context(), name, address); err != nil {
		return fmt.Errorf("failed to save alias: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, c := range conflicts {
		fmt.Fprintf(out, "replaced %s -> %s\n", c.Name, c.Address)
	}
	fmt.Fprintf(out, "%s -> %s\n", alias.NormalizeName(name), address)
	return nil
}

func runAliasUnset(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()
	defer writeMetrics()

	if err := s.aliases.Unassign(args[0]); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	if err := s.store.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete alias: %w", err)
	}
	return nil
}

func runAliasList(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	for _, e := range s.aliases.Snapshot().Entries() {
		fmt.Fprintf(out, "%s\t%s\n", e.Name, e.Address)
	}
	return nil
}

func runAliasImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		slog.Error("Failed to open alias file", "path", args[0], "error", err)
		return err
	}
	defer f.Close()

	entries, err := readAliasFile(importFormat, f)
	if err != nil {
		return err
	}
	slog.Info("Alias file parsed", "path", args[0], "format", importFormat, "entries", len(entries))

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()
	defer writeMetrics()

	conflicts, err := s.aliases.Load(entries)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.store.Save(cmd.Context(), e.Name, e.Address); err != nil {
			return fmt.Errorf("failed to save alias %q: %w", e.Name, err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "imported %d aliases (%d replaced)\n", len(entries), len(conflicts))
	return nil
}

func readAliasFile(format string, r io.Reader) ([]alias.Entry, error) {
	switch format {
	case "csv":
		return parser.ParseAliasCSV(r)
	case "fortigate":
		p := parser.NewFortiGateParser(r)
		if err := p.Parse(); err != nil {
			return nil, err
		}
		for _, name := range p.Skipped {
			slog.Debug("Skipped non-host address object", "name", name)
		}
		return p.Entries, nil
	default:
		return nil, fmt.Errorf("unknown alias format: %s", format)
	}
}
