package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"policy-compiler/internal/alias"
	"policy-compiler/internal/config"
	"policy-compiler/internal/dispatch"
	"policy-compiler/internal/engine"
	"policy-compiler/internal/metrics"
	"policy-compiler/internal/model"
	"policy-compiler/pkg/wellknown"
)

var (
	configFile      string
	logLevel        string
	logFile         string
	catalogFile     string
	watchCatalog    bool
	aliasDriver     string
	aliasDSN        string
	preferredTarget string
	dispatchMode    string
	devices         []string
	metricsFile     string
	inputFile       string
)

// cfg is the effective configuration: the config file with flag overrides.
var cfg *config.Config

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "policyc",
		Short: "Compile plain-language firewall policy into iptables rules",
		Long: `policyc turns statements such as "on gateway deny ssh from 10.0.0.5" into
	iptables rules bound to the device that must enforce them.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadSettings,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "policyc.yaml", "Configuration file")
	flags.StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Log level (DEBUG, INFO, WARN, ERROR)")
	flags.StringVar(&logFile, "log-file", "", "Log file path (default: stderr)")
	flags.StringVar(&catalogFile, "services", "", "Service catalog file (JSON, YAML or CSV; default: built-in table)")
	flags.StringVar(&aliasDriver, "alias-driver", config.DefaultAliasDriver, "Alias store driver: 'sqlite' or 'mysql'")
	flags.StringVar(&aliasDSN, "alias-dsn", config.DefaultAliasDSN, "Alias store data source name")
	flags.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile on exit")

	rootCmd.AddCommand(newCompileCmd(), newShellCmd(), newBatchCmd(), newAliasCmd(), newServicesCmd())
	return rootCmd
}

// addDispatchFlags registers the flags shared by commands that deliver rules.
func addDispatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&preferredTarget, "target", "t", "", "Preferred enforcement device for statements without an explicit target")
	cmd.Flags().StringVar(&dispatchMode, "dispatch", config.DispatchPreview, "Dispatch mode: 'preview' (print rules) or 'local' (apply with iptables)")
	cmd.Flags().StringSliceVar(&devices, "device", nil, "Connected device address (repeatable; default: all devices)")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func loadSettings(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configFile)
	if err != nil {
		return err
	}

	changed := cmd.Flags().Changed
	if changed("log-level") {
		c.Log.Level = logLevel
	}
	if changed("log-file") {
		c.Log.File = logFile
	}
	if changed("services") {
		c.Catalog.Path = catalogFile
	}
	if changed("watch") {
		c.Catalog.Watch = watchCatalog
	}
	if changed("alias-driver") {
		c.Aliases.Driver = aliasDriver
	}
	if changed("alias-dsn") {
		c.Aliases.DSN = aliasDSN
	}
	if changed("metrics-file") {
		c.Metrics.Textfile = metricsFile
	}
	if changed("target") {
		c.PreferredTarget = preferredTarget
	}
	if changed("dispatch") {
		c.Dispatch.Mode = dispatchMode
	}
	if changed("device") {
		c.Devices = devices
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = c

	slog.SetDefault(setupLogger(cfg.Log.Level, cfg.Log.File))
	return nil
}

func setupLogger(level, logFilePath string) *slog.Logger {
	var logWriter io.Writer = os.Stderr
	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			logWriter = f
		}
		// We don't log an error here because the logger isn't set up yet.
		// It will just fall back to stderr.
	}

	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "INFO":
		lvl = slog.LevelInfo
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: lvl}))
}

// session bundles what a compile needs: the alias registry backed by its
// store, and the service catalog.
type session struct {
	store    *alias.SQLStore
	aliases  *alias.Registry
	catalog  *wellknown.Catalog
	compiler *engine.Compiler
}

func openSession(ctx context.Context) (*session, error) {
	store, err := alias.OpenSQLStore(ctx, cfg.Aliases.Driver, cfg.Aliases.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open alias store: %w", err)
	}
	entries, err := store.Load(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load aliases: %w", err)
	}
	registry := alias.NewRegistry(slog.Default())
	if _, err := registry.Load(entries); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load aliases: %w", err)
	}
	slog.Info("Loaded aliases", "driver", cfg.Aliases.Driver, "count", len(entries))

	// An unloadable catalog is not fatal; every lookup then misses.
	catalog, err := wellknown.NewCatalog(cfg.Catalog.Path, slog.Default())
	if err != nil {
		slog.Warn("Service catalog unavailable", "path", cfg.Catalog.Path, "error", err)
	}

	return &session{
		store:    store,
		aliases:  registry,
		catalog:  catalog,
		compiler: engine.NewCompiler(registry, catalog, nil, slog.Default()),
	}, nil
}

func (s *session) Close() {
	s.store.Close()
}

// dispatcher builds the delivery side from the configuration.
func (s *session) dispatcher(out io.Writer) (dispatch.Dispatcher, dispatch.DeviceRegistry, error) {
	var reg dispatch.DeviceRegistry
	if len(cfg.Devices) > 0 {
		reg = dispatch.NewStaticRegistry(cfg.Devices)
	}
	switch cfg.Dispatch.Mode {
	case config.DispatchLocal:
		applier, err := dispatch.NewLocalApplier(slog.Default())
		if err != nil {
			return nil, nil, err
		}
		if reg == nil {
			reg = applier
		}
		return applier, reg, nil
	default:
		return dispatch.NewPreviewWriter(out, s.aliases), reg, nil
	}
}

func newCompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile [statement...]",
		Short: "Compile policy statements and dispatch the resulting rules",
		Example: `  policyc compile "on gateway deny ssh from 10.0.0.5"
  policyc compile -f policy.txt --dispatch local`,
		RunE: runCompile,
	}
	addDispatchFlags(cmd)
	cmd.Flags().StringVarP(&inputFile, "file", "f", "", "Read statements from a file ('-' for stdin)")
	return cmd
}

func runCompile(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if inputFile != "" {
		data, err := readInput(cmd, inputFile)
		if err != nil {
			return err
		}
		text = data
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("no policy statements given")
	}

	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	defer writeMetrics()

	return compileAndDispatch(ctx, cmd, s, text)
}

func compileAndDispatch(ctx context.Context, cmd *cobra.Command, s *session, text string) error {
	res := s.compiler.Compile(text, engine.Options{PreferredTarget: cfg.PreferredTarget})
	reportClauses(cmd.ErrOrStderr(), res)

	d, reg, err := s.dispatcher(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	report := dispatch.Run(ctx, d, reg, res.ByDevice(), slog.Default())
	slog.Info("Dispatch finished", "compile_id", res.ID.String(), "delivered", report.Delivered,
		"unreachable", report.Unreachable, "failed", report.Failed)
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d rule deliveries failed", report.Failed, len(report.Deliveries))
	}
	return nil
}

// reportClauses tells the operator which clauses produced nothing.
func reportClauses(w io.Writer, res *engine.Result) {
	for _, cr := range res.Clauses {
		if cr.OK() {
			slog.Debug("Clause compiled", "compile_id", res.ID.String(), "clause", cr.Clause, "rules", engine.Describe(cr))
			continue
		}
		fmt.Fprintf(w, "clause %d %q: %s\n", cr.Index+1, cr.Clause, describeReason(cr))
	}
}

func describeReason(cr *model.ClauseResult) string {
	for _, d := range cr.Diagnostics {
		if d.Code == cr.Reason {
			return fmt.Sprintf("%s (%s)", cr.Reason, d.Message)
		}
	}
	return string(cr.Reason)
}

func newShellCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Read policy statements from stdin line by line",
		Long: `shell compiles and dispatches each line read from stdin until EOF or
	interrupt. With --watch the service catalog file is reloaded when it changes.`,
		RunE: runShell,
	}
	addDispatchFlags(cmd)
	cmd.Flags().BoolVar(&watchCatalog, "watch", false, "Reload the service catalog file when it changes")
	return cmd
}

func runShell(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	defer writeMetrics()

	if cfg.Catalog.Watch && cfg.Catalog.Path != "" {
		go func() {
			if err := s.catalog.Watch(ctx); err != nil {
				slog.Error("Catalog watcher stopped", "error", err)
			}
		}()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := compileAndDispatch(ctx, cmd, s, line); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}
		}
	}
}

func newServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List the service catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := wellknown.NewCatalog(cfg.Catalog.Path, slog.Default())
			if err != nil {
				return err
			}
			table := catalog.Snapshot()
			out := cmd.OutOrStdout()
			for _, name := range table.Names() {
				ports, _ := table.Lookup(name)
				fmt.Fprintf(out, "%s\t%s\n", name, formatPorts(ports))
			}
			return nil
		},
	}
}

func formatPorts(ports []model.ServicePort) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		if p.Port > 0 {
			parts = append(parts, fmt.Sprintf("%s/%d", p.Protocol, p.Port))
		} else {
			parts = append(parts, string(p.Protocol))
		}
	}
	return strings.Join(parts, ",")
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func writeMetrics() {
	if cfg == nil || cfg.Metrics.Textfile == "" {
		return
	}
	start := time.Now()
	if err := metrics.Get().WriteTextfile(cfg.Metrics.Textfile); err != nil {
		slog.Error("Failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		return
	}
	slog.Debug("Wrote metrics textfile", "path", cfg.Metrics.Textfile, "duration", time.Since(start))
}
