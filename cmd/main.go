// Package main is the entry point for dotnet-profile.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/compresr/dotnet-profile/internal/config"
	"github.com/compresr/dotnet-profile/internal/monitoring"
	"github.com/compresr/dotnet-profile/internal/session"
	"github.com/compresr/dotnet-profile/internal/store"
	"github.com/compresr/dotnet-profile/internal/tui"
)

// Process exit codes.
const (
	exitOK         = 0
	exitUsage      = 1
	exitHandled    = 2
	exitUnexpected = 3
)

// User-facing messages.
const (
	msgCompleted     = "Completed successfully."
	msgUnexpected    = "An unexpected error occurred."
	msgConfigured    = "The environment has been configured successfully.  Open a new shell to continue."
	msgNotConfigured = "dotnet-profile set-config must be run before tracing can be started."
	msgAlreadyStart  = "Tracing has already been started."
	msgNotStarted    = "Tracing must be started before it can be stopped."
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// globalFlags are accepted by every command.
type globalFlags struct {
	config string
	debug  bool
}

// app holds everything a command needs once settings are loaded.
type app struct {
	cfg     *config.Config
	store   *store.EnvStore
	ctl     *session.Controller
	tracker *monitoring.Tracker
	out     *tui.Printer
	stderr  io.Writer
}

// run dispatches args and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	setupLogging(config.MonitoringConfig{LogLevel: "warn", LogFormat: "console", LogOutput: "stderr"}, false, stderr)

	if len(args) == 0 {
		printHelp(stderr)
		return exitUsage
	}

	switch args[0] {
	case "version", "-v", "--version":
		printVersion(stdout)
		return exitOK
	case "help", "-h", "--help":
		printHelp(stdout)
		return exitOK
	}

	cmds := commands()
	cmd, ok := cmds[args[0]]
	if !ok {
		tui.NewPrinter(stderr).Error(fmt.Sprintf("Unknown command %q", args[0]))
		fmt.Fprintln(stderr)
		printHelp(stderr)
		return exitUsage
	}

	fs := pflag.NewFlagSet(cmd.name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: dotnet-profile %s %s\n\n%s\n\nFlags:\n", cmd.name, cmd.usage, cmd.summary)
		fs.PrintDefaults()
	}
	var g globalFlags
	fs.StringVar(&g.config, "config", "", "path to settings file")
	fs.BoolVar(&g.debug, "debug", false, "enable debug logging")
	if cmd.flags != nil {
		cmd.flags(fs)
	}

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if cmd.validate != nil {
		if err := cmd.validate(fs); err != nil {
			tui.NewPrinter(stderr).Error(err.Error())
			fmt.Fprintln(stderr)
			fs.Usage()
			return exitUsage
		}
	}

	a, err := newApp(g, stdout, stderr)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize")
		tui.NewPrinter(stdout).Println(msgUnexpected)
		return exitUnexpected
	}
	defer a.close()

	return cmd.run(a, fs.Args())
}

// newApp loads settings, configures logging and opens the store.
func newApp(g globalFlags, stdout, stderr io.Writer) (*app, error) {
	cfg, source, err := loadConfig(g.config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	setupLogging(cfg.Monitoring, g.debug, stderr)
	log.Debug().
		Str("config", source).
		Str("store_type", cfg.Store.Type).
		Str("store_path", cfg.Store.Path).
		Msg("configuration loaded")

	backend, err := store.Open(cfg.Store.Type, cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	tracker, err := monitoring.NewTracker(monitoring.AuditConfig{
		Enabled: cfg.Monitoring.AuditEnabled,
		Path:    cfg.Monitoring.AuditPath,
	})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}

	es := store.NewEnvStore(backend)
	return &app{
		cfg:     cfg,
		store:   es,
		tracker: tracker,
		ctl: session.New(es,
			session.WithRecorder(tracker),
			session.WithAtomicMarker(cfg.Session.AtomicMarker),
		),
		out:    tui.NewPrinter(stdout),
		stderr: stderr,
	}, nil
}

func (a *app) close() {
	if err := a.tracker.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close audit trail")
	}
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close store")
	}
}

// report prints the outcome of a session operation and returns the exit code.
func (a *app) report(err error) int {
	switch session.Classify(err) {
	case session.ResultSuccess:
		a.out.Println(msgCompleted)
		return exitOK
	case session.ResultHandled:
		a.out.Println(handledMessage(err))
		return exitHandled
	default:
		log.Error().Err(err).Msg("operation failed")
		a.out.Println(msgUnexpected)
		return exitUnexpected
	}
}

// handledMessage maps an expected session error onto its console text.
// A missing and an invalid configuration share one message.
func handledMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrNotConfigured):
		return msgNotConfigured
	case errors.Is(err, session.ErrAlreadyStarted):
		return msgAlreadyStart
	case errors.Is(err, session.ErrNotStarted):
		return msgNotStarted
	default:
		return err.Error()
	}
}

// setupLogging configures zerolog. Logs written to stderr go to the
// injected writer so callers (and tests) control where they land.
func setupLogging(m config.MonitoringConfig, debug bool, stderr io.Writer) {
	lc := monitoring.LoggerConfig{
		Level:  m.LogLevel,
		Format: m.LogFormat,
		Output: m.LogOutput,
	}
	if debug {
		lc.Level = "debug"
	}

	if lc.Output == "" || lc.Output == "stderr" {
		monitoring.GlobalLogger(monitoring.NewWithWriter(lc, stderr))
		return
	}
	monitoring.Global(lc)
}

// printHelp prints usage information
func printHelp(w io.Writer) {
	fmt.Fprintln(w, "dotnet-profile - toggle EventPipe tracing for new .NET processes")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  dotnet-profile <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")

	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-14s %s\n", name, cmds[name].summary)
	}
	fmt.Fprintf(w, "  %-14s %s\n", "version", "Print version information")
	fmt.Fprintf(w, "  %-14s %s\n", "help", "Show this help message")

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global Flags:")
	fmt.Fprintln(w, "  --config FILE   Settings file (default ~/.config/dotnet-profile/config.yaml)")
	fmt.Fprintln(w, "  --debug         Enable debug logging")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  dotnet-profile set-config --file /tmp/app.nettrace --providers Microsoft-DotNETCore-SampleProfiler")
	fmt.Fprintln(w, "  eval \"$(dotnet-profile env)\"")
	fmt.Fprintln(w, "  dotnet-profile start")
	fmt.Fprintln(w, "  dotnet-profile stop")
	fmt.Fprintln(w, "  dotnet-profile run -- dotnet myapp.dll")
}
