package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/tidwall/sjson"

	"github.com/compresr/dotnet-profile/internal/eventpipe"
	"github.com/compresr/dotnet-profile/internal/session"
)

// command is one CLI verb.
type command struct {
	name     string
	usage    string
	summary  string
	flags    func(fs *pflag.FlagSet)
	validate func(fs *pflag.FlagSet) error
	run      func(a *app, args []string) int
}

// commands returns a fresh set of verbs; flag state is captured per call.
func commands() map[string]*command {
	all := []*command{
		setConfigCommand(),
		clearConfigCommand(),
		startCommand(),
		stopCommand(),
		statusCommand(),
		envCommand(),
		runCommand(),
	}
	m := make(map[string]*command, len(all))
	for _, c := range all {
		m[c.name] = c
	}
	return m
}

// =============================================================================
// SESSION VERBS
// =============================================================================

func setConfigCommand() *command {
	var req session.Request
	return &command{
		name:    "set-config",
		usage:   "--file PATH [--providers STRING] [--circularmb N] [--rundown=true|false]",
		summary: "Set the profiling configuration for new .NET processes",
		flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&req.FilePath, "file", "", "the path to the trace file (required)")
			fs.StringVar(&req.Providers, "providers", "", "the provider configuration string")
			fs.Uint32Var(&req.CircularMB, "circularmb", 0, "the size of the circular buffer in megabytes")
			fs.BoolVar(&req.Rundown, "rundown", true, "whether or not rundown should be enabled")
		},
		validate: func(fs *pflag.FlagSet) error {
			if !fs.Changed("file") || req.FilePath == "" {
				return errors.New(`required flag "file" not set`)
			}
			return nil
		},
		run: func(a *app, _ []string) int {
			_, err := a.ctl.Configure(req)
			if err == nil {
				a.out.Println(msgConfigured)
				a.out.Info(`Load it into this shell with: eval "$(dotnet-profile env)"`)
			}
			return a.report(err)
		},
	}
}

func clearConfigCommand() *command {
	return &command{
		name:    "clear-config",
		summary: "Clear the profiling configuration for new .NET processes",
		run: func(a *app, _ []string) int {
			return a.report(a.ctl.Unconfigure())
		},
	}
}

func startCommand() *command {
	return &command{
		name:    "start",
		summary: "Start profiling",
		run: func(a *app, _ []string) int {
			_, err := a.ctl.Start()
			return a.report(err)
		},
	}
}

func stopCommand() *command {
	return &command{
		name:    "stop",
		summary: "Stop profiling",
		run: func(a *app, _ []string) int {
			_, err := a.ctl.Stop()
			return a.report(err)
		},
	}
}

// =============================================================================
// INSPECTION VERBS
// =============================================================================

func statusCommand() *command {
	var asJSON bool
	return &command{
		name:    "status",
		usage:   "[--json]",
		summary: "Show the stored configuration and whether tracing is started",
		flags: func(fs *pflag.FlagSet) {
			fs.BoolVar(&asJSON, "json", false, "print status as JSON")
		},
		run: func(a *app, _ []string) int {
			st, err := a.ctl.Status()
			if err != nil {
				return a.report(err)
			}
			if asJSON {
				js, err := statusJSON(st)
				if err != nil {
					return a.report(err)
				}
				a.out.Println(js)
				return exitOK
			}
			printStatus(a, st)
			return exitOK
		},
	}
}

// statusJSON renders st as a single-line JSON document.
func statusJSON(st session.Status) (string, error) {
	js := "{}"
	fields := []struct {
		path  string
		value any
	}{
		{"configured", st.Configured},
		{"valid", st.Valid},
		{"started", st.Started},
		{"marker_path", st.MarkerPath},
		{"config.enable_value", st.Config.EnableValue},
		{"config.provider_configuration", st.Config.ProviderConfiguration},
		{"config.trace_file_path", st.Config.TraceFilePath},
		{"config.circular_mb", st.Config.CircularMB},
		{"config.rundown", st.Config.Rundown},
	}
	for _, f := range fields {
		var err error
		if js, err = sjson.Set(js, f.path, f.value); err != nil {
			return "", fmt.Errorf("failed to encode %s: %w", f.path, err)
		}
	}
	return js, nil
}

func printStatus(a *app, st session.Status) {
	a.out.Header("EventPipe configuration")
	if !st.Configured {
		a.out.Warn("not configured (run dotnet-profile set-config)")
		return
	}

	cfg := st.Config
	a.out.Field("Enable value", fmt.Sprint(cfg.EnableValue))
	a.out.Field("Trace file", cfg.TraceFilePath)
	a.out.Field("Providers", cfg.ProviderConfiguration)
	circular := ""
	if cfg.CircularMB != 0 {
		circular = fmt.Sprintf("%d MB", cfg.CircularMB)
	}
	a.out.Field("Circular MB", circular)
	a.out.Field("Rundown", fmt.Sprint(cfg.Rundown))

	switch {
	case !st.Valid:
		a.out.Warn("trace file path is not absolute; run dotnet-profile set-config again")
	case st.Started:
		a.out.Success("tracing started (" + st.MarkerPath + ")")
	default:
		a.out.Info("tracing stopped")
	}
}

func envCommand() *command {
	var unset bool
	return &command{
		name:    "env",
		usage:   "[--unset]",
		summary: "Print shell commands exporting the stored configuration",
		flags: func(fs *pflag.FlagSet) {
			fs.BoolVar(&unset, "unset", false, "print unset commands for every EventPipe variable")
		},
		run: func(a *app, _ []string) int {
			if unset {
				for _, key := range eventpipe.Keys {
					a.out.Println("unset " + key)
				}
				return exitOK
			}

			env, err := a.store.Environ()
			if err != nil {
				return a.report(err)
			}
			for _, kv := range env {
				key, value, _ := strings.Cut(kv, "=")
				a.out.Println(fmt.Sprintf("export %s=%s", key, shellQuote(value)))
			}
			return exitOK
		},
	}
}

// =============================================================================
// CHILD PROCESS
// =============================================================================

func runCommand() *command {
	return &command{
		name:    "run",
		usage:   "-- COMMAND [ARGS...]",
		summary: "Run a command with the stored configuration in its environment",
		flags: func(fs *pflag.FlagSet) {
			fs.SetInterspersed(false)
		},
		validate: func(fs *pflag.FlagSet) error {
			if fs.NArg() == 0 {
				return errors.New("a command to run is required")
			}
			return nil
		},
		run: func(a *app, args []string) int {
			stored, err := a.store.Environ()
			if err != nil {
				return a.report(err)
			}

			// #nosec G204 -- the user asked to run exactly this command
			child := exec.Command(args[0], args[1:]...)
			child.Stdin = os.Stdin
			child.Stdout = a.out.Writer()
			child.Stderr = a.stderr
			child.Env = childEnviron(os.Environ(), stored)

			log.Debug().Strs("argv", args).Strs("env", stored).Msg("launching child process")

			// The child owns Ctrl+C; the parent just waits for it.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer func() {
				signal.Stop(sigCh)
				signal.Reset(syscall.SIGINT, syscall.SIGTERM)
			}()

			if err := child.Run(); err != nil {
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) {
					return exitErr.ExitCode()
				}
				return a.report(fmt.Errorf("failed to run %s: %w", args[0], err))
			}
			return exitOK
		},
	}
}

// childEnviron returns base without any inherited EventPipe variables,
// followed by the stored ones. The store is the only source of truth.
func childEnviron(base, stored []string) []string {
	owned := make(map[string]bool, len(eventpipe.Keys))
	for _, key := range eventpipe.Keys {
		owned[key] = true
	}

	env := make([]string, 0, len(base)+len(stored))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if owned[key] {
			continue
		}
		env = append(env, kv)
	}
	return append(env, stored...)
}

// shellQuote wraps arg in single quotes for POSIX shells.
func shellQuote(arg string) string {
	return "'" + strings.ReplaceAll(arg, "'", "'\\''") + "'"
}
