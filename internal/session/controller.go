// Package session implements the tracing session state machine.
//
// DESIGN: Two independent pieces of state:
//   - Configuration: durable key-value store (ConfigStore), survives shells
//   - Activity:      a marker file next to the trace file, polled by the runtime
//
// Each operation is a single guarded transition. Nothing chains: start does
// not configure, stop does not unconfigure.
//
// Start and stop validate in a fixed order: configuration present, trace path
// absolute, then marker state. A stale marker therefore never masks a missing
// configuration.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/dotnet-profile/internal/eventpipe"
	"github.com/compresr/dotnet-profile/internal/monitoring"
)

// ConfigStore persists the tracing configuration.
type ConfigStore interface {
	// Write replaces whatever is stored with cfg. Fields cfg does not carry
	// are removed, so nothing from an earlier configuration survives.
	Write(cfg eventpipe.Configuration) error
	Clear() error
	Read() (eventpipe.Configuration, error)
}

// Recorder receives an event for every completed operation.
type Recorder interface {
	RecordTransition(event monitoring.TransitionEvent)
}

// Request carries the caller-supplied fields for Configure.
// Zero values mean "not supplied", except Rundown which is always applied.
type Request struct {
	FilePath   string
	Providers  string
	CircularMB uint32
	Rundown    bool
}

// Status is a read-only snapshot of configuration and session state.
type Status struct {
	Configured bool                    `json:"configured"`
	Valid      bool                    `json:"valid"`
	Started    bool                    `json:"started"`
	MarkerPath string                  `json:"marker_path,omitempty"`
	Config     eventpipe.Configuration `json:"config"`
}

// Controller runs configure/unconfigure/start/stop against a ConfigStore
// and the session marker file.
type Controller struct {
	store    ConfigStore
	recorder Recorder
	atomic   bool
	absPath  func(string) (string, error)
	now      func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithRecorder sends transition events to r.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithAtomicMarker switches marker handling to exclusive create and
// remove-if-present, closing the check-then-act window between concurrent
// invocations.
func WithAtomicMarker(enabled bool) Option {
	return func(c *Controller) { c.atomic = enabled }
}

// New creates a controller over store.
func New(store ConfigStore, opts ...Option) *Controller {
	c := &Controller{
		store:   store,
		absPath: filepath.Abs,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Configure replaces the stored configuration with one built from req.
// The replacement is a single store write: on failure the previous
// configuration is left as it was.
func (c *Controller) Configure(req Request) (cfg eventpipe.Configuration, err error) {
	defer func() { c.record(monitoring.OpConfigure, cfg.TraceFilePath, "", err) }()

	cfg = eventpipe.New()
	if req.CircularMB > 0 {
		cfg.CircularMB = req.CircularMB
	}
	if req.FilePath != "" {
		abs, err := c.absPath(req.FilePath)
		if err != nil {
			return cfg, fmt.Errorf("failed to resolve trace file path '%s': %w", req.FilePath, err)
		}
		cfg.TraceFilePath = abs
	}
	if req.Providers != "" {
		cfg.ProviderConfiguration = req.Providers
	}
	cfg.Rundown = req.Rundown

	if err := c.store.Write(cfg); err != nil {
		return cfg, fmt.Errorf("failed to write configuration: %w", err)
	}

	log.Info().
		Str("trace_file", cfg.TraceFilePath).
		Str("providers", cfg.ProviderConfiguration).
		Uint32("circular_mb", cfg.CircularMB).
		Bool("rundown", cfg.Rundown).
		Msg("tracing configured")
	return cfg, nil
}

// Unconfigure removes the stored configuration. Safe to repeat.
func (c *Controller) Unconfigure() (err error) {
	defer func() { c.record(monitoring.OpUnconfigure, "", "", err) }()

	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear configuration: %w", err)
	}
	log.Info().Msg("tracing configuration cleared")
	return nil
}

// Start creates the session marker. It returns the marker path.
func (c *Controller) Start() (marker string, err error) {
	var cfg eventpipe.Configuration
	defer func() { c.record(monitoring.OpStart, cfg.TraceFilePath, marker, err) }()

	cfg, err = c.load()
	if err != nil {
		return "", err
	}
	marker = cfg.MarkerPath()

	if err := c.createMarker(marker); err != nil {
		return marker, err
	}
	log.Info().Str("marker", marker).Msg("tracing started")
	return marker, nil
}

// Stop removes the session marker. It returns the marker path.
func (c *Controller) Stop() (marker string, err error) {
	var cfg eventpipe.Configuration
	defer func() { c.record(monitoring.OpStop, cfg.TraceFilePath, marker, err) }()

	cfg, err = c.load()
	if err != nil {
		return "", err
	}
	marker = cfg.MarkerPath()

	if err := c.removeMarker(marker); err != nil {
		return marker, err
	}
	log.Info().Str("marker", marker).Msg("tracing stopped")
	return marker, nil
}

// Status reports the stored configuration and whether a session is active.
// An absent configuration is reported, not returned as an error.
func (c *Controller) Status() (Status, error) {
	cfg, err := c.store.Read()
	if err != nil {
		return Status{}, fmt.Errorf("failed to read configuration: %w", err)
	}

	st := Status{
		Configured: cfg.Configured(),
		Valid:      cfg.Configured() && cfg.HasValidTraceFile(),
		Config:     cfg,
	}
	if !st.Valid {
		return st, nil
	}

	st.MarkerPath = cfg.MarkerPath()
	st.Started, err = exists(st.MarkerPath)
	if err != nil {
		return st, err
	}
	return st, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// load reads the configuration and applies the shared start/stop guards.
func (c *Controller) load() (eventpipe.Configuration, error) {
	cfg, err := c.store.Read()
	if err != nil {
		return cfg, fmt.Errorf("failed to read configuration: %w", err)
	}
	if !cfg.Configured() {
		return cfg, ErrNotConfigured
	}
	if !cfg.HasValidTraceFile() {
		log.Debug().Str("trace_file", cfg.TraceFilePath).Msg("stored trace file path is not absolute")
		return cfg, ErrNotConfigured
	}
	return cfg, nil
}

func (c *Controller) createMarker(path string) error {
	if c.atomic {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, fs.ErrExist) {
			return ErrAlreadyStarted
		}
		if err != nil {
			return fmt.Errorf("failed to create marker '%s': %w", path, err)
		}
		return f.Close()
	}

	// Check-then-create: two racing starts can both succeed.
	found, err := exists(path)
	if err != nil {
		return err
	}
	if found {
		return ErrAlreadyStarted
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create marker '%s': %w", path, err)
	}
	return f.Close()
}

func (c *Controller) removeMarker(path string) error {
	if c.atomic {
		err := os.Remove(path)
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotStarted
		}
		if err != nil {
			return fmt.Errorf("failed to remove marker '%s': %w", path, err)
		}
		return nil
	}

	found, err := exists(path)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotStarted
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove marker '%s': %w", path, err)
	}
	return nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat marker '%s': %w", path, err)
}

func (c *Controller) record(op monitoring.Operation, traceFile, marker string, err error) {
	if c.recorder == nil {
		return
	}
	event := monitoring.TransitionEvent{
		Timestamp:  c.now(),
		Operation:  op,
		Result:     Classify(err).String(),
		TraceFile:  traceFile,
		MarkerPath: marker,
	}
	if err != nil {
		event.Error = err.Error()
	}
	c.recorder.RecordTransition(event)
}
