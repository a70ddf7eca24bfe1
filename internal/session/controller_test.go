package session_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/dotnet-profile/internal/eventpipe"
	"github.com/compresr/dotnet-profile/internal/monitoring"
	"github.com/compresr/dotnet-profile/internal/session"
	"github.com/compresr/dotnet-profile/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []monitoring.TransitionEvent
}

func (r *recorder) RecordTransition(e monitoring.TransitionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// markerModes runs each test against both marker strategies.
var markerModes = map[string]bool{
	"check_then_act": false,
	"atomic":         true,
}

func newController(t *testing.T, atomic bool) (*session.Controller, *store.EnvStore) {
	t.Helper()
	s := store.NewEnvStore(store.NewMemoryStore())
	return session.New(s, session.WithAtomicMarker(atomic)), s
}

func fileExists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	require.NoError(t, err)
	return true
}

// =============================================================================
// CONFIGURE / UNCONFIGURE
// =============================================================================

func TestConfigure_RoundTrip(t *testing.T) {
	ctl, s := newController(t, false)
	trace := filepath.Join(t.TempDir(), "app.nettrace")

	_, err := ctl.Configure(session.Request{
		FilePath:   trace,
		Providers:  "MyProvider:0x1:4",
		CircularMB: 128,
		Rundown:    false,
	})
	require.NoError(t, err)

	cfg, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, eventpipe.Configuration{
		EnableValue:           4,
		ProviderConfiguration: "MyProvider:0x1:4",
		TraceFilePath:         trace,
		CircularMB:            128,
		Rundown:               false,
	}, cfg)
}

func TestConfigure_OmittedFieldsUseDefaults(t *testing.T) {
	ctl, s := newController(t, false)

	_, err := ctl.Configure(session.Request{FilePath: "/tmp/t.trace", Rundown: true})
	require.NoError(t, err)

	cfg, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), cfg.EnableValue)
	assert.Empty(t, cfg.ProviderConfiguration)
	assert.Zero(t, cfg.CircularMB)
	assert.True(t, cfg.Rundown)
}

func TestConfigure_RelativePathIsMadeAbsolute(t *testing.T) {
	ctl, _ := newController(t, false)
	wd, err := os.Getwd()
	require.NoError(t, err)

	cfg, err := ctl.Configure(session.Request{FilePath: "out/t.trace", Rundown: true})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "out", "t.trace"), cfg.TraceFilePath)
}

func TestConfigure_ReplacesPreviousConfiguration(t *testing.T) {
	ctl, s := newController(t, false)

	_, err := ctl.Configure(session.Request{
		FilePath:   "/tmp/first.trace",
		Providers:  "First",
		CircularMB: 64,
		Rundown:    true,
	})
	require.NoError(t, err)
	_, err = ctl.Configure(session.Request{FilePath: "/tmp/second.trace"})
	require.NoError(t, err)

	cfg, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/second.trace", cfg.TraceFilePath)
	assert.Empty(t, cfg.ProviderConfiguration, "configure replaces, it does not merge")
	assert.Zero(t, cfg.CircularMB)
	assert.False(t, cfg.Rundown)
}

func TestUnconfigure_Idempotent(t *testing.T) {
	ctl, s := newController(t, false)
	_, err := ctl.Configure(session.Request{FilePath: "/tmp/t.trace", Rundown: true})
	require.NoError(t, err)

	require.NoError(t, ctl.Unconfigure())
	cfg, err := s.Read()
	require.NoError(t, err)
	assert.False(t, cfg.Configured())

	require.NoError(t, ctl.Unconfigure())
	cfg, err = s.Read()
	require.NoError(t, err)
	assert.Equal(t, eventpipe.Absent(), cfg)
}

// batchBackend counts Apply calls and fails them once armed.
type batchBackend struct {
	store.Backend
	applies int
	fail    error
}

func (b *batchBackend) Apply(set map[string]string, unset []string) error {
	b.applies++
	if b.fail != nil {
		return b.fail
	}
	return b.Backend.Apply(set, unset)
}

func TestConfigure_ReplacesInOneBackendStep(t *testing.T) {
	backend := &batchBackend{Backend: store.NewMemoryStore()}
	s := store.NewEnvStore(backend)
	ctl := session.New(s)

	_, err := ctl.Configure(session.Request{
		FilePath:   "/tmp/first.trace",
		Providers:  "First",
		CircularMB: 64,
		Rundown:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.applies)

	backend.fail = errors.New("disk full")
	_, err = ctl.Configure(session.Request{FilePath: "/tmp/second.trace"})
	require.Error(t, err)
	assert.Equal(t, session.ResultUnexpected, session.Classify(err))
	assert.Equal(t, 2, backend.applies)

	backend.fail = nil
	cfg, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, eventpipe.Configuration{
		EnableValue:           4,
		ProviderConfiguration: "First",
		TraceFilePath:         "/tmp/first.trace",
		CircularMB:            64,
		Rundown:               true,
	}, cfg, "a failed configure leaves the previous configuration whole")
}

func newEnvFileController(t *testing.T) (*session.Controller, *store.EnvStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eventpipe.env")
	backend, err := store.NewEnvFile(path)
	require.NoError(t, err)
	s := store.NewEnvStore(backend)
	return session.New(s), s, path
}

func TestConfigure_EnvFileKeepsProvidersVerbatim(t *testing.T) {
	providers := []string{
		`Prov\`,
		"0010",
		"+5",
		"-0",
		`it's "quoted"`,
		`$HOME:${USER}`,
		"  padded  ",
		"a # not a comment",
	}
	for _, p := range providers {
		t.Run(p, func(t *testing.T) {
			ctl, s, _ := newEnvFileController(t)
			trace := filepath.Join(t.TempDir(), "it's here", "t.trace")

			_, err := ctl.Configure(session.Request{FilePath: trace, Providers: p, Rundown: true})
			require.NoError(t, err)

			cfg, err := s.Read()
			require.NoError(t, err)
			assert.Equal(t, p, cfg.ProviderConfiguration)
			assert.Equal(t, trace, cfg.TraceFilePath)

			require.NoError(t, ctl.Unconfigure())
			_, err = ctl.Start()
			assert.ErrorIs(t, err, session.ErrNotConfigured)
		})
	}
}

func TestConfigure_EnvFileRejectsUnstorableValueWithoutChange(t *testing.T) {
	ctl, s, path := newEnvFileController(t)
	_, err := ctl.Configure(session.Request{FilePath: "/tmp/first.trace", Providers: "First", Rundown: true})
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = ctl.Configure(session.Request{FilePath: "/tmp/second.trace", Providers: "$it's\\"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnrepresentable)
	assert.Equal(t, session.ResultUnexpected, session.Classify(err))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	cfg, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/first.trace", cfg.TraceFilePath)
	assert.Equal(t, "First", cfg.ProviderConfiguration)
}

// =============================================================================
// START / STOP
// =============================================================================

func TestStartStop_StateMachine(t *testing.T) {
	for name, atomic := range markerModes {
		t.Run(name, func(t *testing.T) {
			ctl, _ := newController(t, atomic)
			trace := filepath.Join(t.TempDir(), "t.trace")
			_, err := ctl.Configure(session.Request{FilePath: trace, Rundown: true})
			require.NoError(t, err)

			marker, err := ctl.Start()
			require.NoError(t, err)
			assert.Equal(t, trace+".ctl", marker)
			assert.True(t, fileExists(t, marker))

			_, err = ctl.Start()
			assert.ErrorIs(t, err, session.ErrAlreadyStarted)

			_, err = ctl.Stop()
			require.NoError(t, err)
			assert.False(t, fileExists(t, marker))

			_, err = ctl.Stop()
			assert.ErrorIs(t, err, session.ErrNotStarted)
		})
	}
}

func TestStart_MarkerIsEmptyAndTraceUntouched(t *testing.T) {
	ctl, _ := newController(t, false)
	trace := filepath.Join(t.TempDir(), "t.trace")
	_, err := ctl.Configure(session.Request{FilePath: trace, Rundown: true})
	require.NoError(t, err)

	marker, err := ctl.Start()
	require.NoError(t, err)

	info, err := os.Stat(marker)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
	assert.False(t, fileExists(t, trace), "the runtime writes the trace, not the controller")
}

func TestStartStop_NotConfigured(t *testing.T) {
	for name, atomic := range markerModes {
		t.Run(name, func(t *testing.T) {
			ctl, _ := newController(t, atomic)

			_, err := ctl.Start()
			assert.ErrorIs(t, err, session.ErrNotConfigured)
			_, err = ctl.Stop()
			assert.ErrorIs(t, err, session.ErrNotConfigured)
		})
	}
}

func TestStart_StaleMarkerDoesNotMaskMissingConfiguration(t *testing.T) {
	for name, atomic := range markerModes {
		t.Run(name, func(t *testing.T) {
			ctl, s := newController(t, atomic)
			trace := filepath.Join(t.TempDir(), "t.trace")
			require.NoError(t, os.WriteFile(trace+eventpipe.MarkerSuffix, nil, 0644))

			// Every field set except the enable value: still absent.
			require.NoError(t, s.Write(eventpipe.Configuration{
				EnableValue:   0,
				TraceFilePath: trace,
				Rundown:       true,
			}))

			_, err := ctl.Start()
			assert.ErrorIs(t, err, session.ErrNotConfigured)
			assert.NotErrorIs(t, err, session.ErrAlreadyStarted)
		})
	}
}

func TestStart_RelativeStoredPathIsNotConfigured(t *testing.T) {
	for name, atomic := range markerModes {
		t.Run(name, func(t *testing.T) {
			ctl, s := newController(t, atomic)
			require.NoError(t, s.Write(eventpipe.Configuration{
				EnableValue:   4,
				TraceFilePath: "relative/t.trace",
				Rundown:       true,
			}))

			_, err := ctl.Start()
			assert.ErrorIs(t, err, session.ErrNotConfigured)
			_, err = ctl.Stop()
			assert.ErrorIs(t, err, session.ErrNotConfigured)
		})
	}
}

func TestStart_MissingPathIsNotConfigured(t *testing.T) {
	ctl, s := newController(t, false)
	require.NoError(t, s.Write(eventpipe.New()))

	_, err := ctl.Start()
	assert.ErrorIs(t, err, session.ErrNotConfigured)
}

func TestStart_MalformedStoreIsUnexpected(t *testing.T) {
	backend := store.NewMemoryStore()
	require.NoError(t, backend.Apply(map[string]string{eventpipe.KeyEnable: "four"}, nil))
	ctl := session.New(store.NewEnvStore(backend))

	_, err := ctl.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, eventpipe.ErrMalformedValue)
	assert.Equal(t, session.ResultUnexpected, session.Classify(err))
}

func TestStart_MarkerDirectoryMissingIsUnexpected(t *testing.T) {
	for name, atomic := range markerModes {
		t.Run(name, func(t *testing.T) {
			ctl, _ := newController(t, atomic)
			trace := filepath.Join(t.TempDir(), "missing-dir", "t.trace")
			_, err := ctl.Configure(session.Request{FilePath: trace, Rundown: true})
			require.NoError(t, err)

			_, err = ctl.Start()
			require.Error(t, err)
			assert.Equal(t, session.ResultUnexpected, session.Classify(err))
		})
	}
}

// Concrete end-to-end scenario: configure, start, stop, unconfigure, start.
func TestScenario_FullLifecycle(t *testing.T) {
	ctl, _ := newController(t, false)
	trace := filepath.Join(t.TempDir(), "t.trace")

	_, err := ctl.Configure(session.Request{
		FilePath:   trace,
		Providers:  "MyProvider",
		CircularMB: 0,
		Rundown:    true,
	})
	require.NoError(t, err)

	marker, err := ctl.Start()
	require.NoError(t, err)
	assert.Equal(t, trace+".ctl", marker)
	assert.True(t, fileExists(t, marker))

	_, err = ctl.Stop()
	require.NoError(t, err)
	assert.False(t, fileExists(t, marker))

	require.NoError(t, ctl.Unconfigure())

	_, err = ctl.Start()
	assert.ErrorIs(t, err, session.ErrNotConfigured)
}

// =============================================================================
// ATOMIC MARKER RACE
// =============================================================================

func TestAtomicMarker_ConcurrentStartsHaveOneWinner(t *testing.T) {
	s := store.NewEnvStore(store.NewMemoryStore())
	trace := filepath.Join(t.TempDir(), "t.trace")
	_, err := session.New(s).Configure(session.Request{FilePath: trace, Rundown: true})
	require.NoError(t, err)

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := session.New(s, session.WithAtomicMarker(true)).Start()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, session.ErrAlreadyStarted):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, rejected)
}

// =============================================================================
// STATUS / RECORDER / CLASSIFY
// =============================================================================

func TestStatus(t *testing.T) {
	ctl, _ := newController(t, false)

	st, err := ctl.Status()
	require.NoError(t, err)
	assert.False(t, st.Configured)
	assert.False(t, st.Started)
	assert.Empty(t, st.MarkerPath)

	trace := filepath.Join(t.TempDir(), "t.trace")
	_, err = ctl.Configure(session.Request{FilePath: trace, Rundown: true})
	require.NoError(t, err)

	st, err = ctl.Status()
	require.NoError(t, err)
	assert.True(t, st.Configured)
	assert.True(t, st.Valid)
	assert.False(t, st.Started)
	assert.Equal(t, trace+".ctl", st.MarkerPath)

	_, err = ctl.Start()
	require.NoError(t, err)
	st, err = ctl.Status()
	require.NoError(t, err)
	assert.True(t, st.Started)
}

func TestRecorder_ReceivesEveryOperation(t *testing.T) {
	rec := &recorder{}
	s := store.NewEnvStore(store.NewMemoryStore())
	ctl := session.New(s, session.WithRecorder(rec))
	trace := filepath.Join(t.TempDir(), "t.trace")

	_, _ = ctl.Start()
	_, _ = ctl.Configure(session.Request{FilePath: trace, Rundown: true})
	_, _ = ctl.Start()
	_, _ = ctl.Stop()
	_ = ctl.Unconfigure()

	require.Len(t, rec.events, 5)
	assert.Equal(t, monitoring.OpStart, rec.events[0].Operation)
	assert.Equal(t, "handled", rec.events[0].Result)
	assert.Equal(t, session.ErrNotConfigured.Error(), rec.events[0].Error)

	assert.Equal(t, monitoring.OpConfigure, rec.events[1].Operation)
	assert.Equal(t, trace, rec.events[1].TraceFile)

	assert.Equal(t, monitoring.OpStart, rec.events[2].Operation)
	assert.Equal(t, "success", rec.events[2].Result)
	assert.Equal(t, trace+".ctl", rec.events[2].MarkerPath)

	assert.Equal(t, monitoring.OpStop, rec.events[3].Operation)
	assert.Equal(t, monitoring.OpUnconfigure, rec.events[4].Operation)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want session.Result
	}{
		{"nil", nil, session.ResultSuccess},
		{"not configured", session.ErrNotConfigured, session.ResultHandled},
		{"already started", session.ErrAlreadyStarted, session.ResultHandled},
		{"not started", session.ErrNotStarted, session.ResultHandled},
		{"malformed", eventpipe.ErrMalformedValue, session.ResultUnexpected},
		{"io", os.ErrPermission, session.ResultUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, session.Classify(tt.err))
		})
	}
}
