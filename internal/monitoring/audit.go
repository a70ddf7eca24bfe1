// Package monitoring - audit.go records session transitions to a JSONL file.
//
// DESIGN: Tracker appends one TransitionEvent per operation (one JSON object
// per line). Each CLI invocation is a separate process, so the file is opened
// in append mode for every event and never held open.
//
// Audit failures are logged and swallowed: they never change an operation's
// outcome.
package monitoring

import (
	"encoding/json"
	"os"
	"os/user"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Tracker handles audit event recording.
type Tracker struct {
	config AuditConfig
	count  int
	user   string
	mu     sync.Mutex
}

// NewTracker creates a new audit tracker. The directory for the audit file is
// created up front so a misconfigured path fails early.
func NewTracker(cfg AuditConfig) (*Tracker, error) {
	t := &Tracker{config: cfg}

	if !cfg.Enabled || cfg.Path == "" {
		return t, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, err
	}
	if u, err := user.Current(); err == nil {
		t.user = u.Username
	}

	return t, nil
}

// Enabled returns true if events are written anywhere.
func (t *Tracker) Enabled() bool {
	return t.config.Enabled && t.config.Path != ""
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// RecordTransition records one operation.
func (t *Tracker) RecordTransition(event TransitionEvent) {
	if !t.Enabled() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.PID == 0 {
		event.PID = os.Getpid()
	}
	if event.User == "" {
		event.User = t.user
	}

	if err := appendJSONL(t.config.Path, event); err != nil {
		log.Warn().Err(err).Str("path", t.config.Path).Msg("audit: failed to write transition event")
		return
	}
	t.count++

	log.Debug().
		Str("id", event.ID).
		Str("operation", string(event.Operation)).
		Str("result", event.Result).
		Msg("audit: recorded transition")
}

// Count returns the number of events written by this tracker.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Close is kept for interface compatibility.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count > 0 {
		log.Debug().
			Str("path", t.config.Path).
			Int("events", t.count).
			Msg("audit: session complete")
	}

	return nil
}
