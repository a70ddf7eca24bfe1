// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by both session/ and monitoring/ packages.
// Defined here ONCE to avoid duplication and circular imports.
//
// TYPES:
//   - Operation:       Identifies which session operation ran
//   - TransitionEvent: Audit record for each operation
//   - Config types:    AuditConfig, LoggerConfig
package monitoring

import "time"

// =============================================================================
// OPERATIONS
// =============================================================================

// Operation identifies a session operation.
type Operation string

const (
	OpConfigure   Operation = "set-config"
	OpUnconfigure Operation = "clear-config"
	OpStart       Operation = "start"
	OpStop        Operation = "stop"
)

// =============================================================================
// EVENT TYPES - Structured data for the audit trail
// =============================================================================

// TransitionEvent captures one operation and its outcome.
type TransitionEvent struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Operation  Operation `json:"operation"`
	Result     string    `json:"result"` // success, handled, unexpected
	TraceFile  string    `json:"trace_file,omitempty"`
	MarkerPath string    `json:"marker_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	PID        int       `json:"pid"`
	User       string    `json:"user,omitempty"`
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// AuditConfig contains audit trail configuration.
type AuditConfig struct {
	Enabled bool
	Path    string
}

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}
