// Package eventpipe defines the EventPipe tracing configuration record.
//
// DESIGN: The configuration is a flat value object mapped onto five
// well-known environment variables. The runtime reads those variables at
// process start, so the names are fixed and must not change.
//
// FILES:
//   - configuration.go: Configuration, keys, marker path
//   - codec.go:         Encode/Decode between Configuration and key/value pairs
package eventpipe

import "path/filepath"

// Environment variable names read by the runtime.
const (
	KeyEnable                = "COMPlus_EnableEventPipe"
	KeyProviderConfiguration = "COMPlus_EventPipeConfig"
	KeyRundown               = "COMPlus_EventPipeRundown"
	KeyCircularMB            = "COMPlus_EventPipeCircularMB"
	KeyOutputFile            = "COMPlus_EventPipeOutputFile"
)

// Keys lists every key owned by this tool, in write order.
var Keys = []string{
	KeyEnable,
	KeyProviderConfiguration,
	KeyOutputFile,
	KeyCircularMB,
	KeyRundown,
}

// MarkerSuffix is appended to the trace file path to build the marker path.
const MarkerSuffix = ".ctl"

// DefaultEnableValue lets tracing be enabled on demand.
const DefaultEnableValue uint32 = 4

// Configuration is the persisted tracing configuration.
type Configuration struct {
	EnableValue           uint32 `json:"enable_value"`           // 0 means absent
	ProviderConfiguration string `json:"provider_configuration"` // Opaque provider filter, never parsed
	TraceFilePath         string `json:"trace_file_path"`        // Absolute path of the trace output
	CircularMB            uint32 `json:"circular_mb"`            // 0 means runtime default
	Rundown               bool   `json:"rundown"`                // Emit rundown events at session end
}

// New returns a configuration suitable for composing a set request.
func New() Configuration {
	return Configuration{EnableValue: DefaultEnableValue}
}

// Absent returns the read-side default: nothing configured.
func Absent() Configuration {
	return Configuration{}
}

// Configured reports whether the configuration is present.
// Only EnableValue decides; other fields are ignored when it is zero.
func (c Configuration) Configured() bool {
	return c.EnableValue != 0
}

// HasValidTraceFile reports whether TraceFilePath can be used to drive a session.
func (c Configuration) HasValidTraceFile() bool {
	return c.TraceFilePath != "" && filepath.IsAbs(c.TraceFilePath)
}

// MarkerPath returns the session marker path for this configuration.
func (c Configuration) MarkerPath() string {
	return c.TraceFilePath + MarkerSuffix
}
