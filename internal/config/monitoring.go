// Monitoring configuration - logging and audit settings.
//
// DESIGN: Separates logging (zerolog) from the audit trail (JSONL file).
// Logging is for operators debugging the tool, the audit trail records who
// started and stopped tracing, and when.
package config

// MonitoringConfig contains all monitoring settings.
type MonitoringConfig struct {
	// Logging settings
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console
	LogOutput string `yaml:"log_output"` // stdout, stderr, or file path

	// Audit settings
	AuditEnabled bool   `yaml:"audit_enabled"` // Record every operation
	AuditPath    string `yaml:"audit_path"`    // Path to audit JSONL file
}
