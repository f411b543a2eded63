// Package config provides the configuration schema, loader, and change
// watcher for the rapport social-graph host.
package config

import "time"

// LogLevel controls log verbosity for the rapport host.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == FormatText || f == FormatJSON
}

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultTickInterval = time.Second
	DefaultPollInterval = 2 * time.Second
	DefaultCascadeLimit = 32
)

// Config is the root configuration structure for rapport.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Library  LibraryConfig  `yaml:"library"`
	Scenario ScenarioConfig `yaml:"scenario"`
}

// ServerConfig holds logging and telemetry settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log records.
	LogFormat LogFormat `yaml:"log_format"`

	// MetricsAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9090"). Empty disables the HTTP listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// OTLPEndpoint is the host:port of an OTLP/gRPC trace collector. Empty
	// keeps spans in-process.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// OTLPInsecure disables TLS towards OTLPEndpoint.
	OTLPInsecure bool `yaml:"otlp_insecure"`
}

// EngineConfig tunes the social engine and its tick loop.
type EngineConfig struct {
	// TickInterval is the wall-clock time between engine ticks.
	// Hot-reloadable.
	TickInterval time.Duration `yaml:"tick_interval"`

	// MaxTicks stops the tick loop after this many ticks. 0 runs until the
	// process is signalled.
	MaxTicks int `yaml:"max_ticks"`

	// CascadeLimit bounds the nesting of trait and rule cascades.
	CascadeLimit int `yaml:"cascade_limit"`
}

// LibraryConfig lists the definition documents that make up the library.
type LibraryConfig struct {
	// Files are loaded in order and merged into one library. Relative
	// paths are resolved against the config file's directory by [Load].
	Files []string `yaml:"files"`
}

// ScenarioConfig selects a scenario script run against the engine.
type ScenarioConfig struct {
	// File is the scenario script. Empty runs no scenario.
	File string `yaml:"file"`

	// Watch re-runs the scenario against a fresh engine whenever the config,
	// a library file or the scenario file changes.
	Watch bool `yaml:"watch"`

	// PollInterval is the watcher's polling period.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = FormatText
	}
	if c.Engine.TickInterval == 0 {
		c.Engine.TickInterval = DefaultTickInterval
	}
	if c.Engine.CascadeLimit == 0 {
		c.Engine.CascadeLimit = DefaultCascadeLimit
	}
	if c.Scenario.PollInterval == 0 {
		c.Scenario.PollInterval = DefaultPollInterval
	}
}

// Files returns every file the configuration refers to: library documents
// first, then the scenario script if set.
func (c *Config) Files() []string {
	files := append([]string(nil), c.Library.Files...)
	if c.Scenario.File != "" {
		files = append(files, c.Scenario.File)
	}
	return files
}
