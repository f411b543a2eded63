package config

import (
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TickIntervalChanged bool
	NewTickInterval     time.Duration

	// LibraryChanged is true when the list of library files or the cascade
	// limit changed. Either requires a fresh engine.
	LibraryChanged bool

	// ScenarioChanged is true when the scenario file or its watch flag
	// changed.
	ScenarioChanged bool

	// RestartRequired names the fields that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// IsZero reports whether d records no change at all.
func (d ConfigDiff) IsZero() bool {
	return !d.LogLevelChanged && !d.TickIntervalChanged && !d.LibraryChanged &&
		!d.ScenarioChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Engine.TickInterval != new.Engine.TickInterval {
		d.TickIntervalChanged = true
		d.NewTickInterval = new.Engine.TickInterval
	}
	if !slices.Equal(old.Library.Files, new.Library.Files) || old.Engine.CascadeLimit != new.Engine.CascadeLimit {
		d.LibraryChanged = true
	}
	if old.Scenario.File != new.Scenario.File || old.Scenario.Watch != new.Scenario.Watch {
		d.ScenarioChanged = true
	}

	restart := []struct {
		field   string
		changed bool
	}{
		{"server.log_format", old.Server.LogFormat != new.Server.LogFormat},
		{"server.metrics_addr", old.Server.MetricsAddr != new.Server.MetricsAddr},
		{"server.otlp_endpoint", old.Server.OTLPEndpoint != new.Server.OTLPEndpoint || old.Server.OTLPInsecure != new.Server.OTLPInsecure},
		{"engine.max_ticks", old.Engine.MaxTicks != new.Engine.MaxTicks},
		{"scenario.poll_interval", old.Scenario.PollInterval != new.Scenario.PollInterval},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.field)
		}
	}

	return d
}
