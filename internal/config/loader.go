package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Relative library and scenario paths are resolved against the
// directory containing path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolve makes relative file references absolute against dir.
func (c *Config) resolve(dir string) {
	for i, f := range c.Library.Files {
		if !filepath.IsAbs(f) {
			c.Library.Files[i] = filepath.Join(dir, f)
		}
	}
	if c.Scenario.File != "" && !filepath.IsAbs(c.Scenario.File) {
		c.Scenario.File = filepath.Join(dir, c.Scenario.File)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.OTLPInsecure && cfg.Server.OTLPEndpoint == "" {
		slog.Warn("config: server.otlp_insecure is set without server.otlp_endpoint; traces are not exported")
	}

	// Engine
	if cfg.Engine.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("engine.tick_interval %s must not be negative", cfg.Engine.TickInterval))
	}
	if cfg.Engine.MaxTicks < 0 {
		errs = append(errs, fmt.Errorf("engine.max_ticks %d must not be negative", cfg.Engine.MaxTicks))
	}
	if cfg.Engine.CascadeLimit < 0 {
		errs = append(errs, fmt.Errorf("engine.cascade_limit %d must not be negative", cfg.Engine.CascadeLimit))
	}

	// Library
	seen := make(map[string]int, len(cfg.Library.Files))
	for i, f := range cfg.Library.Files {
		prefix := fmt.Sprintf("library.files[%d]", i)
		if strings.TrimSpace(f) == "" {
			errs = append(errs, fmt.Errorf("%s is empty", prefix))
			continue
		}
		if prev, ok := seen[f]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of library.files[%d]", prefix, f, prev))
		}
		seen[f] = i
	}
	if len(cfg.Library.Files) == 0 {
		slog.Warn("config: library.files is empty; the engine starts without traits, rules or events")
	}

	// Scenario
	if cfg.Scenario.Watch && cfg.Scenario.File == "" {
		errs = append(errs, errors.New("scenario.watch requires scenario.file"))
	}
	if cfg.Scenario.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("scenario.poll_interval %s must not be negative", cfg.Scenario.PollInterval))
	}

	return errors.Join(errs...)
}
