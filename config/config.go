// Package config loads the harness configuration file. Settings mirror
// the run command's flags; flags win when both are given. Unknown keys
// are rejected for the same reason scenario files are decoded strictly.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the effective harness configuration.
type Config struct {
	// Parallel caps concurrently running cases.
	Parallel int

	// Journal is the run-journal database path. Empty disables journaling.
	Journal string

	// Color is the report color mode: auto, always, or never.
	Color string

	// Format is the report format: text or json.
	Format string

	// PlatformDefault overrides the platform's default-visibility
	// capability for every case: "global" or "local". Empty keeps the
	// backend's own answer. Scenario definitions stay portable because
	// only this knob, not a platform name, changes the expected policy.
	PlatformDefault string

	// WatchWindowMS is the debounce window for watch mode.
	WatchWindowMS int
}

type fileConfig struct {
	Parallel        int    `toml:"parallel"`
	Journal         string `toml:"journal"`
	Color           string `toml:"color"`
	Format          string `toml:"format"`
	PlatformDefault string `toml:"platform_default"`
	WatchWindowMS   int    `toml:"watch_window_ms"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Parallel:      runtime.NumCPU(),
		Color:         "auto",
		Format:        "text",
		WatchWindowMS: 500,
	}
}

// Load reads a TOML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("parallel") {
		cfg.Parallel = raw.Parallel
	}
	if meta.IsDefined("journal") {
		cfg.Journal = strings.TrimSpace(raw.Journal)
	}
	if meta.IsDefined("color") {
		cfg.Color = strings.TrimSpace(raw.Color)
	}
	if meta.IsDefined("format") {
		cfg.Format = strings.TrimSpace(raw.Format)
	}
	if meta.IsDefined("platform_default") {
		cfg.PlatformDefault = strings.TrimSpace(raw.PlatformDefault)
	}
	if meta.IsDefined("watch_window_ms") {
		cfg.WatchWindowMS = raw.WatchWindowMS
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values and ranges.
func (c Config) Validate() error {
	if c.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1, got %d", c.Parallel)
	}
	switch c.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("color must be auto, always, or never, got %q", c.Color)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("format must be text or json, got %q", c.Format)
	}
	switch c.PlatformDefault {
	case "", "global", "local":
	default:
		return fmt.Errorf("platform_default must be global or local, got %q", c.PlatformDefault)
	}
	if c.WatchWindowMS < 1 {
		return fmt.Errorf("watch_window_ms must be positive, got %d", c.WatchWindowMS)
	}
	return nil
}
