package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sliverarmory/symscope/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "symscope.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
parallel = 2
journal = "journal.db"
platform_default = "global"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Parallel)
	assert.Equal(t, "journal.db", cfg.Journal)
	assert.Equal(t, "global", cfg.PlatformDefault)
	// Untouched keys keep their defaults.
	assert.Equal(t, "auto", cfg.Color)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, 500, cfg.WatchWindowMS)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, "paralel = 2\n")

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paralel")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero parallel", func(c *config.Config) { c.Parallel = 0 }, "parallel"},
		{"bad color", func(c *config.Config) { c.Color = "sometimes" }, "color"},
		{"bad format", func(c *config.Config) { c.Format = "xml" }, "format"},
		{"bad platform default", func(c *config.Config) { c.PlatformDefault = "both" }, "platform_default"},
		{"zero watch window", func(c *config.Config) { c.WatchWindowMS = 0 }, "watch_window_ms"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	assert.NoError(t, config.Default().Validate())
}
