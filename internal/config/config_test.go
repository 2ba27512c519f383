package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "concurrent", cfg.Images.Mode)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.PersistTimeout)
	assert.Equal(t, []string{"openai", "pollinations"}, cfg.Images.Policy.Opening)
	assert.Equal(t, 50*time.Minute, cfg.Images.OpenAI.CacheTTL)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: memory
images:
  mode: sequential
  sequential_delay: 250ms
  policy:
    rising: [pixabay]
  openai:
    cache_ttl: 20m
ai:
  text:
    provider: gemini
    model: gemini-2.5-flash
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "sequential", cfg.Images.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Images.SequentialDelay)
	assert.Equal(t, []string{"pixabay"}, cfg.Images.Policy.Rising)
	assert.Equal(t, 20*time.Minute, cfg.Images.OpenAI.CacheTTL)
	assert.Equal(t, "gemini-2.5-flash", cfg.AI.Text.Model)
	// untouched sections keep their defaults
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PIXABAY_API_KEY", "pix")
	t.Setenv("UNSPLASH_ACCESS_KEY", "uns")
	t.Setenv("PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.AI.Text.APIKey)
	assert.Equal(t, "sk-test", cfg.Images.OpenAI.APIKey)
	assert.Equal(t, "pix", cfg.Images.Pixabay.APIKey)
	assert.Equal(t, "uns", cfg.Images.Unsplash.APIKey)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: oracle\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown database driver")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "abc")
	assert.Equal(t, 7, envInt("SOME_INT", 7))
}
