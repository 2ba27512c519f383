package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choco2105/magic-reading/internal/config"
	"github.com/choco2105/magic-reading/internal/logger"
	"github.com/choco2105/magic-reading/internal/storage"
)

func TestOpenStore(t *testing.T) {
	store, err := openStore(context.Background(), config.DatabaseConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStore{}, store)

	store, err = openStore(context.Background(), config.DatabaseConfig{Driver: "sqlite", SQLite: config.SQLiteConfig{Path: t.TempDir() + "/app.db"}})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = openStore(context.Background(), config.DatabaseConfig{Driver: "mongo"})
	assert.Error(t, err)
}

func TestBuildAppRequiresTextKey(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "memory"
	cfg.AI.Text.APIKey = ""

	_, err := buildApp(context.Background(), cfg, logger.Nop(), nil)
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestBuildAppWiresProviders(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "memory"
	cfg.AI.Text.APIKey = "sk-test"
	cfg.Images.OpenAI.APIKey = ""
	cfg.Images.Pixabay.APIKey = "px"
	cfg.Images.Unsplash.APIKey = "us"

	a, err := buildApp(context.Background(), cfg, logger.Nop(), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.pipeline)
	assert.NotNil(t, a.progress)
	assert.Nil(t, a.cache)
	assert.Nil(t, a.imageCache)
	assert.Contains(t, a.checks, "store")

	available := a.imageProviders(context.Background(), cfg.Images)
	assert.Contains(t, available, "pollinations")
	assert.Contains(t, available, "pixabay")
	assert.Contains(t, available, "unsplash")
	assert.NotContains(t, available, "openai")
	assert.NotContains(t, available, "comfyui")
}

func TestBuildAppCachesPaidImages(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "memory"
	cfg.AI.Text.APIKey = "sk-test"
	cfg.Images.OpenAI.APIKey = "sk-test"
	cfg.Images.OpenAI.CacheTTL = 3 * time.Hour

	a, err := buildApp(context.Background(), cfg, logger.Nop(), nil)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.imageCache)
	assert.Equal(t, "openai", a.imageCache.Name())
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCmd()
	names := []string{}
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "generate")
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}
