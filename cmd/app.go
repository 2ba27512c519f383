package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/choco2105/magic-reading/internal/config"
	"github.com/choco2105/magic-reading/internal/engine"
	"github.com/choco2105/magic-reading/internal/generators"
	"github.com/choco2105/magic-reading/internal/interfaces"
	"github.com/choco2105/magic-reading/internal/logger"
	"github.com/choco2105/magic-reading/internal/models"
	"github.com/choco2105/magic-reading/internal/pipeline"
	"github.com/choco2105/magic-reading/internal/progress"
	"github.com/choco2105/magic-reading/internal/storage"
	"github.com/choco2105/magic-reading/internal/web"
)

const imageCacheEntries = 500

// app holds the wired collaborators shared by every command
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	store      interfaces.DocumentStore
	cache      *storage.RedisStore
	cascade    *generators.Cascade
	imageCache *generators.ImageCache
	pipeline   *pipeline.Pipeline
	progress   *progress.Service
	checks     map[string]web.Pinger
}

func buildApp(ctx context.Context, cfg *config.Config, log *logger.Logger, observer pipeline.StageObserver) (*app, error) {
	a := &app{cfg: cfg, log: log, checks: make(map[string]web.Pinger)}

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.store = store
	if p, ok := store.(web.Pinger); ok {
		a.checks["store"] = p
	}
	log.Info("document store ready", "driver", cfg.Database.Driver)

	if cfg.Database.Redis.Enabled {
		redisStore, err := storage.NewRedisStore(cfg.Database.Redis)
		if err != nil {
			log.Warn("failed to connect to Redis, story cache disabled", "error", err)
		} else {
			a.cache = redisStore
			a.checks["redis"] = redisStore
			log.Info("Redis connected successfully")
		}
	}

	backend, err := newTextBackend(ctx, cfg.AI.Text)
	if err != nil {
		a.Close()
		return nil, err
	}
	generator := engine.NewGenerator(backend, engine.GeneratorOptions{
		Timeout:     cfg.AI.Text.Timeout,
		MaxTokens:   cfg.AI.Text.MaxTokens,
		Temperature: cfg.AI.Text.Temperature,
		Logger:      log,
	})

	a.cascade = generators.NewCascade(generators.CascadeOptions{
		ProviderTimeout: cfg.Images.ProviderTimeout,
		Synthesizer:     generators.NewSynthesizer(cfg.Images.FallbackFormat),
		Logger:          log,
	})
	policy := generators.BuildPolicy(map[models.Moment][]string{
		models.MomentOpening: cfg.Images.Policy.Opening,
		models.MomentRising:  cfg.Images.Policy.Rising,
		models.MomentClosing: cfg.Images.Policy.Closing,
	}, a.imageProviders(ctx, cfg.Images), log)
	orchestrator := generators.NewOrchestrator(a.cascade, policy, generators.OrchestratorOptions{
		Mode:            generators.Mode(cfg.Images.Mode),
		SequentialDelay: cfg.Images.SequentialDelay,
		Logger:          log,
	})

	opts := pipeline.Options{
		Observer:       observer,
		PersistTimeout: cfg.Pipeline.PersistTimeout,
		RecentTitles:   cfg.Pipeline.RecentTitles,
		Logger:         log,
	}
	if a.cache != nil {
		opts.Cache = a.cache
	}
	a.pipeline = pipeline.New(generator, orchestrator, a.store, opts)
	a.progress = progress.NewService(a.store, log)
	return a, nil
}

func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("failed to close Redis", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("failed to close document store", "error", err)
		}
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (interfaces.DocumentStore, error) {
	switch cfg.Driver {
	case "mysql":
		store, err := storage.NewMySQLStore(cfg.MySQL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
		}
		return store, nil
	case "sqlite":
		store, err := storage.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite: %w", err)
		}
		return store, nil
	case "memory":
		return storage.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func newTextBackend(ctx context.Context, cfg config.TextConfig) (interfaces.TextBackend, error) {
	switch cfg.Provider {
	case "gemini":
		backend, err := engine.NewGeminiBackend(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini backend: %w", err)
		}
		return backend, nil
	default:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("no OpenAI API key provided, set OPENAI_API_KEY")
		}
		return engine.NewOpenAIBackend(engine.OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxAttempts: cfg.MaxAttempts,
		}), nil
	}
}

// imageProviders registers every provider that has the credentials it needs
func (a *app) imageProviders(ctx context.Context, cfg config.ImagesConfig) map[string]interfaces.ImageProvider {
	log := a.log
	client := &http.Client{Timeout: cfg.ProviderTimeout}
	available := make(map[string]interfaces.ImageProvider)

	if cfg.OpenAI.APIKey != "" {
		paid := generators.NewOpenAIImageProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.Size, cfg.OpenAI.Cost)
		a.imageCache = generators.NewImageCache(paid, imageCacheEntries, cfg.OpenAI.CacheTTL)
		available[paid.Name()] = a.imageCache
	} else {
		log.Warn("no OpenAI image key provided, paid illustrations disabled")
	}
	if cfg.Pollinations.Enabled {
		p := generators.NewPollinationsProvider(cfg.Pollinations.BaseURL, cfg.Pollinations.Width, cfg.Pollinations.Height, client)
		available[p.Name()] = p
	}
	if cfg.Pixabay.APIKey != "" {
		p := generators.NewPixabayProvider(cfg.Pixabay.APIKey, cfg.Pixabay.BaseURL, client)
		available[p.Name()] = p
	}
	if cfg.Pexels.APIKey != "" {
		p := generators.NewPexelsProvider(cfg.Pexels.APIKey, cfg.Pexels.BaseURL, client)
		available[p.Name()] = p
	}
	if cfg.Unsplash.APIKey != "" {
		p := generators.NewUnsplashProvider(cfg.Unsplash.APIKey, cfg.Unsplash.BaseURL, client)
		available[p.Name()] = p
	}
	if cfg.ComfyUI.Enabled {
		comfy := generators.NewComfyUIClient(cfg.ComfyUI.BaseURL, cfg.ComfyUI.Checkpoint, cfg.ComfyUI.PollInterval, nil)
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := comfy.HealthCheck(checkCtx)
		cancel()
		if err != nil {
			log.Warn("ComfyUI not reachable, provider skipped", "url", cfg.ComfyUI.BaseURL, "error", err)
		} else {
			available[comfy.Name()] = comfy
		}
	}

	names := make([]string, 0, len(available))
	for name := range available {
		names = append(names, name)
	}
	log.Info("image providers registered", "providers", names)
	return available
}
