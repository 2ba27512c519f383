package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	AI       AIConfig       `yaml:"ai"`
	Images   ImagesConfig   `yaml:"images"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	// Driver selects the document store: mysql, sqlite or memory
	Driver string       `yaml:"driver"`
	MySQL  MySQLConfig  `yaml:"mysql"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Redis  RedisConfig  `yaml:"redis"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	StoryTTL    time.Duration `yaml:"story_ttl"`
	RecentLimit int           `yaml:"recent_limit"`
}

type AIConfig struct {
	Text TextConfig `yaml:"text"`
}

// TextConfig configures the story text backend
type TextConfig struct {
	Provider    string        `yaml:"provider"` // openai or gemini
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type ImagesConfig struct {
	ProviderTimeout time.Duration      `yaml:"provider_timeout"`
	Mode            string             `yaml:"mode"` // concurrent or sequential
	SequentialDelay time.Duration      `yaml:"sequential_delay"`
	FallbackFormat  string             `yaml:"fallback_format"` // svg, png or url
	OpenAI          OpenAIImageConfig  `yaml:"openai"`
	Pollinations    PollinationsConfig `yaml:"pollinations"`
	Pixabay         StockConfig        `yaml:"pixabay"`
	Pexels          StockConfig        `yaml:"pexels"`
	Unsplash        StockConfig        `yaml:"unsplash"`
	ComfyUI         ComfyUIConfig      `yaml:"comfyui"`
	Policy          PolicyConfig       `yaml:"policy"`
}

type OpenAIImageConfig struct {
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Model    string        `yaml:"model"`
	Size     string        `yaml:"size"`
	Cost     float64       `yaml:"cost"`
	CacheTTL time.Duration `yaml:"cache_ttl"` // signed URLs expire after about an hour
}

type PollinationsConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
}

type StockConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type ComfyUIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url"`
	Checkpoint   string        `yaml:"checkpoint"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// PolicyConfig lists provider names per moment, tried in order
type PolicyConfig struct {
	Opening []string `yaml:"opening"`
	Rising  []string `yaml:"rising"`
	Closing []string `yaml:"closing"`
}

type PipelineConfig struct {
	PersistTimeout time.Duration `yaml:"persist_timeout"`
	RecentTitles   int           `yaml:"recent_titles"`
}

type LoggingConfig struct {
	Mode string `yaml:"mode"`
}

// Default returns the configuration used when no file overrides a value
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			MySQL: MySQLConfig{
				Host:            "localhost",
				Port:            3306,
				Username:        "root",
				Database:        "magic_reading",
				MaxOpenConns:    20,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
			},
			SQLite: SQLiteConfig{Path: "./data/magic-reading.db"},
			Redis: RedisConfig{
				Host:        "localhost",
				Port:        6379,
				PoolSize:    10,
				StoryTTL:    24 * time.Hour,
				RecentLimit: 20,
			},
		},
		AI: AIConfig{
			Text: TextConfig{
				Provider:    "openai",
				Model:       "gpt-4o-mini",
				MaxTokens:   2000,
				Temperature: 0.8,
				Timeout:     60 * time.Second,
				MaxAttempts: 1,
			},
		},
		Images: ImagesConfig{
			ProviderTimeout: 30 * time.Second,
			Mode:            "concurrent",
			SequentialDelay: time.Second,
			FallbackFormat:  "svg",
			OpenAI:          OpenAIImageConfig{Model: "dall-e-3", Size: "1024x1024", Cost: 0.04, CacheTTL: 50 * time.Minute},
			Pollinations: PollinationsConfig{
				Enabled: true,
				BaseURL: "https://image.pollinations.ai",
				Width:   1024,
				Height:  1024,
			},
			Pixabay:  StockConfig{BaseURL: "https://pixabay.com/api/"},
			Pexels:   StockConfig{BaseURL: "https://api.pexels.com/v1/search"},
			Unsplash: StockConfig{BaseURL: "https://api.unsplash.com/search/photos"},
			ComfyUI: ComfyUIConfig{
				BaseURL:      "http://localhost:8188",
				Checkpoint:   "sd_xl_turbo_1.0_fp16.safetensors",
				PollInterval: time.Second,
			},
			Policy: PolicyConfig{
				Opening: []string{"openai", "pollinations"},
				Rising:  []string{"pollinations", "pixabay", "pexels", "unsplash"},
				Closing: nil,
			},
		},
		Pipeline: PipelineConfig{
			PersistTimeout: 10 * time.Second,
			RecentTitles:   10,
		},
		Logging: LoggingConfig{Mode: "dev"},
	}
}

// Load reads configuration from a YAML file on top of Default.
// An empty path skips the file and only applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.AI.Text.Provider == "openai" && c.AI.Text.APIKey == "" {
			c.AI.Text.APIKey = v
		}
		if c.Images.OpenAI.APIKey == "" {
			c.Images.OpenAI.APIKey = v
		}
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.AI.Text.Provider == "gemini" {
		c.AI.Text.APIKey = v
	}
	if v := os.Getenv("PIXABAY_API_KEY"); v != "" {
		c.Images.Pixabay.APIKey = v
	}
	if v := os.Getenv("PEXELS_API_KEY"); v != "" {
		c.Images.Pexels.APIKey = v
	}
	if v := os.Getenv("UNSPLASH_ACCESS_KEY"); v != "" {
		c.Images.Unsplash.APIKey = v
	}
	if v := os.Getenv("MYSQL_PASSWORD"); v != "" {
		c.Database.MySQL.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Database.Redis.Password = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		c.Database.Driver = strings.ToLower(v)
	}
	c.Server.Port = envInt("PORT", c.Server.Port)
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.AI.Text.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown text provider %q", c.AI.Text.Provider)
	}
	switch c.Images.Mode {
	case "concurrent", "sequential":
	default:
		return fmt.Errorf("unknown illustration mode %q", c.Images.Mode)
	}
	switch c.Images.FallbackFormat {
	case "svg", "png", "url":
	default:
		return fmt.Errorf("unknown fallback format %q", c.Images.FallbackFormat)
	}
	if c.AI.Text.MaxAttempts < 1 {
		c.AI.Text.MaxAttempts = 1
	}
	return nil
}

func envInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
