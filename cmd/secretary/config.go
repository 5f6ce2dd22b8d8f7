package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/vivaneiona/secretary"
	"gopkg.in/yaml.v3"
)

// Config is the secretary.yaml file. Flags override it.
type Config struct {
	Provider     string        `yaml:"provider"`
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"base_url"`
	Mode         string        `yaml:"mode"`
	Instructions []string      `yaml:"instructions"`
	Timeout      time.Duration `yaml:"timeout"`
	FieldTimeout time.Duration `yaml:"field_timeout"`
	Concurrency  int           `yaml:"concurrency"`
	Retries      int           `yaml:"retries"`
	Backoff      time.Duration `yaml:"backoff"`
	Temperature  *float64      `yaml:"temperature"`
	LogLevel     string        `yaml:"log_level"`
	Azure        AzureConfig   `yaml:"azure"`
	Cache        CacheConfig   `yaml:"cache"`
}

type AzureConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

type CacheConfig struct {
	URL string        `yaml:"url"` // redis://host:port/db
	TTL time.Duration `yaml:"ttl"`
}

const defaultOpenAIModel = "gpt-4o-mini"

func defaultConfig() Config {
	return Config{
		Provider: "openai",
		Mode:     "single",
		Timeout:  2 * time.Minute,
		Backoff:  500 * time.Millisecond,
		LogLevel: "info",
	}
}

// loadConfig reads path over the defaults. A missing file is not an error
// unless it was named explicitly.
func loadConfig(path string, explicit bool) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) options() []func(*secretary.Options) {
	return []func(*secretary.Options){
		secretary.WithModel(c.Model),
		secretary.WithTimeout(c.Timeout),
		secretary.WithFieldTimeout(c.FieldTimeout),
		secretary.WithConcurrency(c.Concurrency),
		secretary.WithRetry(c.Retries, c.Backoff),
	}
}

// buildProvider creates the provider named in the config, wrapped in a
// cache when one is configured.
func buildProvider(ctx context.Context, c Config, log *slog.Logger) (secretary.Provider, func(), error) {
	var (
		p       secretary.Provider
		cleanup = func() {}
	)
	openAIOpts := []secretary.OpenAIOption{secretary.WithProviderLogger(log)}
	if c.Temperature != nil {
		openAIOpts = append(openAIOpts, secretary.WithTemperature(*c.Temperature))
	}

	switch c.Provider {
	case "openai":
		key := firstEnv("OPENAI_API_KEY", "OPENAI_KEY")
		if key == "" {
			return nil, cleanup, errors.New("OPENAI_API_KEY is required")
		}
		if c.BaseURL != "" {
			openAIOpts = append(openAIOpts, secretary.WithBaseURL(c.BaseURL))
		}
		model := c.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		p = secretary.NewOpenAIProvider(key, model, openAIOpts...)
	case "azure":
		key := firstEnv("AZURE_OPENAI_API_KEY")
		if key == "" || c.Azure.Endpoint == "" {
			return nil, cleanup, errors.New("azure requires AZURE_OPENAI_API_KEY and azure.endpoint")
		}
		deployment := c.Azure.Deployment
		if deployment == "" {
			deployment = c.Model
		}
		p = secretary.NewAzureProvider(c.Azure.Endpoint, key, deployment, c.Azure.APIVersion, openAIOpts...)
	case "gemini":
		key := firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
		if key == "" {
			return nil, cleanup, errors.New("GEMINI_API_KEY is required")
		}
		client, err := secretary.NewGeminiClient(ctx, key)
		if err != nil {
			return nil, cleanup, fmt.Errorf("gemini client: %w", err)
		}
		var opts []secretary.GenerateOption
		if c.Temperature != nil {
			opts = append(opts, secretary.WithParameters(map[string]string{
				"temperature": fmt.Sprint(*c.Temperature),
			}))
		}
		p = secretary.NewGeminiProvider(client, c.Model, log, opts...)
	default:
		return nil, cleanup, fmt.Errorf("unknown provider %q", c.Provider)
	}

	if c.Cache.URL != "" {
		cache, err := secretary.NewRedisCacheFromURL(ctx, c.Cache.URL)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() { _ = cache.Close() }
		log.Debug("Response cache enabled", "url", c.Cache.URL, "ttl", c.Cache.TTL)
		p = secretary.NewCachedProvider(p, cache, c.Cache.TTL, log)
	}
	return p, cleanup, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
