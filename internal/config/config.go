package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/abelbrown/curiosity/internal/retry"
)

// ErrInvalid is returned by Validate for unusable thresholds or missing
// credentials.
var ErrInvalid = errors.New("config: invalid")

// Config is the persistent application configuration
type Config struct {
	Tenant   string `toml:"tenant"`
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`

	Embedding  EmbeddingConfig  `toml:"embedding"`
	Clustering ClusteringConfig `toml:"clustering"`
	Scoring    ScoringConfig    `toml:"scoring"`
	News       NewsConfig       `toml:"news"`
	Retry      RetryConfig      `toml:"retry"`
	Normalizer NormalizerConfig `toml:"normalizer"`
	Schedule   ScheduleConfig   `toml:"schedule"`
	Runs       RunsConfig       `toml:"runs"`
}

type EmbeddingConfig struct {
	Provider          string  `toml:"provider"` // jina, ollama, openai
	APIKey            string  `toml:"api_key,omitempty"`
	Model             string  `toml:"model,omitempty"`
	Endpoint          string  `toml:"endpoint,omitempty"`
	BatchSize         int     `toml:"batch_size"`
	Concurrency       int     `toml:"concurrency"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

type ClusteringConfig struct {
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	MinClusterSize      int     `toml:"min_cluster_size"`
	MinSamples          int     `toml:"min_samples"`
}

type ScoringConfig struct {
	SignalThreshold   float64 `toml:"signal_threshold"`
	MaxSignals        int     `toml:"max_signals"`
	WeirdPicks        int     `toml:"weird_picks"`
	HistoryWeeks      int     `toml:"history_weeks"`
	HistorySimilarity float64 `toml:"history_similarity"`
}

type NewsConfig struct {
	Provider          string   `toml:"provider"` // newsapi, rss, none
	APIKey            string   `toml:"api_key,omitempty"`
	Endpoint          string   `toml:"endpoint,omitempty"`
	LookbackDays      int      `toml:"lookback_days"`
	MinRelevance      float64  `toml:"min_relevance"`
	SpikeVelocityPct  float64  `toml:"spike_velocity_pct"`
	Concurrency       int      `toml:"concurrency"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	KnownEntities     []string `toml:"known_entities"`
}

type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
	Jitter      float64  `toml:"jitter"`
}

type NormalizerConfig struct {
	MinLength int `toml:"min_length"`
}

type ScheduleConfig struct {
	Cron     string `toml:"cron"`
	Timezone string `toml:"timezone"`
}

type RunsConfig struct {
	MaxPerWeek int `toml:"max_per_week"`
}

// Duration lets TOML carry values like "1s" or "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Policy converts the [retry] section into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay.Duration,
		MaxDelay:    r.MaxDelay.Duration,
		Jitter:      r.Jitter,
	}
}

// DefaultKnownEntities seeds keyword extraction for news lookups.
var DefaultKnownEntities = []string{
	"OpenAI", "ChatGPT", "GPT-4", "GPT-5", "Claude", "Anthropic", "Gemini",
	"Google", "Microsoft", "Copilot", "Meta", "Llama", "Mistral", "DeepSeek",
	"Nvidia", "Apple", "Tesla", "Midjourney", "Stable Diffusion", "Hugging Face",
	"Perplexity", "xAI", "Grok", "Sora",
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Tenant:   "default",
		DataDir:  defaultDataDir(),
		LogLevel: "info",
		Embedding: EmbeddingConfig{
			Provider:          "jina",
			Model:             "jina-embeddings-v3",
			BatchSize:         25,
			Concurrency:       2,
			RequestsPerSecond: 1.3, // ~80 RPM
		},
		Clustering: ClusteringConfig{
			SimilarityThreshold: 0.85,
			MinClusterSize:      3,
			MinSamples:          2,
		},
		Scoring: ScoringConfig{
			SignalThreshold:   0.70,
			MaxSignals:        10,
			WeirdPicks:        3,
			HistoryWeeks:      12,
			HistorySimilarity: 0.85,
		},
		News: NewsConfig{
			Provider:          "newsapi",
			LookbackDays:      7,
			MinRelevance:      0.3,
			SpikeVelocityPct:  100,
			Concurrency:       2,
			RequestsPerSecond: 1,
			KnownEntities:     append([]string(nil), DefaultKnownEntities...),
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   Duration{time.Second},
			MaxDelay:    Duration{30 * time.Second},
			Jitter:      0.2,
		},
		Normalizer: NormalizerConfig{MinLength: 15},
		Schedule: ScheduleConfig{
			Cron:     "0 6 * * 1",
			Timezone: "UTC",
		},
		Runs: RunsConfig{MaxPerWeek: 1},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".curiosity"
	}
	return filepath.Join(home, ".curiosity")
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "curiosity"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads config from path (or ConfigPath when empty). Keys absent from
// the file keep their defaults; a missing file yields defaults. Environment
// credentials are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	cfg.AutoPopulateFromEnv()
	return cfg, nil
}

// Save writes config to path with restrictive permissions (it may hold API keys).
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(c)
}

// AutoPopulateFromEnv fills in credentials and hosts from environment
// variables. Values already present in the file win, except the tenant.
func (c *Config) AutoPopulateFromEnv() {
	if key := os.Getenv("JINA_API_KEY"); key != "" && c.Embedding.Provider == "jina" && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = key
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" && c.Embedding.Provider == "ollama" && c.Embedding.Endpoint == "" {
		if !strings.HasPrefix(host, "http") {
			host = "http://" + host
		}
		c.Embedding.Endpoint = host
	}
	if key := os.Getenv("NEWSAPI_KEY"); key != "" && c.News.APIKey == "" {
		c.News.APIKey = key
	}
	if tenant := os.Getenv("CURIOSITY_TENANT"); tenant != "" {
		c.Tenant = tenant
	}
}

// Validate checks thresholds and credentials. All problems are reported
// together, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	unit := func(name string, v float64) {
		if v < 0 || v > 1 {
			add("%s must be within [0,1], got %v", name, v)
		}
	}

	if strings.TrimSpace(c.Tenant) == "" {
		add("tenant is empty")
	}

	switch c.Embedding.Provider {
	case "jina", "openai":
		if c.Embedding.APIKey == "" {
			add("embedding.api_key is required for provider %q", c.Embedding.Provider)
		}
	case "ollama":
	default:
		add("embedding.provider %q is not one of jina, ollama, openai", c.Embedding.Provider)
	}
	if c.Embedding.BatchSize < 1 {
		add("embedding.batch_size must be positive")
	}
	if c.Embedding.Concurrency < 1 {
		add("embedding.concurrency must be positive")
	}
	if c.Embedding.RequestsPerSecond < 0 {
		add("embedding.requests_per_second must not be negative")
	}

	if c.Clustering.SimilarityThreshold <= 0 || c.Clustering.SimilarityThreshold > 1 {
		add("clustering.similarity_threshold must be within (0,1], got %v", c.Clustering.SimilarityThreshold)
	}
	if c.Clustering.MinClusterSize < 2 {
		add("clustering.min_cluster_size must be at least 2")
	}
	if c.Clustering.MinSamples < 1 {
		add("clustering.min_samples must be at least 1")
	}

	unit("scoring.signal_threshold", c.Scoring.SignalThreshold)
	unit("scoring.history_similarity", c.Scoring.HistorySimilarity)
	if c.Scoring.MaxSignals < 1 {
		add("scoring.max_signals must be positive")
	}
	if c.Scoring.WeirdPicks < 0 {
		add("scoring.weird_picks must not be negative")
	}
	if c.Scoring.HistoryWeeks < 1 {
		add("scoring.history_weeks must be positive")
	}

	switch c.News.Provider {
	case "newsapi":
		if c.News.APIKey == "" {
			add("news.api_key is required for provider newsapi")
		}
	case "rss", "none":
	default:
		add("news.provider %q is not one of newsapi, rss, none", c.News.Provider)
	}
	unit("news.min_relevance", c.News.MinRelevance)
	if c.News.LookbackDays < 0 {
		add("news.lookback_days must not be negative")
	}
	if c.News.Concurrency < 1 {
		add("news.concurrency must be positive")
	}

	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay.Duration < 0 || c.Retry.MaxDelay.Duration < 0 {
		add("retry delays must not be negative")
	}
	unit("retry.jitter", c.Retry.Jitter)

	if c.Normalizer.MinLength < 1 {
		add("normalizer.min_length must be positive")
	}
	if c.Runs.MaxPerWeek < 1 {
		add("runs.max_per_week must be at least 1")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		add("schedule.timezone %q: %v", c.Schedule.Timezone, err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// EventsPath is the JSONL run-event log under the data dir.
func (c *Config) EventsPath() string {
	return filepath.Join(c.DataDir, "curiosity.events.jsonl")
}

// DBPath is the SQLite database under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "curiosity.db")
}
