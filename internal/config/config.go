// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rufuslabs/rufus/internal/crawler"
)

// Config captures all configuration knobs loaded via Viper. Validation
// failures map onto crawler.ErrInvalidConfig so the CLI can exit non-zero
// before any fetch happens.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Retry    RetryConfig    `mapstructure:"retry"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Detector DetectorConfig `mapstructure:"detector"`
	Filter   FilterConfig   `mapstructure:"filter"`
	Index    IndexConfig    `mapstructure:"index"`
	Output   OutputConfig   `mapstructure:"output"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs the crawl loop itself.
type CrawlerConfig struct {
	Seeds         []string `mapstructure:"seeds"`
	Selectors     []string `mapstructure:"selectors"`
	MaxDepth      int      `mapstructure:"max_depth"`
	MaxPages      int      `mapstructure:"max_pages"`
	Concurrency   int      `mapstructure:"concurrency"`
	UserAgent     string   `mapstructure:"user_agent"`
	RespectRobots bool     `mapstructure:"respect_robots"`
	DedupeText    bool     `mapstructure:"dedupe_text"`
}

// RetryConfig configures the exponential backoff policy for page fetches.
type RetryConfig struct {
	MaxAttempts      int     `mapstructure:"max_attempts"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	Multiplier       float64 `mapstructure:"multiplier"`
}

// HTTPConfig configures the fast-path HTTP fetcher.
type HTTPConfig struct {
	TimeoutSeconds     int `mapstructure:"timeout_seconds"`
	RateLimitPerDomain int `mapstructure:"rate_limit_per_domain"`
}

// HeadlessConfig configures the browser-backed fetcher.
type HeadlessConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	MaxParallel    int     `mapstructure:"max_parallel"`
	NavTimeoutSec  int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS      float64 `mapstructure:"domain_qps"`
	ScrollToBottom bool    `mapstructure:"scroll_to_bottom"`
	SettleDelayMs  int     `mapstructure:"settle_delay_ms"`
}

// DetectorConfig tunes the JS-needed promotion heuristic.
type DetectorConfig struct {
	MinHTMLBytes int      `mapstructure:"min_html_bytes"`
	SelectorMust []string `mapstructure:"selector_must"`
	Keywords     []string `mapstructure:"keywords"`
}

// FilterConfig controls the NLP relevance filter.
type FilterConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Keywords  []string `mapstructure:"keywords"`
	Threshold float64  `mapstructure:"threshold"`
}

// IndexConfig controls the optional vector index step.
type IndexConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Path             string `mapstructure:"path"`
	EmbeddingBaseURL string `mapstructure:"embedding_base_url"`
	EmbeddingAPIKey  string `mapstructure:"embedding_api_key"`
	EmbeddingModel   string `mapstructure:"embedding_model"`
}

// OutputConfig sets where the JSON result document lands.
type OutputConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig selects the optional fragment archive backend.
type StorageConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
}

// MetricsConfig controls the operational HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RUFUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)

	v.SetDefault("crawler.selectors", []string{"p"})
	v.SetDefault("crawler.max_depth", 1)
	v.SetDefault("crawler.max_pages", 3)
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.user_agent", "rufus/1.0 (+https://github.com/rufuslabs/rufus)")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.dedupe_text", true)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_initial_ms", 250)
	v.SetDefault("retry.backoff_max_ms", 5000)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.rate_limit_per_domain", 2)

	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.domain_qps", 0.5)
	v.SetDefault("headless.scroll_to_bottom", true)
	v.SetDefault("headless.settle_delay_ms", 500)

	v.SetDefault("detector.min_html_bytes", 2000)
	v.SetDefault("detector.keywords", []string{
		"__NEXT_DATA__",
		"data-reactroot",
		"ng-app",
		"window.__APOLLO_STATE__",
	})

	v.SetDefault("filter.enabled", false)
	v.SetDefault("filter.threshold", 0.2)

	v.SetDefault("index.enabled", false)
	v.SetDefault("index.path", "data/index")
	v.SetDefault("index.embedding_base_url", "http://localhost:8081/v1")
	v.SetDefault("index.embedding_model", "all-minilm")

	v.SetDefault("output.path", "output.json")

	v.SetDefault("storage.provider", "none")
	v.SetDefault("storage.table", "fragments")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Crawler.Seeds) == 0 {
		return fmt.Errorf("%w: crawler.seeds must include at least one URL", crawler.ErrInvalidConfig)
	}
	for _, seed := range c.Crawler.Seeds {
		if _, err := crawler.NormalizeURL(seed); err != nil {
			return fmt.Errorf("%w: crawler.seeds entry %q: %v", crawler.ErrInvalidConfig, seed, err)
		}
	}
	if len(c.Crawler.Selectors) == 0 {
		return fmt.Errorf("%w: crawler.selectors must include at least one selector", crawler.ErrInvalidConfig)
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("%w: crawler.max_depth must be >= 0", crawler.ErrInvalidConfig)
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("%w: crawler.max_pages must be > 0", crawler.ErrInvalidConfig)
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("%w: crawler.concurrency must be > 0", crawler.ErrInvalidConfig)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("%w: retry.max_attempts must be > 0", crawler.ErrInvalidConfig)
	}
	if c.Retry.BackoffInitialMs <= 0 {
		return fmt.Errorf("%w: retry.backoff_initial_ms must be > 0", crawler.ErrInvalidConfig)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("%w: retry.multiplier must be >= 1", crawler.ErrInvalidConfig)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: http.timeout_seconds must be > 0", crawler.ErrInvalidConfig)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("%w: headless.max_parallel must be > 0 when headless is enabled", crawler.ErrInvalidConfig)
	}
	if c.Filter.Enabled {
		if len(c.Filter.Keywords) == 0 {
			return fmt.Errorf("%w: filter.keywords must be set when the filter is enabled", crawler.ErrInvalidConfig)
		}
		if c.Filter.Threshold < 0 || c.Filter.Threshold > 1 {
			return fmt.Errorf("%w: filter.threshold must be in [0, 1]", crawler.ErrInvalidConfig)
		}
	}
	if c.Index.Enabled && c.Index.Path == "" {
		return fmt.Errorf("%w: index.path must be set when indexing is enabled", crawler.ErrInvalidConfig)
	}
	if c.Output.Path == "" {
		return fmt.Errorf("%w: output.path must be set", crawler.ErrInvalidConfig)
	}
	switch c.Storage.Provider {
	case "", "none":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn must be set for the postgres provider", crawler.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage provider %q", crawler.ErrInvalidConfig, c.Storage.Provider)
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return fmt.Errorf("%w: metrics.port must be > 0 when metrics are enabled", crawler.ErrInvalidConfig)
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavigationTimeout converts the headless nav timeout into a duration.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// BackoffInitial converts the initial retry delay into a duration.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.Retry.BackoffInitialMs) * time.Millisecond
}

// BackoffMax converts the retry delay cap into a duration.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Retry.BackoffMaxMs) * time.Millisecond
}
