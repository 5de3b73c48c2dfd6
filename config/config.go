package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the autopress pipeline.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	Generation GenerationConfig `mapstructure:"generation"`
	Research   ResearchConfig   `mapstructure:"research"`
	Media      MediaConfig      `mapstructure:"media"`
	Mutator    MutatorConfig    `mapstructure:"mutator"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Publish    PublishConfig    `mapstructure:"publish"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// GenerationConfig configures the external text-generation service and the
// drafting loop driven against it.
type GenerationConfig struct {
	APIKey               string        `mapstructure:"api_key"`
	BaseURL              string        `mapstructure:"base_url"`
	Model                string        `mapstructure:"model"`
	Temperature          float64       `mapstructure:"temperature"`
	MaxTokens            int           `mapstructure:"max_tokens"`
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxExpansionAttempts int           `mapstructure:"max_expansion_attempts"`
	TargetWordCount      int           `mapstructure:"target_word_count"`
}

func (g GenerationConfig) Validate() error {
	if g.MaxExpansionAttempts < 0 {
		return fmt.Errorf("generation.max_expansion_attempts must be >= 0")
	}
	return nil
}

// ResearchConfig configures the multi-provider research collector.
type ResearchConfig struct {
	Providers        []string      `mapstructure:"providers"` // priority order
	MaxResults       int           `mapstructure:"max_results"`
	ChainAttempts    int           `mapstructure:"chain_attempts"`
	ChainRetryDelay  time.Duration `mapstructure:"chain_retry_delay"`
	RequestRetries   int           `mapstructure:"request_retries"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffCeiling   time.Duration `mapstructure:"backoff_ceiling"`
	DomainInterval   time.Duration `mapstructure:"domain_interval"` // min gap between hits on one domain
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	UseBrowserRender bool          `mapstructure:"use_browser_render"` // chromedp for JS-heavy pages
	MinSnippetLength int           `mapstructure:"min_snippet_length"`
}

// MediaConfig configures the media fetch/validate sub-call.
type MediaConfig struct {
	ProcessURL     string        `mapstructure:"process_url"`
	TrustedDomains []string      `mapstructure:"trusted_domains"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	MaxImages      int           `mapstructure:"max_images"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// MutatorConfig exposes the placement heuristics as tunables. The defaults
// mirror production values; actual tuning is a product decision.
type MutatorConfig struct {
	VideoHeadingIndex  int `mapstructure:"video_heading_index"`  // insert video after this heading (0-based)
	SecondImageHeading int `mapstructure:"second_image_heading"` // insert second image after this heading (0-based)
	BacklinkEvery      int `mapstructure:"backlink_every"`       // paragraph stride between injected backlinks
	MaxBacklinks       int `mapstructure:"max_backlinks"`
	MinContentLinks    int `mapstructure:"min_content_links"`
}

// PipelineConfig controls the orchestrator's retry and concurrency behaviour.
type PipelineConfig struct {
	StageAttempts  int           `mapstructure:"stage_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffCeiling time.Duration `mapstructure:"backoff_ceiling"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"` // concurrent work items
}

func (p PipelineConfig) Validate() error {
	if p.StageAttempts <= 0 {
		return fmt.Errorf("pipeline.stage_attempts must be > 0")
	}
	if p.BackoffBase <= 0 {
		return fmt.Errorf("pipeline.backoff_base must be > 0")
	}
	return nil
}

// SchedulerConfig controls periodic dispatch of due work items.
type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// PublishConfig configures the external CMS client.
type PublishConfig struct {
	BaseURL        string         `mapstructure:"base_url"`
	Username       string         `mapstructure:"username"`
	AppPassword    string         `mapstructure:"app_password"`
	CategoryIDs    map[string]int `mapstructure:"category_ids"` // CMS category name -> term id
	Timeout        time.Duration  `mapstructure:"timeout"`
	IdempotencyTTL time.Duration  `mapstructure:"idempotency_ttl"`
	MinLeadTime    time.Duration  `mapstructure:"min_lead_time"` // scheduled_at clamped to now+lead
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelemetryConfig contains monitoring settings.
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file with AUTOPRESS_* env overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("AUTOPRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine; defaults + env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Generation.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", 60*time.Second)

	v.SetDefault("server.address", ":8080")

	v.SetDefault("generation.base_url", "https://api.openai.com/v1")
	v.SetDefault("generation.model", "gpt-4o-mini")
	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("generation.max_tokens", 8000)
	v.SetDefault("generation.timeout", 120*time.Second)
	v.SetDefault("generation.max_expansion_attempts", 2)
	v.SetDefault("generation.target_word_count", 2000)

	v.SetDefault("research.providers", []string{"duckduckgo", "bing", "google"})
	v.SetDefault("research.max_results", 5)
	v.SetDefault("research.chain_attempts", 2)
	v.SetDefault("research.chain_retry_delay", 10*time.Second)
	v.SetDefault("research.request_retries", 3)
	v.SetDefault("research.backoff_base", time.Second)
	v.SetDefault("research.backoff_ceiling", 10*time.Second)
	v.SetDefault("research.domain_interval", 2*time.Second)
	v.SetDefault("research.fetch_timeout", 20*time.Second)
	v.SetDefault("research.min_snippet_length", 100)

	v.SetDefault("media.max_concurrent", 2)
	v.SetDefault("media.max_images", 2)
	v.SetDefault("media.timeout", 30*time.Second)

	v.SetDefault("mutator.video_heading_index", 15)
	v.SetDefault("mutator.second_image_heading", 11)
	v.SetDefault("mutator.backlink_every", 5)
	v.SetDefault("mutator.max_backlinks", 3)
	v.SetDefault("mutator.min_content_links", 1)

	v.SetDefault("pipeline.stage_attempts", 3)
	v.SetDefault("pipeline.backoff_base", time.Second)
	v.SetDefault("pipeline.backoff_ceiling", 30*time.Second)
	v.SetDefault("pipeline.max_concurrent", 4)

	v.SetDefault("scheduler.interval", time.Minute)
	v.SetDefault("scheduler.lock_ttl", 2*time.Minute)

	v.SetDefault("publish.timeout", 30*time.Second)
	v.SetDefault("publish.idempotency_ttl", 24*time.Hour)
	v.SetDefault("publish.min_lead_time", 5*time.Minute)

	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.addr", "localhost:6379")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.metrics_port", 9090)
}
