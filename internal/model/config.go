package model

import (
	"fmt"
	"time"
)

// Config holds the complete newsdigest configuration
type Config struct {
	Sources        SourcesConfig        `yaml:"sources" mapstructure:"sources"`
	LLM            LLMConfig            `yaml:"llm" mapstructure:"llm"`
	Concurrency    ConcurrencyConfig    `yaml:"concurrency" mapstructure:"concurrency"`
	Retry          RetryConfig          `yaml:"retry" mapstructure:"retry"`
	Classification ClassificationConfig `yaml:"classification" mapstructure:"classification"`
	Extraction     ExtractionConfig     `yaml:"extraction" mapstructure:"extraction"`
	Dedup          DedupConfig          `yaml:"dedup" mapstructure:"dedup"`
	Digest         DigestConfig         `yaml:"digest" mapstructure:"digest"`
	Run            RunConfig            `yaml:"run" mapstructure:"run"`
	Cache          CacheConfig          `yaml:"cache" mapstructure:"cache"`
	Delivery       DeliveryConfig       `yaml:"delivery" mapstructure:"delivery"`
	Server         ServerConfig         `yaml:"server" mapstructure:"server"`
	Schedule       ScheduleConfig       `yaml:"schedule" mapstructure:"schedule"`
	Log            LogConfig            `yaml:"log" mapstructure:"log"`
}

// SourcesConfig selects where messages come from
type SourcesConfig struct {
	Kind            string          `yaml:"kind" mapstructure:"kind"`                         // "dir" or "gmail"
	Dir             string          `yaml:"dir" mapstructure:"dir"`                           // Root for the dir source
	Window          time.Duration   `yaml:"window" mapstructure:"window"`                     // Lookback window
	MaxMessages     int             `yaml:"max_messages" mapstructure:"max_messages"`         // Per account cap, 0 = unlimited
	CredentialsFile string          `yaml:"credentials_file" mapstructure:"credentials_file"` // OAuth client JSON for gmail
	ExcludedSenders []string        `yaml:"excluded_senders" mapstructure:"excluded_senders"`
	Accounts        []AccountConfig `yaml:"accounts" mapstructure:"accounts"`
}

// AccountConfig describes one mailbox
type AccountConfig struct {
	Name      string `yaml:"name" mapstructure:"name"`             // Label used in summaries
	Email     string `yaml:"email" mapstructure:"email"`           // Mailbox address
	TokenFile string `yaml:"token_file" mapstructure:"token_file"` // OAuth token JSON for gmail
}

// LLMConfig configures the model provider
type LLMConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama, gemini
	Model       string        `yaml:"model" mapstructure:"model"`
	APIKey      string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"` // Per call
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	HTTPProxy   string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy  string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy     string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// ConcurrencyConfig bounds parallel work
type ConcurrencyConfig struct {
	MaxInFlight       int `yaml:"max_in_flight" mapstructure:"max_in_flight"`             // Model permit pool size
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"` // 0 disables the RPM limiter
	Workers           int `yaml:"workers" mapstructure:"workers"`                         // Per-stage fan-out
	FetchWorkers      int `yaml:"fetch_workers" mapstructure:"fetch_workers"`
}

// RetryConfig is the shared retry policy for model calls
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff" mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

// ClassificationConfig tunes the classification stage
type ClassificationConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	MaxBodyChars        int     `yaml:"max_body_chars" mapstructure:"max_body_chars"`
}

// ExtractionConfig tunes the extraction stage
type ExtractionConfig struct {
	MaxStoriesPerItem int  `yaml:"max_stories_per_item" mapstructure:"max_stories_per_item"`
	FallbackOnError   bool `yaml:"fallback_on_error" mapstructure:"fallback_on_error"`
}

// DedupConfig tunes the deduplication engine
type DedupConfig struct {
	BatchSize      int `yaml:"batch_size" mapstructure:"batch_size"`             // Max candidates per grouping call
	MaxMergePasses int `yaml:"max_merge_passes" mapstructure:"max_merge_passes"` // Cross-batch merge cap
}

// DigestConfig tunes categorization
type DigestConfig struct {
	MaxPerCategory  int  `yaml:"max_per_category" mapstructure:"max_per_category"` // 0 = unlimited
	CrossList       bool `yaml:"cross_list" mapstructure:"cross_list"`             // Also list under secondary categories
	KeywordFallback bool `yaml:"keyword_fallback" mapstructure:"keyword_fallback"` // Recategorize "Other" by keywords
}

// RunConfig bounds a whole run
type RunConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CacheConfig configures the model response cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
	RedisAddr string        `yaml:"redis_addr,omitempty" mapstructure:"redis_addr"` // Replaces the disk tier when set
	RedisDB   int           `yaml:"redis_db" mapstructure:"redis_db"`
}

// DeliveryConfig selects digest sinks. Every configured sink receives the digest.
type DeliveryConfig struct {
	OutputDir    string   `yaml:"output_dir" mapstructure:"output_dir"`
	S3Bucket     string   `yaml:"s3_bucket,omitempty" mapstructure:"s3_bucket"`
	S3Prefix     string   `yaml:"s3_prefix,omitempty" mapstructure:"s3_prefix"`
	S3Region     string   `yaml:"s3_region,omitempty" mapstructure:"s3_region"`
	KafkaBrokers []string `yaml:"kafka_brokers,omitempty" mapstructure:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic,omitempty" mapstructure:"kafka_topic"`
}

// ServerConfig configures the HTTP trigger
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	VerifyToken     string        `yaml:"verify_token,omitempty" mapstructure:"verify_token"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	Async           bool          `yaml:"async" mapstructure:"async"` // Answer 202 and run in the background
}

// ScheduleConfig configures daemon mode
type ScheduleConfig struct {
	Cron string `yaml:"cron" mapstructure:"cron"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // "console" or "json"
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Sources: SourcesConfig{
			Kind:   "dir",
			Dir:    "./inbox",
			Window: 24 * time.Hour,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Timeout:     45 * time.Second,
			MaxTokens:   2048,
			Temperature: 0.1,
		},
		Concurrency: ConcurrencyConfig{
			MaxInFlight:       5,
			RequestsPerMinute: 60,
			Workers:           8,
			FetchWorkers:      4,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseBackoff: time.Second,
			MaxBackoff:  30 * time.Second,
		},
		Classification: ClassificationConfig{
			ConfidenceThreshold: 0.5,
			MaxBodyChars:        8000,
		},
		Extraction: ExtractionConfig{
			MaxStoriesPerItem: 10,
		},
		Dedup: DedupConfig{
			BatchSize:      40,
			MaxMergePasses: 4,
		},
		Digest: DigestConfig{
			MaxPerCategory:  15,
			KeywordFallback: true,
		},
		Run: RunConfig{
			Timeout: 55 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:   false,
			MemoryTTL: 6 * time.Hour,
			Dir:       ".newsdigest/cache",
			DiskTTL:   24 * time.Hour,
		},
		Delivery: DeliveryConfig{
			OutputDir: "./digests",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Schedule: ScheduleConfig{
			Cron: "0 7 * * *",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks values that would make a run meaningless
func (c *Config) Validate() error {
	if c.Concurrency.MaxInFlight <= 0 {
		return fmt.Errorf("concurrency.max_in_flight must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if t := c.Classification.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("classification.confidence_threshold must be within [0,1], got %v", t)
	}
	if c.Dedup.BatchSize < 2 {
		return fmt.Errorf("dedup.batch_size must be at least 2")
	}
	if c.Dedup.MaxMergePasses < 0 {
		return fmt.Errorf("dedup.max_merge_passes must not be negative")
	}
	if n := c.Extraction.MaxStoriesPerItem; n < 0 || n > 999 {
		return fmt.Errorf("extraction.max_stories_per_item must be within [0,999], got %d", n)
	}
	if c.Sources.Window <= 0 {
		return fmt.Errorf("sources.window must be positive")
	}
	return nil
}
