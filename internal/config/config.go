package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	FormatXML  = "xml"
	FormatHTML = "html"

	EnvRedisURL   = "REDIS_URL"
	EnvOutputRoot = "OUTPUT_ROOT"

	defaultPageSize        = 1000
	defaultListingTimeout  = 30 * time.Second
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxDelay   = 10 * time.Second
	defaultOutputRoot      = "data"
	defaultTransferTimeout = 5 * time.Minute
	defaultWorkers         = 4
	defaultPollInterval    = 100 * time.Millisecond
	defaultMaxAttempts     = 5
	defaultBackoffBase     = time.Second
	defaultBackoffMax      = 2 * time.Minute
	defaultFailureStreak   = 10
	defaultFlushInterval   = 30 * time.Second
	defaultCatalogFileName = "catalog.db"
)

// Duration wraps time.Duration so config values can be written as "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}

	dd, err := time.ParseDuration(str)
	if err != nil {
		return fmt.Errorf("cannot parse duration %q: %w", str, err)
	}

	*d = Duration(dd)

	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type ListingConfig struct {
	Host       string   `yaml:"host"`
	PrefixRoot string   `yaml:"prefix_root"`
	Format     string   `yaml:"format"`
	PageSize   int      `yaml:"page_size"`
	Timeout    Duration `yaml:"timeout"`
}

type DiscoveryConfig struct {
	RetryAttempts  int      `yaml:"retry_attempts"`
	RetryBaseDelay Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  Duration `yaml:"retry_max_delay"`
	AcceptPartial  bool     `yaml:"accept_partial"`
}

type TransferConfig struct {
	OutputRoot string   `yaml:"output_root"`
	Timeout    Duration `yaml:"timeout"`
}

type SchedulerConfig struct {
	Workers       int      `yaml:"workers"`
	PollInterval  Duration `yaml:"poll_interval"`
	MaxAttempts   int      `yaml:"max_attempts"`
	BackoffBase   Duration `yaml:"backoff_base"`
	BackoffMax    Duration `yaml:"backoff_max"`
	FailureStreak int      `yaml:"failure_streak"`
}

type CheckpointConfig struct {
	RedisURL      string   `yaml:"redis_url"`
	FlushInterval Duration `yaml:"flush_interval"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type Config struct {
	LogLevel         string           `yaml:"log_level"`
	ListingConfig    ListingConfig    `yaml:"listing"`
	DiscoveryConfig  DiscoveryConfig  `yaml:"discovery"`
	TransferConfig   TransferConfig   `yaml:"transfer"`
	SchedulerConfig  SchedulerConfig  `yaml:"scheduler"`
	CheckpointConfig CheckpointConfig `yaml:"checkpoint"`
	CatalogConfig    CatalogConfig    `yaml:"catalog"`
}

// SetDefaults fills every field still at its zero value. The catalog path
// derives from the output root, so it is computed last.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = LogLevelInfo
	}

	c.ListingConfig.Host = strings.TrimSuffix(c.ListingConfig.Host, "/")
	if c.ListingConfig.Format == "" {
		c.ListingConfig.Format = FormatXML
	}
	if c.ListingConfig.PageSize == 0 {
		c.ListingConfig.PageSize = defaultPageSize
	}
	if c.ListingConfig.Timeout == 0 {
		c.ListingConfig.Timeout = Duration(defaultListingTimeout)
	}

	if c.DiscoveryConfig.RetryAttempts == 0 {
		c.DiscoveryConfig.RetryAttempts = defaultRetryAttempts
	}
	if c.DiscoveryConfig.RetryBaseDelay == 0 {
		c.DiscoveryConfig.RetryBaseDelay = Duration(defaultRetryBaseDelay)
	}
	if c.DiscoveryConfig.RetryMaxDelay == 0 {
		c.DiscoveryConfig.RetryMaxDelay = Duration(defaultRetryMaxDelay)
	}

	if c.TransferConfig.OutputRoot == "" {
		c.TransferConfig.OutputRoot = defaultOutputRoot
	}
	if c.TransferConfig.Timeout == 0 {
		c.TransferConfig.Timeout = Duration(defaultTransferTimeout)
	}

	if c.SchedulerConfig.Workers == 0 {
		c.SchedulerConfig.Workers = defaultWorkers
	}
	if c.SchedulerConfig.PollInterval == 0 {
		c.SchedulerConfig.PollInterval = Duration(defaultPollInterval)
	}
	if c.SchedulerConfig.MaxAttempts == 0 {
		c.SchedulerConfig.MaxAttempts = defaultMaxAttempts
	}
	if c.SchedulerConfig.BackoffBase == 0 {
		c.SchedulerConfig.BackoffBase = Duration(defaultBackoffBase)
	}
	if c.SchedulerConfig.BackoffMax == 0 {
		c.SchedulerConfig.BackoffMax = Duration(defaultBackoffMax)
	}
	if c.SchedulerConfig.FailureStreak == 0 {
		c.SchedulerConfig.FailureStreak = defaultFailureStreak
	}

	if c.CheckpointConfig.FlushInterval == 0 {
		c.CheckpointConfig.FlushInterval = Duration(defaultFlushInterval)
	}

	if c.CatalogConfig.Path == "" {
		c.CatalogConfig.Path = filepath.Join(c.TransferConfig.OutputRoot, defaultCatalogFileName)
	}
}

func (c *Config) Validate() error {
	if c.ListingConfig.Host == "" {
		return fmt.Errorf("listing host is required")
	}

	switch c.ListingConfig.Format {
	case FormatXML, FormatHTML:
	default:
		return fmt.Errorf("unknown listing format: %s", c.ListingConfig.Format)
	}

	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("unknown log level: %s", c.LogLevel)
	}

	if c.ListingConfig.PageSize < 1 {
		return fmt.Errorf("listing page size must be positive")
	}

	if c.SchedulerConfig.Workers < 1 {
		return fmt.Errorf("scheduler workers must be positive")
	}

	if c.SchedulerConfig.MaxAttempts < 1 {
		return fmt.Errorf("scheduler max attempts must be positive")
	}

	if c.DiscoveryConfig.RetryAttempts < 1 {
		return fmt.Errorf("discovery retry attempts must be positive")
	}

	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.CheckpointConfig.RedisURL = v
	}

	if v := os.Getenv(EnvOutputRoot); v != "" {
		c.TransferConfig.OutputRoot = v
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
