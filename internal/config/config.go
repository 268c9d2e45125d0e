package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/resellsync/crosslist/pkg/backoff"
	"github.com/resellsync/crosslist/pkg/ratelimit"
)

type Config struct {
	Server       ServerConfig                 `mapstructure:"server"`
	Database     DatabaseConfig               `mapstructure:"database"`
	Redis        RedisConfig                  `mapstructure:"redis"`
	SMTP         SMTPConfig                   `mapstructure:"smtp"`
	JWT          JWTConfig                    `mapstructure:"jwt"`
	Queue        QueueConfig                  `mapstructure:"queue"`
	Delisting    DelistingConfig              `mapstructure:"delisting"`
	Marketplaces map[string]MarketplaceConfig `mapstructure:"marketplaces"`
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	URL          string `mapstructure:"url"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

type QueueConfig struct {
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
	RetryMultiplier   float64       `mapstructure:"retry_multiplier"`
	StuckJobTimeout   time.Duration `mapstructure:"stuck_job_timeout"`
}

// BackoffPolicy converts the queue tuning into a retry policy. MaxAttempts is
// total executions, so retries are one fewer.
func (c QueueConfig) BackoffPolicy() backoff.Policy {
	return backoff.Policy{
		MaxRetries:   c.MaxAttempts - 1,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
		Multiplier:   c.RetryMultiplier,
	}
}

type DelistingConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	ConfirmationHold time.Duration `mapstructure:"confirmation_hold"`
}

type MarketplaceConfig struct {
	RateLimit RateLimitConfig       `mapstructure:"rate_limit"`
	Webhook   WebhookConfig         `mapstructure:"webhook"`
	Retry     MarketplaceRetry      `mapstructure:"retry"`
	Adapter   AdapterConfig         `mapstructure:"adapter"`
}

type RateLimitConfig struct {
	Strategy          string `mapstructure:"strategy"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	RequestsPerHour   int    `mapstructure:"requests_per_hour"`
	RequestsPerDay    int    `mapstructure:"requests_per_day"`
	Burst             int    `mapstructure:"burst"`
	MinIntervalMS     int    `mapstructure:"min_interval_ms"`
}

// Limit collapses the rate table to the tightest configured window.
func (c RateLimitConfig) Limit() ratelimit.Config {
	cfg := ratelimit.Config{
		Strategy:    ratelimit.Strategy(c.Strategy),
		MinInterval: time.Duration(c.MinIntervalMS) * time.Millisecond,
	}
	switch {
	case c.RequestsPerMinute > 0:
		cfg.Capacity, cfg.Window = c.RequestsPerMinute, time.Minute
	case c.RequestsPerHour > 0:
		cfg.Capacity, cfg.Window = c.RequestsPerHour, time.Hour
	case c.RequestsPerDay > 0:
		cfg.Capacity, cfg.Window = c.RequestsPerDay, 24*time.Hour
	default:
		return ratelimit.DefaultConfig
	}
	if c.Burst > 0 && c.Burst < cfg.Capacity {
		cfg.Capacity = c.Burst
	}
	return cfg
}

type WebhookConfig struct {
	Secret          string `mapstructure:"secret"`
	SignatureHeader string `mapstructure:"signature_header"`
	SignaturePrefix string `mapstructure:"signature_prefix"`
}

type MarketplaceRetry struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

func (r MarketplaceRetry) Policy() backoff.Policy {
	p := backoff.Policy{
		MaxRetries:   r.MaxRetries,
		InitialDelay: r.InitialDelay,
		MaxDelay:     r.MaxDelay,
		Multiplier:   r.Multiplier,
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}
	return p
}

type AdapterConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// RateLimits builds the per-marketplace limiter table for the registry.
func (c *Config) RateLimits() map[string]ratelimit.Config {
	out := make(map[string]ratelimit.Config, len(c.Marketplaces))
	for name, mc := range c.Marketplaces {
		out[name] = mc.RateLimit.Limit()
	}
	return out
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeout_seconds", 30)
	viper.SetDefault("queue.max_concurrent_jobs", 5)
	viper.SetDefault("queue.tick_interval", "5s")
	viper.SetDefault("queue.job_timeout", "120s")
	viper.SetDefault("queue.max_attempts", 3)
	viper.SetDefault("queue.retry_initial_delay", "1s")
	viper.SetDefault("queue.retry_max_delay", "5m")
	viper.SetDefault("queue.retry_multiplier", 2.0)
	viper.SetDefault("queue.stuck_job_timeout", "10m")
	viper.SetDefault("delisting.poll_interval", "10s")
	viper.SetDefault("delisting.max_retries", 3)
	viper.SetDefault("delisting.retry_delay", "1m")
	viper.SetDefault("delisting.confirmation_hold", "168h")
}
