// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/bizregistry-scraper/internal/storage/local"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Captcha  CaptchaConfig  `mapstructure:"captcha"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Database DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ScraperConfig governs job execution and source fetching.
type ScraperConfig struct {
	DefaultSources      []string `mapstructure:"default_sources"`
	UserAgent           string   `mapstructure:"user_agent"`
	RespectRobots       bool     `mapstructure:"respect_robots"`
	FetchTimeoutSeconds int      `mapstructure:"fetch_timeout_seconds"`
	RateLimitRPS        float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst      int      `mapstructure:"rate_limit_burst"`
	Workers             int      `mapstructure:"workers"`
	QueueDepth          int      `mapstructure:"queue_depth"`
	ArchivePages        bool     `mapstructure:"archive_pages"`
	MaxLimit            int      `mapstructure:"max_limit"`
}

// ProxyConfig controls proxy probing and health checks.
type ProxyConfig struct {
	TestURL               string  `mapstructure:"test_url"`
	TestTimeoutSeconds    int     `mapstructure:"test_timeout_seconds"`
	BatchSize             int     `mapstructure:"batch_size"`
	BatchPauseMs          int     `mapstructure:"batch_pause_ms"`
	DefaultCostPerRequest float64 `mapstructure:"default_cost_per_request"`
}

// CaptchaConfig carries solver credentials and polling limits.
type CaptchaConfig struct {
	TwoCaptchaAPIKey    string  `mapstructure:"twocaptcha_api_key"`
	AntiCaptchaAPIKey   string  `mapstructure:"anticaptcha_api_key"`
	DefaultService      string  `mapstructure:"default_service"`
	PollIntervalSeconds int     `mapstructure:"poll_interval_seconds"`
	MaxPolls            int     `mapstructure:"max_polls"`
	FailedAttemptCost   float64 `mapstructure:"failed_attempt_cost"`
}

// QueueConfig selects the job queue backend.
type QueueConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisKey      string `mapstructure:"redis_key"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// StorageConfig sets the raw page archive backend.
type StorageConfig struct {
	Backend     string       `mapstructure:"backend"`
	Bucket      string       `mapstructure:"bucket"`
	Prefix      string       `mapstructure:"prefix"`
	ContentType string       `mapstructure:"content_type"`
	Local       local.Config `mapstructure:"local"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the notification hub.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
}

// ProgressBatchConfig controls hub batching.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindCredentials(v)

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
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("scraper.default_sources", []string{"infodoanhnghiep.com", "hsctvn.com", "masothue.com"})
	v.SetDefault("scraper.user_agent", "bizregistry-bot/0.1")
	v.SetDefault("scraper.respect_robots", false)
	v.SetDefault("scraper.fetch_timeout_seconds", 30)
	v.SetDefault("scraper.rate_limit_rps", 1.0)
	v.SetDefault("scraper.rate_limit_burst", 1)
	v.SetDefault("scraper.workers", 2)
	v.SetDefault("scraper.queue_depth", 64)
	v.SetDefault("scraper.archive_pages", false)
	v.SetDefault("scraper.max_limit", 10000)
	v.SetDefault("proxy.test_url", "https://httpbin.org/ip")
	v.SetDefault("proxy.test_timeout_seconds", 10)
	v.SetDefault("proxy.batch_size", 5)
	v.SetDefault("proxy.batch_pause_ms", 1000)
	v.SetDefault("proxy.default_cost_per_request", 0.0)
	v.SetDefault("captcha.default_service", "2captcha")
	v.SetDefault("captcha.poll_interval_seconds", 10)
	v.SetDefault("captcha.max_polls", 30)
	v.SetDefault("captcha.failed_attempt_cost", 0.0005)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.redis_key", "scraper:jobs")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.migrate", true)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 100)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 5000)
}

// bindCredentials lets solver keys come from their conventional variable names.
func bindCredentials(v *viper.Viper) {
	_ = v.BindEnv("captcha.twocaptcha_api_key", "SCRAPER_CAPTCHA_TWOCAPTCHA_API_KEY", "TWOCAPTCHA_API_KEY")
	_ = v.BindEnv("captcha.anticaptcha_api_key", "SCRAPER_CAPTCHA_ANTICAPTCHA_API_KEY", "ANTICAPTCHA_API_KEY")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scraper.Workers <= 0 {
		return fmt.Errorf("scraper.workers must be > 0")
	}
	if c.Scraper.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.fetch_timeout_seconds must be > 0")
	}
	if len(c.Scraper.DefaultSources) == 0 {
		return fmt.Errorf("scraper.default_sources must not be empty")
	}
	if c.Proxy.BatchSize <= 0 {
		return fmt.Errorf("proxy.batch_size must be > 0")
	}
	if c.Proxy.TestTimeoutSeconds <= 0 {
		return fmt.Errorf("proxy.test_timeout_seconds must be > 0")
	}
	if c.Captcha.MaxPolls <= 0 {
		return fmt.Errorf("captcha.max_polls must be > 0")
	}
	if c.Captcha.FailedAttemptCost < 0 {
		return fmt.Errorf("captcha.failed_attempt_cost must be >= 0")
	}
	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("queue.redis_addr must be set when queue.backend is redis")
		}
	default:
		return fmt.Errorf("queue.backend must be memory or redis")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set when storage.backend is local")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local, or gcs")
	}
	return nil
}

// FetchTimeout converts the fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scraper.FetchTimeoutSeconds) * time.Second
}

// PollInterval converts the CAPTCHA poll interval into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Captcha.PollIntervalSeconds) * time.Second
}
