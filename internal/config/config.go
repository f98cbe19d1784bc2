// Package config loads and validates service configuration via Viper, and the
// bot's JSON ConfigMap.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Bot     BotSettings   `mapstructure:"bot"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the webhook listener.
type ServerConfig struct {
	Address              string `mapstructure:"address"`
	Port                 int    `mapstructure:"port"`
	KeepAlive            bool   `mapstructure:"keep_alive"`
	ReadTimeoutSeconds   int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds  int    `mapstructure:"write_timeout_seconds"`
	IdleTimeoutSeconds   int    `mapstructure:"idle_timeout_seconds"`
	MaxBodyBytes         int64  `mapstructure:"max_body_bytes"`
	ShutdownGraceSeconds int    `mapstructure:"shutdown_grace_seconds"`
}

// BotSettings controls update handling.
type BotSettings struct {
	ConfigFile      string `mapstructure:"config_file"`
	ReplyOnMiss     bool   `mapstructure:"reply_on_miss"`
	ReportResults   bool   `mapstructure:"report_results"`
	RegisterWebhook bool   `mapstructure:"register_webhook"`
}

// WorkerConfig governs the resolution worker pool.
type WorkerConfig struct {
	Concurrency       int  `mapstructure:"concurrency"`
	QueueDepth        int  `mapstructure:"queue_depth"`
	JobTimeoutSeconds int  `mapstructure:"job_timeout_seconds"`
	Download          bool `mapstructure:"download"`
}

// HTTPConfig configures outbound HTTP retry and rate limiting.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RateLimitRPS     float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
	UserAgent        string  `mapstructure:"user_agent"`
}

// StorageConfig selects where downloaded media is written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls the optional download ledger. An empty DSN disables it.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for download notifications. An empty topic disables them.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SIPETO")
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
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8443)
	v.SetDefault("server.keep_alive", true)
	v.SetDefault("server.read_timeout_seconds", 10)
	v.SetDefault("server.write_timeout_seconds", 10)
	v.SetDefault("server.idle_timeout_seconds", 60)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.shutdown_grace_seconds", 10)
	v.SetDefault("bot.config_file", "config.json")
	v.SetDefault("bot.reply_on_miss", false)
	v.SetDefault("bot.report_results", true)
	v.SetDefault("bot.register_webhook", true)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("worker.job_timeout_seconds", 120)
	v.SetDefault("worker.download", true)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.rate_limit_rps", 5)
	v.SetDefault("http.rate_limit_burst", 5)
	v.SetDefault("http.user_agent", "sipeto/0.1")
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.base_dir", ".")
	v.SetDefault("db.table", "media_downloads")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must be > 0"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be > 0"))
	}
	if c.Worker.QueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("worker.queue_depth must be > 0"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout_seconds must be > 0"))
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("http.max_retries must be >= 0"))
	}
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			errs = append(errs, fmt.Errorf("storage.base_dir must be set for the local backend"))
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			errs = append(errs, fmt.Errorf("storage.gcs_bucket must be set for the gcs backend"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of local, gcs, memory", c.Storage.Backend))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is"))
	}
	return errors.Join(errs...)
}

// ListenAddress joins server.address and server.port.
func (c Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

// JobBudget bounds one resolve plus download.
func (c Config) JobBudget() time.Duration {
	return time.Duration(c.Worker.JobTimeoutSeconds) * time.Second
}

// RequestTimeout is the per-request outbound timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// ReadTimeout is the deadline for reading the first request on a connection.
func (s ServerConfig) ReadTimeout() time.Duration { return seconds(s.ReadTimeoutSeconds) }

// WriteTimeout is the deadline for writing one response.
func (s ServerConfig) WriteTimeout() time.Duration { return seconds(s.WriteTimeoutSeconds) }

// IdleTimeout is the deadline for the next request on a kept-alive connection.
func (s ServerConfig) IdleTimeout() time.Duration { return seconds(s.IdleTimeoutSeconds) }

// ShutdownGrace bounds how long shutdown waits for in-flight sessions.
func (s ServerConfig) ShutdownGrace() time.Duration { return seconds(s.ShutdownGraceSeconds) }
