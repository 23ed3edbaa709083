package config

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Freight  FreightConfig  `yaml:"freight"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN builds a postgres URL; ssl_mode defaults to disable.
func (d DatabaseConfig) DSN() string {
	ssl := d.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.Username, d.Password, d.Host, d.Port, d.DBName, ssl)
}

type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	LoadEventsTopicName     string `yaml:"load_events_topic_name"`
	LocationIngestTopicName string `yaml:"location_ingest_topic_name"`
}

func (k KafkaConfig) Brokers() []string {
	if k.Host == "" {
		return nil
	}
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type AuthConfig struct {
	// PublicKey is the base64 (std) ed25519 key credentials are verified with.
	PublicKey string `yaml:"public_key"`
	Audience  string `yaml:"audience"`
}

type FreightConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	SwaggerPath        string `yaml:"swagger_path"`
	LogLevel           string `yaml:"log_level"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	LatestLocationTTLSeconds int `yaml:"latest_location_ttl_seconds"`
	DefaultPageSize          int `yaml:"default_page_size"`
	MaxPageSize              int `yaml:"max_page_size"`

	// 0 = без ограничений / без таймаута.
	TrackingMaxSessionsPerLoad     int  `yaml:"tracking_max_sessions_per_load"`
	TrackingIdleTimeoutSeconds     int  `yaml:"tracking_idle_timeout_seconds"`
	TrackingRequireAssignedCarrier bool `yaml:"tracking_require_assigned_carrier"`

	WorkerPollIntervalSeconds int     `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int     `yaml:"worker_batch_size"`
	WorkerConcurrency         int     `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int     `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute  int     `yaml:"worker_rate_limit_per_minute"`
	WorkerBackoffSeconds      []int   `yaml:"worker_backoff_seconds"`
	WorkerBackoffJitter       float64 `yaml:"worker_backoff_jitter"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (f FreightConfig) LatestLocationTTL() time.Duration {
	return seconds(f.LatestLocationTTLSeconds)
}

func (f FreightConfig) TrackingIdleTimeout() time.Duration {
	return seconds(f.TrackingIdleTimeoutSeconds)
}

func (f FreightConfig) WorkerPollInterval() time.Duration {
	return seconds(f.WorkerPollIntervalSeconds)
}

func (f FreightConfig) WorkerLease() time.Duration {
	return seconds(f.WorkerLeaseSeconds)
}

func (f FreightConfig) WorkerBackoff() []time.Duration {
	out := make([]time.Duration, 0, len(f.WorkerBackoffSeconds))
	for _, s := range f.WorkerBackoffSeconds {
		out = append(out, seconds(s))
	}
	return out
}

// SlogLevel maps log_level to a slog level; empty means info.
func (f FreightConfig) SlogLevel() slog.Level {
	switch strings.ToLower(f.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger installs a JSON slog handler on stdout as the default logger.
func SetupLogger(f FreightConfig) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: f.SlogLevel()})))
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	var problems []string
	if c.Auth.PublicKey != "" {
		if b, err := base64.StdEncoding.DecodeString(c.Auth.PublicKey); err != nil || len(b) != 32 {
			problems = append(problems, "auth.public_key must be a base64 ed25519 public key")
		}
	}
	switch strings.ToLower(c.Freight.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("freight.log_level %q is not one of debug, info, warn, error", c.Freight.LogLevel))
	}
	if c.Freight.TrackingMaxSessionsPerLoad < 0 {
		problems = append(problems, "freight.tracking_max_sessions_per_load must not be negative")
	}
	if c.Freight.TrackingIdleTimeoutSeconds < 0 {
		problems = append(problems, "freight.tracking_idle_timeout_seconds must not be negative")
	}
	if c.Freight.WorkerBackoffJitter < 0 || c.Freight.WorkerBackoffJitter > 1 {
		problems = append(problems, "freight.worker_backoff_jitter must be within [0, 1]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
