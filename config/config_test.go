package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfig(t *testing.T) {
	p := writeConfig(t, `
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "freight"
kafka:
  host: "localhost"
  port: 9092
  load_events_topic_name: "load.events"
  location_ingest_topic_name: "location.ingest"
redis:
  host: "localhost"
  port: 6379
auth:
  public_key: "11qYAYKxCrfVS/7TyWQHOg7hcvPapiMlrwIaaPcHURo="
  audience: "freight"
freight:
  http_addr: ":8080"
  log_level: "debug"
  kafka_consumer_group: "freight-api"
  latest_location_ttl_seconds: 600
  tracking_max_sessions_per_load: 3
  tracking_idle_timeout_seconds: 90
  tracking_require_assigned_carrier: true
  worker_lease_seconds: 60
  worker_backoff_seconds: [5, 30, 120, 600]
  worker_backoff_jitter: 0.2
`)

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "postgres://u:p@localhost:5432/freight?sslmode=disable", cfg.Database.DSN())
	require.Equal(t, "load.events", cfg.Kafka.LoadEventsTopicName)
	require.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers())
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, "freight", cfg.Auth.Audience)
	require.Equal(t, ":8080", cfg.Freight.HTTPAddr)
	require.Equal(t, 10*time.Minute, cfg.Freight.LatestLocationTTL())
	require.Equal(t, 90*time.Second, cfg.Freight.TrackingIdleTimeout())
	require.True(t, cfg.Freight.TrackingRequireAssignedCarrier)
	require.Equal(t, time.Minute, cfg.Freight.WorkerLease())
	require.Equal(t, []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute, 10 * time.Minute}, cfg.Freight.WorkerBackoff())
}

func TestLoadConfig_EmptySections(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "freight:\n  http_addr: \":8080\"\n"))
	require.NoError(t, err)
	require.Nil(t, cfg.Kafka.Brokers())
	require.Empty(t, cfg.Redis.Addr())
	require.Zero(t, cfg.Freight.TrackingIdleTimeout())
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to read config file")

	_, err = LoadConfig(writeConfig(t, "database: [not, a, map"))
	require.ErrorContains(t, err, "failed to unmarshal YAML")

	_, err = LoadConfig(writeConfig(t, `
auth:
  public_key: "not-base64!"
freight:
  log_level: "verbose"
  tracking_max_sessions_per_load: -1
`))
	require.ErrorContains(t, err, "auth.public_key")
	require.ErrorContains(t, err, "freight.log_level")
	require.ErrorContains(t, err, "tracking_max_sessions_per_load")
}

func TestFreightConfig_SlogLevel(t *testing.T) {
	require.Equal(t, slog.LevelInfo, FreightConfig{}.SlogLevel())
	require.Equal(t, slog.LevelDebug, FreightConfig{LogLevel: "DEBUG"}.SlogLevel())
	require.Equal(t, slog.LevelWarn, FreightConfig{LogLevel: "warn"}.SlogLevel())
	require.Equal(t, slog.LevelError, FreightConfig{LogLevel: "error"}.SlogLevel())
}
