package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, StoreMemory, cfg.Snapshot.Store)
	assert.Equal(t, 30*time.Second, cfg.Snapshot.Interval)
	assert.Equal(t, "mbo-raw", cfg.Kafka.InputTopic)
	assert.False(t, cfg.Otel.Enabled)
}

func TestLoadFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_addr: ":9000"
  log_level: debug
kafka:
  broker_addr: "kafka:9092"
  output_topic: canonical
snapshot:
  store: pebble
  interval: 5s
pebble:
  dir: /tmp/books
otel:
  enabled: true
`), 0o600))

	cfg, err := Load([]string{"-config", path, "-log_level", "warn"})
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
	assert.Equal(t, "kafka:9092", cfg.Kafka.BrokerAddr)
	assert.Equal(t, "canonical", cfg.Kafka.OutputTopic)
	assert.Equal(t, "mbo-raw", cfg.Kafka.InputTopic)
	assert.Equal(t, StorePebble, cfg.Snapshot.Store)
	assert.Equal(t, 5*time.Second, cfg.Snapshot.Interval)
	assert.Equal(t, "/tmp/books", cfg.Pebble.Dir)
	assert.True(t, cfg.Otel.Enabled)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load([]string{"-snapshot_store", "s3"})
	assert.Error(t, err)

	_, err = Load([]string{"-log_format", "xml"})
	assert.Error(t, err)

	_, err = Load([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	_, err = Load([]string{"-nope"})
	assert.Error(t, err)
}
