package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DefaultsFillOmittedKeys(t *testing.T) {
	cfg, err := Parse([]byte(`
service:
  http_listen_addr: ":18000"
classifier:
  window: 10s
  idle_ttl: 1m
`))
	require.NoError(t, err)

	assert.Equal(t, ":18000", cfg.Service.HTTPListenAddr)
	assert.Equal(t, ":9090", cfg.Service.GRPCListenAddr)
	assert.Equal(t, 64, cfg.Service.MaxRecent)
	assert.Equal(t, 10*time.Second, cfg.Classifier.Window)
	assert.Equal(t, time.Minute, cfg.Classifier.IdleTTL)
	assert.Equal(t, 30*time.Second, cfg.Probe.FlowTTL)
	assert.Equal(t, 200, cfg.Probe.MaxFlush)
	require.Len(t, cfg.Probe.Sinks, 1)
	assert.Equal(t, "http", cfg.Probe.Sinks[0].Type)
}

func TestParse_Sinks(t *testing.T) {
	cfg, err := Parse([]byte(`
probe:
  sinks:
    - type: nats
      enabled: true
    - type: clickhouse
      enabled: false
      clickhouse:
        host: localhost
        port: 9000
`))
	require.NoError(t, err)
	require.Len(t, cfg.Probe.Sinks, 2)
	assert.Equal(t, "nats", cfg.Probe.Sinks[0].Type)
	assert.Equal(t, 9000, cfg.Probe.Sinks[1].ClickHouse.Port)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"idle shorter than window": "classifier:\n  window: 1m\n  idle_ttl: 30s\n",
		"zero max recent":          "service:\n  max_recent: 0\n",
		"unknown sink":             "probe:\n  sinks:\n    - type: kafka\n",
		"bad duration":             "probe:\n  flow_ttl: soon\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  max_recent: 8\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Service.MaxRecent)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestServiceConfig_Level(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ServiceConfig{LogLevel: "debug"}.Level())
	assert.Equal(t, slog.LevelWarn, ServiceConfig{LogLevel: "WARN"}.Level())
	assert.Equal(t, slog.LevelInfo, ServiceConfig{LogLevel: "chatty"}.Level())
	assert.Equal(t, slog.LevelInfo, ServiceConfig{}.Level())
}

func TestLoadConfig_SampleFile(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "aegisnet.flows", cfg.NATS.Subject)
	assert.Equal(t, 750*time.Millisecond, cfg.Probe.Sinks[0].HTTP.Timeout)
	assert.Len(t, cfg.Probe.Sinks, 4)
	assert.Equal(t, "snapshots", cfg.Probe.Sinks[3].File.RootPath)
	assert.Equal(t, 2*time.Minute, cfg.Classifier.IdleTTL)
}
