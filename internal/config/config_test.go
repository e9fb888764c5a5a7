package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "data-requests", cfg.Redis.RequestStream)
	assert.Equal(t, "data-results", cfg.Redis.ResultStream)
	assert.Equal(t, "chatbot-consumers", cfg.Redis.Group)
	assert.Equal(t, "chatbot", cfg.Redis.ConsumerName)
	assert.Equal(t, 30*time.Second, cfg.Redis.WaitTimeout)
	assert.Equal(t, int64(600000), cfg.Redis.PendingIdleMs)
	assert.Equal(t, "spring-consumers", cfg.Responder.Group)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Log.Level)

	o := cfg.ClientOptions()
	assert.Equal(t, 10*time.Minute, o.ReclaimMinIdle)
	assert.Equal(t, 5*time.Minute, o.ReclaimInterval)
	assert.Equal(t, "redis://localhost:6379/0", cfg.BrokerConfig().URL)
	assert.Equal(t, "spring-consumers", cfg.ResponderConfig().Group)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6380/1")
	t.Setenv("REDIS_STREAM_DATA_RESULTS", "results-x")
	t.Setenv("REDIS_WAIT_TIMEOUT", "5s")
	t.Setenv("REDIS_PENDING_IDLE_MS", "1000")
	t.Setenv("LOG_CONSOLE", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "redis://cache:6380/1", cfg.Redis.URL)
	assert.Equal(t, "results-x", cfg.ClientOptions().ResultStream)
	assert.Equal(t, 5*time.Second, cfg.ClientOptions().WaitTimeout)
	assert.Equal(t, time.Second, cfg.ClientOptions().ReclaimMinIdle)
	assert.True(t, cfg.Log.Console)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
redis:
  group: from-file
  wait_timeout: 12s
http:
  addr: ":9090"
`), 0o600))
	t.Setenv("HTTP_ADDR", ":7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Redis.Group)
	assert.Equal(t, 12*time.Second, cfg.Redis.WaitTimeout)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis: [unclosed\n"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "config error")
}

func TestLoad_RejectsSameStreams(t *testing.T) {
	t.Setenv("REDIS_STREAM_DATA_REQUESTS", "same")
	t.Setenv("REDIS_STREAM_DATA_RESULTS", "same")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
