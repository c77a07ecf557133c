package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// go test -v --run TestLoadFromDefaults
func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.Backend.REST.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Backend.REST.Timeout)
	assert.True(t, cfg.Backend.WS.AutoReconnect)
	assert.Equal(t, 500, cfg.Store.MaxTicks)
	assert.Equal(t, 200, cfg.Store.MaxCandles)
	assert.Equal(t, 500*time.Millisecond, cfg.Analytics.TickInterval)
	assert.Equal(t, 30*time.Second, cfg.Backend.WS.PingInterval)
}

// go test -v --run TestLoadFromFileAndEnv
func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
backend:
  rest:
    base_url: http://backend:9000
    timeout: 5s
  ws:
    max_reconnect_attempts: 3
    reconnect_delay: 250ms
store:
  max_ticks: 50
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))

	t.Setenv("NEXT_PUBLIC_WS_URL", "ws://stream:9001/ws")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000", cfg.Backend.REST.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Backend.REST.Timeout)
	assert.Equal(t, 3, cfg.Backend.WS.MaxReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Backend.WS.ReconnectDelay)
	assert.Equal(t, "ws://stream:9001/ws", cfg.Backend.WS.URL)
	assert.Equal(t, 50, cfg.Store.MaxTicks)
	assert.Equal(t, "debug", cfg.Log.Level)
}

// go test -v --run TestAPIURLEnvPrecedence
func TestAPIURLEnvPrecedence(t *testing.T) {
	t.Setenv("API_URL", "http://fallback:8000")
	t.Setenv("NEXT_PUBLIC_API_URL", "http://public:8000")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "http://public:8000", cfg.Backend.REST.BaseURL)
}

// go test -v --run TestValidate
func TestValidate(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	cfg.Store.MaxTicks = 0
	cfg.Backend.REST.BaseURL = " "
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
	assert.Contains(t, err.Error(), "window sizes")
}

// go test -v --run TestPostgresDSN
func TestPostgresDSN(t *testing.T) {
	cfg := PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "pw",
		DBName:   "tradedash",
		SSLMode:  "disable",
		TimeZone: "UTC",
	}

	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=pw dbname=tradedash sslmode=disable TimeZone=UTC",
		cfg.DSN("dev"))
	assert.Contains(t, cfg.AdminDSN(), "dbname=postgres")
}
