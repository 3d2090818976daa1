package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	p := writeFile(t, "config.yaml", `
environment: test
store:
  path: /tmp/raw.db
providers:
  economic-data:
    requests_per_second: 5
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/raw.db", c.Store.Path)
	assert.Equal(t, 4, c.Fetch.FanOut)
	assert.Equal(t, 30, c.Fetch.ReconciliationWindowDays)
	assert.Equal(t, 3, c.Fetch.MaxRetries)
	assert.Equal(t, time.Second, c.Fetch.BaseBackoff)
	assert.Equal(t, "forward", c.Build.FillPolicy)
	assert.Equal(t, "memory", c.Cache.Backend)
	assert.Equal(t, 5.0, c.Providers.Economic.RequestsPerSecond)
	assert.Equal(t, 2.0, c.Providers.Labor.RequestsPerSecond)
	assert.True(t, c.Providers.Labor.IsEnabled())
	assert.Equal(t, "info", c.Log.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	p := writeFile(t, "config.yaml", "fetch:\n  fan_out: 0\n  max_retries: 99\n")
	_, err := Load(p)
	assert.Error(t, err)

	p = writeFile(t, "config.yaml", "no_such_section: true\n")
	_, err = Load(p)
	assert.Error(t, err)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	p := writeFile(t, "config.yaml", "environment: test\n")
	t.Setenv("LHM_STORE_PATH", "/var/lib/lhm/raw.db")
	t.Setenv("LHM_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LHM_LOG_LEVEL", "debug")

	c, err := LoadWithEnv(p)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/lhm/raw.db", c.Store.Path)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "debug", c.Log.Level)
}

func TestLoadSecrets(t *testing.T) {
	p := writeFile(t, "secrets.env", "FRED_API_KEY=abc123\n# comment\nFINNHUB_API_KEY=\"  xyz  \"\n")
	creds, err := LoadSecrets(p)
	require.NoError(t, err)
	assert.Equal(t, "abc123", creds.Get("FRED_API_KEY"))
	assert.Equal(t, "xyz", creds.Get("FINNHUB_API_KEY"))
	assert.Equal(t, "", creds.Get("BLS_API_KEY"))

	creds, err = LoadSecrets(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Empty(t, creds)
}
