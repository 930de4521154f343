package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
callsign: n0call
aprs_network:
  enabled: true
  login: N0CALL
  password: "12345"
  host: rotate.aprs.net
  port: 14580
  filter: "r/37.7/-122.4/50"
kiss_tcp:
  host: 10.0.0.5
  path: [WIDE1-1]
connect:
  attempts: 4
  backoff_min_ms: 10
  backoff_max_ms: 50
  backoff_step_ms: 10
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "aprslink.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "N0CALL", cfg.Callsign)
	assert.True(t, cfg.AprsNetwork.Enabled)
	assert.Equal(t, "12345", cfg.AprsNetwork.Password)
	assert.Equal(t, 14580, cfg.AprsNetwork.Port)
	assert.Equal(t, "r/37.7/-122.4/50", cfg.AprsNetwork.Filter)
	assert.Equal(t, "10.0.0.5", cfg.KissTCP.Host)
	assert.Equal(t, 8001, cfg.KissTCP.Port, "default kept")
	assert.Equal(t, []string{"WIDE1-1"}, cfg.KissTCP.Path)
	assert.Equal(t, 4, cfg.Connect.Attempts)
	assert.Equal(t, 2*time.Minute, cfg.Keepalive.StaleAfter())
	assert.Equal(t, time.Second, cfg.Client.PollTimeout())
	assert.Equal(t, 30*time.Second, cfg.Client.DedupWindow())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("APRSLINK_APRS_NETWORK_PASSWORD", "-1")
	t.Setenv("APRSLINK_LOG_LEVEL", "debug")
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "-1", cfg.AprsNetwork.Password)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, "log:\n  level: loud\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "connect:\n  backoff_min_ms: 100\n  backoff_max_ms: 10\n"))
	assert.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "aprslink.example.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.AprsNetwork.Enabled)
	assert.Equal(t, "-1", cfg.AprsNetwork.Password)
	assert.Equal(t, "/dev/ttyUSB0", cfg.KissSerial.Device)
	assert.Equal(t, 30, cfg.Client.DedupWindowS)
}
