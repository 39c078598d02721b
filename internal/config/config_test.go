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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
	assert.Equal(t, "ephemeral", cfg.ResponseType)
	assert.Equal(t, 15*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 2, cfg.RetryCount)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
	assert.True(t, cfg.VerifyTLS, "TLS verification must default to enabled")
	assert.Equal(t, 1800, cfg.FollowupThreshold)
	assert.Equal(t, 20*time.Second, cfg.ExecTimeout)
	assert.False(t, cfg.ExecTestMode)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_TIMEOUT", "30")
	t.Setenv("RETRY_COUNT", "5")
	t.Setenv("RETRY_SLEEP_SEC", "1.5")
	t.Setenv("VERIFY_TLS", "0")
	t.Setenv("EXEC_TEST_MODE", "1")
	t.Setenv("RESPONSE_TYPE", "in_channel")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 5, cfg.RetryCount)
	assert.Equal(t, 1500*time.Millisecond, cfg.RetryBackoff)
	assert.False(t, cfg.VerifyTLS)
	assert.True(t, cfg.ExecTestMode)
	assert.Equal(t, "in_channel", cfg.ResponseType)
}

func TestLoad_JSONMaps(t *testing.T) {
	t.Setenv("CHANNEL_MAP_JSON", `{"ch1":"cust01","ch2":"cust02"}`)
	t.Setenv("CUSTOMER_MAP_JSON", `{"cust01":"http://localhost:8001"}`)
	t.Setenv("CHANNEL_WEBHOOK_JSON", `{"ch1":"https://chat/hooks/a"}`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cust01", cfg.ChannelTenants["ch1"])
	assert.Equal(t, "http://localhost:8001", cfg.TenantBackends["cust01"])
	assert.Equal(t, "https://chat/hooks/a", cfg.ChannelWebhooks["ch1"])
}

func TestLoad_BadJSONMap(t *testing.T) {
	t.Setenv("CHANNEL_MAP_JSON", "{broken")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHANNEL_MAP_JSON")
}

func TestLoad_RoutesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
channels:
  ch1: cust01
customers:
  cust01: http://backend01:8001
webhooks:
  ch1: https://chat/hooks/a
`), 0o600))
	t.Setenv("ROUTES_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cust01", cfg.ChannelTenants["ch1"])
	assert.Equal(t, "http://backend01:8001", cfg.TenantBackends["cust01"])
	assert.Equal(t, "https://chat/hooks/a", cfg.ChannelWebhooks["ch1"])
}

func TestLoad_RoutesFileOverridesEnv(t *testing.T) {
	t.Setenv("CHANNEL_MAP_JSON", `{"ch1":"from-env"}`)

	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("channels:\n  ch1: from-file\n"), 0o600))
	t.Setenv("ROUTES_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.ChannelTenants["ch1"])
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())

	cfg.ResponseType = "loud"
	assert.Error(t, cfg.Validate())

	cfg.ResponseType = "ephemeral"
	cfg.FollowupThreshold = 0
	assert.Error(t, cfg.Validate())

	cfg.FollowupThreshold = 1800
	cfg.ChannelTenants = map[string]string{"ch": ""}
	assert.Error(t, cfg.Validate())
}
