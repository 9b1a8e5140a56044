package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/esmcp/internal/config"
	"github.com/scrypster/esmcp/pkg/types"
)

func TestLoadConfig_DefaultHostIsLocalhost(t *testing.T) {
	_ = os.Unsetenv("ESMCP_HOST")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host,
		"Default host must be 127.0.0.1 for security")
}

func TestLoadConfig_CanOverrideHost(t *testing.T) {
	t.Setenv("ESMCP_HOST", "0.0.0.0")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

// TestLoadConfig_Defaults verifies the polling and window defaults.
func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Redash.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Redash.MaxPollInterval)
	assert.Equal(t, 15, cfg.Redash.MaxPollAttempts)
	assert.Equal(t, 5*time.Second, cfg.Redash.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Redash.ReadTimeout)
	assert.Equal(t, 5, cfg.Redash.MaxConcurrentSearches)
	assert.Equal(t, 30*time.Minute, cfg.Server.SSEIdleTimeout)
	assert.Equal(t, 6, cfg.Tiers.RecencyMonths)
	assert.Equal(t, 365, cfg.Tiers.ExtensionDays)
	assert.Equal(t, 2023, cfg.Tiers.Epoch.Year())
	assert.False(t, cfg.Redash.Enabled())
}

// TestLoadConfig_TierDataSources verifies the per-tier data source ids.
func TestLoadConfig_TierDataSources(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	primary, ok := cfg.Elasticsearch.HostFor(types.HostPrimary)
	require.True(t, ok)
	assert.Equal(t, 3, primary.DataSourceID)
	assert.Equal(t, "UTH_ES_Primary", primary.Name)

	secondary, _ := cfg.Elasticsearch.HostFor(types.HostSecondary)
	assert.Equal(t, 5, secondary.DataSourceID)

	tertiary, _ := cfg.Elasticsearch.HostFor(types.HostTertiary)
	assert.Equal(t, 12, tertiary.DataSourceID)
}

func TestLoadConfig_DurationAcceptsMilliseconds(t *testing.T) {
	t.Setenv("ESMCP_REDASH_POLL_INTERVAL", "500")
	t.Setenv("ESMCP_REDASH_MAX_POLL_INTERVAL", "1s")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Redash.PollInterval)
	assert.Equal(t, time.Second, cfg.Redash.MaxPollInterval)
}

func TestLoadConfig_RejectsPostgresWithoutDSN(t *testing.T) {
	t.Setenv("ESMCP_AUDIT_ENGINE", "postgres")
	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_RejectsUnknownAuditEngine(t *testing.T) {
	t.Setenv("ESMCP_AUDIT_ENGINE", "mongo")
	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_EnabledToolsList(t *testing.T) {
	t.Setenv("ESMCP_ENABLED_TOOLS", "es_search, es_schema,,")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"es_search", "es_schema"}, cfg.MCP.EnabledTools)
}

// ---------------------------------------------------------------------------
// Hosts file
// ---------------------------------------------------------------------------

func TestLoadConfig_HostsFileOverridesEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hosts:
  primary:
    url: http://es-primary.internal:9200
    timeout: 45s
  TERTIARY:
    data_source_id: 42
`), 0o600))

	t.Setenv("ESMCP_HOSTS_FILE", path)
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	primary, _ := cfg.Elasticsearch.HostFor(types.HostPrimary)
	assert.Equal(t, "http://es-primary.internal:9200", primary.URL)
	assert.Equal(t, 45*time.Second, primary.Timeout)
	assert.Equal(t, 3, primary.DataSourceID, "unset fields keep their env value")

	tertiary, _ := cfg.Elasticsearch.HostFor(types.HostTertiary)
	assert.Equal(t, 42, tertiary.DataSourceID)
}

func TestLoadHostsFile_UnknownTier(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hosts:\n  ARCHIVE:\n    url: http://x\n"), 0o600))

	cfg := &config.Config{}
	err := cfg.LoadHostsFile(path)
	assert.Error(t, err)
}

func TestLoadHostsFile_Missing(t *testing.T) {
	cfg := &config.Config{}
	err := cfg.LoadHostsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
