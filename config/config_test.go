package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/apmkit/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, 3, cfg.RetryCount)
	assert.Equal(t, 3*time.Minute, cfg.ConfirmationTimeout)
	assert.Equal(t, 20, cfg.Telemetry.BatchSize)
	assert.Empty(t, cfg.ProjectID)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apmkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
project_id: proj_file
poll_interval: 5s
return_url: myapp://return
telemetry:
  enabled: true
  batch_size: 5
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "proj_file", cfg.ProjectID)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, "myapp://return", cfg.ReturnURL)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 5, cfg.Telemetry.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Telemetry.FlushInterval)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("APMKIT_PROJECT_ID", "proj_env")
	t.Setenv("APMKIT_RETRY_COUNT", "5")
	t.Setenv("APMKIT_TELEMETRY_MAX_CONCURRENT_SUBMISSIONS", "4")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "proj_env", cfg.ProjectID)
	assert.Equal(t, 5, cfg.RetryCount)
	assert.Equal(t, 4, cfg.Telemetry.MaxConcurrentSubmissions)
}

func TestLoadValidates(t *testing.T) {
	t.Setenv("APMKIT_PROJECT_ID", "")

	_, err := Load("")
	var apmErr *types.APMError
	require.ErrorAs(t, err, &apmErr)
	assert.Equal(t, types.ErrInvalidConfig, apmErr.Code)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "apmkit.yaml")
	require.NoError(t, WriteDefault(path))
	assert.Error(t, WriteDefault(path))

	t.Setenv("APMKIT_PROJECT_ID", "proj_rt")
	cfg, err := Load(path)
	require.NoError(t, err)

	want := DefaultConfig()
	want.ProjectID = "proj_rt"
	assert.Equal(t, want, cfg)
}
