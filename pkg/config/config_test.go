package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/foundry/pkg/config"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRuntime_DefaultsFromEmptyFile(t *testing.T) {
	path := writeConfig(t, "runtime.yaml", "{}\n")
	rt, err := config.LoadRuntime(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", rt.Flags.Role)
	assert.True(t, rt.Flags.StrictValidation)
	assert.True(t, rt.Flags.FailClosed)
	assert.Equal(t, "0.0.0.0", rt.Service.Host)
	assert.Equal(t, 8080, rt.Service.Port)
	assert.Equal(t, "sqlite", rt.Storage.Driver)
	assert.False(t, rt.Scheduler.Enabled)
	assert.Equal(t, 10, rt.Scheduler.PollIntervalSeconds)

	// Default directories resolve relative to the config file itself.
	cfgDir := filepath.Dir(path)
	assert.Equal(t, filepath.Clean(filepath.Join(cfgDir, "../schemas")), rt.Registry.SchemasDir)
	assert.Equal(t, filepath.Clean(filepath.Join(cfgDir, "../state/foundry.sqlite")), rt.Storage.SQLitePath)
}

func TestLoadRuntime_ParsesFileValues(t *testing.T) {
	path := writeConfig(t, "runtime.yaml", `
runtime:
  role: prod
  strict_validation: false
  fail_closed: false
service:
  host: 127.0.0.1
  port: 9090
registry:
  schemas_dir: ./schemas
  orgs_dir: /abs/orgs
storage:
  driver: sqlite
  sqlite:
    path: data/state.sqlite
scheduler:
  enabled: true
  poll_interval_seconds: 5
`)
	rt, err := config.LoadRuntime(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", rt.Flags.Role)
	assert.False(t, rt.Flags.StrictValidation)
	assert.False(t, rt.Flags.FailClosed)
	assert.Equal(t, "127.0.0.1", rt.Service.Host)
	assert.Equal(t, 9090, rt.Service.Port)
	assert.True(t, rt.Scheduler.Enabled)
	assert.Equal(t, 5, rt.Scheduler.PollIntervalSeconds)

	cfgDir := filepath.Dir(path)
	assert.Equal(t, filepath.Join(cfgDir, "schemas"), rt.Registry.SchemasDir)
	assert.Equal(t, "/abs/orgs", rt.Registry.OrgsDir, "absolute paths pass through")
	assert.Equal(t, filepath.Join(cfgDir, "data", "state.sqlite"), rt.Storage.SQLitePath)
}

func TestLoadRuntime_MissingFileFailsClosed(t *testing.T) {
	_, err := config.LoadRuntime(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required config file")
}

func TestLoadRuntime_InvalidYAMLFailsClosed(t *testing.T) {
	path := writeConfig(t, "runtime.yaml", "service: [not: a: mapping\n")
	_, err := config.LoadRuntime(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid YAML")
}

func TestLoadRuntime_EnvOverridesWinOverFile(t *testing.T) {
	t.Setenv(config.EnvSchemasDir, "/env/schemas")
	t.Setenv(config.EnvSQLitePath, "/env/state.sqlite")

	path := writeConfig(t, "runtime.yaml", `
registry:
  schemas_dir: ./schemas
storage:
  sqlite:
    path: data/state.sqlite
`)
	rt, err := config.LoadRuntime(path)
	require.NoError(t, err)
	assert.Equal(t, "/env/schemas", rt.Registry.SchemasDir)
	assert.Equal(t, "/env/state.sqlite", rt.Storage.SQLitePath)
}

func TestLoadLimits_DefaultsFromEmptyFile(t *testing.T) {
	path := writeConfig(t, "limits.yaml", "{}\n")
	limits, err := config.LoadLimits(path)
	require.NoError(t, err)

	assert.Equal(t, int64(500), limits.MaxIterationsUpperBound)
	assert.Equal(t, int64(86400), limits.MaxRuntimeSecondsUpperBound)
	assert.Equal(t, int64(604800), limits.MaxExpiresInSecondsUpper)
	assert.Equal(t, "USD", limits.MaxCostUpperBoundCurrency)
	assert.Equal(t, 100.0, limits.MaxCostUpperBound)
	assert.True(t, limits.RequireKnownOrg)
}

func TestLoadLimits_ParsesFileValues(t *testing.T) {
	path := writeConfig(t, "limits.yaml", `
job_contract:
  max_iterations_upper_bound: 50
  max_runtime_seconds_upper_bound: 1200
  max_expires_in_seconds_upper_bound: 7200
  max_cost_upper_bound:
    currency: EUR
    max_cost: 10.5
registry:
  require_known_org: false
`)
	limits, err := config.LoadLimits(path)
	require.NoError(t, err)

	assert.Equal(t, int64(50), limits.MaxIterationsUpperBound)
	assert.Equal(t, int64(1200), limits.MaxRuntimeSecondsUpperBound)
	assert.Equal(t, int64(7200), limits.MaxExpiresInSecondsUpper)
	assert.Equal(t, "EUR", limits.MaxCostUpperBoundCurrency)
	assert.Equal(t, 10.5, limits.MaxCostUpperBound)
	assert.False(t, limits.RequireKnownOrg)
}

func TestDefaultPaths_HonorEnvOverrides(t *testing.T) {
	runtimePath, limitsPath := config.DefaultPaths()
	assert.Equal(t, filepath.Join("config", "runtime.yaml"), runtimePath)
	assert.Equal(t, filepath.Join("config", "limits.yaml"), limitsPath)

	t.Setenv(config.EnvRuntimeConfig, "/etc/foundry/runtime.yaml")
	t.Setenv(config.EnvLimitsConfig, "/etc/foundry/limits.yaml")
	runtimePath, limitsPath = config.DefaultPaths()
	assert.Equal(t, "/etc/foundry/runtime.yaml", runtimePath)
	assert.Equal(t, "/etc/foundry/limits.yaml", limitsPath)
}
