package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/pyexec/internal/sandbox"
)

// isolate runs Load from an empty directory with HOME pointed elsewhere so a
// developer's own pyexec.yaml cannot leak in.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 100_000, cfg.Executor.MaxScriptBytes)
	assert.Equal(t, int64(8), cfg.Executor.MaxConcurrent)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, ":memory:", cfg.History.DBPath)

	p, err := cfg.Policy()
	require.NoError(t, err)
	def := sandbox.DefaultPolicy()
	assert.Equal(t, def.JailPath, p.JailPath)
	assert.Equal(t, def.TimeLimit, p.TimeLimit)
	assert.Equal(t, def.Limits, p.Limits)
	assert.Equal(t, def.ReadOnlyMounts, p.ReadOnlyMounts)
	assert.Empty(t, p.DisableNamespaces)
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := writeFile(t, "pyexec.yaml", `
server:
  port: 9000
log:
  level: debug
  format: console
sandbox:
  interpreter_path: /usr/bin/python3
  time_limit: 5s
  grace: 1s
  limits:
    as_mb: 256
  disable_namespaces: [user, net]
executor:
  max_concurrent: 2
history:
  db_path: /var/lib/pyexec/history.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, int64(2), cfg.Executor.MaxConcurrent)
	assert.Equal(t, "/var/lib/pyexec/history.db", cfg.History.DBPath)

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/python3", p.InterpreterPath)
	assert.Equal(t, 5*time.Second, p.TimeLimit)
	assert.Equal(t, time.Second, p.Grace)
	assert.Equal(t, 256, p.Limits.AddressSpaceMB)
	assert.Equal(t, 32, p.Limits.OpenFiles, "unset limits keep defaults")
	assert.Equal(t, []string{"user", "net"}, p.DisableNamespaces)
}

func TestLoadFindsFileInWorkingDirectory(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile("pyexec.yaml", []byte("server:\n  port: 7000\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PYEXEC_LOG_LEVEL", "warn")
	t.Setenv("PYEXEC_SANDBOX_TIME_LIMIT", "12s")
	t.Setenv("PYEXEC_SANDBOX_DISABLE_NAMESPACES", "user,net,cgroup")
	t.Setenv("PYEXEC_HISTORY_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 12*time.Second, cfg.Sandbox.TimeLimit)
	assert.Equal(t, []string{"user", "net", "cgroup"}, cfg.Sandbox.DisableNamespaces)
	assert.False(t, cfg.History.Enabled)
}

func TestLoadPortEnv(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "3000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)

	t.Setenv("PYEXEC_SERVER_PORT", "4000")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port, "PYEXEC_SERVER_PORT wins over PORT")
}

func TestLoadExplicitMissingFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "reading config")
}

func TestLoadInvalidYAML(t *testing.T) {
	isolate(t)
	_, err := Load(writeFile(t, "bad.yaml", "server: [unclosed\n"))
	assert.Error(t, err)
}

func TestPolicyFileOverlay(t *testing.T) {
	isolate(t)
	policy := writeFile(t, "policy.yaml", "time_limit: 3s\nenv:\n  - PATH=/usr/bin\n  - LANG=C.UTF-8\n")
	path := writeFile(t, "pyexec.yaml", "sandbox:\n  time_limit: 20s\n  policy_file: "+policy+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, p.TimeLimit)
	assert.Equal(t, []string{"PATH=/usr/bin", "LANG=C.UTF-8"}, p.Env)
	assert.Equal(t, sandbox.DefaultPolicy().JailPath, p.JailPath)
}

func TestPolicyInvalid(t *testing.T) {
	isolate(t)
	t.Setenv("PYEXEC_SANDBOX_DISABLE_NAMESPACES", "bogus")

	cfg, err := Load("")
	require.NoError(t, err)

	_, err = cfg.Policy()
	assert.ErrorContains(t, err, `unknown namespace "bogus"`)
}
