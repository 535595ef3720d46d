package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// clearEnv removes STACKER_* variables so tests see only what they set.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, entry := range os.Environ() {
		if strings.HasPrefix(entry, "STACKER_") {
			key, _, _ := strings.Cut(entry, "=")
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "./data/stacker.db", cfg.Database.DSN)
	assert.Equal(t, "", cfg.Docker.Host)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
  read_timeout: 60s
  write_timeout: 60s
  shutdown_timeout: 15s

database:
  dsn: "/tmp/test.db"

docker:
  host: "tcp://localhost:2375"

log:
  level: "debug"
  format: "json"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/tmp/test.db", cfg.Database.DSN)
	assert.Equal(t, "tcp://localhost:2375", cfg.Docker.Host)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("STACKER_SERVER_HOST", "192.168.1.1")
	t.Setenv("STACKER_SERVER_PORT", "3000")
	t.Setenv("STACKER_DATABASE_DSN", "/custom/path.db")
	t.Setenv("STACKER_LOG_LEVEL", "warn")
	t.Setenv("STACKER_LOG_FORMAT", "json")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("server: [not a mapping"), 0644))

	_, err := LoadConfig(tmpFile)
	require.Error(t, err)
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 9000}
	assert.Equal(t, "127.0.0.1:9000", cfg.Address())
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		cfg := &Config{Log: LogConfig{Level: level, Format: "text"}}
		assert.NotNil(t, SetupLogger(cfg))
	}
}

// =============================================================================
// Dispatch Tests
// =============================================================================

func TestRun_NoArgs(t *testing.T) {
	assert.Equal(t, ExitUsageError, run(nil))
}

func TestRun_UnknownCommand(t *testing.T) {
	assert.Equal(t, ExitUsageError, run([]string{"frobnicate"}))
}

func TestRun_Version(t *testing.T) {
	assert.Equal(t, ExitSuccess, run([]string{"version"}))
}

func TestRender_MissingFiles(t *testing.T) {
	assert.Equal(t, ExitUsageError, renderCmd(nil))
}

func TestValidate_ResolvesFixture(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yml")
	require.NoError(t, os.WriteFile(base, []byte("services:\n  app:\n    image: app:latest\n"), 0644))

	assert.Equal(t, ExitSuccess, validateCmd([]string{"-f", base}))
}

func TestValidate_UnresolvedVariable(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yml")
	content := "services:\n  app:\n    image: app:latest\n    environment:\n      TOKEN: ${STACKER_TEST_UNSET_TOKEN}\n"
	require.NoError(t, os.WriteFile(base, []byte(content), 0644))

	assert.Equal(t, ExitResolveError, validateCmd([]string{"-f", base}))
}
