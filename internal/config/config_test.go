package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 200*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, "dayplan.db", filepath.Base(cfg.DBPath))
	assert.Empty(t, cfg.BackupPath)
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dayplan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "db_path: /tmp/x.db\ndebounce: 50ms\nmax_retries: 4\nconfirm_restore: false\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, 50*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.False(t, cfg.ConfirmRestore)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL, "unset keys keep defaults")
}

func TestLoad_PathFromEnvironment(t *testing.T) {
	t.Setenv(EnvConfigPath, writeFile(t, "log_level: debug\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "debounce: 50ms\nquota_bytes: 1000\n")
	t.Setenv("DAYPLAN_DEBOUNCE", "75ms")
	t.Setenv("DAYPLAN_QUOTA_BYTES", "not-a-number")
	t.Setenv("DAYPLAN_BACKUP_PATH", "/var/lib/dayplan/backup")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 75*time.Millisecond, cfg.Debounce)
	assert.Equal(t, int64(1000), cfg.QuotaBytes, "malformed env value ignored")
	assert.Equal(t, "/var/lib/dayplan/backup", cfg.BackupPath)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	_, err := Load(writeFile(t, "debounce: [unclosed\n"))
	assert.ErrorContains(t, err, "parsing config file")
}

func TestBindFlags_OverrideLoadedValues(t *testing.T) {
	cfg := Default()
	cfg.Debounce = 50 * time.Millisecond

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--db", "/data/p.db", "--log-level", "warn"}))

	assert.Equal(t, "/data/p.db", cfg.DBPath)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 50*time.Millisecond, cfg.Debounce, "unparsed flags keep the loaded value")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Debounce = 0
	cfg.QuotaBytes = -1
	cfg.LogLevel = "loud"
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"debounce must be positive", "quota_bytes", "log_level", "log_format"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
