package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"HOST", "PORT", "AUTH_USERNAME", "PASSWORD_WORDS", "PERSISTENT_PASSWORD",
	"BCRYPT_COST", "LOCKOUT_THRESHOLD", "SCHEDULER_INTERVAL", "SPOOL_DIR",
	"SPOOL_MAX_AGE", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "DATABASE_URL",
	"REDIS_URL", "REDIS_ENTRY_TTL", "LOG_LEVEL", "LOG_FORMAT", "LARGE_SHARE_THRESHOLD",
}

// isolate clears every variable Load reads and runs the test from an
// empty directory so no .env file is picked up.
func isolate(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 20, cfg.LockoutThreshold)
	assert.Equal(t, "sharebeam", cfg.Username)
	assert.Zero(t, cfg.RateLimitRPS)
	assert.EqualValues(t, 150*1024*1024, cfg.LargeShareThreshold)
}

func TestLoad_Precedence(t *testing.T) {
	isolate(t)

	path := writeFile(t, "sharebeam.yaml", `
host: 0.0.0.0
port: 8080
lockout_threshold: 5
scheduler_interval: 250ms
log_format: text
`)
	t.Setenv("PORT", "9090")
	t.Setenv("PERSISTENT_PASSWORD", "true")
	t.Setenv("SPOOL_MAX_AGE", "3600")
	t.Setenv("LARGE_SHARE_THRESHOLD", "0")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host, "from file")
	assert.Equal(t, 5, cfg.LockoutThreshold, "from file")
	assert.Equal(t, 250*time.Millisecond, cfg.SchedulerInterval, "from file")
	assert.Equal(t, "text", cfg.LogFormat, "from file")
	assert.Equal(t, 9090, cfg.Port, "env beats file")
	assert.True(t, cfg.PersistentCredential)
	assert.Equal(t, time.Hour, cfg.SpoolMaxAge, "bare seconds")
	assert.Zero(t, cfg.LargeShareThreshold, "zero disables the warning")
}

func TestLoad_DotEnv(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(".env", []byte("REDIS_URL=redis://localhost:6379/0\n"), 0644))
	// .env never overrides a variable that is set, even to "".
	require.NoError(t, os.Unsetenv("REDIS_URL"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		isolate(t)
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("unknown key", func(t *testing.T) {
		isolate(t)
		_, err := Load(writeFile(t, "bad.yaml", "colour: blue\n"))
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		isolate(t)
		t.Setenv("PASSWORD_WORDS", "1")
		t.Setenv("LOG_FORMAT", "xml")
		t.Setenv("LARGE_SHARE_THRESHOLD", "-1")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PASSWORD_WORDS")
		assert.Contains(t, err.Error(), "LARGE_SHARE_THRESHOLD")
		assert.Contains(t, err.Error(), "LOG_FORMAT")
	})

	t.Run("unparsable env falls back", func(t *testing.T) {
		isolate(t)
		t.Setenv("LOCKOUT_THRESHOLD", "many")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 20, cfg.LockoutThreshold)
	})
}
