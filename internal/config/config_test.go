package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PGM_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8000", cfg.BackendURL)
	require.Equal(t, StoreFile, cfg.SessionStore)
	require.Equal(t, 10*time.Second, cfg.StepTimeout)
	require.Equal(t, "pgm_session", cfg.CookieName)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pgm.toml")
	body := strings.Join([]string{
		`backend_url = "http://pg.internal:9000/"`,
		`step_timeout = "3s"`,
		`session_store = "Redis"`,
		`redis_addr = "127.0.0.1:6379"`,
		`log_level = "debug"`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("PGM_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://pg.internal:9000", cfg.BackendURL)
	require.Equal(t, 3*time.Second, cfg.StepTimeout)
	require.Equal(t, StoreRedis, cfg.SessionStore)
	require.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "config load failed")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing backend", func(c *Config) { c.BackendURL = "" }, "backend_url is required"},
		{"relative backend", func(c *Config) { c.BackendURL = "pg.local" }, "not an absolute URL"},
		{"unknown store", func(c *Config) { c.SessionStore = "etcd" }, "unknown session_store"},
		{"redis without addr", func(c *Config) { c.SessionStore = StoreRedis }, "redis_addr"},
		{"postgres without dsn", func(c *Config) { c.SessionStore = StorePostgres }, "postgres_dsn"},
		{"short secret", func(c *Config) { c.SessionSecret = "short" }, "at least 16 bytes"},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }, "session_ttl"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}

	require.NoError(t, Default().Validate())
}
