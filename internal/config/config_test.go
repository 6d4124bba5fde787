package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "/", cfg.App.FallbackURL)
	assert.Equal(t, DefaultReservedRoutes, cfg.App.ReservedRoutes)
	assert.Equal(t, StorageDriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, 3, cfg.Click.Workers)
	assert.Equal(t, 1000, cfg.Click.Buffer)
	assert.Equal(t, 5*time.Second, cfg.Click.RecordTimeout)
	assert.Equal(t, 2*time.Second, cfg.Geo.Timeout)
	assert.Equal(t, float64(10), cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, cfg.RateLimit.BurstSize)
	assert.Empty(t, cfg.Auth.APIKeys)
}

func TestLoadFile_FromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "APP_PORT=9090\n" +
		"APP_BASE_URL=https://sho.rt/\n" +
		"STORAGE_DRIVER=memory\n" +
		"API_KEYS=k1:alice, k2:bob\n" +
		"CLICK_WORKERS=8\n" +
		"CLICK_RECORD_TIMEOUT=3s\n" +
		"BLOCKED_DOMAINS=evil.com , bad.org\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, "https://sho.rt", cfg.App.BaseURL)
	assert.Equal(t, StorageDriverMemory, cfg.Storage.Driver)
	assert.Equal(t, map[string]string{"k1": "alice", "k2": "bob"}, cfg.Auth.APIKeys)
	assert.Equal(t, 8, cfg.Click.Workers)
	assert.Equal(t, 3*time.Second, cfg.Click.RecordTimeout)
	assert.Equal(t, []string{"evil.com", "bad.org"}, cfg.Links.BlockedDomains)
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("APP_PORT=9090\n"), 0o600))
	t.Setenv("APP_PORT", "7070")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.App.Port)
}

func TestLoadFile_UnknownStorageDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "mongo")

	_, err := LoadFile("")
	assert.Error(t, err)
}

func TestParseAPIKeys(t *testing.T) {
	assert.Empty(t, parseAPIKeys(""))
	assert.Equal(t, map[string]string{"a": "b"}, parseAPIKeys("a:b,broken"))
}

func TestDBConfig_DSN(t *testing.T) {
	c := DBConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "links"}
	assert.Equal(t, "postgres://u:p@db:5432/links?sslmode=disable", c.DSN())
}
