package config

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  postgres:
    user: expstore
    database: expstore
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Storage.URL)
	assert.Equal(t, "127.0.0.1", cfg.Storage.Postgres.Host)
	assert.Equal(t, 5432, cfg.Storage.Postgres.Port)
	assert.Equal(t, "disable", cfg.Storage.Postgres.SSLMode)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestTargetPrefersURL(t *testing.T) {
	cfg := StorageConfig{
		URL: "/var/lib/expstore/expstore.db",
		Postgres: PostgresConfig{
			Host: "db.internal", Port: 5432,
			User: "u", Database: "d", SSLMode: "disable",
		},
	}
	assert.Equal(t, "/var/lib/expstore/expstore.db", cfg.Target())

	cfg.URL = ""
	assert.Equal(t, "postgres://u:@db.internal:5432/d?sslmode=disable", cfg.Target())
}

func TestDSNEscapesCredentials(t *testing.T) {
	pg := PostgresConfig{
		Host: "localhost", Port: 5432,
		User: "exp store", Password: "p@ss/word",
		Database: "expstore", SSLMode: "require",
	}

	// Credentials with spaces and URL metacharacters must survive userinfo
	// parsing unchanged.
	parsed, err := url.Parse(pg.DSN())
	require.NoError(t, err)
	assert.Equal(t, "exp store", parsed.User.Username())
	password, ok := parsed.User.Password()
	require.True(t, ok)
	assert.Equal(t, "p@ss/word", password)
	assert.Equal(t, "localhost:5432", parsed.Host)
	assert.Equal(t, "/expstore", parsed.Path)
	assert.Equal(t, "require", parsed.Query().Get("sslmode"))
}
