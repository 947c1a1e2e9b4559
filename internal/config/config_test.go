package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missing(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestDefaults(t *testing.T) {
	c, err := Load(missing(t))
	require.NoError(t, err)
	assert.Equal(t, ":4040", c.Addr)
	assert.Equal(t, "testu01", c.Backend)
	assert.Equal(t, "file", c.Journal.Driver)
	assert.Equal(t, "store.json", c.Journal.DSN)
	assert.Equal(t, int64(32<<20), c.UploadLimit)
	assert.Equal(t, []string{"*"}, c.CORSOrigins)
	assert.Equal(t, 30*time.Minute, c.WriteTimeout)
	assert.Equal(t, "info", c.Log.Level)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("U01_BACKEND", "dryrun")
	t.Setenv("U01_JOURNAL_DRIVER", "sqlite")
	t.Setenv("U01_JOURNAL_DSN", "journal.db")
	t.Setenv("U01_CORS_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("U01_LOG_FORMAT", "json")

	c, err := Load(missing(t))
	require.NoError(t, err)
	assert.Equal(t, "dryrun", c.Backend)
	assert.Equal(t, Journal{Driver: "sqlite", DSN: "journal.db"}, c.Journal)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, c.CORSOrigins)
	assert.Equal(t, "json", c.Log.Format)
}

func TestEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("U01_ADDR=:9999\nU01_BACKEND=dryrun\n"), 0o644))
	t.Setenv("U01_BACKEND", "testu01")
	t.Cleanup(func() { os.Unsetenv("U01_ADDR") })

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", c.Addr)
	assert.Equal(t, "testu01", c.Backend)
}

func TestValidate(t *testing.T) {
	t.Setenv("U01_BACKEND", "dieharder")
	t.Setenv("U01_JOURNAL_DRIVER", "mongo")
	_, err := Load(missing(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "U01_BACKEND")
	assert.Contains(t, err.Error(), "U01_JOURNAL_DRIVER")

	c := Config{Addr: " ", Backend: "dryrun", Journal: Journal{Driver: "file"}}
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "U01_ADDR")
	assert.Contains(t, err.Error(), "U01_UPLOAD_LIMIT")
}

func TestBadDuration(t *testing.T) {
	t.Setenv("U01_READ_TIMEOUT", "soon")
	_, err := Load(missing(t))
	assert.Error(t, err)
}
