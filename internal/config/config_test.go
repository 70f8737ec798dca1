package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LEDGER_CONFIG", "")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, c.Server.Port)
	require.Equal(t, int64(10<<20), c.Server.MaxUploadBytes)
	require.Equal(t, BackendSQLite, c.Storage.Backend)
	require.Contains(t, c.Storage.SQLitePath, "ledger.db")
	require.Equal(t, "INR", c.Rates.Reference)
	require.False(t, c.Rates.Live.Enabled)
	require.Equal(t, time.Hour, c.Rates.Live.CacheTTL)
	require.Equal(t, "2-1-2006", c.Import.DateLayout)
	require.Equal(t, "Description", c.Import.Headers.Description)
	require.Equal(t, 2, c.Jobs.Workers)
	require.Equal(t, "info", c.Log.Level)
	require.Equal(t, ":8080", c.Addr())
}

func TestLoadFrom_File(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090
max_upload_bytes = 2048

[storage]
backend = "BigQuery"

[storage.bigquery]
project = "my-project"
dataset = "ledger"

[archive]
bucket = "uploads"

[rates]
reference = "inr"

[rates.static]
usd = 90.5

[rates.live]
enabled = true
cache_ttl = "10m"

[import]
date_layout = "2006-01-02"

[import.headers]
amount = "Value"
`)

	c, err := LoadFrom(path)
	require.NoError(t, err)
	require.Equal(t, 9090, c.Server.Port)
	require.Equal(t, int64(2048), c.Server.MaxUploadBytes)
	require.Equal(t, BackendBigQuery, c.Storage.Backend)
	require.Equal(t, "my-project", c.Storage.BigQuery.Project)
	require.Equal(t, "uploads", c.Archive.Bucket)
	require.Equal(t, "INR", c.Rates.Reference)
	require.Equal(t, 90.5, c.Rates.Static["usd"])
	require.True(t, c.Rates.Live.Enabled)
	require.Equal(t, 10*time.Minute, c.Rates.Live.CacheTTL)
	require.Equal(t, "2006-01-02", c.Import.DateLayout)
	require.Equal(t, "Value", c.Import.Headers.Amount)
	require.Equal(t, "Date", c.Import.Headers.Date)
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "[server]\nport = 9090\n")
	t.Setenv("LEDGER_SERVER_PORT", "7070")
	t.Setenv("LEDGER_LOG_LEVEL", "debug")

	c, err := LoadFrom(path)
	require.NoError(t, err)
	require.Equal(t, 7070, c.Server.Port)
	require.Equal(t, "debug", c.Log.Level)
}

func TestLoadFrom_Errors(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = LoadFrom(writeConfig(t, "[server\nport ="))
	require.Error(t, err)

	_, err = LoadFrom(writeConfig(t, "[storage]\nbackend = \"postgres\"\n"))
	require.ErrorContains(t, err, "unknown storage.backend")

	_, err = LoadFrom(writeConfig(t, "[storage]\nbackend = \"bigquery\"\n"))
	require.ErrorContains(t, err, "storage.bigquery.project")

	_, err = LoadFrom(writeConfig(t, "[rates.static]\nusd = -1\n"))
	require.ErrorContains(t, err, "must be positive")
}
