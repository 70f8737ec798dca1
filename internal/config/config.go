// Package config loads application settings from a TOML file and LEDGER_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendSQLite   = "sqlite"
	BackendBigQuery = "bigquery"
)

// Config holds application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Rates   RatesConfig   `mapstructure:"rates"`
	Import  ImportConfig  `mapstructure:"import"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
}

// StorageConfig selects and configures the entity store.
type StorageConfig struct {
	Backend    string         `mapstructure:"backend"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	BigQuery   BigQueryConfig `mapstructure:"bigquery"`
}

// BigQueryConfig holds the BigQuery dataset location.
type BigQueryConfig struct {
	Project string `mapstructure:"project"`
	Dataset string `mapstructure:"dataset"`
}

// ArchiveConfig holds the upload archive bucket. An empty bucket disables
// archiving.
type ArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// RatesConfig holds currency conversion settings.
type RatesConfig struct {
	Reference string             `mapstructure:"reference"`
	Static    map[string]float64 `mapstructure:"static"`
	Live      LiveRatesConfig    `mapstructure:"live"`
}

// LiveRatesConfig configures the HTTP rate provider.
type LiveRatesConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	CacheSize         int           `mapstructure:"cache_size"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// ImportConfig holds upload parsing settings.
type ImportConfig struct {
	DateLayout string        `mapstructure:"date_layout"`
	Headers    HeadersConfig `mapstructure:"headers"`
}

// HeadersConfig names the upload columns.
type HeadersConfig struct {
	Date        string `mapstructure:"date"`
	Description string `mapstructure:"description"`
	Amount      string `mapstructure:"amount"`
	Currency    string `mapstructure:"currency"`
}

// JobsConfig sizes the async import queue.
type JobsConfig struct {
	Buffer  int `mapstructure:"buffer"`
	Workers int `mapstructure:"workers"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DefaultPath is where Load looks when LEDGER_CONFIG is unset.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "expense-ledger", "config.toml")
}

// Load reads configuration from the file named by LEDGER_CONFIG (or the
// default location, if present) and env. Env var overrides use prefix LEDGER_.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("LEDGER_CONFIG"))
}

// LoadFrom reads configuration from path. An empty path searches the default
// location and tolerates a missing file; an explicit path must exist.
func LoadFrom(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Dir(DefaultPath()))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("LEDGER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Rates.Reference = strings.ToUpper(strings.TrimSpace(c.Rates.Reference))

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.sqlite_path", filepath.Join(os.Getenv("HOME"), ".local", "share", "expense-ledger", "ledger.db"))
	v.SetDefault("storage.bigquery.project", "")
	v.SetDefault("storage.bigquery.dataset", "expense_ledger")

	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "imports")

	v.SetDefault("rates.reference", "INR")
	v.SetDefault("rates.static", map[string]float64{})
	v.SetDefault("rates.live.enabled", false)
	v.SetDefault("rates.live.base_url", "https://v6.exchangerate-api.com/v6")
	v.SetDefault("rates.live.api_key", "")
	v.SetDefault("rates.live.cache_ttl", time.Hour)
	v.SetDefault("rates.live.cache_size", 256)
	v.SetDefault("rates.live.requests_per_second", 5.0)
	v.SetDefault("rates.live.timeout", 5*time.Second)

	v.SetDefault("import.date_layout", "2-1-2006")
	v.SetDefault("import.headers.date", "Date")
	v.SetDefault("import.headers.description", "Description")
	v.SetDefault("import.headers.amount", "Amount")
	v.SetDefault("import.headers.currency", "Currency")

	v.SetDefault("jobs.buffer", 16)
	v.SetDefault("jobs.workers", 2)

	v.SetDefault("log.level", "info")
}

// Validate checks settings that would otherwise fail late at startup.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	case BackendBigQuery:
		if c.Storage.BigQuery.Project == "" || c.Storage.BigQuery.Dataset == "" {
			return fmt.Errorf("storage.bigquery.project and storage.bigquery.dataset are required for the bigquery backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Rates.Reference == "" {
		return fmt.Errorf("rates.reference is required")
	}
	for code, rate := range c.Rates.Static {
		if rate <= 0 {
			return fmt.Errorf("rates.static.%s must be positive", code)
		}
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
