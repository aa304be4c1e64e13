// Package config loads the settings of the catalog synchronizer.
//
// Values are resolved from, in increasing order of precedence: built-in
// defaults, an optional YAML/TOML/JSON file, environment variables prefixed with
// CATALOGSYNC_ (a .env file in the working directory is honored), and explicit
// overrides such as command line flags. Nested keys map to environment variables
// by replacing dots with underscores: database.url becomes CATALOGSYNC_DATABASE_URL.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "CATALOGSYNC"

// Keys accepted by Load, in files, as environment variables and as overrides.
const (
	KeyDatabaseURL             = "database.url"
	KeyDatabaseDriver          = "database.driver"
	KeyDatabaseMaxOpenConns    = "database.max_open_conns"
	KeyDatabaseConnMaxLifetime = "database.conn_max_lifetime"
	KeyDatabaseEnsureSchema    = "database.ensure_schema"
	KeyCatalogPath             = "catalog.path"
	KeyHTTPAddr                = "http.addr"
	KeyHTTPReadTimeout         = "http.read_timeout"
	KeyHTTPWriteTimeout        = "http.write_timeout"
	KeyHTTPShutdownTimeout     = "http.shutdown_timeout"
	KeyLogLevel                = "log.level"
	KeyLogFormat               = "log.format"
)

// Config is the complete application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig configures the relational product store.
type DatabaseConfig struct {
	// URL selects the dialect by scheme: postgres://, mysql://, mariadb:// or sqlite://.
	URL string `mapstructure:"url"`
	// Driver picks the PostgreSQL driver, "pgx" (default) or "pq".
	Driver          string        `mapstructure:"driver"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// EnsureSchema creates the Products table on startup when missing.
	EnsureSchema bool `mapstructure:"ensure_schema"`
}

// CatalogConfig configures the XML catalog mirror.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyDatabaseURL, "")
	v.SetDefault(KeyDatabaseDriver, "pgx")
	v.SetDefault(KeyDatabaseMaxOpenConns, 10)
	v.SetDefault(KeyDatabaseConnMaxLifetime, 30*time.Minute)
	v.SetDefault(KeyDatabaseEnsureSchema, false)
	v.SetDefault(KeyCatalogPath, "ProductCatalog.xml")
	v.SetDefault(KeyHTTPAddr, ":8080")
	v.SetDefault(KeyHTTPReadTimeout, 15*time.Second)
	v.SetDefault(KeyHTTPWriteTimeout, 15*time.Second)
	v.SetDefault(KeyHTTPShutdownTimeout, 10*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
}

// Load resolves the configuration. file may be empty. Empty override values
// are ignored so unset flags do not mask other sources.
func Load(file string, overrides map[string]string) (*Config, error) {
	// A missing .env file is not an error
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	for key, value := range overrides {
		if value != "" {
			v.Set(key, value)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyDatabaseURL))
	}
	switch c.Database.Driver {
	case "", "pgx", "pq":
	default:
		errs = append(errs, fmt.Errorf("%s must be pgx or pq, got %q", KeyDatabaseDriver, c.Database.Driver))
	}
	if c.Database.MaxOpenConns < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyDatabaseMaxOpenConns))
	}
	if c.Catalog.Path == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyCatalogPath))
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("http timeouts must be positive"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%s must be text or json, got %q", KeyLogFormat, c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%s: %w", KeyLogLevel, err)
	}
	return level, nil
}
