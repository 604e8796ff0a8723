// Package config loads the exef service configuration from YAML files,
// .env files and environment variables.
//
// Configuration is loaded in the following order (later sources override
// earlier ones):
//  1. Default values (SetConfigDefaults)
//  2. Configuration files (./config.yaml, ./configs/config.yaml,
//     ~/.exef/config.yaml, /etc/exef/config.yaml)
//  3. .env files
//  4. Environment variables with the EXEF_ prefix
//
// Environment variables use underscores for nested keys:
//   - EXEF_SERVER_PORT=8080
//   - EXEF_DATABASE_MAIN_PATH=/var/lib/exef/main.db
//   - EXEF_DATABASE_USE_ENTITY_DB=true
//   - EXEF_SECURITY_JWT_SECRET=…
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host"`

	// Port is the server listen port (default: 8080)
	Port int `mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Debug enables debug logging and verbose error bodies
	Debug bool `mapstructure:"debug"`
}

// DatabaseConfig contains the SQLite storage layout.
type DatabaseConfig struct {
	// MainPath is the SQLite file of the main database
	MainPath string `mapstructure:"main_path"`

	// UseEntityDB enables one database file per entity
	UseEntityDB bool `mapstructure:"use_entity_db"`

	// EntityDir is the directory holding per-entity database files
	EntityDir string `mapstructure:"entity_dir"`

	// EntityPathTemplate names entity files; {nip} substitutes the tax ID
	EntityPathTemplate string `mapstructure:"entity_path_template"`
}

// SyncConfig contains entity-database replication defaults.
type SyncConfig struct {
	// RemoteURL is the replication endpoint template; {nip} substitutes
	RemoteURL string `mapstructure:"remote_url"`

	// Enabled turns replication on for newly provisioned entity databases
	Enabled bool `mapstructure:"enabled"`

	// Direction is local_to_remote, remote_to_local or bidirectional
	Direction string `mapstructure:"direction"`

	// IntervalMin is the replication interval in minutes
	IntervalMin int `mapstructure:"interval_min"`
}

// SecurityConfig contains authentication and CORS settings.
type SecurityConfig struct {
	// JWTSecret signs access tokens; required outside debug mode
	JWTSecret string `mapstructure:"jwt_secret"`

	// JWTExpiration is the access-token lifetime (default: 24h)
	JWTExpiration time.Duration `mapstructure:"jwt_expiration"`

	// MagicLinkExpiration is the single-use login-token lifetime
	MagicLinkExpiration time.Duration `mapstructure:"magic_link_expiration"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit"`
}

// SMTPConfig contains outbound mail settings for magic-link delivery.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	UseTLS   bool   `mapstructure:"use_tls"`
	From     string `mapstructure:"from"`
}

// WorkerConfig controls the auto-pull scheduler.
type WorkerConfig struct {
	// Enabled starts the scheduler with the server
	Enabled bool `mapstructure:"enabled"`

	// TickInterval is how often due sources are scanned
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// Concurrency bounds the parallel import runs
	Concurrency int `mapstructure:"concurrency"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format"`
}

// ServiceConfig contains service metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// Config is the root configuration of the exef service.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Security SecurityConfig `mapstructure:"security"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Loader provides configuration loading functionality.
type Loader struct {
	v      *viper.Viper
	prefix string
}

// NewLoader creates a configuration loader with the given environment prefix.
func NewLoader(envPrefix string) *Loader {
	return &Loader{
		v:      viper.New(),
		prefix: envPrefix,
	}
}

// SetDefaults sets default configuration values. Call before Load.
func (l *Loader) SetDefaults(defaults map[string]interface{}) {
	for key, value := range defaults {
		l.v.SetDefault(key, value)
	}
}

// SetConfigDefaults sets the standard exef defaults.
func (l *Loader) SetConfigDefaults() {
	l.v.SetDefault("service.name", "exef")
	l.v.SetDefault("service.environment", "development")

	l.v.SetDefault("server.host", "0.0.0.0")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.read_timeout", "30s")
	l.v.SetDefault("server.write_timeout", "30s")
	l.v.SetDefault("server.shutdown_timeout", "10s")
	l.v.SetDefault("server.debug", false)

	l.v.SetDefault("database.main_path", "exef.db")
	l.v.SetDefault("database.use_entity_db", false)
	l.v.SetDefault("database.entity_dir", "entities")
	l.v.SetDefault("database.entity_path_template", "{nip}.db")

	l.v.SetDefault("sync.enabled", false)
	l.v.SetDefault("sync.direction", "local_to_remote")
	l.v.SetDefault("sync.interval_min", 30)

	l.v.SetDefault("security.jwt_expiration", "24h")
	l.v.SetDefault("security.magic_link_expiration", "15m")
	l.v.SetDefault("security.allowed_origins", []string{"*"})
	l.v.SetDefault("security.rate_limit", 100)

	l.v.SetDefault("smtp.port", 587)
	l.v.SetDefault("smtp.use_tls", true)

	l.v.SetDefault("worker.enabled", false)
	l.v.SetDefault("worker.tick_interval", "1m")
	l.v.SetDefault("worker.concurrency", 2)

	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.format", "text")
}

// Load reads configuration from file, .env, and environment variables.
// If cfgFile is empty, config.yaml is searched in standard locations.
func (l *Loader) Load(cfgFile string, target interface{}) error {
	if cfgFile != "" {
		l.v.SetConfigFile(cfgFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("./configs")
		l.v.AddConfigPath("$HOME/.exef")
		l.v.AddConfigPath("/etc/exef")
	}

	if err := l.v.ReadInConfig(); err != nil {
		if cfgFile != "" && !isFileNotFoundError(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		if cfgFile == "" {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	// Merge .env file if present
	l.v.SetConfigFile(".env")
	l.v.SetConfigType("env")
	_ = l.v.MergeInConfig()

	if l.prefix != "" {
		l.v.SetEnvPrefix(l.prefix)
	}
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.Unmarshal(target); err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}

	return nil
}

// LoadConfig loads and validates the configuration with standard defaults.
// The default environment prefix is EXEF.
func LoadConfig(envPrefix, cfgFile string) (*Config, error) {
	if envPrefix == "" {
		envPrefix = "EXEF"
	}
	loader := NewLoader(envPrefix)
	loader.SetConfigDefaults()

	cfg := &Config{}
	if err := loader.Load(cfgFile, cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ValidateConfig validates the loaded configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Database.MainPath == "" {
		return fmt.Errorf("database main_path is required")
	}
	if cfg.Database.UseEntityDB && cfg.Database.EntityDir == "" {
		return fmt.Errorf("entity_dir is required when use_entity_db is enabled")
	}
	if !cfg.Server.Debug && cfg.Security.JWTSecret == "" {
		return fmt.Errorf("security jwt_secret is required outside debug mode")
	}
	switch cfg.Sync.Direction {
	case "local_to_remote", "remote_to_local", "bidirectional":
	default:
		return fmt.Errorf("invalid sync direction: %s", cfg.Sync.Direction)
	}
	return nil
}

// EntityRemoteURL renders the replication endpoint for an entity tax ID.
func (c *SyncConfig) EntityRemoteURL(nip string) string {
	return strings.ReplaceAll(c.RemoteURL, "{nip}", nip)
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
