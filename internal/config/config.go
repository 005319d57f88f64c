// ABOUTME: Configuration loading and parsing for keyport
// ABOUTME: Supports YAML or TOML files with env expansion, KEYPORT_* overrides and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KEYPORT_"

// Config represents the complete keyport configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Database  DatabaseConfig  `yaml:"database" toml:"database" envPrefix:"DATABASE_"`
	WebAuthn  WebAuthnConfig  `yaml:"webauthn" toml:"webauthn" envPrefix:"WEBAUTHN_"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth" envPrefix:"AUTH_"`
	Challenge ChallengeConfig `yaml:"challenge" toml:"challenge" envPrefix:"CHALLENGE_"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging" envPrefix:"LOGGING_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr" env:"HTTP_ADDR"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path" env:"PATH"`
}

// WebAuthnConfig describes the relying party. RPID and RPOrigins are derived
// from BaseURL when empty.
type WebAuthnConfig struct {
	BaseURL       string   `yaml:"base_url" toml:"base_url" env:"BASE_URL"`
	RPID          string   `yaml:"rp_id" toml:"rp_id" env:"RP_ID"`
	RPDisplayName string   `yaml:"rp_display_name" toml:"rp_display_name" env:"RP_DISPLAY_NAME"`
	RPOrigins     []string `yaml:"rp_origins" toml:"rp_origins" env:"RP_ORIGINS" envSeparator:","`
}

// AuthConfig holds password and session settings
type AuthConfig struct {
	PasswordAlgorithm  string        `yaml:"password_algorithm" toml:"password_algorithm" env:"PASSWORD_ALGORITHM"`
	BcryptCost         int           `yaml:"bcrypt_cost" toml:"bcrypt_cost" env:"BCRYPT_COST"`
	MaxBlobBytes       int           `yaml:"max_blob_bytes" toml:"max_blob_bytes" env:"MAX_BLOB_BYTES"`
	PasswordSessionTTL time.Duration `yaml:"-" toml:"-"`
	PasskeySessionTTL  time.Duration `yaml:"-" toml:"-"`
	SessionPurgeEvery  time.Duration `yaml:"-" toml:"-"`

	PasswordSessionTTLRaw string `yaml:"password_session_ttl" toml:"password_session_ttl" env:"PASSWORD_SESSION_TTL"`
	PasskeySessionTTLRaw  string `yaml:"passkey_session_ttl" toml:"passkey_session_ttl" env:"PASSKEY_SESSION_TTL"`
	SessionPurgeEveryRaw  string `yaml:"session_purge_interval" toml:"session_purge_interval" env:"SESSION_PURGE_INTERVAL"`
}

// ChallengeConfig selects and tunes the challenge cache
type ChallengeConfig struct {
	Backend    string        `yaml:"backend" toml:"backend" env:"BACKEND"` // memory | redis
	TTL        time.Duration `yaml:"-" toml:"-"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries" env:"MAX_ENTRIES"`
	Redis      RedisConfig   `yaml:"redis" toml:"redis" envPrefix:"REDIS_"`

	TTLRaw string `yaml:"ttl" toml:"ttl" env:"TTL"`
}

// RedisConfig holds the redis connection for the redis challenge backend
type RedisConfig struct {
	Addr      string `yaml:"addr" toml:"addr" env:"ADDR"`
	Password  string `yaml:"password" toml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" toml:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix" env:"KEY_PREFIX"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// Default returns the configuration used when nothing is set, with its
// durations already parsed.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			HTTPAddr:           ":8080",
			ShutdownTimeoutRaw: "10s",
		},
		Database: DatabaseConfig{Path: DefaultDatabasePath()},
		WebAuthn: WebAuthnConfig{RPDisplayName: "keyport"},
		Auth: AuthConfig{
			PasswordAlgorithm:     "bcrypt",
			MaxBlobBytes:          16 * 1024,
			PasswordSessionTTLRaw: "168h",
			PasskeySessionTTLRaw:  "720h",
			SessionPurgeEveryRaw:  "1h",
		},
		Challenge: ChallengeConfig{
			Backend:    "memory",
			MaxEntries: 10000,
			TTLRaw:     "5m",
			Redis:      RedisConfig{Addr: "localhost:6379", KeyPrefix: "keyport:"},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
	_ = parseDurations(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// An empty path skips the file. Environment variables in the format ${VAR_NAME}
// are expanded in the file, then KEYPORT_* variables override individual fields.
// Files ending in .toml are decoded as TOML, anything else as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables in the raw content
		expanded := expandEnvVars(string(data))

		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(expanded, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// DefaultPath returns the config file location.
// Priority: KEYPORT_CONFIG env var > XDG_CONFIG_HOME/keyport/config.yaml > ~/.config/keyport/config.yaml
func DefaultPath() string {
	if envPath := os.Getenv("KEYPORT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "keyport", "config.yaml")
}

// DefaultDatabasePath returns the SQLite location used when database.path is unset.
// Priority: XDG_DATA_HOME/keyport/keyport.db > ~/.local/share/keyport/keyport.db
func DefaultDatabasePath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "keyport.db"
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "keyport", "keyport.db")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Auth.PasswordAlgorithm {
	case "bcrypt", "argon2id":
	default:
		return fmt.Errorf("auth.password_algorithm must be bcrypt or argon2id, got %q", c.Auth.PasswordAlgorithm)
	}
	if c.Auth.BcryptCost != 0 && (c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31) {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31")
	}
	if c.Auth.MaxBlobBytes <= 0 {
		return fmt.Errorf("auth.max_blob_bytes must be positive")
	}
	if c.Auth.PasswordSessionTTL <= 0 || c.Auth.PasskeySessionTTL <= 0 {
		return fmt.Errorf("auth session ttls must be positive")
	}

	switch c.Challenge.Backend {
	case "memory":
		if c.Challenge.MaxEntries <= 0 {
			return fmt.Errorf("challenge.max_entries must be positive")
		}
	case "redis":
		if c.Challenge.Redis.Addr == "" {
			return fmt.Errorf("challenge.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("challenge.backend must be memory or redis, got %q", c.Challenge.Backend)
	}
	if c.Challenge.TTL <= 0 {
		return fmt.Errorf("challenge.ttl must be positive")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"auth.password_session_ttl", cfg.Auth.PasswordSessionTTLRaw, &cfg.Auth.PasswordSessionTTL},
		{"auth.passkey_session_ttl", cfg.Auth.PasskeySessionTTLRaw, &cfg.Auth.PasskeySessionTTL},
		{"auth.session_purge_interval", cfg.Auth.SessionPurgeEveryRaw, &cfg.Auth.SessionPurgeEvery},
		{"challenge.ttl", cfg.Challenge.TTLRaw, &cfg.Challenge.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
