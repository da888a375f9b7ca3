package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/whispernet/whispernet/internal/auth"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	MessagesSQL   = "sql"
	MessagesRedis = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	Port           string `yaml:"port"`
	Env            string `yaml:"env"`
	StoreBackend   string `yaml:"store_backend"`
	DatabaseURL    string `yaml:"database_url"`
	SQLitePath     string `yaml:"sqlite_path"`
	RedisURL       string `yaml:"redis_url"`
	MessageBackend string `yaml:"message_backend"`
	LoginChallenge string `yaml:"login_challenge"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`

	// Rate limiting
	RateLimitWhitelist []string `yaml:"rate_limit_whitelist"` // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     `yaml:"auto_block_enabled"`   // Enable auto-blocking after repeated violations

	// Proxies allowed to set X-Forwarded-For / X-Real-IP
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// Load reads configuration from the optional CONFIG_FILE and environment
// variables, the latter taking precedence.
// In development, it loads from .env file if present.
// It panics on an unreadable config file or an invalid configuration.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// FromEnv builds and validates a Config without touching .env files.
func FromEnv() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.StoreBackend = strings.ToLower(getEnv("STORE_BACKEND", cfg.StoreBackend))
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.MessageBackend = strings.ToLower(getEnv("MESSAGE_BACKEND", cfg.MessageBackend))
	cfg.LoginChallenge = getEnv("LOGIN_CHALLENGE", cfg.LoginChallenge)

	if v := os.Getenv("AUTO_BLOCK_ENABLED"); v != "" {
		cfg.AutoBlockEnabled = v == "true"
	}

	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("MAX_BODY_BYTES must be a positive integer, got %q", v)
		}
		cfg.MaxBodyBytes = n
	}

	// Comma-separated IPs or CIDRs
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		cfg.RateLimitWhitelist = splitList(whitelist)
	}
	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		cfg.TrustedProxies = splitList(proxies)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:           "8080",
		Env:            "development",
		StoreBackend:   BackendSQLite,
		SQLitePath:     "./data/whispernet.db",
		MessageBackend: MessagesSQL,
		LoginChallenge: auth.DefaultChallenge,
		MaxBodyBytes:   64 * 1024,
	}
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks backend selection. In production the selected backends
// must have their connection settings.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendSQLite, BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.MessageBackend {
	case MessagesSQL, MessagesRedis:
	default:
		return fmt.Errorf("unknown MESSAGE_BACKEND %q", c.MessageBackend)
	}

	if c.MessageBackend == MessagesRedis && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when MESSAGE_BACKEND=redis")
	}
	if c.StoreBackend == BackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
	}

	// In production, require durable storage and redis
	if c.Env == "production" {
		if c.StoreBackend == BackendMemory {
			return fmt.Errorf("STORE_BACKEND=memory is not allowed in production")
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required in production")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func splitList(value string) []string {
	var out []string
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
