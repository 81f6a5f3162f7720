package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Username             string `yaml:"username"`
	PasswordWords        int    `yaml:"password_words"`
	PersistentCredential bool   `yaml:"persistent_password"`
	BcryptCost           int    `yaml:"bcrypt_cost"`
	LockoutThreshold     int    `yaml:"lockout_threshold"`

	SchedulerInterval time.Duration `yaml:"scheduler_interval"`

	SpoolDir    string        `yaml:"spool_dir"`
	SpoolMaxAge time.Duration `yaml:"spool_max_age"`

	// LargeShareThreshold flags shares bigger than this many bytes; 0
	// disables the warning.
	LargeShareThreshold int64 `yaml:"large_share_threshold"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	DatabaseURL   string        `yaml:"database_url"`
	RedisURL      string        `yaml:"redis_url"`
	RedisEntryTTL time.Duration `yaml:"redis_entry_ttl"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:                "127.0.0.1",
		Port:                0,
		Username:            "sharebeam",
		PasswordWords:       2,
		BcryptCost:          10,
		LockoutThreshold:    20,
		SchedulerInterval:   time.Second,
		SpoolDir:            filepath.Join(os.TempDir(), "sharebeam"),
		SpoolMaxAge:         24 * time.Hour,
		LargeShareThreshold: 150 << 20,
		RateLimitBurst:      20,
		RedisEntryTTL:       7 * 24 * time.Hour,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (if any), then .env and the process environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Host = getEnv("HOST", c.Host)
	c.Port = getEnvInt("PORT", c.Port)
	c.Username = getEnv("AUTH_USERNAME", c.Username)
	c.PasswordWords = getEnvInt("PASSWORD_WORDS", c.PasswordWords)
	c.PersistentCredential = getEnvBool("PERSISTENT_PASSWORD", c.PersistentCredential)
	c.BcryptCost = getEnvInt("BCRYPT_COST", c.BcryptCost)
	c.LockoutThreshold = getEnvInt("LOCKOUT_THRESHOLD", c.LockoutThreshold)
	c.SchedulerInterval = getEnvDuration("SCHEDULER_INTERVAL", c.SchedulerInterval)
	c.SpoolDir = getEnv("SPOOL_DIR", c.SpoolDir)
	c.SpoolMaxAge = getEnvDuration("SPOOL_MAX_AGE", c.SpoolMaxAge)
	c.LargeShareThreshold = getEnvInt64("LARGE_SHARE_THRESHOLD", c.LargeShareThreshold)
	c.RateLimitRPS = getEnvFloat64("RATE_LIMIT_RPS", c.RateLimitRPS)
	c.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", c.RateLimitBurst)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.RedisEntryTTL = getEnvDuration("REDIS_ENTRY_TTL", c.RedisEntryTTL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string
	if c.Port < 0 || c.Port > 65535 {
		problems = append(problems, "PORT must be between 0 and 65535")
	}
	if c.PasswordWords < 2 {
		problems = append(problems, "PASSWORD_WORDS must be at least 2")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		problems = append(problems, "BCRYPT_COST must be between 4 and 31")
	}
	if c.LockoutThreshold < 1 {
		problems = append(problems, "LOCKOUT_THRESHOLD must be positive")
	}
	if c.SchedulerInterval <= 0 {
		problems = append(problems, "SCHEDULER_INTERVAL must be positive")
	}
	if c.RateLimitRPS < 0 {
		problems = append(problems, "RATE_LIMIT_RPS must not be negative")
	}
	if c.LargeShareThreshold < 0 {
		problems = append(problems, "LARGE_SHARE_THRESHOLD must not be negative")
	}
	if c.SpoolDir == "" {
		problems = append(problems, "SPOOL_DIR is required")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		problems = append(problems, "LOG_FORMAT must be json or text")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, "LOG_LEVEL must be debug, info, warn or error")
	}

	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat64(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "2h") or a bare number of
// seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
