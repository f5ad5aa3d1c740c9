package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/authbot/pkg/cryptox"
	"gopkg.in/yaml.v3"
)

const configFileEnv = "AUTHBOT_CONFIG_FILE"

type Config struct {
	Env                 string        `yaml:"env"`        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        `yaml:"log_level"`  // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        `yaml:"log_format"` // Log format (json, text) (default: json)
	Port                int           `yaml:"port"`       // Ops HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`

	BotToken       string        `yaml:"bot_token"`        // Required
	BotAPIEndpoint string        `yaml:"bot_api_endpoint"` // Bot API URL pattern (default: Bale)
	BotPollTimeout time.Duration `yaml:"bot_poll_timeout"` // Long-poll timeout (default: 30s)
	BotDebug       bool          `yaml:"bot_debug"`

	DatabaseDriver string `yaml:"database_driver"` // sqlite or postgres (default: sqlite)
	DatabaseFile   string `yaml:"database_file"`   // SQLite file (default: ./authbot.db)
	DatabaseURL    string `yaml:"database_url"`    // PostgreSQL DSN, required for postgres

	RedisURL        string        `yaml:"redis_url"`        // Optional: Redis conversation store; in-memory when empty
	ConversationTTL time.Duration `yaml:"conversation_ttl"` // Abandoned conversations expire after this (default: 1h)

	Workers   int `yaml:"workers"`    // Dispatcher workers (default: 8)
	QueueSize int `yaml:"queue_size"` // Dispatcher queue capacity (default: 256)

	UserEventLimit  int           `yaml:"user_event_limit"`  // Events per user per window; 0 disables (default: 20)
	UserEventWindow time.Duration `yaml:"user_event_window"` // (default: 1m)
	UserEventBurst  int           `yaml:"user_event_burst"`  // (default: 5)

	Gateway           string        `yaml:"gateway"` // safir or log (default: log)
	SafirBaseURL      string        `yaml:"safir_base_url"`
	SafirClientID     string        `yaml:"safir_client_id"`
	SafirClientSecret string        `yaml:"safir_client_secret"`
	SafirTimeout      time.Duration `yaml:"safir_timeout"`

	CountryCode             string        `yaml:"country_code"`              // Replaces a national trunk zero (default: 98)
	OTPLength               int           `yaml:"otp_length"`                // (default: 6)
	OTPExpiry               time.Duration `yaml:"otp_expiry"`                // (default: 5m)
	MaxVerificationAttempts int           `yaml:"max_verification_attempts"` // (default: 2)
	BanDuration             time.Duration `yaml:"ban_duration"`              // (default: 24h)
	OTPMaxRequests          int           `yaml:"otp_max_requests"`          // Codes per user per window; 0 disables (default: 3)
	OTPRequestWindow        time.Duration `yaml:"otp_request_window"`        // (default: 1h)
}

func defaultConfig() Config {
	return Config{
		Env:                     "dev",
		LogLevel:                "info",
		LogFormat:               "json",
		Port:                    8080,
		ShutdownGracePeriod:     10 * time.Second,
		BotPollTimeout:          30 * time.Second,
		DatabaseDriver:          "sqlite",
		DatabaseFile:            "authbot.db",
		ConversationTTL:         time.Hour,
		Workers:                 8,
		QueueSize:               256,
		UserEventLimit:          20,
		UserEventWindow:         time.Minute,
		UserEventBurst:          5,
		Gateway:                 "log",
		SafirTimeout:            10 * time.Second,
		CountryCode:             "98",
		OTPLength:               6,
		OTPExpiry:               5 * time.Minute,
		MaxVerificationAttempts: 2,
		BanDuration:             24 * time.Hour,
		OTPMaxRequests:          3,
		OTPRequestWindow:        time.Hour,
	}
}

// LoadConfig layers defaults, the optional YAML file named by
// AUTHBOT_CONFIG_FILE and environment variables, in that order.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configFileEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Env = getEnvOrDefault("ENV", cfg.Env)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.Port = getEnvIntOrDefault("PORT", cfg.Port)
	cfg.ShutdownGracePeriod = getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod)

	cfg.BotToken = getEnvOrDefault("BOT_TOKEN", cfg.BotToken)
	cfg.BotAPIEndpoint = getEnvOrDefault("BOT_API_ENDPOINT", cfg.BotAPIEndpoint)
	cfg.BotPollTimeout = getEnvDurationOrDefault("BOT_POLL_TIMEOUT", cfg.BotPollTimeout)
	cfg.BotDebug = getEnvBoolOrDefault("BOT_DEBUG", cfg.BotDebug)

	cfg.DatabaseDriver = getEnvOrDefault("DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseFile = getEnvOrDefault("DATABASE_FILE", cfg.DatabaseFile)
	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", cfg.DatabaseURL)

	cfg.RedisURL = getEnvOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.ConversationTTL = getEnvDurationOrDefault("CONVERSATION_TTL", cfg.ConversationTTL)

	cfg.Workers = getEnvIntOrDefault("WORKERS", cfg.Workers)
	cfg.QueueSize = getEnvIntOrDefault("QUEUE_SIZE", cfg.QueueSize)

	cfg.UserEventLimit = getEnvIntOrDefault("USER_EVENT_LIMIT", cfg.UserEventLimit)
	cfg.UserEventWindow = getEnvDurationOrDefault("USER_EVENT_WINDOW", cfg.UserEventWindow)
	cfg.UserEventBurst = getEnvIntOrDefault("USER_EVENT_BURST", cfg.UserEventBurst)

	cfg.Gateway = getEnvOrDefault("OTP_GATEWAY", cfg.Gateway)
	cfg.SafirBaseURL = getEnvOrDefault("SAFIR_BASE_URL", cfg.SafirBaseURL)
	cfg.SafirClientID = getEnvOrDefault("SAFIR_CLIENT_ID", cfg.SafirClientID)
	cfg.SafirClientSecret = getEnvOrDefault("SAFIR_CLIENT_SECRET", cfg.SafirClientSecret)
	cfg.SafirTimeout = getEnvDurationOrDefault("SAFIR_TIMEOUT", cfg.SafirTimeout)

	cfg.CountryCode = getEnvOrDefault("COUNTRY_CODE", cfg.CountryCode)
	cfg.OTPLength = getEnvIntOrDefault("OTP_LENGTH", cfg.OTPLength)
	cfg.OTPExpiry = getEnvDurationOrDefault("OTP_EXPIRY", cfg.OTPExpiry)
	cfg.MaxVerificationAttempts = getEnvIntOrDefault("MAX_VERIFICATION_ATTEMPTS", cfg.MaxVerificationAttempts)
	cfg.BanDuration = getEnvDurationOrDefault("BAN_DURATION", cfg.BanDuration)
	cfg.OTPMaxRequests = getEnvIntOrDefault("OTP_MAX_REQUESTS", cfg.OTPMaxRequests)
	cfg.OTPRequestWindow = getEnvDurationOrDefault("OTP_REQUEST_WINDOW", cfg.OTPRequestWindow)

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.BotToken == "" {
		add("BOT_TOKEN is required")
	}
	switch c.DatabaseDriver {
	case "sqlite":
		if c.DatabaseFile == "" {
			add("DATABASE_FILE is required for the sqlite driver")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			add("DATABASE_URL is required for the postgres driver")
		}
	default:
		add("DATABASE_DRIVER must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	switch c.Gateway {
	case "log":
	case "safir":
		if c.SafirClientID == "" || c.SafirClientSecret == "" {
			add("SAFIR_CLIENT_ID and SAFIR_CLIENT_SECRET are required for the safir gateway")
		}
	default:
		add("OTP_GATEWAY must be safir or log, got %q", c.Gateway)
	}
	if c.OTPLength < cryptox.MinCodeLength || c.OTPLength > cryptox.MaxCodeLength {
		add("OTP_LENGTH must be between %d and %d, got %d", cryptox.MinCodeLength, cryptox.MaxCodeLength, c.OTPLength)
	}
	if c.MaxVerificationAttempts < 1 {
		add("MAX_VERIFICATION_ATTEMPTS must be at least 1, got %d", c.MaxVerificationAttempts)
	}
	if c.OTPExpiry <= 0 {
		add("OTP_EXPIRY must be positive")
	}
	if c.BanDuration <= 0 {
		add("BAN_DURATION must be positive")
	}
	if c.OTPMaxRequests < 0 {
		add("OTP_MAX_REQUESTS must not be negative")
	}
	if c.OTPMaxRequests > 0 && c.OTPRequestWindow <= 0 {
		add("OTP_REQUEST_WINDOW must be positive when OTP_MAX_REQUESTS is set")
	}
	if c.Workers < 1 {
		add("WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.QueueSize < 0 {
		add("QUEUE_SIZE must not be negative")
	}
	if c.Port < 0 || c.Port > 65535 {
		add("PORT out of range: %d", c.Port)
	}
	if strings.Trim(c.CountryCode, "0123456789") != "" || c.CountryCode == "" {
		add("COUNTRY_CODE must be digits, got %q", c.CountryCode)
	}

	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes, matching OTP_EXPIRY_MINUTES-style settings.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
