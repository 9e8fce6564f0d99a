package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	dbconfig "counselchat/pkg/database"
)

// EnvPrefix namespaces every environment variable read by LoadFromEnv
const EnvPrefix = "COUNSELCHAT_"

// Config is the process-wide settings tree
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	RateLimit *RateLimitConfig `json:"rate_limit"`
	Chat      *ChatConfig      `json:"chat"`
}

// DatabaseConfig selects the store. Path is used by sqlite, DSN by mysql.
type DatabaseConfig struct {
	Driver         string        `json:"driver"`
	Path           string        `json:"path"`
	DSN            string        `json:"dsn"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
	LogQueries     bool          `json:"log_queries"`
}

type HTTPConfig struct {
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	Host           string        `json:"host"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	MaxMessageSize int64         `json:"max_message_size"`
}

// AuthConfig verifies HS256 bearer tokens issued by the main platform
type AuthConfig struct {
	JWTSecret       string        `json:"jwt_secret"`
	ProfileCacheTTL time.Duration `json:"profile_cache_ttl"`
}

// RateLimitConfig bounds socket actions per user over a sliding window
type RateLimitConfig struct {
	Actions int           `json:"actions"`
	Window  time.Duration `json:"window"`
}

type ChatConfig struct {
	MaxMessageLength int `json:"max_message_length"`
	DefaultPageSize  int `json:"default_page_size"`
	MaxPageSize      int `json:"max_page_size"`
}

// DefaultConfig returns local development settings
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:         dbconfig.DriverSQLite,
			Path:           "./data/counselchat.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"*"},
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			MaxMessageSize: 64 * 1024,
		},
		Auth: &AuthConfig{
			ProfileCacheTTL: 5 * time.Minute,
		},
		RateLimit: &RateLimitConfig{
			Actions: 10,
			Window:  60 * time.Second,
		},
		Chat: &ChatConfig{
			MaxMessageLength: 5000,
			DefaultPageSize:  50,
			MaxPageSize:      100,
		},
	}
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if err := c.DatabaseSettings().Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("JWT secret must be at least 16 characters")
	}
	if c.Auth.ProfileCacheTTL < 0 {
		return fmt.Errorf("profile cache TTL cannot be negative")
	}

	if c.RateLimit == nil {
		return fmt.Errorf("rate limit configuration is required")
	}
	if c.RateLimit.Actions <= 0 {
		return fmt.Errorf("rate limit actions must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}

	if c.Chat == nil {
		return fmt.Errorf("chat configuration is required")
	}
	if c.Chat.MaxMessageLength <= 0 {
		return fmt.Errorf("max message length must be positive")
	}
	if c.Chat.DefaultPageSize <= 0 || c.Chat.MaxPageSize < c.Chat.DefaultPageSize {
		return fmt.Errorf("page sizes must satisfy 0 < default <= max")
	}

	return nil
}

// DatabaseSettings converts the database section for the storage layer
func (c *Config) DatabaseSettings() *dbconfig.Config {
	settings := dbconfig.DefaultConfig()
	settings.Driver = c.Database.Driver
	settings.DatabasePath = c.Database.Path
	settings.DSN = c.Database.DSN
	settings.LogQueries = c.Database.LogQueries
	settings.WriteTimeout = c.Database.Timeout
	if c.Database.MaxConnections > 0 {
		settings.MaxConnections = c.Database.MaxConnections
	}
	return settings
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv overlays COUNSELCHAT_* variables on the defaults. Malformed
// values are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("DATABASE_DRIVER", &config.Database.Driver)
	envString("DATABASE_PATH", &config.Database.Path)
	envString("DATABASE_DSN", &config.Database.DSN)
	envDuration("DATABASE_TIMEOUT", &config.Database.Timeout)
	envInt("DATABASE_MAX_CONNECTIONS", &config.Database.MaxConnections)
	envBool("DATABASE_LOG_QUERIES", &config.Database.LogQueries)

	envInt("HTTP_PORT", &config.HTTP.Port)
	envString("HTTP_HOST", &config.HTTP.Host)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	if origins := os.Getenv(EnvPrefix + "HTTP_ALLOWED_ORIGINS"); origins != "" {
		config.HTTP.AllowedOrigins = splitList(origins)
	}

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	if size := os.Getenv(EnvPrefix + "WEBSOCKET_MAX_MESSAGE_SIZE"); size != "" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil {
			config.WebSocket.MaxMessageSize = n
		}
	}

	envString("AUTH_JWT_SECRET", &config.Auth.JWTSecret)
	envDuration("AUTH_PROFILE_CACHE_TTL", &config.Auth.ProfileCacheTTL)

	envInt("RATE_LIMIT_ACTIONS", &config.RateLimit.Actions)
	envDuration("RATE_LIMIT_WINDOW", &config.RateLimit.Window)

	envInt("CHAT_MAX_MESSAGE_LENGTH", &config.Chat.MaxMessageLength)
	envInt("CHAT_DEFAULT_PAGE_SIZE", &config.Chat.DefaultPageSize)
	envInt("CHAT_MAX_PAGE_SIZE", &config.Chat.MaxPageSize)
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConfigFile is the on-disk JSON shape; durations are strings like "30s"
type ConfigFile struct {
	Database *struct {
		Driver         string `json:"driver"`
		Path           string `json:"path"`
		DSN            string `json:"dsn"`
		Timeout        string `json:"timeout"`
		MaxConnections int    `json:"max_connections"`
		LogQueries     *bool  `json:"log_queries"`
	} `json:"database"`
	HTTP *struct {
		Port           int      `json:"port"`
		Host           string   `json:"host"`
		ReadTimeout    string   `json:"read_timeout"`
		WriteTimeout   string   `json:"write_timeout"`
		AllowedOrigins []string `json:"allowed_origins"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval   string `json:"ping_interval"`
		ReadTimeout    string `json:"read_timeout"`
		MaxMessageSize int64  `json:"max_message_size"`
	} `json:"websocket"`
	Auth *struct {
		JWTSecret       string `json:"jwt_secret"`
		ProfileCacheTTL string `json:"profile_cache_ttl"`
	} `json:"auth"`
	RateLimit *struct {
		Actions int    `json:"actions"`
		Window  string `json:"window"`
	} `json:"rate_limit"`
	Chat *ChatConfig `json:"chat"`
}

// LoadFromFile reads a JSON file over the defaults and validates the result
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	var errs []string
	duration := func(field, v string, dst *time.Duration) {
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", field, err))
			return
		}
		*dst = d
	}
	str := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}
	num := func(v int, dst *int) {
		if v > 0 {
			*dst = v
		}
	}

	if f := file.Database; f != nil {
		str(f.Driver, &config.Database.Driver)
		str(f.Path, &config.Database.Path)
		str(f.DSN, &config.Database.DSN)
		duration("database.timeout", f.Timeout, &config.Database.Timeout)
		num(f.MaxConnections, &config.Database.MaxConnections)
		if f.LogQueries != nil {
			config.Database.LogQueries = *f.LogQueries
		}
	}
	if f := file.HTTP; f != nil {
		num(f.Port, &config.HTTP.Port)
		str(f.Host, &config.HTTP.Host)
		duration("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		duration("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
		if len(f.AllowedOrigins) > 0 {
			config.HTTP.AllowedOrigins = f.AllowedOrigins
		}
	}
	if f := file.WebSocket; f != nil {
		duration("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		duration("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		if f.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
	}
	if f := file.Auth; f != nil {
		str(f.JWTSecret, &config.Auth.JWTSecret)
		duration("auth.profile_cache_ttl", f.ProfileCacheTTL, &config.Auth.ProfileCacheTTL)
	}
	if f := file.RateLimit; f != nil {
		num(f.Actions, &config.RateLimit.Actions)
		duration("rate_limit.window", f.Window, &config.RateLimit.Window)
	}
	if f := file.Chat; f != nil {
		num(f.MaxMessageLength, &config.Chat.MaxMessageLength)
		num(f.DefaultPageSize, &config.Chat.DefaultPageSize)
		num(f.MaxPageSize, &config.Chat.MaxPageSize)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid durations in %s: %s", filepath, strings.Join(errs, "; "))
	}
	return nil
}

// LoadConfigWithPrecedence builds defaults, then environment, then the
// optional file. A file that cannot be read or parsed is skipped so the
// environment still applies; the result is not validated.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()
	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			log.Printf("Ignoring config file %s: %v", filepath, err)
			return LoadFromEnv()
		}
	}
	return config
}
