// Package server provides configuration helpers that define runtime defaults,
// validation, and environment loading for the room chat service.
package server

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	SendBufferSize  int
	HistoryLimit    int
	JWTSecret       string
	JWTIssuer       string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Rooms and Users are static and loaded once at startup.
	Rooms []chat.Room
	Users []chat.User
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 4096
	defaultSendBufferSize  = 256
	defaultJWTSecret       = "roomchat-dev-secret"
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultShutdownTimeout = 10 * time.Second
)

var (
	configMu     sync.RWMutex
	activeConfig Config
	origins      originPolicy
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:  defaultMaxMessageSize,
		SendBufferSize:  defaultSendBufferSize,
		HistoryLimit:    chat.DefaultHistoryLimit,
		JWTSecret:       defaultJWTSecret,
		LogLevel:        defaultLogLevel,
		LogFormat:       defaultLogFormat,
		ShutdownTimeout: defaultShutdownTimeout,
		Rooms:           DefaultRooms(time.Now()),
		Users:           DefaultUsers(),
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}

	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = chat.DefaultHistoryLimit
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = defaultJWTSecret
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	if cfg.LogFormat != "json" {
		cfg.LogFormat = defaultLogFormat
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	if len(cfg.Rooms) == 0 {
		cfg.Rooms = DefaultRooms(time.Now())
	}

	policy, canonical := compileOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = canonical

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	origins = policy

	return cfg
}

func activeOriginPolicy() originPolicy {
	configMu.RLock()
	defer configMu.RUnlock()
	return origins
}

// SetConfig applies the provided configuration and returns the sanitized
// copy. Passing nil resets to defaults.
func SetConfig(cfg *Config) Config {
	if cfg == nil {
		return sanitizeConfig(defaultConfig())
	}

	sanitized := *cfg
	sanitized.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitized.Rooms = append([]chat.Room(nil), cfg.Rooms...)
	sanitized.Users = append([]chat.User(nil), cfg.Users...)
	return sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. With no
// arguments it reads ".env" from the working directory.
func LoadDotEnv(filenames ...string) error {
	return godotenv.Load(filenames...)
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		cfg.SendBufferSize = parseIntValue(size, cfg.SendBufferSize)
	}

	if limit := os.Getenv("HISTORY_LIMIT"); limit != "" {
		cfg.HistoryLimit = parseIntValue(limit, cfg.HistoryLimit)
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}

	cfg.JWTIssuer = os.Getenv("JWT_ISSUER")

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(level))
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(format))
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	return &cfg
}

// parseOrigins splits a comma separated ALLOWED_ORIGINS value into canonical
// origins, keeping a "*" wildcard entry as is.
func parseOrigins(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "*" {
			out = append(out, part)
			continue
		}
		if origin, ok := canonicalOrigin(part); ok {
			out = append(out, origin)
		}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseSeconds accepts either a Go duration ("15s") or a bare number of seconds.
func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
