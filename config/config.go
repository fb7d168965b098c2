// Package config loads the service configuration from the environment.
// A .env file in the working directory is read first when present, which
// keeps local development free of exported variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config groups every runtime setting. Each section maps to one concern.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	JWT          JWTConfig
	ICE          ICEConfig
	Call         CallConfig
	Chat         ChatConfig
	Consultation ConsultationConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string // empty means "*"
}

// DatabaseConfig holds the SQLite file location.
type DatabaseConfig struct {
	Path string // e.g. ./data/agroconsult.db
}

// JWTConfig holds the shared secret used by the external auth service to
// sign access tokens. This service only verifies them.
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry int // minutes, used when issuing tokens for tooling
}

// ICEConfig describes the STUN/TURN servers handed to call clients.
type ICEConfig struct {
	STUNURLs      []string
	TURNURLs      []string
	TURNSecret    string        // coturn static-auth-secret; empty disables TURN
	CredentialTTL time.Duration // lifetime of generated TURN credentials
}

// TURNEnabled reports whether time-limited TURN credentials can be minted.
func (c *ICEConfig) TURNEnabled() bool {
	return len(c.TURNURLs) > 0 && c.TURNSecret != ""
}

// CallConfig holds signaling limits for video rooms.
type CallConfig struct {
	// FailedAuthLimit and FailedAuthWindow bound WebSocket handshakes with a
	// bad credential per client IP.
	FailedAuthLimit  int
	FailedAuthWindow time.Duration
}

// ChatConfig holds consultation chat limits.
type ChatConfig struct {
	MaxLength    int // runes, after trimming
	HistoryLimit int
	RateLimit    int
	RateWindow   time.Duration
	RateCooldown time.Duration
}

// ConsultationConfig controls the read-through cache in front of the
// consultation store.
type ConsultationConfig struct {
	CacheTTL time.Duration
}

// Load builds a Config from environment variables. JWT_SECRET is required;
// everything else has a default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}

	accessExpiry, err := getEnvInt("JWT_ACCESS_EXPIRY_MINUTES", 60)
	if err != nil {
		return nil, err
	}

	credentialTTL, err := getEnvDuration("TURN_CREDENTIAL_TTL", 12*time.Hour)
	if err != nil {
		return nil, err
	}

	failedAuthLimit, err := getEnvInt("WS_FAILED_AUTH_LIMIT", 10)
	if err != nil {
		return nil, err
	}
	failedAuthWindow, err := getEnvDuration("WS_FAILED_AUTH_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}

	chatMaxLength, err := getEnvInt("CHAT_MAX_LENGTH", 2000)
	if err != nil {
		return nil, err
	}
	chatHistory, err := getEnvInt("CHAT_HISTORY_LIMIT", 50)
	if err != nil {
		return nil, err
	}
	chatRate, err := getEnvInt("CHAT_RATE_LIMIT", 5)
	if err != nil {
		return nil, err
	}
	chatWindow, err := getEnvDuration("CHAT_RATE_WINDOW", 5*time.Second)
	if err != nil {
		return nil, err
	}
	chatCooldown, err := getEnvDuration("CHAT_RATE_COOLDOWN", 15*time.Second)
	if err != nil {
		return nil, err
	}

	cacheTTL, err := getEnvDuration("CONSULTATION_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        port,
			CORSOrigins: getEnvList("CORS_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./data/agroconsult.db"),
		},
		JWT: JWTConfig{
			Secret:            jwtSecret,
			AccessTokenExpiry: accessExpiry,
		},
		ICE: ICEConfig{
			STUNURLs: getEnvList("STUN_URLS", []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			}),
			TURNURLs:      getEnvList("TURN_URLS", nil),
			TURNSecret:    getEnv("TURN_SECRET", ""),
			CredentialTTL: credentialTTL,
		},
		Call: CallConfig{
			FailedAuthLimit:  failedAuthLimit,
			FailedAuthWindow: failedAuthWindow,
		},
		Chat: ChatConfig{
			MaxLength:    chatMaxLength,
			HistoryLimit: chatHistory,
			RateLimit:    chatRate,
			RateWindow:   chatWindow,
			RateCooldown: chatCooldown,
		},
		Consultation: ConsultationConfig{
			CacheTTL: cacheTTL,
		},
	}

	if cfg.Chat.MaxLength <= 0 {
		return nil, fmt.Errorf("invalid CHAT_MAX_LENGTH: must be positive")
	}
	if cfg.Chat.HistoryLimit <= 0 {
		return nil, fmt.Errorf("invalid CHAT_HISTORY_LIMIT: must be positive")
	}

	return cfg, nil
}

// Addr returns the listen address, e.g. "0.0.0.0:8080".
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

// getEnvDuration accepts Go duration strings ("15s", "12h").
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
