package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the signaling server.
type Config struct {
	Port     string
	UseHTTPS bool

	SSLCertPath string
	SSLKeyPath  string

	TURNServerURL        string
	TURNServerUsername   string
	TURNServerCredential string

	AllowedOrigins string

	MaxLatentRooms     int
	LatentRoomMaxAge   time.Duration
	LatentStorePath    string
	RoomCleanupInterval time.Duration
	RoomMaxAge          time.Duration
	MaxParticipants     int

	// ConnRateLimit is in ulule/limiter's formatted-rate syntax, e.g. "10-M"
	// for 10 per minute. Governs connection attempts per remote address.
	ConnRateLimit string

	GoEnv    string
	LogLevel string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	cfg.Port = getEnvOrDefault("PORT", "8080")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.UseHTTPS = os.Getenv("USE_HTTPS") == "true"
	cfg.SSLCertPath = os.Getenv("SSL_CERT_PATH")
	cfg.SSLKeyPath = os.Getenv("SSL_KEY_PATH")
	if cfg.UseHTTPS && (cfg.SSLCertPath == "" || cfg.SSLKeyPath == "") {
		errors = append(errors, "SSL_CERT_PATH and SSL_KEY_PATH are required when USE_HTTPS=true")
	}

	cfg.TURNServerURL = os.Getenv("TURN_SERVER_URL")
	cfg.TURNServerUsername = os.Getenv("TURN_SERVER_USERNAME")
	cfg.TURNServerCredential = os.Getenv("TURN_SERVER_CREDENTIAL")

	cfg.AllowedOrigins = getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000")

	cfg.MaxLatentRooms = getEnvIntOrDefault("MAX_LATENT_ROOMS", 10)
	if cfg.MaxLatentRooms < 0 {
		errors = append(errors, "MAX_LATENT_ROOMS must not be negative")
	}

	latentHours := getEnvIntOrDefault("LATENT_ROOM_MAX_AGE_HOURS", 24)
	if latentHours < 1 {
		errors = append(errors, "LATENT_ROOM_MAX_AGE_HOURS must be positive")
	}
	cfg.LatentRoomMaxAge = time.Duration(latentHours) * time.Hour

	cfg.LatentStorePath = getEnvOrDefault("LATENT_STORE_PATH", "data/rooms.json")

	cfg.RoomCleanupInterval = 30 * time.Minute
	cfg.RoomMaxAge = 1 * time.Hour

	cfg.MaxParticipants = getEnvIntOrDefault("MAX_PARTICIPANTS", 8)
	if cfg.MaxParticipants < 1 {
		errors = append(errors, "MAX_PARTICIPANTS must be positive")
	}

	cfg.ConnRateLimit = getEnvOrDefault("CONN_RATE_LIMIT", "10-M")

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// IceServers assembles the ICE/TURN server list served by GET /config.
func (c *Config) IceServers() []map[string]any {
	servers := []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	}
	if c.TURNServerURL != "" {
		servers = append(servers, map[string]any{
			"urls":       c.TURNServerURL,
			"username":   c.TURNServerUsername,
			"credential": c.TURNServerCredential,
		})
	}
	return servers
}

// logValidatedConfig logs the validated configuration.
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated successfully")
	slog.Info("configuration",
		"port", cfg.Port,
		"use_https", cfg.UseHTTPS,
		"max_latent_rooms", cfg.MaxLatentRooms,
		"latent_room_max_age", cfg.LatentRoomMaxAge,
		"max_participants", cfg.MaxParticipants,
		"conn_rate_limit", cfg.ConnRateLimit,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the integer value of the environment variable or a default if unset/invalid.
func getEnvIntOrDefault(key string, defaultValue int) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}
