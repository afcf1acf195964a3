// Package config loads the gateway's configuration the teacher's way:
// godotenv populates the process environment from a .env file in
// development, and every key is resolved with os.Getenv plus a fallback.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gorm.io/gorm/logger"
)

// Config holds every knob the gateway reads at startup (§6.4).
type Config struct {
	TCPHost string
	TCPPort string

	HTTPHost string
	HTTPPort string

	DeviceSendingStaleSeconds int
	DeviceOfflineTimeoutSecs  int
	TripAutoEndStaleSeconds   int
	CommandDefaultTimeoutSecs int
	ForceSouthernHemisphere   bool
	RequireProvisionedDevice  bool
	WatchdogIntervalSeconds   int

	LogLevel         string
	HTTPAPITokenHash string

	NominatimBaseURL        string
	NominatimTimeoutSeconds int

	DatabaseDSN string
}

// Load resolves every key from the environment, falling back to the
// gateway's defaults where spec.md §6 names one.
func Load() *Config {
	return &Config{
		TCPHost: getEnv("TCP_HOST", "0.0.0.0"),
		TCPPort: getEnv("TCP_PORT", "7018"),

		HTTPHost: getEnv("HTTP_HOST", "0.0.0.0"),
		HTTPPort: getEnv("HTTP_PORT", "8000"),

		DeviceSendingStaleSeconds:  getEnvInt("DEVICE_SENDING_STALE_SECONDS", 120),
		DeviceOfflineTimeoutSecs:   getEnvInt("DEVICE_OFFLINE_TIMEOUT_SECONDS", 300),
		TripAutoEndStaleSeconds:    getEnvInt("TRIP_AUTO_END_STALE_SECONDS", 300),
		CommandDefaultTimeoutSecs: getEnvInt("COMMAND_DEFAULT_TIMEOUT_SECONDS", 10),
		ForceSouthernHemisphere:    getEnvBool("FORCE_SOUTHERN_HEMISPHERE", false),
		RequireProvisionedDevice:   getEnvBool("REQUIRE_PROVISIONED_DEVICE", false),
		WatchdogIntervalSeconds:    getEnvInt("WATCHDOG_INTERVAL_SECONDS", 60),

		LogLevel:         getEnv("LOG_LEVEL", "info"),
		HTTPAPITokenHash: getEnv("HTTP_API_TOKEN_HASH", ""),

		NominatimBaseURL:        getEnv("NOMINATIM_BASE_URL", "https://nominatim.openstreetmap.org"),
		NominatimTimeoutSeconds: getEnvInt("NOMINATIM_TIMEOUT_SECONDS", 5),

		DatabaseDSN: databaseDSN(),
	}
}

// databaseDSN assembles the Postgres connection string from discrete
// DB_* variables, the same shape the teacher's config/database.go used.
func databaseDSN() string {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		return dsn
	}
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "fleetgate")
	password := getEnv("DB_PASSWORD", "")
	dbname := getEnv("DB_NAME", "fleetgate")
	sslmode := getEnv("DB_SSL_MODE", "disable")
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
}

func (c *Config) DeviceSendingStale() time.Duration {
	return time.Duration(c.DeviceSendingStaleSeconds) * time.Second
}

func (c *Config) DeviceOfflineTimeout() time.Duration {
	return time.Duration(c.DeviceOfflineTimeoutSecs) * time.Second
}

func (c *Config) TripAutoEndStale() time.Duration {
	return time.Duration(c.TripAutoEndStaleSeconds) * time.Second
}

func (c *Config) CommandDefaultTimeout() time.Duration {
	return time.Duration(c.CommandDefaultTimeoutSecs) * time.Second
}

func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogIntervalSeconds) * time.Second
}

func (c *Config) NominatimTimeout() time.Duration {
	return time.Duration(c.NominatimTimeoutSeconds) * time.Second
}

// GORMLogLevel maps LOG_LEVEL to a gorm logger verbosity.
func (c *Config) GORMLogLevel() logger.LogLevel {
	switch c.LogLevel {
	case "debug":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	default:
		return logger.Silent
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
