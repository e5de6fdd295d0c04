package session

import (
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	// HTTP
	HTTPAddr string // REST API and metrics
	WSAddr   string // websocket endpoint

	// Storage
	RedisAddr string // empty selects the in-memory backend

	// Replay
	BroadcastPeriod    time.Duration
	DefaultVideoOffset int64 // ms, applied when a session omits one

	// Optional NMEA output for external consumers
	SerialPort string
	SerialBaud int
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		HTTPAddr:           getEnv("REPLAY_HTTP_ADDR", ":8081"),
		WSAddr:             getEnv("REPLAY_WS_ADDR", ":8080"),
		RedisAddr:          getEnv("REPLAY_REDIS_ADDR", ""),
		BroadcastPeriod:    getDurationEnv("REPLAY_BROADCAST_PERIOD", 1*time.Second),
		DefaultVideoOffset: getInt64Env("REPLAY_VIDEO_OFFSET_MS", 0),
		SerialPort:         getEnv("REPLAY_SERIAL_PORT", ""),
		SerialBaud:         getIntEnv("REPLAY_SERIAL_BAUD", 9600),
	}
}

// Helper functions to get environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
