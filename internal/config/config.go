package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the server.
type Config struct {
	Port   string
	Env    string
	DBPath string

	// Gallery auto-rotation period
	RotateInterval time.Duration

	// Per-IP REST rate limiting
	HTTPRateLimit float64
	HTTPRateBurst int
}

// Load reads configuration from environment variables. In development
// a .env file is loaded if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		DBPath:         getEnv("PROMPTBOARD_DB_PATH", "./data/promptboard.db"),
		RotateInterval: time.Duration(getEnvInt("ROTATE_INTERVAL_SECONDS", 5)) * time.Second,
		HTTPRateLimit:  float64(getEnvInt("HTTP_RATE_LIMIT", 20)),
		HTTPRateBurst:  getEnvInt("HTTP_RATE_BURST", 40),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}
