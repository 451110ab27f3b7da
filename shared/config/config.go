package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files (default ".env") into the process
// environment. Variables already set are not overridden and a missing file is not an error.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			slog.Warn("failed to load env file", slog.String("file", f), slog.Any("error", err))
		}
	}
}

// GetEnv returns the value of key or fallback when unset or empty
func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// GetEnvInt returns key parsed as an int, or fallback when unset or invalid
func GetEnvInt(key string, fallback int) int {
	v := GetEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default",
			slog.String("key", key), slog.String("value", v), slog.Int("default", fallback))
		return fallback
	}
	return n
}

// GetEnvDuration returns key parsed with time.ParseDuration, or fallback when unset or invalid
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	v := GetEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default",
			slog.String("key", key), slog.String("value", v), slog.Duration("default", fallback))
		return fallback
	}
	return d
}

// GetEnvBool returns key parsed with strconv.ParseBool, or fallback when unset or invalid
func GetEnvBool(key string, fallback bool) bool {
	v := GetEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
