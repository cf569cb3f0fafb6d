// Package config loads per-binary configuration from the environment,
// optionally seeded from a .env file, matching the teacher's
// pkg/config/config.go loading style scaled down to three small structs
// instead of one monolithic Config.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// LoadDotEnv tries a .env file in the current directory, the parent
// directory, and the absolute working directory, logging where (if
// anywhere) it found one. It never fails the caller: missing or malformed
// .env files just mean "environment variables only".
func LoadDotEnv(logger *logrus.Logger) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("failed to get current working directory")
		wd = "unknown"
	}

	candidates := []string{".env", "../.env", filepath.Join(wd, ".env")}
	for _, candidate := range candidates {
		if _, statErr := os.Stat(candidate); statErr != nil {
			continue
		}
		if err := godotenv.Load(candidate); err == nil {
			abs, _ := filepath.Abs(candidate)
			logger.WithField("path", abs).Info("loaded .env file")
			return
		}
	}
	logger.WithField("working_dir", wd).Debug("no .env file found, using environment variables only")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}
