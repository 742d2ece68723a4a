// Package test contains the test helpers and fake radio capabilities
// shared by the package tests.
package test

import (
	"os"

	log "github.com/sirupsen/logrus"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

// Config contains the test configuration.
type Config struct {
	RedisURL    string
	PostgresDSN string
}

// GetConfig returns the test configuration. Backends for which the
// environment variable is not set are empty and the related tests must be
// skipped.
func GetConfig() Config {
	return Config{
		RedisURL:    os.Getenv("TEST_REDIS_URL"),
		PostgresDSN: os.Getenv("TEST_POSTGRES_DSN"),
	}
}
