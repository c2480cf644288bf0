package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Sentinel errors for configuration validation.
var (
	errDatabaseURLRequired    = errors.New("DATABASE_URL cannot be empty")
	errMigrationTableRequired = errors.New("MIGRATION_TABLE cannot be empty")
)

// Config holds the migrator settings, all sourced from the environment.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string for the pipeline schema.
	DatabaseURL string

	// MigrationTable is the tracking table golang-migrate records versions in.
	MigrationTable string
}

// LoadConfig reads the migrator configuration from environment variables.
func LoadConfig() (*Config, error) {
	config := &Config{
		DatabaseURL:    getEnvOrDefault("DATABASE_URL", ""),
		MigrationTable: getEnvOrDefault("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks that all required settings are present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errDatabaseURLRequired
	}

	if c.MigrationTable == "" {
		return errMigrationTableRequired
	}

	return nil
}

// String renders the configuration with credentials masked, safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}",
		maskDatabaseURL(c.DatabaseURL), c.MigrationTable)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// maskDatabaseURL replaces the password portion of a connection URL with
// asterisks. Malformed URLs are returned unchanged rather than failing the
// log line.
func maskDatabaseURL(url string) string {
	if url == "" {
		return ""
	}

	schemeEnd := strings.Index(url, "//")
	if schemeEnd == -1 {
		return url
	}

	rest := url[schemeEnd+2:]

	// The authority section ends at the first path, query, or fragment marker.
	authority := rest
	if cut := strings.IndexAny(rest, "/?#"); cut != -1 {
		authority = rest[:cut]
	}

	// The password itself may contain "@", so the userinfo boundary is the
	// last "@" in the authority section.
	at := strings.LastIndex(authority, "@")
	if at == -1 {
		return url
	}

	userInfo := authority[:at]

	colon := strings.Index(userInfo, ":")
	if colon == -1 || colon == len(userInfo)-1 {
		// No password, or an empty one. Nothing to hide.
		return url
	}

	return url[:schemeEnd+2] + userInfo[:colon+1] + "***" + rest[at:]
}
