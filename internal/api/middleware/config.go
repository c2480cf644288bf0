package middleware

import (
	"time"

	"github.com/AteetVatan/masx-geosignal/internal/config"
)

// Config holds rate limiter configuration.
//
// Two tiers, both in requests per second:
//   - Global: applied to all requests
//   - Per-client: applied per remote IP
//
// Burst fields of 0 are computed automatically as 2 × rate.
type Config struct {
	GlobalRPS int // Default: 20
	ClientRPS int // Default: 5

	GlobalBurst int // Default: 0 (computed as 2 × GlobalRPS)
	ClientBurst int // Default: 0 (computed as 2 × ClientRPS)

	// Memory cleanup configuration.
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxClients      int           // Default: 10,000
}

// LoadConfig loads rate limiter config from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("PIPELINE_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS: config.GetEnvInt("PIPELINE_CLIENT_RPS", defaultClientRPS),

		GlobalBurst: config.GetEnvInt("PIPELINE_GLOBAL_BURST", 0),
		ClientBurst: config.GetEnvInt("PIPELINE_CLIENT_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"PIPELINE_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("PIPELINE_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:  config.GetEnvInt("PIPELINE_RATE_LIMIT_MAX_CLIENTS", maxClients),
	}
}
