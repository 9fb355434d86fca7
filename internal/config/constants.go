package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 30 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background sweep interval. Expiry is also enforced lazily on every
// read and transition, so correctness does not depend on this cadence.
const SweepInterval = time.Minute

// Rate limits for the unauthenticated pairing endpoints (per IP)
const (
	InitiateRateLimit  = 10
	ClaimRateLimit     = 15
	RateLimitWindowDur = time.Minute
)
