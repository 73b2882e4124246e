// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New returns a Config populated with defaults.
//   - Load layers an optional YAML file and UCOIN_ env vars on top.
//   - Durations are configured in milliseconds and exposed as time.Duration.
package config

import (
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// LedgerPath is the BoltDB ledger file.
	LedgerPath string `koanf:"ledger_path"`

	// ApproverAddress is written to the ledger as the privileged approver.
	// Empty keeps whatever the ledger already holds.
	ApproverAddress string `koanf:"approver_address"`

	// SignerAddress is the identity the service approves withdrawals as.
	SignerAddress string `koanf:"signer_address"`

	// Telemetry (GitHub GraphQL) settings. TelemetryToken is the
	// service-held credential; it is never accepted from clients.
	TelemetryEndpoint    string  `koanf:"telemetry_endpoint"`
	TelemetryToken       string  `koanf:"telemetry_token"`
	TelemetryTimeoutMS   int     `koanf:"telemetry_timeout_ms"`
	TelemetryWindowDays  int     `koanf:"telemetry_window_days"`
	TelemetryConcurrency int     `koanf:"telemetry_concurrency"`
	TelemetryRPS         float64 `koanf:"telemetry_rps"`
	TelemetryBurst       int     `koanf:"telemetry_burst"`

	// Session feed polling intervals.
	StatusPollIntervalMS  int `koanf:"status_poll_interval_ms"`
	BalancePollIntervalMS int `koanf:"balance_poll_interval_ms"`

	// AllowedOrigins is a comma-separated list of origins that may open a
	// session feed in addition to same-origin clients; "*" allows any.
	AllowedOrigins string `koanf:"allowed_origins"`

	// EventQueueSize bounds the in-memory ledger event queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of ledger event workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds the applied tx-ref guard.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// Redis claims cache. Empty RedisAddr keeps the cache in process.
	RedisAddr        string `koanf:"redis_addr"`
	RedisPassword    string `koanf:"redis_password"`
	RedisDB          int    `koanf:"redis_db"`
	ClaimsCacheTTLMS int    `koanf:"claims_cache_ttl_ms"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		LedgerPath:            "ucoin.db",
		TelemetryEndpoint:     "https://api.github.com/graphql",
		TelemetryTimeoutMS:    15_000,
		TelemetryWindowDays:   365,
		TelemetryConcurrency:  8,
		TelemetryRPS:          10,
		TelemetryBurst:        10,
		StatusPollIntervalMS:  15_000,
		BalancePollIntervalMS: 30_000,
		EventQueueSize:        4096,
		WorkerCount:           4,
		DedupeSize:            50_000,
		MaxLeaderboardLimit:   100,
	}
}

// TelemetryTimeout is the per-fetch telemetry timeout.
func (c *Config) TelemetryTimeout() time.Duration {
	return time.Duration(c.TelemetryTimeoutMS) * time.Millisecond
}

// TelemetryWindow is the trailing contribution window.
func (c *Config) TelemetryWindow() time.Duration {
	return time.Duration(c.TelemetryWindowDays) * 24 * time.Hour
}

// StatusPollInterval is how often session feeds re-read request status.
func (c *Config) StatusPollInterval() time.Duration {
	return time.Duration(c.StatusPollIntervalMS) * time.Millisecond
}

// BalancePollInterval is how often session feeds re-read balances.
func (c *Config) BalancePollInterval() time.Duration {
	return time.Duration(c.BalancePollIntervalMS) * time.Millisecond
}

// Origins splits AllowedOrigins into trimmed, non-empty entries.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// ClaimsCacheTTL is the Redis TTL of cached claim totals, zero for none.
func (c *Config) ClaimsCacheTTL() time.Duration {
	return time.Duration(c.ClaimsCacheTTLMS) * time.Millisecond
}
