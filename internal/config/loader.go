package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/okian/ucoin/internal/domain/model"
)

// Environment variable names.
const (
	EnvPrefix     = "UCOIN_"
	EnvConfigFile = "UCOIN_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if UCOIN_CONFIG is set
//  3. env (prefix UCOIN_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// UCOIN_QUEUE_SIZE -> queue_size. Underscores are kept to match the
	// flat koanf tags.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.LedgerPath == "":
		return fmt.Errorf("%w: ledger_path must not be empty", ErrInvalidConfig)
	case c.ApproverAddress != "" && !model.ValidAddress(c.ApproverAddress):
		return fmt.Errorf("%w: approver_address %q is not a wallet address", ErrInvalidConfig, c.ApproverAddress)
	case c.SignerAddress != "" && !model.ValidAddress(c.SignerAddress):
		return fmt.Errorf("%w: signer_address %q is not a wallet address", ErrInvalidConfig, c.SignerAddress)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json", ErrInvalidConfig)
	case c.TelemetryTimeoutMS <= 0:
		return fmt.Errorf("%w: telemetry_timeout_ms must be positive", ErrInvalidConfig)
	case c.TelemetryWindowDays <= 0:
		return fmt.Errorf("%w: telemetry_window_days must be positive", ErrInvalidConfig)
	case c.TelemetryConcurrency <= 0:
		return fmt.Errorf("%w: telemetry_concurrency must be positive", ErrInvalidConfig)
	case c.StatusPollIntervalMS <= 0 || c.BalancePollIntervalMS <= 0:
		return fmt.Errorf("%w: poll intervals must be positive", ErrInvalidConfig)
	case c.EventQueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.MaxLeaderboardLimit <= 0:
		return fmt.Errorf("%w: max_leaderboard_limit must be positive", ErrInvalidConfig)
	}
	return nil
}
