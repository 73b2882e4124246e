package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/ucoin/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

const approver = "0x9999999999999999999999999999999999999999"

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.TelemetryTimeoutMS, convey.ShouldEqual, 15_000)
				convey.So(cfg.RedisAddr, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("UCOIN_ADDR", ":8080")
			_ = os.Setenv("UCOIN_QUEUE_SIZE", "128")
			_ = os.Setenv("UCOIN_TELEMETRY_CONCURRENCY", "3")
			_ = os.Setenv("UCOIN_APPROVER_ADDRESS", approver)
			_ = os.Setenv("UCOIN_TELEMETRY_TOKEN", "ghp_test")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 128)
				convey.So(cfg.TelemetryConcurrency, convey.ShouldEqual, 3)
				convey.So(cfg.ApproverAddress, convey.ShouldEqual, approver)
				convey.So(cfg.TelemetryToken, convey.ShouldEqual, "ghp_test")
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			tmpFile := createTempConfigFile(t, `
addr: ":9090"
ledger_path: "/tmp/ledger.db"
worker_count: 6
log_format: json
redis_addr: "localhost:6379"
claims_cache_ttl_ms: 60000
`)
			_ = os.Setenv("UCOIN_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.LedgerPath, convey.ShouldEqual, "/tmp/ledger.db")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 6)
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
				convey.So(cfg.RedisAddr, convey.ShouldEqual, "localhost:6379")
				convey.So(cfg.ClaimsCacheTTLMS, convey.ShouldEqual, 60000)
			})
		})

		convey.Convey("When both file and environment variables are set", func() {
			tmpFile := createTempConfigFile(t, `
addr: ":9090"
worker_count: 6
`)
			_ = os.Setenv("UCOIN_CONFIG", tmpFile)
			_ = os.Setenv("UCOIN_WORKER_COUNT", "12")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables win", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 12)
			})
		})

		convey.Convey("When the config file is missing", func() {
			_ = os.Setenv("UCOIN_CONFIG", "/nonexistent/ucoin.yaml")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the YAML is invalid", func() {
			tmpFile := createTempConfigFile(t, "addr: [unterminated")
			_ = os.Setenv("UCOIN_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})
	})
}

func TestConfigValidation(t *testing.T) {
	convey.Convey("Given invalid settings", t, func() {
		ctx := context.Background()

		cases := map[string]string{
			"UCOIN_ADDR":                  "",
			"UCOIN_APPROVER_ADDRESS":      "0x123",
			"UCOIN_SIGNER_ADDRESS":        "not-an-address",
			"UCOIN_LOG_FORMAT":            "xml",
			"UCOIN_TELEMETRY_TIMEOUT_MS":  "0",
			"UCOIN_TELEMETRY_CONCURRENCY": "-1",
			"UCOIN_QUEUE_SIZE":            "0",
		}
		for key, val := range cases {
			convey.Convey("When "+key+" is "+val, func() {
				if val == "" {
					tmpFile := createTempConfigFile(t, `addr: ""`)
					_ = os.Setenv("UCOIN_CONFIG", tmpFile)
				} else {
					_ = os.Setenv(key, val)
				}
				defer clearConfigEnvVars()

				_, err := config.Load(ctx)

				convey.Convey("Then validation fails", func() {
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}
	})
}

func clearConfigEnvVars() {
	for _, envVar := range []string{
		"UCOIN_CONFIG",
		"UCOIN_ADDR",
		"UCOIN_QUEUE_SIZE",
		"UCOIN_WORKER_COUNT",
		"UCOIN_TELEMETRY_CONCURRENCY",
		"UCOIN_TELEMETRY_TIMEOUT_MS",
		"UCOIN_TELEMETRY_TOKEN",
		"UCOIN_APPROVER_ADDRESS",
		"UCOIN_SIGNER_ADDRESS",
		"UCOIN_LOG_FORMAT",
		"UCOIN_ALLOWED_ORIGINS",
	} {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "ucoin-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpFile.Name()
}
