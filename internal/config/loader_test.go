package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/fusion/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars(t)
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.Batch.Concurrency, convey.ShouldEqual, 32)
				convey.So(cfg.DefaultWeights, convey.ShouldResemble, config.DefaultSourceWeights())
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			clearConfigEnvVars(t)
			t.Setenv("FUSION_ADDR", ":8080")
			t.Setenv("FUSION_BATCH__CONCURRENCY", "8")
			t.Setenv("FUSION_RATE_LIMIT__SHORT_CAPACITY", "3")
			t.Setenv("FUSION_FUSION__COLLECT_TIMEOUT", "750ms")
			t.Setenv("FUSION_GENERATION__ENABLED", "true")

			cfg, err := config.Load(ctx)

			convey.Convey("Then nested keys should override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Batch.Concurrency, convey.ShouldEqual, 8)
				convey.So(cfg.RateLimit.ShortCapacity, convey.ShouldEqual, 3)
				convey.So(cfg.Fusion.CollectTimeout, convey.ShouldEqual, 750*time.Millisecond)
				convey.So(cfg.Generation.Enabled, convey.ShouldBeTrue)
				convey.So(cfg.RateLimit.LongCapacity, convey.ShouldEqual, 1000)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			clearConfigEnvVars(t)
			path := writeConfigFile(t, `
addr: ":9090"
log_level: debug
default_weights:
  model_inference: 0.6
  human_rating: 0.4
weights:
  empathy:
    human_rating: 0.5
    peer_feedback: 0.5
generation:
  truncation_steps: [4, 2]
  max_context_tokens: 4000
`)
			t.Setenv("FUSION_CONFIG", path)
			t.Setenv("FUSION_ADDR", ":7070")

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values should replace defaults and env should win", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
				convey.So(cfg.DefaultWeights, convey.ShouldResemble, map[string]float64{"model_inference": 0.6, "human_rating": 0.4})
				convey.So(cfg.Weights["empathy"]["peer_feedback"], convey.ShouldEqual, 0.5)
				convey.So(cfg.Generation.TruncationSteps, convey.ShouldResemble, []int{4, 2})
				convey.So(cfg.Generation.MaxContextTokens, convey.ShouldEqual, 4000)
			})
		})

		convey.Convey("When the config file does not exist", func() {
			clearConfigEnvVars(t)
			t.Setenv("FUSION_CONFIG", "/non/existent/file.yaml")
			_, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the addr is emptied", func() {
			clearConfigEnvVars(t)
			t.Setenv("FUSION_ADDR", "")
			_, err := config.Load(ctx)

			convey.Convey("Then validation should fail", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a number is malformed", func() {
			clearConfigEnvVars(t)
			t.Setenv("FUSION_BATCH__CONCURRENCY", "many")
			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})
	})
}

func clearConfigEnvVars(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, config.EnvPrefix) {
			t.Setenv(name, "")
			_ = os.Unsetenv(name)
		}
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
