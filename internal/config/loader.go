package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variable names.
const (
	EnvPrefix = "FUSION_"
	EnvConfig = "FUSION_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if FUSION_CONFIG is set
//  3. env (prefix FUSION_, "__" separates nested keys)
func Load(ctx context.Context) (*Config, error) {
	return LoadFile(ctx, os.Getenv(EnvConfig))
}

// LoadFile is Load with an explicit YAML path; an empty path skips the file layer.
func LoadFile(_ context.Context, path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// FUSION_RATE_LIMIT__SHORT_CAPACITY -> rate_limit.short_capacity
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}
	// The config path and the API key share the prefix but are not settings.
	k.Delete("config")
	k.Delete("generation_api_key")

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Addr != "", "addr must not be empty")
	check(c.Fusion.CollectTimeout > 0, "fusion.collect_timeout must be positive")
	check(c.Fusion.TopK > 0, "fusion.top_k must be positive")
	check(c.Fusion.SingleSourceCap > 0 && c.Fusion.SingleSourceCap <= 1, "fusion.single_source_cap must be in (0,1]")
	check(c.Fusion.CoverageWeight > 0, "fusion.coverage_weight must be positive")
	check(c.Fusion.AgreementWeight >= 0, "fusion.agreement_weight must not be negative")
	check(c.Model.Members > 0 && c.Model.Features > 0, "model.members and model.features must be positive")
	check(c.Model.MaxUncertainty > 0, "model.max_uncertainty must be positive")
	check(c.Model.AgreementWeight >= 0 && c.Model.ExtremityWeight >= 0 && c.Model.CompletenessWeight >= 0,
		"model confidence weights must not be negative")
	check(c.Model.LatencyMaxMS >= c.Model.LatencyMinMS && c.Model.LatencyMinMS >= 0, "model latency range is invalid")
	check(c.Generation.ReservedOutputTokens >= 0 && c.Generation.ReservedOutputTokens < c.Generation.MaxContextTokens,
		"generation.reserved_output_tokens must be below generation.max_context_tokens")
	check(len(c.Generation.TruncationSteps) > 0, "generation.truncation_steps must not be empty")
	for i, s := range c.Generation.TruncationSteps {
		check(s > 0 && (i == 0 || s < c.Generation.TruncationSteps[i-1]),
			"generation.truncation_steps %v must be positive and strictly decreasing", c.Generation.TruncationSteps)
	}
	check(c.Generation.Timeout > 0, "generation.timeout must be positive")
	switch c.Generation.CredentialBackend {
	case "env", "vault":
	default:
		check(false, "generation.credential_backend %q must be env or vault", c.Generation.CredentialBackend)
	}
	check(c.RateLimit.ShortCapacity > 0 && c.RateLimit.ShortPeriod > 0, "rate_limit short window must be positive")
	check(c.RateLimit.LongCapacity > 0 && c.RateLimit.LongPeriod > 0, "rate_limit long window must be positive")
	check(c.Batch.Concurrency > 0, "batch.concurrency must be positive")
	check(c.Batch.MaxStudents > 0, "batch.max_students must be positive")
	check(c.Metrics.RefreshInterval > 0, "metrics.refresh_interval must be positive")
	for i, b := range c.Metrics.Buckets {
		check(i == 0 || b > c.Metrics.Buckets[i-1], "metrics.buckets %v must be strictly increasing", c.Metrics.Buckets)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
