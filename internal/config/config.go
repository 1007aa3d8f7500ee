// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New returns a Config populated with defaults.
//   - Load layers a YAML file and FUSION_* environment variables on top.
//   - Validate reports every problem wrapped in ErrInvalidConfig.
package config

import (
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	Fusion FusionConfig `koanf:"fusion"`

	// DefaultWeights maps source names to weights for skills without their own mapping.
	DefaultWeights map[string]float64 `koanf:"default_weights"`

	// Weights maps skill -> source -> weight.
	Weights map[string]map[string]float64 `koanf:"weights"`

	// WeightsDBPath enables the SQLite weight document store when set.
	WeightsDBPath string `koanf:"weights_db_path"`

	Evidence   EvidenceConfig   `koanf:"evidence"`
	Model      ModelConfig      `koanf:"model"`
	Generation GenerationConfig `koanf:"generation"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	Batch      BatchConfig      `koanf:"batch"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// FusionConfig tunes the fusion engine.
type FusionConfig struct {
	CollectTimeout  time.Duration `koanf:"collect_timeout"`
	TopK            int           `koanf:"top_k"`
	SingleSourceCap float64       `koanf:"single_source_cap"`
	CoverageWeight  float64       `koanf:"coverage_weight"`
	AgreementWeight float64       `koanf:"agreement_weight"`
}

// EvidenceConfig configures collectors and their data.
type EvidenceConfig struct {
	// SeedPath points at a YAML file loaded into the in-memory evidence store.
	SeedPath          string `koanf:"seed_path"`
	HumanRatingCap    int    `koanf:"human_rating_cap"`
	PeerRatingCap     int    `koanf:"peer_rating_cap"`
	MaxAggregateItems int    `koanf:"max_aggregate_items"`
}

// ModelConfig configures the scoring ensemble and inference adapter.
type ModelConfig struct {
	Seed               int64   `koanf:"seed"`
	Members            int     `koanf:"members"`
	Features           int     `koanf:"features"`
	LatencyMinMS       int     `koanf:"latency_min_ms"`
	LatencyMaxMS       int     `koanf:"latency_max_ms"`
	MaxUncertainty     float64 `koanf:"max_uncertainty"`
	AgreementWeight    float64 `koanf:"agreement_weight"`
	ExtremityWeight    float64 `koanf:"extremity_weight"`
	CompletenessWeight float64 `koanf:"completeness_weight"`
	CacheSize          int     `koanf:"cache_size"`
}

// GenerationConfig configures the external text-generation dependency.
type GenerationConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Endpoint   string `koanf:"endpoint"`
	Model      string `koanf:"model"`
	APIVersion string `koanf:"api_version"`

	// CredentialBackend is "env" or "vault".
	CredentialBackend string `koanf:"credential_backend"`
	// CredentialRef is the env var name, or the vault secret path.
	CredentialRef string `koanf:"credential_ref"`
	VaultAddr     string `koanf:"vault_addr"`
	VaultMount    string `koanf:"vault_mount"`
	VaultKey      string `koanf:"vault_key"`

	MaxContextTokens     int           `koanf:"max_context_tokens"`
	ReservedOutputTokens int           `koanf:"reserved_output_tokens"`
	TruncationSteps      []int         `koanf:"truncation_steps"`
	Timeout              time.Duration `koanf:"timeout"`
	// Encoding names the tiktoken encoding used to estimate prompt size.
	Encoding string `koanf:"encoding"`
}

// RateLimitConfig configures the dual-window limiter for generation calls.
type RateLimitConfig struct {
	Resource      string        `koanf:"resource"`
	ShortCapacity int           `koanf:"short_capacity"`
	ShortPeriod   time.Duration `koanf:"short_period"`
	LongCapacity  int           `koanf:"long_capacity"`
	LongPeriod    time.Duration `koanf:"long_period"`
}

// BatchConfig bounds batch requests.
type BatchConfig struct {
	Concurrency int `koanf:"concurrency"`
	MaxStudents int `koanf:"max_students"`
}

// MetricsConfig shapes the Prometheus metrics exposed on /healthz.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
	// Prefix is prepended to every metric name after the subsystem.
	Prefix string            `koanf:"prefix"`
	Labels map[string]string `koanf:"labels"`
	// Buckets replaces the latency histogram buckets, in milliseconds.
	Buckets []float64 `koanf:"buckets"`
	// RefreshInterval is how often runtime gauges are sampled.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// New creates a Config with defaults. Maps and slices are left empty here and
// filled by ApplyDefaults so that loaded values replace rather than merge.
func New() *Config {
	return &Config{
		LogLevel: "info",
		Addr:     ":9080",
		Fusion: FusionConfig{
			CollectTimeout:  2 * time.Second,
			TopK:            5,
			SingleSourceCap: 0.5,
			CoverageWeight:  0.5,
			AgreementWeight: 0.5,
		},
		Evidence: EvidenceConfig{
			HumanRatingCap:    5,
			PeerRatingCap:     10,
			MaxAggregateItems: 3,
		},
		Model: ModelConfig{
			Seed:               42,
			Members:            7,
			Features:           12,
			MaxUncertainty:     0.25,
			AgreementWeight:    0.5,
			ExtremityWeight:    0.3,
			CompletenessWeight: 0.2,
			CacheSize:          1024,
		},
		Generation: GenerationConfig{
			Enabled:              false,
			Endpoint:             "https://api.anthropic.com/v1/messages",
			Model:                "claude-sonnet-4-20250514",
			APIVersion:           "2023-06-01",
			CredentialBackend:    "env",
			CredentialRef:        "FUSION_GENERATION_API_KEY",
			VaultMount:           "secret",
			VaultKey:             "api_key",
			MaxContextTokens:     8000,
			ReservedOutputTokens: 500,
			Timeout:              10 * time.Second,
			Encoding:             "cl100k_base",
		},
		RateLimit: RateLimitConfig{
			Resource:      "text-generation",
			ShortCapacity: 50,
			ShortPeriod:   time.Minute,
			LongCapacity:  1000,
			LongPeriod:    time.Hour,
		},
		Batch: BatchConfig{
			Concurrency: 32,
			MaxStudents: 500,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			Namespace:       "fusion",
			Subsystem:       "assessment",
			RefreshInterval: 10 * time.Second,
		},
	}
}

// DefaultSourceWeights is the built-in global mapping.
func DefaultSourceWeights() map[string]float64 {
	return map[string]float64{
		"model_inference": 0.35,
		"linguistic":      0.15,
		"behavioral":      0.15,
		"human_rating":    0.25,
		"peer_feedback":   0.10,
	}
}

// ApplyDefaults fills collection fields left empty.
func (c *Config) ApplyDefaults() {
	if len(c.DefaultWeights) == 0 {
		c.DefaultWeights = DefaultSourceWeights()
	}
	if len(c.Generation.TruncationSteps) == 0 {
		c.Generation.TruncationSteps = []int{5, 3, 1}
	}
}
