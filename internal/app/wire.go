package service

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/fusion/internal/adapters/llm"
	"github.com/okian/fusion/internal/adapters/repository"
	"github.com/okian/fusion/internal/adapters/secrets"
	"github.com/okian/fusion/internal/config"
	evidence "github.com/okian/fusion/internal/domain/evidence"
	fusion "github.com/okian/fusion/internal/domain/fusion"
	inference "github.com/okian/fusion/internal/domain/inference"
	model "github.com/okian/fusion/internal/domain/model"
	ratelimit "github.com/okian/fusion/internal/domain/ratelimit"
	reasoning "github.com/okian/fusion/internal/domain/reasoning"
	scoring "github.com/okian/fusion/internal/domain/scoring"
	weights "github.com/okian/fusion/internal/domain/weights"
	"github.com/okian/fusion/pkg/logger"
	"github.com/okian/fusion/pkg/tokenizer"
)

// BuildOption customizes FromConfig.
type BuildOption func(*build)

type build struct {
	resolver secrets.Resolver
	evidence *repository.MemoryEvidence
	opts     []Option
}

// WithCredentialResolver overrides the resolver chosen from configuration.
func WithCredentialResolver(r secrets.Resolver) BuildOption {
	return func(b *build) { b.resolver = r }
}

// WithEvidenceStore uses an existing evidence store instead of the seed file.
func WithEvidenceStore(m *repository.MemoryEvidence) BuildOption {
	return func(b *build) { b.evidence = m }
}

// WithServiceOptions passes options through to New.
func WithServiceOptions(opts ...Option) BuildOption {
	return func(b *build) { b.opts = append(b.opts, opts...) }
}

// FromConfig assembles the full pipeline. Every error it returns wraps
// ErrStartup; the process must not serve requests after one.
func FromConfig(ctx context.Context, cfg *config.Config, bopts ...BuildOption) (*Service, error) {
	b := &build{}
	for _, o := range bopts {
		o(b)
	}
	// Options are applied to a bare service first so wiring sees the same clock and logger.
	base := New(nil, nil, nil, b.opts...)
	log := base.log

	var closers []func() error
	fail := func(err error) (*Service, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}

	ws, closeDB, err := buildWeights(ctx, cfg, base)
	if err != nil {
		return fail(err)
	}
	if closeDB != nil {
		closers = append(closers, closeDB)
	}

	store := b.evidence
	if store == nil {
		if store, err = buildEvidence(cfg); err != nil {
			return fail(err)
		}
	}
	if n := len(store.FeatureNames()); n > 0 && n != cfg.Model.Features {
		return fail(fmt.Errorf("seed names %d features, model expects %d", n, cfg.Model.Features))
	}

	collectors, err := buildCollectors(cfg, store)
	if err != nil {
		return fail(err)
	}
	engine, err := fusion.New(ws, collectors,
		fusion.WithCollectTimeout(cfg.Fusion.CollectTimeout),
		fusion.WithOptions(fusion.Options{
			TopK:            cfg.Fusion.TopK,
			SingleSourceCap: cfg.Fusion.SingleSourceCap,
			CoverageWeight:  cfg.Fusion.CoverageWeight,
			AgreementWeight: cfg.Fusion.AgreementWeight,
		}),
		fusion.WithLogger(log.Named("fusion")),
	)
	if err != nil {
		return fail(err)
	}

	gen, err := buildGenerator(ctx, cfg, b.resolver, base)
	if err != nil {
		return fail(err)
	}

	svc := New(engine, gen, ws, append([]Option{
		WithBatchConcurrency(cfg.Batch.Concurrency),
		WithMaxBatch(cfg.Batch.MaxStudents),
	}, b.opts...)...)
	svc.closers = closers
	log.Info(ctx, "assessment service ready",
		logger.Int("collectors", len(collectors)),
		logger.Int64("weightsVersion", ws.Version()),
		logger.Bool("generation", cfg.Generation.Enabled),
	)
	return svc, nil
}

func buildWeights(ctx context.Context, cfg *config.Config, base *Service) (*weights.Store, func() error, error) {
	def, err := parseMapping(cfg.DefaultWeights)
	if err != nil {
		return nil, nil, fmt.Errorf("default_weights: %w", err)
	}
	opts := []weights.Option{weights.WithClock(base.clock)}
	for rawSkill, raw := range cfg.Weights {
		skill, err := model.ParseSkill(rawSkill)
		if err != nil {
			return nil, nil, fmt.Errorf("weights: %w", err)
		}
		m, err := parseMapping(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("weights.%s: %w", skill, err)
		}
		opts = append(opts, weights.WithSkill(skill, m))
	}

	var db *repository.SQLiteWeights
	if cfg.WeightsDBPath != "" {
		if db, err = repository.OpenSQLiteWeights(cfg.WeightsDBPath); err != nil {
			return nil, nil, err
		}
		opts = append(opts, weights.WithPersister(db))
	}

	ws, err := weights.New(def, opts...)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, nil, err
	}
	if db == nil {
		return ws, nil, nil
	}
	if _, err := ws.Reload(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return ws, db.Close, nil
}

func parseMapping(raw map[string]float64) (weights.Mapping, error) {
	m := make(weights.Mapping, len(raw))
	for name, w := range raw {
		src, err := model.ParseSource(name)
		if err != nil {
			return nil, err
		}
		m[src] = w
	}
	return m, nil
}

func buildEvidence(cfg *config.Config) (*repository.MemoryEvidence, error) {
	if cfg.Evidence.SeedPath == "" {
		return repository.NewMemoryEvidence(), nil
	}
	return repository.LoadSeed(cfg.Evidence.SeedPath)
}

func buildCollectors(cfg *config.Config, store *repository.MemoryEvidence) ([]evidence.Collector, error) {
	ens := scoring.NewEnsemble(
		scoring.WithMembers(cfg.Model.Members),
		scoring.WithFeatureCount(cfg.Model.Features),
		scoring.WithSeed(cfg.Model.Seed),
		scoring.WithLatencyRange(
			time.Duration(cfg.Model.LatencyMinMS)*time.Millisecond,
			time.Duration(cfg.Model.LatencyMaxMS)*time.Millisecond,
		),
	)
	adapter, err := inference.New(ens,
		inference.WithMaxUncertainty(cfg.Model.MaxUncertainty),
		inference.WithConfidenceWeights(inference.ConfidenceWeights{
			Agreement:    cfg.Model.AgreementWeight,
			Extremity:    cfg.Model.ExtremityWeight,
			Completeness: cfg.Model.CompletenessWeight,
		}),
		inference.WithCacheSize(cfg.Model.CacheSize),
	)
	if err != nil {
		return nil, err
	}

	out := []evidence.Collector{evidence.NewModelCollector(store, adapter)}
	for _, src := range []model.Source{model.SourceLinguistic, model.SourceBehavioral} {
		c, err := evidence.NewAggregateCollector(src, store, evidence.WithMaxAggregateItems(cfg.Evidence.MaxAggregateItems))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	caps := map[model.Source]int{
		model.SourceHumanRating:  cfg.Evidence.HumanRatingCap,
		model.SourcePeerFeedback: cfg.Evidence.PeerRatingCap,
	}
	for _, src := range []model.Source{model.SourceHumanRating, model.SourcePeerFeedback} {
		c, err := evidence.NewRatingCollector(src, store, evidence.WithRatingCap(caps[src]))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func buildGenerator(ctx context.Context, cfg *config.Config, resolver secrets.Resolver, base *Service) (*reasoning.Generator, error) {
	g := cfg.Generation
	limiter, err := ratelimit.New(cfg.RateLimit.Resource, []ratelimit.Window{
		{Name: "short", Capacity: cfg.RateLimit.ShortCapacity, Period: cfg.RateLimit.ShortPeriod},
		{Name: "long", Capacity: cfg.RateLimit.LongCapacity, Period: cfg.RateLimit.LongPeriod},
	}, ratelimit.WithClock(base.clock))
	if err != nil {
		return nil, err
	}
	// Ranks load in the background; prompts are estimated until they arrive.
	counter := tokenizer.New(g.Encoding)
	counter.Warm()
	opts := []reasoning.Option{
		reasoning.WithLimiter(limiter),
		reasoning.WithCounter(counter),
		reasoning.WithBudget(g.MaxContextTokens, g.ReservedOutputTokens),
		reasoning.WithTruncationSteps(g.TruncationSteps),
		reasoning.WithTimeout(g.Timeout),
		reasoning.WithLogger(base.log.Named("reasoning")),
	}

	if g.Enabled {
		if resolver == nil {
			if resolver, err = credentialResolver(g); err != nil {
				return nil, err
			}
		}
		key, err := secrets.Require(ctx, resolver)
		if err != nil {
			return nil, err
		}
		client := llm.NewClient(key,
			llm.WithEndpoint(g.Endpoint),
			llm.WithModel(g.Model),
			llm.WithAPIVersion(g.APIVersion),
		)
		opts = append(opts, reasoning.WithTextGenerator(client))
		base.log.Info(ctx, "text generation enabled", logger.String("credential", resolver.Describe()))
	} else {
		base.log.Info(ctx, "text generation disabled; explanations use templates")
	}
	return reasoning.New(opts...)
}

func credentialResolver(g config.GenerationConfig) (secrets.Resolver, error) {
	if g.CredentialBackend == "vault" {
		r, err := secrets.NewVaultResolver(g.VaultAddr, "", g.VaultMount, g.CredentialRef, g.VaultKey)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return secrets.EnvResolver{Name: g.CredentialRef}, nil
}
