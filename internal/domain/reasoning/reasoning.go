// Package reasoning turns a fused result into a short explanation, using an
// external text generator when budget and rate limits allow and a
// deterministic template otherwise.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"time"

	model "github.com/okian/fusion/internal/domain/model"
	"github.com/okian/fusion/pkg/logger"
	"github.com/okian/fusion/pkg/metrics"
	"github.com/okian/fusion/pkg/tokenizer"
)

// Fallback causes.
const (
	CauseNoEvidence         = "no_evidence"
	CauseTokenBudget        = "token_budget"
	CauseRateLimited        = "rate_limited"
	CauseProviderTimeout    = "provider_timeout"
	CauseProviderError      = "provider_error"
	CauseProviderMalformed  = "provider_malformed"
	CauseGenerationDisabled = "generation_disabled"
)

// Default generator configuration constants.
const (
	DefaultMaxContextTokens = 8000
	DefaultReservedOutput   = 500
	DefaultTimeout          = 10 * time.Second
)

// DefaultTruncationSteps are the evidence counts tried in order.
func DefaultTruncationSteps() []int { return []int{5, 3, 1} }

// TextGenerator is the external text-completion dependency.
type TextGenerator interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Limiter admits or denies an outbound call without blocking.
type Limiter interface {
	TryAcquire() bool
}

// Option applies a configuration option to the Generator.
type Option func(*Generator)

// WithTextGenerator enables external generation. Without it every
// explanation comes from the fallback template.
func WithTextGenerator(tg TextGenerator) Option {
	return func(g *Generator) { g.client = tg }
}

// WithLimiter gates external calls.
func WithLimiter(l Limiter) Option {
	return func(g *Generator) { g.limiter = l }
}

// WithCounter sets the prompt token counter.
func WithCounter(c tokenizer.Counter) Option {
	return func(g *Generator) {
		if c != nil {
			g.counter = c
		}
	}
}

// WithBudget sets the model context size and the tokens reserved for output.
func WithBudget(maxContext, reservedOutput int) Option {
	return func(g *Generator) {
		g.maxContext = maxContext
		g.reservedOutput = reservedOutput
	}
}

// WithTruncationSteps sets the evidence counts tried in order.
func WithTruncationSteps(steps []int) Option {
	return func(g *Generator) {
		if len(steps) > 0 {
			g.steps = append([]int(nil), steps...)
		}
	}
}

// WithTimeout bounds one external call.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the generator logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.log = l
		}
	}
}

// Generator is the reasoning generator.
type Generator struct {
	client         TextGenerator
	limiter        Limiter
	counter        tokenizer.Counter
	maxContext     int
	reservedOutput int
	steps          []int
	timeout        time.Duration
	log            logger.Logger
}

// New creates a generator.
func New(opts ...Option) (*Generator, error) {
	g := &Generator{
		counter:        tokenizer.Heuristic{},
		maxContext:     DefaultMaxContextTokens,
		reservedOutput: DefaultReservedOutput,
		steps:          DefaultTruncationSteps(),
		timeout:        DefaultTimeout,
		log:            logger.Named("reasoning"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.reservedOutput < 0 || g.Budget() <= 0 {
		return nil, fmt.Errorf("%w: context %d, reserved %d", ErrInvalidBudget, g.maxContext, g.reservedOutput)
	}
	for i, s := range g.steps {
		if s <= 0 || (i > 0 && s >= g.steps[i-1]) {
			return nil, fmt.Errorf("%w: truncation steps %v must be positive and decreasing", ErrInvalidBudget, g.steps)
		}
	}
	return g, nil
}

// Budget is the largest prompt, in tokens, that may be sent.
func (g *Generator) Budget() int { return g.maxContext - g.reservedOutput }

// Estimate counts the tokens of the prompt built from the first n evidence items.
func (g *Generator) Estimate(res model.FusedResult, n int) int {
	p := BuildPrompt(res, n, g.reservedOutput)
	return g.counter.Count(p.System) + g.counter.Count(p.User)
}

// Generate explains res. It always returns an explanation; every failure on
// the external path selects the fallback template and is logged with its cause.
func (g *Generator) Generate(ctx context.Context, res model.FusedResult) model.Explanation {
	if res.NoEvidence || len(res.Evidence) == 0 {
		return g.fallback(ctx, res, CauseNoEvidence, nil)
	}
	if g.client == nil {
		return g.fallback(ctx, res, CauseGenerationDisabled, nil)
	}

	prompt, ok := g.fit(res)
	if !ok {
		return g.fallback(ctx, res, CauseTokenBudget, nil)
	}

	if g.limiter != nil && !g.limiter.TryAcquire() {
		return g.fallback(ctx, res, CauseRateLimited, nil)
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	start := time.Now()
	text, err := g.client.Complete(cctx, prompt)
	metrics.RecordProviderLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		cause := CauseProviderError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			cause = CauseProviderTimeout
		}
		return g.fallback(ctx, res, cause, err)
	}

	reasoningText, strengths, growth, err := ParseResponse(text)
	if err != nil {
		return g.fallback(ctx, res, CauseProviderMalformed, err)
	}

	metrics.RecordGeneration(string(model.ProvenanceExternal))
	return model.Explanation{
		ReasoningText:     reasoningText,
		Strengths:         strengths,
		GrowthSuggestions: growth,
		GeneratedBy:       model.ProvenanceExternal,
	}
}

// fit shrinks the evidence list through the truncation steps until the
// prompt fits the budget.
func (g *Generator) fit(res model.FusedResult) (Prompt, bool) {
	budget := g.Budget()
	last := -1
	for _, step := range g.steps {
		n := min(step, len(res.Evidence))
		if n == last {
			continue
		}
		if last >= 0 {
			metrics.RecordTruncation(n)
		}
		last = n
		p := BuildPrompt(res, n, g.reservedOutput)
		tokens := g.counter.Count(p.System) + g.counter.Count(p.User)
		if tokens <= budget {
			metrics.RecordPromptTokens(tokens)
			return p, true
		}
	}
	return Prompt{}, false
}

func (g *Generator) fallback(ctx context.Context, res model.FusedResult, cause string, err error) model.Explanation {
	metrics.RecordFallback(cause)
	metrics.RecordGeneration(string(model.ProvenanceFallback))
	fields := []logger.Field{
		logger.String("cause", cause),
		logger.String("student_id", res.StudentID),
		logger.String("skill", string(res.Skill)),
	}
	switch {
	case err != nil:
		g.log.Warn(ctx, "text generation failed, using fallback", append(fields, logger.Error(err))...)
	case cause == CauseTokenBudget || cause == CauseRateLimited:
		g.log.Info(ctx, "text generation skipped, using fallback", fields...)
	default:
		g.log.Debug(ctx, "using fallback explanation", fields...)
	}
	return Fallback(res, cause)
}
